// Package http serves the replication status over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/tschettervictor/xync/job"
)

const shutdownTimeout = 5 * time.Second

// Server publishes the latest run report.
type Server struct {
	router *httprouter.Router
	logger *logrus.Entry

	mu     sync.RWMutex
	report *job.Report
}

// NewServer creates a status server with its routes registered.
func NewServer(logger *logrus.Entry) *Server {
	s := &Server{
		router: httprouter.New(),
		logger: logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/report", s.handleReport)
}

// SetReport publishes the result of the latest run.
func (s *Server) SetReport(report *job.Report) {
	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
}

func (s *Server) latestReport() *job.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Serve listens on addr until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	socket, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.WithError(err).Errorf("http.Server.Serve: Failed to open socket on %s", addr)
		return err
	}
	s.logger.Infof("http.Server.Serve: Serving on %s", addr)

	srv := &http.Server{
		Handler: s.router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err = srv.Serve(socket)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	report := s.latestReport()
	if report == nil {
		http.Error(w, "no runs completed yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(report.Summary() + "\n"))
}

func (s *Server) handleReport(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	report := s.latestReport()
	if report == nil {
		http.Error(w, "no runs completed yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(struct {
		Status string `json:"Status"`
		*job.Report
	}{
		Status: report.Status(),
		Report: report,
	})
	if err != nil {
		s.logger.WithError(err).WithField("URL", req.URL.String()).
			Error("http.Server.handleReport: Error encoding report")
	}
}
