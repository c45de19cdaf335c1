// Command xync replicates ZFS datasets to local or remote destinations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tschettervictor/xync/config"
	xynchttp "github.com/tschettervictor/xync/http"
	"github.com/tschettervictor/xync/job"
	"github.com/tschettervictor/xync/lock"
	"github.com/tschettervictor/xync/logging"
	"github.com/tschettervictor/xync/zfs"
)

const progName = "xync"

// Exit codes: 0 success, 1 configuration or validation error, 128 lock
// contention, precondition failure or signal termination.
const (
	exitOK     = 0
	exitConfig = 1
	exitLocked = 128
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		configFile string
		showStatus bool
		daemon     bool
	)

	ret := exitOK
	cmd := &cobra.Command{
		Use:   progName + " [config-file]",
		Short: "Replicate ZFS datasets to local or remote destinations",
		Long: `xync periodically snapshots a set of source datasets, incrementally
transfers the changes to their paired destinations (local or over SSH) and
prunes obsolete snapshots on both sides.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			var err error
			ret, err = execute(configFile, args, showStatus, daemon)
			return err
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the configuration file")
	cmd.Flags().BoolVarP(&showStatus, "status", "s", false, "print the last line of the most recent log file and exit")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "keep running and replicate on the configured SCHEDULE")
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		if ret == exitOK {
			ret = exitConfig
		}
	}
	return ret
}

func execute(configFile string, args []string, showStatus, daemon bool) (int, error) {
	conf, err := loadConfig(configFile, args)
	if err != nil {
		return exitConfig, err
	}

	if showStatus {
		line, err := logging.LastStatusLine(conf.LogBase)
		if err != nil {
			return exitConfig, err
		}
		fmt.Println(line)
		return exitOK, nil
	}

	if err := conf.Validate(); err != nil {
		return exitConfig, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if daemon {
		return runDaemon(ctx, conf)
	}
	_, code, err := runOnce(ctx, conf)
	return code, err
}

// loadConfig resolves the config file: the -c flag, then a readable
// positional argument, then config.sh next to the executable.
func loadConfig(configFile string, args []string) (*config.Config, error) {
	path := configFile
	if path == "" && len(args) == 1 && readable(args[0]) {
		path = args[0]
	}
	if path == "" {
		if p := defaultConfigPath(); readable(p) {
			path = p
		}
	}

	var (
		conf *config.Config
		err  error
	)
	if path != "" {
		conf, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		conf = config.New()
	}
	if err := conf.LoadEnv(); err != nil {
		return nil, err
	}
	return conf, nil
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	info, err := f.Stat()
	_ = f.Close()
	return err == nil && !info.IsDir()
}

func defaultConfigPath() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "config.sh")
}

// runOnce performs a single replication pass under the snapshot lock.
func runOnce(ctx context.Context, conf *config.Config) (*job.Report, int, error) {
	// Macros expand per run so %NOW% style tags stay fresh in daemon mode.
	runConf := *conf
	runConf.ExpandMacros(time.Now())

	logger, closeLogs, err := logging.Setup(&runConf, progName)
	if err != nil {
		return nil, exitConfig, err
	}
	defer func() {
		_ = closeLogs()
	}()

	if err := logging.Rotate(runConf.LogBase, runConf.LogKeep); err != nil {
		logger.WithError(err).Warn("xync: Error rotating log files")
	}

	entry := logger.WithField("tag", runConf.Tag)

	snapLock, err := lock.Acquire(runConf.LockDir, "snapshot")
	if err != nil {
		entry.WithError(err).Error("xync: Cannot acquire snapshot lock")
		return nil, exitLocked, nil
	}
	defer func() {
		if err := snapLock.Release(); err != nil {
			entry.WithError(err).Error("xync: Error releasing snapshot lock")
		}
	}()

	runner := job.NewRunner(&runConf, newManager(&runConf, entry), newExecutor(&runConf, entry), entry)
	report, err := runner.Run(ctx)

	switch {
	case ctx.Err() != nil:
		entry.Error(report.SummaryStatus("ERROR: operation exited unexpectedly"))
		return report, exitLocked, nil
	case err != nil:
		entry.WithError(err).Error(report.SummaryStatus("ERROR"))
		return report, exitLocked, nil
	}

	entry.WithFields(logrus.Fields{
		"started":  report.StartedAt,
		"finished": report.FinishedAt,
		"duration": report.FinishedAt.Sub(report.StartedAt),
	}).Info(report.Summary())
	return report, exitOK, nil
}

func newExecutor(conf *config.Config, entry *logrus.Entry) *zfs.Executor {
	executor := zfs.NewExecutor(entry)
	if conf.SSHBinary != "" {
		executor.SSHBinary = conf.SSHBinary
	}
	executor.SSHOptions = strings.Fields(conf.SSHOptions)
	return executor
}

func newManager(conf *config.Config, entry *logrus.Entry) *zfs.Manager {
	manager := zfs.NewManager(newExecutor(conf, entry))
	manager.SendOptions = strings.Fields(conf.SendOptions)
	manager.RecvOptions = strings.Fields(conf.RecvOptions)
	if conf.IncrementalOption != "" {
		manager.IncrementalOption = conf.IncrementalOption
	}
	manager.BytesPerSecond = conf.SendSpeedLimit
	return manager
}

// runDaemon replicates on the configured cron SCHEDULE until a signal
// arrives, optionally serving the status surface.
func runDaemon(ctx context.Context, conf *config.Config) (int, error) {
	if strings.TrimSpace(conf.Schedule) == "" {
		return exitConfig, errors.New("daemon mode requires SCHEDULE to be set")
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	entry := logger.WithField("schedule", conf.Schedule)

	var statusServer *xynchttp.Server
	if conf.StatusAddr != "" {
		statusServer = xynchttp.NewServer(entry)
		go func() {
			if err := statusServer.Serve(ctx, conf.StatusAddr); err != nil {
				entry.WithError(err).Error("xync: Status server failed")
			}
		}()
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(conf.Schedule, func() {
		report, _, err := runOnce(ctx, conf)
		if err != nil {
			entry.WithError(err).Error("xync: Scheduled run failed")
			return
		}
		if statusServer != nil && report != nil {
			statusServer.SetReport(report)
		}
	})
	if err != nil {
		return exitConfig, fmt.Errorf("invalid SCHEDULE %q: %w", conf.Schedule, err)
	}

	entry.Info("xync: Daemon running")
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	entry.Info("xync: Daemon stopped")

	return exitOK, nil
}
