// Package logging wires progress output to stderr, a per-run log file and
// syslog, and manages the log directory.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/syslog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	lSyslog "github.com/sirupsen/logrus/hooks/syslog"

	"github.com/tschettervictor/xync/config"
)

// FilePrefix is the name prefix of the log files this package manages.
const FilePrefix = "autorep-"

var facilities = map[string]syslog.Priority{
	"kern":   syslog.LOG_KERN,
	"user":   syslog.LOG_USER,
	"mail":   syslog.LOG_MAIL,
	"daemon": syslog.LOG_DAEMON,
	"auth":   syslog.LOG_AUTH,
	"syslog": syslog.LOG_SYSLOG,
	"cron":   syslog.LOG_CRON,
	"local0": syslog.LOG_LOCAL0,
	"local1": syslog.LOG_LOCAL1,
	"local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3,
	"local4": syslog.LOG_LOCAL4,
	"local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6,
	"local7": syslog.LOG_LOCAL7,
}

// Setup builds the logger: stderr always, LOG_BASE/LOG_FILE appended when
// LOG_BASE is set, syslog forwarded when SYSLOG=1. The returned close
// function releases the log file.
func Setup(conf *config.Config, tag string) (*logrus.Logger, func() error, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	closer := func() error { return nil }
	if conf.LogBase != "" {
		if err := os.MkdirAll(conf.LogBase, 0o755); err != nil {
			return nil, nil, fmt.Errorf("error creating log directory %s: %w", conf.LogBase, err)
		}
		path := filepath.Join(conf.LogBase, conf.LogFile)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening log file %s: %w", path, err)
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
		closer = f.Close
	}

	if conf.Syslog {
		priority, ok := facilities[strings.ToLower(conf.SyslogFacility)]
		if !ok {
			_ = closer()
			return nil, nil, fmt.Errorf("unknown syslog facility %q", conf.SyslogFacility)
		}
		hook, err := lSyslog.NewSyslogHook("", "", priority|syslog.LOG_INFO, tag)
		if err != nil {
			// No syslog daemon is not fatal, stderr and the log file remain.
			logger.WithError(err).Warn("logging.Setup: Cannot connect to syslog")
		} else {
			logger.AddHook(hook)
		}
	}

	return logger, closer, nil
}

// Rotate keeps the keep newest autorep-* files in base and removes the rest.
func Rotate(base string, keep int) error {
	if base == "" || keep <= 0 {
		return nil
	}
	files, err := managedFiles(base)
	if err != nil {
		return err
	}
	if len(files) <= keep {
		return nil
	}
	for _, path := range files[keep:] {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("error removing old log file %s: %w", path, err)
		}
	}
	return nil
}

// LastStatusLine returns the final line of the most recent log file in base.
func LastStatusLine(base string) (string, error) {
	if base == "" {
		return "", errors.New("LOG_BASE is not configured")
	}
	files, err := managedFiles(base)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no %s* log files in %s", FilePrefix, base)
	}

	data, err := os.ReadFile(files[0])
	if err != nil {
		return "", fmt.Errorf("error reading log file %s: %w", files[0], err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	return lines[len(lines)-1], nil
}

// managedFiles lists the autorep-* files in base, newest first.
func managedFiles(base string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(base, FilePrefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("error listing log files in %s: %w", base, err)
	}

	type logFile struct {
		path    string
		modTime int64
	}
	files := make([]logFile, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, logFile{path: path, modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime > files[j].modTime
	})

	paths := make([]string, len(files))
	for i := range files {
		paths[i] = files[i].path
	}
	return paths, nil
}
