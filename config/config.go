// Package config loads, validates and expands the replication configuration.
//
// Configuration values come from three sources, later ones winning:
// built-in defaults, a config file (YAML or KEY=value shell style), and the
// process environment. Every value is addressed by the same name in all
// three.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultSnapPattern    = "@autorep-"
	defaultSnapKeep       = 2
	defaultSyslogFacility = "user"
	defaultTag            = "%MOY%%DOM%%CYR%_%NOW%"
	defaultLogFile        = "autorep-%TAG%.log"
	defaultLogKeep        = 10
	defaultHostCheck      = "ping -c1 -q -W2 %HOST%"
	defaultIncrOption     = "-I"
	defaultSendOptions    = "-p"
	defaultRecvOptions    = "-F -v"
	defaultSSHBinary      = "ssh"
)

// Config is the complete configuration surface.
type Config struct {
	ReplicateSets       string `json:"REPLICATE_SETS" yaml:"REPLICATE_SETS"`
	AllowRootDatasets   bool   `json:"ALLOW_ROOT_DATASETS" yaml:"ALLOW_ROOT_DATASETS"`
	AllowReconciliation bool   `json:"ALLOW_RECONCILIATION" yaml:"ALLOW_RECONCILIATION"`
	RecurseChildren     bool   `json:"RECURSE_CHILDREN" yaml:"RECURSE_CHILDREN"`

	SnapPattern string `json:"SNAP_PATTERN" yaml:"SNAP_PATTERN"`
	SnapKeep    int    `json:"SNAP_KEEP" yaml:"SNAP_KEEP"`
	Tag         string `json:"TAG" yaml:"TAG"`

	Syslog         bool   `json:"SYSLOG" yaml:"SYSLOG"`
	SyslogFacility string `json:"SYSLOG_FACILITY" yaml:"SYSLOG_FACILITY"`
	LogFile        string `json:"LOG_FILE" yaml:"LOG_FILE"`
	LogBase        string `json:"LOG_BASE" yaml:"LOG_BASE"`
	LogKeep        int    `json:"LOG_KEEP" yaml:"LOG_KEEP"`

	HostCheck         string `json:"HOST_CHECK" yaml:"HOST_CHECK"`
	IncrementalOption string `json:"ZFS_INCR_OPT" yaml:"ZFS_INCR_OPT"`
	SendOptions       string `json:"ZFS_SEND_OPTS" yaml:"ZFS_SEND_OPTS"`
	RecvOptions       string `json:"ZFS_RECV_OPTS" yaml:"ZFS_RECV_OPTS"`

	SSHBinary      string `json:"SSH_BINARY" yaml:"SSH_BINARY"`
	SSHOptions     string `json:"SSH_OPTS" yaml:"SSH_OPTS"`
	SendSpeedLimit int64  `json:"SEND_SPEED_LIMIT" yaml:"SEND_SPEED_LIMIT"`

	StatusAddr string `json:"STATUS_ADDR" yaml:"STATUS_ADDR"`
	Schedule   string `json:"SCHEDULE" yaml:"SCHEDULE"`
	LockDir    string `json:"LOCK_DIR" yaml:"LOCK_DIR"`
}

// New returns a Config with all defaults applied.
func New() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults applies all the default values to the configuration.
func (c *Config) ApplyDefaults() {
	c.SnapPattern = defaultSnapPattern
	c.SnapKeep = defaultSnapKeep
	c.Tag = defaultTag

	c.Syslog = true
	c.SyslogFacility = defaultSyslogFacility
	c.LogFile = defaultLogFile
	c.LogKeep = defaultLogKeep

	c.HostCheck = defaultHostCheck
	c.IncrementalOption = defaultIncrOption
	c.SendOptions = defaultSendOptions
	c.RecvOptions = defaultRecvOptions

	c.SSHBinary = defaultSSHBinary
	c.LockDir = os.TempDir()
}

// Load reads the config file at path on top of the defaults.
// Files ending in .yaml or .yml are parsed as YAML, everything else as
// KEY=value shell style.
func Load(path string) (*Config, error) {
	c := New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	default:
		if err := c.loadShell(string(data)); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}
	return c, nil
}

// names lists every value addressable via the environment.
var names = []string{
	"REPLICATE_SETS", "ALLOW_ROOT_DATASETS", "ALLOW_RECONCILIATION",
	"RECURSE_CHILDREN", "SNAP_PATTERN", "SNAP_KEEP", "TAG",
	"SYSLOG", "SYSLOG_FACILITY", "LOG_FILE", "LOG_BASE", "LOG_KEEP",
	"HOST_CHECK", "ZFS_INCR_OPT", "ZFS_SEND_OPTS", "ZFS_RECV_OPTS",
	"SSH_BINARY", "SSH_OPTS", "SEND_SPEED_LIMIT",
	"STATUS_ADDR", "SCHEDULE", "LOCK_DIR",
}

// LoadEnv overrides values from the process environment.
func (c *Config) LoadEnv() error {
	for _, name := range names {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := c.set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// loadShell parses a KEY=value config file, the original config.sh format.
// Blank lines and #-comments are skipped, an `export ` prefix and single or
// double quotes around values are stripped, unknown keys are ignored.
func (c *Config) loadShell(data string) error {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if !knownName(key) {
			continue
		}
		if err := c.set(key, value); err != nil {
			return err
		}
	}
	return nil
}

func knownName(key string) bool {
	for _, name := range names {
		if name == key {
			return true
		}
	}
	return false
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "REPLICATE_SETS":
		c.ReplicateSets = value
	case "ALLOW_ROOT_DATASETS":
		c.AllowRootDatasets = parseBool(value)
	case "ALLOW_RECONCILIATION":
		c.AllowReconciliation = parseBool(value)
	case "RECURSE_CHILDREN":
		c.RecurseChildren = parseBool(value)
	case "SNAP_PATTERN":
		c.SnapPattern = value
	case "SNAP_KEEP":
		c.SnapKeep, err = strconv.Atoi(value)
	case "TAG":
		c.Tag = value
	case "SYSLOG":
		c.Syslog = parseBool(value)
	case "SYSLOG_FACILITY":
		c.SyslogFacility = value
	case "LOG_FILE":
		c.LogFile = value
	case "LOG_BASE":
		c.LogBase = value
	case "LOG_KEEP":
		c.LogKeep, err = strconv.Atoi(value)
	case "HOST_CHECK":
		c.HostCheck = value
	case "ZFS_INCR_OPT":
		c.IncrementalOption = value
	case "ZFS_SEND_OPTS":
		c.SendOptions = value
	case "ZFS_RECV_OPTS":
		c.RecvOptions = value
	case "SSH_BINARY":
		c.SSHBinary = value
	case "SSH_OPTS":
		c.SSHOptions = value
	case "SEND_SPEED_LIMIT":
		c.SendSpeedLimit, err = strconv.ParseInt(value, 10, 64)
	case "STATUS_ADDR":
		c.StatusAddr = value
	case "SCHEDULE":
		c.Schedule = value
	case "LOCK_DIR":
		c.LockDir = value
	}
	if err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ReplicateSets) == "" {
		return errors.New("REPLICATE_SETS must be set")
	}
	if c.SnapKeep < 2 {
		return fmt.Errorf("SNAP_KEEP must be at least 2, got %d", c.SnapKeep)
	}
	if strings.TrimSpace(c.SnapPattern) == "" {
		return errors.New("SNAP_PATTERN must not be empty")
	}
	if strings.TrimSpace(c.Tag) == "" {
		return errors.New("TAG must not be empty")
	}
	return nil
}

// Pairs returns the whitespace-separated pair specs of REPLICATE_SETS.
func (c *Config) Pairs() []string {
	return strings.Fields(c.ReplicateSets)
}

// SnapshotPrefix is the managed snapshot name prefix, SNAP_PATTERN without
// its leading @.
func (c *Config) SnapshotPrefix() string {
	return strings.TrimPrefix(c.SnapPattern, "@")
}

// SnapshotName is the managed snapshot name created by this run.
func (c *Config) SnapshotName() string {
	return c.SnapshotPrefix() + c.Tag
}
