package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunHelp(t *testing.T) {
	require.Equal(t, exitOK, run([]string{"--help"}))
}

func TestRunUnknownFlag(t *testing.T) {
	require.Equal(t, exitConfig, run([]string{"--no-such-flag"}))
}

func TestRunMissingConfig(t *testing.T) {
	// No REPLICATE_SETS anywhere: validation fails.
	require.Equal(t, exitConfig, run([]string{}))
}

func TestLoadConfigPositionalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.sh")
	require.NoError(t, os.WriteFile(path, []byte("REPLICATE_SETS=p1/a:p2/backups\nSNAP_KEEP=3\n"), 0o644))

	conf, err := loadConfig("", []string{path})
	require.NoError(t, err)
	require.Equal(t, "p1/a:p2/backups", conf.ReplicateSets)
	require.Equal(t, 3, conf.SnapKeep)
}

func TestLoadConfigFlagWins(t *testing.T) {
	dir := t.TempDir()
	flagged := filepath.Join(dir, "flagged.sh")
	positional := filepath.Join(dir, "positional.sh")
	require.NoError(t, os.WriteFile(flagged, []byte("TAG=fromflag\n"), 0o644))
	require.NoError(t, os.WriteFile(positional, []byte("TAG=frompositional\n"), 0o644))

	conf, err := loadConfig(flagged, []string{positional})
	require.NoError(t, err)
	require.Equal(t, "fromflag", conf.Tag)
}

func TestReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.False(t, readable(path))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.True(t, readable(path))
	require.False(t, readable(filepath.Dir(path)))
}
