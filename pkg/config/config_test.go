package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFillsDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dataDir: /var/lib/nexus
defaultNS: app
defaultDB: main
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/nexus", cfg.DataDir)
	require.Equal(t, "app", cfg.DefaultNS)
	require.Equal(t, "main", cfg.DefaultDB)
	require.Equal(t, Defaults().ListenAddr, cfg.ListenAddr)
	require.Equal(t, Defaults().SlowQueryThreshold, cfg.SlowQueryThreshold)
}

func TestLoadRejectsMissingDataDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dataDir: ""
listenAddr: "127.0.0.1:8000"
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLogLevelFallsBackToInfo(t *testing.T) {
	cfg := Defaults()
	cfg.Log.Level = "bogus"
	require.Equal(t, "info", string(cfg.LogLevel()))
}
