package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def, cfg)
	assert.Equal(t, 1316, cfg.ListenPort)
	assert.Equal(t, 3, cfg.TriggerMode)
	assert.Equal(t, 8, cfg.WorkerThreads)
	assert.True(t, cfg.LogEnabled)
}

func TestTriggerBits(t *testing.T) {
	tests := []struct {
		mode     int
		connET   bool
		listenET bool
	}{
		{0, false, false},
		{1, true, false},
		{2, false, true},
		{3, true, true},
	}
	for _, tt := range tests {
		cfg := Config{TriggerMode: tt.mode}
		assert.Equal(t, tt.connET, cfg.ConnET(), "mode %d", tt.mode)
		assert.Equal(t, tt.listenET, cfg.ListenET(), "mode %d", tt.mode)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webserv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_port: 8080\n"+
			"trigger_mode: 1\n"+
			"idle_timeout_ms: 5000\n"+
			"sql_db: appdb\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.ListenPort)
	assert.Equal(t, 1, cfg.TriggerMode)
	assert.Equal(t, 5000, cfg.IdleTimeoutMs)
	assert.Equal(t, "appdb", cfg.SQLDb)
	// untouched keys keep their defaults
	assert.Equal(t, Default().WorkerThreads, cfg.WorkerThreads)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("WEBSERV_LISTEN_PORT", "9999")
	t.Setenv("WEBSERV_LOG_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.ListenPort)
	assert.False(t, cfg.LogEnabled)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		yaml string
	}{
		{"bad trigger mode", "trigger_mode: 7\n"},
		{"bad log level", "log_level: 9\n"},
		{"bad port", "listen_port: 70000\n"},
		{"bad workers", "worker_threads: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
