package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadForTest(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewLoader(WithConfigPaths(filepath.Join(t.TempDir(), "missing.yaml"))).Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadForTest(t)

	assert.Equal(t, "protomock", cfg.App.Name)
	assert.True(t, cfg.Connect.Enabled)
	assert.Equal(t, 4771, cfg.Connect.Port)
	assert.Equal(t, 4770, cfg.GRPC.PortPlaintext)
	assert.True(t, cfg.Validation.Enabled)
	assert.Equal(t, "auto", cfg.Validation.Source)
	assert.Equal(t, "per_message", cfg.Validation.Mode)
	assert.False(t, cfg.Validation.CELMessageEnabled())
	assert.Equal(t, 86400, cfg.Connect.CORS.MaxAge)
}

func TestLoad_BareEnvKeys(t *testing.T) {
	t.Setenv("CONNECT_PORT", "9444")
	t.Setenv("CONNECT_ENABLED", "false")
	t.Setenv("GRPC_PORT_PLAINTEXT", "9445")
	t.Setenv("VALIDATION_MODE", "aggregate")
	t.Setenv("VALIDATION_CEL_MESSAGE", "experimental")
	t.Setenv("CONNECT_CORS_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("PROTO_DIR", "/tmp/protos")

	cfg := loadForTest(t)

	assert.Equal(t, 9444, cfg.Connect.Port)
	assert.False(t, cfg.Connect.Enabled)
	assert.Equal(t, 9445, cfg.GRPC.PortPlaintext)
	assert.Equal(t, "aggregate", cfg.Validation.Mode)
	assert.True(t, cfg.Validation.CELMessageEnabled())
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Connect.CORS.AllowedOrigins)
	assert.Equal(t, "/tmp/protos", cfg.Assets.ProtoDir)
}

func TestLoad_PrefixedEnvKeys(t *testing.T) {
	t.Setenv("PROTOMOCK_LOG_LEVEL", "debug")

	cfg := loadForTest(t)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connect:\n  port: 5555\nlog:\n  level: warn\n"), 0644))

	cfg, err := NewLoader(WithConfigPaths(path)).Load()
	require.NoError(t, err)

	assert.Equal(t, 5555, cfg.Connect.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connect:\n  port: 5555\n"), 0644))
	t.Setenv("CONNECT_PORT", "6666")

	cfg, err := NewLoader(WithConfigPaths(path)).Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Connect.Port)
}

func TestValidate_BadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad_port",
			mutate:  func(c *Config) { c.Connect.Port = 70000 },
			wantErr: "connect.port",
		},
		{
			name:    "bad_validation_source",
			mutate:  func(c *Config) { c.Validation.Source = "magic" },
			wantErr: "validation.source",
		},
		{
			name:    "bad_validation_mode",
			mutate:  func(c *Config) { c.Validation.Mode = "sometimes" },
			wantErr: "validation.mode",
		},
		{
			name:    "bad_log_level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadForTest(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
