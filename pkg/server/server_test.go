package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protomock/pkg/config"
)

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0644))
}

func TestBuildSnapshot(t *testing.T) {
	cfg := testConfig(t)

	snap, err := BuildSnapshot(cfg)
	require.NoError(t, err)

	assert.Contains(t, snap.Registry.ServiceNames(), "echo.EchoService")
	assert.Equal(t, 3, snap.Rules.Len())
	assert.Nil(t, snap.ReflectionSet)
	assert.NotNil(t, snap.Dispatcher)
}

// Property: вызовы в полёте видят свой снапшот всю жизнь вызова
func TestReload_SwapsSnapshotAtomically(t *testing.T) {
	dir := t.TempDir()
	protoDir := filepath.Join(dir, "protos")
	ruleDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(protoDir, 0755))
	require.NoError(t, os.MkdirAll(ruleDir, 0755))

	copyFile(t, "testdata/protos/echo.proto", filepath.Join(protoDir, "echo.proto"))
	copyFile(t, "testdata/rules/echo.EchoService.Echo.yaml", filepath.Join(ruleDir, "echo.EchoService.Echo.yaml"))

	cfg := testConfig(t)
	cfg.Assets.ProtoDir = protoDir
	cfg.Assets.RuleDir = ruleDir

	srv, err := New(cfg)
	require.NoError(t, err)

	before := srv.Snapshot()
	require.Equal(t, 1, before.Rules.Len())

	// Появилось новое правило
	copyFile(t, "testdata/rules/echo.EchoService.Collect.yaml",
		filepath.Join(ruleDir, "echo.EchoService.Collect.yaml"))
	require.NoError(t, srv.Reload())

	after := srv.Snapshot()
	assert.NotSame(t, before, after)
	assert.Equal(t, 2, after.Rules.Len())

	// Старый снапшот не изменился: вызов в полёте видит прежний индекс
	assert.Equal(t, 1, before.Rules.Len())
	_, ok := before.Rules.Get("echo.echoservice.collect")
	assert.False(t, ok)
}

func TestReload_HandlerServesNewSnapshot(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg)
	require.NoError(t, err)

	before := srv.Snapshot()
	require.NoError(t, srv.Reload())

	assert.NotSame(t, before, srv.Snapshot())
	assert.NotNil(t, srv.Handler())
}

func TestLoadTLS_FallbackOnMissingFiles(t *testing.T) {
	cfg := testConfig(t)
	srv := &Server{cfg: cfg, connect: &swapHandler{}}

	tlsCfg := srv.loadTLS(config.TLSConfig{Enabled: true, CertFile: "missing-cert.pem", KeyFile: "missing-key.pem"})
	assert.Nil(t, tlsCfg, "unusable certificates must fall back to plaintext")

	tlsCfg = srv.loadTLS(config.TLSConfig{})
	assert.Nil(t, tlsCfg, "disabled TLS returns nil")
}
