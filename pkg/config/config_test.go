package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
APP_ENV: test
DATABASE:
  TYPE: sqlite
  PATH: ":memory:"
  QUERY_TIMEOUT: 2s
ACCESS:
  SIGN_IN_PATH: /login
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("HTTP_SERVER_ADDR", "9999")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "test", cfg.AppEnv)
	require.Equal(t, "sqlite", cfg.Database.Type)
	require.Equal(t, ":memory:", cfg.Database.Path)
	require.Equal(t, 2*time.Second, cfg.Database.QueryTimeout)
	require.Equal(t, "/login", cfg.Access.SignInPath)
	require.Equal(t, "/", cfg.Access.LandingPath)
	require.Equal(t, "9999", cfg.Server.Addr)
}

func TestLoadConfigRejectsTLSWithoutCert(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("TLS:\n  ENABLE: true\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRemoteKeyNeedsConsul(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("APP_ENV: test\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CONSUL_CONFIG_KEY", "seekcap/controlplane.yaml")
	t.Setenv("CONSUL_ADDR", "")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "CONSUL.ADDR")
}
