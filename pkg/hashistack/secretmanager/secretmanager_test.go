package secretmanager

import (
	"testing"

	"seekcap-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestOverlay(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "from-file"
	cfg.Database.Password = "from-file"

	applied := Overlay(cfg, map[string]any{
		"jwt_secret":        "from-vault",
		"database_password": "",
		"smtp_password":     42,
		"unknown":           "ignored",
	})

	require.Equal(t, []string{"jwt_secret"}, applied)
	require.Equal(t, "from-vault", cfg.Auth.JWTSecret)
	require.Equal(t, "from-file", cfg.Database.Password)
	require.Empty(t, cfg.SMTP.Password)
}

func TestApplyDisabledIsNoop(t *testing.T) {
	cfg := &config.Config{}
	got, err := Apply(cfg)
	require.NoError(t, err)
	require.Same(t, cfg, got)
}
