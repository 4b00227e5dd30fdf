package secretmanager

import (
	"context"
	"fmt"
	"time"

	"seekcap-controlplane/pkg/config"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module overlays secrets from vault onto the loaded config when
// VAULT.ENABLE is set. VAULT_ADDR and VAULT_TOKEN come from the environment.
// It is an fx.Options rather than an fx.Module so the decoration applies to
// the root scope.
var Module = fx.Options(fx.Decorate(Apply))

func ProvideVault() (*vault.Client, error) {
	return vault.New(
		vault.WithEnvironment(),
	)
}

// secretFields maps KV keys to the config fields they override.
func secretFields(cfg *config.Config) map[string]*string {
	return map[string]*string{
		"jwt_secret":        &cfg.Auth.JWTSecret,
		"database_password": &cfg.Database.Password,
		"redis_password":    &cfg.Redis.Password,
		"smtp_password":     &cfg.SMTP.Password,
		"minio_secret_key":  &cfg.Minio.SecretKey,
		"flagsmith_api_key": &cfg.Flagsmith.ApiKey,
	}
}

// Overlay copies every known string key of data into cfg and returns the
// keys it applied.
func Overlay(cfg *config.Config, data map[string]any) []string {
	var applied []string
	for key, field := range secretFields(cfg) {
		if v, ok := data[key].(string); ok && v != "" {
			*field = v
			applied = append(applied, key)
		}
	}
	return applied
}

func Apply(cfg *config.Config) (*config.Config, error) {
	if !cfg.Vault.Enable {
		return cfg, nil
	}

	client, err := ProvideVault()
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Secrets.KvV2Read(ctx, cfg.Vault.Path, vault.WithMountPath(cfg.Vault.Mount))
	if err != nil {
		zap.L().Error("[Vault] Failed to read secrets", zap.String("path", cfg.Vault.Path), zap.Error(err))
		return nil, fmt.Errorf("read vault secrets: %w", err)
	}

	applied := Overlay(cfg, resp.Data.Data)
	zap.L().Info("[Vault] Secrets applied", zap.Strings("keys", applied))
	return cfg, nil
}
