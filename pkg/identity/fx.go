package identity

import (
	"seekcap-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("identity", fx.Provide(ProvideVerifier))

func ProvideVerifier(cfg *config.Config) *Verifier {
	v := NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if cfg.Auth.JWKSURL != "" {
		v.WithKeySet(NewKeySet(cfg.Auth.JWKSURL))
	}
	if cfg.Auth.JWTSecret == "" && cfg.Auth.JWKSURL == "" {
		zap.L().Warn("neither AUTH.JWT_SECRET nor AUTH.JWKS_URL is set, every bearer token will be rejected")
	}
	return v
}
