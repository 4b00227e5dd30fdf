package entitlement

import (
	"errors"

	"seekcap-controlplane/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("entitlement",
	fx.Provide(
		ProvideAccountSource,
		NewResolver,
	),
	fx.Invoke(registerMetrics),
)

// ProvideAccountSource caches the store projection in redis unless the TTL
// is zero.
func ProvideAccountSource(cfg *config.Config, gdb *gorm.DB, rdb *redis.Client) AccountSource {
	store := NewStoreSource(gdb, cfg.Database.QueryTimeout)
	if cfg.Entitlement.AccountCacheTTL <= 0 || rdb == nil {
		return store
	}
	return NewCachedSource(store, rdb, cfg.Entitlement.AccountCacheTTL)
}

func registerMetrics() error {
	for _, c := range []prometheus.Collector{accountCacheHits, accountCacheMiss} {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
