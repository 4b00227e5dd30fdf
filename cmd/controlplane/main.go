package main

import (
	"log"

	"seekcap-controlplane/pkg/config"
	"seekcap-controlplane/pkg/db"
	"seekcap-controlplane/pkg/featureflags"
	"seekcap-controlplane/pkg/gen"
	"seekcap-controlplane/pkg/hashistack/secretmanager"
	"seekcap-controlplane/pkg/hashistack/servicediscover"
	"seekcap-controlplane/pkg/health"
	"seekcap-controlplane/pkg/identity"
	"seekcap-controlplane/pkg/logger"
	"seekcap-controlplane/pkg/minio"
	"seekcap-controlplane/pkg/otelcol"
	"seekcap-controlplane/pkg/profiling"
	"seekcap-controlplane/pkg/redis"
	"seekcap-controlplane/pkg/sequence"
	"seekcap-controlplane/pkg/server"
	"seekcap-controlplane/pkg/task"
	"seekcap-controlplane/services/audit"
	"seekcap-controlplane/services/bootstrap"
	"seekcap-controlplane/services/credit"
	"seekcap-controlplane/services/entitlement"
	"seekcap-controlplane/services/gate"
	"seekcap-controlplane/services/license"
	"seekcap-controlplane/services/notification"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		secretmanager.Module,
		logger.Module,
		profiling.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		identity.Module,
		featureflags.Module,
		minio.Client,
		task.Client,
		health.Module,
		notification.Module,
		audit.Module,
		license.ServerModule,
		credit.ServerModule,
		fx.Provide(
			provideLicenseCounter,
			provideCreditTotaler,
		),
		entitlement.Module,
		gate.Module,
		bootstrap.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})

func provideLicenseCounter(s *license.Service) entitlement.LicenseCounter {
	return s
}

func provideCreditTotaler(s *credit.Service) entitlement.CreditTotaler {
	return s
}
