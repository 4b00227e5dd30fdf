package main

import (
	"log"

	"seekcap-controlplane/pkg/config"
	"seekcap-controlplane/pkg/hashistack/secretmanager"
	"seekcap-controlplane/pkg/logger"
	"seekcap-controlplane/pkg/otelcol"
	"seekcap-controlplane/pkg/task"
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
		otelcol.Module,
		task.Server,
		notification.WorkerModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
