package audit

import (
	"errors"

	"seekcap-controlplane/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(
		NewService,
		func(s *Service) Recorder { return s },
		server.AsRoute(NewHandler),
	),
	fx.Invoke(registerMetrics),
)

func registerMetrics() error {
	if err := prometheus.Register(writeFailures); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
	}
	return nil
}
