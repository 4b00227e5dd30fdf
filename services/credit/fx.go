package credit

import (
	"seekcap-controlplane/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(NewService),
)

var ServerModule = fx.Module("credit.server",
	Module,
	fx.Provide(server.AsRoute(NewHandler)),
)
