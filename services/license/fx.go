package license

import (
	"seekcap-controlplane/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("license.service",
	fx.Provide(NewService),
)

var ServerModule = fx.Module("license.server",
	Module,
	fx.Provide(server.AsRoute(NewHandler)),
)
