package gate

import (
	"seekcap-controlplane/pkg/server"
	"seekcap-controlplane/services/entitlement"

	"go.uber.org/fx"
)

var Module = fx.Module("gate",
	fx.Provide(
		func(r *entitlement.Resolver) Resolver { return r },
		func() (*Catalog, error) { return NewCatalog(DefaultFeatures) },
		NewGuard,
		server.AsRoute(NewHandler),
	),
)
