package gate

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"seekcap-controlplane/pkg/config"
	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/featureflags"
	"seekcap-controlplane/pkg/identity"
	"seekcap-controlplane/services/entitlement"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Resolver is the part of the entitlement resolver the gate reads.
type Resolver interface {
	Can(ctx context.Context, id *identity.Identity, c entitlement.Capability) (entitlement.Decision, error)
	Account(ctx context.Context, userID string) (entitlement.AccountStatus, error)
	Resolve(ctx context.Context, id *identity.Identity) (*entitlement.Entitlement, error)
	Invalidate(ctx context.Context, userID string) error
}

// Guard enforces resolver decisions. It never writes state.
type Guard struct {
	resolver Resolver
	catalog  *Catalog
	flags    featureflags.FeatureFlag

	signInPath  string
	landingPath string
}

type GuardParams struct {
	fx.In
	Config   *config.Config
	Resolver Resolver
	Catalog  *Catalog
	Flags    featureflags.FeatureFlag
}

func NewGuard(p GuardParams) *Guard {
	signIn := p.Config.Access.SignInPath
	if signIn == "" {
		signIn = "/auth/signin"
	}
	landing := p.Config.Access.LandingPath
	if landing == "" {
		landing = "/"
	}
	return &Guard{
		resolver:    p.Resolver,
		catalog:     p.Catalog,
		flags:       p.Flags,
		signInPath:  signIn,
		landingPath: landing,
	}
}

func logFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

type RouteDecision struct {
	Allowed    bool   `json:"allowed"`
	RedirectTo string `json:"redirect_to,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// GuardRoute sends anonymous callers to sign-in with the requested path
// preserved, and denied callers to the landing page.
func (g *Guard) GuardRoute(ctx context.Context, id *identity.Identity, c entitlement.Capability, requestedPath string) (RouteDecision, error) {
	if id == nil {
		return RouteDecision{RedirectTo: g.signInRedirect(requestedPath), Reason: "unauthenticated"}, nil
	}

	d, err := g.resolver.Can(ctx, id, c)
	if err != nil {
		return RouteDecision{}, err
	}
	if !d.Allowed() {
		return RouteDecision{RedirectTo: g.landingPath, Reason: d.Reason}, nil
	}
	return RouteDecision{Allowed: true}, nil
}

func (g *Guard) signInRedirect(requestedPath string) string {
	if !sameSitePath(requestedPath) {
		return g.signInPath
	}
	return g.signInPath + "?redirect=" + url.QueryEscape(requestedPath)
}

// sameSitePath reports whether p can only resolve against this origin.
// Browsers read a backslash as a slash and drop tabs and newlines, so
// "/\evil.com" and "/<tab>/evil.com" are both protocol relative.
func sameSitePath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return false
	}
	return strings.IndexFunc(p, func(r rune) bool {
		return r == '\\' || unicode.IsControl(r)
	}) < 0
}

// GuardFeature decides how a feature is presented. Blocked features are
// shown blurred with a hint rather than hidden. Unknown features, disabled
// remote flags and evaluation errors all blur.
func (g *Guard) GuardFeature(ctx context.Context, account entitlement.AccountStatus, name string) FeatureDecision {
	log := zap.L().With(logFields(ctx)...).With(zap.String("feature", name))

	f, ok := g.catalog.Lookup(name)
	if !ok {
		return FeatureDecision{Feature: name, Visibility: Blurred}
	}
	blurred := FeatureDecision{Feature: name, Visibility: Blurred, UnlockHint: f.UnlockHint}

	enabled, err := g.flags.Enabled(ctx, name, account.UserID)
	if err != nil {
		log.Warn("feature flag lookup failed, using local rule", zap.Error(err))
		enabled = true
	}
	if !enabled {
		blurred.UnlockHint = "This feature is temporarily unavailable."
		return blurred
	}

	ok, err = g.catalog.evaluate(f, account)
	if err != nil {
		log.Error("feature expression failed", zap.String("expression", f.Expression), zap.Error(err))
		return blurred
	}
	if !ok {
		return blurred
	}
	return FeatureDecision{Feature: name, Visibility: Visible}
}

// RequireCapability guards page routes with 303 redirects.
func (g *Guard) RequireCapability(c entitlement.Capability) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		reqCtx := ctx.Request.Context()
		d, err := g.GuardRoute(reqCtx, identity.FromContext(reqCtx), c, ctx.Request.URL.RequestURI())
		if err != nil {
			_ = ctx.Error(err)
			ctx.Abort()
			return
		}
		if !d.Allowed {
			ctx.Redirect(http.StatusSeeOther, d.RedirectTo)
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// RequireAPICapability guards JSON routes with 401 and 403 error bodies.
func (g *Guard) RequireAPICapability(c entitlement.Capability) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		reqCtx := ctx.Request.Context()
		id := identity.FromContext(reqCtx)
		if id == nil {
			_ = ctx.Error(errutil.Unauthorized("authentication required", nil))
			ctx.Abort()
			return
		}

		d, err := g.resolver.Can(reqCtx, id, c)
		if err != nil {
			_ = ctx.Error(err)
			ctx.Abort()
			return
		}
		if !d.Allowed() {
			_ = ctx.Error(errutil.Forbidden("you do not have access to this action", nil,
				errutil.WithDetails(
					errutil.Detail{Field: "capability", Message: string(c)},
					errutil.Detail{Field: "reason", Message: d.Reason},
				),
			))
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
