package entitlement

import (
	"context"
	"slices"
	"strings"
	"time"

	"seekcap-controlplane/pkg/identity"

	"github.com/casbin/casbin/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LicenseCounter and CreditTotaler are the read sides of the license and
// credit services.
type LicenseCounter interface {
	CountActive(ctx context.Context, assignee string) (int64, error)
}

type CreditTotaler interface {
	TotalAvailable(ctx context.Context, userID string) (int64, error)
}

type Resolver struct {
	enforcer *casbin.SyncedEnforcer
	accounts AccountSource
	licenses LicenseCounter
	credits  CreditTotaler
	now      func() time.Time
}

type ResolverParams struct {
	fx.In
	Accounts AccountSource
	Licenses LicenseCounter
	Credits  CreditTotaler
}

func NewResolver(p ResolverParams) (*Resolver, error) {
	e, err := newEnforcer(defaultPolicy)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		enforcer: e,
		accounts: p.Accounts,
		licenses: p.Licenses,
		credits:  p.Credits,
		now:      time.Now,
	}, nil
}

func logFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// ResolveRoles returns the union of the identity's role grants.
func ResolveRoles(id *identity.Identity) RoleSet {
	if id == nil {
		return RoleSet{}
	}
	roles := make(RoleSet, 0, len(id.RoleGrants))
	for _, r := range id.RoleGrants {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			roles = append(roles, r)
		}
	}
	slices.Sort(roles)
	return slices.Compact(roles)
}

// CanAccessPaidFeature checks verified payment, then approval, then account
// type. The account type can lag behind a manual approval.
func CanAccessPaidFeature(a AccountStatus) bool {
	if a.IsPaymentVerified {
		return true
	}
	if a.PaymentApprovedBy != nil {
		return true
	}
	return !a.free()
}

func (r *Resolver) EffectivePermission(roles RoleSet, account AccountStatus, c Capability) Decision {
	if roles.Has(RoleAdmin) {
		return Decision{Effect: Allow, Reason: "role:" + RoleAdmin}
	}

	for _, role := range roles {
		ok, err := r.enforcer.Enforce(role, string(c))
		if err != nil {
			zap.L().Error("policy evaluation failed", zap.String("role", role), zap.String("capability", string(c)), zap.Error(err))
			continue
		}
		if ok {
			return Decision{Effect: Allow, Reason: "role:" + role}
		}
	}

	if c.PaymentGated() {
		if CanAccessPaidFeature(account) {
			return Decision{Effect: Allow, Reason: "paid_access"}
		}
		return Decision{Effect: Deny, Reason: "payment_required"}
	}
	return Decision{Effect: Deny, Reason: "not_granted"}
}

// Can decides one capability for the caller. The account projection is
// only read when the roles alone do not decide.
func (r *Resolver) Can(ctx context.Context, id *identity.Identity, c Capability) (Decision, error) {
	if id == nil {
		return Decision{Effect: Deny, Reason: "unauthenticated"}, nil
	}

	roles := ResolveRoles(id)
	var account AccountStatus
	if c.PaymentGated() {
		d := r.EffectivePermission(roles, AccountStatus{AccountType: AccountTypeFree}, c)
		if d.Allowed() {
			return d, nil
		}
		var err error
		if account, err = r.accounts.Get(ctx, id.UserID); err != nil {
			return Decision{}, err
		}
	}
	return r.EffectivePermission(roles, account, c), nil
}

func (r *Resolver) Account(ctx context.Context, userID string) (AccountStatus, error) {
	return r.accounts.Get(ctx, userID)
}

func (r *Resolver) Resolve(ctx context.Context, id *identity.Identity) (*Entitlement, error) {
	log := zap.L().With(logFields(ctx)...)

	ent := &Entitlement{
		Roles:      ResolveRoles(id),
		ResolvedAt: r.now().UTC(),
	}
	if id != nil {
		ent.UserID = id.UserID
		ent.Email = id.Email
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ent.Account, err = r.accounts.Get(gctx, ent.UserID)
		return err
	})
	if ent.UserID != "" {
		g.Go(func() error {
			var err error
			ent.CreditsAvailable, err = r.credits.TotalAvailable(gctx, ent.UserID)
			return err
		})
	}
	if ent.Email != "" {
		g.Go(func() error {
			var err error
			ent.ActiveLicenses, err = r.licenses.CountActive(gctx, ent.Email)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("failed to resolve entitlement", zap.String("user_id", ent.UserID), zap.Error(err))
		return nil, err
	}

	ent.IsApproved = ent.Account.IsApproved()
	ent.IsFreeUser = ent.Account.IsFreeUser()
	ent.CanAccessPaidFeatures = CanAccessPaidFeature(ent.Account)
	for _, c := range Capabilities {
		if r.EffectivePermission(ent.Roles, ent.Account, c).Allowed() {
			ent.Capabilities = append(ent.Capabilities, c)
		}
	}
	return ent, nil
}

// Invalidate drops the cached account projection after a payment change.
func (r *Resolver) Invalidate(ctx context.Context, userID string) error {
	return r.accounts.Invalidate(ctx, userID)
}
