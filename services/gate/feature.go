package gate

import (
	"fmt"
	"sort"

	"seekcap-controlplane/pkg/celengine"
	"seekcap-controlplane/services/entitlement"

	"github.com/google/cel-go/cel"
)

type Visibility string

const (
	Visible Visibility = "visible"
	Blurred Visibility = "blurred"
)

const paidExpression = "can_access_paid_features"

// Feature is one gated portal feature. Expression is evaluated against the
// caller's account projection.
type Feature struct {
	Name       string                 `json:"name"`
	Capability entitlement.Capability `json:"capability"`
	Expression string                 `json:"expression"`
	UnlockHint string                 `json:"unlock_hint"`
}

type FeatureDecision struct {
	Feature    string     `json:"feature"`
	Visibility Visibility `json:"visibility"`
	UnlockHint string     `json:"unlock_hint,omitempty"`
}

var DefaultFeatures = []Feature{
	{
		Name:       "downloads",
		Capability: entitlement.CapDownloadsAccess,
		Expression: paidExpression,
		UnlockHint: "Add a payment method or ask your account manager for approval to download installers.",
	},
	{
		Name:       "reports",
		Capability: entitlement.CapReportsView,
		Expression: paidExpression,
		UnlockHint: "Reports are available on paid plans.",
	},
	{
		Name:       "credit_usage",
		Capability: entitlement.CapCreditsConsume,
		Expression: "can_access_paid_features && has_payment_method",
		UnlockHint: "Add a payment method to spend prepaid credits.",
	},
	{
		Name:       "upgrade_banner",
		Expression: "is_free_user",
	},
}

// Catalog holds the feature definitions with their compiled expressions.
type Catalog struct {
	engine   *celengine.Engine
	features map[string]Feature
}

func accountVars() map[string]*cel.Type {
	return map[string]*cel.Type{
		"account_type":             cel.StringType,
		"is_payment_verified":      cel.BoolType,
		"is_approved":              cel.BoolType,
		"is_free_user":             cel.BoolType,
		"can_access_paid_features": cel.BoolType,
		"has_payment_method":       cel.BoolType,
	}
}

// NewCatalog compiles every expression up front so a bad definition fails
// at boot. An empty expression means the paid-access rule.
func NewCatalog(features []Feature) (*Catalog, error) {
	engine, err := celengine.NewEngine(accountVars())
	if err != nil {
		return nil, err
	}

	c := &Catalog{engine: engine, features: make(map[string]Feature, len(features))}
	for _, f := range features {
		if f.Expression == "" {
			f.Expression = paidExpression
		}
		if err := engine.Validate(f.Expression); err != nil {
			return nil, fmt.Errorf("feature %q: %w", f.Name, err)
		}
		c.features[f.Name] = f
	}
	return c, nil
}

func (c *Catalog) Lookup(name string) (Feature, bool) {
	f, ok := c.features[name]
	return f, ok
}

func (c *Catalog) All() []Feature {
	out := make([]Feature, 0, len(c.features))
	for _, f := range c.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) evaluate(f Feature, a entitlement.AccountStatus) (bool, error) {
	return c.engine.Evaluate(f.Expression, map[string]any{
		"account_type":             a.AccountType,
		"is_payment_verified":      a.IsPaymentVerified,
		"is_approved":              a.IsApproved(),
		"is_free_user":             a.IsFreeUser(),
		"can_access_paid_features": entitlement.CanAccessPaidFeature(a),
		"has_payment_method":       a.HasPaymentMethod,
	})
}
