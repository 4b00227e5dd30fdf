package license

import (
	"context"
	"strings"
	"time"

	"seekcap-controlplane/pkg/db"
	"seekcap-controlplane/pkg/db/option"
	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/identity"
	"seekcap-controlplane/pkg/retry"
	"seekcap-controlplane/services/audit"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// findTier resolves ref as an id first, then as a slug of the tier name.
func (s *Service) findTier(ctx context.Context, ref string) (*Tier, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}

	return retry.Read(ctx, "license.find_tier", func(ctx context.Context) (*Tier, error) {
		ctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()

		t, err := s.tiers.FindOne(ctx, &Tier{ID: ref})
		if err != nil || t != nil {
			return t, err
		}
		return s.tiers.FindOne(ctx, &Tier{Slug: slug.Make(ref)})
	})
}

func (s *Service) CreateTier(ctx context.Context, actor *identity.Identity, p TierParams) (*Tier, error) {
	log := zap.L().With(logFields(ctx)...)

	p.Name = strings.TrimSpace(p.Name)
	tierSlug := slug.Make(p.Name)
	if p.Name == "" || tierSlug == "" {
		return nil, errutil.ValidationFailed("tier name is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "name", Message: "required"}))
	}
	if p.MaxSeats < 1 {
		return nil, errutil.ValidationFailed("max seats must be at least 1", nil,
			errutil.WithDetails(errutil.Detail{Field: "max_seats", Message: "must be at least 1"}))
	}

	existing, err := s.findTier(ctx, tierSlug)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("a tier with this name already exists", nil,
			errutil.WithDetails(errutil.Detail{Field: "slug", Message: tierSlug}))
	}

	t := &Tier{
		ID:          s.node.Generate().String(),
		Name:        p.Name,
		Slug:        tierSlug,
		MaxSeats:    p.MaxSeats,
		Description: p.Description,
		CreatedAt:   s.now().UTC(),
	}

	wctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.tiers.Create(wctx, t); err != nil {
		log.Error("failed to create tier", zap.Error(err))
		return nil, errutil.FromStore(err, true)
	}

	s.audit.Record(ctx, audit.RecordParams{
		Actor:      actor,
		Action:     audit.ActionCreate,
		EntityType: audit.EntityCatalog,
		EntityID:   t.ID,
		EntityName: t.Name,
		NewValues: map[string]any{
			"name":        t.Name,
			"slug":        t.Slug,
			"max_seats":   t.MaxSeats,
			"description": t.Description,
		},
	})

	return t, nil
}

// DeprecateTier blocks new issuance against the tier. Existing licenses keep
// referencing it.
func (s *Service) DeprecateTier(ctx context.Context, actor *identity.Identity, id string) (*Tier, error) {
	t, err := s.findTier(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errutil.NotFound("tier not found", nil)
	}
	if t.DeprecatedAt != nil {
		return nil, errutil.InvalidTransition("tier", "deprecated", "deprecated")
	}

	now := s.now().UTC()
	wctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.tiers.UpdateWhere(wctx, map[string]any{"id": t.ID, "deprecated_at": nil}, map[string]any{"deprecated_at": now})
	if err != nil {
		return nil, errutil.FromStore(err, true)
	}
	if n == 0 {
		return nil, errutil.Conflict("tier was modified concurrently, re-fetch and retry", nil)
	}
	t.DeprecatedAt = &now

	s.audit.Record(ctx, audit.RecordParams{
		Actor:      actor,
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityCatalog,
		EntityID:   t.ID,
		EntityName: t.Name,
		OldValues:  map[string]any{"deprecated_at": nil},
		NewValues:  map[string]any{"deprecated_at": now.Format(time.RFC3339)},
	})

	return t, nil
}

func (s *Service) ListTiers(ctx context.Context, includeDeprecated bool) ([]*Tier, error) {
	return retry.Read(ctx, "license.list_tiers", func(ctx context.Context) ([]*Tier, error) {
		ctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()

		opts := []option.QueryOption{option.WithSortBy(option.QuerySortBy{SortBy: "name", OrderBy: "asc"})}
		if !includeDeprecated {
			opts = append(opts, onlyCurrentTiers)
		}
		return s.tiers.Find(ctx, nil, opts...)
	})
}

var onlyCurrentTiers option.QueryOption = func(tx *gorm.DB) *gorm.DB {
	return tx.Where("deprecated_at IS NULL")
}
