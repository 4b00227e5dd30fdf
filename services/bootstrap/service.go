package bootstrap

import (
	"context"
	"fmt"

	"seekcap-controlplane/pkg/config"
	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/services/audit"
	"seekcap-controlplane/services/credit"
	"seekcap-controlplane/services/license"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultTiers are created on an empty catalog.
var DefaultTiers = []license.TierParams{
	{Name: "Standard", MaxSeats: 10, Description: "Single team deployment"},
	{Name: "Professional", MaxSeats: 50, Description: "Multi team deployment with priority support"},
	{Name: "Enterprise", MaxSeats: 500, Description: "Organisation wide deployment"},
}

type Service struct {
	db       *gorm.DB
	config   *config.Config
	licenses *license.Service
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Config   *config.Config
	Licenses *license.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		config:   p.Config,
		licenses: p.Licenses,
	}
}

// Migrate creates the tables owned by this service. accounts and
// payment_methods belong to the billing system and are never migrated here.
func (s *Service) Migrate(ctx context.Context) error {
	if !s.config.Bootstrap.AutoMigrate {
		zap.L().Info("[bootstrap] Auto migration disabled")
		return nil
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&license.Tier{},
		&license.License{},
		&credit.Purchase{},
		&audit.Entry{},
	); err != nil {
		zap.L().Error("[bootstrap] Failed to migrate schema", zap.Error(err))
		return fmt.Errorf("migrate schema: %w", err)
	}

	zap.L().Info("[bootstrap] Schema migrated")
	return nil
}

// SeedTiers creates DefaultTiers when no tier exists yet. Creation goes
// through the license service so each tier is audited as a system action.
func (s *Service) SeedTiers(ctx context.Context) error {
	if !s.config.Bootstrap.SeedTiers {
		return nil
	}

	existing, err := s.licenses.ListTiers(ctx, true)
	if err != nil {
		zap.L().Error("[bootstrap] Error checking license tiers", zap.Error(err))
		return err
	}
	if len(existing) > 0 {
		zap.L().Info("[bootstrap] License tiers already exist", zap.Int("count", len(existing)))
		return nil
	}

	for _, p := range DefaultTiers {
		if _, err := s.licenses.CreateTier(ctx, nil, p); err != nil && !errutil.Is(err, errutil.StatusConflict) {
			zap.L().Error("[bootstrap] Failed to create license tier", zap.String("tier", p.Name), zap.Error(err))
			return err
		}
	}

	zap.L().Info("[bootstrap] Default license tiers created", zap.Int("count", len(DefaultTiers)))
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	return s.SeedTiers(ctx)
}
