package bootstrap

import (
	"context"
	"testing"

	"seekcap-controlplane/pkg/config"
	"seekcap-controlplane/services/audit"
	"seekcap-controlplane/services/license"
	"seekcap-controlplane/services/notification"
	"seekcap-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type countingRecorder struct{ n int }

func (r *countingRecorder) Record(ctx context.Context, p audit.RecordParams) *audit.Entry {
	r.n++
	return &audit.Entry{Action: p.Action, EntityType: p.EntityType}
}

type nopDispatcher struct{}

func (nopDispatcher) Send(ctx context.Context, email notification.Email) {}

type nopSequence struct{}

func (nopSequence) NextLicenseKey(ctx context.Context, product string) (string, error) {
	return "LIC-261017-001AA", nil
}

func TestRunMigratesAndSeedsOnce(t *testing.T) {
	gdb := testutil.NewTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Bootstrap.AutoMigrate = true
	cfg.Bootstrap.SeedTiers = true

	recorder := &countingRecorder{}
	licenses := license.NewService(license.ServiceParams{
		DB:       gdb,
		Node:     node,
		Config:   cfg,
		Sequence: nopSequence{},
		Audit:    recorder,
		Notifier: nopDispatcher{},
	})
	svc := NewService(ServiceParams{DB: gdb, Config: cfg, Licenses: licenses})
	ctx := context.Background()

	require.NoError(t, svc.Run(ctx))
	for _, table := range []string{"licenses", "license_tiers", "credit_purchases", "audit_log"} {
		require.True(t, gdb.Migrator().HasTable(table), table)
	}
	require.False(t, gdb.Migrator().HasTable("accounts"))

	tiers, err := licenses.ListTiers(ctx, true)
	require.NoError(t, err)
	require.Len(t, tiers, len(DefaultTiers))
	require.Equal(t, len(DefaultTiers), recorder.n)

	require.NoError(t, svc.Run(ctx))
	tiers, err = licenses.ListTiers(ctx, true)
	require.NoError(t, err)
	require.Len(t, tiers, len(DefaultTiers))
}

func TestMigrateDisabled(t *testing.T) {
	gdb := testutil.NewTestDB(t)
	svc := NewService(ServiceParams{DB: gdb, Config: &config.Config{}})

	require.NoError(t, svc.Run(context.Background()))
	require.False(t, gdb.Migrator().HasTable("licenses"))
}
