package license

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"seekcap-controlplane/pkg/config"
	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/identity"
	"seekcap-controlplane/services/audit"
	"seekcap-controlplane/services/notification"
	"seekcap-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type recorderMock struct {
	mu      sync.Mutex
	entries []audit.RecordParams
}

func (m *recorderMock) Record(ctx context.Context, p audit.RecordParams) *audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, p)
	return &audit.Entry{Action: p.Action, EntityType: p.EntityType}
}

func (m *recorderMock) last() audit.RecordParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *recorderMock) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type dispatcherMock struct {
	sent []notification.Email
}

func (m *dispatcherMock) Send(ctx context.Context, email notification.Email) {
	m.sent = append(m.sent, email)
}

type sequenceMock struct {
	n   int
	err error
}

func (m *sequenceMock) NextLicenseKey(ctx context.Context, product string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.n++
	return "LIC-261017-00" + string(rune('0'+m.n)) + "AB", nil
}

type fixture struct {
	svc      *Service
	recorder *recorderMock
	notifier *dispatcherMock
	seq      *sequenceMock
	now      time.Time
	tier     *Tier
}

var admin = &identity.Identity{UserID: "admin-1", Email: "admin@seekcap.io", RoleGrants: []string{"admin"}}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &License{}, &Tier{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		recorder: &recorderMock{},
		notifier: &dispatcherMock{},
		seq:      &sequenceMock{},
		now:      time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   &config.Config{},
		Sequence: f.seq,
		Audit:    f.recorder,
		Notifier: f.notifier,
	})
	f.svc.now = func() time.Time { return f.now }

	f.tier, err = f.svc.CreateTier(context.Background(), admin, TierParams{Name: "Standard", MaxSeats: 10})
	require.NoError(t, err)
	return f
}

func (f *fixture) issue(t *testing.T, assignee string, pool bool) *License {
	t.Helper()
	l, err := f.svc.Issue(context.Background(), admin, IssueParams{
		Product:    "SEEKCAP",
		Tier:       "Standard",
		Seats:      5,
		ExpiresAt:  f.now.Add(30 * 24 * time.Hour),
		AssignedTo: assignee,
		IsPool:     pool,
	})
	require.NoError(t, err)
	return l
}

func TestResolveStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	cases := []struct {
		name    string
		stored  Status
		expires time.Time
		want    Status
	}{
		{"pending before expiry", StatusPending, future, StatusPending},
		{"active before expiry", StatusActive, future, StatusActive},
		{"suspended before expiry", StatusSuspended, future, StatusSuspended},
		{"active at expiry", StatusActive, now, StatusExpired},
		{"active past expiry", StatusActive, now.Add(-time.Second), StatusExpired},
		{"pending past expiry", StatusPending, now.Add(-time.Hour), StatusExpired},
		{"revoked past expiry", StatusRevoked, now.Add(-time.Hour), StatusRevoked},
		{"revoked before expiry", StatusRevoked, future, StatusRevoked},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ResolveStatus(&License{Status: tc.stored, ExpiresAt: tc.expires}, now))
		})
	}
}

func TestIssueAndActivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.issue(t, "buyer@example.com", false)
	require.Equal(t, StatusPending, l.Status)
	require.Equal(t, f.tier.ID, l.TierID)
	require.Equal(t, "LIC-261017-001AB", l.LicenseKey)

	created := f.recorder.last()
	require.Equal(t, audit.ActionCreate, created.Action)
	require.Equal(t, audit.EntityLicense, created.EntityType)
	require.Equal(t, "pending", created.NewValues["status"])

	l, err := f.svc.Activate(ctx, admin, l.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, l.Status)
	require.NotNil(t, l.LastActiveAt)

	entry := f.recorder.last()
	require.Equal(t, audit.ActionStatusChange, entry.Action)
	require.Equal(t, map[string]any{"status": "pending"}, entry.OldValues)
	require.Equal(t, map[string]any{"status": "active"}, entry.NewValues)

	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, "buyer@example.com", f.notifier.sent[0].To)
}

func TestIssueValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := f.now.Add(24 * time.Hour)

	cases := map[string]IssueParams{
		"no seats":     {Product: "SEEKCAP", Tier: "Standard", Seats: 0, ExpiresAt: expiry},
		"no product":   {Product: " ", Tier: "Standard", Seats: 1, ExpiresAt: expiry},
		"past expiry":  {Product: "SEEKCAP", Tier: "Standard", Seats: 1, ExpiresAt: f.now},
		"unknown tier": {Product: "SEEKCAP", Tier: "Platinum", Seats: 1, ExpiresAt: expiry},
		"over tier":    {Product: "SEEKCAP", Tier: "Standard", Seats: 11, ExpiresAt: expiry},
	}

	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			before := f.recorder.count()
			_, err := f.svc.Issue(ctx, admin, p)
			require.True(t, errutil.Is(err, errutil.StatusValidationFailed), "got %v", err)
			require.Equal(t, before, f.recorder.count())
		})
	}
}

func TestIssueFallsBackWhenSequenceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.seq.err = errors.New("redis: connection refused")

	l := f.issue(t, "", true)
	require.Regexp(t, `^LIC-[0-9A-Z]+$`, l.LicenseKey)
}

func TestActivateRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unassigned := f.issue(t, "", false)
	_, err := f.svc.Activate(ctx, admin, unassigned.ID)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	pool := f.issue(t, "", true)
	pool, err = f.svc.Activate(ctx, admin, pool.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, pool.Status)

	_, err = f.svc.Activate(ctx, admin, pool.ID)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))

	expiring := f.issue(t, "a@example.com", false)
	f.now = f.now.Add(31 * 24 * time.Hour)
	_, err = f.svc.Activate(ctx, admin, expiring.ID)
	be, ok := errutil.As(err)
	require.True(t, ok)
	require.Equal(t, errutil.StatusInvalidTransition, be.Code)
	require.Contains(t, be.Details, errutil.Detail{Field: "current", Message: "expired"})
	require.Contains(t, be.Details, errutil.Detail{Field: "requested", Message: "active"})

	_, err = f.svc.Activate(ctx, admin, "missing")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestSuspendAndReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.issue(t, "a@example.com", false)
	_, err := f.svc.Suspend(ctx, admin, l.ID, "chargeback")
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))

	l, err = f.svc.Activate(ctx, admin, l.ID)
	require.NoError(t, err)
	firstActive := *l.LastActiveAt

	f.now = f.now.Add(time.Hour)
	l, err = f.svc.Suspend(ctx, admin, l.ID, "chargeback")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, l.Status)
	require.Equal(t, "chargeback", f.recorder.last().Metadata["reason"])

	f.now = f.now.Add(time.Hour)
	l, err = f.svc.Activate(ctx, admin, l.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, l.Status)
	require.True(t, firstActive.Equal(*l.LastActiveAt))
	require.Equal(t, map[string]any{"status": "suspended"}, f.recorder.last().OldValues)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.issue(t, "a@example.com", false)
	l, err := f.svc.Revoke(ctx, admin, l.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRevoked, l.Status)
	require.Nil(t, l.AssignedTo)
	require.NotNil(t, l.RevokedAt)

	entry := f.recorder.last()
	require.Equal(t, "a@example.com", entry.OldValues["assigned_to"])
	require.Nil(t, entry.NewValues["assigned_to"])
	require.Equal(t, "revoked", entry.NewValues["status"])

	_, err = f.svc.Revoke(ctx, admin, l.ID)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))
	_, err = f.svc.Activate(ctx, admin, l.ID)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))

	expired := f.issue(t, "b@example.com", false)
	f.now = f.now.Add(60 * 24 * time.Hour)
	_, err = f.svc.Revoke(ctx, admin, expired.ID)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))

	// revoked wins over expiry on read
	l, err = f.svc.Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRevoked, l.Status)
}

func TestReassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.issue(t, "a@example.com", false)
	l, err := f.svc.Reassign(ctx, admin, l.ID, "b@example.com")
	require.NoError(t, err)
	require.Equal(t, "b@example.com", *l.AssignedTo)

	entry := f.recorder.last()
	require.Equal(t, audit.ActionUpdate, entry.Action)
	require.Equal(t, map[string]any{"assigned_to": "a@example.com"}, entry.OldValues)
	require.Equal(t, map[string]any{"assigned_to": "b@example.com"}, entry.NewValues)
	require.Equal(t, "b@example.com", f.notifier.sent[len(f.notifier.sent)-1].To)

	_, err = f.svc.Reassign(ctx, admin, l.ID, "b@example.com")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.Activate(ctx, admin, l.ID)
	require.NoError(t, err)
	_, err = f.svc.Suspend(ctx, admin, l.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Reassign(ctx, admin, l.ID, "c@example.com")
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))
}

func TestStaleWriteConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.issue(t, "a@example.com", false)
	stale, err := f.svc.load(ctx, l.ID)
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, admin, l.ID)
	require.NoError(t, err)

	before := f.recorder.count()
	_, err = f.svc.transition(ctx, admin, stale, StatusPending, StatusActive, map[string]any{"status": StatusActive}, nil)
	require.True(t, errutil.Is(err, errutil.StatusConflict))
	require.Equal(t, before, f.recorder.count())
}

func TestEveryMutationRecordsOneEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	step := func(name string, fn func() error) {
		before := f.recorder.count()
		require.NoError(t, fn(), name)
		require.Equal(t, before+1, f.recorder.count(), name)
		require.NotEmpty(t, f.recorder.last().NewValues, name)
	}

	var l *License
	step("issue", func() (err error) {
		l, err = f.svc.Issue(ctx, admin, IssueParams{Product: "SEEKCAP", Tier: f.tier.ID, Seats: 1, ExpiresAt: f.now.Add(time.Hour), AssignedTo: "a@example.com"})
		return err
	})
	step("reassign", func() error { _, err := f.svc.Reassign(ctx, admin, l.ID, "b@example.com"); return err })
	step("activate", func() error { _, err := f.svc.Activate(ctx, admin, l.ID); return err })
	step("suspend", func() error { _, err := f.svc.Suspend(ctx, admin, l.ID, "audit"); return err })
	step("revoke", func() error { _, err := f.svc.Revoke(ctx, admin, l.ID); return err })
}

func TestListUsesEffectiveStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	short, err := f.svc.Issue(ctx, admin, IssueParams{Product: "SEEKCAP", Tier: "standard", Seats: 1, ExpiresAt: f.now.Add(time.Hour), AssignedTo: "a@example.com"})
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, admin, short.ID)
	require.NoError(t, err)

	long := f.issue(t, "a@example.com", false)
	_, err = f.svc.Activate(ctx, admin, long.ID)
	require.NoError(t, err)

	n, err := f.svc.CountActive(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	f.now = f.now.Add(2 * time.Hour)

	n, err = f.svc.CountActive(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	expired, err := f.svc.List(ctx, ListFilter{Status: StatusExpired})
	require.NoError(t, err)
	require.Len(t, expired.Licenses, 1)
	require.Equal(t, short.ID, expired.Licenses[0].ID)
	require.Equal(t, StatusExpired, expired.Licenses[0].Status)

	all, err := f.svc.List(ctx, ListFilter{AssignedTo: "a@example.com"})
	require.NoError(t, err)
	require.Equal(t, int64(2), all.PageInfo.Total)

	_, err = f.svc.List(ctx, ListFilter{Status: "archived"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, "standard", f.tier.Slug)
	require.Equal(t, audit.EntityCatalog, f.recorder.last().EntityType)

	_, err := f.svc.CreateTier(ctx, admin, TierParams{Name: "STANDARD", MaxSeats: 3})
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	_, err = f.svc.CreateTier(ctx, admin, TierParams{Name: "Enterprise", MaxSeats: 0})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	enterprise, err := f.svc.CreateTier(ctx, admin, TierParams{Name: "Enterprise Plus", MaxSeats: 500})
	require.NoError(t, err)
	require.Equal(t, "enterprise-plus", enterprise.Slug)

	_, err = f.svc.DeprecateTier(ctx, admin, f.tier.ID)
	require.NoError(t, err)
	_, err = f.svc.DeprecateTier(ctx, admin, f.tier.ID)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))

	_, err = f.svc.Issue(ctx, admin, IssueParams{Product: "SEEKCAP", Tier: "Standard", Seats: 1, ExpiresAt: f.now.Add(time.Hour)})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	tiers, err := f.svc.ListTiers(ctx, false)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	require.Equal(t, enterprise.ID, tiers[0].ID)

	tiers, err = f.svc.ListTiers(ctx, true)
	require.NoError(t, err)
	require.Len(t, tiers, 2)
}
