package entitlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seekcap-controlplane/pkg/identity"
	"seekcap-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type staticAccounts struct {
	status AccountStatus
	err    error
	reads  atomic.Int32
}

func (s *staticAccounts) Get(ctx context.Context, userID string) (AccountStatus, error) {
	s.reads.Add(1)
	st := s.status
	st.UserID = userID
	return st, s.err
}

func (s *staticAccounts) Invalidate(ctx context.Context, userID string) error { return nil }

type licensesStub struct{ n int64 }

func (l licensesStub) CountActive(ctx context.Context, assignee string) (int64, error) { return l.n, nil }

type creditsStub struct{ n int64 }

func (c creditsStub) TotalAvailable(ctx context.Context, userID string) (int64, error) {
	return c.n, nil
}

func newResolver(t *testing.T, accounts AccountSource) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverParams{
		Accounts: accounts,
		Licenses: licensesStub{n: 2},
		Credits:  creditsStub{n: 75},
	})
	require.NoError(t, err)
	return r
}

func ptr(s string) *string { return &s }

func TestResolveRolesIsUnion(t *testing.T) {
	roles := ResolveRoles(&identity.Identity{RoleGrants: []string{"Program_Manager", "admin", " admin ", ""}})
	require.Equal(t, RoleSet{"admin", "program_manager"}, roles)
	require.True(t, roles.Has("ADMIN"))
	require.False(t, roles.Has(RoleSales))

	require.Empty(t, ResolveRoles(nil))
}

func TestDerivedAccountFlags(t *testing.T) {
	free := AccountStatus{AccountType: "free"}
	require.False(t, CanAccessPaidFeature(free))
	require.False(t, free.IsApproved())
	require.True(t, free.IsFreeUser())

	verified := free
	verified.IsPaymentVerified = true
	require.True(t, CanAccessPaidFeature(verified))
	require.False(t, verified.IsFreeUser())
	require.Equal(t, "free", verified.AccountType)

	approved := AccountStatus{AccountType: "free", PaymentApprovedBy: ptr("admin-1")}
	require.True(t, approved.IsApproved())
	require.True(t, CanAccessPaidFeature(approved))
	require.False(t, approved.IsFreeUser())

	paid := AccountStatus{AccountType: "professional"}
	require.True(t, paid.IsApproved())
	require.True(t, CanAccessPaidFeature(paid))
	require.False(t, paid.IsFreeUser())
}

func TestEffectivePermission(t *testing.T) {
	r := newResolver(t, &staticAccounts{})
	free := AccountStatus{AccountType: "free"}
	verified := AccountStatus{AccountType: "free", IsPaymentVerified: true}

	cases := []struct {
		name    string
		roles   RoleSet
		account AccountStatus
		cap     Capability
		want    Effect
		reason  string
	}{
		{"admin super grant", RoleSet{RoleAdmin}, free, CapAuditExport, Allow, "role:admin"},
		{"admin paid feature unpaid", RoleSet{RoleAdmin}, free, CapReportsView, Allow, "role:admin"},
		{"program manager subset without payment", RoleSet{RoleProgramManager}, free, CapDownloadsAccess, Allow, "role:program_manager"},
		{"program manager outside subset", RoleSet{RoleProgramManager}, free, CapLicensesManage, Deny, "not_granted"},
		{"customer own rule", RoleSet{RoleCustomer}, free, CapCreditsRequest, Allow, "role:customer"},
		{"customer gated unpaid", RoleSet{RoleCustomer}, free, CapCreditsConsume, Deny, "payment_required"},
		{"customer gated verified", RoleSet{RoleCustomer}, verified, CapCreditsConsume, Allow, "paid_access"},
		{"customer admin only", RoleSet{RoleCustomer}, verified, CapAuditRead, Deny, "not_granted"},
		{"no roles gated paid", RoleSet{}, verified, CapReportsView, Allow, "paid_access"},
		{"sales and customer union", RoleSet{RoleCustomer, RoleSales}, free, CapDealsManage, Allow, "role:sales"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := r.EffectivePermission(tc.roles, tc.account, tc.cap)
			require.Equal(t, tc.want, d.Effect)
			require.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestEffectivePermissionIsDeterministic(t *testing.T) {
	r := newResolver(t, &staticAccounts{})
	account := AccountStatus{AccountType: "free", PaymentApprovedBy: ptr("ops")}
	first := r.EffectivePermission(RoleSet{RoleCustomer}, account, CapDownloadsAccess)
	for range 50 {
		require.Equal(t, first, r.EffectivePermission(RoleSet{RoleCustomer}, account, CapDownloadsAccess))
	}
}

func TestCanSkipsAccountWhenRolesDecide(t *testing.T) {
	accounts := &staticAccounts{status: AccountStatus{AccountType: "free"}}
	r := newResolver(t, accounts)
	ctx := context.Background()

	d, err := r.Can(ctx, &identity.Identity{UserID: "pm", RoleGrants: []string{RoleProgramManager}}, CapReportsView)
	require.NoError(t, err)
	require.True(t, d.Allowed())
	require.Equal(t, int32(0), accounts.reads.Load())

	d, err = r.Can(ctx, &identity.Identity{UserID: "c", RoleGrants: []string{RoleCustomer}}, CapReportsView)
	require.NoError(t, err)
	require.False(t, d.Allowed())
	require.Equal(t, int32(1), accounts.reads.Load())

	d, err = r.Can(ctx, nil, CapCreditsRead)
	require.NoError(t, err)
	require.Equal(t, "unauthenticated", d.Reason)

	accounts.err = errors.New("store down")
	_, err = r.Can(ctx, &identity.Identity{UserID: "c"}, CapReportsView)
	require.Error(t, err)
}

func TestResolveFreeAccount(t *testing.T) {
	r := newResolver(t, &staticAccounts{status: AccountStatus{AccountType: "free"}})
	r.now = func() time.Time { return time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC) }

	ent, err := r.Resolve(context.Background(), &identity.Identity{
		UserID: "u1", Email: "u1@example.com", RoleGrants: []string{RoleCustomer},
	})
	require.NoError(t, err)
	require.False(t, ent.CanAccessPaidFeatures)
	require.True(t, ent.IsFreeUser)
	require.False(t, ent.IsApproved)
	require.Equal(t, int64(75), ent.CreditsAvailable)
	require.Equal(t, int64(2), ent.ActiveLicenses)
	require.ElementsMatch(t, []Capability{CapCreditsRead, CapCreditsRequest}, ent.Capabilities)
	require.Equal(t, r.now(), ent.ResolvedAt)

	r.accounts = &staticAccounts{status: AccountStatus{AccountType: "free", IsPaymentVerified: true}}
	ent, err = r.Resolve(context.Background(), &identity.Identity{UserID: "u1", RoleGrants: []string{RoleCustomer}})
	require.NoError(t, err)
	require.True(t, ent.CanAccessPaidFeatures)
	require.False(t, ent.IsFreeUser)
	require.Equal(t, "free", ent.Account.AccountType)
	require.Contains(t, ent.Capabilities, CapCreditsConsume)
}

type mapCache struct {
	mu    sync.Mutex
	items map[string][]byte
	err   error
}

func (c *mapCache) get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	b, ok := c.items[key]
	if !ok {
		return nil, errCacheMiss
	}
	return b, nil
}

func (c *mapCache) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.items[key] = value
	return nil
}

func (c *mapCache) del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func TestCachedSourceInvalidate(t *testing.T) {
	store := &staticAccounts{status: AccountStatus{AccountType: "free"}}
	cache := &mapCache{items: map[string][]byte{}}
	src := &CachedSource{next: store, cache: cache, ttl: time.Minute}
	ctx := context.Background()

	got, err := src.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, got.IsPaymentVerified)

	store.status.IsPaymentVerified = true
	got, err = src.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, got.IsPaymentVerified)
	require.Equal(t, int32(1), store.reads.Load())

	require.NoError(t, src.Invalidate(ctx, "u1"))
	got, err = src.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, got.IsPaymentVerified)
	require.Equal(t, int32(2), store.reads.Load())
}

// gatedAccounts takes its snapshot, then parks the read until released.
type gatedAccounts struct {
	mu       sync.Mutex
	status   AccountStatus
	started  chan struct{}
	release  chan struct{}
	gateOnce sync.Once
}

func (g *gatedAccounts) Get(ctx context.Context, userID string) (AccountStatus, error) {
	g.mu.Lock()
	st := g.status
	g.mu.Unlock()

	gated := false
	g.gateOnce.Do(func() { gated = true })
	if gated {
		close(g.started)
		<-g.release
	}
	return st, nil
}

func (g *gatedAccounts) Invalidate(ctx context.Context, userID string) error { return nil }

func TestCachedSourceInvalidateDuringLoad(t *testing.T) {
	store := &gatedAccounts{
		status:  AccountStatus{UserID: "u1", AccountType: AccountTypeFree},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	cache := &mapCache{items: map[string][]byte{}}
	src := &CachedSource{next: store, cache: cache, ttl: time.Minute}
	ctx := context.Background()

	done := make(chan AccountStatus)
	go func() {
		got, _ := src.Get(ctx, "u1")
		done <- got
	}()
	<-store.started

	store.mu.Lock()
	store.status.IsPaymentVerified = true
	store.mu.Unlock()
	require.NoError(t, src.Invalidate(ctx, "u1"))

	close(store.release)
	stale := <-done
	require.False(t, stale.IsPaymentVerified)

	got, err := src.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, got.IsPaymentVerified)
	require.True(t, CanAccessPaidFeature(got))
}

func TestCachedSourceFallsBackWhenRedisDown(t *testing.T) {
	store := &staticAccounts{status: AccountStatus{AccountType: "enterprise"}}
	src := &CachedSource{next: store, cache: &mapCache{err: errors.New("connection refused")}, ttl: time.Minute}

	got, err := src.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "enterprise", got.AccountType)
}

func TestStoreSource(t *testing.T) {
	gdb := testutil.NewTestDB(t, &Account{}, &PaymentMethod{})
	ctx := context.Background()

	require.NoError(t, gdb.Create(&Account{UserID: "u1", AccountType: "free", PaymentApprovedBy: ptr("ops-1")}).Error)
	require.NoError(t, gdb.Create(&PaymentMethod{ID: "pm1", UserID: "u1"}).Error)

	src := NewStoreSource(gdb, time.Second)

	got, err := src.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, got.HasPaymentMethod)
	require.True(t, got.IsApproved())
	require.True(t, CanAccessPaidFeature(got))

	got, err = src.Get(ctx, "unknown")
	require.NoError(t, err)
	require.Equal(t, AccountTypeFree, got.AccountType)
	require.True(t, got.IsFreeUser())
	require.False(t, got.HasPaymentMethod)
}
