package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"seekcap-controlplane/pkg/db"
	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/repository"
	"seekcap-controlplane/pkg/rediskey"
	"seekcap-controlplane/pkg/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	accountCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_account_cache_hits_total",
		Help: "Account status lookups served from redis.",
	})
	accountCacheMiss = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_account_cache_miss_total",
		Help: "Account status lookups that went to the store.",
	})
)

// AccountSource reads the account payment projection. Invalidate must be
// called whenever payment state changes.
type AccountSource interface {
	Get(ctx context.Context, userID string) (AccountStatus, error)
	Invalidate(ctx context.Context, userID string) error
}

// StoreSource reads accounts and payment_methods directly.
type StoreSource struct {
	accounts repository.Repository[Account]
	methods  repository.Repository[PaymentMethod]
	timeout  time.Duration
}

func NewStoreSource(gdb *gorm.DB, timeout time.Duration) *StoreSource {
	return &StoreSource{
		accounts: repository.ProvideStore[Account](gdb),
		methods:  repository.ProvideStore[PaymentMethod](gdb),
		timeout:  timeout,
	}
}

// Get returns a free account when the user has no accounts row yet.
func (s *StoreSource) Get(ctx context.Context, userID string) (AccountStatus, error) {
	if userID == "" {
		return AccountStatus{AccountType: AccountTypeFree}, nil
	}

	return retry.Read(ctx, "entitlement.account", func(ctx context.Context) (AccountStatus, error) {
		ctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()

		status := AccountStatus{UserID: userID, AccountType: AccountTypeFree}
		acc, err := s.accounts.FindOne(ctx, &Account{UserID: userID})
		if err != nil {
			return status, errutil.FromStore(err, false)
		}
		if acc != nil {
			status.AccountType = acc.AccountType
			status.IsPaymentVerified = acc.IsPaymentVerified
			status.PaymentApprovedBy = acc.PaymentApprovedBy
			status.StripeCustomerID = acc.StripeCustomerID
		}

		n, err := s.methods.Count(ctx, &PaymentMethod{UserID: userID})
		if err != nil {
			return status, errutil.FromStore(err, false)
		}
		status.HasPaymentMethod = n > 0
		return status, nil
	})
}

func (s *StoreSource) Invalidate(ctx context.Context, userID string) error { return nil }

type accountCache interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	del(ctx context.Context, key string) error
}

var errCacheMiss = errors.New("cache miss")

type redisCache struct {
	rdb *redis.Client
}

func (c redisCache) get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	return b, err
}

func (c redisCache) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c redisCache) del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// CachedSource keeps account projections in redis for a short TTL.
// Concurrent misses for one user share a single store read. Redis errors
// fall back to the store.
type CachedSource struct {
	next  AccountSource
	cache accountCache
	ttl   time.Duration
	group singleflight.Group

	mu   sync.Mutex
	gens map[string]uint64
}

func (s *CachedSource) generation(userID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[userID]
}

func (s *CachedSource) bump(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens == nil {
		s.gens = map[string]uint64{}
	}
	s.gens[userID]++
}

func NewCachedSource(next AccountSource, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, cache: redisCache{rdb: rdb}, ttl: ttl}
}

func (s *CachedSource) Get(ctx context.Context, userID string) (AccountStatus, error) {
	log := zap.L().With(logFields(ctx)...).With(zap.String("user_id", userID))
	key := rediskey.BuildAccountKey(userID)

	b, err := s.cache.get(ctx, key)
	switch {
	case err == nil:
		var status AccountStatus
		uerr := json.Unmarshal(b, &status)
		if uerr == nil {
			accountCacheHits.Inc()
			return status, nil
		}
		log.Warn("discarding malformed cached account", zap.Error(uerr))
	case !errors.Is(err, errCacheMiss):
		log.Warn("account cache unavailable", zap.Error(err))
	}
	accountCacheMiss.Inc()

	v, err, _ := s.group.Do(userID, func() (any, error) {
		gen := s.generation(userID)
		status, err := s.next.Get(context.WithoutCancel(ctx), userID)
		if err != nil {
			return status, err
		}
		if b, err := json.Marshal(status); err == nil {
			if err := s.cache.set(ctx, key, b, s.ttl); err != nil {
				log.Warn("failed to cache account", zap.Error(err))
			}
		}
		// An Invalidate that ran during the read bumped the generation. Its
		// delete may have landed before our set, so drop the stale snapshot.
		if s.generation(userID) != gen {
			if err := s.cache.del(ctx, key); err != nil {
				log.Warn("failed to drop stale cached account", zap.Error(err))
			}
		}
		return status, nil
	})
	if err != nil {
		return AccountStatus{}, err
	}
	return v.(AccountStatus), nil
}

// Invalidate drops the cached projection. A read already in flight will not
// repopulate the cache with the snapshot it took before this call.
func (s *CachedSource) Invalidate(ctx context.Context, userID string) error {
	s.bump(userID)
	s.group.Forget(userID)
	if err := s.cache.del(ctx, rediskey.BuildAccountKey(userID)); err != nil {
		return errutil.UpstreamUnavailable("failed to invalidate account cache", err)
	}
	return nil
}
