package readmodel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"loyalty-checkin/pkg/rediskey"
	"loyalty-checkin/services/checkin"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/settings"
	"loyalty-checkin/services/spins"
	"loyalty-checkin/services/streak"
	"loyalty-checkin/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type settingsStub struct {
	s settings.Settings
}

func (s settingsStub) Get(context.Context) (settings.Settings, error) {
	return s.s, nil
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gens map[string]int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte), gens: make(map[string]int64)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, errCacheMiss
	}
	return v, nil
}

func (c *memoryCache) Generation(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key], nil
}

func (c *memoryCache) SetIfGeneration(_ context.Context, key string, gen int64, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

func (c *memoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		c.gens[k]++
	}
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func newTestService(t *testing.T, cache Cache) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t,
		&streak.Record{}, &checkin.CheckIn{}, &spins.UserSpins{},
		&issuance.Prize{}, &issuance.Coupon{},
	)
	svc := &Service{
		db:       db,
		cache:    cache,
		settings: settingsStub{s: settings.Defaults(time.UTC)},
		ttl:      time.Minute,
		now:      func() time.Time { return time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC) },
	}
	return svc, db
}

func TestService_StreakStage(t *testing.T) {
	svc, db := newTestService(t, nil)
	ctx := context.Background()

	view, err := svc.StreakStage(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, streak.Fresh(), view.Stage)

	three, seven := 3, 7
	require.NoError(t, db.Create(&issuance.Prize{ID: "p3", Type: issuance.PrizeTypeStreak, Name: "3", StreakThreshold: &three, IsActive: true}).Error)
	require.NoError(t, db.Create(&issuance.Prize{ID: "p7", Type: issuance.PrizeTypeStreak, Name: "7", StreakThreshold: &seven, IsActive: true}).Error)
	require.NoError(t, db.Create(&streak.Record{
		ID: "s1", UserID: "u1", CurrentCount: 4, MaxCount: 4,
		StartedOn: "2025-05-01", LastCheckIn: "2025-05-09",
	}).Error)

	view, err = svc.StreakStage(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, streak.Active(4), view.Stage)
	require.Equal(t, 7, view.NextThreshold)
}

func TestService_CachesUntilInvalidated(t *testing.T) {
	cache := newMemoryCache()
	svc, db := newTestService(t, cache)
	ctx := context.Background()

	require.NoError(t, db.Create(&spins.UserSpins{ID: "w1", UserID: "u1", AvailableSpins: 2, TotalEarned: 2}).Error)

	got, err := svc.SpinCount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, got.AvailableSpins)
	require.True(t, cache.has(rediskey.BuildReadModelKey(string(KindSpins), "u1")))

	require.NoError(t, db.Model(&spins.UserSpins{}).Where("user_id = ?", "u1").
		Updates(map[string]any{"available_spins": 5, "total_earned": 5}).Error)

	got, err = svc.SpinCount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, got.AvailableSpins)

	require.NoError(t, svc.Invalidate(ctx, "u1", KindSpins))
	got, err = svc.SpinCount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 5, got.AvailableSpins)
}

func TestService_InvalidateDuringComputeSkipsCaching(t *testing.T) {
	cache := newMemoryCache()
	svc, db := newTestService(t, cache)
	ctx := context.Background()
	key := rediskey.BuildReadModelKey(string(KindSpins), "u1")

	require.NoError(t, db.Create(&spins.UserSpins{ID: "w1", UserID: "u1", AvailableSpins: 2, TotalEarned: 2}).Error)

	// the read finishes, then a commit lands and invalidates before the value is cached
	got, err := load(ctx, svc, KindSpins, "u1", func(ctx context.Context, userID string) (SpinsView, error) {
		v, err := svc.computeSpins(ctx, userID)
		require.NoError(t, db.Model(&spins.UserSpins{}).Where("user_id = ?", "u1").
			Updates(map[string]any{"available_spins": 3, "total_earned": 3}).Error)
		require.NoError(t, svc.Invalidate(ctx, "u1", KindSpins))
		return v, err
	})
	require.NoError(t, err)
	require.Equal(t, 2, got.AvailableSpins)
	require.False(t, cache.has(key))

	got, err = svc.SpinCount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 3, got.AvailableSpins)
	require.True(t, cache.has(key))
}

func TestService_ProfileStatsAndCoupons(t *testing.T) {
	svc, db := newTestService(t, newMemoryCache())
	ctx := context.Background()
	now := svc.now()

	require.NoError(t, db.Create(&checkin.CheckIn{ID: "k1", UserID: "u1", BranchID: "b1", CheckInDate: "2025-05-09"}).Error)
	require.NoError(t, db.Create(&checkin.CheckIn{ID: "k2", UserID: "u1", BranchID: "b1", CheckInDate: "2025-05-10"}).Error)
	require.NoError(t, db.Create(&streak.Record{ID: "s1", UserID: "u1", CurrentCount: 2, MaxCount: 6, CompletedCount: 1, StartedOn: "2025-05-09", LastCheckIn: "2025-05-10"}).Error)
	require.NoError(t, db.Create(&issuance.Coupon{ID: "c1", UserID: "u1", PrizeID: "p", UniqueCode: "A", ExpiresAt: now.Add(time.Hour), Source: issuance.SourceStreak}).Error)
	require.NoError(t, db.Create(&issuance.Coupon{ID: "c2", UserID: "u1", PrizeID: "p", UniqueCode: "B", ExpiresAt: now.Add(-time.Hour), Source: issuance.SourceStreak}).Error)
	require.NoError(t, db.Create(&issuance.Coupon{ID: "c3", UserID: "u1", PrizeID: "p", UniqueCode: "C", ExpiresAt: now.Add(time.Hour), IsRedeemed: true, Source: issuance.SourceRoulette}).Error)

	stats, err := svc.ProfileStats(ctx, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalCheckIns)
	require.Equal(t, 2, stats.CurrentStreak)
	require.Equal(t, 6, stats.MaxStreak)
	require.EqualValues(t, 1, stats.ActiveCoupons)
	require.EqualValues(t, 1, stats.RedeemedCoupons)

	coupons, err := svc.AvailableCoupons(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, coupons, 1)
	require.Equal(t, "c1", coupons[0].ID)

	// served from cache after decode
	coupons, err = svc.AvailableCoupons(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "c1", coupons[0].ID)
}
