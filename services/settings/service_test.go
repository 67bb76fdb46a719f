package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loyalty-checkin/pkg/config"
	"loyalty-checkin/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Setting{})
	cfg := &config.Config{}
	cfg.Settings.CacheTTL = time.Minute

	return NewService(ServiceParams{DB: db, Config: cfg})
}

func TestService_GetDefaults(t *testing.T) {
	svc := newTestService(t)

	got, err := svc.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12, got.StreakBreakDays)
	require.Equal(t, 90, got.StreakExpiryDays)
	require.Equal(t, 1, got.CheckInSpins)
	require.Equal(t, 0, got.MaxCheckInsPerDay)
	require.Equal(t, time.UTC, got.Location)
}

func TestService_SetInvalidatesCache(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Set(ctx, KeyStreakBreakDays, "7"))
	require.NoError(t, svc.Set(ctx, KeyCheckInSpins, "3"))
	require.NoError(t, svc.Set(ctx, KeyStreakBreakDays, "5"))

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, got.StreakBreakDays)
	require.Equal(t, 3, got.CheckInSpins)
}

func TestService_CachesUntilTTL(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, err := svc.Get(ctx)
	require.NoError(t, err)

	// bypass Set so the cache is not dropped
	require.NoError(t, svc.db.Create(&Setting{Key: KeyStreakExpiryDays, Value: "30"}).Error)

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 90, got.StreakExpiryDays)

	now = now.Add(2 * time.Minute)
	got, err = svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 30, got.StreakExpiryDays)
}

func TestParse_InvalidValuesKeepDefaults(t *testing.T) {
	got := Parse([]Setting{
		{Key: KeyStreakBreakDays, Value: "-1"},
		{Key: KeyStreakExpiryDays, Value: "abc"},
		{Key: KeyMaxCheckInsPerDay, Value: "20"},
		{Key: KeyTimezone, Value: "Not/AZone"},
		{Key: KeyRouletteLoseWeight, Value: "40"},
	}, Defaults(time.UTC))

	require.Equal(t, 12, got.StreakBreakDays)
	require.Equal(t, 90, got.StreakExpiryDays)
	require.Equal(t, 20, got.MaxCheckInsPerDay)
	require.Equal(t, int64(40), got.RouletteLoseWeight)
	require.Equal(t, time.UTC, got.Location)
}

func TestService_SetValidates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Set(ctx, "nope", "1"), ErrUnknownKey)
	require.ErrorIs(t, svc.Set(ctx, KeyStreakBreakDays, "-3"), ErrInvalidValue)
	require.ErrorIs(t, svc.Set(ctx, KeyTimezone, "Mars/Base"), ErrInvalidValue)
	require.NoError(t, svc.Set(ctx, KeyTimezone, "UTC"))
}
