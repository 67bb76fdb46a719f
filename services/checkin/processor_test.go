package checkin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"loyalty-checkin/pkg/errutil"
	"loyalty-checkin/pkg/sequence"
	"loyalty-checkin/services/changefeed"
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

func intPtr(v int) *int { return &v }

type fixture struct {
	db   *gorm.DB
	proc *Processor
	hub  *changefeed.Hub
	node *snowflake.Node
	now  time.Time
}

var testModels = []any{
	&Branch{}, &CheckIn{}, &streak.Record{},
	&issuance.Prize{}, &issuance.Coupon{}, &spins.UserSpins{},
}

func newFixture(t *testing.T, s settings.Settings) *fixture {
	t.Helper()
	return newFixtureOn(t, testutil.NewTestDB(t, testModels...), s)
}

func newFixtureOn(t *testing.T, db *gorm.DB, s settings.Settings) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	hub := changefeed.NewHub("public")
	provider := settingsStub{s: s}

	engine := issuance.NewEngine(issuance.EngineParams{
		DB:        db,
		Node:      node,
		Seq:       sequence.RandomGenerator{},
		Settings:  provider,
		Publisher: hub,
	})
	proc := NewProcessor(ProcessorParams{
		DB:        db,
		Node:      node,
		Settings:  provider,
		Engine:    engine,
		Wallet:    spins.NewWallet(spins.WalletParams{Node: node}),
		Publisher: hub,
	})

	f := &fixture{db: db, proc: proc, hub: hub, node: node, now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	proc.now = func() time.Time { return f.now }

	require.NoError(t, db.Create(&Branch{ID: "b1", Name: "Main", IsActive: true}).Error)
	return f
}

func (f *fixture) seedStreakPrize(t *testing.T, threshold int, inventory *int) issuance.Prize {
	t.Helper()
	p := issuance.Prize{
		ID:              f.node.Generate().String(),
		Type:            issuance.PrizeTypeStreak,
		Name:            "streak reward",
		StreakThreshold: intPtr(threshold),
		InventoryCount:  inventory,
		ValidityDays:    30,
		IsActive:        true,
		CreatedAt:       f.now,
	}
	require.NoError(t, f.db.Create(&p).Error)
	return p
}

func (f *fixture) checkInDays(t *testing.T, userID string, days int) *Outcome {
	t.Helper()
	var out *Outcome
	for i := 0; i < days; i++ {
		var err error
		out, err = f.proc.ProcessCheckIn(context.Background(), Request{UserID: userID, BranchID: "b1"})
		require.NoError(t, err)
		f.now = f.now.AddDate(0, 0, 1)
	}
	return out
}

func TestProcessCheckIn_FirstCheckIn(t *testing.T) {
	f := newFixture(t, settings.Defaults(time.UTC))
	ctx := context.Background()

	sub, err := f.hub.Subscribe(ctx, changefeed.Filter{Tables: changefeed.UserTables, UserID: "u1"})
	require.NoError(t, err)
	defer sub.Close()

	out, err := f.proc.ProcessCheckIn(ctx, Request{UserID: "u1", BranchID: "b1"})
	require.NoError(t, err)
	require.False(t, out.Replayed)
	require.Equal(t, streak.Fresh(), out.Result.Streak.Previous)
	require.Equal(t, streak.Active(1), out.Result.Streak.Stage)
	require.Equal(t, 1, out.Result.SpinsEarned)
	require.Equal(t, "2025-04-01", out.CheckIn.CheckInDate)
	require.Empty(t, out.Result.Coupons)

	balance, err := spins.Balance(ctx, f.db, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, balance.AvailableSpins)

	tables := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case evt := <-sub.Events():
			tables[evt.Table] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for change events")
		}
	}
	require.Equal(t, map[string]bool{
		changefeed.TableStreakRecords: true,
		changefeed.TableUserSpins:     true,
		changefeed.TableCheckIns:      true,
	}, tables)
}

func TestProcessCheckIn_SameDayReplaysResult(t *testing.T) {
	f := newFixture(t, settings.Defaults(time.UTC))
	ctx := context.Background()
	f.seedStreakPrize(t, 1, nil)

	first, err := f.proc.ProcessCheckIn(ctx, Request{UserID: "u1", BranchID: "b1"})
	require.NoError(t, err)
	require.Len(t, first.Result.Coupons, 1)

	f.now = f.now.Add(6 * time.Hour)
	second, err := f.proc.ProcessCheckIn(ctx, Request{UserID: "u1", BranchID: "b1"})
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.CheckIn.ID, second.CheckIn.ID)
	require.Equal(t, first.Result.Streak.Stage, second.Result.Streak.Stage)
	require.Equal(t, first.Result.Coupons[0].ID, second.Result.Coupons[0].ID)

	var checkIns, coupons int64
	require.NoError(t, f.db.Model(&CheckIn{}).Count(&checkIns).Error)
	require.NoError(t, f.db.Model(&issuance.Coupon{}).Count(&coupons).Error)
	require.EqualValues(t, 1, checkIns)
	require.EqualValues(t, 1, coupons)

	balance, err := spins.Balance(ctx, f.db, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, balance.TotalEarned)
}

func TestProcessCheckIn_ThresholdIssuesLinkedCoupon(t *testing.T) {
	f := newFixture(t, settings.Defaults(time.UTC))
	prize := f.seedStreakPrize(t, 3, intPtr(5))

	out := f.checkInDays(t, "u1", 3)
	require.Equal(t, 3, out.Result.Streak.CrossedThreshold)
	require.True(t, out.Result.Streak.IsJustCompleted)
	require.Equal(t, streak.Completed(3), out.Result.Streak.Stage)
	require.Len(t, out.Result.Coupons, 1)

	coupon := out.Result.Coupons[0]
	require.Equal(t, prize.ID, coupon.PrizeID)
	require.Equal(t, issuance.SourceStreak, coupon.Source)
	require.NotNil(t, coupon.CheckInID)
	require.Equal(t, out.CheckIn.ID, *coupon.CheckInID)

	var stored CheckIn
	require.NoError(t, f.db.Where("id = ?", out.CheckIn.ID).First(&stored).Error)
	var result Result
	require.NoError(t, json.Unmarshal(stored.Result, &result))
	require.Equal(t, coupon.ID, result.Coupons[0].ID)

	var p issuance.Prize
	require.NoError(t, f.db.Where("id = ?", prize.ID).First(&p).Error)
	require.Equal(t, 4, *p.InventoryCount)
}

func TestProcessCheckIn_OutOfStockPrizeIsUnfulfilled(t *testing.T) {
	f := newFixture(t, settings.Defaults(time.UTC))
	empty := f.seedStreakPrize(t, 2, intPtr(0))

	out := f.checkInDays(t, "u1", 2)
	require.Equal(t, 2, out.Result.Streak.CurrentCount)
	require.Empty(t, out.Result.Coupons)
	require.Equal(t, []string{empty.ID}, out.Result.Unfulfilled)
}

func TestProcessCheckIn_BranchValidation(t *testing.T) {
	f := newFixture(t, settings.Defaults(time.UTC))
	ctx := context.Background()
	require.NoError(t, f.db.Create(&Branch{ID: "closed", Name: "Closed"}).Error)

	_, err := f.proc.ProcessCheckIn(ctx, Request{UserID: "u1", BranchID: "nope"})
	require.ErrorIs(t, err, ErrBranchNotFound)

	_, err = f.proc.ProcessCheckIn(ctx, Request{UserID: "u1", BranchID: "closed"})
	require.ErrorIs(t, err, ErrBranchInactive)

	_, err = f.proc.ProcessCheckIn(ctx, Request{BranchID: "b1"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	var count int64
	require.NoError(t, f.db.Model(&streak.Record{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestProcessCheckIn_BranchDailyLimit(t *testing.T) {
	s := settings.Defaults(time.UTC)
	s.MaxCheckInsPerDay = 2
	f := newFixture(t, s)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2"} {
		_, err := f.proc.ProcessCheckIn(ctx, Request{UserID: user, BranchID: "b1"})
		require.NoError(t, err)
	}

	_, err := f.proc.ProcessCheckIn(ctx, Request{UserID: "u3", BranchID: "b1"})
	require.ErrorIs(t, err, ErrBranchDailyLimitReached)

	// replays are not counted against the cap
	out, err := f.proc.ProcessCheckIn(ctx, Request{UserID: "u1", BranchID: "b1"})
	require.NoError(t, err)
	require.True(t, out.Replayed)

	f.now = f.now.AddDate(0, 0, 1)
	_, err = f.proc.ProcessCheckIn(ctx, Request{UserID: "u3", BranchID: "b1"})
	require.NoError(t, err)
}

func TestProcessCheckIn_BrokenAndExpired(t *testing.T) {
	cases := []struct {
		name      string
		startedOn string
		lastOn    string
		want      streak.Stage
	}{
		{name: "gap beyond break window", startedOn: "2025-03-01", lastOn: "2025-03-15", want: streak.Broken()},
		{name: "window lifetime exceeded", startedOn: "2024-12-01", lastOn: "2025-03-31", want: streak.Expired()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, settings.Defaults(time.UTC))
			require.NoError(t, f.db.Create(&streak.Record{
				ID:           "s1",
				UserID:       "u1",
				CurrentCount: 6,
				MaxCount:     6,
				StartedOn:    tc.startedOn,
				LastCheckIn:  tc.lastOn,
			}).Error)

			out, err := f.proc.ProcessCheckIn(context.Background(), Request{UserID: "u1", BranchID: "b1"})
			require.NoError(t, err)
			require.Equal(t, tc.want, out.Result.Streak.Previous)
			require.Equal(t, tc.want, out.Result.Streak.Stage)
			require.Equal(t, 0, out.Result.Streak.CurrentCount)
			require.Equal(t, 6, out.Result.Streak.MaxCount)
			require.Equal(t, 1, out.Result.SpinsEarned)

			var rec streak.Record
			require.NoError(t, f.db.Where("user_id = ?", "u1").First(&rec).Error)
			require.Equal(t, "2025-04-01", rec.LastCheckIn)
			require.Equal(t, 0, rec.CurrentCount)
		})
	}
}

func TestProcessCheckIn_DayFollowsConfiguredZone(t *testing.T) {
	s := settings.Defaults(time.FixedZone("WIB", 7*60*60))
	f := newFixture(t, s)
	f.now = time.Date(2025, 4, 1, 20, 0, 0, 0, time.UTC)

	out, err := f.proc.ProcessCheckIn(context.Background(), Request{UserID: "u1", BranchID: "b1"})
	require.NoError(t, err)
	require.Equal(t, "2025-04-02", out.CheckIn.CheckInDate)
}

func TestProcessCheckIn_ConcurrentFirstCheckIns(t *testing.T) {
	const callers = 8
	f := newFixtureOn(t, testutil.NewConcurrentTestDB(t, callers, testModels...), settings.Defaults(time.UTC))
	ctx := context.Background()

	outcomes := make([]*Outcome, callers)
	var g errgroup.Group
	for i := range callers {
		g.Go(func() error {
			out, err := f.proc.ProcessCheckIn(ctx, Request{UserID: "u1", BranchID: "b1"})
			outcomes[i] = out
			return err
		})
	}
	require.NoError(t, g.Wait())

	var rows int64
	require.NoError(t, f.db.Model(&CheckIn{}).Where("user_id = ?", "u1").Count(&rows).Error)
	require.EqualValues(t, 1, rows)

	balance, err := spins.Balance(ctx, f.db, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, balance.AvailableSpins)

	var records int64
	require.NoError(t, f.db.Model(&streak.Record{}).Where("user_id = ?", "u1").Count(&records).Error)
	require.EqualValues(t, 1, records)

	replayed := 0
	want, err := json.Marshal(outcomes[0].Result)
	require.NoError(t, err)
	for _, out := range outcomes {
		require.Equal(t, outcomes[0].CheckIn.ID, out.CheckIn.ID)
		got, err := json.Marshal(out.Result)
		require.NoError(t, err)
		require.JSONEq(t, string(want), string(got))
		if out.Replayed {
			replayed++
		}
	}
	require.Equal(t, callers-1, replayed)
}

func TestToAPIError(t *testing.T) {
	require.NoError(t, ToAPIError(nil))

	cases := map[error]errutil.CoreStatus{
		ErrBranchNotFound:             errutil.StatusNotFound,
		ErrBranchDailyLimitReached:    errutil.StatusTooManyRequests,
		streak.ErrCheckInNotAfterLast: errutil.StatusConflict,
		issuance.ErrTransient:         errutil.StatusServiceUnavailable,
	}
	for in, want := range cases {
		var be errutil.BaseError
		err := ToAPIError(in)
		require.ErrorAs(t, err, &be)
		require.Equal(t, want, be.Status())
		require.ErrorIs(t, err, in)
	}
}
