package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var defaultPolicy = Policy{BreakDays: 12, ExpiryDays: 90}

func mustDay(t *testing.T, s string) Day {
	t.Helper()
	d, err := ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestAdvance_FirstCheckInOpensWindow(t *testing.T) {
	today := mustDay(t, "2025-03-10")

	res, err := Advance(Input{Thresholds: []int{5}, Policy: defaultPolicy, Today: today})
	require.NoError(t, err)

	require.Equal(t, Fresh(), res.Previous)
	require.Equal(t, Active(1), res.Stage)
	require.Equal(t, 1, res.Record.CurrentCount)
	require.Equal(t, 1, res.Record.MaxCount)
	require.Equal(t, "2025-03-10", res.Record.StartedOn)
	require.Equal(t, "2025-03-10", res.Record.LastCheckIn)
	require.Equal(t, time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC), res.Record.ExpiresAt)
	require.Zero(t, res.CrossedThreshold)
}

func TestAdvance_ThresholdCrossing(t *testing.T) {
	today := mustDay(t, "2025-03-10")
	rec := &Record{
		UserID:       "u1",
		CurrentCount: 4,
		MaxCount:     4,
		StartedOn:    today.AddDays(-10).String(),
		LastCheckIn:  today.AddDays(-1).String(),
	}

	t.Run("final threshold completes the cycle", func(t *testing.T) {
		res, err := Advance(Input{Record: rec, Thresholds: []int{3, 5}, Policy: defaultPolicy, Today: today})
		require.NoError(t, err)
		require.Equal(t, 5, res.Record.CurrentCount)
		require.Equal(t, 5, res.CrossedThreshold)
		require.True(t, res.IsJustCompleted)
		require.True(t, res.Record.IsCompleted)
		require.Equal(t, 1, res.Record.CompletedCount)
		require.Equal(t, Completed(5), res.Stage)
	})

	t.Run("intermediate threshold", func(t *testing.T) {
		res, err := Advance(Input{Record: rec, Thresholds: []int{10, 5}, Policy: defaultPolicy, Today: today})
		require.NoError(t, err)
		require.Equal(t, 5, res.CrossedThreshold)
		require.False(t, res.IsJustCompleted)
		require.False(t, res.Record.IsCompleted)
		require.Equal(t, Active(5), res.Stage)
	})

	require.Equal(t, 4, rec.CurrentCount, "input record must not be mutated")
}

func TestAdvance_Broken(t *testing.T) {
	today := mustDay(t, "2025-03-10")
	rec := &Record{
		CurrentCount:   7,
		MaxCount:       9,
		CompletedCount: 2,
		IsCompleted:    true,
		StartedOn:      today.AddDays(-40).String(),
		LastCheckIn:    today.AddDays(-15).String(),
	}

	res, err := Advance(Input{Record: rec, Thresholds: []int{5}, Policy: defaultPolicy, Today: today})
	require.NoError(t, err)

	require.Equal(t, Broken(), res.Stage)
	require.Equal(t, 0, res.Record.CurrentCount)
	require.Equal(t, 9, res.Record.MaxCount)
	require.Equal(t, 2, res.Record.CompletedCount)
	require.False(t, res.Record.IsCompleted)
	require.Equal(t, rec.StartedOn, res.Record.StartedOn)
	require.Equal(t, today.String(), res.Record.LastCheckIn)
}

func TestAdvance_ExpiredWinsOverActivity(t *testing.T) {
	today := mustDay(t, "2025-03-10")
	rec := &Record{
		CurrentCount:   20,
		MaxCount:       20,
		CompletedCount: 1,
		StartedOn:      today.AddDays(-95).String(),
		LastCheckIn:    today.AddDays(-1).String(),
	}

	res, err := Advance(Input{Record: rec, Thresholds: []int{5}, Policy: defaultPolicy, Today: today})
	require.NoError(t, err)

	require.Equal(t, Expired(), res.Stage)
	require.Equal(t, 0, res.Record.CurrentCount)
	require.Equal(t, 1, res.Record.CompletedCount)
	require.Equal(t, today.String(), res.Record.StartedOn)
	require.Equal(t, today.AddDays(90).Time(time.UTC), res.Record.ExpiresAt)
}

func TestAdvance_ExpiryFollowsCurrentPolicy(t *testing.T) {
	today := mustDay(t, "2025-03-10")
	start := today.AddDays(-50)
	rec := &Record{
		CurrentCount: 10,
		MaxCount:     10,
		StartedOn:    start.String(),
		LastCheckIn:  today.AddDays(-1).String(),
		// snapshot taken when the window opened under a 90 day ceiling
		ExpiresAt: start.AddDays(90).Time(time.UTC),
	}

	res, err := Advance(Input{Record: rec, Policy: Policy{BreakDays: 12, ExpiryDays: 30}, Today: today})
	require.NoError(t, err)
	require.Equal(t, Expired(), res.Stage)
	require.Equal(t, today.AddDays(30).Time(time.UTC), res.Record.ExpiresAt)

	res, err = Advance(Input{Record: rec, Policy: defaultPolicy, Today: today})
	require.NoError(t, err)
	require.Equal(t, Active(11), res.Stage)
}

func TestAdvance_GapAtBreakLimitStillCounts(t *testing.T) {
	today := mustDay(t, "2025-03-10")
	rec := &Record{
		CurrentCount: 2,
		StartedOn:    today.AddDays(-20).String(),
		LastCheckIn:  today.AddDays(-12).String(),
	}

	res, err := Advance(Input{Record: rec, Policy: defaultPolicy, Today: today})
	require.NoError(t, err)
	require.Equal(t, Active(3), res.Stage)
}

func TestAdvance_SameDayRejected(t *testing.T) {
	today := mustDay(t, "2025-03-10")
	rec := &Record{CurrentCount: 1, StartedOn: today.String(), LastCheckIn: today.String()}

	_, err := Advance(Input{Record: rec, Policy: defaultPolicy, Today: today})
	require.ErrorIs(t, err, ErrCheckInNotAfterLast)
}

func TestAdvance_CompletedCountPerCrossing(t *testing.T) {
	start := mustDay(t, "2025-01-01")
	days := make([]Day, 0, 8)
	for i := 0; i < 8; i++ {
		days = append(days, start.AddDays(i))
	}

	rec, results, err := Replay(days, []int{3, 5, 3}, defaultPolicy, time.UTC)
	require.NoError(t, err)
	require.Len(t, results, 8)

	for i, res := range results {
		require.Equal(t, i+1, res.Record.CurrentCount)
	}
	require.Equal(t, 3, results[2].CrossedThreshold)
	require.Equal(t, 5, results[4].CrossedThreshold)
	require.True(t, results[4].IsJustCompleted)
	require.False(t, results[7].IsJustCompleted)
	require.Equal(t, Completed(8), results[7].Stage)

	require.Equal(t, 2, rec.CompletedCount)
	require.Equal(t, 8, rec.MaxCount)
}

func TestReplay_BreakStartsNewCycle(t *testing.T) {
	start := mustDay(t, "2025-01-01")
	days := []Day{
		start,
		start.AddDays(1),
		start.AddDays(2),
		start.AddDays(20),
		start.AddDays(21),
		start.AddDays(22),
		start.AddDays(23),
	}

	rec, results, err := Replay(days, []int{3}, defaultPolicy, time.UTC)
	require.NoError(t, err)

	require.Equal(t, Completed(3), results[2].Stage)
	require.Equal(t, Broken(), results[3].Stage)
	require.Equal(t, Active(1), results[4].Stage)
	require.Equal(t, Completed(3), results[6].Stage)
	require.Equal(t, 2, rec.CompletedCount)
	require.Equal(t, start.String(), rec.StartedOn)
}

func TestDerive(t *testing.T) {
	today := mustDay(t, "2025-03-10")

	cases := []struct {
		name   string
		record Record
		want   Stage
	}{
		{name: "no check-in yet", record: Record{}, want: Fresh()},
		{
			name:   "active",
			record: Record{CurrentCount: 3, StartedOn: "2025-03-01", LastCheckIn: "2025-03-09"},
			want:   Active(3),
		},
		{
			name:   "completed",
			record: Record{CurrentCount: 6, IsCompleted: true, StartedOn: "2025-03-01", LastCheckIn: "2025-03-09"},
			want:   Completed(6),
		},
		{
			name:   "gap too long",
			record: Record{CurrentCount: 3, StartedOn: "2025-02-01", LastCheckIn: "2025-02-20"},
			want:   Broken(),
		},
		{
			name:   "reset by break",
			record: Record{CurrentCount: 0, StartedOn: "2025-02-01", LastCheckIn: "2025-03-09"},
			want:   Broken(),
		},
		{
			name:   "reset by expiry",
			record: Record{CurrentCount: 0, StartedOn: "2025-03-09", LastCheckIn: "2025-03-09"},
			want:   Expired(),
		},
		{
			name:   "lifetime exceeded",
			record: Record{CurrentCount: 4, StartedOn: "2024-11-01", LastCheckIn: "2025-03-09"},
			want:   Expired(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Derive(tc.record, defaultPolicy, today))
		})
	}
}

func TestDayOf_UsesLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	instant := time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)

	require.Equal(t, "2025-03-01", DayOf(instant, time.UTC).String())
	require.Equal(t, "2025-03-02", DayOf(instant, jakarta).String())

	a := DayOf(time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC), time.UTC)
	b := DayOf(time.Date(2025, 3, 2, 0, 1, 0, 0, time.UTC), time.UTC)
	require.Equal(t, 1, DaysBetween(a, b))
}
