package backfill

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"loyalty-checkin/pkg/sequence"
	"loyalty-checkin/services/checkin"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/settings"
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

type enqueuerStub struct {
	tasks []*asynq.Task
}

func (e *enqueuerStub) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, t)
	return &asynq.TaskInfo{ID: "job-1", Type: t.Type()}, nil
}

func newTestTask(t *testing.T) (*Task, *gorm.DB, *enqueuerStub) {
	t.Helper()
	db := testutil.NewTestDB(t, &checkin.CheckIn{}, &streak.Record{}, &issuance.Prize{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	provider := settingsStub{s: settings.Defaults(time.UTC)}
	engine := issuance.NewEngine(issuance.EngineParams{DB: db, Node: node, Seq: sequence.RandomGenerator{}, Settings: provider})
	enq := &enqueuerStub{}

	return NewTask(TaskParams{DB: db, Node: node, Settings: provider, Engine: engine, Enqueuer: enq}), db, enq
}

func seedCheckIns(t *testing.T, db *gorm.DB, userID string, dates ...string) {
	t.Helper()
	for i, d := range dates {
		require.NoError(t, db.Create(&checkin.CheckIn{
			ID:          userID + "-" + string(rune('a'+i)),
			UserID:      userID,
			BranchID:    "b1",
			CheckInDate: d,
		}).Error)
	}
}

func TestRebuild_OverwritesDriftedRecord(t *testing.T) {
	task, db, _ := newTestTask(t)
	ctx := context.Background()

	three := 3
	require.NoError(t, db.Create(&issuance.Prize{ID: "p3", Type: issuance.PrizeTypeStreak, Name: "3", StreakThreshold: &three, IsActive: true}).Error)
	require.NoError(t, db.Create(&streak.Record{ID: "s1", UserID: "u1", CurrentCount: 42, MaxCount: 42, CompletedCount: 4, Version: 7, StartedOn: "2025-01-01", LastCheckIn: "2025-01-01"}).Error)
	seedCheckIns(t, db, "u1", "2025-01-03", "2025-01-01", "2025-01-02", "2025-01-30")

	rec, err := task.Rebuild(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "s1", rec.ID)
	require.EqualValues(t, 8, rec.Version)

	var stored streak.Record
	require.NoError(t, db.Where("user_id = ?", "u1").First(&stored).Error)
	require.Equal(t, 0, stored.CurrentCount)
	require.Equal(t, "2025-01-30", stored.LastCheckIn)
	require.Equal(t, "2025-01-01", stored.StartedOn)

	// high-water marks survive a replay that counts less
	require.Equal(t, 42, stored.MaxCount)
	require.Equal(t, 4, stored.CompletedCount)
}

func TestRebuild_RaisesCountersFromHistory(t *testing.T) {
	task, db, _ := newTestTask(t)

	three := 3
	require.NoError(t, db.Create(&issuance.Prize{ID: "p3", Type: issuance.PrizeTypeStreak, Name: "3", StreakThreshold: &three, IsActive: true}).Error)
	require.NoError(t, db.Create(&streak.Record{ID: "s1", UserID: "u1", CurrentCount: 1, MaxCount: 1, StartedOn: "2025-01-01", LastCheckIn: "2025-01-01"}).Error)
	seedCheckIns(t, db, "u1", "2025-01-01", "2025-01-02", "2025-01-03", "2025-01-04")

	rec, err := task.Rebuild(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 4, rec.CurrentCount)
	require.Equal(t, 4, rec.MaxCount)
	require.Equal(t, 1, rec.CompletedCount)
}

func TestRebuild_RetriesConflictingCreate(t *testing.T) {
	task, db, _ := newTestTask(t)
	seedCheckIns(t, db, "u3", "2025-02-01")

	// the first insert of the record loses to a concurrent check-in
	var creates atomic.Int32
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:conflict", func(tx *gorm.DB) {
		if tx.Statement.Table == "streak_records" && creates.Add(1) == 1 {
			_ = tx.AddError(gorm.ErrDuplicatedKey)
		}
	}))

	rec, err := task.Rebuild(context.Background(), "u3")
	require.NoError(t, err)
	require.Equal(t, 1, rec.CurrentCount)
	require.EqualValues(t, 2, creates.Load())

	var count int64
	require.NoError(t, db.Model(&streak.Record{}).Where("user_id = ?", "u3").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRebuild_CreatesMissingRecord(t *testing.T) {
	task, db, _ := newTestTask(t)
	seedCheckIns(t, db, "u2", "2025-02-01", "2025-02-02")

	rec, err := task.Rebuild(context.Background(), "u2")
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, 2, rec.CurrentCount)

	rec, err = task.Rebuild(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestHandleRebuildTask(t *testing.T) {
	task, db, enq := newTestTask(t)
	seedCheckIns(t, db, "u1", "2025-02-01")

	_, err := task.Enqueue(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TypeStreakRebuild, enq.tasks[0].Type())

	var payload RebuildPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, "u1", payload.UserID)

	require.NoError(t, task.HandleRebuildTask(context.Background(), enq.tasks[0]))

	err = task.HandleRebuildTask(context.Background(), asynq.NewTask(TypeStreakRebuild, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
