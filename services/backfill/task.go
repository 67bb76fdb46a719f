package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loyalty-checkin/pkg/db"
	"loyalty-checkin/pkg/task"
	"loyalty-checkin/services/changefeed"
	"loyalty-checkin/services/checkin"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/settings"
	"loyalty-checkin/services/streak"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	TypeStreakRebuild = "streak:rebuild"

	maxTxAttempts = 3
)

var ErrUserRequired = errors.New("backfill: user id is required")

type RebuildPayload struct {
	UserID  string `json:"user_id"`
	TraceID string `json:"trace_id,omitempty"`
}

func NewRebuildTask(p RebuildPayload) (*asynq.Task, error) {
	if p.UserID == "" {
		return nil, ErrUserRequired
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeStreakRebuild, payload,
		asynq.Queue(task.QueueLoyalty),
		asynq.MaxRetry(3),
	), nil
}

// Task recomputes a user's streak record from their check-in history.
type Task struct {
	db        *gorm.DB
	node      *snowflake.Node
	settings  settings.Provider
	engine    *issuance.Engine
	enqueuer  task.Enqueuer
	publisher changefeed.Publisher
}

type TaskParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Settings  settings.Provider
	Engine    *issuance.Engine
	Enqueuer  task.Enqueuer
	Publisher changefeed.Publisher `optional:"true"`
}

func NewTask(p TaskParams) *Task {
	return &Task{
		db:        p.DB,
		node:      p.Node,
		settings:  p.Settings,
		engine:    p.Engine,
		enqueuer:  p.Enqueuer,
		publisher: p.Publisher,
	}
}

// Enqueue schedules a rebuild for userID.
func (t *Task) Enqueue(ctx context.Context, userID string) (*asynq.TaskInfo, error) {
	span := trace.SpanFromContext(ctx)
	job, err := NewRebuildTask(RebuildPayload{UserID: userID, TraceID: span.SpanContext().TraceID().String()})
	if err != nil {
		return nil, err
	}
	return t.enqueuer.Enqueue(ctx, job)
}

func (t *Task) HandleRebuildTask(ctx context.Context, job *asynq.Task) error {
	var payload RebuildPayload
	if err := json.Unmarshal(job.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", job.Type()),
		zap.String("user_id", payload.UserID),
		zap.String("trace_id", payload.TraceID),
	)
	zapLog.Info("start streak rebuild")

	rec, err := t.Rebuild(ctx, payload.UserID)
	if err != nil {
		zapLog.Error("streak rebuild failed", zap.Error(err))
		if errors.Is(err, ErrUserRequired) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if rec == nil {
		zapLog.Info("no check-ins, nothing to rebuild")
		return nil
	}
	zapLog.Info("streak rebuilt",
		zap.Int("current_count", rec.CurrentCount),
		zap.Int("completed_count", rec.CompletedCount),
	)
	return nil
}

// Rebuild replays the user's check-ins through the streak machine with the
// current settings and overwrites the stored record. No coupons are issued.
// MaxCount and CompletedCount never drop below their stored values.
func (t *Task) Rebuild(ctx context.Context, userID string) (*streak.Record, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	s, err := t.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	policy := streak.Policy{BreakDays: s.StreakBreakDays, ExpiryDays: s.StreakExpiryDays}

	ob := changefeed.NewOutbox(t.publisher)
	var rebuilt *streak.Record
	err = db.Retry(ctx, maxTxAttempts, db.IsRetryable, func(attempt int) error {
		ob.Reset()
		if attempt > 1 {
			zap.L().Warn("retrying streak rebuild after conflict", zap.String("user_id", userID), zap.Int("attempt", attempt))
		}
		return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			rec, err := t.rebuildTx(ctx, tx, ob, userID, policy, s.Location)
			if err != nil {
				return err
			}
			rebuilt = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	ob.Flush(ctx)
	return rebuilt, nil
}

func (t *Task) rebuildTx(ctx context.Context, tx *gorm.DB, ob *changefeed.Outbox, userID string, policy streak.Policy, loc *time.Location) (*streak.Record, error) {
	var current *streak.Record
	var existing streak.Record
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&existing).Error
	switch {
	case err == nil:
		current = &existing
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	var dates []string
	err = tx.Model(&checkin.CheckIn{}).
		Where("user_id = ?", userID).
		Order("check_in_date ASC").
		Pluck("check_in_date", &dates).Error
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, nil
	}

	days := make([]streak.Day, 0, len(dates))
	for _, d := range dates {
		day, err := streak.ParseDay(d)
		if err != nil {
			return nil, fmt.Errorf("check-in %s: %w", d, err)
		}
		days = append(days, day)
	}

	prizes, err := t.engine.StreakPrizesTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	thresholds := make([]int, 0, len(prizes))
	for _, p := range prizes {
		thresholds = append(thresholds, *p.StreakThreshold)
	}

	next, _, err := streak.Replay(days, thresholds, policy, loc)
	if err != nil {
		return nil, err
	}
	next.UserID = userID

	if current == nil {
		next.ID = t.node.Generate().String()
		if err := tx.Create(next).Error; err != nil {
			return nil, err
		}
		ob.Insert(changefeed.TableStreakRecords, userID, *next)
	} else {
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.MaxCount = max(next.MaxCount, current.MaxCount)
		next.CompletedCount = max(next.CompletedCount, current.CompletedCount)
		next.Version = current.Version + 1
		if err := tx.Save(next).Error; err != nil {
			return nil, err
		}
		ob.Update(changefeed.TableStreakRecords, userID, *current, *next)
	}
	return next, nil
}
