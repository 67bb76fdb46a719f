package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loyalty-checkin/pkg/db"
	"loyalty-checkin/services/changefeed"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/settings"
	"loyalty-checkin/services/spins"
	"loyalty-checkin/services/streak"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxTxAttempts = 3

type Processor struct {
	db        *gorm.DB
	node      *snowflake.Node
	settings  settings.Provider
	engine    *issuance.Engine
	wallet    *spins.Wallet
	publisher changefeed.Publisher
	now       func() time.Time
}

type ProcessorParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Settings  settings.Provider
	Engine    *issuance.Engine
	Wallet    *spins.Wallet
	Publisher changefeed.Publisher `optional:"true"`
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{
		db:        p.DB,
		node:      p.Node,
		settings:  p.Settings,
		engine:    p.Engine,
		wallet:    p.Wallet,
		publisher: p.Publisher,
		now:       time.Now,
	}
}

// ProcessCheckIn records one check-in for req.UserID. A second request on the
// same calendar day returns the stored outcome with Replayed set.
func (p *Processor) ProcessCheckIn(ctx context.Context, req Request) (*Outcome, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("user_id", req.UserID),
		zap.String("branch_id", req.BranchID),
	)

	if req.UserID == "" || req.BranchID == "" {
		return nil, ErrInvalidRequest
	}

	s, err := p.settings.Get(ctx)
	if err != nil {
		zapLog.Error("failed to load settings", zap.Error(err))
		return nil, err
	}
	today := streak.DayOf(p.now(), s.Location)

	ob := changefeed.NewOutbox(p.publisher)
	var out *Outcome
	err = db.Retry(ctx, maxTxAttempts, db.IsRetryable, func(attempt int) error {
		ob.Reset()
		if attempt > 1 {
			zapLog.Warn("retrying check-in after conflict", zap.Int("attempt", attempt))
		}
		return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			o, err := p.processTx(ctx, tx, ob, req, s, today)
			if err != nil {
				return err
			}
			out = o
			return nil
		})
	})
	if err != nil {
		if db.IsRetryable(err) {
			err = fmt.Errorf("%w: %v", issuance.ErrTransient, err)
		}
		checkInsProcessed.WithLabelValues(outcomeLabel(err)).Inc()
		zapLog.Warn("check-in rejected", zap.Error(err))
		return nil, err
	}

	ob.Flush(ctx)

	if out.Replayed {
		checkInsProcessed.WithLabelValues("replayed").Inc()
		zapLog.Info("check-in replayed", zap.String("check_in_id", out.CheckIn.ID))
		return out, nil
	}

	checkInsProcessed.WithLabelValues("recorded").Inc()
	streakTransitions.WithLabelValues(string(out.Result.Streak.Stage.Kind)).Inc()
	zapLog.Info("check-in recorded",
		zap.String("check_in_id", out.CheckIn.ID),
		zap.String("stage", string(out.Result.Streak.Stage.Kind)),
		zap.Int("current_count", out.Result.Streak.CurrentCount),
		zap.Int("coupons", len(out.Result.Coupons)),
	)
	return out, nil
}

func (p *Processor) processTx(ctx context.Context, tx *gorm.DB, ob *changefeed.Outbox, req Request, s settings.Settings, today streak.Day) (*Outcome, error) {
	// serialize check-ins of one user on the streak row
	var current *streak.Record
	var rec streak.Record
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", req.UserID).
		First(&rec).Error
	switch {
	case err == nil:
		current = &rec
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	if existing, err := p.findCheckIn(ctx, tx, req.UserID, today); err != nil {
		return nil, err
	} else if existing != nil {
		return replay(existing)
	}

	var branch Branch
	if err := tx.WithContext(ctx).Where("id = ?", req.BranchID).First(&branch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBranchNotFound
		}
		return nil, err
	}
	if !branch.IsActive {
		return nil, ErrBranchInactive
	}

	if s.MaxCheckInsPerDay > 0 {
		var count int64
		err := tx.WithContext(ctx).Model(&CheckIn{}).
			Where("branch_id = ? AND check_in_date = ?", branch.ID, today.String()).
			Count(&count).Error
		if err != nil {
			return nil, err
		}
		if count >= int64(s.MaxCheckInsPerDay) {
			return nil, ErrBranchDailyLimitReached
		}
	}

	prizes, err := p.engine.StreakPrizesTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	thresholds := make([]int, 0, len(prizes))
	for _, prize := range prizes {
		thresholds = append(thresholds, *prize.StreakThreshold)
	}

	res, err := streak.Advance(streak.Input{
		Record:     current,
		Thresholds: thresholds,
		Policy:     streak.Policy{BreakDays: s.StreakBreakDays, ExpiryDays: s.StreakExpiryDays},
		Today:      today,
		Location:   s.Location,
	})
	if err != nil {
		return nil, err
	}

	next := res.Record
	if current == nil {
		next.ID = p.node.Generate().String()
		next.UserID = req.UserID
		if err := tx.WithContext(ctx).Create(&next).Error; err != nil {
			return nil, err
		}
		ob.Insert(changefeed.TableStreakRecords, req.UserID, next)
	} else {
		if err := tx.WithContext(ctx).Save(&next).Error; err != nil {
			return nil, err
		}
		ob.Update(changefeed.TableStreakRecords, req.UserID, *current, next)
	}

	if _, err := p.wallet.CreditTx(ctx, tx, ob, req.UserID, s.CheckInSpins); err != nil {
		return nil, err
	}

	checkInID := p.node.Generate().String()
	result := Result{
		Streak: StreakResult{
			Previous:         res.Previous,
			Stage:            res.Stage,
			CurrentCount:     next.CurrentCount,
			MaxCount:         next.MaxCount,
			CompletedCount:   next.CompletedCount,
			IsCompleted:      next.IsCompleted,
			IsJustCompleted:  res.IsJustCompleted,
			CrossedThreshold: res.CrossedThreshold,
			ExpiresAt:        next.ExpiresAt,
		},
		SpinsEarned: s.CheckInSpins,
		Coupons:     []issuance.Coupon{},
	}

	if res.CrossedThreshold > 0 {
		for _, prize := range prizes {
			if *prize.StreakThreshold != res.CrossedThreshold {
				continue
			}
			coupon, err := p.engine.IssueTx(ctx, tx, ob, issuance.IssueRequest{
				PrizeID:   prize.ID,
				UserID:    req.UserID,
				Source:    issuance.SourceStreak,
				CheckInID: &checkInID,
			})
			if errors.Is(err, issuance.ErrOutOfStock) || errors.Is(err, issuance.ErrPrizeInactive) {
				result.Unfulfilled = append(result.Unfulfilled, prize.ID)
				continue
			}
			if err != nil {
				return nil, err
			}
			result.Coupons = append(result.Coupons, *coupon)
		}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	checkIn := CheckIn{
		ID:          checkInID,
		UserID:      req.UserID,
		BranchID:    branch.ID,
		VerifiedBy:  req.VerifiedBy,
		SpinsEarned: s.CheckInSpins,
		CheckInDate: today.String(),
		Result:      datatypes.JSON(payload),
		CreatedAt:   p.now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&checkIn).Error; err != nil {
		return nil, err
	}
	ob.Insert(changefeed.TableCheckIns, req.UserID, checkIn)

	return &Outcome{CheckIn: checkIn, Result: result}, nil
}

func (p *Processor) findCheckIn(ctx context.Context, tx *gorm.DB, userID string, day streak.Day) (*CheckIn, error) {
	var existing CheckIn
	err := tx.WithContext(ctx).
		Where("user_id = ? AND check_in_date = ?", userID, day.String()).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

func replay(existing *CheckIn) (*Outcome, error) {
	var result Result
	if len(existing.Result) > 0 {
		if err := json.Unmarshal(existing.Result, &result); err != nil {
			return nil, fmt.Errorf("decode stored check-in result: %w", err)
		}
	}
	return &Outcome{CheckIn: *existing, Result: result, Replayed: true}, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrBranchInactive), errors.Is(err, ErrBranchNotFound):
		return "rejected_branch"
	case errors.Is(err, ErrBranchDailyLimitReached):
		return "rejected_limit"
	case errors.Is(err, issuance.ErrTransient):
		return "transient"
	default:
		return "failed"
	}
}
