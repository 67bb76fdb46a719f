package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loyalty-checkin/pkg/config"
	"loyalty-checkin/pkg/rediskey"
	"loyalty-checkin/services/checkin"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/settings"
	"loyalty-checkin/services/spins"
	"loyalty-checkin/services/streak"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var Module = fx.Module("readmodel",
	fx.Provide(NewService),
)

// Service computes per-user read models from the database and caches them.
// Without a cache every read goes to the database.
type Service struct {
	db       *gorm.DB
	cache    Cache
	settings settings.Provider
	ttl      time.Duration
	now      func() time.Time
	group    singleflight.Group
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Config   *config.Config
	Settings settings.Provider
	Redis    *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	var cache Cache
	if p.Redis != nil {
		cache = NewRedisCache(p.Redis)
	}
	return &Service{
		db:       p.DB,
		cache:    cache,
		settings: p.Settings,
		ttl:      p.Config.ReadModel.TTL,
		now:      time.Now,
	}
}

func (s *Service) StreakStage(ctx context.Context, userID string) (StreakView, error) {
	return load(ctx, s, KindStreak, userID, s.computeStreak)
}

func (s *Service) SpinCount(ctx context.Context, userID string) (SpinsView, error) {
	return load(ctx, s, KindSpins, userID, s.computeSpins)
}

func (s *Service) AvailableCoupons(ctx context.Context, userID string) ([]issuance.Coupon, error) {
	return load(ctx, s, KindCoupons, userID, s.computeCoupons)
}

func (s *Service) ProfileStats(ctx context.Context, userID string) (ProfileStats, error) {
	return load(ctx, s, KindProfileStats, userID, s.computeProfileStats)
}

// Invalidate drops the cached models of userID. No kinds means all of them.
func (s *Service) Invalidate(ctx context.Context, userID string, kinds ...Kind) error {
	if s.cache == nil {
		return nil
	}
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	keys := make([]string, 0, len(kinds))
	for _, k := range kinds {
		keys = append(keys, rediskey.BuildReadModelKey(string(k), userID))
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		zap.L().Warn("failed to invalidate read models", zap.String("user_id", userID), zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	invalidations.Add(float64(len(keys)))
	return nil
}

func load[T any](ctx context.Context, s *Service, kind Kind, userID string, compute func(context.Context, string) (T, error)) (T, error) {
	key := rediskey.BuildReadModelKey(string(kind), userID)
	zapLog := zap.L().With(zap.String("key", key))

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				cacheLookups.WithLabelValues(string(kind), "hit").Inc()
				return v, nil
			}
			zapLog.Warn("discarding undecodable read model")
		case !errors.Is(err, errCacheMiss):
			zapLog.Warn("read model cache unavailable", zap.Error(err))
		}
	}
	cacheLookups.WithLabelValues(string(kind), "miss").Inc()

	// a flight that began before an invalidation must not serve callers after it
	flight := key
	var gen int64
	cacheable := s.cache != nil
	if cacheable {
		g, err := s.cache.Generation(ctx, key)
		if err != nil {
			zapLog.Warn("read model generation unavailable", zap.Error(err))
			cacheable = false
		}
		gen = g
		flight = fmt.Sprintf("%s@%d", key, gen)
	}

	v, err, _ := s.group.Do(flight, func() (any, error) {
		v, err := compute(ctx, userID)
		if err != nil {
			return v, err
		}
		if !cacheable {
			return v, nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return v, nil
		}
		stored, err := s.cache.SetIfGeneration(ctx, key, gen, raw, s.ttl)
		switch {
		case err != nil:
			zapLog.Warn("failed to cache read model", zap.Error(err))
		case !stored:
			staleWrites.WithLabelValues(string(kind)).Inc()
			zapLog.Debug("read model invalidated while computing, not cached")
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (s *Service) loadRecord(ctx context.Context, userID string) (*streak.Record, error) {
	var rec streak.Record
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) computeStreak(ctx context.Context, userID string) (StreakView, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return StreakView{}, err
	}
	rec, err := s.loadRecord(ctx, userID)
	if err != nil {
		return StreakView{}, err
	}
	if rec == nil {
		rec = &streak.Record{UserID: userID}
	}

	today := streak.DayOf(s.now(), cfg.Location)
	view := StreakView{
		Stage:          streak.Derive(*rec, streak.Policy{BreakDays: cfg.StreakBreakDays, ExpiryDays: cfg.StreakExpiryDays}, today),
		CurrentCount:   rec.CurrentCount,
		MaxCount:       rec.MaxCount,
		CompletedCount: rec.CompletedCount,
		IsCompleted:    rec.IsCompleted,
		LastCheckIn:    rec.LastCheckIn,
		StartedOn:      rec.StartedOn,
	}
	if !rec.ExpiresAt.IsZero() {
		expires := rec.ExpiresAt
		view.ExpiresAt = &expires
	}

	var thresholds []int
	err = s.db.WithContext(ctx).Model(&issuance.Prize{}).
		Where("type = ? AND is_active = ? AND streak_threshold IS NOT NULL", issuance.PrizeTypeStreak, true).
		Pluck("streak_threshold", &thresholds).Error
	if err != nil {
		return StreakView{}, err
	}
	for _, t := range streak.SortedThresholds(thresholds) {
		if t > rec.CurrentCount {
			view.NextThreshold = t
			break
		}
	}
	return view, nil
}

func (s *Service) computeSpins(ctx context.Context, userID string) (SpinsView, error) {
	row, err := spins.Balance(ctx, s.db, userID)
	if err != nil {
		return SpinsView{}, err
	}
	return SpinsView{
		AvailableSpins: row.AvailableSpins,
		TotalEarned:    row.TotalEarned,
		TotalUsed:      row.TotalUsed,
	}, nil
}

func (s *Service) computeCoupons(ctx context.Context, userID string) ([]issuance.Coupon, error) {
	coupons := []issuance.Coupon{}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_redeemed = ? AND expires_at > ?", userID, false, s.now().UTC()).
		Order("expires_at ASC, id ASC").
		Find(&coupons).Error
	return coupons, err
}

func (s *Service) computeProfileStats(ctx context.Context, userID string) (ProfileStats, error) {
	var stats ProfileStats

	if err := s.db.WithContext(ctx).Model(&checkin.CheckIn{}).Where("user_id = ?", userID).Count(&stats.TotalCheckIns).Error; err != nil {
		return stats, err
	}

	rec, err := s.loadRecord(ctx, userID)
	if err != nil {
		return stats, err
	}
	if rec != nil {
		stats.CurrentStreak = rec.CurrentCount
		stats.MaxStreak = rec.MaxCount
		stats.CompletedCount = rec.CompletedCount
		stats.LastCheckIn = rec.LastCheckIn
	}

	balance, err := spins.Balance(ctx, s.db, userID)
	if err != nil {
		return stats, err
	}
	stats.AvailableSpins = balance.AvailableSpins

	err = s.db.WithContext(ctx).Model(&issuance.Coupon{}).
		Where("user_id = ? AND is_redeemed = ? AND expires_at > ?", userID, false, s.now().UTC()).
		Count(&stats.ActiveCoupons).Error
	if err != nil {
		return stats, err
	}
	err = s.db.WithContext(ctx).Model(&issuance.Coupon{}).
		Where("user_id = ? AND is_redeemed = ?", userID, true).
		Count(&stats.RedeemedCoupons).Error
	return stats, err
}
