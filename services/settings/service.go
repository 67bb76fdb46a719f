package settings

import (
	"context"
	"strconv"
	"sync"
	"time"

	"loyalty-checkin/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Provider interface {
	Get(ctx context.Context) (Settings, error)
}

type Service struct {
	db       *gorm.DB
	ttl      time.Duration
	fallback *time.Location
	now      func() time.Time

	mu       sync.RWMutex
	cached   *Settings
	loadedAt time.Time
	group    singleflight.Group
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		ttl:      p.Config.Settings.CacheTTL,
		fallback: p.Config.Location(),
		now:      time.Now,
	}
}

func (s *Service) Get(ctx context.Context) (Settings, error) {
	if v, ok := s.fromCache(); ok {
		return v, nil
	}

	v, err, _ := s.group.Do("settings", func() (interface{}, error) {
		if v, ok := s.fromCache(); ok {
			return v, nil
		}

		var rows []Setting
		if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
			zap.L().Error("failed to load settings", zap.Error(err))
			return Settings{}, err
		}

		parsed := Parse(rows, Defaults(s.fallback))

		s.mu.Lock()
		s.cached = &parsed
		s.loadedAt = s.now()
		s.mu.Unlock()
		return parsed, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return v.(Settings), nil
}

func (s *Service) fromCache() (Settings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil || (s.ttl > 0 && s.now().Sub(s.loadedAt) > s.ttl) {
		return Settings{}, false
	}
	return *s.cached, true
}

// Set upserts one key and drops the cached view.
func (s *Service) Set(ctx context.Context, key, value string) error {
	if err := Validate(key, value); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Setting{Key: key, Value: value, UpdatedAt: s.now()}).Error
	if err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

// Parse overlays stored values on defaults. Unparseable or negative values keep
// the default and are logged.
func Parse(rows []Setting, defaults Settings) Settings {
	out := defaults
	for _, row := range rows {
		switch row.Key {
		case KeyStreakBreakDays:
			out.StreakBreakDays = parseNonNegative(row, defaults.StreakBreakDays)
		case KeyStreakExpiryDays:
			out.StreakExpiryDays = parseNonNegative(row, defaults.StreakExpiryDays)
		case KeyCheckInSpins:
			out.CheckInSpins = parseNonNegative(row, defaults.CheckInSpins)
		case KeyMaxCheckInsPerDay:
			out.MaxCheckInsPerDay = parseNonNegative(row, defaults.MaxCheckInsPerDay)
		case KeyRouletteLoseWeight:
			out.RouletteLoseWeight = int64(parseNonNegative(row, int(defaults.RouletteLoseWeight)))
		case KeyTimezone:
			loc, err := time.LoadLocation(row.Value)
			if err != nil {
				zap.L().Warn("invalid setting, using default", zap.String("key", row.Key), zap.String("value", row.Value), zap.Error(err))
				continue
			}
			out.Location = loc
		}
	}
	return out
}

func parseNonNegative(row Setting, def int) int {
	n, err := strconv.Atoi(row.Value)
	if err != nil || n < 0 {
		zap.L().Warn("invalid setting, using default", zap.String("key", row.Key), zap.String("value", row.Value))
		return def
	}
	return n
}
