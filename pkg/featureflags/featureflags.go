package featureflags

import (
	"context"

	"loyalty-checkin/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Feature names managed in Flagsmith.
const (
	Roulette = "roulette"
	CheckIn  = "check_in"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// Gate reports whether a feature is on for a user. Lookups that fail resolve
// to enabled so an unreachable flag service never blocks check-ins.
type Gate interface {
	Enabled(ctx context.Context, userID, feature string) bool
}

type identityFlags interface {
	GetIdentityFlags(identifier string, traits []*flagsmith.Trait) (flagsmith.Flags, error)
}

type featureflag struct {
	client identityFlags
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) Gate {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{flagsmith.WithAnalytics()}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Enabled(ctx context.Context, userID, feature string) bool {
	if s.client == nil {
		return true
	}

	flags, err := s.client.GetIdentityFlags(userID, nil)
	if err != nil {
		zap.L().Warn("feature flag lookup failed", zap.String("feature", feature), zap.String("user_id", userID), zap.Error(err))
		return true
	}

	on, err := flags.IsFeatureEnabled(feature)
	if err != nil {
		// unknown to Flagsmith
		return true
	}
	return on
}
