package changefeed

import (
	"context"
	"fmt"

	"loyalty-checkin/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("changefeed",
	fx.Provide(
		NewTransport,
		func(t Transport) Feed { return t },
		func(t Transport) Publisher { return t },
	),
	fx.Invoke(registerKafkaRelay),
)

// Transport is a feed that can also be published to.
type Transport interface {
	Feed
	Publisher
}

type TransportParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewTransport(p TransportParams) (Transport, error) {
	schema := p.Config.Realtime.Schema
	switch p.Config.Realtime.Feed {
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("REALTIME.FEED=redis requires REDIS.ADDR")
		}
		zap.L().Info("change feed over redis pub/sub", zap.String("schema", schema))
		return NewRedisFeed(p.Redis, schema), nil
	case "memory", "":
		zap.L().Info("change feed in memory", zap.String("schema", schema))
		return NewHub(schema), nil
	default:
		return nil, fmt.Errorf("unsupported REALTIME.FEED %q", p.Config.Realtime.Feed)
	}
}

func registerKafkaRelay(lc fx.Lifecycle, cfg *config.Config, pub Publisher) error {
	if cfg.Kafka.Addrs == "" || cfg.Kafka.Topic == "" {
		return nil
	}

	relay, err := NewKafkaRelay(cfg.Kafka.Addrs, cfg.Kafka.GroupID, cfg.Kafka.Topic, pub)
	if err != nil {
		zap.L().Error("failed to create cdc relay", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := relay.Run(ctx); err != nil {
					zap.L().Error("cdc relay stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return relay.Close(stopCtx)
		},
	})
	return nil
}
