package changefeed

import (
	"context"
	"encoding/json"
	"sync"

	"loyalty-checkin/pkg/rediskey"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFeed fans change events out over redis pub/sub. Each event goes to a
// per-user channel and a table-wide channel, so a user filter is applied by
// the broker rather than the subscriber.
type RedisFeed struct {
	rdb    *redis.Client
	schema string
}

func NewRedisFeed(rdb *redis.Client, schema string) *RedisFeed {
	return &RedisFeed{rdb: rdb, schema: schema}
}

func (f *RedisFeed) Publish(ctx context.Context, events ...ChangeEvent) error {
	pipe := f.rdb.Pipeline()
	for _, evt := range events {
		if evt.Schema == "" {
			evt.Schema = f.schema
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		if evt.UserID != "" {
			pipe.Publish(ctx, rediskey.BuildChangeChannel(evt.Schema, evt.Table, evt.UserID), payload)
		}
		pipe.Publish(ctx, rediskey.BuildChangeChannel(evt.Schema, evt.Table, ""), payload)
		eventsPublished.WithLabelValues("redis", evt.Table).Inc()
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (f *RedisFeed) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	schema := filter.Schema
	if schema == "" {
		schema = f.schema
	}

	id := uuid.NewString()
	channels := make([]string, 0, len(filter.Tables)+1)
	for _, table := range filter.Tables {
		channels = append(channels, rediskey.BuildChangeChannel(schema, table, filter.UserID))
	}
	heartbeat := rediskey.BuildHeartbeatChannel(id)
	channels = append(channels, heartbeat)

	ps := f.rdb.Subscribe(ctx, channels...)
	// wait for the subscribe confirmation so a dead broker fails here
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		id:        id,
		rdb:       f.rdb,
		ps:        ps,
		filter:    filter,
		heartbeat: heartbeat,
		ch:        make(chan ChangeEvent, subscriptionBuffer),
		cancel:    cancel,
	}
	subscriptionsActive.WithLabelValues("redis").Inc()
	go sub.run(runCtx)
	return sub, nil
}

type redisSubscription struct {
	id        string
	rdb       *redis.Client
	ps        *redis.PubSub
	filter    Filter
	heartbeat string
	ch        chan ChangeEvent
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	defer subscriptionsActive.WithLabelValues("redis").Dec()

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var evt ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				zap.L().Warn("discarding malformed change event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if !s.filter.Match(evt) {
				continue
			}
			select {
			case s.ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *redisSubscription) Events() <-chan ChangeEvent {
	return s.ch
}

func (s *redisSubscription) Heartbeat(ctx context.Context) error {
	payload, err := json.Marshal(NewHeartbeat())
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.heartbeat, payload).Err()
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.ps.Close()
	})
	return err
}
