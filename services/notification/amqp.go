package notification

import (
	"context"

	"loyalty-checkin/pkg/config"
	"loyalty-checkin/pkg/rabbitmq"
)

// Publisher is satisfied by *rabbitmq.Producer.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
}

// AMQPSink forwards displayed messages to RabbitMQ for push delivery.
type AMQPSink struct {
	pub      Publisher
	exchange string
}

func NewAMQPSink(pub Publisher, exchange string) *AMQPSink {
	return &AMQPSink{pub: pub, exchange: exchange}
}

func RoutingKey(kind Kind) string {
	return "notification." + string(kind)
}

func (s *AMQPSink) Display(ctx context.Context, msg Message) error {
	return s.pub.Publish(ctx, s.exchange, RoutingKey(msg.Kind), msg)
}

func provideAMQPSink(cfg *config.Config, producer *rabbitmq.Producer) *AMQPSink {
	if producer == nil {
		return nil
	}
	return NewAMQPSink(producer, cfg.RabbitMQ.Exchange)
}
