package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"

	"loyalty-checkin/pkg/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rabbitmq",
	fx.Provide(New),
)

// Producer publishes JSON messages to topic exchanges. Exchanges are declared
// once per producer.
type Producer struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	mu       sync.Mutex
	declared map[string]struct{}
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("rabbitmq: url scheme must be amqp or amqps")
	}
	return clean, nil
}

// New dials RABBITMQ.URL. An empty URL disables publishing and yields nil.
func New(lc fx.Lifecycle, cfg *config.Config) (*Producer, error) {
	if cfg.RabbitMQ.URL == "" {
		zap.L().Info("rabbitmq disabled, RABBITMQ.URL is empty")
		return nil, nil
	}

	p, err := Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Close()
		},
	})
	return p, nil
}

func Dial(rawURL string) (*Producer, error) {
	clean, err := sanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(clean)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Producer{
		conn:     conn,
		channel:  channel,
		declared: make(map[string]struct{}),
	}, nil
}

func (p *Producer) declare(exchange string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.declared[exchange]; ok {
		return nil
	}
	err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return err
	}
	p.declared[exchange] = struct{}{}
	return nil
}

// Publish marshals body to JSON and sends it to exchange with routingKey.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	if err := p.declare(exchange); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         payload,
		})
	if err != nil {
		return err
	}

	zap.L().Debug("published message",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
	)
	return nil
}

func (p *Producer) Close() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
