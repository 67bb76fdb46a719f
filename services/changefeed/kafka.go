package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// debeziumEnvelope matches both the wrapped ({"payload": {...}}) and the
// unwrapped (schemas disabled) debezium JSON formats.
type debeziumEnvelope struct {
	Payload *debeziumChange `json:"payload"`
	debeziumChange
}

type debeziumChange struct {
	Before Row    `json:"before"`
	After  Row    `json:"after"`
	Op     string `json:"op"`
	TsMs   int64  `json:"ts_ms"`
	Source struct {
		Schema string `json:"schema"`
		Table  string `json:"table"`
		TxID   any    `json:"txId"`
		LSN    any    `json:"lsn"`
	} `json:"source"`
}

var errSkipRecord = errors.New("changefeed: record not relayed")

// DecodeDebezium turns one CDC record into a ChangeEvent for the user tables.
// Deletes, snapshots of other tables and tombstones are skipped.
func DecodeDebezium(value []byte) (ChangeEvent, error) {
	if len(value) == 0 {
		return ChangeEvent{}, errSkipRecord
	}
	var env debeziumEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return ChangeEvent{}, err
	}
	change := env.debeziumChange
	if env.Payload != nil {
		change = *env.Payload
	}

	var typ Type
	switch change.Op {
	case "c", "r":
		typ = TypeInsert
	case "u":
		typ = TypeUpdate
	default:
		return ChangeEvent{}, errSkipRecord
	}

	if !isUserTable(change.Source.Table) {
		return ChangeEvent{}, errSkipRecord
	}

	row := change.After
	if row == nil {
		row = change.Before
	}

	committed := time.Now().UTC()
	if change.TsMs > 0 {
		committed = time.UnixMilli(change.TsMs).UTC()
	}

	return ChangeEvent{
		ID:          uuid.NewString(),
		Schema:      change.Source.Schema,
		Table:       change.Source.Table,
		Type:        typ,
		UserID:      row.String("user_id"),
		Old:         change.Before,
		New:         change.After,
		CommittedAt: committed,
	}, nil
}

func isUserTable(table string) bool {
	for _, t := range UserTables {
		if t == table {
			return true
		}
	}
	return false
}

// KafkaRelay republishes CDC records of the user tables to a Publisher. It is
// how writes made by other services, such as coupon redemption, reach
// connected sessions.
type KafkaRelay struct {
	consumer *kafka.Consumer
	topic    string
	pub      Publisher
	done     chan struct{}
}

func NewKafkaRelay(brokers, groupID, topic string, pub Publisher) (*KafkaRelay, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, err
	}
	return &KafkaRelay{
		consumer: consumer,
		topic:    topic,
		pub:      pub,
		done:     make(chan struct{}),
	}, nil
}

func (r *KafkaRelay) Run(ctx context.Context) error {
	defer close(r.done)

	if err := r.consumer.SubscribeTopics([]string{r.topic}, nil); err != nil {
		return err
	}
	zap.L().Info("cdc relay started", zap.String("topic", r.topic))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := r.consumer.ReadMessage(500 * time.Millisecond)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			zap.L().Warn("cdc relay read failed", zap.Error(err))
			continue
		}

		evt, err := DecodeDebezium(msg.Value)
		if errors.Is(err, errSkipRecord) {
			cdcRelayed.WithLabelValues("skipped").Inc()
			continue
		}
		if err != nil {
			cdcRelayed.WithLabelValues("malformed").Inc()
			zap.L().Warn("discarding malformed cdc record", zap.Any("partition", msg.TopicPartition), zap.Error(err))
			continue
		}

		if err := r.pub.Publish(ctx, evt); err != nil {
			cdcRelayed.WithLabelValues("failed").Inc()
			zap.L().Warn("cdc relay publish failed", zap.String("table", evt.Table), zap.Error(err))
			continue
		}
		cdcRelayed.WithLabelValues("relayed").Inc()
	}
}

// Close waits for Run to return after its context is cancelled.
func (r *KafkaRelay) Close(ctx context.Context) error {
	select {
	case <-r.done:
	case <-ctx.Done():
	}
	return r.consumer.Close()
}
