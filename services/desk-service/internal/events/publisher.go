package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/apptdesk/libs/kafkax"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/metrics"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time
}

type PublisherConfig struct {
	Brokers      string
	BatchTimeout time.Duration
}

func NewKafkaPublisher(logger *slog.Logger, cfg PublisherConfig) (*KafkaPublisher, error) {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
	})
	return newKafkaPublisher(writer, logger), nil
}

func newKafkaPublisher(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger, now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	body, err := json.Marshal(Envelope{
		EventID:    ev.ID,
		EventType:  ev.Type,
		OrgID:      ev.OrgID,
		OccurredAt: p.now().UTC(),
		Data:       ev.Payload,
	})
	if err != nil {
		return err
	}

	meta := kafkax.EventMeta{EventID: ev.ID, EventType: ev.Type, OrgID: ev.OrgID}
	msg := kafka.Message{
		Topic:   ev.Type,
		Key:     []byte(ev.Key),
		Value:   body,
		Headers: kafkax.InjectTraceHeaders(ctx, meta.Headers()),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.RecordPublish(ev.Type, "error")
		return err
	}
	metrics.RecordPublish(ev.Type, "ok")
	p.logger.Debug("event published", "event_type", ev.Type, "event_id", ev.ID, "key", ev.Key)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
