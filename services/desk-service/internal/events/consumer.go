package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/apptdesk/libs/kafkax"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/metrics"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

// Sink receives appointments changed elsewhere and returns how many caches took them.
type Sink interface {
	ApplyExternal(ctx context.Context, orgID string, appts []model.Appointment) int
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader messageReader
	logger *slog.Logger
	sink   Sink
}

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topics  []string
}

// NewConsumer reads the lifecycle topics. Every instance keeps its own caches, so GroupID must
// be unique per instance for each one to see every event.
func NewConsumer(logger *slog.Logger, cfg ConsumerConfig, sink Sink) *Consumer {
	if len(cfg.Topics) == 0 {
		cfg.Topics = LifecycleTopics
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{reader: reader, logger: logger, sink: sink}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		if err := c.Handle(ctxSpan, msg); err != nil {
			meta := kafkax.ExtractEventMeta(msg)
			c.logger.Error("event handler error", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
			span.RecordError(err)
		}
		span.End()
	}
}

// Handle merges one lifecycle event into the caches of its organization. Redelivery is
// harmless: merging the same appointment twice leaves the caches unchanged.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	var env AppointmentEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		metrics.RecordConsume(meta.EventType, "decode_error")
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	orgID := env.OrgID
	if orgID == "" {
		orgID = meta.OrgID
	}
	if orgID == "" || env.Data.ID == "" {
		metrics.RecordConsume(meta.EventType, "skipped")
		return nil
	}
	n := c.sink.ApplyExternal(ctx, orgID, []model.Appointment{env.Data})
	metrics.RecordConsume(meta.EventType, "ok")
	c.logger.Debug("external appointment merged", "appointment_id", env.Data.ID, "sessions", n)
	return nil
}
