package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PerpEngine/internal/event"
	"PerpEngine/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher drains the core's outcome records and publishes them for
// downstream consumers. Subjects follow perp.engine.events.{type}.{market};
// records without a market omit the last token. Publishing is best-effort:
// a failed publish is logged and the record is still persisted by the
// Postgres worker.
type Publisher struct {
	js      jetstream.JetStream
	log     zerolog.Logger
	metrics *observability.Metrics
	records <-chan event.Record
}

func NewPublisher(js jetstream.JetStream, log zerolog.Logger, metrics *observability.Metrics, records <-chan event.Record) *Publisher {
	return &Publisher{
		js:      js,
		log:     log,
		metrics: metrics,
		records: records,
	}
}

// Run drains records until the context is cancelled or the channel closes.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-p.records:
			if !ok {
				return
			}
			if p.metrics != nil {
				p.metrics.RecordChanSize.Set(float64(len(p.records)))
			}
			if err := p.publish(ctx, rec); err != nil {
				p.log.Warn().Err(err).Int64("sequence", rec.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, rec event.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	subject := fmt.Sprintf("perp.engine.events.%s", rec.Type)
	if rec.Market != "" {
		subject = fmt.Sprintf("%s.%s", subject, rec.Market)
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERP_ENGINE_EVENTS",
		Subjects:  []string{"perp.engine.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
