package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Subscriber consumes the engine's inbound JetStream subjects and feeds raw
// messages to the dispatcher. Each subject carries one request type.
type Subscriber struct {
	js        jetstream.JetStream
	log       zerolog.Logger
	msgChan   chan<- RawMessage
	consumers []jetstream.ConsumeContext
}

// RawMessage is one consumed NATS message, not yet parsed. Ack after the
// request reaches the core; Nak to force redelivery.
type RawMessage struct {
	Subject     string
	RequestType string
	Data        []byte
	Ack         func()
	Nak         func()
}

// SubjectConfig maps one NATS subject to a request type.
type SubjectConfig struct {
	Subject      string
	RequestType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the engine's inbound subject table: pushed primary
// quote updates, reference price / unrealized-PnL updates, keeper order
// batches, keeper liquidation batches.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "perp.prices.primary", RequestType: RequestPriceUpdate, ConsumerName: "engine-prices", StreamName: "PERP_PRICES"},
		{Subject: "perp.prices.reference", RequestType: RequestReferenceUpdate, ConsumerName: "engine-refprices", StreamName: "PERP_PRICES"},
		{Subject: "perp.exec.orders", RequestType: RequestOrderBatch, ConsumerName: "engine-orders", StreamName: "PERP_EXEC"},
		{Subject: "perp.exec.liquidations", RequestType: RequestLiquidationBatch, ConsumerName: "engine-liquidations", StreamName: "PERP_EXEC"},
	}
}

func NewSubscriber(js jetstream.JetStream, log zerolog.Logger, msgChan chan<- RawMessage) *Subscriber {
	return &Subscriber{
		js:      js,
		log:     log,
		msgChan: msgChan,
	}
}

// Subscribe creates durable JetStream consumers for all configured subjects.
// Explicit ACK, max_deliver=5, ack_wait=30s.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawMessage{
				Subject:     msg.Subject(),
				RequestType: cfg.RequestType,
				Data:        msg.Data(),
				Ack:         func() { msg.Ack() },
				Nak:         func() { msg.Nak() },
			}
			select {
			case s.msgChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, cc)
		s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.log.Info().Msg("nats consumers stopped")
}

// EnsureStreams creates the inbound JetStream streams if absent. FileStorage,
// limits retention, 72h max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "PERP_PRICES",
			Subjects:  []string{"perp.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_EXEC",
			Subjects:  []string{"perp.exec.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
