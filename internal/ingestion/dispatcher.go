package ingestion

import (
	"context"
	"time"

	"PerpEngine/internal/engine"
	"PerpEngine/internal/observability"

	"github.com/rs/zerolog"
)

// Dispatcher drains raw NATS messages, parses them, drops redelivered batch
// ids, and hands the typed requests to the serialized core loop. Timestamps
// ride on the requests; only this shell boundary stamps a missing one, the
// core itself never reads the clock.
type Dispatcher struct {
	log     zerolog.Logger
	metrics *observability.Metrics
	loop    *engine.Loop
	dedup   *BatchDedup
	msgChan <-chan RawMessage
}

func NewDispatcher(log zerolog.Logger, metrics *observability.Metrics, loop *engine.Loop, dedup *BatchDedup, msgChan <-chan RawMessage) *Dispatcher {
	return &Dispatcher{
		log:     log,
		metrics: metrics,
		loop:    loop,
		dedup:   dedup,
		msgChan: msgChan,
	}
}

// Run processes messages until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-d.msgChan:
			if !ok {
				return
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawMessage) {
	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues(raw.Subject).Inc()
	}

	req, err := Parse(raw)
	if err != nil {
		// Malformed payloads can never succeed; redelivery would just fail
		// again, so ACK and drop.
		d.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable message")
		raw.Ack()
		return
	}

	switch r := req.(type) {
	case *PriceUpdateRequest:
		d.dispatch(ctx, raw, "price:"+r.BatchID.String(), func(p *engine.Processor) {
			if err := p.ApplyPriceUpdate(r.Caller, r.Updates, r.FeePaid); err != nil {
				d.log.Warn().Err(err).Str("batch_id", r.BatchID.String()).Msg("price update refused")
			}
		})

	case *ReferenceUpdateRequest:
		d.dispatch(ctx, raw, "ref:"+r.BatchID.String(), func(p *engine.Processor) {
			p.ApplyReferenceUpdate(r.RefPrices, r.UnrealizedPnl)
		})

	case *OrderBatchRequest:
		now := stamp(r.Timestamp)
		d.dispatch(ctx, raw, "orders:"+r.BatchID.String(), func(p *engine.Processor) {
			outcomes, err := p.ExecuteOrders(r.Caller, r.OrderIDs, r.Updates, r.FeePaid, now)
			if err != nil {
				d.log.Warn().Err(err).Str("batch_id", r.BatchID.String()).Msg("order batch refused")
				return
			}
			d.log.Info().Str("batch_id", r.BatchID.String()).
				Int("orders", len(r.OrderIDs)).Int("outcomes", len(outcomes)).
				Msg("order batch processed")
		})

	case *LiquidationBatchRequest:
		now := stamp(r.Timestamp)
		d.dispatch(ctx, raw, "liq:"+r.BatchID.String(), func(p *engine.Processor) {
			outcomes, err := p.LiquidatePositions(r.Caller, r.Positions, r.Updates, r.FeePaid, now)
			if err != nil {
				d.log.Warn().Err(err).Str("batch_id", r.BatchID.String()).Msg("liquidation batch refused")
				return
			}
			liquidated := 0
			for _, o := range outcomes {
				if o.Liquidated {
					liquidated++
				}
			}
			d.log.Info().Str("batch_id", r.BatchID.String()).
				Int("positions", len(r.Positions)).Int("liquidated", liquidated).
				Msg("liquidation batch processed")
		})
	}
}

// dispatch applies the dedup gate and enqueues the work. The message is
// ACKed once the work is queued: the loop is the durability boundary for
// batch semantics, and a crash between queue and run is covered by the
// upstream producing idempotent batches.
func (d *Dispatcher) dispatch(ctx context.Context, raw RawMessage, dedupKey string, fn func(*engine.Processor)) {
	if d.dedup.Seen(dedupKey) {
		if d.metrics != nil {
			d.metrics.IngestDuplicates.Inc()
		}
		raw.Ack()
		return
	}

	if err := d.loop.Do(ctx, fn); err != nil {
		raw.Nak()
		return
	}
	d.dedup.Mark(dedupKey)
	raw.Ack()
}

func stamp(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return time.Now().Unix()
}
