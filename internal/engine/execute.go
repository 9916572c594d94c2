package engine

import (
	"fmt"
	"math/big"
	"time"

	"PerpEngine/internal/event"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/orderbook"
	"PerpEngine/internal/position"
	"PerpEngine/internal/registry"

	"github.com/google/uuid"
)

// Status is the terminal state of one batch entry.
type Status int32

const (
	// StatusExecuted: the order filled and was deleted.
	StatusExecuted Status = iota
	// StatusRejected: the order was deleted and its escrow refunded.
	StatusRejected
	// StatusSkipped: the order was left untouched for a future batch.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusExecuted:
		return "executed"
	case StatusRejected:
		return "rejected"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome reports what happened to one order in a batch.
type Outcome struct {
	OrderID uint64
	Status  Status
	Reason  string
}

// ExecuteOrders processes a keeper batch: applies the pushed oracle update,
// refunds any fee overpayment, then runs each order through the fill state
// machine. A non-keeper caller gets an empty result without touching
// anything. Per-order failures never abort the batch — each order lands in
// exactly one of executed, rejected or skipped.
func (p *Processor) ExecuteOrders(caller uuid.UUID, orderIDs []uint64, updates []oracle.QuoteUpdate, feePaid *big.Int, now int64) ([]Outcome, error) {
	if !p.allowed(caller) {
		return nil, nil
	}
	start := time.Now()

	if err := p.applyOracleUpdate(caller, updates, feePaid); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(orderIDs))
	for _, id := range orderIDs {
		outcomes = append(outcomes, p.executeOne(caller, id, now))
	}

	if p.metrics != nil {
		p.metrics.BatchDuration.WithLabelValues("orders").Observe(time.Since(start).Seconds())
		p.metrics.BatchItems.WithLabelValues("orders").Observe(float64(len(orderIDs)))
		p.metrics.OrdersPending.Set(float64(p.book.Len()))
	}
	return outcomes, nil
}

// SelfExecuteOrder lets an order's owner execute it against the secondary
// reference price, for markets that allow it and only after the cooldown.
// Only market orders qualify: a limit or stop condition needs the candidate
// price from the primary oracle, never the reference fallback. The usual
// staleness and deviation gates do not apply — the reference price is the
// bound they would compare against.
func (p *Processor) SelfExecuteOrder(owner uuid.UUID, id uint64, now int64) (Outcome, error) {
	o, ok := p.book.Get(id)
	if !ok {
		return Outcome{}, fmt.Errorf("engine: order %d not found", id)
	}
	if o.Owner != owner {
		return Outcome{}, fmt.Errorf("%w: order %d", ErrNotOwner, id)
	}
	mkt, ok := p.registry.Market(o.Market)
	if !ok {
		return p.reject(o, "unknown_market", now), nil
	}
	if !mkt.SelfExecAllowed {
		return Outcome{}, fmt.Errorf("%w: %s", ErrSelfExecForbidden, o.Market)
	}
	if o.IsTrigger() {
		return Outcome{}, fmt.Errorf("%w: order %d is a %s order", ErrTriggerSelfExec, id, o.Type)
	}
	if now-o.SubmitTime < mkt.SelfExecCooldown {
		return Outcome{}, fmt.Errorf("%w: order %d submitted %ds ago, cooldown %ds",
			ErrCooldown, id, now-o.SubmitTime, mkt.SelfExecCooldown)
	}

	if out, done := p.checkExpiry(o, now); done {
		return out, nil
	}

	ref, err := p.oracle.RefPrice(mkt.FeedID)
	if err != nil || !fixedpoint.IsPositive(ref) {
		return p.skip(o, "no_reference_price", now), nil
	}
	return p.fill(owner, o, mkt, ref, nil, now), nil
}

// executeOne runs one order through the fill state machine against the
// primary oracle.
func (p *Processor) executeOne(caller uuid.UUID, id uint64, now int64) Outcome {
	o, ok := p.book.Get(id)
	if !ok {
		// Nothing left to delete or refund; the terminal status is still a
		// rejection, not a retry.
		return Outcome{OrderID: id, Status: StatusRejected, Reason: "not_found"}
	}
	mkt, ok := p.registry.Market(o.Market)
	if !ok {
		// Market removed after submit: nothing can ever fill this order.
		return p.reject(o, "unknown_market", now)
	}

	if out, done := p.checkExpiry(o, now); done {
		return out
	}
	if now-o.SubmitTime < mkt.MinOrderAge {
		return p.skip(o, "too_early", now)
	}

	// The batch caller is responsible for delivering a usable quote with the
	// batch. An unusable price is a rejection: the order dies and the escrow
	// comes back.
	q, err := p.oracle.Price(mkt.FeedID)
	if err != nil {
		return p.reject(o, "no_price", now)
	}
	if mkt.MaxOracleAge > 0 && now-q.PublishTime > mkt.MaxOracleAge {
		if p.metrics != nil {
			p.metrics.QuotesStale.WithLabelValues(o.Market).Inc()
		}
		return p.reject(o, "stale_price", now)
	}
	// The fill price must strictly postdate the order, or the batch caller
	// could pick a historical price.
	if q.PublishTime <= o.SubmitTime {
		return p.reject(o, "quote_predates_order", now)
	}

	ref, _ := p.oracle.RefPrice(mkt.FeedID)
	if !fixedpoint.WithinDeviation(q.Price, ref, mkt.MaxDeviationBps) {
		return p.skip(o, "price_deviation", now)
	}

	return p.fill(caller, o, mkt, q.Price, q.Conf, now)
}

// fill applies the trigger and protected-price gates at a resolved execution
// price, classifies the order against the existing position, resolves the
// OCO link, and hands off to settlement. conf is the quote's confidence
// bound; nil when the price came from the secondary reference.
func (p *Processor) fill(caller uuid.UUID, o *orderbook.Order, mkt *registry.Market, execPrice, conf *big.Int, now int64) Outcome {
	if o.IsTrigger() && !triggered(o, execPrice) {
		return p.skip(o, "not_triggered", now)
	}
	if o.Type == orderbook.Market && !withinProtection(o, execPrice) {
		return p.reject(o, "protected_price", now)
	}

	key := position.Key{Owner: o.Owner, Asset: o.Asset, Market: o.Market}
	pos := p.positions.Get(key)

	if o.ReduceOnly && (pos == nil || pos.Direction == o.Direction) {
		return p.reject(o, "cannot_reduce", now)
	}
	decrease := pos != nil && pos.Direction != o.Direction

	// Wide confidence bands make the fill price unreliable relative to the
	// fee being charged for it. The gate applies to increases only; a
	// decrease fills regardless of the band.
	if !decrease && fixedpoint.IsPositive(conf) && mkt.FeeBps > 0 {
		confScaled := fixedpoint.Mul(conf, big.NewInt(fixedpoint.BpsDivisor))
		feeScaled := fixedpoint.Mul(execPrice, big.NewInt(mkt.FeeBps))
		if confScaled.Cmp(feeScaled) >= 0 {
			return p.skip(o, "wide_confidence", now)
		}
	}

	// One-cancels-other: the linked order dies before this one settles.
	if o.CancelOrderID != 0 {
		if linked, ok := p.book.Get(o.CancelOrderID); ok {
			if err := p.cancelOrder(linked, now); err != nil {
				p.log.Error().Err(err).Uint64("order_id", o.ID).
					Uint64("linked_id", o.CancelOrderID).Msg("oco cancel failed")
				return p.reject(o, "oco_cancel_failed", now)
			}
		}
	}

	if decrease {
		return p.applyDecrease(caller, o, mkt, pos, execPrice, now)
	}
	return p.applyIncrease(caller, o, mkt, execPrice, now)
}

// checkExpiry rejects an order past its expiry or its type's hard TTL.
func (p *Processor) checkExpiry(o *orderbook.Order, now int64) (Outcome, bool) {
	ttl := int64(MarketOrderTTL)
	if o.IsTrigger() {
		ttl = TriggerOrderTTL
	}
	deadline := o.SubmitTime + ttl
	if o.ExpireTime != 0 && o.ExpireTime < deadline {
		deadline = o.ExpireTime
	}
	if now > deadline {
		return p.reject(o, "expired", now), true
	}
	return Outcome{}, false
}

// triggered evaluates the limit/stop condition. Limit orders fill on an
// improving price, stop orders confirm a breakout.
func triggered(o *orderbook.Order, price *big.Int) bool {
	if fixedpoint.IsZero(o.Price) {
		return true
	}
	cmp := fixedpoint.Cmp(price, o.Price)
	switch {
	case o.Type == orderbook.Limit && o.Direction == orderbook.Long:
		return cmp <= 0
	case o.Type == orderbook.Limit && o.Direction == orderbook.Short:
		return cmp >= 0
	case o.Type == orderbook.Stop && o.Direction == orderbook.Long:
		return cmp >= 0
	case o.Type == orderbook.Stop && o.Direction == orderbook.Short:
		return cmp <= 0
	}
	return true
}

// withinProtection checks a market order's protected bound: longs refuse to
// pay more than it, shorts refuse to receive less. Zero disables.
func withinProtection(o *orderbook.Order, price *big.Int) bool {
	if fixedpoint.IsZero(o.Price) {
		return true
	}
	if o.Direction == orderbook.Long {
		return fixedpoint.Cmp(price, o.Price) <= 0
	}
	return fixedpoint.Cmp(price, o.Price) >= 0
}

// reject deletes the order, refunds its escrow, and records the outcome.
func (p *Processor) reject(o *orderbook.Order, reason string, now int64) Outcome {
	p.book.Remove(o.ID)

	if _, err := p.custody.TransferOut(o.Asset, o.Owner, orderEscrow(o)); err != nil {
		p.log.Error().Err(err).Uint64("order_id", o.ID).Msg("rejection refund failed")
	}

	if p.metrics != nil {
		p.metrics.OrdersRejected.WithLabelValues(o.Market, reason).Inc()
	}
	p.emit(event.Record{
		Type: event.TypeOrderRejected, Asset: o.Asset, Market: o.Market,
		Owner: o.Owner, OrderID: o.ID, Reason: reason,
		Size: fixedpoint.Clone(o.Size), Timestamp: now,
	})
	return Outcome{OrderID: o.ID, Status: StatusRejected, Reason: reason}
}

// skip leaves the order in the book for a later batch.
func (p *Processor) skip(o *orderbook.Order, reason string, now int64) Outcome {
	if p.metrics != nil {
		p.metrics.OrdersSkipped.WithLabelValues(o.Market, reason).Inc()
	}
	p.emit(event.Record{
		Type: event.TypeOrderSkipped, Asset: o.Asset, Market: o.Market,
		Owner: o.Owner, OrderID: o.ID, Reason: reason, Timestamp: now,
	})
	return Outcome{OrderID: o.ID, Status: StatusSkipped, Reason: reason}
}
