package engine

import (
	"math/big"

	"PerpEngine/internal/event"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/orderbook"
	"PerpEngine/internal/position"
	"PerpEngine/internal/registry"
	"PerpEngine/internal/risk"

	"github.com/google/uuid"
)

// applyIncrease opens or grows the owner's position by the full order size.
// Ordering: validate (open-interest ceiling), accrue funding and settle the
// existing exposure's funding out of margin, mutate ledger state, delete the
// order, and only then move assets (fee distribution).
func (p *Processor) applyIncrease(caller uuid.UUID, o *orderbook.Order, mkt *registry.Market, execPrice *big.Int, now int64) Outcome {
	key := position.Key{Owner: o.Owner, Asset: o.Asset, Market: o.Market}

	oiLong, oiShort := p.positions.OpenInterest(o.Asset, o.Market)
	ceiling := p.registry.MaxOpenInterest(o.Asset, o.Market)
	if err := risk.CheckMaxOpenInterest(fixedpoint.Add(oiLong, oiShort), o.Size, ceiling); err != nil {
		return p.reject(o, "max_open_interest", now)
	}

	p.accrueFunding(o.Asset, o.Market, mkt, oiLong, oiShort, now)
	tracker := p.funding.Tracker(o.Asset, o.Market)

	// Growing an existing position first settles the funding accrued on the
	// old size against its margin, so the refreshed snapshot covers the
	// blended position cleanly.
	if pos := p.positions.Get(key); pos != nil {
		_, ff := fixedpoint.PnL(pos.Direction == orderbook.Long, pos.Size, execPrice, pos.AvgPrice, tracker, pos.FundingSnapshot)
		margin := fixedpoint.Sub(pos.Margin, ff)
		if pos.Direction == orderbook.Short {
			margin = fixedpoint.Add(pos.Margin, ff)
		}
		if margin.Sign() < 0 {
			margin.SetInt64(0)
		}
		p.positions.SetMargin(key, margin)
		p.positions.SnapshotFunding(key, tracker)
	}

	p.positions.AddOpenInterest(o.Asset, o.Market, o.Direction, o.Size)
	p.positions.Increase(key, o.Direction, o.Margin, o.Size, execPrice, tracker, now)
	p.book.Remove(o.ID)

	if err := p.distributeFee(o.Asset, o.Fee, caller, o.Referrer); err != nil {
		p.log.Error().Err(err).Uint64("order_id", o.ID).Msg("fee distribution failed")
	}

	if p.metrics != nil {
		p.metrics.OrdersExecuted.WithLabelValues(o.Market).Inc()
	}
	p.emit(event.Record{
		Type: event.TypeOrderExecuted, Asset: o.Asset, Market: o.Market,
		Owner: o.Owner, OrderID: o.ID, Price: fixedpoint.Clone(execPrice),
		Size: fixedpoint.Clone(o.Size), Margin: fixedpoint.Clone(o.Margin),
		Fee: fixedpoint.Clone(o.Fee), Timestamp: now,
	})
	return Outcome{OrderID: o.ID, Status: StatusExecuted}
}

// applyDecrease settles an order against an opposite-direction position.
// The executed size is min(order, position). A loss that consumes the whole
// margin escalates to a full close with the loss capped at the margin. If
// the order outsizes the position, the remainder flips: it is re-submitted
// as a fresh same-direction order with pro-rata margin and fee and settled
// immediately as an increase (the position is gone, so recursion stops at
// depth one).
//
// Pool and risk mutations happen before ledger mutation so a refused profit
// payout leaves the position untouched; custody transfers run last.
func (p *Processor) applyDecrease(caller uuid.UUID, o *orderbook.Order, mkt *registry.Market, pos *position.Position, execPrice *big.Int, now int64) Outcome {
	key := pos.Key()
	long := pos.Direction == orderbook.Long

	oiLong, oiShort := p.positions.OpenInterest(o.Asset, o.Market)
	p.accrueFunding(o.Asset, o.Market, mkt, oiLong, oiShort, now)
	tracker := p.funding.Tracker(o.Asset, o.Market)

	execSize := fixedpoint.Min(o.Size, pos.Size)
	released := fixedpoint.Clone(pos.Margin)
	if fixedpoint.Cmp(execSize, pos.Size) < 0 {
		released = fixedpoint.MulDiv(pos.Margin, execSize, pos.Size)
	}

	pnl, _ := fixedpoint.PnL(long, execSize, execPrice, pos.AvgPrice, tracker, pos.FundingSnapshot)

	// A loss at or beyond the released margin means the whole position's
	// margin is gone (pnl and released margin both scale with size), so the
	// close escalates to the full size with the loss capped at the margin.
	if pnl.Sign() < 0 && fixedpoint.Cmp(fixedpoint.Neg(pnl), released) >= 0 {
		execSize = fixedpoint.Clone(pos.Size)
		released = fixedpoint.Clone(pos.Margin)
		pnl, _ = fixedpoint.PnL(long, execSize, execPrice, pos.AvgPrice, tracker, pos.FundingSnapshot)
		if fixedpoint.Cmp(fixedpoint.Neg(pnl), released) > 0 {
			pnl = fixedpoint.Neg(released)
		}
	}

	if pnl.Sign() > 0 {
		if err := p.risk.CheckPoolDrawdown(o.Asset, pnl, p.vault.Available(o.Asset), now); err != nil {
			return p.reject(o, "pool_drawdown", now)
		}
		if err := p.vault.DebitTraderProfit(o.Asset, pnl); err != nil {
			return p.skip(o, "pool_insolvent", now)
		}
	}

	p.positions.Reduce(key, execSize)
	p.positions.SubOpenInterest(o.Asset, o.Market, pos.Direction, execSize)

	// A surviving remainder settles the funding accrued on its own size out
	// of its margin before the snapshot moves forward, same as on growth.
	if rest := p.positions.Get(key); rest != nil {
		_, ff := fixedpoint.PnL(long, rest.Size, execPrice, rest.AvgPrice, tracker, rest.FundingSnapshot)
		margin := fixedpoint.Sub(rest.Margin, ff)
		if !long {
			margin = fixedpoint.Add(rest.Margin, ff)
		}
		if margin.Sign() < 0 {
			margin.SetInt64(0)
		}
		p.positions.SetMargin(key, margin)
		p.positions.SnapshotFunding(key, tracker)
	}

	if pnl.Sign() < 0 {
		p.vault.CreditTraderLoss(o.Asset, fixedpoint.Neg(pnl), now)
	}

	// payout = released margin + pnl; the escalation above guarantees it is
	// never negative, the clamp covers truncation residue.
	payout := fixedpoint.Add(released, pnl)
	if payout.Sign() < 0 {
		payout.SetInt64(0)
	}

	// Reduce-only orders escrow nothing: the fee on the executed notional
	// comes out of the payout. Other orders carry a pre-escrowed fee; the
	// slice for the executed portion is distributed and the matching margin
	// slice refunded.
	var fee, refund *big.Int
	if o.ReduceOnly {
		fee = fixedpoint.Min(fixedpoint.ApplyBps(execSize, mkt.FeeBps), payout)
		payout = fixedpoint.Sub(payout, fee)
		refund = fixedpoint.Zero()
	} else {
		// Escalation can push execSize past the order size; the slices cap at
		// the full escrow.
		fee = fixedpoint.Min(fixedpoint.MulDiv(o.Fee, execSize, o.Size), o.Fee)
		refund = fixedpoint.Min(fixedpoint.MulDiv(o.Margin, execSize, o.Size), o.Margin)
	}

	remainder := fixedpoint.Sub(o.Size, execSize)
	p.book.Remove(o.ID)

	var flipID uint64
	if !o.ReduceOnly && remainder.Sign() > 0 {
		flip := &orderbook.Order{
			Owner:      o.Owner,
			Asset:      o.Asset,
			Market:     o.Market,
			Margin:     fixedpoint.Sub(o.Margin, refund),
			Size:       remainder,
			Price:      fixedpoint.Clone(o.Price),
			Fee:        fixedpoint.Sub(o.Fee, fee),
			Direction:  o.Direction,
			Type:       o.Type,
			ReduceOnly: false,
			Referrer:   o.Referrer,
			SubmitTime: o.SubmitTime,
			ExpireTime: o.ExpireTime,
		}
		flipID = p.book.Submit(flip)
		p.applyIncrease(caller, flip, mkt, execPrice, now)
	}

	if err := p.distributeFee(o.Asset, fee, caller, o.Referrer); err != nil {
		p.log.Error().Err(err).Uint64("order_id", o.ID).Msg("fee distribution failed")
	}
	if _, err := p.custody.TransferOut(o.Asset, o.Owner, fixedpoint.Add(payout, refund)); err != nil {
		p.log.Error().Err(err).Uint64("order_id", o.ID).Msg("settlement payout failed")
	}

	if p.metrics != nil {
		p.metrics.OrdersExecuted.WithLabelValues(o.Market).Inc()
	}
	p.emit(event.Record{
		Type: event.TypeOrderExecuted, Asset: o.Asset, Market: o.Market,
		Owner: o.Owner, OrderID: o.ID, Price: fixedpoint.Clone(execPrice),
		Size: fixedpoint.Clone(execSize), Margin: released,
		Fee: fixedpoint.Clone(fee), Pnl: fixedpoint.Clone(pnl), Timestamp: now,
	})
	p.log.Debug().Uint64("order_id", o.ID).Uint64("flip_id", flipID).
		Str("market", o.Market).Msg("decrease settled")

	return Outcome{OrderID: o.ID, Status: StatusExecuted}
}

// accrueFunding advances the market's funding tracker and counts the update.
func (p *Processor) accrueFunding(asset, market string, mkt *registry.Market, oiLong, oiShort *big.Int, now int64) {
	before := p.funding.LastUpdate(asset, market)
	p.funding.Accrue(asset, market, oiLong, oiShort, mkt.FundingFactorBps, now)
	if p.metrics != nil && p.funding.LastUpdate(asset, market) != before {
		p.metrics.FundingAccruals.Inc()
	}
}
