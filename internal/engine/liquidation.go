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

	"github.com/google/uuid"
)

// LiqOutcome reports one liquidation batch entry. Entries that were not
// liquidatable are reported and skipped, never an error.
type LiqOutcome struct {
	Key        position.Key
	Liquidated bool
	Reason     string
}

// LiquidatePositions processes a keeper liquidation batch: applies the
// pushed oracle update, refunds any overpayment, then force-closes every
// listed position whose loss has crossed the market's threshold. Entries
// that fail the check are reported and skipped; one bad entry never aborts
// the batch. A non-keeper caller gets an empty result.
func (p *Processor) LiquidatePositions(caller uuid.UUID, keys []position.Key, updates []oracle.QuoteUpdate, feePaid *big.Int, now int64) ([]LiqOutcome, error) {
	if !p.allowed(caller) {
		return nil, nil
	}
	start := time.Now()

	if err := p.applyOracleUpdate(caller, updates, feePaid); err != nil {
		return nil, err
	}

	outcomes := make([]LiqOutcome, 0, len(keys))
	for _, key := range keys {
		outcomes = append(outcomes, p.liquidateOne(caller, key, false, now))
	}

	if p.metrics != nil {
		p.metrics.BatchDuration.WithLabelValues("liquidations").Observe(time.Since(start).Seconds())
		p.metrics.BatchItems.WithLabelValues("liquidations").Observe(float64(len(keys)))
	}
	return outcomes, nil
}

// SelfLiquidate lets a position's owner close their own underwater position
// against the secondary reference price, on markets that allow self
// execution and only after the cooldown since the position opened. The
// owner earns the keeper share of the liquidation fee.
func (p *Processor) SelfLiquidate(caller uuid.UUID, key position.Key, now int64) (LiqOutcome, error) {
	mkt, ok := p.registry.Market(key.Market)
	if !ok {
		return LiqOutcome{}, fmt.Errorf("%w: %s", ErrUnknownMarket, key.Market)
	}
	if !mkt.SelfExecAllowed {
		return LiqOutcome{}, fmt.Errorf("%w: %s", ErrSelfExecForbidden, key.Market)
	}
	if caller != key.Owner {
		return LiqOutcome{}, fmt.Errorf("%w: position %s/%s", ErrNotOwner, key.Asset, key.Market)
	}
	if pos := p.positions.Get(key); pos != nil && now-pos.OpenTime < mkt.SelfExecCooldown {
		return LiqOutcome{}, fmt.Errorf("%w: position opened %ds ago, cooldown %ds",
			ErrCooldown, now-pos.OpenTime, mkt.SelfExecCooldown)
	}
	return p.liquidateOne(caller, key, true, now), nil
}

// liquidateOne force-closes one position if its loss, funding included, has
// reached margin * liqThresholdBps / 10000. The liquidation fee comes out of
// the margin; whatever margin survives the capped loss and the fee goes to
// the pool, not the owner.
func (p *Processor) liquidateOne(caller uuid.UUID, key position.Key, selfMode bool, now int64) LiqOutcome {
	pos := p.positions.Get(key)
	if pos == nil {
		return LiqOutcome{Key: key, Reason: "not_found"}
	}
	mkt, ok := p.registry.Market(key.Market)
	if !ok {
		return p.liqSkip(key, "unknown_market")
	}

	var price *big.Int
	if selfMode {
		ref, err := p.oracle.RefPrice(mkt.FeedID)
		if err != nil || !fixedpoint.IsPositive(ref) {
			return p.liqSkip(key, "no_reference_price")
		}
		price = ref
	} else {
		q, err := p.oracle.Price(mkt.FeedID)
		if err != nil {
			return p.liqSkip(key, "no_price")
		}
		if mkt.MaxOracleAge > 0 && now-q.PublishTime > mkt.MaxOracleAge {
			return p.liqSkip(key, "stale_price")
		}
		price = q.Price
	}

	oiLong, oiShort := p.positions.OpenInterest(key.Asset, key.Market)
	p.accrueFunding(key.Asset, key.Market, mkt, oiLong, oiShort, now)
	tracker := p.funding.Tracker(key.Asset, key.Market)

	long := pos.Direction == orderbook.Long
	pnl, _ := fixedpoint.PnL(long, pos.Size, price, pos.AvgPrice, tracker, pos.FundingSnapshot)

	threshold := fixedpoint.ApplyBps(pos.Margin, mkt.LiqThresholdBps)
	if fixedpoint.Cmp(pnl, fixedpoint.Neg(threshold)) > 0 {
		return p.liqSkip(key, "not_liquidatable")
	}

	fee := fixedpoint.Min(fixedpoint.ApplyBps(pos.Size, mkt.FeeBps), pos.Margin)
	remainder := fixedpoint.Sub(pos.Margin, fee)

	p.positions.Close(key)
	p.positions.SubOpenInterest(key.Asset, key.Market, pos.Direction, pos.Size)
	p.vault.CreditTraderLoss(key.Asset, remainder, now)

	if err := p.distributeFee(key.Asset, fee, caller, uuid.Nil); err != nil {
		p.log.Error().Err(err).Str("market", key.Market).Msg("liquidation fee distribution failed")
	}

	if p.metrics != nil {
		p.metrics.Liquidations.WithLabelValues(key.Market).Inc()
	}
	p.emit(event.Record{
		Type: event.TypePositionLiquidated, Asset: key.Asset, Market: key.Market,
		Owner: key.Owner, Price: fixedpoint.Clone(price),
		Size: fixedpoint.Clone(pos.Size), Margin: fixedpoint.Clone(pos.Margin),
		Fee: fee, Pnl: pnl, Timestamp: now,
	})
	p.log.Info().Str("owner", key.Owner.String()).Str("market", key.Market).
		Str("size", pos.Size.String()).Msg("position liquidated")

	return LiqOutcome{Key: key, Liquidated: true}
}

func (p *Processor) liqSkip(key position.Key, reason string) LiqOutcome {
	if p.metrics != nil {
		p.metrics.LiquidationsSkipped.WithLabelValues(key.Market, reason).Inc()
	}
	return LiqOutcome{Key: key, Reason: reason}
}
