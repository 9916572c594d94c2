package engine

import (
	"fmt"
	"math/big"

	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/oracle"

	"github.com/google/uuid"
)

// ApplyPriceUpdate pushes a standalone quote batch. Unlike execution
// batches this is not keeper-gated — anyone paying the update fee may
// refresh prices.
func (p *Processor) ApplyPriceUpdate(caller uuid.UUID, updates []oracle.QuoteUpdate, feePaid *big.Int) error {
	return p.applyOracleUpdate(caller, updates, feePaid)
}

// applyOracleUpdate collects the caller's fee payment, pushes the quote
// batch into the adapter, and refunds whatever was paid beyond the charged
// fee. A refused batch refunds the payment in full.
func (p *Processor) applyOracleUpdate(caller uuid.UUID, updates []oracle.QuoteUpdate, feePaid *big.Int) error {
	if len(updates) == 0 {
		return nil
	}
	if _, err := p.custody.TransferIn(p.cfg.UpdateFeeAsset, caller, feePaid); err != nil {
		return fmt.Errorf("oracle update fee: %w", err)
	}
	charged, err := p.oracle.ApplyUpdate(updates, feePaid)
	if err != nil {
		if _, rerr := p.custody.TransferOut(p.cfg.UpdateFeeAsset, caller, feePaid); rerr != nil {
			p.log.Error().Err(rerr).Msg("oracle fee refund failed")
		}
		return fmt.Errorf("oracle update: %w", err)
	}
	if p.metrics != nil {
		p.metrics.QuoteUpdates.Add(float64(len(updates)))
	}

	over := fixedpoint.Sub(feePaid, charged)
	if over.Sign() > 0 {
		if _, err := p.custody.TransferOut(p.cfg.UpdateFeeAsset, caller, over); err != nil {
			return fmt.Errorf("oracle fee refund: %w", err)
		}
	}
	return nil
}

// distributeFee splits a charged fee between the executing keeper, the
// order's referrer and the treasury. Shares truncate; the treasury takes the
// residue, and the referrer share when there is no referrer. All three
// transfers are against engine custody.
func (p *Processor) distributeFee(asset string, fee *big.Int, keeper, referrer uuid.UUID) error {
	if !fixedpoint.IsPositive(fee) {
		return nil
	}

	keeperShare := fixedpoint.ApplyBps(fee, p.cfg.KeeperShareBps)
	referrerShare := fixedpoint.Zero()
	if referrer != uuid.Nil {
		referrerShare = fixedpoint.ApplyBps(fee, p.cfg.ReferrerShareBps)
	}
	treasuryShare := fixedpoint.Sub(fee, fixedpoint.Add(keeperShare, referrerShare))

	if _, err := p.custody.TransferOut(asset, keeper, keeperShare); err != nil {
		return fmt.Errorf("keeper fee share: %w", err)
	}
	if _, err := p.custody.TransferOut(asset, referrer, referrerShare); err != nil {
		return fmt.Errorf("referrer fee share: %w", err)
	}
	if _, err := p.custody.TransferOut(asset, p.cfg.Treasury, treasuryShare); err != nil {
		return fmt.Errorf("treasury fee share: %w", err)
	}
	return nil
}
