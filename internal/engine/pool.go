package engine

import (
	"fmt"
	"math/big"

	"PerpEngine/internal/event"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/oracle"

	"github.com/google/uuid"
)

// Deposit converts a user's assets into LP shares and returns the shares
// minted.
func (p *Processor) Deposit(asset string, user uuid.UUID, amount *big.Int, now int64) (*big.Int, error) {
	if _, ok := p.registry.Asset(asset); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	minted, err := p.vault.Deposit(asset, user, amount, now)
	if err != nil {
		return nil, err
	}

	p.observePool(asset)
	if p.metrics != nil {
		p.metrics.PoolDeposits.WithLabelValues(asset).Inc()
	}
	p.emit(event.Record{
		Type: event.TypePoolDeposit, Asset: asset, Owner: user,
		Size: fixedpoint.Clone(amount), Margin: fixedpoint.Clone(minted), Timestamp: now,
	})
	return minted, nil
}

// Withdraw burns a user's LP shares and returns the assets paid out.
func (p *Processor) Withdraw(asset string, user uuid.UUID, shares *big.Int, now int64) (*big.Int, error) {
	if _, ok := p.registry.Asset(asset); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	out, err := p.vault.Withdraw(asset, user, shares, now)
	if err != nil {
		return nil, err
	}

	p.observePool(asset)
	if p.metrics != nil {
		p.metrics.PoolWithdrawals.WithLabelValues(asset).Inc()
	}
	p.emit(event.Record{
		Type: event.TypePoolWithdraw, Asset: asset, Owner: user,
		Size: fixedpoint.Clone(out), Margin: fixedpoint.Clone(shares), Timestamp: now,
	})
	return out, nil
}

// ReportGlobalUnrealizedPnl forwards the externally computed aggregate
// trader PnL to the vault's tax logic.
func (p *Processor) ReportGlobalUnrealizedPnl(asset string, pnl *big.Int) {
	p.vault.SetGlobalUnrealizedPnl(asset, pnl)
}

// PnlReport is one asset's externally computed aggregate unrealized trader
// PnL, delivered on the reference feed.
type PnlReport struct {
	Asset string   `json:"asset"`
	Pnl   *big.Int `json:"pnl"`
}

// ApplyReferenceUpdate refreshes the secondary reference prices and the
// per-asset global unrealized PnL in one pass. Reference entries carry no
// fee or staleness metadata; last write wins. Malformed entries are dropped
// individually — a partial batch still lands.
func (p *Processor) ApplyReferenceUpdate(refs []oracle.RefPriceUpdate, reports []PnlReport) {
	for _, r := range refs {
		if r.FeedID == "" || r.Price == nil || r.Price.Sign() < 0 {
			continue
		}
		p.oracle.SetRefPrice(r.FeedID, r.Price)
	}
	for _, rep := range reports {
		if rep.Asset == "" {
			continue
		}
		p.vault.SetGlobalUnrealizedPnl(rep.Asset, rep.Pnl)
	}
	if p.metrics != nil {
		p.metrics.ReferenceUpdates.Inc()
	}
}

// observePool refreshes the pool balance gauges. Gauges carry the 1e18-scaled
// value as a float; precision loss is acceptable for monitoring.
func (p *Processor) observePool(asset string) {
	if p.metrics == nil {
		return
	}
	main, _ := new(big.Float).SetInt(p.vault.MainBalance(asset)).Float64()
	buf, _ := new(big.Float).SetInt(p.vault.BufferBalance(asset)).Float64()
	p.metrics.PoolMainBalance.WithLabelValues(asset).Set(main)
	p.metrics.PoolBufferBalance.WithLabelValues(asset).Set(buf)
}
