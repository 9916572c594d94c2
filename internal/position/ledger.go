package position

import (
	"math/big"
	"sort"

	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/orderbook"

	"github.com/google/uuid"
)

// Key addresses the one position a user may hold per (asset, market) pair.
type Key struct {
	Owner  uuid.UUID
	Asset  string
	Market string
}

// MarketKey addresses the aggregate open-interest counters.
type MarketKey struct {
	Asset  string
	Market string
}

// Position is the current open exposure for one key. Size, margin and
// prices are 1e18-scaled. A position with size zero does not exist: the
// ledger deletes it rather than keeping a tombstone.
type Position struct {
	Owner  uuid.UUID
	Asset  string
	Market string

	Margin   *big.Int
	Size     *big.Int
	AvgPrice *big.Int
	Direction orderbook.Direction

	OpenTime        int64
	FundingSnapshot *big.Int // cumulative funding tracker at last touch
}

// Key returns the ledger key for this position.
func (p *Position) Key() Key {
	return Key{Owner: p.Owner, Asset: p.Asset, Market: p.Market}
}

// Ledger owns all open positions and the per-(asset, market) open-interest
// counters. It is mutated only by the processor; all arithmetic here is
// pure bookkeeping — PnL and risk decisions live with the caller.
type Ledger struct {
	positions map[Key]*Position
	oiLong    map[MarketKey]*big.Int
	oiShort   map[MarketKey]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[Key]*Position),
		oiLong:    make(map[MarketKey]*big.Int),
		oiShort:   make(map[MarketKey]*big.Int),
	}
}

// Get returns the open position for a key, or nil.
func (l *Ledger) Get(key Key) *Position {
	return l.positions[key]
}

// Increase opens or grows a position. On growth the average entry price is
// the size-weighted blend of the existing position and the fill; on open
// the funding tracker is snapshotted and the open time recorded.
func (l *Ledger) Increase(key Key, dir orderbook.Direction, margin, size, price, tracker *big.Int, now int64) *Position {
	pos := l.positions[key]
	if pos == nil {
		pos = &Position{
			Owner:           key.Owner,
			Asset:           key.Asset,
			Market:          key.Market,
			Margin:          fixedpoint.Clone(margin),
			Size:            fixedpoint.Clone(size),
			AvgPrice:        fixedpoint.Clone(price),
			Direction:       dir,
			OpenTime:        now,
			FundingSnapshot: fixedpoint.Clone(tracker),
		}
		l.positions[key] = pos
		return pos
	}

	pos.AvgPrice = fixedpoint.BlendEntryPrice(pos.Size, pos.AvgPrice, size, price)
	pos.Margin = fixedpoint.Add(pos.Margin, margin)
	pos.Size = fixedpoint.Add(pos.Size, size)
	return pos
}

// Reduce shrinks a position by execSize, decrementing margin proportionally
// (truncating, never below zero). It returns the margin released. When the
// full size is consumed the position is deleted. The caller refreshes the
// funding snapshot afterwards via SnapshotFunding for partial reductions.
func (l *Ledger) Reduce(key Key, execSize *big.Int) *big.Int {
	pos := l.positions[key]
	if pos == nil {
		return fixedpoint.Zero()
	}

	if fixedpoint.Cmp(execSize, pos.Size) >= 0 {
		released := fixedpoint.Clone(pos.Margin)
		delete(l.positions, key)
		return released
	}

	released := fixedpoint.MulDiv(pos.Margin, execSize, pos.Size)
	pos.Margin = fixedpoint.Sub(pos.Margin, released)
	pos.Size = fixedpoint.Sub(pos.Size, execSize)
	return released
}

// Close deletes the position outright (liquidation path) and returns it.
func (l *Ledger) Close(key Key) *Position {
	pos := l.positions[key]
	if pos != nil {
		delete(l.positions, key)
	}
	return pos
}

// SnapshotFunding refreshes the position's funding-tracker snapshot.
func (l *Ledger) SnapshotFunding(key Key, tracker *big.Int) {
	if pos := l.positions[key]; pos != nil {
		pos.FundingSnapshot = fixedpoint.Clone(tracker)
	}
}

// SetMargin overwrites a position's margin (fee charged out of margin on
// reduce-only fills and liquidation accounting).
func (l *Ledger) SetMargin(key Key, margin *big.Int) {
	if pos := l.positions[key]; pos != nil {
		pos.Margin = fixedpoint.Clone(margin)
	}
}

// AddOpenInterest increments the long or short counter.
func (l *Ledger) AddOpenInterest(asset, market string, dir orderbook.Direction, size *big.Int) {
	mk := MarketKey{Asset: asset, Market: market}
	if dir == orderbook.Long {
		l.oiLong[mk] = fixedpoint.Add(l.oiLong[mk], size)
	} else {
		l.oiShort[mk] = fixedpoint.Add(l.oiShort[mk], size)
	}
}

// SubOpenInterest decrements the long or short counter, clamped at zero.
func (l *Ledger) SubOpenInterest(asset, market string, dir orderbook.Direction, size *big.Int) {
	mk := MarketKey{Asset: asset, Market: market}
	counters := l.oiLong
	if dir == orderbook.Short {
		counters = l.oiShort
	}
	next := fixedpoint.Sub(counters[mk], size)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	counters[mk] = next
}

// OpenInterest returns the (long, short) aggregate sizes for a pair.
func (l *Ledger) OpenInterest(asset, market string) (*big.Int, *big.Int) {
	mk := MarketKey{Asset: asset, Market: market}
	return fixedpoint.Clone(l.oiLong[mk]), fixedpoint.Clone(l.oiShort[mk])
}

// All returns every open position, ordered by owner then market for
// deterministic iteration.
func (l *Ledger) All() []*Position {
	result := make([]*Position, 0, len(l.positions))
	for _, pos := range l.positions {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Owner != b.Owner {
			return a.Owner.String() < b.Owner.String()
		}
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		return a.Market < b.Market
	})
	return result
}

// OwnerPositions returns one user's open positions.
func (l *Ledger) OwnerPositions(owner uuid.UUID) []*Position {
	result := make([]*Position, 0)
	for key, pos := range l.positions {
		if key.Owner == owner {
			result = append(result, pos)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Asset != result[j].Asset {
			return result[i].Asset < result[j].Asset
		}
		return result[i].Market < result[j].Market
	})
	return result
}

// SetPosition directly installs a position (snapshot restore).
func (l *Ledger) SetPosition(pos *Position) {
	if fixedpoint.IsZero(pos.Size) {
		return
	}
	l.positions[pos.Key()] = pos
}
