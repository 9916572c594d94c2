package funding

import (
	"math/big"

	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/position"
)

// DefaultInterval is the funding accrual interval in seconds.
const DefaultInterval = 3600

// Engine owns the per-(asset, market) cumulative funding accumulator. The
// tracker is signed and scaled by 10^18 * basis points; positive growth
// means longs owe shorts. Only Accrue mutates it — positions snapshot the
// value and PnL consumes the delta.
type Engine struct {
	interval int64
	trackers map[position.MarketKey]*tracker
}

type tracker struct {
	cum        *big.Int
	lastUpdate int64
}

func NewEngine(intervalSeconds int64) *Engine {
	if intervalSeconds <= 0 {
		intervalSeconds = DefaultInterval
	}
	return &Engine{
		interval: intervalSeconds,
		trackers: make(map[position.MarketKey]*tracker),
	}
}

// Accrue applies funding for the whole intervals elapsed since the last
// update. The very first call only seeds the clock. Calls inside one
// interval are no-ops. With zero open interest the tracker and clock are
// left untouched (beyond the first-touch seeding) so quiet markets do not
// burn elapsed intervals at zero weight.
func (e *Engine) Accrue(asset, market string, oiLong, oiShort *big.Int, factorBps int64, now int64) {
	key := position.MarketKey{Asset: asset, Market: market}
	t := e.trackers[key]
	if t == nil {
		e.trackers[key] = &tracker{cum: fixedpoint.Zero(), lastUpdate: now}
		return
	}

	if now < t.lastUpdate+e.interval {
		return
	}

	total := fixedpoint.Add(oiLong, oiShort)
	if total.Sign() == 0 {
		return
	}

	intervals := (now - t.lastUpdate) / e.interval
	t.cum = fixedpoint.Add(t.cum, Increment(oiLong, oiShort, factorBps, intervals))
	t.lastUpdate = now
}

// Increment computes the signed tracker growth for a given interval count:
//
//	UNIT * factorBps * |OIlong - OIshort| * intervals / (24*365 * (OIlong + OIshort))
//
// positive when longs outweigh shorts (longs pay).
func Increment(oiLong, oiShort *big.Int, factorBps, intervals int64) *big.Int {
	total := fixedpoint.Add(oiLong, oiShort)
	if total.Sign() == 0 || factorBps == 0 || intervals == 0 {
		return fixedpoint.Zero()
	}

	diff := fixedpoint.Sub(oiLong, oiShort)
	num := fixedpoint.Mul(fixedpoint.Unit, big.NewInt(factorBps))
	num.Mul(num, fixedpoint.Abs(diff))
	num.Mul(num, big.NewInt(intervals))

	den := fixedpoint.Mul(big.NewInt(fixedpoint.HoursPerYear), total)
	inc := fixedpoint.Div(num, den)

	if diff.Sign() < 0 {
		inc.Neg(inc)
	}
	return inc
}

// Forecast returns the tracker value as if `intervals` further intervals
// accrued at the given open interest. Read-only — nothing is mutated.
func (e *Engine) Forecast(asset, market string, oiLong, oiShort *big.Int, factorBps, intervals int64) *big.Int {
	return fixedpoint.Add(e.Tracker(asset, market), Increment(oiLong, oiShort, factorBps, intervals))
}

// Tracker returns the cumulative funding accumulator (zero if unseeded).
func (e *Engine) Tracker(asset, market string) *big.Int {
	if t := e.trackers[position.MarketKey{Asset: asset, Market: market}]; t != nil {
		return fixedpoint.Clone(t.cum)
	}
	return fixedpoint.Zero()
}

// LastUpdate returns the tracker clock (zero if unseeded).
func (e *Engine) LastUpdate(asset, market string) int64 {
	if t := e.trackers[position.MarketKey{Asset: asset, Market: market}]; t != nil {
		return t.lastUpdate
	}
	return 0
}

// Restore installs tracker state directly (snapshot restore).
func (e *Engine) Restore(asset, market string, cum *big.Int, lastUpdate int64) {
	e.trackers[position.MarketKey{Asset: asset, Market: market}] = &tracker{
		cum:        fixedpoint.Clone(cum),
		lastUpdate: lastUpdate,
	}
}
