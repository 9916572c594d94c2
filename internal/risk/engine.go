package risk

import (
	"errors"
	"fmt"
	"math/big"

	"PerpEngine/internal/fixedpoint"
)

var (
	// ErrMaxOpenInterest rejects an increase that would push aggregate open
	// interest past the configured ceiling.
	ErrMaxOpenInterest = errors.New("risk: max open interest exceeded")

	// ErrPoolDrawdown rejects a profit payout that would exceed the decaying
	// drawdown ceiling.
	ErrPoolDrawdown = errors.New("risk: pool drawdown limit exceeded")
)

// Config holds the drawdown-window parameters.
type Config struct {
	HourlyDecayBps int64 // geometric decay of the profit tracker per hour
	ProfitLimitBps int64 // ceiling as bps of pool available; 0 disables
}

// Engine enforces the two risk limits: a per-(asset, market) open-interest
// ceiling (pure validation, no state) and a per-asset amortized trader-profit
// tracker that decays geometrically over time and bounds cumulative pool
// bleed over a rolling window.
type Engine struct {
	cfg      Config
	drawdown map[string]*drawdownState
}

type drawdownState struct {
	tracker   *big.Int
	lastCheck int64
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		drawdown: make(map[string]*drawdownState),
	}
}

// CheckMaxOpenInterest rejects if currentOI + incoming would exceed the
// ceiling. A zero ceiling means unlimited. Pure validation — nothing is
// mutated.
func CheckMaxOpenInterest(currentOI, incoming, ceiling *big.Int) error {
	if fixedpoint.IsZero(ceiling) {
		return nil
	}
	next := fixedpoint.Add(currentOI, incoming)
	if next.Cmp(ceiling) > 0 {
		return fmt.Errorf("%w: %s + %s > %s", ErrMaxOpenInterest, currentOI, incoming, ceiling)
	}
	return nil
}

// CheckPoolDrawdown decays the per-asset profit tracker for the full hours
// elapsed since the last check, adds the newly realized trader profit, and
// rejects if the tracker exceeds profitLimitBps of poolAvailable. On
// rejection the added profit is rolled back (the decrease that produced it
// aborts), but the decay stands.
//
// The decay is applied one truncating multiplication per elapsed hour — not
// a closed-form power — so repeated small checks and one large gap agree
// with the historical rounding behavior. A gap long enough to fully decay
// (elapsed hours >= 10000/decayBps) short-circuits to zero.
func (e *Engine) CheckPoolDrawdown(asset string, profit, poolAvailable *big.Int, now int64) error {
	st := e.drawdown[asset]
	if st == nil {
		st = &drawdownState{tracker: fixedpoint.Zero(), lastCheck: now}
		e.drawdown[asset] = st
	}

	hours := (now - st.lastCheck) / 3600
	if hours > 0 {
		if e.cfg.HourlyDecayBps > 0 && hours >= fixedpoint.BpsDivisor/e.cfg.HourlyDecayBps {
			st.tracker.SetInt64(0)
		} else if e.cfg.HourlyDecayBps > 0 {
			keep := big.NewInt(fixedpoint.BpsDivisor - e.cfg.HourlyDecayBps)
			for i := int64(0); i < hours; i++ {
				st.tracker.Mul(st.tracker, keep)
				st.tracker.Quo(st.tracker, big.NewInt(fixedpoint.BpsDivisor))
			}
		}
		st.lastCheck += hours * 3600
	}

	if fixedpoint.IsPositive(profit) {
		st.tracker.Add(st.tracker, profit)
	}

	if e.cfg.ProfitLimitBps > 0 {
		limit := fixedpoint.ApplyBps(poolAvailable, e.cfg.ProfitLimitBps)
		if st.tracker.Cmp(limit) > 0 {
			if fixedpoint.IsPositive(profit) {
				st.tracker.Sub(st.tracker, profit)
			}
			return fmt.Errorf("%w: asset %s, tracker would reach %s, limit %s",
				ErrPoolDrawdown, asset, fixedpoint.Add(st.tracker, profit), limit)
		}
	}

	return nil
}

// DrawdownTracker exposes the current tracker value (query surface).
func (e *Engine) DrawdownTracker(asset string) *big.Int {
	if st := e.drawdown[asset]; st != nil {
		return fixedpoint.Clone(st.tracker)
	}
	return fixedpoint.Zero()
}
