package registry

import (
	"fmt"
	"math/big"

	"PerpEngine/internal/fixedpoint"
)

// Market holds the static per-market trading parameters. The engine treats
// these as read-only inputs; mutation is a governance concern outside this
// module.
type Market struct {
	ID     string
	FeedID string // primary oracle feed

	MaxLeverage      *big.Int // 1e18-scaled (50x = 50 * 10^18)
	FeeBps           int64    // taker fee, basis points of size
	LiqThresholdBps  int64    // liquidatable when loss >= margin * threshold / 10000
	FundingFactorBps int64    // yearly funding factor, basis points
	MaxDeviationBps  int64    // primary-vs-reference price band; 0 disables
	MinOrderAge      int64    // seconds an order must rest before keeper execution
	MaxOracleAge     int64    // seconds before a quote is stale

	SelfExecAllowed  bool  // owner may execute against the reference price
	SelfExecCooldown int64 // seconds after submit before self execution

	ReduceOnly bool // market accepts only position-decreasing orders
}

// Asset holds the static per-collateral-asset parameters.
type Asset struct {
	ID           string
	RefFeedID    string   // secondary reference feed
	MinOrderSize *big.Int // minimum posted margin, 1e18-scaled
}

// OIKey addresses per-(asset, market) limits.
type OIKey struct {
	Asset  string
	Market string
}

// Registry is the read-only market/asset parameter store. Constructed once
// at startup and handed to the processor; string-keyed lookup happens here
// and nowhere else.
type Registry struct {
	markets map[string]*Market
	assets  map[string]*Asset
	oiCaps  map[OIKey]*big.Int // zero/absent = unlimited
}

func New() *Registry {
	return &Registry{
		markets: make(map[string]*Market),
		assets:  make(map[string]*Asset),
		oiCaps:  make(map[OIKey]*big.Int),
	}
}

// AddMarket validates and registers a market.
func (r *Registry) AddMarket(m *Market) error {
	if err := ValidateMarket(m); err != nil {
		return fmt.Errorf("invalid market %s: %w", m.ID, err)
	}
	r.markets[m.ID] = m
	return nil
}

// AddAsset validates and registers a collateral asset.
func (r *Registry) AddAsset(a *Asset) error {
	if a.ID == "" {
		return fmt.Errorf("asset id must be non-empty")
	}
	if fixedpoint.IsNegative(a.MinOrderSize) {
		return fmt.Errorf("min_order_size must be >= 0")
	}
	r.assets[a.ID] = a
	return nil
}

// SetMaxOpenInterest sets the aggregate open-interest ceiling for one
// (asset, market) pair. Zero means unlimited.
func (r *Registry) SetMaxOpenInterest(asset, market string, cap *big.Int) {
	r.oiCaps[OIKey{Asset: asset, Market: market}] = fixedpoint.Clone(cap)
}

// Market returns the market config, or false if unknown.
func (r *Registry) Market(id string) (*Market, bool) {
	m, ok := r.markets[id]
	return m, ok
}

// Asset returns the asset config, or false if unknown.
func (r *Registry) Asset(id string) (*Asset, bool) {
	a, ok := r.assets[id]
	return a, ok
}

// MaxOpenInterest returns the OI ceiling for (asset, market). Zero means
// unlimited.
func (r *Registry) MaxOpenInterest(asset, market string) *big.Int {
	if cap, ok := r.oiCaps[OIKey{Asset: asset, Market: market}]; ok {
		return fixedpoint.Clone(cap)
	}
	return fixedpoint.Zero()
}

// ValidateMarket checks parameter ranges: fee and thresholds within bps
// bounds, leverage >= 1x, non-negative ages.
func ValidateMarket(m *Market) error {
	if m.ID == "" {
		return fmt.Errorf("market id must be non-empty")
	}
	if m.FeedID == "" {
		return fmt.Errorf("feed id must be non-empty")
	}
	if fixedpoint.Cmp(m.MaxLeverage, fixedpoint.Unit) < 0 {
		return fmt.Errorf("max_leverage must be >= 1x")
	}
	if m.FeeBps < 0 || m.FeeBps >= fixedpoint.BpsDivisor {
		return fmt.Errorf("fee_bps out of range: %d", m.FeeBps)
	}
	if m.LiqThresholdBps <= 0 || m.LiqThresholdBps > fixedpoint.BpsDivisor {
		return fmt.Errorf("liq_threshold_bps out of range: %d", m.LiqThresholdBps)
	}
	if m.FundingFactorBps < 0 {
		return fmt.Errorf("funding_factor_bps must be >= 0")
	}
	if m.MaxDeviationBps < 0 || m.MaxDeviationBps >= fixedpoint.BpsDivisor {
		return fmt.Errorf("max_deviation_bps out of range: %d", m.MaxDeviationBps)
	}
	if m.MinOrderAge < 0 || m.MaxOracleAge < 0 || m.SelfExecCooldown < 0 {
		return fmt.Errorf("age bounds must be >= 0")
	}
	return nil
}
