package registry

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
)

// File is the on-disk market/asset configuration. Amounts are
// arbitrary-precision JSON numbers, 1e18-scaled.
type File struct {
	Assets  []AssetConfig  `json:"assets"`
	Markets []MarketConfig `json:"markets"`
	OICaps  []OICapConfig  `json:"oi_caps"`
}

type AssetConfig struct {
	ID           string   `json:"id"`
	RefFeedID    string   `json:"ref_feed_id"`
	MinOrderSize *big.Int `json:"min_order_size"`
}

type MarketConfig struct {
	ID               string   `json:"id"`
	FeedID           string   `json:"feed_id"`
	MaxLeverage      *big.Int `json:"max_leverage"`
	FeeBps           int64    `json:"fee_bps"`
	LiqThresholdBps  int64    `json:"liq_threshold_bps"`
	FundingFactorBps int64    `json:"funding_factor_bps"`
	MaxDeviationBps  int64    `json:"max_deviation_bps"`
	MinOrderAge      int64    `json:"min_order_age"`
	MaxOracleAge     int64    `json:"max_oracle_age"`
	SelfExecAllowed  bool     `json:"self_exec_allowed"`
	SelfExecCooldown int64    `json:"self_exec_cooldown"`
	ReduceOnly       bool     `json:"reduce_only"`
}

type OICapConfig struct {
	Asset  string   `json:"asset"`
	Market string   `json:"market"`
	Cap    *big.Int `json:"cap"`
}

// LoadFile builds a registry from a JSON config file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry config: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry config: %w", err)
	}

	r := New()
	for _, a := range f.Assets {
		if err := r.AddAsset(&Asset{
			ID:           a.ID,
			RefFeedID:    a.RefFeedID,
			MinOrderSize: a.MinOrderSize,
		}); err != nil {
			return nil, err
		}
	}
	for _, m := range f.Markets {
		if err := r.AddMarket(&Market{
			ID:               m.ID,
			FeedID:           m.FeedID,
			MaxLeverage:      m.MaxLeverage,
			FeeBps:           m.FeeBps,
			LiqThresholdBps:  m.LiqThresholdBps,
			FundingFactorBps: m.FundingFactorBps,
			MaxDeviationBps:  m.MaxDeviationBps,
			MinOrderAge:      m.MinOrderAge,
			MaxOracleAge:     m.MaxOracleAge,
			SelfExecAllowed:  m.SelfExecAllowed,
			SelfExecCooldown: m.SelfExecCooldown,
			ReduceOnly:       m.ReduceOnly,
		}); err != nil {
			return nil, err
		}
	}
	for _, c := range f.OICaps {
		if _, ok := r.Asset(c.Asset); !ok {
			return nil, fmt.Errorf("oi cap references unknown asset %s", c.Asset)
		}
		if _, ok := r.Market(c.Market); !ok {
			return nil, fmt.Errorf("oi cap references unknown market %s", c.Market)
		}
		r.SetMaxOpenInterest(c.Asset, c.Market, c.Cap)
	}
	return r, nil
}
