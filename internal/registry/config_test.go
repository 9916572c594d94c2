package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"PerpEngine/internal/registry"
	"PerpEngine/internal/testutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `{
	"assets": [
		{"id": "USDC", "ref_feed_id": "usdc-ref", "min_order_size": 10000000000000000}
	],
	"markets": [
		{
			"id": "ETH-USD", "feed_id": "eth-usd",
			"max_leverage": 50000000000000000000,
			"fee_bps": 10, "liq_threshold_bps": 9000,
			"funding_factor_bps": 1000, "max_deviation_bps": 50,
			"max_oracle_age": 60,
			"self_exec_allowed": true, "self_exec_cooldown": 30
		}
	],
	"oi_caps": [
		{"asset": "USDC", "market": "ETH-USD", "cap": 1000000000000000000000}
	]
}`

// ============================================================================
// Test: LoadFile
// ============================================================================

func TestLoadFile(t *testing.T) {
	r, err := registry.LoadFile(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	mkt, ok := r.Market("ETH-USD")
	if !ok {
		t.Fatal("market missing")
	}
	if mkt.MaxLeverage.Cmp(testutil.Units(50)) != 0 {
		t.Errorf("max leverage: got %s, want %s", mkt.MaxLeverage, testutil.Units(50))
	}
	if !mkt.SelfExecAllowed || mkt.SelfExecCooldown != 30 {
		t.Errorf("self exec: got %v/%d", mkt.SelfExecAllowed, mkt.SelfExecCooldown)
	}

	asset, ok := r.Asset("USDC")
	if !ok {
		t.Fatal("asset missing")
	}
	if asset.MinOrderSize.Cmp(testutil.Milli(10)) != 0 {
		t.Errorf("min order size: got %s, want %s", asset.MinOrderSize, testutil.Milli(10))
	}

	if got := r.MaxOpenInterest("USDC", "ETH-USD"); got.Cmp(testutil.Units(1000)) != 0 {
		t.Errorf("oi cap: got %s, want %s", got, testutil.Units(1000))
	}
	// Unconfigured pairs are unlimited.
	if got := r.MaxOpenInterest("USDC", "BTC-USD"); got.Sign() != 0 {
		t.Errorf("unconfigured cap: got %s, want 0", got)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"oi cap unknown market", `{
			"assets": [{"id": "USDC", "min_order_size": 0}],
			"markets": [],
			"oi_caps": [{"asset": "USDC", "market": "ETH-USD", "cap": 1}]
		}`},
		{"oi cap unknown asset", `{
			"assets": [],
			"markets": [],
			"oi_caps": [{"asset": "USDC", "market": "ETH-USD", "cap": 1}]
		}`},
		{"invalid market", `{
			"assets": [],
			"markets": [{"id": "ETH-USD", "feed_id": "eth-usd", "max_leverage": 1, "liq_threshold_bps": 9000}],
			"oi_caps": []
		}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := registry.LoadFile(writeConfig(t, tc.body)); err == nil {
				t.Error("want error, got nil")
			}
		})
	}

	if _, err := registry.LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file: want error, got nil")
	}
}

// ============================================================================
// Test: ValidateMarket
// ============================================================================

func TestValidateMarket(t *testing.T) {
	valid := func() *registry.Market {
		return &registry.Market{
			ID: "ETH-USD", FeedID: "eth-usd",
			MaxLeverage:     testutil.Units(50),
			FeeBps:          10,
			LiqThresholdBps: 9000,
		}
	}

	if err := registry.ValidateMarket(valid()); err != nil {
		t.Fatalf("valid market rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*registry.Market)
	}{
		{"empty id", func(m *registry.Market) { m.ID = "" }},
		{"empty feed", func(m *registry.Market) { m.FeedID = "" }},
		{"leverage below 1x", func(m *registry.Market) { m.MaxLeverage = testutil.Milli(500) }},
		{"fee too high", func(m *registry.Market) { m.FeeBps = 10000 }},
		{"zero liq threshold", func(m *registry.Market) { m.LiqThresholdBps = 0 }},
		{"negative funding factor", func(m *registry.Market) { m.FundingFactorBps = -1 }},
		{"deviation too high", func(m *registry.Market) { m.MaxDeviationBps = 10000 }},
		{"negative oracle age", func(m *registry.Market) { m.MaxOracleAge = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := valid()
			tc.mutate(m)
			if err := registry.ValidateMarket(m); err == nil {
				t.Error("want error, got nil")
			}
		})
	}
}
