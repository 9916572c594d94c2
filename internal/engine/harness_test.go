package engine_test

import (
	"math/big"
	"testing"

	"PerpEngine/internal/custody"
	"PerpEngine/internal/engine"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/funding"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/orderbook"
	"PerpEngine/internal/pool"
	"PerpEngine/internal/position"
	"PerpEngine/internal/registry"
	"PerpEngine/internal/risk"
	"PerpEngine/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	assetUSDC = "USDC"
	mktETH    = "ETH-USD"
	mktBTC    = "BTC-USD"
	feedETH   = "eth-usd"
	feedBTC   = "btc-usd"
)

// fixture wires a processor over in-memory collaborators. Two markets:
// ETH-USD allows self execution and enforces quote staleness; BTC-USD
// carries a funding factor and a minimum order age.
type fixture struct {
	proc   *engine.Processor
	cust   *custody.InMemory
	orc    *oracle.Adapter
	vault  *pool.Vault
	keeper uuid.UUID
}

type fixtureOpts struct {
	cfg       engine.Config
	riskCfg   risk.Config
	oracleFee *big.Int
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, fixtureOpts{})
}

func newFixtureWith(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	cfg := opts.cfg
	if cfg.Treasury == uuid.Nil {
		cfg.Treasury = uuid.New()
	}
	if cfg.KeeperShareBps == 0 {
		cfg.KeeperShareBps = 2000
	}
	if cfg.ReferrerShareBps == 0 {
		cfg.ReferrerShareBps = 1000
	}
	if cfg.UpdateFeeAsset == "" {
		cfg.UpdateFeeAsset = assetUSDC
	}
	riskCfg := opts.riskCfg
	if riskCfg.HourlyDecayBps == 0 {
		riskCfg.HourlyDecayBps = 100
	}

	reg := registry.New()
	if err := reg.AddAsset(&registry.Asset{
		ID: assetUSDC, RefFeedID: feedETH, MinOrderSize: testutil.Milli(10),
	}); err != nil {
		t.Fatalf("add asset: %v", err)
	}
	if err := reg.AddMarket(&registry.Market{
		ID: mktETH, FeedID: feedETH,
		MaxLeverage:     testutil.Units(50),
		FeeBps:          10,
		LiqThresholdBps: 9000,
		MaxDeviationBps: 50,
		MaxOracleAge:    60,
		SelfExecAllowed: true, SelfExecCooldown: 30,
	}); err != nil {
		t.Fatalf("add market: %v", err)
	}
	if err := reg.AddMarket(&registry.Market{
		ID: mktBTC, FeedID: feedBTC,
		MaxLeverage:      testutil.Units(50),
		FeeBps:           10,
		LiqThresholdBps:  9000,
		FundingFactorBps: 1000,
		MinOrderAge:      10,
	}); err != nil {
		t.Fatalf("add market: %v", err)
	}

	cust := custody.NewInMemory()
	orc := oracle.NewAdapter(opts.oracleFee)
	vault := pool.NewVault(pool.Config{PayoutPeriod: 6 * 3600, MaxTaxBps: 500}, cust)

	proc := engine.NewProcessor(
		zerolog.Nop(), nil,
		reg, orc,
		orderbook.NewStore(), position.NewLedger(),
		funding.NewEngine(3600),
		risk.NewEngine(riskCfg),
		vault, cust, cfg, nil,
	)
	keeper := uuid.New()
	if len(cfg.Keepers) > 0 {
		keeper = cfg.Keepers[0]
	}
	return &fixture{proc: proc, cust: cust, orc: orc, vault: vault, keeper: keeper}
}

func (f *fixture) trader(amount *big.Int) uuid.UUID {
	user := uuid.New()
	f.cust.Fund(assetUSDC, user, amount)
	return user
}

// push seeds a primary quote directly in the adapter (fee-free path; the
// paid path is covered by the oracle-fee tests).
func (f *fixture) push(t *testing.T, feedID string, price *big.Int, publishTime int64) {
	t.Helper()
	_, err := f.orc.ApplyUpdate([]oracle.QuoteUpdate{
		{FeedID: feedID, Price: price, PublishTime: publishTime},
	}, fixedpoint.Zero())
	if err != nil {
		t.Fatalf("push quote: %v", err)
	}
}

func (f *fixture) submit(t *testing.T, req engine.SubmitRequest, now int64) uint64 {
	t.Helper()
	id, err := f.proc.SubmitOrder(req, now)
	if err != nil {
		t.Fatalf("submit order: %v", err)
	}
	return id
}

func (f *fixture) exec(t *testing.T, ids []uint64, now int64) []engine.Outcome {
	t.Helper()
	outcomes, err := f.proc.ExecuteOrders(f.keeper, ids, nil, nil, now)
	if err != nil {
		t.Fatalf("execute orders: %v", err)
	}
	return outcomes
}

func (f *fixture) execOne(t *testing.T, id uint64, now int64) engine.Outcome {
	t.Helper()
	outcomes := f.exec(t, []uint64{id}, now)
	if len(outcomes) != 1 {
		t.Fatalf("outcomes: got %d, want 1", len(outcomes))
	}
	return outcomes[0]
}

// openLong fills a fresh long market order against a quote published one
// second after submission; the position's open time is now+1.
func (f *fixture) openLong(t *testing.T, owner uuid.UUID, margin, size, price *big.Int, now int64) {
	t.Helper()
	id := f.submit(t, engine.SubmitRequest{
		Owner: owner, Asset: assetUSDC, Market: mktETH,
		Margin: margin, Size: size,
		Direction: orderbook.Long, Type: orderbook.Market,
	}, now)
	f.push(t, feedETH, price, now+1)
	out := f.execOne(t, id, now+1)
	if out.Status != engine.StatusExecuted {
		t.Fatalf("open long: got %v (%s), want executed", out.Status, out.Reason)
	}
}

func (f *fixture) ethKey(owner uuid.UUID) position.Key {
	return position.Key{Owner: owner, Asset: assetUSDC, Market: mktETH}
}

func wantStatus(t *testing.T, out engine.Outcome, status engine.Status, reason string) {
	t.Helper()
	if out.Status != status || out.Reason != reason {
		t.Errorf("outcome: got %v (%q), want %v (%q)", out.Status, out.Reason, status, reason)
	}
}
