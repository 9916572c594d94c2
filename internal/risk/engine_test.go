package risk_test

import (
	"errors"
	"testing"

	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/risk"
	"PerpEngine/internal/testutil"
)

// ============================================================================
// Test: open interest ceiling
// ============================================================================

func TestCheckMaxOpenInterest(t *testing.T) {
	cases := []struct {
		name                 string
		current, add, ceiling int64
		wantErr              bool
	}{
		{"under ceiling", 98, 2, 100, false},
		{"exactly at ceiling", 98, 2, 100, false},
		{"over ceiling", 98, 3, 100, true},
		{"zero ceiling unlimited", 98, 1_000_000, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := risk.CheckMaxOpenInterest(
				testutil.Units(tc.current), testutil.Units(tc.add), testutil.Units(tc.ceiling))
			if (err != nil) != tc.wantErr {
				t.Errorf("got err=%v, want error=%v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, risk.ErrMaxOpenInterest) {
				t.Errorf("got %v, want ErrMaxOpenInterest", err)
			}
		})
	}
}

// ============================================================================
// Test: drawdown tracker
// ============================================================================

func TestCheckPoolDrawdown_AccumulatesAndRejects(t *testing.T) {
	e := risk.NewEngine(risk.Config{HourlyDecayBps: 100, ProfitLimitBps: 5000})
	pool := testutil.Units(100) // limit = 50

	if err := e.CheckPoolDrawdown("USDC", testutil.Units(30), pool, 1000); err != nil {
		t.Fatalf("first profit within limit: %v", err)
	}
	if err := e.CheckPoolDrawdown("USDC", testutil.Units(30), pool, 1000); err == nil {
		t.Fatal("tracker 60 > limit 50: want rejection")
	} else if !errors.Is(err, risk.ErrPoolDrawdown) {
		t.Fatalf("got %v, want ErrPoolDrawdown", err)
	}
}

func TestCheckPoolDrawdown_RejectionRollsBackProfit(t *testing.T) {
	e := risk.NewEngine(risk.Config{HourlyDecayBps: 100, ProfitLimitBps: 5000})
	pool := testutil.Units(100)

	e.CheckPoolDrawdown("USDC", testutil.Units(30), pool, 1000)
	e.CheckPoolDrawdown("USDC", testutil.Units(30), pool, 1000) // rejected

	if got := e.DrawdownTracker("USDC"); got.Cmp(testutil.Units(30)) != 0 {
		t.Errorf("tracker after rejection: got %s, want %s", got, testutil.Units(30))
	}
	// The rolled-back state still admits a smaller profit.
	if err := e.CheckPoolDrawdown("USDC", testutil.Units(20), pool, 1000); err != nil {
		t.Errorf("smaller profit after rollback: %v", err)
	}
}

func TestCheckPoolDrawdown_HourlyDecay(t *testing.T) {
	e := risk.NewEngine(risk.Config{HourlyDecayBps: 100, ProfitLimitBps: 5000})
	pool := testutil.Units(1000)

	e.CheckPoolDrawdown("USDC", testutil.Units(100), pool, 0)

	// One hour at 100 bps decay keeps 99%.
	e.CheckPoolDrawdown("USDC", fixedpoint.Zero(), pool, 3600)
	if got := e.DrawdownTracker("USDC"); got.Cmp(testutil.Units(99)) != 0 {
		t.Errorf("after 1h: got %s, want %s", got, testutil.Units(99))
	}

	// Two more hours decay iteratively: 99 * 0.99 * 0.99.
	e.CheckPoolDrawdown("USDC", fixedpoint.Zero(), pool, 3*3600)
	want := fixedpoint.Div(
		fixedpoint.Mul(fixedpoint.Div(fixedpoint.Mul(testutil.Units(99), fixedpoint.New(9900)), fixedpoint.New(10000)), fixedpoint.New(9900)),
		fixedpoint.New(10000),
	)
	if got := e.DrawdownTracker("USDC"); got.Cmp(want) != 0 {
		t.Errorf("after 3h: got %s, want %s", got, want)
	}
}

func TestCheckPoolDrawdown_FullDecayShortCircuits(t *testing.T) {
	e := risk.NewEngine(risk.Config{HourlyDecayBps: 100, ProfitLimitBps: 5000})
	pool := testutil.Units(1000)

	e.CheckPoolDrawdown("USDC", testutil.Units(100), pool, 0)

	// 100 hours >= 10000/100: tracker zeroes in one step.
	e.CheckPoolDrawdown("USDC", fixedpoint.Zero(), pool, 100*3600)
	if got := e.DrawdownTracker("USDC"); got.Sign() != 0 {
		t.Errorf("after full decay window: got %s, want 0", got)
	}
}

func TestCheckPoolDrawdown_PartialHourPreserved(t *testing.T) {
	e := risk.NewEngine(risk.Config{HourlyDecayBps: 100, ProfitLimitBps: 5000})
	pool := testutil.Units(1000)

	e.CheckPoolDrawdown("USDC", testutil.Units(100), pool, 0)

	// 90 minutes: one whole hour decays, the 30-minute remainder carries.
	e.CheckPoolDrawdown("USDC", fixedpoint.Zero(), pool, 5400)
	if got := e.DrawdownTracker("USDC"); got.Cmp(testutil.Units(99)) != 0 {
		t.Errorf("after 90min: got %s, want %s", got, testutil.Units(99))
	}

	// 30 minutes later the held remainder completes a second hour.
	e.CheckPoolDrawdown("USDC", fixedpoint.Zero(), pool, 7200)
	want := fixedpoint.Div(fixedpoint.Mul(testutil.Units(99), fixedpoint.New(9900)), fixedpoint.New(10000))
	if got := e.DrawdownTracker("USDC"); got.Cmp(want) != 0 {
		t.Errorf("after 2h total: got %s, want %s", got, want)
	}
}

func TestCheckPoolDrawdown_ZeroLimitDisables(t *testing.T) {
	e := risk.NewEngine(risk.Config{HourlyDecayBps: 100, ProfitLimitBps: 0})
	if err := e.CheckPoolDrawdown("USDC", testutil.Units(1_000_000), testutil.Units(1), 0); err != nil {
		t.Errorf("disabled limit rejected: %v", err)
	}
}

func TestCheckPoolDrawdown_AssetsIndependent(t *testing.T) {
	e := risk.NewEngine(risk.Config{HourlyDecayBps: 100, ProfitLimitBps: 5000})
	pool := testutil.Units(100)

	e.CheckPoolDrawdown("USDC", testutil.Units(40), pool, 0)
	if err := e.CheckPoolDrawdown("DAI", testutil.Units(40), pool, 0); err != nil {
		t.Errorf("DAI tracker shares USDC state: %v", err)
	}
}
