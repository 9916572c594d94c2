package pool_test

import (
	"errors"
	"testing"

	"PerpEngine/internal/custody"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/pool"
	"PerpEngine/internal/testutil"

	"github.com/google/uuid"
)

func newVault() (*pool.Vault, *custody.InMemory) {
	cust := custody.NewInMemory()
	v := pool.NewVault(pool.Config{PayoutPeriod: 6 * 3600, MaxTaxBps: 500}, cust)
	return v, cust
}

func fundedUser(cust *custody.InMemory, amount int64) uuid.UUID {
	user := uuid.New()
	cust.Fund("USDC", user, testutil.Units(amount))
	return user
}

// ============================================================================
// Test: deposit / withdraw
// ============================================================================

func TestVault_FirstDepositMintsOneToOne(t *testing.T) {
	v, cust := newVault()
	lp := fundedUser(cust, 10)

	minted, err := v.Deposit("USDC", lp, testutil.Units(10), 1000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.Cmp(testutil.Units(10)) != 0 {
		t.Errorf("minted: got %s, want %s", minted, testutil.Units(10))
	}
	if got := v.MainBalance("USDC"); got.Cmp(testutil.Units(10)) != 0 {
		t.Errorf("main balance: got %s, want %s", got, testutil.Units(10))
	}
	if got := cust.Balance("USDC", lp); got.Sign() != 0 {
		t.Errorf("user balance after deposit: got %s, want 0", got)
	}
}

func TestVault_SecondDepositPreservesNAV(t *testing.T) {
	v, cust := newVault()
	a := fundedUser(cust, 10)
	b := fundedUser(cust, 5)

	v.Deposit("USDC", a, testutil.Units(10), 0)
	minted, err := v.Deposit("USDC", b, testutil.Units(5), 0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// NAV still 1:1 with no PnL: 5 in -> 5 shares.
	if minted.Cmp(testutil.Units(5)) != 0 {
		t.Errorf("minted: got %s, want %s", minted, testutil.Units(5))
	}
	if got := v.TotalShares("USDC"); got.Cmp(testutil.Units(15)) != 0 {
		t.Errorf("total shares: got %s, want %s", got, testutil.Units(15))
	}
}

func TestVault_WithdrawRoundTrip(t *testing.T) {
	v, cust := newVault()
	lp := fundedUser(cust, 10)
	v.Deposit("USDC", lp, testutil.Units(10), 0)

	out, err := v.Withdraw("USDC", lp, testutil.Units(4), 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Cmp(testutil.Units(4)) != 0 {
		t.Errorf("payout: got %s, want %s", out, testutil.Units(4))
	}
	if got := v.Shares("USDC", lp); got.Cmp(testutil.Units(6)) != 0 {
		t.Errorf("remaining shares: got %s, want %s", got, testutil.Units(6))
	}
	if got := cust.Balance("USDC", lp); got.Cmp(testutil.Units(4)) != 0 {
		t.Errorf("user balance: got %s, want %s", got, testutil.Units(4))
	}
}

func TestVault_WithdrawMoreThanHeld(t *testing.T) {
	v, cust := newVault()
	lp := fundedUser(cust, 10)
	v.Deposit("USDC", lp, testutil.Units(10), 0)

	_, err := v.Withdraw("USDC", lp, testutil.Units(11), 0)
	if !errors.Is(err, pool.ErrInsufficientShares) {
		t.Errorf("got %v, want ErrInsufficientShares", err)
	}
}

// ============================================================================
// Test: entry/exit tax
// ============================================================================

func TestVault_DepositTaxWhenTradersWinning(t *testing.T) {
	v, cust := newVault()
	a := fundedUser(cust, 100)
	b := fundedUser(cust, 100)
	v.Deposit("USDC", a, testutil.Units(100), 0)

	// Traders net up with an empty buffer: full 500 bps tax on entry.
	v.SetGlobalUnrealizedPnl("USDC", testutil.Units(5))

	minted, err := v.Deposit("USDC", b, testutil.Units(100), 0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Net 95 at NAV 1:1 -> 95 shares; the 5 tax accretes to a's shares.
	if minted.Cmp(testutil.Units(95)) != 0 {
		t.Errorf("minted: got %s, want %s", minted, testutil.Units(95))
	}
	if got := v.MainBalance("USDC"); got.Cmp(testutil.Units(200)) != 0 {
		t.Errorf("main balance: got %s, want %s", got, testutil.Units(200))
	}
}

func TestVault_WithdrawTaxWhenTradersLosing(t *testing.T) {
	v, cust := newVault()
	a := fundedUser(cust, 100)
	b := fundedUser(cust, 100)
	v.Deposit("USDC", a, testutil.Units(100), 0)
	v.Deposit("USDC", b, testutil.Units(100), 0)

	// Traders net down: exits pay the cap with no buffer to scale against.
	v.SetGlobalUnrealizedPnl("USDC", fixedpoint.Neg(testutil.Units(5)))

	out, err := v.Withdraw("USDC", a, testutil.Units(100), 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Cmp(testutil.Units(95)) != 0 {
		t.Errorf("payout: got %s, want %s", out, testutil.Units(95))
	}
	// The 5 stays with b.
	if got := v.MainBalance("USDC"); got.Cmp(testutil.Units(105)) != 0 {
		t.Errorf("main balance: got %s, want %s", got, testutil.Units(105))
	}
}

func TestVault_TaxScalesWithBuffer(t *testing.T) {
	v, cust := newVault()
	a := fundedUser(cust, 100)
	b := fundedUser(cust, 100)
	v.Deposit("USDC", a, testutil.Units(100), 0)

	// Buffer 100, |unPnl| 1 -> 100 bps, below the 500 bps cap.
	v.CreditTraderLoss("USDC", testutil.Units(100), 1000)
	v.SetGlobalUnrealizedPnl("USDC", testutil.Units(1))

	minted, err := v.Deposit("USDC", b, testutil.Units(100), 1000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.Cmp(testutil.Units(99)) != 0 {
		t.Errorf("minted: got %s, want %s", minted, testutil.Units(99))
	}
}

func TestVault_EmptyingWithdrawalFullyTaxed(t *testing.T) {
	v, cust := newVault()
	lp := fundedUser(cust, 10)
	v.Deposit("USDC", lp, testutil.Units(10), 0)

	out, err := v.Withdraw("USDC", lp, testutil.Units(10), 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Sign() != 0 {
		t.Errorf("emptying withdrawal payout: got %s, want 0", out)
	}
	if got := v.MainBalance("USDC"); got.Cmp(testutil.Units(10)) != 0 {
		t.Errorf("pool keeps the balance: got %s, want %s", got, testutil.Units(10))
	}
	if got := v.Shares("USDC", lp); got.Sign() != 0 {
		t.Errorf("shares still burned: got %s, want 0", got)
	}
}

// ============================================================================
// Test: buffer streaming
// ============================================================================

func TestVault_BufferStreamsOverPayoutPeriod(t *testing.T) {
	v, _ := newVault()

	v.CreditTraderLoss("USDC", testutil.Units(60), 1000) // seeds clock, buffer 60
	if got := v.BufferBalance("USDC"); got.Cmp(testutil.Units(60)) != 0 {
		t.Fatalf("buffer: got %s, want %s", got, testutil.Units(60))
	}

	// A third of the payout period: 60 * 7200/21600 = 20 moves to main.
	v.CreditTraderLoss("USDC", fixedpoint.Zero(), 1000+7200)
	if got := v.MainBalance("USDC"); got.Cmp(testutil.Units(20)) != 0 {
		t.Errorf("main after stream: got %s, want %s", got, testutil.Units(20))
	}
	if got := v.BufferBalance("USDC"); got.Cmp(testutil.Units(40)) != 0 {
		t.Errorf("buffer after stream: got %s, want %s", got, testutil.Units(40))
	}
}

func TestVault_CreditStreamsBeforeAdding(t *testing.T) {
	v, _ := newVault()
	v.CreditTraderLoss("USDC", testutil.Units(60), 1000)
	v.CreditTraderLoss("USDC", testutil.Units(60), 1000) // same instant: no stream

	// Full period later: only the pre-existing 120 streams, then 30 lands.
	v.CreditTraderLoss("USDC", testutil.Units(30), 1000+6*3600)
	if got := v.MainBalance("USDC"); got.Cmp(testutil.Units(120)) != 0 {
		t.Errorf("main: got %s, want %s", got, testutil.Units(120))
	}
	if got := v.BufferBalance("USDC"); got.Cmp(testutil.Units(30)) != 0 {
		t.Errorf("buffer: got %s, want %s", got, testutil.Units(30))
	}
}

// ============================================================================
// Test: profit debits
// ============================================================================

func TestVault_DebitBufferFirstThenMain(t *testing.T) {
	v, cust := newVault()
	lp := fundedUser(cust, 100)
	v.Deposit("USDC", lp, testutil.Units(100), 0)
	v.CreditTraderLoss("USDC", testutil.Units(10), 0)

	if err := v.DebitTraderProfit("USDC", testutil.Units(25)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := v.BufferBalance("USDC"); got.Sign() != 0 {
		t.Errorf("buffer: got %s, want 0", got)
	}
	if got := v.MainBalance("USDC"); got.Cmp(testutil.Units(85)) != 0 {
		t.Errorf("main: got %s, want %s", got, testutil.Units(85))
	}
}

func TestVault_DebitInsolventMutatesNothing(t *testing.T) {
	v, cust := newVault()
	lp := fundedUser(cust, 10)
	v.Deposit("USDC", lp, testutil.Units(10), 0)
	v.CreditTraderLoss("USDC", testutil.Units(5), 0)

	err := v.DebitTraderProfit("USDC", testutil.Units(20))
	if !errors.Is(err, pool.ErrPoolInsolvent) {
		t.Fatalf("got %v, want ErrPoolInsolvent", err)
	}
	if got := v.BufferBalance("USDC"); got.Cmp(testutil.Units(5)) != 0 {
		t.Errorf("buffer touched on failure: got %s, want %s", got, testutil.Units(5))
	}
	if got := v.MainBalance("USDC"); got.Cmp(testutil.Units(10)) != 0 {
		t.Errorf("main touched on failure: got %s, want %s", got, testutil.Units(10))
	}
}

func TestVault_Redeemable(t *testing.T) {
	v, cust := newVault()
	lp := fundedUser(cust, 10)
	v.Deposit("USDC", lp, testutil.Units(10), 0)

	// Trader loss streamed fully into main lifts NAV.
	v.CreditTraderLoss("USDC", testutil.Units(5), 1000)
	v.CreditTraderLoss("USDC", fixedpoint.Zero(), 1000+6*3600)

	if got := v.Redeemable("USDC", lp); got.Cmp(testutil.Units(15)) != 0 {
		t.Errorf("redeemable: got %s, want %s", got, testutil.Units(15))
	}
}
