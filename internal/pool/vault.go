package pool

import (
	"errors"
	"fmt"
	"math/big"

	"PerpEngine/internal/custody"
	"PerpEngine/internal/fixedpoint"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientShares is returned when a withdrawal burns more shares
	// than the user holds.
	ErrInsufficientShares = errors.New("pool: insufficient shares")

	// ErrPoolInsolvent is returned when a profit debit would drive the main
	// balance negative.
	ErrPoolInsolvent = errors.New("pool: insufficient balance")
)

// Config holds the vault parameters.
type Config struct {
	PayoutPeriod int64 // seconds over which the buffer streams into main
	MaxTaxBps    int64 // cap on the deposit/withdraw tax
}

// Vault owns LP share accounting and the two pool balances per asset: the
// main balance backing LP shares and a fast-access buffer that absorbs
// trader losses and streams into main over the payout period. Both balances
// are invariantly >= 0.
type Vault struct {
	cfg     Config
	custody custody.Custody
	assets  map[string]*poolState
}

type poolState struct {
	main        *big.Int
	buffer      *big.Int
	totalShares *big.Int
	shares      map[uuid.UUID]*big.Int
	lastPayout  int64
	globalUnPnl *big.Int // pushed by the external reporter; tax input only
}

func NewVault(cfg Config, cust custody.Custody) *Vault {
	return &Vault{
		cfg:     cfg,
		custody: cust,
		assets:  make(map[string]*poolState),
	}
}

func (v *Vault) state(asset string) *poolState {
	ps := v.assets[asset]
	if ps == nil {
		ps = &poolState{
			main:        fixedpoint.Zero(),
			buffer:      fixedpoint.Zero(),
			totalShares: fixedpoint.Zero(),
			shares:      make(map[uuid.UUID]*big.Int),
			globalUnPnl: fixedpoint.Zero(),
		}
		v.assets[asset] = ps
	}
	return ps
}

// Deposit converts an asset amount into LP shares at the current NAV
// (1:1 into an empty pool). When the reported global unrealized PnL says
// traders are net up — the pool is underwater — the deposit is taxed to
// discourage diluting the recovery; the tax stays in the pool. The custody
// pull happens before any share accounting so a failed transfer mutates
// nothing.
func (v *Vault) Deposit(asset string, user uuid.UUID, amount *big.Int, now int64) (*big.Int, error) {
	if !fixedpoint.IsPositive(amount) {
		return fixedpoint.Zero(), fmt.Errorf("pool: deposit amount must be > 0")
	}
	ps := v.state(asset)

	if _, err := v.custody.TransferIn(asset, user, amount); err != nil {
		return fixedpoint.Zero(), fmt.Errorf("pool deposit: %w", err)
	}

	taxBps := int64(0)
	if fixedpoint.IsPositive(ps.globalUnPnl) {
		taxBps = v.taxBps(ps)
	}
	net := fixedpoint.Sub(amount, fixedpoint.ApplyBps(amount, taxBps))

	var minted *big.Int
	if ps.totalShares.Sign() == 0 {
		minted = fixedpoint.Clone(net)
	} else {
		minted = fixedpoint.MulDiv(net, ps.totalShares, ps.main)
	}

	ps.main = fixedpoint.Add(ps.main, amount) // tax stays with existing LPs
	ps.totalShares = fixedpoint.Add(ps.totalShares, minted)
	ps.shares[user] = fixedpoint.Add(ps.shares[user], minted)
	_ = now

	return minted, nil
}

// Withdraw burns shares and pays out the redeemable amount
// (shares * mainBalance / totalShares, floored). Withdrawals are taxed when
// the reported global unrealized PnL says traders are net down — the pool
// is about to be paid — to discourage front-running buffer payouts. A
// withdrawal that would empty the pool is taxed at 100%. The custody payout
// is the last effect.
func (v *Vault) Withdraw(asset string, user uuid.UUID, shares *big.Int, now int64) (*big.Int, error) {
	if !fixedpoint.IsPositive(shares) {
		return fixedpoint.Zero(), fmt.Errorf("pool: share amount must be > 0")
	}
	ps := v.state(asset)
	held := ps.shares[user]
	if fixedpoint.Cmp(held, shares) < 0 {
		return fixedpoint.Zero(), fmt.Errorf("%w: user %s holds %s, burning %s",
			ErrInsufficientShares, user, held, shares)
	}

	gross := fixedpoint.MulDiv(shares, ps.main, ps.totalShares)

	taxBps := int64(0)
	if gross.Cmp(ps.main) >= 0 {
		taxBps = fixedpoint.BpsDivisor
	} else if fixedpoint.IsNegative(ps.globalUnPnl) {
		taxBps = v.taxBps(ps)
	}
	out := fixedpoint.Sub(gross, fixedpoint.ApplyBps(gross, taxBps))

	ps.shares[user] = fixedpoint.Sub(held, shares)
	if ps.shares[user].Sign() == 0 {
		delete(ps.shares, user)
	}
	ps.totalShares = fixedpoint.Sub(ps.totalShares, shares)
	ps.main = fixedpoint.Sub(ps.main, out) // tax portion stays in the pool

	if _, err := v.custody.TransferOut(asset, user, out); err != nil {
		return fixedpoint.Zero(), fmt.Errorf("pool withdraw: %w", err)
	}
	_ = now

	return out, nil
}

// taxBps sizes the tax to the unrealized-PnL signal relative to the buffer,
// capped by config. An empty buffer takes the full cap.
func (v *Vault) taxBps(ps *poolState) int64 {
	if v.cfg.MaxTaxBps == 0 {
		return 0
	}
	if ps.buffer.Sign() == 0 {
		return v.cfg.MaxTaxBps
	}
	ratio := fixedpoint.Div(
		fixedpoint.Mul(fixedpoint.Abs(ps.globalUnPnl), big.NewInt(fixedpoint.BpsDivisor)),
		ps.buffer,
	)
	if !ratio.IsInt64() || ratio.Int64() > v.cfg.MaxTaxBps {
		return v.cfg.MaxTaxBps
	}
	return ratio.Int64()
}

// CreditTraderLoss streams the pre-existing buffer toward main, then adds
// the realized trader loss to the buffer. The very first call only seeds
// the payout clock.
func (v *Vault) CreditTraderLoss(asset string, amount *big.Int, now int64) {
	ps := v.state(asset)
	v.stream(ps, now)
	if fixedpoint.IsPositive(amount) {
		ps.buffer = fixedpoint.Add(ps.buffer, amount)
	}
}

// DebitTraderProfit pays a realized trader profit out of the buffer first,
// spilling into the main balance. It fails — mutating nothing — if the main
// balance cannot cover the spill.
func (v *Vault) DebitTraderProfit(asset string, amount *big.Int) error {
	if !fixedpoint.IsPositive(amount) {
		return nil
	}
	ps := v.state(asset)

	fromBuffer := fixedpoint.Min(ps.buffer, amount)
	spill := fixedpoint.Sub(amount, fromBuffer)
	if fixedpoint.Cmp(ps.main, spill) < 0 {
		return fmt.Errorf("%w: asset %s, need %s beyond buffer, main has %s",
			ErrPoolInsolvent, asset, spill, ps.main)
	}

	ps.buffer = fixedpoint.Sub(ps.buffer, fromBuffer)
	ps.main = fixedpoint.Sub(ps.main, spill)
	return nil
}

// stream moves a time-proportional slice of the buffer into main:
// buffer * elapsed / payoutPeriod, capped at the whole buffer. First call
// seeds the clock and transfers nothing.
func (v *Vault) stream(ps *poolState, now int64) {
	if ps.lastPayout == 0 {
		ps.lastPayout = now
		return
	}
	elapsed := now - ps.lastPayout
	if elapsed <= 0 || v.cfg.PayoutPeriod <= 0 {
		return
	}

	move := fixedpoint.MulDiv(ps.buffer, big.NewInt(elapsed), big.NewInt(v.cfg.PayoutPeriod))
	move = fixedpoint.Min(move, ps.buffer)
	ps.buffer = fixedpoint.Sub(ps.buffer, move)
	ps.main = fixedpoint.Add(ps.main, move)
	ps.lastPayout = now
}

// SetGlobalUnrealizedPnl records the externally-reported aggregate
// unrealized trader PnL for an asset. Used only for tax calculation.
func (v *Vault) SetGlobalUnrealizedPnl(asset string, pnl *big.Int) {
	v.state(asset).globalUnPnl = fixedpoint.Clone(pnl)
}

// MainBalance returns the main pool balance.
func (v *Vault) MainBalance(asset string) *big.Int {
	return fixedpoint.Clone(v.state(asset).main)
}

// BufferBalance returns the buffer balance.
func (v *Vault) BufferBalance(asset string) *big.Int {
	return fixedpoint.Clone(v.state(asset).buffer)
}

// Available returns main + buffer — the total the pool could ultimately pay.
func (v *Vault) Available(asset string) *big.Int {
	ps := v.state(asset)
	return fixedpoint.Add(ps.main, ps.buffer)
}

// TotalShares returns the LP share supply.
func (v *Vault) TotalShares(asset string) *big.Int {
	return fixedpoint.Clone(v.state(asset).totalShares)
}

// Shares returns one user's LP share balance.
func (v *Vault) Shares(asset string, user uuid.UUID) *big.Int {
	return fixedpoint.Clone(v.state(asset).shares[user])
}

// Redeemable returns the asset amount a user's shares convert to at the
// current NAV, floored.
func (v *Vault) Redeemable(asset string, user uuid.UUID) *big.Int {
	ps := v.state(asset)
	if ps.totalShares.Sign() == 0 {
		return fixedpoint.Zero()
	}
	return fixedpoint.MulDiv(ps.shares[user], ps.main, ps.totalShares)
}
