package fixedpoint

import "math/big"

// All engine quantities (sizes, margins, prices, balances) are fixed-point
// integers scaled by 10^18. Funding trackers carry an extra basis-point
// factor (scale 10^18 * 10^4). Intermediate products exceed 64 bits, so
// everything runs on math/big with truncating division.

const (
	// Decimals is the fixed-point precision of all amounts.
	Decimals = 18

	// BpsDivisor converts basis points to a fraction.
	BpsDivisor = 10_000

	// HoursPerYear is the funding-interval count of one year (24*365).
	HoursPerYear = 24 * 365
)

// Unit is 10^18, the fixed-point representation of 1.0.
var Unit = big.NewInt(1_000_000_000_000_000_000)

// TrackerDivisor is BpsDivisor * Unit, the denominator for funding-tracker
// deltas (see FundingFee).
var TrackerDivisor = new(big.Int).Mul(big.NewInt(BpsDivisor), Unit)

// Zero returns a fresh zero value.
func Zero() *big.Int {
	return new(big.Int)
}

// New returns v as a big integer (unscaled).
func New(v int64) *big.Int {
	return big.NewInt(v)
}

// FromUnits returns whole * 10^18.
func FromUnits(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), Unit)
}

// Clone returns an independent copy of v. Nil is treated as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// IsPositive reports whether v is strictly greater than zero.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// IsNegative reports whether v is strictly less than zero.
func IsNegative(v *big.Int) bool {
	return v != nil && v.Sign() < 0
}

// Add returns a + b without mutating either operand.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(nz(a), nz(b))
}

// Sub returns a - b without mutating either operand.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(nz(a), nz(b))
}

// Neg returns -v.
func Neg(v *big.Int) *big.Int {
	return new(big.Int).Neg(nz(v))
}

// Abs returns |v|.
func Abs(v *big.Int) *big.Int {
	return new(big.Int).Abs(nz(v))
}

// Mul returns the raw product a * b (caller rescales).
func Mul(a, b *big.Int) *big.Int {
	return new(big.Int).Mul(nz(a), nz(b))
}

// Div returns a / b with truncation toward zero. A zero denominator yields
// zero — degenerate inputs short-circuit rather than fault (spec-required
// for the shared PnL formula).
func Div(a, b *big.Int) *big.Int {
	if IsZero(b) {
		return new(big.Int)
	}
	return new(big.Int).Quo(nz(a), b)
}

// MulDiv returns a * b / den with the product kept at full precision and a
// single truncating division at the end.
func MulDiv(a, b, den *big.Int) *big.Int {
	return Div(Mul(a, b), den)
}

// ApplyBps returns v * bps / 10000, truncated.
func ApplyBps(v *big.Int, bps int64) *big.Int {
	return Div(Mul(v, big.NewInt(bps)), big.NewInt(BpsDivisor))
}

// Min returns the smaller of a and b (by value, freshly allocated).
func Min(a, b *big.Int) *big.Int {
	if nz(a).Cmp(nz(b)) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}

// Cmp compares a and b, treating nil as zero.
func Cmp(a, b *big.Int) int {
	return nz(a).Cmp(nz(b))
}

func nz(v *big.Int) *big.Int {
	if v == nil {
		return zeroConst
	}
	return v
}

var zeroConst = new(big.Int)
