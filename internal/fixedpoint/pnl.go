package fixedpoint

import "math/big"

// PnL computes the settled profit-and-loss for closing `size` of a position
// at execPrice, given the entry price and the funding-tracker delta since the
// position was last touched.
//
//	rawPnl     = size * (execPrice - entryPrice) / entryPrice   (sign-flipped for shorts)
//	fundingFee = size * (curTracker - snapTracker) / (10000 * 10^18)
//	pnl        = rawPnl - fundingFee (long) | rawPnl + fundingFee (short)
//
// A positive tracker delta means longs pay shorts. Degenerate inputs (zero
// size, zero exec price, zero entry price) yield (0, 0).
func PnL(long bool, size, execPrice, entryPrice, curTracker, snapTracker *big.Int) (pnl, fundingFee *big.Int) {
	if IsZero(size) || IsZero(execPrice) || IsZero(entryPrice) {
		return Zero(), Zero()
	}

	diff := Sub(execPrice, entryPrice)
	raw := MulDiv(size, diff, entryPrice)
	if !long {
		raw.Neg(raw)
	}

	fundingFee = MulDiv(size, Sub(curTracker, snapTracker), TrackerDivisor)

	if long {
		pnl = Sub(raw, fundingFee)
	} else {
		pnl = Add(raw, fundingFee)
	}
	return pnl, fundingFee
}

// BlendEntryPrice returns the size-weighted average of an existing position
// and a new fill: (oldSize*oldPrice + fillSize*fillPrice)/(oldSize+fillSize),
// truncated. An empty old position takes the fill price directly.
func BlendEntryPrice(oldSize, oldPrice, fillSize, fillPrice *big.Int) *big.Int {
	if IsZero(oldSize) {
		return Clone(fillPrice)
	}
	num := Add(Mul(oldSize, oldPrice), Mul(fillSize, fillPrice))
	return Div(num, Add(oldSize, fillSize))
}

// WithinDeviation reports whether price is inside the ±maxDevBps band around
// ref: ref*(1-D) <= price <= ref*(1+D). A zero reference or a zero bound
// disables the gate and always accepts.
func WithinDeviation(price, ref *big.Int, maxDevBps int64) bool {
	if maxDevBps == 0 || IsZero(ref) {
		return true
	}
	scaled := Mul(price, big.NewInt(BpsDivisor))
	lo := Mul(ref, big.NewInt(BpsDivisor-maxDevBps))
	hi := Mul(ref, big.NewInt(BpsDivisor+maxDevBps))
	return scaled.Cmp(lo) >= 0 && scaled.Cmp(hi) <= 0
}
