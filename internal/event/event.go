package event

import (
	"math/big"

	"github.com/google/uuid"
)

// Type discriminates outcome records in the fill log.
type Type int32

const (
	TypeUnknown Type = iota
	TypeOrderSubmitted
	TypeOrderExecuted
	TypeOrderRejected
	TypeOrderSkipped
	TypeOrderCancelled
	TypePositionLiquidated
	TypePoolDeposit
	TypePoolWithdraw
)

func (t Type) String() string {
	switch t {
	case TypeOrderSubmitted:
		return "OrderSubmitted"
	case TypeOrderExecuted:
		return "OrderExecuted"
	case TypeOrderRejected:
		return "OrderRejected"
	case TypeOrderSkipped:
		return "OrderSkipped"
	case TypeOrderCancelled:
		return "OrderCancelled"
	case TypePositionLiquidated:
		return "PositionLiquidated"
	case TypePoolDeposit:
		return "PoolDeposit"
	case TypePoolWithdraw:
		return "PoolWithdraw"
	default:
		return "Unknown"
	}
}

// Record is one entry of the append-only outcome log. Every processed item
// (executed, rejected, skipped, liquidated, pool flow) produces exactly one
// record; the shell publishes and persists them. Amounts are 1e18-scaled.
type Record struct {
	ID       uuid.UUID `json:"id"`
	Sequence int64     `json:"sequence"`
	Type     Type      `json:"type"`

	Asset  string    `json:"asset"`
	Market string    `json:"market,omitempty"`
	Owner  uuid.UUID `json:"owner"`

	OrderID uint64 `json:"order_id,omitempty"`
	Reason  string `json:"reason,omitempty"`

	Price  *big.Int `json:"price,omitempty"`
	Size   *big.Int `json:"size,omitempty"`
	Margin *big.Int `json:"margin,omitempty"`
	Fee    *big.Int `json:"fee,omitempty"`
	Pnl    *big.Int `json:"pnl,omitempty"`

	Timestamp int64 `json:"timestamp"`
}
