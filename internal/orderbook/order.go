package orderbook

import (
	"math/big"

	"github.com/google/uuid"
)

// Direction is the side of an order or position.
type Direction int32

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Type discriminates execution semantics: market orders fill at the next
// usable price, limit orders fill only at an improving price, stop orders
// confirm a breakout.
type Type int32

const (
	Market Type = iota
	Limit
	Stop
)

func (t Type) String() string {
	switch t {
	case Limit:
		return "limit"
	case Stop:
		return "stop"
	default:
		return "market"
	}
}

// Order is a pending execution request. Size, margin, price and fee are
// 1e18-scaled. An order is deleted on fill or cancellation; a partial fill
// spawns a brand-new order for the remainder rather than mutating this one.
type Order struct {
	ID     uint64
	Owner  uuid.UUID
	Asset  string // collateral asset
	Market string

	Margin *big.Int // escrowed collateral; always zero for reduce-only
	Size   *big.Int // > 0 while the order exists
	Price  *big.Int // limit/stop trigger, or protected bound for market; zero = none
	Fee    *big.Int // escrowed fee

	Direction  Direction
	Type       Type
	ReduceOnly bool
	Referrer   uuid.UUID // fee-split recipient; uuid.Nil = none

	SubmitTime    int64  // unix seconds
	ExpireTime    int64  // 0 = no expiry
	CancelOrderID uint64 // one-cancels-other link; 0 = none
}

// IsTrigger reports whether the order carries a trigger condition.
func (o *Order) IsTrigger() bool {
	return o.Type == Limit || o.Type == Stop
}
