package custody

import (
	"errors"
	"fmt"
	"math/big"

	"PerpEngine/internal/fixedpoint"

	"github.com/google/uuid"
)

// Result distinguishes a real transfer from the documented no-op cases
// (zero amount, nil destination). No-ops are a contract, not swallowed
// errors.
type Result int

const (
	Transferred Result = iota
	NoOp
)

// ErrInsufficientFunds is returned when a transfer-in exceeds the payer's
// balance.
var ErrInsufficientFunds = errors.New("custody: insufficient funds")

// Custody is the external asset-transfer collaborator. The engine escrows
// margin and fees through TransferIn and pays out through TransferOut;
// transfers are always the last effect of their transaction.
type Custody interface {
	TransferIn(asset string, from uuid.UUID, amount *big.Int) (Result, error)
	TransferOut(asset string, to uuid.UUID, amount *big.Int) (Result, error)
}

type accountKey struct {
	User  uuid.UUID
	Asset string
}

// InMemory is a reference custody backed by per-user balance maps. Used by
// tests and by single-process deployments where settlement is external.
type InMemory struct {
	balances map[accountKey]*big.Int
	escrowed map[string]*big.Int // engine-held total per asset
}

func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[accountKey]*big.Int),
		escrowed: make(map[string]*big.Int),
	}
}

// Fund seeds a user balance (test setup and deposits from outside).
func (c *InMemory) Fund(asset string, user uuid.UUID, amount *big.Int) {
	key := accountKey{User: user, Asset: asset}
	c.balances[key] = fixedpoint.Add(c.balances[key], amount)
}

// Balance returns a user's free balance.
func (c *InMemory) Balance(asset string, user uuid.UUID) *big.Int {
	return fixedpoint.Clone(c.balances[accountKey{User: user, Asset: asset}])
}

// Escrowed returns the engine-held total for an asset.
func (c *InMemory) Escrowed(asset string) *big.Int {
	return fixedpoint.Clone(c.escrowed[asset])
}

// TransferIn moves amount from the user into engine custody. Zero amount or
// nil source is a NoOp.
func (c *InMemory) TransferIn(asset string, from uuid.UUID, amount *big.Int) (Result, error) {
	if fixedpoint.IsZero(amount) || from == uuid.Nil {
		return NoOp, nil
	}
	if fixedpoint.IsNegative(amount) {
		return NoOp, fmt.Errorf("custody: negative transfer-in of %s %s", amount, asset)
	}
	key := accountKey{User: from, Asset: asset}
	if fixedpoint.Cmp(c.balances[key], amount) < 0 {
		return NoOp, fmt.Errorf("%w: user %s has %s %s, need %s",
			ErrInsufficientFunds, from, c.Balance(asset, from), asset, amount)
	}
	c.balances[key] = fixedpoint.Sub(c.balances[key], amount)
	c.escrowed[asset] = fixedpoint.Add(c.escrowed[asset], amount)
	return Transferred, nil
}

// TransferOut moves amount from engine custody to the user. Zero amount or
// nil destination is a NoOp.
func (c *InMemory) TransferOut(asset string, to uuid.UUID, amount *big.Int) (Result, error) {
	if fixedpoint.IsZero(amount) || to == uuid.Nil {
		return NoOp, nil
	}
	if fixedpoint.IsNegative(amount) {
		return NoOp, fmt.Errorf("custody: negative transfer-out of %s %s", amount, asset)
	}
	key := accountKey{User: to, Asset: asset}
	c.escrowed[asset] = fixedpoint.Sub(c.escrowed[asset], amount)
	c.balances[key] = fixedpoint.Add(c.balances[key], amount)
	return Transferred, nil
}
