package engine

import (
	"errors"
	"fmt"
	"math/big"

	"PerpEngine/internal/custody"
	"PerpEngine/internal/event"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/funding"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/orderbook"
	"PerpEngine/internal/pool"
	"PerpEngine/internal/position"
	"PerpEngine/internal/registry"
	"PerpEngine/internal/risk"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Time-to-live bounds for resting orders, in seconds.
const (
	MarketOrderTTL  = 5 * 60
	TriggerOrderTTL = 180 * 24 * 3600
)

// Hard validation failures — the submitting operation aborts and nothing
// was taken.
var (
	ErrUnknownMarket     = errors.New("engine: unknown market")
	ErrUnknownAsset      = errors.New("engine: unknown asset")
	ErrBadLeverage       = errors.New("engine: leverage out of bounds")
	ErrBelowMinimum      = errors.New("engine: margin below asset minimum")
	ErrBadOrder          = errors.New("engine: malformed order")
	ErrNotOwner          = errors.New("engine: caller does not own this order")
	ErrSelfExecForbidden = errors.New("engine: market does not allow self execution")
	ErrTriggerSelfExec   = errors.New("engine: trigger orders cannot execute against the reference price")
	ErrCooldown          = errors.New("engine: self-execution cooldown not elapsed")
)

// Config holds the processor's protocol parameters.
type Config struct {
	// Keepers allow-listed for batch execution. Empty = permissionless.
	Keepers []uuid.UUID

	// Treasury receives the residual fee share.
	Treasury uuid.UUID

	// Fee split, in bps of the charged fee. Residual goes to the treasury.
	KeeperShareBps   int64
	ReferrerShareBps int64

	// UpdateFeeAsset denominates the oracle update fee and its refund.
	UpdateFeeAsset string
}

// Processor orchestrates the fill state machine across the position ledger,
// funding engine, risk engine, pool vault and order book. It holds typed
// handles to each, constructed once at startup; there is no ambient
// registry lookup beyond market/asset parameters.
//
// All methods mutate state from a single serialized caller. Timestamps ride
// on requests — the processor never reads the wall clock.
type Processor struct {
	log     zerolog.Logger
	metrics *observability.Metrics

	registry  *registry.Registry
	oracle    *oracle.Adapter
	book      *orderbook.Store
	positions *position.Ledger
	funding   *funding.Engine
	risk      *risk.Engine
	vault     *pool.Vault
	custody   custody.Custody

	cfg     Config
	keepers map[uuid.UUID]struct{}

	seq     int64
	records chan<- event.Record // non-blocking emit; nil disables
}

func NewProcessor(
	log zerolog.Logger,
	metrics *observability.Metrics,
	reg *registry.Registry,
	orc *oracle.Adapter,
	book *orderbook.Store,
	positions *position.Ledger,
	fund *funding.Engine,
	riskEngine *risk.Engine,
	vault *pool.Vault,
	cust custody.Custody,
	cfg Config,
	records chan<- event.Record,
) *Processor {
	keepers := make(map[uuid.UUID]struct{}, len(cfg.Keepers))
	for _, k := range cfg.Keepers {
		keepers[k] = struct{}{}
	}
	return &Processor{
		log:       log,
		metrics:   metrics,
		registry:  reg,
		oracle:    orc,
		book:      book,
		positions: positions,
		funding:   fund,
		risk:      riskEngine,
		vault:     vault,
		custody:   cust,
		cfg:       cfg,
		keepers:   keepers,
		records:   records,
	}
}

// SubmitRequest carries a new order. Amounts are 1e18-scaled.
type SubmitRequest struct {
	Owner  uuid.UUID
	Asset  string
	Market string

	Margin *big.Int
	Size   *big.Int
	Price  *big.Int // trigger price, or protected bound for market orders; zero = none

	Direction  orderbook.Direction
	Type       orderbook.Type
	ReduceOnly bool
	Referrer   uuid.UUID
	ExpireTime int64
}

// SubmitOrder validates the request (hard-failure tier: nothing escrowed on
// error), escrows margin and fee, and appends the order to the book under a
// fresh id.
//
// Reduce-only orders post no margin; their fee is charged out of the
// position's margin at fill time, so nothing is escrowed here either.
func (p *Processor) SubmitOrder(req SubmitRequest, now int64) (uint64, error) {
	mkt, ok := p.registry.Market(req.Market)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMarket, req.Market)
	}
	asset, ok := p.registry.Asset(req.Asset)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, req.Asset)
	}
	if !fixedpoint.IsPositive(req.Size) {
		return 0, fmt.Errorf("%w: size must be > 0", ErrBadOrder)
	}
	if req.ExpireTime != 0 && req.ExpireTime <= now {
		return 0, fmt.Errorf("%w: expiry in the past", ErrBadOrder)
	}
	if mkt.ReduceOnly && !req.ReduceOnly {
		return 0, fmt.Errorf("%w: market %s accepts only reduce-only orders", ErrBadOrder, req.Market)
	}

	fee := fixedpoint.ApplyBps(req.Size, mkt.FeeBps)

	if req.ReduceOnly {
		if !fixedpoint.IsZero(req.Margin) {
			return 0, fmt.Errorf("%w: reduce-only order must post zero margin", ErrBadOrder)
		}
	} else {
		if fixedpoint.Cmp(req.Margin, asset.MinOrderSize) < 0 {
			return 0, fmt.Errorf("%w: margin %s < %s", ErrBelowMinimum, req.Margin, asset.MinOrderSize)
		}
		// leverage = size / margin, 1e18-scaled; bounded to [1x, max]
		leverage := fixedpoint.MulDiv(req.Size, fixedpoint.Unit, req.Margin)
		if leverage.Cmp(fixedpoint.Unit) < 0 || leverage.Cmp(mkt.MaxLeverage) > 0 {
			return 0, fmt.Errorf("%w: %s not in [1x, %s]", ErrBadLeverage, leverage, mkt.MaxLeverage)
		}

		escrow := fixedpoint.Add(req.Margin, fee)
		if _, err := p.custody.TransferIn(req.Asset, req.Owner, escrow); err != nil {
			return 0, fmt.Errorf("submit order: %w", err)
		}
	}

	order := &orderbook.Order{
		Owner:      req.Owner,
		Asset:      req.Asset,
		Market:     req.Market,
		Margin:     fixedpoint.Clone(req.Margin),
		Size:       fixedpoint.Clone(req.Size),
		Price:      fixedpoint.Clone(req.Price),
		Fee:        fee,
		Direction:  req.Direction,
		Type:       req.Type,
		ReduceOnly: req.ReduceOnly,
		Referrer:   req.Referrer,
		SubmitTime: now,
		ExpireTime: req.ExpireTime,
	}
	id := p.book.Submit(order)

	if p.metrics != nil {
		p.metrics.OrdersSubmitted.WithLabelValues(req.Market).Inc()
		p.metrics.OrdersPending.Set(float64(p.book.Len()))
	}
	p.emit(event.Record{
		Type: event.TypeOrderSubmitted, Asset: req.Asset, Market: req.Market,
		Owner: req.Owner, OrderID: id, Size: fixedpoint.Clone(req.Size),
		Margin: fixedpoint.Clone(req.Margin), Fee: fixedpoint.Clone(fee), Timestamp: now,
	})

	return id, nil
}

// LinkCancel wires two resting orders as a one-cancels-other pair. Both
// must belong to the caller.
func (p *Processor) LinkCancel(owner uuid.UUID, id, otherID uint64) error {
	for _, oid := range [2]uint64{id, otherID} {
		o, ok := p.book.Get(oid)
		if !ok {
			return fmt.Errorf("engine: order %d not found", oid)
		}
		if o.Owner != owner {
			return fmt.Errorf("%w: order %d", ErrNotOwner, oid)
		}
	}
	if err := p.book.LinkCancel(id, otherID); err != nil {
		return err
	}
	return p.book.LinkCancel(otherID, id)
}

// CancelOrder removes an owner's resting order and refunds its escrowed
// margin and fee in full.
func (p *Processor) CancelOrder(owner uuid.UUID, id uint64, now int64) error {
	o, ok := p.book.Get(id)
	if !ok {
		return fmt.Errorf("engine: order %d not found", id)
	}
	if o.Owner != owner {
		return fmt.Errorf("%w: order %d", ErrNotOwner, id)
	}
	return p.cancelOrder(o, now)
}

// cancelOrder deletes the order and refunds its escrow. Shared by owner
// cancellation and OCO links. The refund transfer is the last effect.
func (p *Processor) cancelOrder(o *orderbook.Order, now int64) error {
	p.book.Remove(o.ID)

	refund := orderEscrow(o)
	if _, err := p.custody.TransferOut(o.Asset, o.Owner, refund); err != nil {
		return fmt.Errorf("cancel order %d: %w", o.ID, err)
	}

	if p.metrics != nil {
		p.metrics.OrdersCancelled.WithLabelValues(o.Market).Inc()
		p.metrics.OrdersPending.Set(float64(p.book.Len()))
	}
	p.emit(event.Record{
		Type: event.TypeOrderCancelled, Asset: o.Asset, Market: o.Market,
		Owner: o.Owner, OrderID: o.ID, Timestamp: now,
	})
	return nil
}

// orderEscrow returns what the order holds in custody: margin + fee, or
// nothing for reduce-only orders.
func orderEscrow(o *orderbook.Order) *big.Int {
	if o.ReduceOnly {
		return fixedpoint.Zero()
	}
	return fixedpoint.Add(o.Margin, o.Fee)
}

// allowed applies the keeper gate: an empty allow-list is permissionless.
func (p *Processor) allowed(caller uuid.UUID) bool {
	if len(p.keepers) == 0 {
		return true
	}
	_, ok := p.keepers[caller]
	return ok
}

// Read accessors for the query surface. Callers must hold the loop — the
// returned handles are the live state, not copies.

func (p *Processor) Positions() *position.Ledger { return p.positions }
func (p *Processor) Book() *orderbook.Store      { return p.book }
func (p *Processor) Funding() *funding.Engine    { return p.funding }
func (p *Processor) Vault() *pool.Vault          { return p.vault }
func (p *Processor) Risk() *risk.Engine          { return p.risk }
func (p *Processor) Registry() *registry.Registry { return p.registry }

// emit hands an outcome record to the shell, non-blocking. Records carry a
// processor-assigned sequence; drops are counted, never waited on.
func (p *Processor) emit(rec event.Record) {
	p.seq++
	rec.Sequence = p.seq
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if p.records == nil {
		return
	}
	select {
	case p.records <- rec:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
	}
}
