package oracle

import (
	"errors"
	"fmt"
	"math/big"

	"PerpEngine/internal/fixedpoint"
)

var (
	// ErrUnknownFeed is returned when no quote has been delivered for a feed.
	ErrUnknownFeed = errors.New("oracle: unknown feed")

	// ErrBadPrice is returned for non-positive quoted prices.
	ErrBadPrice = errors.New("oracle: non-positive price")

	// ErrInsufficientFee is returned when an update batch underpays the
	// per-quote update fee.
	ErrInsufficientFee = errors.New("oracle: insufficient update fee")
)

// Quote is one primary-oracle observation: a 1e18-scaled price, its publish
// time (unix seconds), and a confidence/deviation bound in price units.
type Quote struct {
	Price       *big.Int
	PublishTime int64
	Conf        *big.Int
}

// Feed supplies primary price quotes. Staleness and freshness are enforced
// by the caller against the market's bounds.
type Feed interface {
	Price(feedID string) (Quote, error)
}

// Reference supplies the secondary single-price reference used as a
// deviation bound and self-execution fallback. A zero price disables the
// deviation gate; no staleness metadata is carried.
type Reference interface {
	RefPrice(feedID string) (*big.Int, error)
}

// QuoteUpdate is one pushed price observation inside an update payload.
type QuoteUpdate struct {
	FeedID      string   `json:"feed_id"`
	Price       *big.Int `json:"price"`
	Conf        *big.Int `json:"conf"`
	PublishTime int64    `json:"publish_time"`
}

// RefPriceUpdate is one pushed secondary reference price. No publish time or
// confidence: the reference feed carries a single price per feed, and zero
// disables the deviation gate.
type RefPriceUpdate struct {
	FeedID string   `json:"feed_id"`
	Price  *big.Int `json:"price"`
}

// Adapter caches pushed quotes per feed. Quote delivery is push-based: a
// batch caller hands the payload over together with a fee payment, and the
// adapter reports what it actually charged so overpayment can be refunded.
type Adapter struct {
	quotes    map[string]Quote
	refs      map[string]*big.Int
	updateFee *big.Int // per accepted or replayed quote
}

func NewAdapter(perQuoteFee *big.Int) *Adapter {
	return &Adapter{
		quotes:    make(map[string]Quote),
		refs:      make(map[string]*big.Int),
		updateFee: fixedpoint.Clone(perQuoteFee),
	}
}

// ApplyUpdate validates and stores a pushed quote batch, returning the fee
// charged (updateFee per entry). Out-of-date entries (publish time not newer
// than the cached quote) are skipped silently — redelivery is idempotent,
// but still paid for.
func (a *Adapter) ApplyUpdate(updates []QuoteUpdate, feePaid *big.Int) (*big.Int, error) {
	required := fixedpoint.Mul(a.updateFee, big.NewInt(int64(len(updates))))
	if fixedpoint.Cmp(feePaid, required) < 0 {
		return fixedpoint.Zero(), fmt.Errorf("%w: paid %s, need %s", ErrInsufficientFee, feePaid, required)
	}

	for _, u := range updates {
		if u.FeedID == "" {
			return fixedpoint.Zero(), fmt.Errorf("oracle: empty feed id in update")
		}
		if !fixedpoint.IsPositive(u.Price) {
			return fixedpoint.Zero(), fmt.Errorf("%w: feed %s", ErrBadPrice, u.FeedID)
		}
		if cur, ok := a.quotes[u.FeedID]; ok && u.PublishTime <= cur.PublishTime {
			continue
		}
		a.quotes[u.FeedID] = Quote{
			Price:       fixedpoint.Clone(u.Price),
			PublishTime: u.PublishTime,
			Conf:        fixedpoint.Clone(u.Conf),
		}
	}

	return required, nil
}

// Price returns the cached quote for a feed.
func (a *Adapter) Price(feedID string) (Quote, error) {
	q, ok := a.quotes[feedID]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownFeed, feedID)
	}
	if !fixedpoint.IsPositive(q.Price) {
		return Quote{}, fmt.Errorf("%w: %s", ErrBadPrice, feedID)
	}
	return q, nil
}

// SetRefPrice stores the secondary reference price for a feed.
func (a *Adapter) SetRefPrice(feedID string, price *big.Int) {
	a.refs[feedID] = fixedpoint.Clone(price)
}

// RefPrice returns the secondary reference price. An unknown feed reports
// zero, which disables the deviation gate downstream.
func (a *Adapter) RefPrice(feedID string) (*big.Int, error) {
	if p, ok := a.refs[feedID]; ok {
		return fixedpoint.Clone(p), nil
	}
	return fixedpoint.Zero(), nil
}
