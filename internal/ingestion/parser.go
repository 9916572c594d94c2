package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"PerpEngine/internal/engine"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/position"

	"github.com/google/uuid"
)

// Request type discriminators, one per inbound subject.
const (
	RequestPriceUpdate      = "PriceUpdate"
	RequestReferenceUpdate  = "ReferenceUpdate"
	RequestOrderBatch       = "OrderBatch"
	RequestLiquidationBatch = "LiquidationBatch"
)

// PriceUpdateRequest is a standalone pushed quote batch: quotes land in the
// oracle adapter without executing anything.
type PriceUpdateRequest struct {
	BatchID   uuid.UUID
	Caller    uuid.UUID
	Updates   []oracle.QuoteUpdate
	FeePaid   *big.Int
	Timestamp int64
}

// ReferenceUpdateRequest refreshes the secondary reference prices and the
// per-asset global unrealized PnL the pool tax reads. No caller or fee:
// the reference feed is a trusted internal producer.
type ReferenceUpdateRequest struct {
	BatchID       uuid.UUID
	RefPrices     []oracle.RefPriceUpdate
	UnrealizedPnl []engine.PnlReport
	Timestamp     int64
}

// OrderBatchRequest is a keeper execution batch: an optional quote update
// plus the order ids to run through the fill state machine.
type OrderBatchRequest struct {
	BatchID   uuid.UUID
	Caller    uuid.UUID
	OrderIDs  []uint64
	Updates   []oracle.QuoteUpdate
	FeePaid   *big.Int
	Timestamp int64
}

// LiquidationBatchRequest is a keeper liquidation batch.
type LiquidationBatchRequest struct {
	BatchID   uuid.UUID
	Caller    uuid.UUID
	Positions []position.Key
	Updates   []oracle.QuoteUpdate
	FeePaid   *big.Int
	Timestamp int64
}

// Parse converts a raw NATS message into the typed request for its subject.
func Parse(raw RawMessage) (interface{}, error) {
	switch raw.RequestType {
	case RequestPriceUpdate:
		return parsePriceUpdate(raw.Data)
	case RequestReferenceUpdate:
		return parseReferenceUpdate(raw.Data)
	case RequestOrderBatch:
		return parseOrderBatch(raw.Data)
	case RequestLiquidationBatch:
		return parseLiquidationBatch(raw.Data)
	default:
		return nil, fmt.Errorf("unknown request type: %s", raw.RequestType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// arbitrary-precision JSON numbers (1e18-scaled).

type quoteUpdateJSON struct {
	FeedID      string   `json:"feed_id"`
	Price       *big.Int `json:"price"`
	Conf        *big.Int `json:"conf"`
	PublishTime int64    `json:"publish_time"`
}

type priceUpdateJSON struct {
	BatchID   string            `json:"batch_id"`
	Caller    string            `json:"caller"`
	Updates   []quoteUpdateJSON `json:"updates"`
	FeePaid   *big.Int          `json:"fee_paid"`
	Timestamp int64             `json:"timestamp"`
}

func parsePriceUpdate(data []byte) (*PriceUpdateRequest, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	batchID, err := uuid.Parse(j.BatchID)
	if err != nil {
		return nil, fmt.Errorf("parse batch_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	updates, err := convertUpdates(j.Updates)
	if err != nil {
		return nil, err
	}
	return &PriceUpdateRequest{
		BatchID:   batchID,
		Caller:    caller,
		Updates:   updates,
		FeePaid:   j.FeePaid,
		Timestamp: j.Timestamp,
	}, nil
}

type refPriceJSON struct {
	FeedID string   `json:"feed_id"`
	Price  *big.Int `json:"price"`
}

type pnlReportJSON struct {
	Asset string   `json:"asset"`
	Pnl   *big.Int `json:"pnl"`
}

type referenceUpdateJSON struct {
	BatchID       string          `json:"batch_id"`
	RefPrices     []refPriceJSON  `json:"ref_prices,omitempty"`
	UnrealizedPnl []pnlReportJSON `json:"unrealized_pnl,omitempty"`
	Timestamp     int64           `json:"timestamp"`
}

func parseReferenceUpdate(data []byte) (*ReferenceUpdateRequest, error) {
	var j referenceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ReferenceUpdate: %w", err)
	}
	batchID, err := uuid.Parse(j.BatchID)
	if err != nil {
		return nil, fmt.Errorf("parse batch_id: %w", err)
	}
	if len(j.RefPrices) == 0 && len(j.UnrealizedPnl) == 0 {
		return nil, fmt.Errorf("parse ReferenceUpdate: empty payload")
	}

	refs := make([]oracle.RefPriceUpdate, 0, len(j.RefPrices))
	for i, r := range j.RefPrices {
		if r.FeedID == "" {
			return nil, fmt.Errorf("parse ref_prices[%d]: feed_id required", i)
		}
		refs = append(refs, oracle.RefPriceUpdate{FeedID: r.FeedID, Price: r.Price})
	}
	reports := make([]engine.PnlReport, 0, len(j.UnrealizedPnl))
	for i, rep := range j.UnrealizedPnl {
		if rep.Asset == "" {
			return nil, fmt.Errorf("parse unrealized_pnl[%d]: asset required", i)
		}
		reports = append(reports, engine.PnlReport{Asset: rep.Asset, Pnl: rep.Pnl})
	}

	return &ReferenceUpdateRequest{
		BatchID:       batchID,
		RefPrices:     refs,
		UnrealizedPnl: reports,
		Timestamp:     j.Timestamp,
	}, nil
}

type orderBatchJSON struct {
	BatchID   string            `json:"batch_id"`
	Caller    string            `json:"caller"`
	OrderIDs  []uint64          `json:"order_ids"`
	Updates   []quoteUpdateJSON `json:"updates,omitempty"`
	FeePaid   *big.Int          `json:"fee_paid"`
	Timestamp int64             `json:"timestamp"`
}

func parseOrderBatch(data []byte) (*OrderBatchRequest, error) {
	var j orderBatchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OrderBatch: %w", err)
	}
	batchID, err := uuid.Parse(j.BatchID)
	if err != nil {
		return nil, fmt.Errorf("parse batch_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	if len(j.OrderIDs) == 0 {
		return nil, fmt.Errorf("parse OrderBatch: empty order_ids")
	}
	updates, err := convertUpdates(j.Updates)
	if err != nil {
		return nil, err
	}
	return &OrderBatchRequest{
		BatchID:   batchID,
		Caller:    caller,
		OrderIDs:  j.OrderIDs,
		Updates:   updates,
		FeePaid:   j.FeePaid,
		Timestamp: j.Timestamp,
	}, nil
}

type positionKeyJSON struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Market string `json:"market"`
}

type liquidationBatchJSON struct {
	BatchID   string            `json:"batch_id"`
	Caller    string            `json:"caller"`
	Positions []positionKeyJSON `json:"positions"`
	Updates   []quoteUpdateJSON `json:"updates,omitempty"`
	FeePaid   *big.Int          `json:"fee_paid"`
	Timestamp int64             `json:"timestamp"`
}

func parseLiquidationBatch(data []byte) (*LiquidationBatchRequest, error) {
	var j liquidationBatchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidationBatch: %w", err)
	}
	batchID, err := uuid.Parse(j.BatchID)
	if err != nil {
		return nil, fmt.Errorf("parse batch_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	if len(j.Positions) == 0 {
		return nil, fmt.Errorf("parse LiquidationBatch: empty positions")
	}

	keys := make([]position.Key, 0, len(j.Positions))
	for i, pk := range j.Positions {
		owner, err := uuid.Parse(pk.Owner)
		if err != nil {
			return nil, fmt.Errorf("parse positions[%d].owner: %w", i, err)
		}
		if pk.Asset == "" || pk.Market == "" {
			return nil, fmt.Errorf("parse positions[%d]: asset and market required", i)
		}
		keys = append(keys, position.Key{Owner: owner, Asset: pk.Asset, Market: pk.Market})
	}

	updates, err := convertUpdates(j.Updates)
	if err != nil {
		return nil, err
	}
	return &LiquidationBatchRequest{
		BatchID:   batchID,
		Caller:    caller,
		Positions: keys,
		Updates:   updates,
		FeePaid:   j.FeePaid,
		Timestamp: j.Timestamp,
	}, nil
}

func convertUpdates(in []quoteUpdateJSON) ([]oracle.QuoteUpdate, error) {
	out := make([]oracle.QuoteUpdate, 0, len(in))
	for i, u := range in {
		if u.FeedID == "" {
			return nil, fmt.Errorf("parse updates[%d]: feed_id required", i)
		}
		out = append(out, oracle.QuoteUpdate{
			FeedID:      u.FeedID,
			Price:       u.Price,
			Conf:        u.Conf,
			PublishTime: u.PublishTime,
		})
	}
	return out, nil
}
