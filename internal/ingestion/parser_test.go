package ingestion_test

import (
	"testing"

	"PerpEngine/internal/ingestion"
	"PerpEngine/internal/testutil"
)

func raw(reqType, payload string) ingestion.RawMessage {
	return ingestion.RawMessage{RequestType: reqType, Data: []byte(payload)}
}

// ============================================================================
// Test: Parse
// ============================================================================

func TestParse_OrderBatch(t *testing.T) {
	msg := raw(ingestion.RequestOrderBatch, `{
		"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1",
		"caller": "b81bc81b-dead-4e5d-abff-90865d1e13b2",
		"order_ids": [3, 7],
		"updates": [{"feed_id": "eth-usd", "price": 2000000000000000000000, "publish_time": 1700000000}],
		"fee_paid": 1000000000000000,
		"timestamp": 1700000001
	}`)

	parsed, err := ingestion.Parse(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req, ok := parsed.(*ingestion.OrderBatchRequest)
	if !ok {
		t.Fatalf("got %T, want *OrderBatchRequest", parsed)
	}
	if req.BatchID.String() != "a81bc81b-dead-4e5d-abff-90865d1e13b1" {
		t.Errorf("batch id: got %s", req.BatchID)
	}
	if len(req.OrderIDs) != 2 || req.OrderIDs[0] != 3 || req.OrderIDs[1] != 7 {
		t.Errorf("order ids: got %v, want [3 7]", req.OrderIDs)
	}
	if len(req.Updates) != 1 || req.Updates[0].FeedID != "eth-usd" {
		t.Fatalf("updates: got %+v", req.Updates)
	}
	if req.Updates[0].Price.Cmp(testutil.Units(2000)) != 0 {
		t.Errorf("price: got %s, want %s", req.Updates[0].Price, testutil.Units(2000))
	}
	if req.FeePaid.Cmp(testutil.Milli(1)) != 0 {
		t.Errorf("fee paid: got %s, want %s", req.FeePaid, testutil.Milli(1))
	}
}

func TestParse_PriceUpdate(t *testing.T) {
	msg := raw(ingestion.RequestPriceUpdate, `{
		"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1",
		"caller": "b81bc81b-dead-4e5d-abff-90865d1e13b2",
		"updates": [
			{"feed_id": "eth-usd", "price": 2000000000000000000000, "conf": 100000000000000000, "publish_time": 1700000000}
		],
		"fee_paid": 0,
		"timestamp": 1700000001
	}`)

	parsed, err := ingestion.Parse(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req, ok := parsed.(*ingestion.PriceUpdateRequest)
	if !ok {
		t.Fatalf("got %T, want *PriceUpdateRequest", parsed)
	}
	if req.Updates[0].Conf.Cmp(testutil.Milli(100)) != 0 {
		t.Errorf("conf: got %s, want %s", req.Updates[0].Conf, testutil.Milli(100))
	}
}

func TestParse_ReferenceUpdate(t *testing.T) {
	msg := raw(ingestion.RequestReferenceUpdate, `{
		"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1",
		"ref_prices": [{"feed_id": "eth-usd", "price": 2000000000000000000000}],
		"unrealized_pnl": [{"asset": "USDC", "pnl": -5000000000000000000}],
		"timestamp": 1700000001
	}`)

	parsed, err := ingestion.Parse(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req, ok := parsed.(*ingestion.ReferenceUpdateRequest)
	if !ok {
		t.Fatalf("got %T, want *ReferenceUpdateRequest", parsed)
	}
	if len(req.RefPrices) != 1 || req.RefPrices[0].FeedID != "eth-usd" {
		t.Fatalf("ref prices: got %+v", req.RefPrices)
	}
	if req.RefPrices[0].Price.Cmp(testutil.Units(2000)) != 0 {
		t.Errorf("ref price: got %s, want %s", req.RefPrices[0].Price, testutil.Units(2000))
	}
	if len(req.UnrealizedPnl) != 1 || req.UnrealizedPnl[0].Asset != "USDC" {
		t.Fatalf("unrealized pnl: got %+v", req.UnrealizedPnl)
	}
	if req.UnrealizedPnl[0].Pnl.Sign() >= 0 {
		t.Errorf("pnl sign: got %s, want negative", req.UnrealizedPnl[0].Pnl)
	}
}

func TestParse_LiquidationBatch(t *testing.T) {
	msg := raw(ingestion.RequestLiquidationBatch, `{
		"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1",
		"caller": "b81bc81b-dead-4e5d-abff-90865d1e13b2",
		"positions": [
			{"owner": "c81bc81b-dead-4e5d-abff-90865d1e13b3", "asset": "USDC", "market": "ETH-USD"}
		],
		"timestamp": 1700000001
	}`)

	parsed, err := ingestion.Parse(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req, ok := parsed.(*ingestion.LiquidationBatchRequest)
	if !ok {
		t.Fatalf("got %T, want *LiquidationBatchRequest", parsed)
	}
	if len(req.Positions) != 1 {
		t.Fatalf("positions: got %d, want 1", len(req.Positions))
	}
	if req.Positions[0].Asset != "USDC" || req.Positions[0].Market != "ETH-USD" {
		t.Errorf("position key: got %+v", req.Positions[0])
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name    string
		msg     ingestion.RawMessage
	}{
		{"unknown request type", raw("Nonsense", `{}`)},
		{"malformed json", raw(ingestion.RequestOrderBatch, `{`)},
		{"bad batch id", raw(ingestion.RequestOrderBatch,
			`{"batch_id": "nope", "caller": "b81bc81b-dead-4e5d-abff-90865d1e13b2", "order_ids": [1]}`)},
		{"bad caller", raw(ingestion.RequestOrderBatch,
			`{"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1", "caller": "nope", "order_ids": [1]}`)},
		{"empty order ids", raw(ingestion.RequestOrderBatch,
			`{"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1", "caller": "b81bc81b-dead-4e5d-abff-90865d1e13b2", "order_ids": []}`)},
		{"empty positions", raw(ingestion.RequestLiquidationBatch,
			`{"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1", "caller": "b81bc81b-dead-4e5d-abff-90865d1e13b2", "positions": []}`)},
		{"position missing market", raw(ingestion.RequestLiquidationBatch,
			`{"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1", "caller": "b81bc81b-dead-4e5d-abff-90865d1e13b2",
			  "positions": [{"owner": "c81bc81b-dead-4e5d-abff-90865d1e13b3", "asset": "USDC"}]}`)},
		{"update missing feed id", raw(ingestion.RequestPriceUpdate,
			`{"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1", "caller": "b81bc81b-dead-4e5d-abff-90865d1e13b2",
			  "updates": [{"price": 1, "publish_time": 1}]}`)},
		{"reference update empty payload", raw(ingestion.RequestReferenceUpdate,
			`{"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1", "timestamp": 1}`)},
		{"reference update missing feed id", raw(ingestion.RequestReferenceUpdate,
			`{"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1", "ref_prices": [{"price": 1}]}`)},
		{"reference update missing asset", raw(ingestion.RequestReferenceUpdate,
			`{"batch_id": "a81bc81b-dead-4e5d-abff-90865d1e13b1", "unrealized_pnl": [{"pnl": 1}]}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ingestion.Parse(tc.msg); err == nil {
				t.Error("want parse error, got nil")
			}
		})
	}
}
