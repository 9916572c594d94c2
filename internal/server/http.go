package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"PerpEngine/internal/engine"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/orderbook"
	"PerpEngine/internal/position"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server exposes the engine's HTTP JSON surface: the read-only query
// endpoints, the user-facing write endpoints (submit, cancel, self
// execution, pool entry and exit), plus health and metrics. Every state
// access runs as a closure on the core loop, so responses are snapshots
// consistent with batch processing. Write requests get their timestamp
// stamped here at the boundary — the core never reads the clock.
type Server struct {
	log    zerolog.Logger
	loop   *engine.Loop
	health *observability.HealthChecker
	srv    *http.Server
}

func New(addr string, log zerolog.Logger, loop *engine.Loop, health *observability.HealthChecker) *Server {
	s := &Server{
		log:    log,
		loop:   loop,
		health: health,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/positions", s.handlePositions)
	mux.HandleFunc("/v1/orders", s.handleOrders)
	mux.HandleFunc("/v1/orders/cancel", s.handleCancelOrder)
	mux.HandleFunc("/v1/orders/link", s.handleLinkCancel)
	mux.HandleFunc("/v1/orders/selfexec", s.handleSelfExecute)
	mux.HandleFunc("/v1/positions/selfliquidate", s.handleSelfLiquidate)
	mux.HandleFunc("/v1/pool", s.handlePool)
	mux.HandleFunc("/v1/pool/deposit", s.handleDeposit)
	mux.HandleFunc("/v1/pool/withdraw", s.handleWithdraw)
	mux.HandleFunc("/v1/funding", s.handleFunding)
	mux.HandleFunc("/v1/openinterest", s.handleOpenInterest)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table, for tests driving the surface directly.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving requests.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type positionJSON struct {
	Owner           string   `json:"owner"`
	Asset           string   `json:"asset"`
	Market          string   `json:"market"`
	Direction       string   `json:"direction"`
	Margin          *big.Int `json:"margin"`
	Size            *big.Int `json:"size"`
	AvgPrice        *big.Int `json:"avg_price"`
	OpenTime        int64    `json:"open_time"`
	FundingSnapshot *big.Int `json:"funding_snapshot"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	ownerParam := r.URL.Query().Get("owner")

	var out []positionJSON
	err := s.loop.Call(r.Context(), func(p *engine.Processor) {
		positions := p.Positions().All()
		if ownerParam != "" {
			owner, err := uuid.Parse(ownerParam)
			if err != nil {
				positions = nil
			} else {
				positions = p.Positions().OwnerPositions(owner)
			}
		}
		for _, pos := range positions {
			out = append(out, positionJSON{
				Owner:           pos.Owner.String(),
				Asset:           pos.Asset,
				Market:          pos.Market,
				Direction:       pos.Direction.String(),
				Margin:          pos.Margin,
				Size:            pos.Size,
				AvgPrice:        pos.AvgPrice,
				OpenTime:        pos.OpenTime,
				FundingSnapshot: pos.FundingSnapshot,
			})
		}
	})
	s.respond(w, map[string]interface{}{"positions": out}, err)
}

type orderJSON struct {
	ID            uint64   `json:"id"`
	Owner         string   `json:"owner"`
	Asset         string   `json:"asset"`
	Market        string   `json:"market"`
	Direction     string   `json:"direction"`
	Type          string   `json:"type"`
	ReduceOnly    bool     `json:"reduce_only"`
	Margin        *big.Int `json:"margin"`
	Size          *big.Int `json:"size"`
	Price         *big.Int `json:"price"`
	Fee           *big.Int `json:"fee"`
	SubmitTime    int64    `json:"submit_time"`
	ExpireTime    int64    `json:"expire_time,omitempty"`
	CancelOrderID uint64   `json:"cancel_order_id,omitempty"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.handleSubmitOrder(w, r)
		return
	}
	q := r.URL.Query()
	offset := intParam(q.Get("offset"), 0)
	limit := intParam(q.Get("limit"), 100)
	ownerParam := q.Get("owner")
	kind := q.Get("kind") // "market", "trigger", or owner listing

	var out []orderJSON
	err := s.loop.Call(r.Context(), func(p *engine.Processor) {
		book := p.Book()
		var ids []uint64
		switch {
		case ownerParam != "":
			owner, err := uuid.Parse(ownerParam)
			if err != nil {
				return
			}
			ids = book.OwnerOrders(owner, offset, limit)
		case kind == "trigger":
			ids = book.TriggerOrders(offset, limit)
		default:
			ids = book.MarketOrders(offset, limit)
		}
		for _, id := range ids {
			o, ok := book.Get(id)
			if !ok {
				continue
			}
			out = append(out, orderJSON{
				ID: o.ID, Owner: o.Owner.String(), Asset: o.Asset, Market: o.Market,
				Direction: o.Direction.String(), Type: o.Type.String(),
				ReduceOnly: o.ReduceOnly, Margin: o.Margin, Size: o.Size,
				Price: o.Price, Fee: o.Fee, SubmitTime: o.SubmitTime,
				ExpireTime: o.ExpireTime, CancelOrderID: o.CancelOrderID,
			})
		}
	})
	s.respond(w, map[string]interface{}{"orders": out}, err)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		http.Error(w, `{"error":"asset parameter required"}`, http.StatusBadRequest)
		return
	}
	userParam := r.URL.Query().Get("user")

	resp := make(map[string]interface{})
	err := s.loop.Call(r.Context(), func(p *engine.Processor) {
		v := p.Vault()
		resp["asset"] = asset
		resp["main_balance"] = v.MainBalance(asset)
		resp["buffer_balance"] = v.BufferBalance(asset)
		resp["total_shares"] = v.TotalShares(asset)
		resp["drawdown_tracker"] = p.Risk().DrawdownTracker(asset)
		if userParam != "" {
			if user, err := uuid.Parse(userParam); err == nil {
				resp["user_shares"] = v.Shares(asset, user)
				resp["user_redeemable"] = v.Redeemable(asset, user)
			}
		}
	})
	s.respond(w, resp, err)
}

func (s *Server) handleFunding(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	market := r.URL.Query().Get("market")
	if asset == "" || market == "" {
		http.Error(w, `{"error":"asset and market parameters required"}`, http.StatusBadRequest)
		return
	}

	resp := make(map[string]interface{})
	err := s.loop.Call(r.Context(), func(p *engine.Processor) {
		resp["asset"] = asset
		resp["market"] = market
		resp["tracker"] = p.Funding().Tracker(asset, market)
		resp["last_update"] = p.Funding().LastUpdate(asset, market)
		if mkt, ok := p.Registry().Market(market); ok {
			oiLong, oiShort := p.Positions().OpenInterest(asset, market)
			resp["next_interval_forecast"] = p.Funding().Forecast(asset, market, oiLong, oiShort, mkt.FundingFactorBps, 1)
		}
	})
	s.respond(w, resp, err)
}

func (s *Server) handleOpenInterest(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	market := r.URL.Query().Get("market")
	if asset == "" || market == "" {
		http.Error(w, `{"error":"asset and market parameters required"}`, http.StatusBadRequest)
		return
	}

	resp := make(map[string]interface{})
	err := s.loop.Call(r.Context(), func(p *engine.Processor) {
		oiLong, oiShort := p.Positions().OpenInterest(asset, market)
		resp["asset"] = asset
		resp["market"] = market
		resp["long"] = oiLong
		resp["short"] = oiShort
		resp["ceiling"] = p.Registry().MaxOpenInterest(asset, market)
	})
	s.respond(w, resp, err)
}

// --- Write surface ---
// Mutations run as closures on the core loop like the reads, with the
// timestamp stamped here. A refusal from the core is the caller's fault
// (400); a loop failure means the engine is going down (503).

type submitOrderJSON struct {
	Owner      string   `json:"owner"`
	Asset      string   `json:"asset"`
	Market     string   `json:"market"`
	Margin     *big.Int `json:"margin"`
	Size       *big.Int `json:"size"`
	Price      *big.Int `json:"price,omitempty"`
	Direction  string   `json:"direction"`
	Type       string   `json:"type"`
	ReduceOnly bool     `json:"reduce_only,omitempty"`
	Referrer   string   `json:"referrer,omitempty"`
	ExpireTime int64    `json:"expire_time,omitempty"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var j submitOrderJSON
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		s.badRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		s.badRequest(w, fmt.Sprintf("invalid owner: %v", err))
		return
	}
	dir, err := parseDirection(j.Direction)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	typ, err := parseOrderType(j.Type)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	referrer := uuid.Nil
	if j.Referrer != "" {
		if referrer, err = uuid.Parse(j.Referrer); err != nil {
			s.badRequest(w, fmt.Sprintf("invalid referrer: %v", err))
			return
		}
	}

	req := engine.SubmitRequest{
		Owner: owner, Asset: j.Asset, Market: j.Market,
		Margin: j.Margin, Size: j.Size, Price: j.Price,
		Direction: dir, Type: typ, ReduceOnly: j.ReduceOnly,
		Referrer: referrer, ExpireTime: j.ExpireTime,
	}
	now := time.Now().Unix()

	var id uint64
	var opErr error
	callErr := s.loop.Call(r.Context(), func(p *engine.Processor) {
		id, opErr = p.SubmitOrder(req, now)
	})
	s.respondMutation(w, map[string]interface{}{"order_id": id}, callErr, opErr)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var j struct {
		Owner   string `json:"owner"`
		OrderID uint64 `json:"order_id"`
	}
	owner, ok := s.decodeOwner(w, r, &j, &j.Owner)
	if !ok {
		return
	}
	now := time.Now().Unix()

	var opErr error
	callErr := s.loop.Call(r.Context(), func(p *engine.Processor) {
		opErr = p.CancelOrder(owner, j.OrderID, now)
	})
	s.respondMutation(w, map[string]interface{}{"order_id": j.OrderID, "cancelled": opErr == nil}, callErr, opErr)
}

func (s *Server) handleLinkCancel(w http.ResponseWriter, r *http.Request) {
	var j struct {
		Owner        string `json:"owner"`
		OrderID      uint64 `json:"order_id"`
		OtherOrderID uint64 `json:"other_order_id"`
	}
	owner, ok := s.decodeOwner(w, r, &j, &j.Owner)
	if !ok {
		return
	}

	var opErr error
	callErr := s.loop.Call(r.Context(), func(p *engine.Processor) {
		opErr = p.LinkCancel(owner, j.OrderID, j.OtherOrderID)
	})
	s.respondMutation(w, map[string]interface{}{"order_id": j.OrderID, "other_order_id": j.OtherOrderID}, callErr, opErr)
}

func (s *Server) handleSelfExecute(w http.ResponseWriter, r *http.Request) {
	var j struct {
		Owner   string `json:"owner"`
		OrderID uint64 `json:"order_id"`
	}
	owner, ok := s.decodeOwner(w, r, &j, &j.Owner)
	if !ok {
		return
	}
	now := time.Now().Unix()

	var out engine.Outcome
	var opErr error
	callErr := s.loop.Call(r.Context(), func(p *engine.Processor) {
		out, opErr = p.SelfExecuteOrder(owner, j.OrderID, now)
	})
	s.respondMutation(w, map[string]interface{}{
		"order_id": out.OrderID, "status": out.Status.String(), "reason": out.Reason,
	}, callErr, opErr)
}

func (s *Server) handleSelfLiquidate(w http.ResponseWriter, r *http.Request) {
	var j struct {
		Owner  string `json:"owner"`
		Asset  string `json:"asset"`
		Market string `json:"market"`
	}
	owner, ok := s.decodeOwner(w, r, &j, &j.Owner)
	if !ok {
		return
	}
	now := time.Now().Unix()

	var out engine.LiqOutcome
	var opErr error
	callErr := s.loop.Call(r.Context(), func(p *engine.Processor) {
		out, opErr = p.SelfLiquidate(owner, position.Key{Owner: owner, Asset: j.Asset, Market: j.Market}, now)
	})
	s.respondMutation(w, map[string]interface{}{
		"liquidated": out.Liquidated, "reason": out.Reason,
	}, callErr, opErr)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var j struct {
		User   string   `json:"user"`
		Asset  string   `json:"asset"`
		Amount *big.Int `json:"amount"`
	}
	user, ok := s.decodeOwner(w, r, &j, &j.User)
	if !ok {
		return
	}
	now := time.Now().Unix()

	var minted *big.Int
	var opErr error
	callErr := s.loop.Call(r.Context(), func(p *engine.Processor) {
		minted, opErr = p.Deposit(j.Asset, user, j.Amount, now)
	})
	s.respondMutation(w, map[string]interface{}{"shares_minted": minted}, callErr, opErr)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var j struct {
		User   string   `json:"user"`
		Asset  string   `json:"asset"`
		Shares *big.Int `json:"shares"`
	}
	user, ok := s.decodeOwner(w, r, &j, &j.User)
	if !ok {
		return
	}
	now := time.Now().Unix()

	var out *big.Int
	var opErr error
	callErr := s.loop.Call(r.Context(), func(p *engine.Processor) {
		out, opErr = p.Withdraw(j.Asset, user, j.Shares, now)
	})
	s.respondMutation(w, map[string]interface{}{"amount_out": out}, callErr, opErr)
}

// decodeOwner enforces POST, decodes the body into dst, and parses the
// UUID field the caller points at. Reports false after writing the error.
func (s *Server) decodeOwner(w http.ResponseWriter, r *http.Request, dst interface{}, owner *string) (uuid.UUID, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(map[string]string{"error": "method not allowed"})
		return uuid.Nil, false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.badRequest(w, fmt.Sprintf("invalid body: %v", err))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(*owner)
	if err != nil {
		s.badRequest(w, fmt.Sprintf("invalid owner: %v", err))
		return uuid.Nil, false
	}
	return id, true
}

func parseDirection(s string) (orderbook.Direction, error) {
	switch s {
	case "long":
		return orderbook.Long, nil
	case "short":
		return orderbook.Short, nil
	default:
		return 0, fmt.Errorf("invalid direction %q", s)
	}
}

func parseOrderType(s string) (orderbook.Type, error) {
	switch s {
	case "market":
		return orderbook.Market, nil
	case "limit":
		return orderbook.Limit, nil
	case "stop":
		return orderbook.Stop, nil
	default:
		return 0, fmt.Errorf("invalid order type %q", s)
	}
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) respondMutation(w http.ResponseWriter, body interface{}, callErr, opErr error) {
	w.Header().Set("Content-Type", "application/json")
	if callErr != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": callErr.Error()})
		return
	}
	if opErr != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": opErr.Error()})
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) respond(w http.ResponseWriter, body interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
