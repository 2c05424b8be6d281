// Package api exposes the matching engine over REST and WebSocket. Handlers
// translate JSON payloads into engine calls, map rejection kinds onto HTTP
// status codes, and broadcast book and trade updates to subscribed clients.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/acmedex/matchbook/pkg/app/core/engine"
	"github.com/acmedex/matchbook/pkg/app/core/ledger"
	"github.com/acmedex/matchbook/pkg/app/core/market"
	"github.com/acmedex/matchbook/pkg/app/core/orderbook"
	"github.com/acmedex/matchbook/pkg/app/core/settle"
)

const defaultBookDepth = 10

// Server handles REST API and WebSocket connections.
type Server struct {
	eng    *engine.Engine
	pair   *market.Pair
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer wires the engine behind the HTTP surface.
func NewServer(eng *engine.Engine, pair *market.Pair, log *zap.Logger) *Server {
	sugared := log.Sugar()
	s := &Server{
		eng:    eng,
		pair:   pair,
		router: mux.NewRouter(),
		hub:    NewHub(sugared),
		log:    sugared,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order submission
	api.HandleFunc("/orders/market/buy", s.handleMarketBuy).Methods("POST")
	api.HandleFunc("/orders/market/sell", s.handleMarketSell).Methods("POST")
	api.HandleFunc("/orders/limit", s.handleLimitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// Market data
	api.HandleFunc("/rate", s.handleGetRate).Methods("GET")
	api.HandleFunc("/orderbook", s.handleGetOrderbook).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders/count", s.handleGetOrderCount).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and serves HTTP on addr, blocking until the
// listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Order Handlers
// ==============================

func (s *Server) handleMarketBuy(w http.ResponseWriter, r *http.Request) {
	var req MarketBuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	owner, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	attached, ok := parseAmount(w, "attachedValue", req.AttachedValue)
	if !ok {
		return
	}

	res, err := s.eng.CreateBuyMarketOrder(owner, attached)
	if err != nil {
		s.respondReject(w, err)
		return
	}

	s.broadcastExecution(orderbook.Buy, res.Fills)
	respondJSON(w, toOrderResult(res))
}

func (s *Server) handleMarketSell(w http.ResponseWriter, r *http.Request) {
	var req MarketSellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	owner, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, "tokenAmount", req.TokenAmount)
	if !ok {
		return
	}

	res, err := s.eng.CreateSellMarketOrder(owner, amount)
	if err != nil {
		s.respondReject(w, err)
		return
	}

	s.broadcastExecution(orderbook.Sell, res.Fills)
	respondJSON(w, toOrderResult(res))
}

func (s *Server) handleLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req LimitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	owner, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}

	var side orderbook.Side
	switch strings.ToLower(req.Side) {
	case "buy":
		side = orderbook.Buy
	case "sell":
		side = orderbook.Sell
	default:
		respondError(w, http.StatusBadRequest, "invalid side", "side must be buy or sell")
		return
	}

	price, ok := parseAmount(w, "price", req.Price)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, "tokenAmount", req.TokenAmount)
	if !ok {
		return
	}

	// attachedValue is optional; sells must omit it and the engine enforces
	// the buy-side requirement.
	var attached *uint256.Int
	if req.AttachedValue != "" {
		if attached, ok = parseAmount(w, "attachedValue", req.AttachedValue); !ok {
			return
		}
	}

	res, err := s.eng.CreateLimitOrder(owner, price, amount, req.TimeLimit, side, attached)
	if err != nil {
		s.respondReject(w, err)
		return
	}

	s.broadcastExecution(side, res.Fills)
	respondJSON(w, toOrderResult(res))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	owner, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	if req.OrderID == 0 {
		respondError(w, http.StatusBadRequest, "missing orderId", "")
		return
	}

	transfers, err := s.eng.CancelOrder(owner, req.OrderID)
	if err != nil {
		s.respondReject(w, err)
		return
	}

	s.broadcastBook()
	respondJSON(w, CancelResponse{
		OrderID:   req.OrderID,
		Status:    ledger.Cancelled.String(),
		Transfers: toTransferInfos(transfers),
	})
}

// ==============================
// Query Handlers
// ==============================

func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	rate := s.eng.LatestRate()
	respondJSON(w, RateInfo{
		BestBid: toRateOrder(rate.BestBidOrder),
		BestAsk: toRateOrder(rate.BestAskOrder),
	})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	depth := defaultBookDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid depth", "")
			return
		}
		depth = n
	}
	respondJSON(w, s.bookSnapshot(depth))
}

func (s *Server) handleGetOrderCount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addressStr := vars["address"]

	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)

	respondJSON(w, OrderCountResponse{
		Address: addr.Hex(),
		Count:   s.eng.OrderCountByUser(addr),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcasts
// ==============================

// broadcastExecution publishes each fill as a trade and the resulting book.
func (s *Server) broadcastExecution(takerSide orderbook.Side, fills []settle.Fill) {
	now := time.Now().UnixMilli()
	for _, f := range fills {
		s.hub.BroadcastToChannel("trades:"+s.pair.Symbol, TradeUpdate{
			Type:      "trade",
			Symbol:    s.pair.Symbol,
			Price:     f.Price.Dec(),
			Size:      f.BaseAmount.Dec(),
			Side:      takerSide.String(),
			Timestamp: now,
		})
	}
	s.broadcastBook()
}

func (s *Server) broadcastBook() {
	snap := s.bookSnapshot(defaultBookDepth)
	s.hub.BroadcastToChannel("orderbook:"+s.pair.Symbol, OrderbookUpdate{
		Type:      "orderbook",
		Symbol:    snap.Symbol,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
		Timestamp: snap.Timestamp,
	})
}

func (s *Server) bookSnapshot(depth int) OrderbookSnapshot {
	return OrderbookSnapshot{
		Symbol:    s.pair.Symbol,
		Bids:      toPriceLevels(s.eng.OrderBookSnapshot(depth, orderbook.Buy)),
		Asks:      toPriceLevels(s.eng.OrderBookSnapshot(depth, orderbook.Sell)),
		Timestamp: time.Now().UnixMilli(),
	}
}

// ==============================
// Conversions & Helpers
// ==============================

func toOrderResult(res *engine.MatchResult) OrderResult {
	fills := make([]FillInfo, len(res.Fills))
	for i, f := range res.Fills {
		fills[i] = FillInfo{
			MakerOrderID: f.MakerOrderID,
			Maker:        f.Maker.Hex(),
			Price:        f.Price.Dec(),
			BaseAmount:   f.BaseAmount.Dec(),
			QuoteAmount:  f.QuoteAmount.Dec(),
			FeeAmount:    f.FeeAmount.Dec(),
		}
	}
	return OrderResult{
		OrderID:     res.OrderID,
		Status:      res.Status.String(),
		Rested:      res.Rested,
		FilledBase:  res.FilledBase.Dec(),
		QuoteVolume: res.QuoteVolume.Dec(),
		Remainder:   res.Remainder.Dec(),
		Fills:       fills,
		Transfers:   toTransferInfos(res.Transfers),
	}
}

func toTransferInfos(transfers []settle.Transfer) []TransferInfo {
	out := make([]TransferInfo, len(transfers))
	for i, tr := range transfers {
		out[i] = TransferInfo{
			From:   tr.From.Hex(),
			To:     tr.To.Hex(),
			Asset:  tr.Asset,
			Amount: tr.Amount.Dec(),
		}
	}
	return out
}

func toRateOrder(o *ledger.Order) *RateOrderInfo {
	if o == nil {
		return nil
	}
	return &RateOrderInfo{
		OrderID:   o.ID,
		Price:     o.Price.Dec(),
		Remaining: o.Remaining().Dec(),
	}
}

func toPriceLevels(levels []engine.LevelView) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, lv := range levels {
		orders := make([]OrderInfo, len(lv.Orders))
		for j, o := range lv.Orders {
			orders[j] = OrderInfo{
				ID:        o.ID,
				Owner:     o.Owner.Hex(),
				Side:      o.Side.String(),
				Price:     o.Price.Dec(),
				Amount:    o.Amount.Dec(),
				Filled:    o.Filled.Dec(),
				Remaining: o.Remaining().Dec(),
				Status:    o.Status.String(),
				ExpiresAt: o.ExpiresAt,
			}
		}
		out[i] = PriceLevel{Price: lv.Price.Dec(), Orders: orders}
	}
	return out
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseAmount(w http.ResponseWriter, field, s string) (*uint256.Int, bool) {
	if s == "" {
		respondError(w, http.StatusBadRequest, "missing "+field, "")
		return nil, false
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+field, err.Error())
		return nil, false
	}
	return v, true
}

// respondReject maps an engine rejection onto an HTTP status, preserving the
// reason string clients key on.
func (s *Server) respondReject(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case err.Error() == engine.ReasonOrderNotFound:
		status = http.StatusNotFound
	case engine.IsKind(err, engine.KindValidation):
		status = http.StatusBadRequest
	case engine.IsKind(err, engine.KindLiquidity):
		status = http.StatusConflict
	case engine.IsKind(err, engine.KindAuthorization):
		status = http.StatusForbidden
	}
	respondError(w, status, err.Error(), "")
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
