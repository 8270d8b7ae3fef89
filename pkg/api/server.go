package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/minkyow/trademirror/pkg/core"
	"github.com/minkyow/trademirror/pkg/core/book"
	"github.com/minkyow/trademirror/pkg/engine"
	"github.com/minkyow/trademirror/pkg/portfolio"
)

// Server handles REST API and WebSocket connections.
// Routing, auth and credential handling live here, outside the matching
// and settlement core.
type Server struct {
	eng    *engine.Engine
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer creates a new API server around the engine
func NewServer(eng *engine.Engine, log *zap.SugaredLogger) *Server {
	s := &Server{
		eng:    eng,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Portfolio endpoints
	api.HandleFunc("/portfolios", s.handleCreatePortfolio).Methods("POST")
	api.HandleFunc("/portfolios/{userId}", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/portfolios/{userId}/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/portfolios/{userId}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/portfolios/{userId}/transactions", s.handleGetTransactions).Methods("GET")

	// Order submission
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// BroadcastTrade pushes a settled trade to subscribed WebSocket clients
// along with the refreshed book for the symbol
func (s *Server) BroadcastTrade(t core.MatchedTrade) {
	s.hub.BroadcastToChannel("trades:"+t.Symbol, TradeUpdate{
		Type:      "trade",
		Symbol:    t.Symbol,
		Price:     t.Price,
		Qty:       t.Qty,
		Timestamp: t.Timestamp,
	})

	bids, asks := s.eng.Snapshot(t.Symbol)
	s.hub.BroadcastToChannel("orderbook:"+t.Symbol, OrderbookUpdate{
		Type:      "orderbook",
		Symbol:    t.Symbol,
		Bids:      toPriceLevels(bids),
		Asks:      toPriceLevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Symbols())
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	bids, asks := s.eng.Snapshot(symbol)
	writeJSON(w, http.StatusOK, OrderbookSnapshot{
		Symbol:    symbol,
		Bids:      toPriceLevels(bids),
		Asks:      toPriceLevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := queryInt(r, "limit", 50)

	trades, err := s.eng.RecentTrades(symbol, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = TradeInfo{
			Symbol:    t.Symbol,
			Price:     t.Price,
			Qty:       t.Qty,
			BuyerID:   t.BuyerID,
			SellerID:  t.SellerID,
			Timestamp: t.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req CreatePortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.ErrValidation)
		return
	}
	if err := s.eng.CreatePortfolio(req.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"userId": req.UserID})
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	pf, err := s.eng.Portfolio(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	info := PortfolioInfo{
		UserID:     pf.UserID,
		Cash:       pf.Cash,
		TotalValue: pf.TotalValue(),
		Holdings:   make([]HoldingInfo, 0, len(pf.Holdings)),
	}
	for _, h := range pf.Holdings {
		info.Holdings = append(info.Holdings, HoldingInfo{
			Symbol:      h.Symbol,
			Shares:      h.Shares,
			AverageCost: h.AverageCost,
			MarketValue: h.MarketValue,
			Fraction:    h.Fraction,
		})
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.ErrValidation)
		return
	}
	if err := s.eng.Deposit(userID, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	orders, err := s.eng.OpenOrders(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	txns, err := s.eng.Transactions(userID, queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req engine.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.ErrValidation)
		return
	}

	ack, err := s.eng.SubmitOrder(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.ErrValidation)
		return
	}
	if err := s.eng.CancelOrder(req.UserID, req.OrderID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, portfolio.ErrNotFound), errors.Is(err, book.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, portfolio.ErrExists):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Errorw("request_failed", "err", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func toPriceLevels(levels []book.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Qty: l.Qty}
	}
	return out
}
