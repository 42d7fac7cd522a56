package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ddxlabs/orderengine/pkg/engine"
	"github.com/ddxlabs/orderengine/pkg/engine/book"
	"github.com/ddxlabs/orderengine/pkg/engine/ledger"
	"github.com/ddxlabs/orderengine/pkg/storage"
)

// Server is the request/response boundary in front of the matching engine.
// It validates wire payloads, forwards commands, and maps the engine's
// closed error set to HTTP statuses. It holds no book or balance state of
// its own.
type Server struct {
	engine  *engine.Engine
	journal *storage.Journal // optional, backs GET /trades
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger

	defaultDepth int
}

// NewServer wires the gateway. journal may be nil; the trades endpoint then
// serves empty history.
func NewServer(eng *engine.Engine, journal *storage.Journal, defaultDepth int, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine:       eng,
		journal:      journal,
		router:       mux.NewRouter(),
		hub:          NewHub(log),
		log:          log,
		defaultDepth: defaultDepth,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/accounts", s.handleNewAccount).Methods("POST")
	s.router.HandleFunc("/accounts/{traderAddress}", s.handleGetAccount).Methods("GET")
	s.router.HandleFunc("/accounts/{traderAddress}", s.handleDeleteAccount).Methods("DELETE")

	s.router.HandleFunc("/orders", s.handleNewOrder).Methods("POST")
	s.router.HandleFunc("/orders/{hash}", s.handleGetOrder).Methods("GET")
	s.router.HandleFunc("/orders/{hash}", s.handleCancelOrder).Methods("DELETE")

	s.router.HandleFunc("/book", s.handleGetBook).Methods("GET")
	s.router.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the full middleware-wrapped handler (tests).
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and serves HTTP on addr. Blocks.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.log.Infow("gateway_listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// Engine event sink
// ==============================

// OnTrade broadcasts each fill to trade subscribers.
func (s *Server) OnTrade(symbol string, t book.Trade) {
	s.hub.BroadcastToChannel("trades:"+symbol, TradeUpdate{
		Type:      "trade",
		Symbol:    symbol,
		TakerSide: t.TakerSide.String(),
		Trade:     tradeInfo(t),
	})
}

// OnBookChange pushes a fresh depth snapshot to book subscribers.
func (s *Server) OnBookChange(symbol string) {
	snap, err := s.engine.GetBook(symbol, s.defaultDepth)
	if err != nil {
		return
	}
	s.hub.BroadcastToChannel("book:"+symbol, BookUpdate{Type: "book", Book: *snap})
}

var _ engine.Sink = (*Server)(nil)

// ==============================
// Handlers
// ==============================

func (s *Server) handleNewAccount(w http.ResponseWriter, r *http.Request) {
	var req NewAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := parseAddress(w, req.TraderAddress)
	if !ok {
		return
	}
	if req.DDXBalance < 0 || req.USDBalance < 0 {
		respondError(w, http.StatusBadRequest, "invalid balance", "initial balances must be non-negative")
		return
	}

	deposits := map[ledger.Asset]int64{
		"DDX": req.DDXBalance,
		"USD": req.USDBalance,
	}
	if err := s.engine.OpenAccount(trader, deposits); err != nil {
		respondEngineError(w, err)
		return
	}

	snap, err := s.engine.GetAccount(trader)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSONStatus(w, http.StatusCreated, accountResponse(snap))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	trader, ok := parseAddress(w, mux.Vars(r)["traderAddress"])
	if !ok {
		return
	}

	snap, err := s.engine.GetAccount(trader)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, accountResponse(snap))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	trader, ok := parseAddress(w, mux.Vars(r)["traderAddress"])
	if !ok {
		return
	}

	snap, err := s.engine.GetAccount(trader)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if err := s.engine.CloseAccount(trader); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, accountResponse(snap))
}

func (s *Server) handleNewOrder(w http.ResponseWriter, r *http.Request) {
	var req NewOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := parseAddress(w, req.TraderAddress)
	if !ok {
		return
	}
	side, ok := book.ParseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid side", "side must be \"buy\" or \"sell\"")
		return
	}
	symbol := req.Symbol
	if symbol == "" {
		symbol = s.engine.DefaultSymbol()
	}

	accepted, err := s.engine.PlaceOrder(symbol, trader, side, req.Price, req.Amount, req.Nonce)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	fills := make([]TradeInfo, len(accepted.Fills))
	for i, t := range accepted.Fills {
		fills[i] = tradeInfo(t)
	}
	respondJSON(w, OrderAcceptedResponse{
		Hash:   accepted.Hash.Hex(),
		Status: accepted.Status.String(),
		Fills:  fills,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, mux.Vars(r)["hash"])
	if !ok {
		return
	}

	snap, err := s.engine.GetOrder(hash)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, mux.Vars(r)["hash"])
	if !ok {
		return
	}

	snap, err := s.engine.CancelOrder(hash)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, OrderCancelledResponse{
		Hash:      snap.Hash.Hex(),
		Status:    snap.Status,
		Remaining: snap.Remaining,
	})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		symbol = s.engine.DefaultSymbol()
	}
	depth := s.defaultDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid depth", raw)
			return
		}
		depth = n
	}

	snap, err := s.engine.GetBook(symbol, depth)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		symbol = s.engine.DefaultSymbol()
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	if s.journal == nil {
		respondJSON(w, []TradeInfo{})
		return
	}
	trades, err := s.journal.RecentTrades(symbol, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade history unavailable", err.Error())
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t)
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func accountResponse(snap *engine.AccountSnapshot) AccountResponse {
	balances := make(map[string]BalanceInfo, len(snap.Balances))
	for asset, b := range snap.Balances {
		balances[string(asset)] = BalanceInfo{Available: b.Available, Reserved: b.Reserved}
	}
	return AccountResponse{
		TraderAddress: snap.Trader.Hex(),
		Balances:      balances,
		OpenOrders:    snap.OpenOrders,
	}
}

func parseAddress(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseHash(w http.ResponseWriter, raw string) (common.Hash, bool) {
	b, err := hexDecodeHash(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid hash", raw)
		return common.Hash{}, false
	}
	return b, true
}

func hexDecodeHash(raw string) (common.Hash, error) {
	if len(raw) != 2+2*common.HashLength || raw[:2] != "0x" {
		return common.Hash{}, errors.New("hash must be a 0x-prefixed 32-byte hex string")
	}
	return common.HexToHash(raw), nil
}

func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal error"
	switch {
	case errors.Is(err, engine.ErrAccountNotFound):
		status, kind = http.StatusNotFound, "account not found"
	case errors.Is(err, engine.ErrOrderNotFound):
		status, kind = http.StatusNotFound, "order not found"
	case errors.Is(err, engine.ErrMarketNotFound):
		status, kind = http.StatusNotFound, "market not found"
	case errors.Is(err, engine.ErrInsufficientFunds):
		status, kind = http.StatusUnprocessableEntity, "insufficient funds"
	case errors.Is(err, engine.ErrDuplicateOrder):
		status, kind = http.StatusConflict, "duplicate order"
	case errors.Is(err, engine.ErrAccountExists):
		status, kind = http.StatusConflict, "account already exists"
	case errors.Is(err, engine.ErrAccountNotEmpty):
		status, kind = http.StatusConflict, "account not empty"
	case errors.Is(err, engine.ErrInvalidOrder):
		status, kind = http.StatusBadRequest, "invalid order"
	}
	respondError(w, status, kind, err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}
