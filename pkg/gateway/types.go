package gateway

import "github.com/ddxlabs/orderengine/pkg/engine/book"

// Wire types for the REST endpoints and WebSocket messages. Field names for
// account and order payloads match the historical deployment's JSON schema
// (traderAddress, ddxBalance, usdBalance).

// NewAccountRequest is the payload for POST /accounts.
type NewAccountRequest struct {
	TraderAddress string `json:"traderAddress"`
	DDXBalance    int64  `json:"ddxBalance"`
	USDBalance    int64  `json:"usdBalance"`
}

// BalanceInfo is one asset's balance pair.
type BalanceInfo struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
}

// AccountResponse is returned by account endpoints.
type AccountResponse struct {
	TraderAddress string                 `json:"traderAddress"`
	Balances      map[string]BalanceInfo `json:"balances"`
	OpenOrders    int                    `json:"openOrders"`
}

// NewOrderRequest is the payload for POST /orders. Symbol is optional and
// defaults to the engine's default pair.
type NewOrderRequest struct {
	TraderAddress string `json:"traderAddress"`
	Symbol        string `json:"symbol,omitempty"`
	Side          string `json:"side"`
	Price         int64  `json:"price"`
	Amount        int64  `json:"amount"`
	Nonce         uint64 `json:"nonce"`
}

// TradeInfo is one fill as serialized to callers and feeds.
type TradeInfo struct {
	MakerHash string `json:"makerHash"`
	TakerHash string `json:"takerHash"`
	Price     int64  `json:"price"`
	Amount    int64  `json:"amount"`
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
}

// OrderAcceptedResponse is returned by POST /orders.
type OrderAcceptedResponse struct {
	Hash   string      `json:"hash"`
	Status string      `json:"status"`
	Fills  []TradeInfo `json:"fills"`
}

// OrderCancelledResponse is returned by DELETE /orders/{hash}.
type OrderCancelledResponse struct {
	Hash      string `json:"hash"`
	Status    string `json:"status"`
	Remaining int64  `json:"remaining"` // amount whose reservation was released
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WSSubscribeRequest is sent by clients to manage channel subscriptions,
// e.g. ["book:DDX-USD", "trades:DDX-USD"].
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// TradeUpdate is broadcast on the "trades:{symbol}" channel.
type TradeUpdate struct {
	Type      string    `json:"type"` // "trade"
	Symbol    string    `json:"symbol"`
	TakerSide string    `json:"takerSide"`
	Trade     TradeInfo `json:"trade"`
}

// BookUpdate is broadcast on the "book:{symbol}" channel after each
// mutation of the book.
type BookUpdate struct {
	Type string        `json:"type"` // "book"
	Book book.Snapshot `json:"book"`
}

func tradeInfo(t book.Trade) TradeInfo {
	return TradeInfo{
		MakerHash: t.MakerHash.Hex(),
		TakerHash: t.TakerHash.Hex(),
		Price:     t.Price,
		Amount:    t.Amount,
		Seq:       t.Seq,
		Timestamp: t.Timestamp,
	}
}
