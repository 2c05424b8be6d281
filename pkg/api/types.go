package api

// Request and response shapes for the REST endpoints and WebSocket messages.
// All prices and amounts travel as WAD-scaled decimal strings so no precision
// is lost in JSON.

// ==============================
// REST Request Types
// ==============================

// MarketBuyRequest is the payload for POST /api/v1/orders/market/buy.
// AttachedValue is the quote (MATIC) budget to spend.
type MarketBuyRequest struct {
	Address       string `json:"address"`
	AttachedValue string `json:"attachedValue"`
}

// MarketSellRequest is the payload for POST /api/v1/orders/market/sell.
type MarketSellRequest struct {
	Address     string `json:"address"`
	TokenAmount string `json:"tokenAmount"`
}

// LimitOrderRequest is the payload for POST /api/v1/orders/limit.
// Buys must carry attachedValue covering price*amount; sells must omit it.
type LimitOrderRequest struct {
	Address       string `json:"address"`
	Side          string `json:"side"` // "buy" or "sell"
	Price         string `json:"price"`
	TokenAmount   string `json:"tokenAmount"`
	TimeLimit     int64  `json:"timeLimit"` // unix seconds
	AttachedValue string `json:"attachedValue,omitempty"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Address string `json:"address"`
	OrderID uint64 `json:"orderId"`
}

// ==============================
// REST Response Types
// ==============================

// OrderResult reports one accepted order: what filled, what rested, and the
// settlement transfers the funds ledger must perform.
type OrderResult struct {
	OrderID     uint64         `json:"orderId"`
	Status      string         `json:"status"`
	Rested      bool           `json:"rested"`
	FilledBase  string         `json:"filledBase"`
	QuoteVolume string         `json:"quoteVolume"`
	Remainder   string         `json:"remainder"`
	Fills       []FillInfo     `json:"fills"`
	Transfers   []TransferInfo `json:"transfers"`
}

// FillInfo is one maker fill within an execution.
type FillInfo struct {
	MakerOrderID uint64 `json:"makerOrderId"`
	Maker        string `json:"maker"`
	Price        string `json:"price"`
	BaseAmount   string `json:"baseAmount"`
	QuoteAmount  string `json:"quoteAmount"`
	FeeAmount    string `json:"feeAmount"`
}

// TransferInfo is one settlement instruction.
type TransferInfo struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// CancelResponse reports a successful cancellation and its refunds.
type CancelResponse struct {
	OrderID   uint64         `json:"orderId"`
	Status    string         `json:"status"`
	Transfers []TransferInfo `json:"transfers"`
}

// RateInfo is the top-of-book view. A side is null when there is no
// liquidity and no oracle fallback; the synthetic fallback order carries
// orderId 0.
type RateInfo struct {
	BestBid *RateOrderInfo `json:"bestBid"`
	BestAsk *RateOrderInfo `json:"bestAsk"`
}

// RateOrderInfo is the order backing one side of the rate.
type RateOrderInfo struct {
	OrderID   uint64 `json:"orderId"`
	Price     string `json:"price"`
	Remaining string `json:"remaining"`
}

// OrderbookSnapshot is the depth-limited book for both sides.
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // sorted high to low
	Asks      []PriceLevel `json:"asks"` // sorted low to high
	Timestamp int64        `json:"timestamp"` // unix milliseconds
}

// PriceLevel is one price with its resting orders in time priority.
type PriceLevel struct {
	Price  string      `json:"price"`
	Orders []OrderInfo `json:"orders"`
}

// OrderInfo is one resting order.
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Filled    string `json:"filled"`
	Remaining string `json:"remaining"`
	Status    string `json:"status"`
	ExpiresAt int64  `json:"expiresAt"`
}

// OrderCountResponse is the open-order count for one address.
type OrderCountResponse struct {
	Address string `json:"address"`
	Count   int    `json:"count"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by a client to manage channel subscriptions,
// e.g. ["orderbook:ACME-MATIC", "trades:ACME-MATIC"].
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// OrderbookUpdate is broadcast after every execution that changes the book.
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// TradeUpdate is broadcast for each fill.
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"` // taker side
	Timestamp int64  `json:"timestamp"`
}
