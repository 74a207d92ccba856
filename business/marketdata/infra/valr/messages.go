package valr

// orderBookResponse is GET /v1/public/{pair}/orderbook.
type orderBookResponse struct {
	Asks       []bookEntry `json:"Asks"`
	Bids       []bookEntry `json:"Bids"`
	LastChange string      `json:"LastChange"`
}

type bookEntry struct {
	Side         string `json:"side"`
	Quantity     string `json:"quantity"`
	Price        string `json:"price"`
	CurrencyPair string `json:"currencyPair"`
	OrderCount   int    `json:"orderCount"`
}

// balanceEntry is one element of GET /v1/account/balances.
type balanceEntry struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Reserved  string `json:"reserved"`
	Total     string `json:"total"`
}

// marketOrderRequest is POST /v1/orders/market. Exactly one of the amounts is set.
type marketOrderRequest struct {
	Side            string `json:"side"`
	Pair            string `json:"pair"`
	QuoteAmount     string `json:"quoteAmount,omitempty"`
	BaseAmount      string `json:"baseAmount,omitempty"`
	CustomerOrderID string `json:"customerOrderId,omitempty"`
}

type orderAccepted struct {
	ID string `json:"id"`
}

// orderSummary is GET /v1/orders/history/summary/orderid/{id}.
type orderSummary struct {
	OrderID           string `json:"orderId"`
	OrderStatusType   string `json:"orderStatusType"`
	CurrencyPair      string `json:"currencyPair"`
	AveragePrice      string `json:"averagePrice"`
	OriginalQuantity  string `json:"originalQuantity"`
	RemainingQuantity string `json:"remainingQuantity"`
	Total             string `json:"total"`
	TotalFee          string `json:"totalFee"`
	FeeCurrency       string `json:"feeCurrency"`
	OrderSide         string `json:"orderSide"`
	FailedReason      string `json:"failedReason"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
