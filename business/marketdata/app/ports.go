// Package app contains the market-data gateway and the exchange ports it drives.
package app

import (
	"context"

	"github.com/fd1az/triarb/business/marketdata/domain"
)

// ExchangeClient is the single capability every venue adapter implements.
// Adapters own signing and framing; nothing above this interface knows
// which venue it talks to.
type ExchangeClient interface {
	Name() string
	GetOrderBook(ctx context.Context, pair domain.Pair, depth int) (*domain.OrderBookSnapshot, error)
	GetBalance(ctx context.Context, currency string) (domain.Balance, error)
	PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (string, error)
	// GetOrderStatus accepts the venue order ID or the ClientOrderID sent
	// with the order, and answers NOT_FOUND for an order the venue never saw.
	GetOrderStatus(ctx context.Context, pair domain.Pair, orderID string) (domain.OrderStatus, error)
}

// ClientFactory builds an ExchangeClient acting for specific credentials.
type ClientFactory interface {
	ForAccount(creds domain.Credentials) (ExchangeClient, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(creds domain.Credentials) (ExchangeClient, error)

func (f ClientFactoryFunc) ForAccount(creds domain.Credentials) (ExchangeClient, error) {
	return f(creds)
}

// BookReader is the read side consumed by the scanner, coordinator and
// price distribution.
type BookReader interface {
	OrderBook(ctx context.Context, pair domain.Pair) (*domain.OrderBookSnapshot, error)
	FetchMany(ctx context.Context, pairs []domain.Pair) (domain.Books, map[domain.Pair]error)
}
