// Package di contains dependency injection tokens for the marketdata context.
package di

import (
	"github.com/fd1az/triarb/business/marketdata/app"
	"github.com/fd1az/triarb/business/marketdata/infra/binance"
	"github.com/fd1az/triarb/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Gateway        = di.NewToken[*app.Gateway]("marketdata.Gateway")
	ClientFactory  = di.NewToken[app.ClientFactory]("marketdata.ClientFactory")
	ExchangeClient = di.NewToken[app.ExchangeClient]("marketdata.ExchangeClient")
)

// Private dependency tokens - internal to marketdata module
var (
	DepthStream = di.NewToken[*binance.DepthStream]("marketdata:depthStream")
)

func GetGateway(c di.ServiceRegistry) *app.Gateway {
	return di.GetToken(c, Gateway)
}

func GetClientFactory(c di.ServiceRegistry) app.ClientFactory {
	return di.GetToken(c, ClientFactory)
}

func GetExchangeClient(c di.ServiceRegistry) app.ExchangeClient {
	return di.GetToken(c, ExchangeClient)
}

func GetDepthStream(c di.ServiceRegistry) *binance.DepthStream {
	return di.GetToken(c, DepthStream)
}
