// Package di contains dependency injection tokens for the distribution context.
package di

import (
	"github.com/fd1az/triarb/business/distribution/app"
	"github.com/fd1az/triarb/business/distribution/infra/wsserver"
	"github.com/fd1az/triarb/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Registry = di.NewToken[*app.Registry]("distribution.Registry")
	Poller   = di.NewToken[*app.Poller]("distribution.Poller")
)

// Private dependency tokens - internal to distribution module
var (
	Server = di.NewToken[*wsserver.Server]("distribution:server")
)

func GetRegistry(c di.ServiceRegistry) *app.Registry {
	return di.GetToken(c, Registry)
}

func GetPoller(c di.ServiceRegistry) *app.Poller {
	return di.GetToken(c, Poller)
}

func GetServer(c di.ServiceRegistry) *wsserver.Server {
	return di.GetToken(c, Server)
}
