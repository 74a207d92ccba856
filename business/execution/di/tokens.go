// Package di contains dependency injection tokens for the execution context.
package di

import (
	"github.com/fd1az/triarb/business/execution/app"
	"github.com/fd1az/triarb/business/execution/infra/postgres"
	"github.com/fd1az/triarb/business/execution/infra/redislock"
	"github.com/fd1az/triarb/business/execution/infra/s3archive"
	"github.com/fd1az/triarb/business/execution/infra/wal"
	"github.com/fd1az/triarb/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Coordinator = di.NewToken[*app.Coordinator]("execution.Coordinator")
	Validator   = di.NewToken[*app.BalanceValidator]("execution.Validator")
	Store       = di.NewToken[app.Store]("execution.Store")
	History     = di.NewToken[*postgres.Store]("execution.History")
)

// Private dependency tokens - internal to execution module.
// Each is registered only when its backend is configured.
var (
	Postgres = di.NewToken[*postgres.Client]("execution:postgres")
	Journal  = di.NewToken[*wal.Journal]("execution:journal")
	Archive  = di.NewToken[*s3archive.Archive]("execution:archive")
	Locker   = di.NewToken[*redislock.Locker]("execution:locker")
)

func GetCoordinator(c di.ServiceRegistry) *app.Coordinator {
	return di.GetToken(c, Coordinator)
}

func GetValidator(c di.ServiceRegistry) *app.BalanceValidator {
	return di.GetToken(c, Validator)
}

func GetStore(c di.ServiceRegistry) app.Store {
	return di.GetToken(c, Store)
}

// LookupHistory returns the postgres execution store, or nil when no DSN is configured.
func LookupHistory(c di.ServiceRegistry) *postgres.Store {
	h, _ := lookup(c, History)
	return h
}

func lookup[T any](c di.ServiceRegistry, tok di.Token[T]) (T, bool) {
	if !c.Has(tok.Name()) {
		var zero T
		return zero, false
	}
	return di.GetToken(c, tok), true
}

func LookupPostgres(c di.ServiceRegistry) (*postgres.Client, bool) {
	return lookup(c, Postgres)
}

func LookupJournal(c di.ServiceRegistry) (*wal.Journal, bool) {
	return lookup(c, Journal)
}

func LookupArchive(c di.ServiceRegistry) (*s3archive.Archive, bool) {
	return lookup(c, Archive)
}

func LookupLocker(c di.ServiceRegistry) (*redislock.Locker, bool) {
	return lookup(c, Locker)
}
