// Package di contains dependency injection tokens for the arbitrage context.
package di

import (
	"github.com/fd1az/triarb/business/arbitrage/app"
	"github.com/fd1az/triarb/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Calculator = di.NewToken[*app.Calculator]("arbitrage.Calculator")
	Scanner    = di.NewToken[*app.Scanner]("arbitrage.Scanner")
	Catalog    = di.NewToken[app.PathCatalog]("arbitrage.Catalog")
	Detector   = di.NewToken[*app.Detector]("arbitrage.Detector")
	Reporter   = di.NewToken[app.Reporter]("arbitrage.Reporter")
)

// Hook tokens - registered by other modules when they provide the capability.
var (
	Executor = di.NewToken[app.Executor]("arbitrage.Executor")
	Auditor  = di.NewToken[app.Auditor]("arbitrage.Auditor")
)

func GetCalculator(c di.ServiceRegistry) *app.Calculator {
	return di.GetToken(c, Calculator)
}

func GetScanner(c di.ServiceRegistry) *app.Scanner {
	return di.GetToken(c, Scanner)
}

func GetCatalog(c di.ServiceRegistry) app.PathCatalog {
	return di.GetToken(c, Catalog)
}

func GetDetector(c di.ServiceRegistry) *app.Detector {
	return di.GetToken(c, Detector)
}

func GetReporter(c di.ServiceRegistry) app.Reporter {
	return di.GetToken(c, Reporter)
}

// LookupExecutor returns the registered executor, or nil.
func LookupExecutor(c di.ServiceRegistry) app.Executor {
	if !c.Has(Executor.Name()) {
		return nil
	}
	return di.GetToken(c, Executor)
}

// LookupAuditor returns the registered auditor, or nil.
func LookupAuditor(c di.ServiceRegistry) app.Auditor {
	if !c.Has(Auditor.Name()) {
		return nil
	}
	return di.GetToken(c, Auditor)
}
