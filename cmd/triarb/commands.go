package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/shopspring/decimal"

	arbapp "github.com/fd1az/triarb/business/arbitrage/app"
	arbDI "github.com/fd1az/triarb/business/arbitrage/di"
	arb "github.com/fd1az/triarb/business/arbitrage/domain"
	"github.com/fd1az/triarb/business/arbitrage/infra"
	"github.com/fd1az/triarb/business/arbitrage/infra/catalog"
	"github.com/fd1az/triarb/business/execution"
	exDI "github.com/fd1az/triarb/business/execution/di"
	"github.com/fd1az/triarb/business/execution/domain"
	"github.com/fd1az/triarb/business/execution/infra/postgres"
	"github.com/fd1az/triarb/business/marketdata"
	mdDI "github.com/fd1az/triarb/business/marketdata/di"
	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/config"
	"github.com/fd1az/triarb/internal/di"
	"github.com/fd1az/triarb/internal/monolith"
)

type app interface {
	Services() di.ServiceRegistry
	StartModules(ctx context.Context, modules ...monolith.Module) error
	Close() error
}

// oneShot registers every module without starting any, so nothing runs
// in the background. Services resolve on first use.
func oneShot(configPath string) (*config.Config, app, error) {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return nil, nil, err
	}
	mono := monolith.New(cfg, newLogger(cfg, os.Stderr))
	if err := mono.RegisterModules(modules()...); err != nil {
		return nil, nil, fmt.Errorf("failed to register modules: %w", err)
	}
	return cfg, mono, nil
}

func parseAmount(s string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

func runScan(ctx context.Context, out io.Writer, configPath string, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	selector := fs.String("selector", "", "Path set to scan (default: scanner.selector)")
	amount := fs.String("amount", "", "Start amount (default: engine.start_amount)")
	verbose := fs.Bool("v", false, "Print the breakdown of the best opportunity")
	_ = fs.Parse(args)

	cfg, mono, err := oneShot(configPath)
	if err != nil {
		return err
	}
	defer mono.Close()
	sr := mono.Services()

	start, err := parseAmount(*amount, cfg.Engine.StartAmountDecimal())
	if err != nil {
		return err
	}
	sel := *selector
	if sel == "" {
		sel = cfg.Scanner.Selector
	}

	paths, err := arbDI.GetCatalog(sr).Paths(ctx, sel)
	if err != nil {
		return err
	}
	res, err := arbDI.GetScanner(sr).Scan(ctx, paths, start)
	if err != nil {
		return err
	}

	infra.WriteTable(out, res.Opportunities)
	for _, sk := range res.Skipped {
		fmt.Fprintf(os.Stderr, "skipped %s: %v\n", sk.PathID, sk.Err)
	}
	fmt.Fprintf(os.Stderr, "%d paths, %d pairs, %d profitable, %s\n",
		len(paths), res.Pairs, res.ProfitableCount(), res.Duration.Round(time.Millisecond))
	if *verbose && res.Best() != nil {
		infra.WriteOpportunity(out, res.Best())
	}
	return nil
}

func runExecute(ctx context.Context, out io.Writer, configPath string, args []string) error {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	amount := fs.String("amount", "", "Start amount (default: engine.start_amount)")
	dryRun := fs.Bool("dry-run", true, "Simulate fills instead of placing orders")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt for live execution")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: triarb execute [-amount N] [-dry-run=false] <path-id>")
	}
	pathID := fs.Arg(0)

	cfg, mono, err := oneShot(configPath)
	if err != nil {
		return err
	}
	defer mono.Close()
	sr := mono.Services()

	start, err := parseAmount(*amount, cfg.Engine.StartAmountDecimal())
	if err != nil {
		return err
	}
	path, err := findPath(ctx, arbDI.GetCatalog(sr), pathID)
	if err != nil {
		return err
	}

	books, errs := mdDI.GetGateway(sr).FetchMany(ctx, path.Pairs())
	if len(errs) > 0 {
		var msgs []string
		for pair, err := range errs {
			msgs = append(msgs, pair.String()+": "+err.Error())
		}
		return fmt.Errorf("order books unavailable: %s", strings.Join(msgs, "; "))
	}
	opp, err := arbDI.GetCalculator(sr).Evaluate(path, books, start)
	if err != nil {
		return err
	}
	infra.WriteOpportunity(out, opp)

	opts := execution.Options(cfg)
	opts.DryRun = *dryRun
	if !opts.DryRun && !*yes {
		confirmed := false
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Place %d live market orders on %s?", len(path.Steps), cfg.Exchange.Venue)).
					Description(fmt.Sprintf("%s %s, estimated net %s %s (%s)",
						start.String(), opp.StartCurrency(), opp.NetProfit.StringFixed(4), opp.StartCurrency(), opp.Recommendation)).
					Affirmative("Execute").
					Negative("Cancel").
					Value(&confirmed),
			),
		).Run()
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(out, "cancelled")
			return nil
		}
	}

	// Execution needs its stores migrated and its journal checked.
	if err := mono.StartModules(ctx, &marketdata.Module{}, &execution.Module{}); err != nil {
		return err
	}
	res := exDI.GetCoordinator(sr).Execute(ctx, opp, marketdata.Credentials(cfg.Exchange), opts)
	writeResult(out, res)
	return res.Err()
}

func findPath(ctx context.Context, cat arbapp.PathCatalog, id string) (arb.TriangularPath, error) {
	paths, err := cat.Paths(ctx, catalog.SelectAll)
	if err != nil {
		return arb.TriangularPath{}, err
	}
	for _, p := range paths {
		if p.ID == id {
			return p, nil
		}
	}
	return arb.TriangularPath{}, fmt.Errorf("path %q not in catalog", id)
}

func writeResult(out io.Writer, res *domain.ExecutionResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	mode := "LIVE"
	if res.DryRun {
		mode = "DRY RUN"
	}
	fmt.Fprintf(w, "\nExecution %s (%s): %s\n", res.ID, mode, res.State)
	for _, l := range res.Legs {
		fmt.Fprintf(w, "  leg %d\t%s %s\t%s %s\t→ %s %s\t@ %s\t%s\t%s\n",
			l.Index, l.Side, l.Pair, l.InputAmount.StringFixed(8), l.InputCurrency,
			l.OutputAmount.StringFixed(8), l.OutputCurrency, l.Price.String(), l.Status, l.OrderID)
	}
	for _, rb := range res.Rollbacks {
		status := "ok"
		if !rb.Success {
			status = "FAILED: " + rb.Error
		}
		fmt.Fprintf(w, "  rollback leg %d\t%s %s\t%s %s\t%s\n",
			rb.LegIndex, rb.Side, rb.Pair, rb.Amount.StringFixed(8), rb.Currency, status)
	}
	if res.Success {
		fmt.Fprintf(w, "  net\t%s %s (%s%%)\n", res.NetProfit.StringFixed(4), res.StartCurrency, res.NetProfitPercent.StringFixed(3))
	} else {
		fmt.Fprintf(w, "  error\t%s\n", res.Error)
	}
	if res.RollbackError != "" {
		fmt.Fprintf(w, "  MANUAL RECONCILIATION REQUIRED\t%s\n", res.RollbackError)
	}
}

func runDepth(ctx context.Context, out io.Writer, configPath string, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: triarb depth <pair> <amount> <buy|sell>")
	}
	pair, err := md.ParsePair(args[0])
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[1])
	}
	side, err := md.ParseSide(args[2])
	if err != nil {
		return err
	}

	_, mono, err := oneShot(configPath)
	if err != nil {
		return err
	}
	defer mono.Close()
	sr := mono.Services()

	book, err := mdDI.GetGateway(sr).OrderBook(ctx, pair)
	if err != nil {
		return err
	}
	r := arbDI.GetCalculator(sr).Depth().AnalyzeDepth(book.Levels(side), amount, side)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "%s %s %s %s\n", strings.ToUpper(string(side)), amount, pair.Base, pair)
	fmt.Fprintf(w, "filled\t%s of %s\n", r.Filled, r.Required)
	fmt.Fprintf(w, "levels\t%d\n", r.LevelsConsumed)
	fmt.Fprintf(w, "best / average\t%s / %s\n", r.BestPrice, r.AveragePrice.StringFixed(8))
	fmt.Fprintf(w, "notional\t%s %s\n", r.Notional.StringFixed(8), pair.Quote)
	fmt.Fprintf(w, "price impact\t%s%%\n", r.PriceImpactPercent.StringFixed(4))
	fmt.Fprintf(w, "satisfied\t%t\n", r.Satisfied)
	fmt.Fprintf(w, "liquidity risk\t%t\n", r.LiquidityRisk)
	return nil
}

func runPaths(ctx context.Context, out io.Writer, configPath string, args []string) error {
	fs := flag.NewFlagSet("paths", flag.ExitOnError)
	selector := fs.String("selector", catalog.SelectAll, "Path set to list")
	importFile := fs.String("import", "", "Import a YAML catalog into the SQLite catalog")
	_ = fs.Parse(args)

	cfg, mono, err := oneShot(configPath)
	if err != nil {
		return err
	}
	defer mono.Close()

	if *importFile != "" {
		return importCatalog(ctx, out, cfg, *importFile)
	}

	paths, err := arbDI.GetCatalog(mono.Services()).Paths(ctx, *selector)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tSTART\tLEGS\tROUTE")
	for _, p := range paths {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.ID, p.StartCurrency, len(p.Steps), p.Route())
	}
	return nil
}

func importCatalog(ctx context.Context, out io.Writer, cfg *config.Config, file string) error {
	if cfg.Scanner.CatalogSource != config.CatalogSQLite {
		return fmt.Errorf("scanner.catalog_source must be %q to import", config.CatalogSQLite)
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := catalog.ParseYAML(f)
	if err != nil {
		return err
	}
	db, err := catalog.OpenSQLite(cfg.Scanner.CatalogPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Import(ctx, entries); err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d paths into %s\n", len(entries), cfg.Scanner.CatalogPath)
	return nil
}

func runHistory(ctx context.Context, configPath string, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of executions to show")
	account := fs.String("account", "", "Only show one account (default: all)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	if cfg.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is not set")
	}
	client, err := postgres.Connect(ctx, cfg.Storage.PostgresDSN, 2)
	if err != nil {
		return err
	}
	defer client.Close()

	rows, err := postgres.NewStore(client.Pool()).Recent(ctx, *account, *limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "STARTED\tID\tPATH\tSTATE\tMODE\tNET\tROLLBACKS\tERROR")
	for _, r := range rows {
		mode := "live"
		if r.DryRun {
			mode = "dry"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s %s\t%d\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.ID, r.PathID, r.State, mode,
			r.NetProfit.StringFixed(4), r.StartCurrency, r.Rollbacks, r.ErrorCode)
	}
	return nil
}
