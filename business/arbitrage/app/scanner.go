package app

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/triarb/business/arbitrage/domain"
	mdapp "github.com/fd1az/triarb/business/marketdata/app"
	"github.com/fd1az/triarb/internal/apm"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/logger"
)

const tracerName = "arbitrage"

// SkippedPath records a path that could not be evaluated in a scan.
type SkippedPath struct {
	PathID string
	Err    error
}

// ScanResult is the ranked outcome of one scan.
type ScanResult struct {
	Opportunities []*domain.Opportunity
	Skipped       []SkippedPath
	Pairs         int
	StartAmount   decimal.Decimal
	StartedAt     time.Time
	Duration      time.Duration
}

// Best returns the top-ranked opportunity, or nil.
func (r *ScanResult) Best() *domain.Opportunity {
	if r == nil || len(r.Opportunities) == 0 {
		return nil
	}
	return r.Opportunities[0]
}

// BestExecutable returns the highest-ranked opportunity recommended for
// execution, which need not be the top-ranked one.
func (r *ScanResult) BestExecutable() *domain.Opportunity {
	if r == nil {
		return nil
	}
	for _, o := range r.Opportunities {
		if o.Recommendation == domain.RecommendExecute {
			return o
		}
	}
	return nil
}

// ProfitableCount counts profitable opportunities.
func (r *ScanResult) ProfitableCount() int {
	n := 0
	for _, o := range r.Opportunities {
		if o.Profitable {
			n++
		}
	}
	return n
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithAuditor hands every computed opportunity to a.
func WithAuditor(a Auditor) ScannerOption {
	return func(s *Scanner) { s.auditor = a }
}

// Scanner fetches each pair once per batch and evaluates every path.
type Scanner struct {
	books   mdapp.BookReader
	calc    *Calculator
	auditor Auditor
	log     logger.LoggerInterface
	tracer  trace.Tracer

	scans      metric.Int64Counter
	evaluated  metric.Int64Counter
	profitable metric.Int64Counter
	skipped    metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewScanner creates a new Scanner.
func NewScanner(books mdapp.BookReader, calc *Calculator, log logger.LoggerInterface, opts ...ScannerOption) *Scanner {
	meter := otel.Meter(tracerName)
	scans, _ := meter.Int64Counter("arbitrage_scans_total", metric.WithDescription("Completed scans"))
	evaluated, _ := meter.Int64Counter("arbitrage_opportunities_total", metric.WithDescription("Evaluated opportunities"))
	profitable, _ := meter.Int64Counter("arbitrage_profitable_total", metric.WithDescription("Opportunities above the profit threshold"))
	skipped, _ := meter.Int64Counter("arbitrage_paths_skipped_total", metric.WithDescription("Paths skipped for missing data or bad shape"))
	duration, _ := meter.Float64Histogram("arbitrage_scan_duration_ms", metric.WithUnit("ms"))

	s := &Scanner{
		books:      books,
		calc:       calc,
		log:        log,
		tracer:     otel.Tracer(tracerName),
		scans:      scans,
		evaluated:  evaluated,
		profitable: profitable,
		skipped:    skipped,
		duration:   duration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calculator returns the calculator the scanner evaluates with.
func (s *Scanner) Calculator() *Calculator {
	return s.calc
}

// ScanAll evaluates paths and returns them ranked: profitable first, then by
// net profit percent descending, then by risk ascending.
func (s *Scanner) ScanAll(ctx context.Context, paths []domain.TriangularPath, start decimal.Decimal) ([]*domain.Opportunity, error) {
	res, err := s.Scan(ctx, paths, start)
	if err != nil {
		return nil, err
	}
	return res.Opportunities, nil
}

// Scan is ScanAll with the skipped paths and timing attached.
func (s *Scanner) Scan(ctx context.Context, paths []domain.TriangularPath, start decimal.Decimal) (*ScanResult, error) {
	ctx, span := s.tracer.Start(ctx, "arbitrage.scan", trace.WithAttributes(
		attribute.Int("paths", len(paths)),
		attribute.String("start_amount", start.String()),
	))
	defer span.End()

	if err := s.calc.ValidateAmount(start); err != nil {
		apm.NoticeError(span, err)
		return nil, err
	}

	res := &ScanResult{StartAmount: start, StartedAt: time.Now()}

	valid := make([]domain.TriangularPath, 0, len(paths))
	for _, p := range paths {
		if err := p.Validate(); err != nil {
			s.log.Warn(ctx, "skipping malformed path", "path", p.ID, "error", err)
			res.Skipped = append(res.Skipped, SkippedPath{PathID: p.ID, Err: err})
			continue
		}
		valid = append(valid, p)
	}

	pairs := domain.UniquePairs(valid)
	res.Pairs = len(pairs)
	books, fetchErrs := s.books.FetchMany(ctx, pairs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for pair, err := range fetchErrs {
		s.log.Debug(ctx, "order book unavailable", "pair", pair.String(), "error", err)
	}

	for _, p := range valid {
		opp, err := s.calc.Evaluate(p, books, start)
		if err != nil {
			if !apperror.HasCode(err, apperror.CodeDataUnavailable) {
				s.log.Warn(ctx, "path evaluation failed", "path", p.ID, "error", err)
			}
			res.Skipped = append(res.Skipped, SkippedPath{PathID: p.ID, Err: err})
			continue
		}
		res.Opportunities = append(res.Opportunities, opp)
	}

	Rank(res.Opportunities)
	res.Duration = time.Since(res.StartedAt)

	s.scans.Add(ctx, 1)
	s.evaluated.Add(ctx, int64(len(res.Opportunities)))
	s.profitable.Add(ctx, int64(res.ProfitableCount()))
	s.skipped.Add(ctx, int64(len(res.Skipped)))
	s.duration.Record(ctx, float64(res.Duration.Milliseconds()))
	span.SetAttributes(
		attribute.Int("pairs", res.Pairs),
		attribute.Int("evaluated", len(res.Opportunities)),
		attribute.Int("skipped", len(res.Skipped)),
	)

	if s.auditor != nil && len(res.Opportunities) > 0 {
		if err := s.auditor.RecordOpportunities(ctx, res.Opportunities); err != nil {
			s.log.Warn(ctx, "failed to record opportunities", "error", err)
		}
	}

	return res, nil
}

// Rank sorts opportunities in place: profitable first, then by net profit
// percent descending, then by risk level ascending.
func Rank(opps []*domain.Opportunity) {
	slices.SortStableFunc(opps, func(a, b *domain.Opportunity) int {
		if a.Profitable != b.Profitable {
			if a.Profitable {
				return -1
			}
			return 1
		}
		if c := b.NetProfitPercent.Cmp(a.NetProfitPercent); c != 0 {
			return c
		}
		return cmp.Compare(a.RiskLevel, b.RiskLevel)
	})
}
