package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/triarb/business/arbitrage/domain"
	"github.com/fd1az/triarb/internal/logger"
)

type staticCatalog struct {
	paths []domain.TriangularPath
	err   error
}

func (c staticCatalog) Paths(context.Context, string) ([]domain.TriangularPath, error) {
	return c.paths, c.err
}

type fakeReporter struct {
	mu       sync.Mutex
	reported []*domain.Opportunity
	scans    int
	stopped  bool
}

func (r *fakeReporter) Start(context.Context) error { return nil }

func (r *fakeReporter) Report(opp *domain.Opportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, opp)
}

func (r *fakeReporter) ReportScan(*ScanResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans++
}

func (r *fakeReporter) UpdateConnectionStatus(string, bool, time.Duration) {}

func (r *fakeReporter) Stop() error {
	r.stopped = true
	return nil
}

func (r *fakeReporter) scanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

type fakeExecutor struct {
	got []*domain.Opportunity
}

func (e *fakeExecutor) ExecuteOpportunity(_ context.Context, opp *domain.Opportunity) error {
	e.got = append(e.got, opp)
	return nil
}

func newTestDetector(cat PathCatalog, rep Reporter, exec Executor, auto bool) *Detector {
	scanner := newTestScanner(&fakeBooks{books: scenarioABooks()})
	return NewDetector(scanner, cat, rep, exec, DetectorConfig{
		Interval:    10 * time.Millisecond,
		Selector:    "default",
		StartAmount: d("1000"),
		AutoExecute: auto,
	}, logger.NewDiscard())
}

func TestDetectorRunOnceReportsProfitable(t *testing.T) {
	rep := &fakeReporter{}
	det := newTestDetector(staticCatalog{paths: []domain.TriangularPath{usdtEthBtc(), usdtBtcEth()}}, rep, nil, false)

	res := det.RunOnce(context.Background())
	require.NotNil(t, res)

	assert.Equal(t, 1, rep.scans)
	require.Len(t, rep.reported, 1)
	assert.Equal(t, "usdt-eth-btc", rep.reported[0].Path.ID)
	assert.Same(t, res, det.Last())
}

func TestDetectorAutoExecutesBest(t *testing.T) {
	exec := &fakeExecutor{}
	det := newTestDetector(staticCatalog{paths: []domain.TriangularPath{usdtBtcEth(), usdtEthBtc()}}, &fakeReporter{}, exec, true)

	det.RunOnce(context.Background())

	require.Len(t, exec.got, 1)
	assert.Equal(t, domain.RecommendExecute, exec.got[0].Recommendation)
}

func TestDetectorDoesNotExecuteWhenDisabled(t *testing.T) {
	exec := &fakeExecutor{}
	det := newTestDetector(staticCatalog{paths: []domain.TriangularPath{usdtEthBtc()}}, &fakeReporter{}, exec, false)

	det.RunOnce(context.Background())
	assert.Empty(t, exec.got)
}

func TestDetectorStartFailsOnBrokenCatalog(t *testing.T) {
	det := newTestDetector(staticCatalog{err: errors.New("boom")}, &fakeReporter{}, nil, false)
	assert.Error(t, det.Start(context.Background()))
}

func TestDetectorLoopStopsOnCancel(t *testing.T) {
	rep := &fakeReporter{}
	det := newTestDetector(staticCatalog{paths: []domain.TriangularPath{usdtEthBtc()}}, rep, nil, false)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, det.Start(ctx))
	assert.Eventually(t, func() bool { return rep.scanCount() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, det.Stop())
	assert.True(t, rep.stopped)
}
