package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/triarb/internal/config"
)

func TestDisabledProviderStillRecords(t *testing.T) {
	mp, err := NewMetricProvider(context.Background(), config.TelemetryConfig{ServiceName: "triarb"})
	require.NoError(t, err)
	defer mp.Shutdown(context.Background())

	counter, err := mp.Meter("test").Int64Counter("scans_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}

func TestPrometheusReaderAttached(t *testing.T) {
	cfg := config.TelemetryConfig{Enabled: true, ServiceName: "triarb", PrometheusPort: 9464}
	rs, err := readers(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, rs, 1)
}
