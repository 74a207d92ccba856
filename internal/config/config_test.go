package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: triarb-test\n"))
	require.NoError(t, err)

	assert.Equal(t, "triarb-test", cfg.App.Name)
	assert.Equal(t, VenuePaper, cfg.Exchange.Venue)
	assert.True(t, cfg.Execution.DryRun)
	assert.Equal(t, 30*time.Second, cfg.Execution.PerLegTimeout)
	assert.True(t, cfg.Engine.FeeRateDecimal().Equal(decimal.RequireFromString("0.001")))
	assert.True(t, cfg.Engine.MinProfitFractionDecimal().Equal(decimal.RequireFromString("0.008")))
	assert.True(t, cfg.Execution.BalanceBufferDecimal().Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 3, cfg.Engine.MaxDepthLevels)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ARB_LOG_LEVEL", "debug")
	t.Setenv("ARB_EXCHANGE_VENUE", "valr")
	t.Setenv("ARB_DRY_RUN", "true")

	cfg, err := Load(writeConfig(t, "engine:\n  fee_rate: 0.002\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, VenueVALR, cfg.Exchange.Venue)
	assert.Equal(t, 0.002, cfg.Engine.FeeRate)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"unknown venue", "exchange:\n  venue: kraken\n", true},
		{"live without keys", "exchange:\n  venue: binance\nexecution:\n  dry_run: false\n", true},
		{"inverted bounds", "engine:\n  min_order_size: 100\n  max_order_size: 10\n", true},
		{"poll longer than timeout", "execution:\n  per_leg_timeout: 1s\n  poll_interval: 2s\n", true},
		{"bad catalog", "scanner:\n  catalog_source: csv\n", true},
		{"paper live ok", "exchange:\n  venue: paper\nexecution:\n  dry_run: false\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}
