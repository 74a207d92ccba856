package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apperror"
)

const sample = `
paths:
  - id: usdt-eth-btc
    description: USDT via ETH and BTC
    start: usdt
    sets: [default, binance]
    steps:
      - {pair: ETH/USDT, side: buy}
      - {pair: ETH/BTC, side: sell}
      - {pair: BTC/USDT, side: sell}
  - id: zar-btc-eth-usdc
    start: ZAR
    sets: [valr]
    steps:
      - {pair: BTC/ZAR, side: buy}
      - {pair: ETH/BTC, side: buy}
      - {pair: ETH-USDC, side: SELL}
      - {pair: USDC/ZAR, side: sell}
`

func TestParseYAML(t *testing.T) {
	entries, err := ParseYAML(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0].Path
	assert.Equal(t, "USDT", first.StartCurrency)
	assert.Equal(t, md.NewPair("ETH", "USDT"), first.Steps[0].Pair)
	assert.Equal(t, md.SideBuy, first.Steps[0].Side)

	four := entries[1].Path
	assert.Len(t, four.Steps, 4)
	assert.Equal(t, md.SideSell, four.Steps[2].Side)
}

func TestParseYAMLRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "open_cycle",
			doc: `
paths:
  - id: open
    start: USDT
    steps:
      - {pair: ETH/USDT, side: buy}
      - {pair: ETH/BTC, side: sell}
      - {pair: BTC/EUR, side: sell}
`,
		},
		{
			name: "bad_side",
			doc: `
paths:
  - id: bad
    start: USDT
    steps:
      - {pair: ETH/USDT, side: hold}
`,
		},
		{
			name: "duplicate_id",
			doc: sample + `
  - id: usdt-eth-btc
    start: USDT
    steps:
      - {pair: ETH/USDT, side: buy}
      - {pair: ETH/BTC, side: sell}
      - {pair: BTC/USDT, side: sell}
`,
		},
		{
			name: "unknown_field",
			doc: `
paths:
  - id: x
    start: USDT
    legs: []
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestMarshalYAMLRoundTrip(t *testing.T) {
	entries, err := ParseYAML(strings.NewReader(sample))
	require.NoError(t, err)

	out, err := MarshalYAML(entries)
	require.NoError(t, err)

	again, err := ParseYAML(strings.NewReader(string(out)))
	require.NoError(t, err)
	assert.Equal(t, entries, again)
}

func TestYAMLCatalogSelectsAndReloads(t *testing.T) {
	file := filepath.Join(t.TempDir(), "paths.yaml")
	require.NoError(t, os.WriteFile(file, []byte(sample), 0o644))

	cat := NewYAML(file)
	ctx := context.Background()

	all, err := cat.Paths(ctx, SelectAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	valr, err := cat.Paths(ctx, "VALR")
	require.NoError(t, err)
	require.Len(t, valr, 1)
	assert.Equal(t, "zar-btc-eth-usdc", valr[0].ID)

	none, err := cat.Paths(ctx, "kraken")
	require.NoError(t, err)
	assert.Empty(t, none)

	// Rewrite with one path and a later mtime.
	entries, err := ParseYAML(strings.NewReader(sample))
	require.NoError(t, err)
	out, err := MarshalYAML(entries[:1])
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, out, 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(file, later, later))

	all, err = cat.Paths(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestYAMLCatalogMissingFile(t *testing.T) {
	_, err := NewYAML(filepath.Join(t.TempDir(), "nope.yaml")).Paths(context.Background(), "")
	assert.True(t, apperror.HasCode(err, apperror.CodeConfigurationError))
}

func TestSQLiteCatalog(t *testing.T) {
	cat, err := OpenSQLite(filepath.Join(t.TempDir(), "paths.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	entries, err := ParseYAML(strings.NewReader(sample))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cat.Import(ctx, entries))
	// Re-importing replaces rather than duplicates.
	require.NoError(t, cat.Import(ctx, entries))

	all, err := cat.Paths(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, entries[0].Path, all[0])
	assert.Len(t, all[1].Steps, 4)

	binance, err := cat.Paths(ctx, "binance")
	require.NoError(t, err)
	require.Len(t, binance, 1)
	assert.Equal(t, "usdt-eth-btc", binance[0].ID)

	require.NoError(t, cat.Ping(ctx))
}

func TestSQLiteCatalogImportRejectsInvalid(t *testing.T) {
	cat, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	entries, err := ParseYAML(strings.NewReader(sample))
	require.NoError(t, err)
	bad := entries[0]
	bad.Path.Steps = bad.Path.Steps[:2]

	err = cat.Import(context.Background(), []Entry{entries[1], bad})
	assert.True(t, apperror.IsValidation(err))

	all, err := cat.Paths(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all, "failed import must not commit")
}
