// Package binance implements the exchange client for Binance spot.
package binance

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fd1az/triarb/business/marketdata/domain"
)

// StreamEnvelope wraps every message on a combined stream.
type StreamEnvelope struct {
	Stream string            `json:"stream"`
	Data   PartialDepthEvent `json:"data"`
}

// PartialDepthEvent is a <symbol>@depthN payload. The symbol is not in the
// payload; it comes from the stream name.
type PartialDepthEvent struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// depthStreamName returns "<symbol>@depth<levels>@<speed>ms".
func depthStreamName(symbol string, levels, speedMs int) string {
	return strings.ToLower(symbol) + "@depth" + strconv.Itoa(levels) + "@" + strconv.Itoa(speedMs) + "ms"
}

// symbolFromStream extracts the upper-case symbol from a stream name.
func symbolFromStream(stream string) string {
	sym, _, _ := strings.Cut(stream, "@")
	return strings.ToUpper(sym)
}

// parseLevels converts [price, qty] string pairs. Zero quantities are dropped.
func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, r := range raw {
		if len(r) < 2 {
			continue
		}
		price, err := decimal.NewFromString(r[0])
		if err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(r[1])
		if err != nil {
			return nil, err
		}
		if qty.IsZero() {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}
