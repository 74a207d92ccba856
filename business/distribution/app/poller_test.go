package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/logger"
)

type fakeBooks struct {
	mu      sync.Mutex
	books   md.Books
	fetched [][]md.Pair
}

func (f *fakeBooks) OrderBook(_ context.Context, pair md.Pair) (*md.OrderBookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.books[pair]; ok {
		return b, nil
	}
	return nil, apperror.New(apperror.CodeDataUnavailable)
}

func (f *fakeBooks) FetchMany(_ context.Context, pairs []md.Pair) (md.Books, map[md.Pair]error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, pairs)
	out := md.Books{}
	errs := map[md.Pair]error{}
	for _, p := range pairs {
		if b, ok := f.books[p]; ok {
			out[p] = b
		} else {
			errs[p] = apperror.New(apperror.CodeDataUnavailable)
		}
	}
	return out, errs
}

func oneLevel(p md.Pair, bid, ask string) *md.OrderBookSnapshot {
	return md.NewOrderBookSnapshot(p,
		[]md.PriceLevel{{Price: decimal.RequireFromString(bid), Quantity: decimal.NewFromInt(1)}},
		[]md.PriceLevel{{Price: decimal.RequireFromString(ask), Quantity: decimal.NewFromInt(1)}},
		time.Now(), "fake")
}

func TestPollerTickFetchesSubscribedPairs(t *testing.T) {
	books := &fakeBooks{books: md.Books{ethUSDT: oneLevel(ethUSDT, "1999", "2000")}}
	r, _ := newTestRegistry(4)
	p := NewPoller(books, r, time.Second, logger.NewDiscard())

	assert.Equal(t, 0, p.Tick(context.Background()))
	assert.Empty(t, books.fetched, "nothing subscribed, nothing fetched")

	l := r.Add(ethUSDT, btcUSDT)
	assert.Equal(t, 1, p.Tick(context.Background()))
	require.Len(t, books.fetched, 1)
	assert.Equal(t, []md.Pair{btcUSDT, ethUSDT}, books.fetched[0])

	u := <-l.C()
	assert.Equal(t, ethUSDT, u.Pair)
	assert.True(t, u.Ask.Equal(decimal.RequireFromString("2000")))
}

func TestPollerTickSweepsBeforeFetching(t *testing.T) {
	books := &fakeBooks{books: md.Books{ethUSDT: oneLevel(ethUSDT, "1999", "2000")}}
	r, clock := newTestRegistry(4)
	p := NewPoller(books, r, time.Second, logger.NewDiscard())

	r.Add(ethUSDT)
	clock.Advance(time.Minute)

	assert.Equal(t, 0, p.Tick(context.Background()))
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, books.fetched)
}

func TestPollerStartStop(t *testing.T) {
	books := &fakeBooks{books: md.Books{ethUSDT: oneLevel(ethUSDT, "1999", "2000")}}
	r := NewRegistry(RegistryConfig{IdleTimeout: time.Minute, Buffer: 4}, logger.NewDiscard())
	p := NewPoller(books, r, 5*time.Millisecond, logger.NewDiscard())
	l := r.Add(ethUSDT)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))

	select {
	case u := <-l.C():
		assert.Equal(t, ethUSDT, u.Pair)
	case <-time.After(2 * time.Second):
		t.Fatal("no update from the poll loop")
	}
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
}
