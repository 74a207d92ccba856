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
	"github.com/fd1az/triarb/internal/logger"
)

var (
	ethUSDT = md.NewPair("ETH", "USDT")
	btcUSDT = md.NewPair("BTC", "USDT")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(buffer int) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(RegistryConfig{IdleTimeout: 10 * time.Second, Buffer: buffer}, logger.NewDiscard())
	r.now = clock.Now
	return r, clock
}

func update(p md.Pair, bid string) Update {
	return Update{Pair: p, Bid: decimal.RequireFromString(bid)}
}

func TestRegistryBroadcastRoutesByPair(t *testing.T) {
	r, _ := newTestRegistry(4)
	eth := r.Add(ethUSDT)
	both := r.Add(ethUSDT, btcUSDT)

	assert.Equal(t, 2, r.Broadcast(context.Background(), update(ethUSDT, "2000")))
	assert.Equal(t, 1, r.Broadcast(context.Background(), update(btcUSDT, "39000")))

	assert.Len(t, eth.C(), 1)
	assert.Len(t, both.C(), 2)
	assert.Equal(t, []md.Pair{btcUSDT, ethUSDT}, r.Pairs())
}

func TestRegistryBroadcastDoesNotBlockOnFullListener(t *testing.T) {
	r, _ := newTestRegistry(1)
	slow := r.Add(ethUSDT)
	fast := r.Add(ethUSDT)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			r.Broadcast(context.Background(), update(ethUSDT, "2000"))
			<-fast.C()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a listener that never reads")
	}
	assert.Equal(t, 4, slow.Missed())
	assert.Equal(t, 0, fast.Missed())
}

func TestRegistryRemoveClosesChannel(t *testing.T) {
	r, _ := newTestRegistry(4)
	l := r.Add(ethUSDT)

	r.Remove(l.ID)
	r.Remove(l.ID)

	_, open := <-l.C()
	assert.False(t, open)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Broadcast(context.Background(), update(ethUSDT, "2000")))
}

func TestRegistrySweepDropsIdleListeners(t *testing.T) {
	r, clock := newTestRegistry(4)
	idle := r.Add(ethUSDT)
	alive := r.Add(ethUSDT)

	clock.Advance(8 * time.Second)
	r.Touch(alive.ID)
	clock.Advance(5 * time.Second)

	dropped := r.Sweep(context.Background())
	assert.Equal(t, []string{idle.ID}, dropped)
	assert.Equal(t, 1, r.Len())

	_, open := <-idle.C()
	assert.False(t, open)
	assert.Equal(t, 1, r.Broadcast(context.Background(), update(ethUSDT, "2000")))
}

func TestRegistrySubscribeAndUnsubscribe(t *testing.T) {
	r, _ := newTestRegistry(4)
	l := r.Add()
	assert.Empty(t, r.Pairs())

	require.True(t, r.Subscribe(l.ID, ethUSDT, btcUSDT))
	assert.Len(t, r.Pairs(), 2)

	require.True(t, r.Unsubscribe(l.ID, ethUSDT))
	assert.Equal(t, []md.Pair{btcUSDT}, r.Pairs())
	assert.Equal(t, 0, r.Broadcast(context.Background(), update(ethUSDT, "2000")))

	assert.False(t, r.Subscribe("missing", ethUSDT))
}

func TestRegistryConcurrentAddRemoveBroadcast(t *testing.T) {
	r, _ := newTestRegistry(2)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l := r.Add(ethUSDT)
				r.Remove(l.ID)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Broadcast(context.Background(), update(ethUSDT, "2000"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestUpdateFromBook(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	book := md.NewOrderBookSnapshot(ethUSDT,
		[]md.PriceLevel{{Price: decimal.RequireFromString("1999"), Quantity: decimal.RequireFromString("2")}},
		[]md.PriceLevel{{Price: decimal.RequireFromString("2000"), Quantity: decimal.RequireFromString("3")}},
		ts, "paper")

	u, ok := UpdateFromBook(book)
	require.True(t, ok)
	assert.True(t, u.Bid.Equal(decimal.RequireFromString("1999")))
	assert.True(t, u.AskSize.Equal(decimal.RequireFromString("3")))
	assert.Equal(t, "paper", u.Source)

	_, ok = UpdateFromBook(md.NewOrderBookSnapshot(ethUSDT, nil, nil, ts, "paper"))
	assert.False(t, ok)
}
