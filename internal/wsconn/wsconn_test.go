package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(context.Background()); err != nil {
			return
		}
	}
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	cfg := DefaultConfig(url, "test")
	cfg.PingInterval = 0
	cfg.AutoReconnect = false
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnectReportsStates(t *testing.T) {
	c := newClient(t, newServer(t, drain))

	var mu sync.Mutex
	var states []State
	c.OnStateChange(func(s State, _ error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	assert.True(t, c.IsConnected())
	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateConnected}, states[:2])
	mu.Unlock()
}

func TestConnectFailureLeavesDisconnected(t *testing.T) {
	c := newClient(t, "ws://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, c.Connect(ctx))
	assert.Equal(t, StateDisconnected, c.State())
}

func TestEchoDeliversToHandler(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		for {
			typ, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			if err := conn.Write(context.Background(), typ, data); err != nil {
				return
			}
		}
	})
	c := newClient(t, url)

	got := make(chan []byte, 1)
	c.OnMessage(func(_ context.Context, msg []byte) { got <- msg })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.SendJSON(ctx, map[string]string{"op": "subscribe", "pair": "ETHUSDT"}))

	select {
	case msg := <-got:
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(msg, &decoded))
		assert.Equal(t, "ETHUSDT", decoded["pair"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for echo")
	}
}

func TestConcurrentSendIsSerialized(t *testing.T) {
	var count atomic.Int32
	url := newServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
			count.Add(1)
		}
	})
	c := newClient(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				assert.NoError(t, c.SendJSON(ctx, map[string]int{"g": id, "m": j}))
			}
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return count.Load() == 40 }, 2*time.Second, 10*time.Millisecond)
}

func TestOversizedMessageDropsConnection(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		_ = conn.Write(context.Background(), websocket.MessageText, []byte(strings.Repeat("A", 4096)))
		drain(conn)
	})
	cfg := DefaultConfig(url, "test")
	cfg.PingInterval = 0
	cfg.AutoReconnect = false
	cfg.MaxMessageSize = 100
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	assert.Eventually(t, func() bool { return c.State() == StateDisconnected }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newClient(t, newServer(t, drain))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	assert.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.NoError(t, c.Close())
	assert.Error(t, c.Send(ctx, []byte("x")))
}
