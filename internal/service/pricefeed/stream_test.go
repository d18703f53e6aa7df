package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domrepo "SignalFlow/internal/domain/repository"
)

func markFrame(symbol, price string) string {
	return `{"stream":"` + strings.ToLower(symbol) + `@markPrice@1s","data":{"e":"markPriceUpdate","E":1700000000000,"s":"` +
		symbol + `","p":"` + price + `","i":"1","r":"0.0001","T":1700003600000}}`
}

// markServer sends one frame per connection, then closes the connection when
// closeAfter is set.
func markServer(t *testing.T, frames []string, closeAfter bool, conns *atomic.Int32) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stream", r.URL.Path)
		n := int(conns.Add(1))
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		if n <= len(frames) {
			_ = c.WriteMessage(websocket.TextMessage, []byte(frames[n-1]))
		}
		if closeAfter {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamURL(t *testing.T) {
	u := StreamURL("wss://fstream.binance.com/", []string{"BTCUSDT", "ETHUSDT"})
	assert.Equal(t, "wss://fstream.binance.com/stream?streams=btcusdt@markPrice@1s/ethusdt@markPrice@1s", u)
}

func TestStreamSourceServesLatestPrice(t *testing.T) {
	var conns atomic.Int32
	srv := markServer(t, []string{markFrame("BTCUSDT", "50123.5")}, false, &conns)
	defer srv.Close()

	s := NewStreamSource(StreamConfig{URL: wsURL(srv), Symbols: []string{"BTCUSDT"}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		p, err := s.Price(ctx, "BTCUSDT")
		return err == nil && p == 50123.5
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.IsConnected())

	_, err := s.Price(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, domrepo.ErrUnavailable)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
	assert.False(t, s.IsConnected())
}

func TestStreamSourceStalePriceUnavailable(t *testing.T) {
	s := NewStreamSource(StreamConfig{MaxAge: 5 * time.Second}, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	s.handle([]byte(markFrame("SOLUSDT", "142.1")))

	p, err := s.Price(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 142.1, p)

	now = now.Add(6 * time.Second)
	_, err = s.Price(context.Background(), "SOLUSDT")
	assert.ErrorIs(t, err, domrepo.ErrUnavailable)
}

func TestStreamSourceIgnoresOtherFrames(t *testing.T) {
	s := NewStreamSource(StreamConfig{}, nil)
	s.handle([]byte(`{"result":null,"id":1}`))
	s.handle([]byte(`not json`))
	s.handle([]byte(`{"stream":"x","data":{"e":"aggTrade","s":"BTCUSDT","p":"1"}}`))
	s.handle([]byte(markFrame("BTCUSDT", "0")))

	_, err := s.Price(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, domrepo.ErrUnavailable)
}

func TestStreamSourceReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := markServer(t, []string{markFrame("BTCUSDT", "100"), markFrame("BTCUSDT", "101")}, true, &conns)
	defer srv.Close()

	s := NewStreamSource(StreamConfig{
		URL:            wsURL(srv),
		Symbols:        []string{"BTCUSDT"},
		ReconnectDelay: 10 * time.Millisecond,
		MaxReconnect:   50 * time.Millisecond,
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		p, err := s.Price(ctx, "BTCUSDT")
		return err == nil && p == 101
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, int(conns.Load()), 2)
}
