package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
	"SignalFlow/pkg/util"
)

// StreamConfig configures the mark price websocket.
type StreamConfig struct {
	URL            string // base, e.g. wss://fstream.binance.com
	Symbols        []string
	MaxAge         time.Duration
	ReconnectDelay time.Duration
	MaxReconnect   time.Duration
	PingInterval   time.Duration
}

type quote struct {
	price float64
	at    time.Time
}

// StreamSource subscribes to <symbol>@markPrice@1s on the combined stream endpoint
// and serves the latest price per symbol. Prices older than MaxAge are unavailable.
type StreamSource struct {
	cfg StreamConfig
	log *logger.Logger
	now func() time.Time

	mu     sync.RWMutex
	quotes map[string]quote

	connMu    sync.Mutex
	connected bool
}

func NewStreamSource(cfg StreamConfig, log *logger.Logger) *StreamSource {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnect < cfg.ReconnectDelay {
		cfg.MaxReconnect = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &StreamSource{
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		quotes: make(map[string]quote),
	}
}

var _ domrepo.PriceSource = (*StreamSource)(nil)

func (s *StreamSource) Name() string { return "stream" }

// SetClock overrides time.Now.
func (s *StreamSource) SetClock(now func() time.Time) { s.now = now }

func (s *StreamSource) Price(_ context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	q, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if !ok || q.price <= 0 || s.now().Sub(q.at) > s.cfg.MaxAge {
		return 0, domrepo.ErrUnavailable
	}
	return q.price, nil
}

// IsConnected reports whether a stream connection is currently open.
func (s *StreamSource) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connected
}

// StreamURL builds the combined stream URL for symbols.
func StreamURL(base string, symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(sym)+"@markPrice@1s")
	}
	return strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

// Run keeps a connection open until ctx is done, reconnecting with backoff
// that grows by half each failure.
func (s *StreamSource) Run(ctx context.Context) {
	delay := s.cfg.ReconnectDelay
	for {
		connectedAt := s.now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if s.now().Sub(connectedAt) > s.cfg.MaxReconnect {
			delay = s.cfg.ReconnectDelay
		}
		s.log.Warn("mark price stream lost",
			logger.Error(err),
			logger.Duration("retry_in_ms", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = delay * 3 / 2
		if delay > s.cfg.MaxReconnect {
			delay = s.cfg.MaxReconnect
		}
	}
}

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type markPriceUpdate struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"` // ms
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

func (s *StreamSource) session(ctx context.Context) error {
	url := StreamURL(s.cfg.URL, s.cfg.Symbols)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("mark price connect: %w", err)
	}
	s.setConnected(true)
	defer s.setConnected(false)
	s.log.Info("mark price stream connected", logger.Int("symbols", len(s.cfg.Symbols)))

	done := make(chan struct{})
	defer close(done)
	var writeMu sync.Mutex

	// ping loop
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				writeMu.Unlock()
				_ = conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				writeMu.Unlock()
			}
		}
	}()

	defer conn.Close()
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("mark price read: %w", err)
		}
		s.handle(b)
	}
}

func (s *StreamSource) handle(b []byte) {
	var f combinedFrame
	if err := json.Unmarshal(b, &f); err != nil || len(f.Data) == 0 {
		// ignore non-data frames
		return
	}
	var u markPriceUpdate
	if err := json.Unmarshal(f.Data, &u); err != nil || u.Event != "markPriceUpdate" {
		return
	}
	p, ok := positive(u.MarkPrice)
	if !ok {
		return
	}
	s.mu.Lock()
	s.quotes[util.NormalizeSymbol(u.Symbol)] = quote{price: p, at: s.now()}
	s.mu.Unlock()
}

func (s *StreamSource) setConnected(v bool) {
	s.connMu.Lock()
	s.connected = v
	s.connMu.Unlock()
}
