package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
)

const (
	TypeSignal    = "signal"
	TypeStatus    = "status"
	TypeConnected = "connected"
	TypeKeepalive = "keepalive"
	TypePong      = "pong"
)

// Message is the envelope for every server frame.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type Status struct {
	Metrics          map[string]float64 `json:"metrics"`
	ConnectedClients int                `json:"connected_clients"`
	OpenSignals      int                `json:"open_signals"`
	Goroutines       int                `json:"goroutines"`
	HeapAlloc        uint64             `json:"heap_alloc"`
}

// OpenCounter reports how many signals are currently tracked.
type OpenCounter interface {
	OpenCount() int
}

type Config struct {
	StatusInterval    time.Duration
	KeepaliveInterval time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	Version           string
}

type client struct {
	id        uint64
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub fans signals out to websocket subscribers. Every subscriber has a bounded
// outbound buffer and its own writer; a subscriber that falls behind is dropped.
type Hub struct {
	cfg      Config
	metrics  domrepo.Metrics
	open     OpenCounter
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[uint64]*client
	nextID  atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewHub(cfg Config, metrics domrepo.Metrics, open OpenCounter, log *logger.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 10 * time.Second
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Hub{
		cfg:     cfg,
		metrics: metrics,
		open:    open,
		log:     log.With(logger.String("component", "broadcast")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[uint64]*client),
		stop:    make(chan struct{}),
	}
}

func (h *Hub) Name() string { return "broadcast" }

func (h *Hub) OnSignal(s *models.Signal) { h.BroadcastSignal(s) }

// OnOutcome re-broadcasts the closed signal; clients tell it apart by its outcome field.
func (h *Hub) OnOutcome(s *models.Signal) { h.BroadcastSignal(s) }

// BroadcastSignal encodes s once and offers it to every subscriber.
func (h *Hub) BroadcastSignal(s *models.Signal) {
	b, err := encode(TypeSignal, s)
	if err != nil {
		h.metrics.RecordError("broadcast_encode")
		h.log.Error("encode signal", logger.String("signal_id", s.ID), logger.Error(err))
		return
	}
	h.broadcast(b)
}

func (h *Hub) broadcast(b []byte) {
	h.mu.RLock()
	var slow []*client
	for _, c := range h.clients {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.metrics.RecordError("broadcast_slow_client")
		h.log.Warn("subscriber buffer full, disconnecting", logger.Int64("client", int64(c.id)))
		h.remove(c)
	}
}

// ClientCount is the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.stop:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return
	}
	h.Register(conn)
}

// Register adds an already upgraded connection and greets it.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{
		id:   h.nextID.Add(1),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	if b, err := encode(TypeConnected, map[string]string{
		"message": "connected to signal stream",
		"version": h.cfg.Version,
	}); err == nil {
		c.send <- b
	}

	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.RecordSubscribers(n)
	h.log.Info("subscriber connected", logger.Int64("client", int64(c.id)), logger.Int("clients", n))

	h.wg.Add(2)
	go h.writer(c)
	go h.reader(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	c.shutdown()
	if ok {
		h.metrics.RecordSubscribers(n)
		h.log.Info("subscriber disconnected", logger.Int64("client", int64(c.id)), logger.Int("clients", n))
	}
}

func (h *Hub) writer(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	keepalive := time.NewTimer(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	write := func(b []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.log.Debug("subscriber write failed", logger.Int64("client", int64(c.id)), logger.Error(err))
			return false
		}
		if !keepalive.Stop() {
			select {
			case <-keepalive.C:
			default:
			}
		}
		keepalive.Reset(h.cfg.KeepaliveInterval)
		return true
	}

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case b := <-c.send:
			if !write(b) {
				h.remove(c)
				return
			}
		case <-keepalive.C:
			b, _ := encode(TypeKeepalive, nil)
			if !write(b) {
				h.remove(c)
				return
			}
		}
	}
}

type inbound struct {
	Type string `json:"type"`
}

// reader handles pings and notices disconnects. Everything else is ignored.
func (h *Hub) reader(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	c.conn.SetReadLimit(4096)
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in inbound
		if json.Unmarshal(b, &in) != nil || in.Type != "ping" {
			continue
		}
		pong, _ := encode(TypePong, nil)
		select {
		case c.send <- pong:
		case <-c.done:
			return
		default:
		}
	}
}

// Run sends the status message every StatusInterval until ctx is done or Close is called.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			b, err := encode(TypeStatus, h.Status())
			if err != nil {
				h.log.Error("encode status", logger.Error(err))
				continue
			}
			h.broadcast(b)
		}
	}
}

// Status collects the periodic status payload.
func (h *Hub) Status() Status {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st := Status{
		Metrics:          h.metrics.Snapshot(),
		ConnectedClients: h.ClientCount(),
		Goroutines:       runtime.NumGoroutine(),
		HeapAlloc:        ms.HeapAlloc,
	}
	if h.open != nil {
		st.OpenSignals = h.open.OpenCount()
	}
	return st
}

// Close disconnects every subscriber and waits for their goroutines.
func (h *Hub) Close(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.stop) })

	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.remove(c)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func encode(kind string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: kind, Data: data, Timestamp: time.Now().UTC()})
}
