package report

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lightmeter/internal/sampling"
)

// Stream frames are JSON text messages wrapped in an Envelope. A client gets
// one EventStateInit carrying the full snapshot on connect, then an
// EventSample each time the broadcaster sees the snapshot change. A client
// whose queue fills up is dropped.
const (
	EventStateInit = "state_init"
	EventSample    = "sample"
)

// SampleData is the `data` payload of a "sample" event.
type SampleData struct {
	Voltage  float64 `json:"voltage"`
	Dips     int     `json:"dips"`
	Capacity int     `json:"capacity"`
	Count    int     `json:"count"`
}

// Envelope is the wire format envelope for stream messages.
type Envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encodeEnvelope(typ string, ts time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(Envelope{Type: typ, Ts: &ts, Data: raw})
}

// Hub fans frames out to the connected stream clients.
type Hub struct {
	logger  *slog.Logger
	metrics *Metrics

	broadcast  chan []byte // encoded frames
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	// done is closed when Run returns. lifecycle orders join against
	// shutdown: once stopped is set no client can enter register.
	done      chan struct{}
	lifecycle sync.RWMutex
	stopped   bool

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. Zero selects a default.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size. Zero selects a
	// default.
	BroadcastBuf int

	// Metrics, if set, tracks the number of connected clients.
	Metrics *Metrics
}

// NewHub returns a hub that does nothing until Run is called.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	queue := cfg.BroadcastBuf
	if queue <= 0 {
		queue = 128
	}

	return &Hub{
		logger:     logger,
		metrics:    cfg.Metrics,
		broadcast:  make(chan []byte, queue),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("stream hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("stream hub stopping")
			h.shutdown()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.ClientConnected()
			h.logger.Info("stream client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.evict(c, "unregister")

		case frame := <-h.broadcast:
			for _, c := range h.fanOut(frame) {
				h.evict(c, "slow_client")
			}
		}
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// fanOut queues frame on every client and returns the ones whose queue was
// full.
func (h *Hub) fanOut(frame []byte) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	var full []*Client
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			full = append(full, c)
		}
	}
	return full
}

// join hands c to Run. It returns false once the hub has stopped, and never
// blocks past shutdown.
func (h *Hub) join(c *Client) bool {
	h.lifecycle.RLock()
	defer h.lifecycle.RUnlock()
	if h.stopped {
		return false
	}
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave asks Run to drop c. After shutdown it returns immediately.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// shutdown releases blocked join/leave callers, waits for in-flight joins,
// then closes every client, including those still queued in register.
func (h *Hub) shutdown() {
	close(h.done)

	h.lifecycle.Lock()
	h.stopped = true
	h.lifecycle.Unlock()

	h.disconnectAll()
	for {
		select {
		case c := <-h.register:
			if c.conn != nil {
				_ = c.conn.Close()
			}
			c.closeSend()
		default:
			return
		}
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
		h.metrics.ClientDisconnected()
	}
}

func (h *Hub) evict(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.closeSend()
	h.metrics.ClientDisconnected()

	h.logger.Info("stream client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// Publish queues an encoded frame for every client. A full hub queue drops
// the frame rather than blocking the caller.
func (h *Hub) Publish(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("stream frame dropped, hub queue full", "bytes", len(frame))
	}
}

// Client is one websocket connection of the stream.
type Client struct {
	hub *Hub

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuf),
		remoteAddr: remoteAddr,
		logger:     hub.logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		c.logger.Debug("stream "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", closeErr.Code, "reason", closeErr.Text)
		return
	}
	c.logger.Debug("stream "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains send into the connection and keeps it alive with pings.
// A closed send channel means the hub dropped the client.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound frames to detect disconnects and handle control
// frames, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.leave(c)
			}
			return
		}
	}
}

const DefaultStreamInterval = 250 * time.Millisecond

type StreamConfig struct {
	Hub HubConfig

	// Interval is how often the broadcaster polls the snapshot source.
	Interval time.Duration
}

// Stream serves the websocket state stream for one snapshot source.
type Stream struct {
	logger   *slog.Logger
	hub      *Hub
	src      SnapshotSource
	interval time.Duration
}

// NewStream constructs the stream components. Mount it as an http.Handler
// and call Run(ctx).
func NewStream(logger *slog.Logger, src SnapshotSource, cfg StreamConfig) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &Stream{
		logger:   logger,
		hub:      NewHub(logger, cfg.Hub),
		src:      src,
		interval: interval,
	}
}

func (s *Stream) Hub() *Hub { return s.hub }

// Run runs the hub and the broadcaster until ctx is canceled.
func (s *Stream) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()
	RunBroadcaster(ctx, s.hub, s.src, s.interval, s.logger)
	wg.Wait()
	return nil
}

// The stream is read-only, so any origin may subscribe.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeHTTP upgrades and registers a client, then queues state_init.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, ws, r.RemoteAddr)

	// Queue state_init before registering so it is always the first frame.
	snap := s.src.Snapshot()
	initMsg, err := encodeEnvelope(EventStateInit, snap.At, snap)
	if err != nil {
		s.logger.Warn("stream state_init marshal failed", "error", err)
		_ = ws.Close()
		return
	}
	client.send <- initMsg

	if !s.hub.join(client) {
		_ = ws.Close()
		return
	}

	// The pumps must outlive the request: net/http cancels r.Context() when
	// the handler returns. The hub and websocket errors end them instead.
	go client.writePump()
	go client.readPump()
}

// RunBroadcaster polls src every interval and broadcasts a "sample" event
// whenever the snapshot changed. It returns when ctx is canceled. Intended to
// run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src SnapshotSource, interval time.Duration, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last sampling.Snapshot
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			snap := src.Snapshot()
			if !snap.HasVoltage || sameSnapshot(last, snap) {
				continue
			}
			last = snap

			msg, err := encodeEnvelope(EventSample, snap.At, SampleData{
				Voltage:  snap.Voltage,
				Dips:     snap.Dips,
				Capacity: snap.Capacity,
				Count:    snap.Count,
			})
			if err != nil {
				logger.Warn("stream broadcaster marshal failed", "error", err)
				continue
			}
			hub.Publish(msg)
		}
	}
}

func sameSnapshot(a, b sampling.Snapshot) bool {
	return a.HasVoltage == b.HasVoltage &&
		a.Voltage == b.Voltage &&
		a.Dips == b.Dips &&
		a.Capacity == b.Capacity &&
		a.Count == b.Count &&
		a.At.Equal(b.At)
}
