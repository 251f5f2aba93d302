// Package game maintains the websocket connection to the game server and
// tracks the connection status the loader classifies.
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/metrics"
)

// Envelope types.
const (
	TypeHello     = "hello"
	TypeHeartbeat = "heartbeat"
	TypeBootstrap = "bootstrap"
	TypeEntity    = "entity"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hello is sent once after dialing.
type Hello struct {
	UserID domain.UserID `json:"userId"`
}

// BootstrapPayload carries the initial entity set.
type BootstrapPayload struct {
	Entities []uint64 `json:"entities"`
}

// EntityPayload adds or removes one entity.
type EntityPayload struct {
	ID      uint64 `json:"id"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Config holds game connection settings.
type Config struct {
	URL              string        `yaml:"url" env:"URL"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" env:"HEARTBEAT_TIMEOUT"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
}

// Dialer opens game connections.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewDialer creates a dialer.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With("component", "game"),
	}
}

// Open starts connecting in the background and returns immediately. The
// returned Conn reports "connecting" until the dial settles.
func (d *Dialer) Open(userID domain.UserID) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		logger:           d.logger,
		heartbeatTimeout: d.cfg.HeartbeatTimeout,
		cancel:           cancel,
		status:           domain.ConnectionConnecting,
		entities:         make(map[uint64]struct{}),
		bootstrappedCh:   make(chan struct{}),
		disconnectedCh:   make(chan struct{}),
	}
	c.publish(domain.ConnectionConnecting)

	c.wg.Add(1)
	go c.connect(ctx, d.dialer, d.cfg.URL, userID)
	return c
}

// Conn is one game session connection.
type Conn struct {
	logger           *slog.Logger
	heartbeatTimeout time.Duration
	cancel           context.CancelFunc
	wg               sync.WaitGroup

	mu            sync.RWMutex
	ws            *websocket.Conn
	status        domain.ConnectionStatus
	lastHeartbeat time.Time
	bootstrapped  bool
	entities      map[uint64]struct{}

	bootstrapOnce  sync.Once
	bootstrappedCh chan struct{}
	disconnectOnce sync.Once
	disconnectedCh chan struct{}
	closeOnce      sync.Once
}

func (c *Conn) connect(ctx context.Context, dialer *websocket.Dialer, url string, userID domain.UserID) {
	defer c.wg.Done()

	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.logger.Warn("game dial failed", "url", url, "error", err)
		c.markDisconnected()
		return
	}

	c.mu.Lock()
	if c.status == domain.ConnectionClosing {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()

	hello, err := json.Marshal(Hello{UserID: userID})
	if err != nil {
		c.logger.Error("marshal hello", "error", err)
		c.markDisconnected()
		return
	}
	if err := ws.WriteJSON(Envelope{Type: TypeHello, Payload: hello}); err != nil {
		c.logger.Warn("game hello failed", "error", err)
		c.markDisconnected()
		return
	}

	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
	c.setStatus(domain.ConnectionWaitingOnHeartbeat)

	c.wg.Add(1)
	go c.watchHeartbeat(ctx)
	c.readLoop(ws)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if c.Status() != domain.ConnectionClosing {
				c.logger.Warn("game connection lost", "error", err)
			}
			c.markDisconnected()
			return
		}
		c.handle(env)
	}
}

func (c *Conn) handle(env Envelope) {
	switch env.Type {
	case TypeHeartbeat:
		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		promote := c.status == domain.ConnectionWaitingOnHeartbeat || c.status == domain.ConnectionUnhealthy
		c.mu.Unlock()
		if promote {
			c.setStatus(domain.ConnectionReady)
		}

	case TypeBootstrap:
		var p BootstrapPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("bad bootstrap payload", "error", err)
			return
		}
		c.mu.Lock()
		for _, id := range p.Entities {
			c.entities[id] = struct{}{}
		}
		c.bootstrapped = true
		c.mu.Unlock()
		c.bootstrapOnce.Do(func() { close(c.bootstrappedCh) })

	case TypeEntity:
		var p EntityPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("bad entity payload", "error", err)
			return
		}
		c.mu.Lock()
		if p.Deleted {
			delete(c.entities, p.ID)
		} else {
			c.entities[p.ID] = struct{}{}
		}
		c.mu.Unlock()

	default:
		c.logger.Debug("ignoring game message", "type", env.Type)
	}
}

func (c *Conn) watchHeartbeat(ctx context.Context) {
	defer c.wg.Done()

	interval := c.heartbeatTimeout / 4
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.disconnectedCh:
			return
		case <-ticker.C:
			c.mu.RLock()
			status := c.status
			late := time.Since(c.lastHeartbeat) > c.heartbeatTimeout
			c.mu.RUnlock()

			if late && (status == domain.ConnectionReady || status == domain.ConnectionWaitingOnHeartbeat) {
				c.logger.Warn("game heartbeat overdue", "timeout", c.heartbeatTimeout)
				c.setStatus(domain.ConnectionUnhealthy)
			}
		}
	}
}

func (c *Conn) setStatus(s domain.ConnectionStatus) {
	c.mu.Lock()
	// Terminal states only move forward through Close or markDisconnected.
	if c.status == domain.ConnectionDisconnected ||
		(c.status == domain.ConnectionClosing && s != domain.ConnectionDisconnected) {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.publish(s)
}

func (c *Conn) markDisconnected() {
	c.disconnectOnce.Do(func() {
		c.mu.Lock()
		c.status = domain.ConnectionDisconnected
		c.mu.Unlock()
		c.publish(domain.ConnectionDisconnected)
		close(c.disconnectedCh)
	})
}

func (c *Conn) publish(s domain.ConnectionStatus) {
	for _, status := range domain.AllConnectionStatuses {
		v := 0.0
		if status == s {
			v = 1
		}
		metrics.ConnectionStatus.WithLabelValues(string(status)).Set(v)
	}
}

// Status returns the current connection status.
func (c *Conn) Status() domain.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Bootstrapped reports whether the initial entity set has arrived.
func (c *Conn) Bootstrapped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bootstrapped
}

// EntityCount returns how many entities are known.
func (c *Conn) EntityCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// HasEntity reports whether id is known.
func (c *Conn) HasEntity(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entities[id]
	return ok
}

// WaitBootstrapped blocks until the bootstrap message arrives, the
// connection drops, or ctx ends.
func (c *Conn) WaitBootstrapped(ctx context.Context) error {
	select {
	case <-c.bootstrappedCh:
		return nil
	case <-c.disconnectedCh:
		return domain.WrapError(domain.CodeBroken, "game connection closed before bootstrap", domain.ErrBroken)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setStatus(domain.ConnectionClosing)
		c.cancel()

		c.mu.RLock()
		ws := c.ws
		c.mu.RUnlock()

		if ws != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			if cerr := ws.Close(); cerr != nil {
				err = fmt.Errorf("close game connection: %w", cerr)
			}
		}

		c.wg.Wait()
		c.markDisconnected()
	})
	return err
}
