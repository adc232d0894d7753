// Package relay accepts WebSocket peers, stores each numeric message as the
// current setpoint and fans it out verbatim to every other peer.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pwm-relay/internal/metrics"
)

// SetpointStore receives every valid inbound value.
type SetpointStore interface {
	Store(v float64)
}

type Config struct {
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	// PingInterval <= 0 disables keepalive pings and read deadlines.
	PingInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.RelayMetrics
}

// Relay is an http.Handler that upgrades each request to a WebSocket and
// runs its receive loop until the peer goes away.
type Relay struct {
	cfg      Config
	store    SetpointStore
	registry *Registry
	upgrader websocket.Upgrader
}

func New(cfg Config, store SetpointStore) *Relay {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{
		cfg:      cfg,
		store:    store,
		registry: NewRegistry(cfg.WriteTimeout, cfg.Logger, cfg.Metrics),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// No client authentication: any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (rl *Relay) Registry() *Registry { return rl.registry }

// Shutdown closes every connected client with a going-away frame and
// rejects new ones. It is meant for http.Server.RegisterOnShutdown, since
// hijacked connections are not tracked by the server.
func (rl *Relay) Shutdown() {
	rl.registry.CloseAll("server shutting down")
}

// ParseSetpoint parses a message body as a finite decimal number.
func ParseSetpoint(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	// ParseFloat also takes hex floats; setpoints are decimal only.
	if digits := strings.TrimLeft(s, "+-"); strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		return 0, fmt.Errorf("relay: not a decimal number: %q", s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("relay: not a number: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("relay: not a finite number: %q", s)
	}
	return v, nil
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		rl.cfg.Logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, r.RemoteAddr)
	if err := rl.registry.Register(c); err != nil {
		c.closeWith(websocket.CloseGoingAway, "server shutting down", rl.cfg.WriteTimeout)
		return
	}
	log := rl.cfg.Logger.With("client", c.ID(), "remote", c.RemoteAddr())
	log.Info("client connected", "clients", rl.registry.Len())

	defer func() {
		rl.registry.Unregister(c)
		c.Close()
		log.Info("client disconnected", "clients", rl.registry.Len())
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if rl.cfg.PingInterval > 0 {
		go rl.keepalive(ctx, c)
	}

	rl.receive(ctx, c, log)
}

func (rl *Relay) receive(ctx context.Context, c *Client, log *slog.Logger) {
	conn := c.conn
	conn.SetReadLimit(rl.cfg.MaxMessageBytes)
	if rl.cfg.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * rl.cfg.PingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * rl.cfg.PingInterval))
		})
	}

	for {
		messageType, msg, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent 1009 (message too big).
				log.Warn("message too large, closing connection", "limit", rl.cfg.MaxMessageBytes)
				if m := rl.cfg.Metrics; m != nil {
					m.MessagesRejected.Inc()
				}
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Debug("read failed", "error", err)
			}
			return
		}

		v, err := ParseSetpoint(msg)
		if err != nil {
			log.Warn("malformed setpoint, closing connection", "error", err)
			if m := rl.cfg.Metrics; m != nil {
				m.MessagesRejected.Inc()
			}
			c.closeWith(websocket.CloseInvalidFramePayloadData, "setpoint must be a decimal number", rl.cfg.WriteTimeout)
			return
		}

		rl.store.Store(v)
		if m := rl.cfg.Metrics; m != nil {
			m.MessagesReceived.Inc()
		}
		log.Info("received setpoint", "value", v)

		delivered := rl.registry.BroadcastExcept(ctx, c, messageType, msg)
		log.Debug("setpoint relayed", "peers", delivered)
	}
}

func (rl *Relay) keepalive(ctx context.Context, c *Client) {
	t := time.NewTicker(rl.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.ping(rl.cfg.WriteTimeout); err != nil {
				// The read side will notice the dead socket.
				c.Close()
				return
			}
		}
	}
}
