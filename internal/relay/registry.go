package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"pwm-relay/internal/metrics"
)

var ErrRegistryClosed = errors.New("relay: registry closed")

// Registry is the set of currently connected clients.
type Registry struct {
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.RelayMetrics

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

func NewRegistry(writeTimeout time.Duration, logger *slog.Logger, m *metrics.RelayMetrics) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		writeTimeout: writeTimeout,
		logger:       logger,
		metrics:      m,
		clients:      make(map[*Client]struct{}),
	}
}

// Register adds c. Adding a client twice is a no-op. After CloseAll every
// registration fails with ErrRegistryClosed.
func (r *Registry) Register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	r.clients[c] = struct{}{}
	r.updateGaugeLocked()
	return nil
}

// Unregister removes c and reports whether it was present.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	r.updateGaugeLocked()
	return true
}

func (r *Registry) Contains(c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[c]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Registry) updateGaugeLocked() {
	if r.metrics != nil {
		r.metrics.ConnectedClients.Set(float64(len(r.clients)))
	}
}

func (r *Registry) peersExcept(sender *Client) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		if c != sender {
			peers = append(peers, c)
		}
	}
	return peers
}

// BroadcastExcept sends payload to every registered client except sender and
// returns how many sends succeeded. Sends run concurrently, each bounded by
// the registry write timeout. A client whose send fails is unregistered and
// closed; the others are unaffected.
func (r *Registry) BroadcastExcept(ctx context.Context, sender *Client, messageType int, payload []byte) int {
	peers := r.peersExcept(sender)
	if len(peers) == 0 {
		return 0
	}

	timeout := r.writeTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	var (
		g         errgroup.Group
		mu        sync.Mutex
		failed    []*Client
		delivered int
	)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			// A cancelled broadcast skips the send; the peer is not at fault.
			if ctx.Err() != nil {
				return nil
			}
			err := p.Send(messageType, payload, timeout)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, p)
				r.logger.Debug("fan-out send failed", "client", p.ID(), "error", err)
				return nil
			}
			delivered++
			return nil
		})
	}
	_ = g.Wait()

	if m := r.metrics; m != nil {
		m.FanoutSends.WithLabelValues("ok").Add(float64(delivered))
		m.FanoutSends.WithLabelValues("error").Add(float64(len(failed)))
	}
	for _, p := range failed {
		if r.Unregister(p) {
			r.logger.Info("dropping client after failed send", "client", p.ID(), "remote", p.RemoteAddr())
		}
		p.Close()
	}
	return delivered
}

// CloseAll sends a going-away close to every client, empties the registry
// and refuses further registrations.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	r.closed = true
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	clear(r.clients)
	r.updateGaugeLocked()
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.closeWith(websocket.CloseGoingAway, reason, r.writeTimeout)
		}(c)
	}
	wg.Wait()
}
