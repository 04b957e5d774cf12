package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/meshroute/core"
)

const (
	// DefaultKeepAliveInterval is the expected interval between keep-alive
	// signals from a neighbor (a received payload of any kind counts).
	DefaultKeepAliveInterval = 30 * time.Second

	// DefaultTimeoutMultiplier is applied to KeepAliveInterval to determine
	// when a neighbor is considered disconnected.
	DefaultTimeoutMultiplier = 2.5

	checkInterval = time.Second
)

// neighborState tracks one neighbor's last-seen activity.
type neighborState struct {
	address  core.Address
	lastSeen time.Time
}

// NeighborTrackerConfig configures a NeighborTracker.
type NeighborTrackerConfig struct {
	// KeepAliveInterval is the expected interval between signals from a
	// live neighbor. Default: 30 seconds.
	KeepAliveInterval time.Duration

	// TimeoutMultiplier is applied to KeepAliveInterval to determine when a
	// neighbor is considered disconnected. Default: 2.5.
	TimeoutMultiplier float64

	// Logger for neighbor lifecycle events. Falls back to slog.Default().
	Logger *slog.Logger
}

// NeighborTracker maintains the set of currently connected neighbors for a
// Transport, backing ConnectedNeighbors() and firing a disconnect callback
// on keep-alive timeout. transport/mqtt owns one and calls Register for
// each configured neighbor at Start and for the sender of every inbound
// payload. A timed-out neighbor drops out of ConnectedNeighbors, which the
// forwarding engine checks to invalidate routes whose next hop dropped
// (spec.md §4.2); the disconnect callback is not set by that engine.
type NeighborTracker struct {
	cfg          NeighborTrackerConfig
	log          *slog.Logger
	mu           sync.Mutex
	neighbors    map[core.Address]*neighborState
	onDisconnect func(addr core.Address)
	cancel       context.CancelFunc
	nowFn        func() time.Time
}

// NewNeighborTracker creates a neighbor tracker with the given configuration.
func NewNeighborTracker(cfg NeighborTrackerConfig) *NeighborTracker {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.TimeoutMultiplier <= 0 {
		cfg.TimeoutMultiplier = DefaultTimeoutMultiplier
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &NeighborTracker{
		cfg:       cfg,
		log:       logger.WithGroup("neighbor_tracker"),
		neighbors: make(map[core.Address]*neighborState),
		nowFn:     time.Now,
	}
}

// SetOnDisconnect sets the callback invoked when a neighbor times out.
func (t *NeighborTracker) SetOnDisconnect(fn func(addr core.Address)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

// Register adds or refreshes a neighbor.
func (t *NeighborTracker) Register(addr core.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.neighbors[addr] = &neighborState{address: addr, lastSeen: t.nowFn()}
}

// Touch refreshes a neighbor's last-seen time. No-op if untracked.
func (t *NeighborTracker) Touch(addr core.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.neighbors[addr]; ok {
		n.lastSeen = t.nowFn()
	}
}

// Remove explicitly drops a neighbor without firing the disconnect callback.
func (t *NeighborTracker) Remove(addr core.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.neighbors, addr)
}

// IsConnected reports whether addr is currently tracked as connected.
func (t *NeighborTracker) IsConnected(addr core.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.neighbors[addr]
	return ok
}

// ConnectedNeighbors returns every currently tracked address.
func (t *NeighborTracker) ConnectedNeighbors() []core.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.Address, 0, len(t.neighbors))
	for addr := range t.neighbors {
		out = append(out, addr)
	}
	return out
}

// CheckTimeouts removes neighbors that exceeded the keep-alive timeout and
// fires the disconnect callback for each, outside the lock.
func (t *NeighborTracker) CheckTimeouts() {
	t.mu.Lock()
	now := t.nowFn()
	timeout := time.Duration(float64(t.cfg.KeepAliveInterval) * t.cfg.TimeoutMultiplier)

	var disconnected []core.Address
	for addr, n := range t.neighbors {
		if now.Sub(n.lastSeen) > timeout {
			disconnected = append(disconnected, addr)
		}
	}
	for _, addr := range disconnected {
		delete(t.neighbors, addr)
	}
	onDisconnect := t.onDisconnect
	t.mu.Unlock()

	if onDisconnect != nil {
		for _, addr := range disconnected {
			t.log.Debug("neighbor timed out", "address", addr)
			onDisconnect(addr)
		}
	}
}

// Start runs the periodic timeout check loop until ctx is cancelled.
func (t *NeighborTracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckTimeouts()
		}
	}
}

// Stop cancels the timeout check loop.
func (t *NeighborTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
