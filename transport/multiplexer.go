package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kabili207/meshroute/core"
)

// ErrNeighborNotConnected is returned by Multiplexer.SendToNeighbor when no
// member transport currently lists the given address as connected.
var ErrNeighborNotConnected = errors.New("transport: neighbor not connected")

// Compile-time interface check.
var _ Transport = (*Multiplexer)(nil)

// Multiplexer presents several concrete Transports (e.g. one MQTT bridge
// and one serial link) as a single Transport, so device/mesh.Node and the
// engines it wires up don't need to know how many physical links a node
// actually has.
type Multiplexer struct {
	members []Transport

	mu             sync.RWMutex
	payloadHandler PayloadHandler
	stateHandler   StateHandler
}

// NewMultiplexer wraps members as a single Transport.
func NewMultiplexer(members ...Transport) *Multiplexer {
	return &Multiplexer{members: members}
}

// Start starts every member transport concurrently, waits for every
// member's Start to return, and returns the first error, if any. Members
// that started are not stopped when another member fails.
func (m *Multiplexer) Start(ctx context.Context) error {
	var g errgroup.Group
	for _, t := range m.members {
		t := t
		t.SetPayloadHandler(m.dispatchPayload)
		t.SetStateHandler(m.dispatchState)
		g.Go(func() error { return t.Start(ctx) })
	}
	return g.Wait()
}

// Stop stops every member transport, collecting any errors.
func (m *Multiplexer) Stop() error {
	var errs []error
	for _, t := range m.members {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsConnected reports whether at least one member transport is connected.
func (m *Multiplexer) IsConnected() bool {
	for _, t := range m.members {
		if t.IsConnected() {
			return true
		}
	}
	return false
}

// ConnectedNeighbors returns the union of every member's connected
// neighbors.
func (m *Multiplexer) ConnectedNeighbors() []core.Address {
	seen := make(map[core.Address]struct{})
	var out []core.Address
	for _, t := range m.members {
		for _, addr := range t.ConnectedNeighbors() {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// SendToNeighbor dispatches payload through whichever member transport
// currently reports neighbor as connected.
func (m *Multiplexer) SendToNeighbor(ctx context.Context, neighbor core.Address, payload []byte) (uint64, error) {
	for _, t := range m.members {
		for _, addr := range t.ConnectedNeighbors() {
			if addr == neighbor {
				return t.SendToNeighbor(ctx, neighbor, payload)
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNeighborNotConnected, neighbor)
}

// SetPayloadHandler sets the callback invoked for inbound payloads from
// any member transport.
func (m *Multiplexer) SetPayloadHandler(fn PayloadHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloadHandler = fn
}

// SetStateHandler sets the callback invoked for state changes on any
// member transport.
func (m *Multiplexer) SetStateHandler(fn StateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateHandler = fn
}

func (m *Multiplexer) dispatchPayload(sender core.Address, payload []byte, payloadID uint64) {
	m.mu.RLock()
	fn := m.payloadHandler
	m.mu.RUnlock()
	if fn != nil {
		fn(sender, payload, payloadID)
	}
}

func (m *Multiplexer) dispatchState(t Transport, event Event) {
	m.mu.RLock()
	fn := m.stateHandler
	m.mu.RUnlock()
	if fn != nil {
		fn(t, event)
	}
}
