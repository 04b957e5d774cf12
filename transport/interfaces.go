// Package transport defines the neighbor-link contract the routing core
// consumes (spec.md §6, "Transport contract"), plus two concrete adapters:
// transport/mqtt and transport/serial.
//
// A node typically runs more than one Transport at once (e.g. an MQTT
// bridge and a serial radio link); Multiplexer presents them to
// device/mesh.Node as one Transport and dispatches a send by picking
// whichever member currently lists the target address as connected.
package transport

import (
	"context"

	"github.com/kabili207/meshroute/core"
)

// Transport is the neighbor-link abstraction: connection lifecycle plus
// reliable byte-payload delivery to directly connected neighbors. Framing,
// retries, and reconnection are entirely the transport's concern; the core
// never inspects payload bytes below the hop-encrypted envelope.
type Transport interface {
	// Start begins the transport's connection and message handling. The
	// provided context controls the transport's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the transport.
	Stop() error
	// IsConnected returns true if the transport itself is currently up
	// (distinct from any individual neighbor being reachable through it).
	IsConnected() bool
	// ConnectedNeighbors lists addresses currently reachable in one hop
	// through this transport.
	ConnectedNeighbors() []core.Address
	// SendToNeighbor hands a hop-encrypted payload to a directly connected
	// neighbor. The returned payload id is transport-assigned and stable
	// for the lifetime of this send; it is surfaced to the final
	// destination as transport_payload_id when the message carries no
	// payload id of its own (spec.md §4.2).
	SendToNeighbor(ctx context.Context, neighbor core.Address, payload []byte) (payloadID uint64, err error)
	// SetPayloadHandler sets the callback for inbound payloads.
	SetPayloadHandler(fn PayloadHandler)
	// SetStateHandler sets the callback for transport state changes.
	SetStateHandler(fn StateHandler)
}

// PayloadHandler is called for every inbound payload, before any routing
// decode: (sender_address, hop_ciphertext_bytes, transport_payload_id).
type PayloadHandler func(sender core.Address, payload []byte, payloadID uint64)

// StateHandler is called when a transport's connection state changes.
type StateHandler func(t Transport, event Event)

// Event represents transport connection state changes.
type Event int

const (
	// EventConnected is fired when the transport connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the transport disconnects.
	EventDisconnected
	// EventReconnecting is fired when the transport is attempting to reconnect.
	EventReconnecting
	// EventError is fired when an error occurs.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}
