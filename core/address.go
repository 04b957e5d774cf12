// Package core defines the domain types shared by the mesh routing
// subsystem: addresses, local node identifiers, routes, and in-flight
// discovery bookkeeping. It has no dependencies on storage, transport, or
// crypto — those are consumed through interfaces defined closer to where
// they're used.
package core

import "fmt"

// Address is an opaque, stable identifier for a peer at the application
// layer. It is the recipient handle passed to both the crypto and the
// transport contracts (see GLOSSARY). Addresses are never interpreted by
// the core beyond equality comparison.
type Address string

// String returns the address as a plain string.
func (a Address) String() string {
	return string(a)
}

// LocalID is a node-local numeric identifier assigned the first time an
// address is seen. LocalIDs are never reused across nodes and are never
// transmitted on the wire; they exist only to give storage rows a compact,
// stable foreign key instead of repeating the address string everywhere.
type LocalID uint64

// String renders a LocalID for logging.
func (l LocalID) String() string {
	return fmt.Sprintf("#%d", uint64(l))
}

// Node is the minimal reference to a peer from the local node's
// perspective. Nodes are created lazily on first sighting of an address
// and are never deleted by the core.
type Node struct {
	LocalID LocalID
	Address Address
}
