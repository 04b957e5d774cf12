package discovery

import "github.com/kabili207/meshroute/core/store"

// InitiateResultKind tags the outcome of InitiateDiscovery.
type InitiateResultKind int

const (
	// InitiateFound means a usable RouteEntry already existed; no network
	// traffic was generated.
	InitiateFound InitiateResultKind = iota
	// InitiateInitiated means a fresh RouteRequest was broadcast to
	// Branches neighbors and the caller should await on_route_found or
	// on_route_not_found.
	InitiateInitiated
	// InitiateNoNeighbors means no neighbor accepted the broadcast (none
	// were connected, or every dispatch attempt failed); no request state
	// was left behind.
	InitiateNoNeighbors
)

// InitiateResult is the tagged-union result of InitiateDiscovery (spec
// §4.1: `Found(route) | Initiated(branches:u32) | NoNeighbors`).
type InitiateResult struct {
	Kind     InitiateResultKind
	Route    store.RouteEntry
	Branches uint32
}
