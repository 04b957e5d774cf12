package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/kabili207/meshroute/core"
)

// ErrNotFound is returned by single-row lookups that find no matching row.
// Callers treat it the same as a nil/zero-value result; it exists so
// implementations can distinguish "absent" from a real storage error.
var ErrNotFound = errors.New("store: not found")

// RouteTable is the persistent repository backing C1. Implementations must
// treat DeleteRouteCascade as atomic with respect to its RouteUsage rows.
type RouteTable interface {
	// InsertRoute persists a new RouteEntry.
	InsertRoute(route RouteEntry) error

	// GetMostRecentOpenedRoute returns the most recently discovered
	// RouteEntry with Opened=true for destination, or ErrNotFound if none
	// exists.
	GetMostRecentOpenedRoute(destination core.LocalID) (RouteEntry, error)

	// DeleteRouteCascade deletes the RouteEntry and every RouteUsage that
	// references it.
	DeleteRouteCascade(discoveryUUID uuid.UUID) error

	// InsertUsage persists a new RouteUsage.
	InsertUsage(usage RouteUsage) error

	// TouchUsage refreshes LastUsedTimestamp on an existing RouteUsage.
	TouchUsage(usageUUID uuid.UUID, now int64) error

	// GetMostRecentUsage returns the most recent RouteUsage for the route
	// currently opened to destination, or ErrNotFound if none exists.
	GetMostRecentUsage(destination core.LocalID) (RouteUsage, error)
}

// DiscoveryStore is the persistent repository backing C2.
type DiscoveryStore interface {
	// InsertRequest persists a new RouteRequestEntry.
	InsertRequest(entry RouteRequestEntry) error

	// GetRequest returns the RouteRequestEntry for uuid, or ErrNotFound.
	GetRequest(requestUUID uuid.UUID) (RouteRequestEntry, error)

	// DeleteRequest deletes the RouteRequestEntry and cascades to every
	// BroadcastStatusEntry sharing requestUUID.
	DeleteRequest(requestUUID uuid.UUID) error

	// InsertBroadcastStatus persists a new BroadcastStatusEntry.
	InsertBroadcastStatus(entry BroadcastStatusEntry) error

	// UpdateBroadcastStatus overwrites an existing BroadcastStatusEntry.
	UpdateBroadcastStatus(entry BroadcastStatusEntry) error

	// GetBroadcastStatus returns the entry for (requestUUID, neighbor), or
	// ErrNotFound.
	GetBroadcastStatus(requestUUID uuid.UUID, neighbor core.LocalID) (BroadcastStatusEntry, error)

	// DeleteBroadcastStatus removes a single branch entry.
	DeleteBroadcastStatus(requestUUID uuid.UUID, neighbor core.LocalID) error

	// DeleteAllBroadcastStatuses removes every branch entry for requestUUID.
	DeleteAllBroadcastStatuses(requestUUID uuid.UUID) error

	// AnyBroadcastStatusWithPending reports whether any BroadcastStatusEntry
	// for requestUUID has PendingResponseInProgress == flag.
	AnyBroadcastStatusWithPending(requestUUID uuid.UUID, flag bool) (bool, error)

	// ListBroadcastStatuses returns every branch entry for requestUUID.
	ListBroadcastStatuses(requestUUID uuid.UUID) ([]BroadcastStatusEntry, error)

	// CompleteRouteFound performs the ROUTE_FOUND completion sequence as one
	// atomic unit: delete the request, delete all its broadcast statuses,
	// insert the route, insert the usage. Implementations backed by a
	// storage engine without multi-row transactions must perform these in
	// this exact order so a crash mid-sequence leaves state a peer's
	// timeout can still drain.
	CompleteRouteFound(requestUUID uuid.UUID, route RouteEntry, usage RouteUsage) error
}
