// Package store defines the Route Table and Discovery State repositories:
// persistent bookkeeping of established routes and in-flight route
// discoveries. Two backends are provided — store/memory for tests and
// single-process embedding, and store/badger for crash-safe persistence —
// both satisfying the RouteTable and DiscoveryStore interfaces declared
// here.
package store

import (
	"github.com/google/uuid"

	"github.com/kabili207/meshroute/core"
)

// RouteEntry is an established path to a destination. DiscoveryUUID is the
// primary key; DestinationLocalID is indexed (badgerhold backend) so
// GetMostRecentOpenedRoute doesn't scan the whole bucket.
type RouteEntry struct {
	DiscoveryUUID      uuid.UUID    `badgerholdKey:"DiscoveryUUID" json:"discovery_uuid"`
	DestinationLocalID core.LocalID `badgerholdIndex:"DestinationLocalID" json:"destination_local_id"`
	NextHopLocalID     core.LocalID `json:"next_hop_local_id"`
	// PreviousHopLocalID is nil when this node originated the discovery.
	PreviousHopLocalID *core.LocalID `json:"previous_hop_local_id,omitempty"`
	HopCount           uint16        `json:"hop_count"`
	Opened             bool          `json:"opened"`
	// DiscoveredAtMillis orders routes sharing a destination; the entry
	// with the greatest value is "most recent".
	DiscoveredAtMillis int64 `json:"discovered_at_millis"`
}

// RouteUsage is the most recent wall-clock use of a route by a particular
// send. Multiple usages may share one RouteEntry. RouteEntryDiscoveryUUID
// is indexed so cascading deletes and recency lookups don't scan the whole
// bucket.
type RouteUsage struct {
	UsageRequestUUID        uuid.UUID    `badgerholdKey:"UsageRequestUUID" json:"usage_request_uuid"`
	RouteEntryDiscoveryUUID uuid.UUID    `badgerholdIndex:"RouteEntryDiscoveryUUID" json:"route_entry_discovery_uuid"`
	LastUsedTimestamp       int64        `json:"last_used_timestamp"`
}

// RouteRequestEntry is in-flight discovery state, written when a node
// broadcasts or relays a request.
type RouteRequestEntry struct {
	RequestUUID        uuid.UUID    `badgerholdKey:"RequestUUID" json:"request_uuid"`
	DestinationLocalID core.LocalID `json:"destination_local_id"`
	// PreviousHopLocalID is nil iff this node originated the request.
	PreviousHopLocalID *core.LocalID `json:"previous_hop_local_id,omitempty"`
}

// BroadcastStatusEntry is a per-neighbor record of an outbound branch of a
// request. Conceptually keyed by (RequestUUID, NeighborLocalID);
// RequestUUID is indexed (badgerhold backend) so siblings of one request
// can be listed and cascade-deleted without a full scan.
type BroadcastStatusEntry struct {
	RequestUUID               uuid.UUID    `badgerholdIndex:"RequestUUID" json:"request_uuid"`
	NeighborLocalID           core.LocalID `json:"neighbor_local_id"`
	PendingResponseInProgress bool         `json:"pending_response_in_progress"`
}

// BroadcastStatusKey is the badgerhold primary key for BroadcastStatusEntry,
// since badgerhold keys must be a single field or an explicit composite.
type BroadcastStatusKey struct {
	RequestUUID     uuid.UUID
	NeighborLocalID core.LocalID
}
