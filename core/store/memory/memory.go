// Package memory provides an in-memory, mutex-guarded RouteTable and
// DiscoveryStore implementation suitable for tests and single-process
// embedding where durability across restarts is not required.
package memory

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/core/store"
)

// Compile-time assertions that Store implements both repository contracts.
var (
	_ store.RouteTable     = (*Store)(nil)
	_ store.DiscoveryStore = (*Store)(nil)
)

// Store is a single in-memory backend serving both the Route Table and
// Discovery State contracts. A real deployment normally pairs these with
// separate tables in store/badger; the in-memory backend keeps them
// together for simplicity since nothing here needs to survive a restart.
type Store struct {
	mu sync.RWMutex

	routes       map[uuid.UUID]store.RouteEntry
	usages       map[uuid.UUID]store.RouteUsage
	requests     map[uuid.UUID]store.RouteRequestEntry
	broadcasts   map[uuid.UUID]map[core.LocalID]store.BroadcastStatusEntry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		routes:     make(map[uuid.UUID]store.RouteEntry),
		usages:     make(map[uuid.UUID]store.RouteUsage),
		requests:   make(map[uuid.UUID]store.RouteRequestEntry),
		broadcasts: make(map[uuid.UUID]map[core.LocalID]store.BroadcastStatusEntry),
	}
}

// InsertRoute persists a new RouteEntry.
func (s *Store) InsertRoute(route store.RouteEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[route.DiscoveryUUID] = route
	return nil
}

// GetMostRecentOpenedRoute returns the open route to destination with the
// greatest DiscoveredAtMillis.
func (s *Store) GetMostRecentOpenedRoute(destination core.LocalID) (store.RouteEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMostRecentOpenedRouteLocked(destination)
}

func routeIsNewer(candidate, current store.RouteEntry) bool {
	return candidate.DiscoveredAtMillis > current.DiscoveredAtMillis
}

// DeleteRouteCascade deletes the RouteEntry and every RouteUsage that
// references it.
func (s *Store) DeleteRouteCascade(discoveryUUID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes, discoveryUUID)
	for id, u := range s.usages {
		if u.RouteEntryDiscoveryUUID == discoveryUUID {
			delete(s.usages, id)
		}
	}
	return nil
}

// InsertUsage persists a new RouteUsage.
func (s *Store) InsertUsage(usage store.RouteUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usages[usage.UsageRequestUUID] = usage
	return nil
}

// TouchUsage refreshes LastUsedTimestamp on an existing RouteUsage.
func (s *Store) TouchUsage(usageUUID uuid.UUID, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usages[usageUUID]
	if !ok {
		return store.ErrNotFound
	}
	u.LastUsedTimestamp = now
	s.usages[usageUUID] = u
	return nil
}

// GetMostRecentUsage returns the most recent RouteUsage for the currently
// opened route to destination.
func (s *Store) GetMostRecentUsage(destination core.LocalID) (store.RouteUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	route, err := s.getMostRecentOpenedRouteLocked(destination)
	if err != nil {
		return store.RouteUsage{}, err
	}

	var usages []store.RouteUsage
	for _, u := range s.usages {
		if u.RouteEntryDiscoveryUUID == route.DiscoveryUUID {
			usages = append(usages, u)
		}
	}
	if len(usages) == 0 {
		return store.RouteUsage{}, store.ErrNotFound
	}
	sort.Slice(usages, func(i, j int) bool {
		return usages[i].LastUsedTimestamp > usages[j].LastUsedTimestamp
	})
	return usages[0], nil
}

func (s *Store) getMostRecentOpenedRouteLocked(destination core.LocalID) (store.RouteEntry, error) {
	var best store.RouteEntry
	found := false
	for _, r := range s.routes {
		if r.DestinationLocalID != destination || !r.Opened {
			continue
		}
		if !found || routeIsNewer(r, best) {
			best = r
			found = true
		}
	}
	if !found {
		return store.RouteEntry{}, store.ErrNotFound
	}
	return best, nil
}

// InsertRequest persists a new RouteRequestEntry.
func (s *Store) InsertRequest(entry store.RouteRequestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[entry.RequestUUID] = entry
	return nil
}

// GetRequest returns the RouteRequestEntry for requestUUID.
func (s *Store) GetRequest(requestUUID uuid.UUID) (store.RouteRequestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.requests[requestUUID]
	if !ok {
		return store.RouteRequestEntry{}, store.ErrNotFound
	}
	return e, nil
}

// DeleteRequest deletes the RouteRequestEntry and cascades to every
// BroadcastStatusEntry sharing requestUUID.
func (s *Store) DeleteRequest(requestUUID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, requestUUID)
	delete(s.broadcasts, requestUUID)
	return nil
}

// InsertBroadcastStatus persists a new BroadcastStatusEntry.
func (s *Store) InsertBroadcastStatus(entry store.BroadcastStatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNeighbor, ok := s.broadcasts[entry.RequestUUID]
	if !ok {
		byNeighbor = make(map[core.LocalID]store.BroadcastStatusEntry)
		s.broadcasts[entry.RequestUUID] = byNeighbor
	}
	byNeighbor[entry.NeighborLocalID] = entry
	return nil
}

// UpdateBroadcastStatus overwrites an existing BroadcastStatusEntry.
func (s *Store) UpdateBroadcastStatus(entry store.BroadcastStatusEntry) error {
	return s.InsertBroadcastStatus(entry)
}

// GetBroadcastStatus returns the entry for (requestUUID, neighbor).
func (s *Store) GetBroadcastStatus(requestUUID uuid.UUID, neighbor core.LocalID) (store.BroadcastStatusEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byNeighbor, ok := s.broadcasts[requestUUID]
	if !ok {
		return store.BroadcastStatusEntry{}, store.ErrNotFound
	}
	e, ok := byNeighbor[neighbor]
	if !ok {
		return store.BroadcastStatusEntry{}, store.ErrNotFound
	}
	return e, nil
}

// DeleteBroadcastStatus removes a single branch entry.
func (s *Store) DeleteBroadcastStatus(requestUUID uuid.UUID, neighbor core.LocalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNeighbor, ok := s.broadcasts[requestUUID]
	if !ok {
		return nil
	}
	delete(byNeighbor, neighbor)
	if len(byNeighbor) == 0 {
		delete(s.broadcasts, requestUUID)
	}
	return nil
}

// DeleteAllBroadcastStatuses removes every branch entry for requestUUID.
func (s *Store) DeleteAllBroadcastStatuses(requestUUID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.broadcasts, requestUUID)
	return nil
}

// AnyBroadcastStatusWithPending reports whether any BroadcastStatusEntry
// for requestUUID has PendingResponseInProgress == flag.
func (s *Store) AnyBroadcastStatusWithPending(requestUUID uuid.UUID, flag bool) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.broadcasts[requestUUID] {
		if e.PendingResponseInProgress == flag {
			return true, nil
		}
	}
	return false, nil
}

// ListBroadcastStatuses returns every branch entry for requestUUID.
func (s *Store) ListBroadcastStatuses(requestUUID uuid.UUID) ([]store.BroadcastStatusEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.BroadcastStatusEntry
	for _, e := range s.broadcasts[requestUUID] {
		out = append(out, e)
	}
	return out, nil
}

// CompleteRouteFound performs the ROUTE_FOUND completion sequence as one
// atomic unit under a single lock acquisition.
func (s *Store) CompleteRouteFound(requestUUID uuid.UUID, route store.RouteEntry, usage store.RouteUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, requestUUID)
	delete(s.broadcasts, requestUUID)
	s.routes[route.DiscoveryUUID] = route
	s.usages[usage.UsageRequestUUID] = usage
	return nil
}
