package badger

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/core/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func TestStore_RouteRoundTrip(t *testing.T) {
	s := openTestStore(t)

	route := store.RouteEntry{
		DiscoveryUUID:      uuid.New(),
		DestinationLocalID: core.LocalID(1),
		NextHopLocalID:     core.LocalID(2),
		HopCount:           3,
		Opened:             true,
		DiscoveredAtMillis: 100,
	}
	if err := s.InsertRoute(route); err != nil {
		t.Fatalf("InsertRoute() error = %v", err)
	}

	got, err := s.GetMostRecentOpenedRoute(core.LocalID(1))
	if err != nil {
		t.Fatalf("GetMostRecentOpenedRoute() error = %v", err)
	}
	if got.DiscoveryUUID != route.DiscoveryUUID {
		t.Errorf("got route %+v, want %+v", got, route)
	}
}

func TestStore_GetMostRecentOpenedRoute_PicksLatest(t *testing.T) {
	s := openTestStore(t)
	dest := core.LocalID(5)

	older := store.RouteEntry{DiscoveryUUID: uuid.New(), DestinationLocalID: dest, Opened: true, DiscoveredAtMillis: 100}
	newer := store.RouteEntry{DiscoveryUUID: uuid.New(), DestinationLocalID: dest, Opened: true, DiscoveredAtMillis: 200}
	if err := s.InsertRoute(older); err != nil {
		t.Fatalf("InsertRoute(older) error = %v", err)
	}
	if err := s.InsertRoute(newer); err != nil {
		t.Fatalf("InsertRoute(newer) error = %v", err)
	}

	got, err := s.GetMostRecentOpenedRoute(dest)
	if err != nil {
		t.Fatalf("GetMostRecentOpenedRoute() error = %v", err)
	}
	if got.DiscoveryUUID != newer.DiscoveryUUID {
		t.Errorf("got %s, want the newer route %s", got.DiscoveryUUID, newer.DiscoveryUUID)
	}
}

func TestStore_GetMostRecentOpenedRoute_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetMostRecentOpenedRoute(core.LocalID(99)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}

func TestStore_DeleteRouteCascade(t *testing.T) {
	s := openTestStore(t)
	route := store.RouteEntry{DiscoveryUUID: uuid.New(), DestinationLocalID: core.LocalID(1), Opened: true}
	usage := store.RouteUsage{UsageRequestUUID: uuid.New(), RouteEntryDiscoveryUUID: route.DiscoveryUUID, LastUsedTimestamp: 1}

	if err := s.InsertRoute(route); err != nil {
		t.Fatalf("InsertRoute() error = %v", err)
	}
	if err := s.InsertUsage(usage); err != nil {
		t.Fatalf("InsertUsage() error = %v", err)
	}
	if err := s.DeleteRouteCascade(route.DiscoveryUUID); err != nil {
		t.Fatalf("DeleteRouteCascade() error = %v", err)
	}

	if _, err := s.GetMostRecentOpenedRoute(core.LocalID(1)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("route survived cascade delete: err = %v", err)
	}
	if _, err := s.GetMostRecentUsage(core.LocalID(1)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("usage survived cascade delete: err = %v", err)
	}
}

func TestStore_TouchUsage(t *testing.T) {
	s := openTestStore(t)
	usage := store.RouteUsage{UsageRequestUUID: uuid.New(), RouteEntryDiscoveryUUID: uuid.New(), LastUsedTimestamp: 1}
	if err := s.InsertUsage(usage); err != nil {
		t.Fatalf("InsertUsage() error = %v", err)
	}
	if err := s.TouchUsage(usage.UsageRequestUUID, 42); err != nil {
		t.Fatalf("TouchUsage() error = %v", err)
	}

	route := store.RouteEntry{DiscoveryUUID: usage.RouteEntryDiscoveryUUID, DestinationLocalID: core.LocalID(7), Opened: true}
	if err := s.InsertRoute(route); err != nil {
		t.Fatalf("InsertRoute() error = %v", err)
	}
	got, err := s.GetMostRecentUsage(core.LocalID(7))
	if err != nil {
		t.Fatalf("GetMostRecentUsage() error = %v", err)
	}
	if got.LastUsedTimestamp != 42 {
		t.Errorf("LastUsedTimestamp = %d, want 42", got.LastUsedTimestamp)
	}
}

func TestStore_RequestRoundTrip(t *testing.T) {
	s := openTestStore(t)
	entry := store.RouteRequestEntry{RequestUUID: uuid.New(), DestinationLocalID: core.LocalID(1)}
	if err := s.InsertRequest(entry); err != nil {
		t.Fatalf("InsertRequest() error = %v", err)
	}

	got, err := s.GetRequest(entry.RequestUUID)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if got.DestinationLocalID != entry.DestinationLocalID {
		t.Errorf("got %+v, want %+v", got, entry)
	}

	if err := s.DeleteRequest(entry.RequestUUID); err != nil {
		t.Fatalf("DeleteRequest() error = %v", err)
	}
	if _, err := s.GetRequest(entry.RequestUUID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}

func TestStore_DeleteRequestCascadesBroadcastStatuses(t *testing.T) {
	s := openTestStore(t)
	requestUUID := uuid.New()
	if err := s.InsertRequest(store.RouteRequestEntry{RequestUUID: requestUUID, DestinationLocalID: core.LocalID(1)}); err != nil {
		t.Fatalf("InsertRequest() error = %v", err)
	}
	if err := s.InsertBroadcastStatus(store.BroadcastStatusEntry{RequestUUID: requestUUID, NeighborLocalID: core.LocalID(2)}); err != nil {
		t.Fatalf("InsertBroadcastStatus() error = %v", err)
	}

	if err := s.DeleteRequest(requestUUID); err != nil {
		t.Fatalf("DeleteRequest() error = %v", err)
	}

	statuses, err := s.ListBroadcastStatuses(requestUUID)
	if err != nil {
		t.Fatalf("ListBroadcastStatuses() error = %v", err)
	}
	if len(statuses) != 0 {
		t.Errorf("broadcast statuses survived cascade delete: %+v", statuses)
	}
}

func TestStore_BroadcastStatusLifecycle(t *testing.T) {
	s := openTestStore(t)
	requestUUID := uuid.New()
	entry := store.BroadcastStatusEntry{RequestUUID: requestUUID, NeighborLocalID: core.LocalID(9)}

	if err := s.InsertBroadcastStatus(entry); err != nil {
		t.Fatalf("InsertBroadcastStatus() error = %v", err)
	}

	ok, err := s.AnyBroadcastStatusWithPending(requestUUID, false)
	if err != nil {
		t.Fatalf("AnyBroadcastStatusWithPending() error = %v", err)
	}
	if !ok {
		t.Error("expected a pending=false branch to exist")
	}

	entry.PendingResponseInProgress = true
	if err := s.UpdateBroadcastStatus(entry); err != nil {
		t.Fatalf("UpdateBroadcastStatus() error = %v", err)
	}
	got, err := s.GetBroadcastStatus(requestUUID, core.LocalID(9))
	if err != nil {
		t.Fatalf("GetBroadcastStatus() error = %v", err)
	}
	if !got.PendingResponseInProgress {
		t.Error("expected PendingResponseInProgress to be true after update")
	}

	if err := s.DeleteBroadcastStatus(requestUUID, core.LocalID(9)); err != nil {
		t.Fatalf("DeleteBroadcastStatus() error = %v", err)
	}
	if _, err := s.GetBroadcastStatus(requestUUID, core.LocalID(9)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}

func TestStore_CompleteRouteFound(t *testing.T) {
	s := openTestStore(t)
	requestUUID := uuid.New()
	if err := s.InsertRequest(store.RouteRequestEntry{RequestUUID: requestUUID, DestinationLocalID: core.LocalID(1)}); err != nil {
		t.Fatalf("InsertRequest() error = %v", err)
	}
	if err := s.InsertBroadcastStatus(store.BroadcastStatusEntry{RequestUUID: requestUUID, NeighborLocalID: core.LocalID(2)}); err != nil {
		t.Fatalf("InsertBroadcastStatus() error = %v", err)
	}

	route := store.RouteEntry{DiscoveryUUID: requestUUID, DestinationLocalID: core.LocalID(1), Opened: true, DiscoveredAtMillis: 1}
	usage := store.RouteUsage{UsageRequestUUID: requestUUID, RouteEntryDiscoveryUUID: requestUUID, LastUsedTimestamp: 1}
	if err := s.CompleteRouteFound(requestUUID, route, usage); err != nil {
		t.Fatalf("CompleteRouteFound() error = %v", err)
	}

	if _, err := s.GetRequest(requestUUID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("request survived CompleteRouteFound: err = %v", err)
	}
	statuses, err := s.ListBroadcastStatuses(requestUUID)
	if err != nil {
		t.Fatalf("ListBroadcastStatuses() error = %v", err)
	}
	if len(statuses) != 0 {
		t.Errorf("broadcast statuses survived CompleteRouteFound: %+v", statuses)
	}
	if _, err := s.GetMostRecentOpenedRoute(core.LocalID(1)); err != nil {
		t.Errorf("GetMostRecentOpenedRoute() error = %v, want route to exist", err)
	}
	if _, err := s.GetMostRecentUsage(core.LocalID(1)); err != nil {
		t.Errorf("GetMostRecentUsage() error = %v, want usage to exist", err)
	}
}
