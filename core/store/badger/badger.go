// Package badger provides a crash-safe RouteTable and DiscoveryStore
// backed by github.com/timshannon/badgerhold (itself wrapping
// github.com/dgraph-io/badger), so route and discovery bookkeeping
// survives a node restart instead of resetting every discovery to zero.
package badger

import (
	"errors"
	"fmt"
	"log/slog"

	bh "github.com/timshannon/badgerhold/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/core/store"
)

// Compile-time assertions that Store implements both repository contracts.
var (
	_ store.RouteTable     = (*Store)(nil)
	_ store.DiscoveryStore = (*Store)(nil)
)

// Config holds Store construction parameters.
type Config struct {
	// Path is the on-disk directory badger will use for its log and value
	// files. It is created if it does not exist.
	Path string
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Store is a badgerhold-backed RouteTable/DiscoveryStore.
type Store struct {
	bh  *bh.Store
	log *slog.Logger
}

// Open opens (creating if necessary) a badger database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := bh.DefaultOptions
	opts.Dir = cfg.Path
	opts.ValueDir = cfg.Path
	opts.Options = opts.Options.WithLogger(slogBadgerLogger{cfg.Logger})

	db, err := bh.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store at %s: %w", cfg.Path, err)
	}
	return &Store{bh: db, log: cfg.Logger.WithGroup("store")}, nil
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return s.bh.Close()
}

func wrapNotFound(err error) error {
	if errors.Is(err, bh.ErrNotFound) {
		return store.ErrNotFound
	}
	return err
}

// InsertRoute persists a new RouteEntry.
func (s *Store) InsertRoute(route store.RouteEntry) error {
	if err := s.bh.Insert(route.DiscoveryUUID, route); err != nil {
		return fmt.Errorf("inserting route %s: %w", route.DiscoveryUUID, err)
	}
	return nil
}

// GetMostRecentOpenedRoute returns the most recently discovered RouteEntry
// with Opened=true for destination, or store.ErrNotFound.
func (s *Store) GetMostRecentOpenedRoute(destination core.LocalID) (store.RouteEntry, error) {
	var routes []store.RouteEntry
	query := bh.Where("DestinationLocalID").Eq(destination).
		And("Opened").Eq(true).
		SortBy("DiscoveredAtMillis").Reverse().Limit(1)
	if err := s.bh.Find(&routes, query); err != nil {
		return store.RouteEntry{}, fmt.Errorf("finding route for %s: %w", destination, err)
	}
	if len(routes) == 0 {
		return store.RouteEntry{}, store.ErrNotFound
	}
	return routes[0], nil
}

// DeleteRouteCascade deletes the RouteEntry and every RouteUsage that
// references it, in one badger transaction.
func (s *Store) DeleteRouteCascade(discoveryUUID uuid.UUID) error {
	err := s.bh.Badger().Update(func(txn *badger.Txn) error {
		if err := s.bh.TxDelete(txn, discoveryUUID, store.RouteEntry{}); err != nil && !errors.Is(err, bh.ErrNotFound) {
			return err
		}
		return s.bh.TxDeleteMatching(txn, store.RouteUsage{},
			bh.Where("RouteEntryDiscoveryUUID").Eq(discoveryUUID))
	})
	if err != nil {
		return fmt.Errorf("cascading delete for route %s: %w", discoveryUUID, err)
	}
	return nil
}

// InsertUsage persists a new RouteUsage.
func (s *Store) InsertUsage(usage store.RouteUsage) error {
	if err := s.bh.Insert(usage.UsageRequestUUID, usage); err != nil {
		return fmt.Errorf("inserting usage %s: %w", usage.UsageRequestUUID, err)
	}
	return nil
}

// TouchUsage refreshes LastUsedTimestamp on an existing RouteUsage.
func (s *Store) TouchUsage(usageUUID uuid.UUID, now int64) error {
	var usage store.RouteUsage
	if err := s.bh.Get(usageUUID, &usage); err != nil {
		return fmt.Errorf("loading usage %s: %w", usageUUID, wrapNotFound(err))
	}
	usage.LastUsedTimestamp = now
	if err := s.bh.Update(usageUUID, usage); err != nil {
		return fmt.Errorf("updating usage %s: %w", usageUUID, err)
	}
	return nil
}

// GetMostRecentUsage returns the most recent RouteUsage for the route
// currently opened to destination, or store.ErrNotFound.
func (s *Store) GetMostRecentUsage(destination core.LocalID) (store.RouteUsage, error) {
	route, err := s.GetMostRecentOpenedRoute(destination)
	if err != nil {
		return store.RouteUsage{}, err
	}
	var usages []store.RouteUsage
	query := bh.Where("RouteEntryDiscoveryUUID").Eq(route.DiscoveryUUID).
		SortBy("LastUsedTimestamp").Reverse().Limit(1)
	if err := s.bh.Find(&usages, query); err != nil {
		return store.RouteUsage{}, fmt.Errorf("finding usage for route %s: %w", route.DiscoveryUUID, err)
	}
	if len(usages) == 0 {
		return store.RouteUsage{}, store.ErrNotFound
	}
	return usages[0], nil
}

// InsertRequest persists a new RouteRequestEntry.
func (s *Store) InsertRequest(entry store.RouteRequestEntry) error {
	if err := s.bh.Insert(entry.RequestUUID, entry); err != nil {
		return fmt.Errorf("inserting request %s: %w", entry.RequestUUID, err)
	}
	return nil
}

// GetRequest returns the RouteRequestEntry for requestUUID, or
// store.ErrNotFound.
func (s *Store) GetRequest(requestUUID uuid.UUID) (store.RouteRequestEntry, error) {
	var entry store.RouteRequestEntry
	if err := s.bh.Get(requestUUID, &entry); err != nil {
		return store.RouteRequestEntry{}, wrapNotFound(err)
	}
	return entry, nil
}

// DeleteRequest deletes the RouteRequestEntry and cascades to every
// BroadcastStatusEntry sharing requestUUID, in one badger transaction.
func (s *Store) DeleteRequest(requestUUID uuid.UUID) error {
	err := s.bh.Badger().Update(func(txn *badger.Txn) error {
		if err := s.bh.TxDelete(txn, requestUUID, store.RouteRequestEntry{}); err != nil && !errors.Is(err, bh.ErrNotFound) {
			return err
		}
		return s.bh.TxDeleteMatching(txn, store.BroadcastStatusEntry{},
			bh.Where("RequestUUID").Eq(requestUUID))
	})
	if err != nil {
		return fmt.Errorf("deleting request %s: %w", requestUUID, err)
	}
	return nil
}

func broadcastKey(requestUUID uuid.UUID, neighbor core.LocalID) store.BroadcastStatusKey {
	return store.BroadcastStatusKey{RequestUUID: requestUUID, NeighborLocalID: neighbor}
}

// InsertBroadcastStatus persists a new BroadcastStatusEntry.
func (s *Store) InsertBroadcastStatus(entry store.BroadcastStatusEntry) error {
	key := broadcastKey(entry.RequestUUID, entry.NeighborLocalID)
	if err := s.bh.Insert(key, entry); err != nil {
		return fmt.Errorf("inserting broadcast status %+v: %w", key, err)
	}
	return nil
}

// UpdateBroadcastStatus overwrites an existing BroadcastStatusEntry.
func (s *Store) UpdateBroadcastStatus(entry store.BroadcastStatusEntry) error {
	key := broadcastKey(entry.RequestUUID, entry.NeighborLocalID)
	if err := s.bh.Update(key, entry); err != nil {
		return fmt.Errorf("updating broadcast status %+v: %w", key, err)
	}
	return nil
}

// GetBroadcastStatus returns the entry for (requestUUID, neighbor), or
// store.ErrNotFound.
func (s *Store) GetBroadcastStatus(requestUUID uuid.UUID, neighbor core.LocalID) (store.BroadcastStatusEntry, error) {
	var entry store.BroadcastStatusEntry
	key := broadcastKey(requestUUID, neighbor)
	if err := s.bh.Get(key, &entry); err != nil {
		return store.BroadcastStatusEntry{}, wrapNotFound(err)
	}
	return entry, nil
}

// DeleteBroadcastStatus removes a single branch entry.
func (s *Store) DeleteBroadcastStatus(requestUUID uuid.UUID, neighbor core.LocalID) error {
	key := broadcastKey(requestUUID, neighbor)
	if err := s.bh.Delete(key, store.BroadcastStatusEntry{}); err != nil && !errors.Is(err, bh.ErrNotFound) {
		return fmt.Errorf("deleting broadcast status %+v: %w", key, err)
	}
	return nil
}

// DeleteAllBroadcastStatuses removes every branch entry for requestUUID.
func (s *Store) DeleteAllBroadcastStatuses(requestUUID uuid.UUID) error {
	err := s.bh.DeleteMatching(store.BroadcastStatusEntry{}, bh.Where("RequestUUID").Eq(requestUUID))
	if err != nil {
		return fmt.Errorf("deleting broadcast statuses for %s: %w", requestUUID, err)
	}
	return nil
}

// AnyBroadcastStatusWithPending reports whether any BroadcastStatusEntry
// for requestUUID has PendingResponseInProgress == flag.
func (s *Store) AnyBroadcastStatusWithPending(requestUUID uuid.UUID, flag bool) (bool, error) {
	var matches []store.BroadcastStatusEntry
	query := bh.Where("RequestUUID").Eq(requestUUID).And("PendingResponseInProgress").Eq(flag).Limit(1)
	if err := s.bh.Find(&matches, query); err != nil {
		return false, fmt.Errorf("counting broadcast statuses for %s: %w", requestUUID, err)
	}
	return len(matches) > 0, nil
}

// ListBroadcastStatuses returns every branch entry for requestUUID.
func (s *Store) ListBroadcastStatuses(requestUUID uuid.UUID) ([]store.BroadcastStatusEntry, error) {
	var entries []store.BroadcastStatusEntry
	if err := s.bh.Find(&entries, bh.Where("RequestUUID").Eq(requestUUID)); err != nil {
		return nil, fmt.Errorf("listing broadcast statuses for %s: %w", requestUUID, err)
	}
	return entries, nil
}

// CompleteRouteFound performs the ROUTE_FOUND completion sequence as one
// atomic badger transaction: delete the request, delete all its broadcast
// statuses, insert the route, insert the usage.
func (s *Store) CompleteRouteFound(requestUUID uuid.UUID, route store.RouteEntry, usage store.RouteUsage) error {
	err := s.bh.Badger().Update(func(txn *badger.Txn) error {
		if err := s.bh.TxDelete(txn, requestUUID, store.RouteRequestEntry{}); err != nil && !errors.Is(err, bh.ErrNotFound) {
			return err
		}
		if err := s.bh.TxDeleteMatching(txn, store.BroadcastStatusEntry{},
			bh.Where("RequestUUID").Eq(requestUUID)); err != nil {
			return err
		}
		if err := s.bh.TxInsert(txn, route.DiscoveryUUID, route); err != nil {
			return err
		}
		return s.bh.TxInsert(txn, usage.UsageRequestUUID, usage)
	})
	if err != nil {
		return fmt.Errorf("completing route found for request %s: %w", requestUUID, err)
	}
	return nil
}
