// Package discovery implements the on-demand route discovery engine (C3):
// initiating broadcasts, relaying and replying to incoming requests, and
// collapsing the per-branch response state machine back to a single
// terminal outcome.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/core/clock"
	"github.com/kabili207/meshroute/core/codec"
	"github.com/kabili207/meshroute/core/store"
	"github.com/kabili207/meshroute/crypto/session"
	"github.com/kabili207/meshroute/transport"
)

// Default tunable constants (spec §6). All are overridable per Config.
const (
	DefaultMaxInactivityMillis  = 12 * 3600 * 1000
	DefaultRouteHops     uint32 = 10
	DefaultRouteTTLMillis int64 = 5 * 60 * 1000
)

// Config holds Engine construction parameters.
type Config struct {
	SelfAddress core.Address
	Registry    *core.Registry
	Routes      store.RouteTable
	Discovery   store.DiscoveryStore
	Clock       *clock.Clock
	Crypto      session.Provider
	Transport   transport.Transport
	Logger      *slog.Logger

	MaxInactivityMillis  int64
	DefaultRouteHops     uint32
	DefaultRouteTTLMillis int64

	// OnRouteFound and OnRouteNotFound are the two discovery upcalls
	// (spec §6). Either may be left nil.
	OnRouteFound    func(destination core.Address, route store.RouteEntry)
	OnRouteNotFound func(requestUUID uuid.UUID, destination core.Address, status codec.Status)
}

// Engine is the C3 Discovery Engine. Its exported methods are meant to be
// invoked one at a time from the Scheduler's single consumer goroutine;
// Engine performs no locking of its own.
type Engine struct {
	self      core.Address
	registry  *core.Registry
	routes    store.RouteTable
	discovery store.DiscoveryStore
	clock     *clock.Clock
	crypto    session.Provider
	transport transport.Transport
	log       *slog.Logger

	maxInactivityMillis   int64
	defaultRouteHops      uint32
	defaultRouteTTLMillis int64

	onRouteFound    func(destination core.Address, route store.RouteEntry)
	onRouteNotFound func(requestUUID uuid.UUID, destination core.Address, status codec.Status)
}

// New creates a Discovery Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxInactivityMillis == 0 {
		cfg.MaxInactivityMillis = DefaultMaxInactivityMillis
	}
	if cfg.DefaultRouteHops == 0 {
		cfg.DefaultRouteHops = DefaultRouteHops
	}
	if cfg.DefaultRouteTTLMillis == 0 {
		cfg.DefaultRouteTTLMillis = DefaultRouteTTLMillis
	}
	return &Engine{
		self:                  cfg.SelfAddress,
		registry:              cfg.Registry,
		routes:                cfg.Routes,
		discovery:             cfg.Discovery,
		clock:                 cfg.Clock,
		crypto:                cfg.Crypto,
		transport:             cfg.Transport,
		log:                   cfg.Logger.WithGroup("discovery"),
		maxInactivityMillis:   cfg.MaxInactivityMillis,
		defaultRouteHops:      cfg.DefaultRouteHops,
		defaultRouteTTLMillis: cfg.DefaultRouteTTLMillis,
		onRouteFound:          cfg.OnRouteFound,
		onRouteNotFound:       cfg.OnRouteNotFound,
	}
}

// InitiateDiscovery resolves destination to a usable route, reusing an
// existing one if it is still fresh, otherwise broadcasting a fresh
// RouteRequest to every connected neighbor (spec §4.1).
func (e *Engine) InitiateDiscovery(ctx context.Context, destination core.Address) (InitiateResult, error) {
	destLocalID := e.registry.Resolve(destination)
	now := e.clock.NowMillis()

	route, err := e.routes.GetMostRecentOpenedRoute(destLocalID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return InitiateResult{}, fmt.Errorf("looking up route to %s: %w", destination, err)
	}
	if err == nil && route.Opened {
		usage, uErr := e.routes.GetMostRecentUsage(destLocalID)
		if uErr != nil && !errors.Is(uErr, store.ErrNotFound) {
			return InitiateResult{}, fmt.Errorf("looking up usage for %s: %w", destination, uErr)
		}
		if uErr == nil && now-usage.LastUsedTimestamp <= e.maxInactivityMillis {
			return InitiateResult{Kind: InitiateFound, Route: route}, nil
		}
	}

	requestUUID := uuid.New()
	if err := e.discovery.InsertRequest(store.RouteRequestEntry{
		RequestUUID:        requestUUID,
		DestinationLocalID: destLocalID,
		PreviousHopLocalID: nil,
	}); err != nil {
		return InitiateResult{}, fmt.Errorf("persisting route request: %w", err)
	}

	neighbors := e.transport.ConnectedNeighbors()
	req := codec.RouteRequest{
		UUID:                 requestUUID,
		DestinationAddress:   string(destination),
		RemainingHops:        e.defaultRouteHops,
		MaxTTLAbsoluteMillis: now + e.defaultRouteTTLMillis,
	}

	var branches uint32
	for _, neighbor := range neighbors {
		if err := e.sendRequest(ctx, neighbor, req); err != nil {
			e.log.Warn("failed to broadcast request to neighbor", "neighbor", neighbor, "error", err)
			continue
		}
		neighborLocalID := e.registry.Resolve(neighbor)
		if err := e.discovery.InsertBroadcastStatus(store.BroadcastStatusEntry{
			RequestUUID:               requestUUID,
			NeighborLocalID:           neighborLocalID,
			PendingResponseInProgress: false,
		}); err != nil {
			return InitiateResult{}, fmt.Errorf("persisting broadcast status: %w", err)
		}
		branches++
	}

	if branches == 0 {
		if err := e.discovery.DeleteRequest(requestUUID); err != nil {
			e.log.Error("failed to clean up request after no neighbors accepted it", "request", requestUUID, "error", err)
		}
		return InitiateResult{Kind: InitiateNoNeighbors}, nil
	}
	return InitiateResult{Kind: InitiateInitiated, Branches: branches}, nil
}

// OnIncomingRequest handles a RouteRequest relayed or originated by sender
// (spec §4.1).
func (e *Engine) OnIncomingRequest(ctx context.Context, sender core.Address, req codec.RouteRequest) error {
	senderLocalID := e.registry.Resolve(sender)

	if _, err := e.discovery.GetRequest(req.UUID); err == nil {
		e.replyStatus(ctx, sender, req.UUID, codec.StatusRequestAlreadyInProgress, 0)
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking for duplicate request %s: %w", req.UUID, err)
	}

	if req.DestinationAddress == string(e.self) {
		e.replyStatus(ctx, sender, req.UUID, codec.StatusRouteFound, 0)
		return nil
	}

	now := e.clock.NowMillis()
	if req.MaxTTLAbsoluteMillis <= now {
		e.replyStatus(ctx, sender, req.UUID, codec.StatusTTLExpired, 0)
		return nil
	}

	// A node receiving remaining_hops <= 1 cannot usefully relay further:
	// decrementing would hand the next hop an unusable value. Reply
	// MAX_HOPS_REACHED directly instead (spec §8 boundary behaviors).
	if req.RemainingHops <= 1 {
		e.replyStatus(ctx, sender, req.UUID, codec.StatusMaxHopsReached, 0)
		return nil
	}

	destLocalID := e.registry.Resolve(core.Address(req.DestinationAddress))
	if err := e.discovery.InsertRequest(store.RouteRequestEntry{
		RequestUUID:        req.UUID,
		DestinationLocalID: destLocalID,
		PreviousHopLocalID: &senderLocalID,
	}); err != nil {
		return fmt.Errorf("persisting relayed request: %w", err)
	}

	relayed := codec.RouteRequest{
		UUID:                 req.UUID,
		DestinationAddress:   req.DestinationAddress,
		RemainingHops:        req.RemainingHops - 1,
		MaxTTLAbsoluteMillis: req.MaxTTLAbsoluteMillis,
	}

	var branches uint32
	for _, neighbor := range e.transport.ConnectedNeighbors() {
		if neighbor == sender {
			continue
		}
		if err := e.sendRequest(ctx, neighbor, relayed); err != nil {
			e.log.Warn("failed to relay request to neighbor", "neighbor", neighbor, "error", err)
			continue
		}
		neighborLocalID := e.registry.Resolve(neighbor)
		if err := e.discovery.InsertBroadcastStatus(store.BroadcastStatusEntry{
			RequestUUID:               req.UUID,
			NeighborLocalID:           neighborLocalID,
			PendingResponseInProgress: false,
		}); err != nil {
			return fmt.Errorf("persisting broadcast status: %w", err)
		}
		branches++
	}

	if branches == 0 {
		e.replyStatus(ctx, sender, req.UUID, codec.StatusNoRouteFound, 0)
		if err := e.discovery.DeleteRequest(req.UUID); err != nil {
			e.log.Error("failed to clean up dead-end relay request", "request", req.UUID, "error", err)
		}
	}
	return nil
}

// OnIncomingResponse handles a RouteResponse from sender, driving the
// per-request-UUID state machine described in spec §4.1.
func (e *Engine) OnIncomingResponse(ctx context.Context, sender core.Address, resp codec.RouteResponse) error {
	requestUUID := resp.RequestUUID
	senderLocalID := e.registry.Resolve(sender)

	entry, err := e.discovery.GetRequest(requestUUID)
	if errors.Is(err, store.ErrNotFound) {
		e.log.Debug("dropping response for unknown (late) request", "request", requestUUID)
		return nil
	} else if err != nil {
		return fmt.Errorf("looking up request %s: %w", requestUUID, err)
	}
	isSource := entry.PreviousHopLocalID == nil

	branch, err := e.discovery.GetBroadcastStatus(requestUUID, senderLocalID)
	if errors.Is(err, store.ErrNotFound) {
		e.log.Debug("dropping unsolicited response", "request", requestUUID, "sender", sender)
		return nil
	} else if err != nil {
		return fmt.Errorf("looking up broadcast status: %w", err)
	}

	switch {
	case resp.Status == codec.StatusRouteFound:
		return e.handleRouteFound(ctx, requestUUID, entry, isSource, senderLocalID, resp.HopCount)

	case resp.Status == codec.StatusRequestAlreadyInProgress:
		branch.PendingResponseInProgress = true
		if err := e.discovery.UpdateBroadcastStatus(branch); err != nil {
			return fmt.Errorf("updating broadcast status: %w", err)
		}
		if isSource {
			e.log.Warn("suspected route_uuid collision: source saw REQUEST_ALREADY_IN_PROGRESS", "request", requestUUID)
		}
		anyUnresolved, err := e.discovery.AnyBroadcastStatusWithPending(requestUUID, false)
		if err != nil {
			return fmt.Errorf("checking unresolved branches: %w", err)
		}
		if anyUnresolved {
			return nil
		}
		return e.completeSequence(ctx, requestUUID, entry, codec.StatusRequestAlreadyInProgress)

	case resp.Status.IsFailure():
		if err := e.discovery.DeleteBroadcastStatus(requestUUID, senderLocalID); err != nil {
			return fmt.Errorf("deleting broadcast status: %w", err)
		}
		anyUnresolved, err := e.discovery.AnyBroadcastStatusWithPending(requestUUID, false)
		if err != nil {
			return fmt.Errorf("checking unresolved branches: %w", err)
		}
		if anyUnresolved {
			return nil
		}
		anyInProgress, err := e.discovery.AnyBroadcastStatusWithPending(requestUUID, true)
		if err != nil {
			return fmt.Errorf("checking in-progress branches: %w", err)
		}
		if anyInProgress {
			return e.completeSequence(ctx, requestUUID, entry, codec.StatusRequestAlreadyInProgress)
		}
		return e.completeSequence(ctx, requestUUID, entry, resp.Status)

	default:
		e.log.Debug("dropping response with unknown status", "request", requestUUID, "sender", sender)
		return nil
	}
}

func (e *Engine) handleRouteFound(ctx context.Context, requestUUID uuid.UUID, entry store.RouteRequestEntry, isSource bool, nextHopLocalID core.LocalID, hopCount uint32) error {
	now := e.clock.NowMillis()
	route := store.RouteEntry{
		DiscoveryUUID:      requestUUID,
		DestinationLocalID: entry.DestinationLocalID,
		NextHopLocalID:     nextHopLocalID,
		PreviousHopLocalID: entry.PreviousHopLocalID,
		HopCount:           uint16(hopCount),
		Opened:             true,
		DiscoveredAtMillis: now,
	}
	usage := store.RouteUsage{
		UsageRequestUUID:        requestUUID,
		RouteEntryDiscoveryUUID: requestUUID,
		LastUsedTimestamp:       now,
	}
	if err := e.discovery.CompleteRouteFound(requestUUID, route, usage); err != nil {
		return fmt.Errorf("completing route found: %w", err)
	}

	if isSource {
		destAddr, _ := e.registry.Address(entry.DestinationLocalID)
		if e.onRouteFound != nil {
			e.onRouteFound(destAddr, route)
		}
		return nil
	}

	prevAddr, ok := e.registry.Address(*entry.PreviousHopLocalID)
	if !ok {
		e.log.Error("previous hop address unknown, cannot forward ROUTE_FOUND", "request", requestUUID)
		return nil
	}
	e.replyStatus(ctx, prevAddr, requestUUID, codec.StatusRouteFound, hopCount+1)
	return nil
}

// completeSequence tears down all state for requestUUID and either fires
// the on_route_not_found upcall (at the source) or forwards the terminal
// status to the previous hop (spec §4.1 "Completion sequence").
func (e *Engine) completeSequence(ctx context.Context, requestUUID uuid.UUID, entry store.RouteRequestEntry, terminal codec.Status) error {
	if err := e.discovery.DeleteAllBroadcastStatuses(requestUUID); err != nil {
		return fmt.Errorf("deleting broadcast statuses: %w", err)
	}
	if err := e.discovery.DeleteRequest(requestUUID); err != nil {
		return fmt.Errorf("deleting request: %w", err)
	}

	if entry.PreviousHopLocalID == nil {
		destAddr, _ := e.registry.Address(entry.DestinationLocalID)
		if e.onRouteNotFound != nil {
			e.onRouteNotFound(requestUUID, destAddr, terminal)
		}
		return nil
	}

	prevAddr, ok := e.registry.Address(*entry.PreviousHopLocalID)
	if !ok {
		e.log.Error("previous hop address unknown, cannot forward terminal status", "request", requestUUID)
		return nil
	}
	e.replyStatus(ctx, prevAddr, requestUUID, terminal, 0)
	return nil
}
