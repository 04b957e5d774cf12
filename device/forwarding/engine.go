package forwarding

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

// Config holds Engine construction parameters.
type Config struct {
	SelfAddress core.Address
	Registry    *core.Registry
	Routes      store.RouteTable
	Clock       *clock.Clock
	Crypto      session.Provider
	Transport   transport.Transport
	Logger      *slog.Logger

	MaxInactivityMillis int64

	// OnRoutedMessageReceived delivers a decrypted inner payload addressed
	// to this node (spec §6).
	OnRoutedMessageReceived func(originalSender core.Address, payload []byte, payloadID uint64)
}

// Engine is the C4 Forwarding Engine. Like Engine in device/discovery, it
// expects to be driven one call at a time from the Scheduler and holds no
// locks of its own.
type Engine struct {
	self      core.Address
	registry  *core.Registry
	routes    store.RouteTable
	clock     *clock.Clock
	crypto    session.Provider
	transport transport.Transport
	log       *slog.Logger

	maxInactivityMillis int64

	onRoutedMessageReceived func(originalSender core.Address, payload []byte, payloadID uint64)
}

// New creates a Forwarding Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxInactivityMillis == 0 {
		cfg.MaxInactivityMillis = 12 * 3600 * 1000
	}
	return &Engine{
		self:                    cfg.SelfAddress,
		registry:                cfg.Registry,
		routes:                  cfg.Routes,
		clock:                   cfg.Clock,
		crypto:                  cfg.Crypto,
		transport:               cfg.Transport,
		log:                     cfg.Logger.WithGroup("forwarding"),
		maxInactivityMillis:     cfg.MaxInactivityMillis,
		onRoutedMessageReceived: cfg.OnRoutedMessageReceived,
	}
}

// resolvedRoute bundles a live route with the usage row that determines
// its freshness, and the neighbor address the route is anchored to.
type resolvedRoute struct {
	route      store.RouteEntry
	usage      store.RouteUsage
	hasUsage   bool
	nextHopAddr core.Address
}

// lookupRoute implements the shared route-selection and staleness rules
// used by both Send and OnIncomingRouted (spec §4.2).
func (e *Engine) lookupRoute(destLocalID core.LocalID) (resolvedRoute, bool, error) {
	route, err := e.routes.GetMostRecentOpenedRoute(destLocalID)
	if errors.Is(err, store.ErrNotFound) {
		return resolvedRoute{}, false, nil
	} else if err != nil {
		return resolvedRoute{}, false, fmt.Errorf("looking up route: %w", err)
	}

	now := e.clock.NowMillis()
	usage, err := e.routes.GetMostRecentUsage(destLocalID)
	hasUsage := true
	if errors.Is(err, store.ErrNotFound) {
		hasUsage = false
	} else if err != nil {
		return resolvedRoute{}, false, fmt.Errorf("looking up usage: %w", err)
	}

	if hasUsage && now-usage.LastUsedTimestamp > e.maxInactivityMillis {
		if err := e.routes.DeleteRouteCascade(route.DiscoveryUUID); err != nil {
			return resolvedRoute{}, false, fmt.Errorf("invalidating stale route: %w", err)
		}
		return resolvedRoute{}, false, nil
	}

	nextHopAddr, ok := e.registry.Address(route.NextHopLocalID)
	if !ok {
		return resolvedRoute{}, false, fmt.Errorf("route %s has unresolvable next hop %s", route.DiscoveryUUID, route.NextHopLocalID)
	}
	if !addressConnected(e.transport, nextHopAddr) {
		if err := e.routes.DeleteRouteCascade(route.DiscoveryUUID); err != nil {
			return resolvedRoute{}, false, fmt.Errorf("invalidating route with disconnected next hop: %w", err)
		}
		return resolvedRoute{}, false, nil
	}

	return resolvedRoute{route: route, usage: usage, hasUsage: hasUsage, nextHopAddr: nextHopAddr}, true, nil
}

func addressConnected(t transport.Transport, addr core.Address) bool {
	for _, n := range t.ConnectedNeighbors() {
		if n == addr {
			return true
		}
	}
	return false
}

// touchOrInsertUsage refreshes the existing usage row, or inserts a fresh
// one if this is the route's first use, returning the usage uuid the
// RoutedMessage should carry.
func (e *Engine) touchOrInsertUsage(resolved resolvedRoute) (uuid.UUID, error) {
	now := e.clock.NowMillis()
	if resolved.hasUsage {
		if err := e.routes.TouchUsage(resolved.usage.UsageRequestUUID, now); err != nil {
			return uuid.UUID{}, fmt.Errorf("touching usage: %w", err)
		}
		return resolved.usage.UsageRequestUUID, nil
	}
	usageUUID := uuid.New()
	if err := e.routes.InsertUsage(store.RouteUsage{
		UsageRequestUUID:        usageUUID,
		RouteEntryDiscoveryUUID: resolved.route.DiscoveryUUID,
		LastUsedTimestamp:       now,
	}); err != nil {
		return uuid.UUID{}, fmt.Errorf("inserting usage: %w", err)
	}
	return usageUUID, nil
}

// Send end-to-end encrypts innerPayload for finalDestination, wraps it in
// a RoutedMessage along the current route, hop-encrypts, and hands it to
// the next hop (spec §4.2).
func (e *Engine) Send(ctx context.Context, finalDestination core.Address, originalSender core.Address, innerPayload []byte) (SendResult, error) {
	destLocalID := e.registry.Resolve(finalDestination)

	resolved, ok, err := e.lookupRoute(destLocalID)
	if err != nil {
		return SendResult{}, err
	}
	if !ok {
		return SendResult{Kind: SendNoRoute}, nil
	}

	e2eBlob, err := e.crypto.Encrypt(finalDestination, innerPayload)
	if err != nil {
		e.log.Warn("end-to-end encryption failed", "destination", finalDestination, "error", err)
		return SendResult{Kind: SendEncryptFailed}, nil
	}

	usageUUID, err := e.touchOrInsertUsage(resolved)
	if err != nil {
		return SendResult{}, err
	}

	msg := codec.RoutedMessage{
		FinalDestinationAddress: string(finalDestination),
		RouteUUID:               resolved.route.DiscoveryUUID,
		RouteUsageUUID:          usageUUID,
		OriginalSenderAddress:   string(originalSender),
		E2EEncryptedBody:        e2eBlob,
	}

	payloadID, err := e.sendRoutedMessage(ctx, resolved.nextHopAddr, msg)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{Kind: SendSent, PayloadID: payloadID}, nil
}

// OnIncomingRouted delivers msg locally if this node is the final
// destination, otherwise relays it toward the next hop (spec §4.2).
func (e *Engine) OnIncomingRouted(ctx context.Context, sender core.Address, transportPayloadID uint64, msg codec.RoutedMessage) error {
	if msg.FinalDestinationAddress == string(e.self) {
		originalSender := core.Address(msg.OriginalSenderAddress)
		plaintext, err := e.crypto.Decrypt(originalSender, msg.E2EEncryptedBody)
		if err != nil {
			return fmt.Errorf("end-to-end decrypting from %s: %w", originalSender, err)
		}
		payloadID := transportPayloadID
		if msg.PayloadID != nil {
			payloadID = *msg.PayloadID
		}
		if e.onRoutedMessageReceived != nil {
			e.onRoutedMessageReceived(originalSender, plaintext, payloadID)
		}
		return nil
	}

	destLocalID := e.registry.Resolve(core.Address(msg.FinalDestinationAddress))
	resolved, ok, err := e.lookupRoute(destLocalID)
	if err != nil {
		return err
	}
	if !ok {
		e.log.Debug("dropping routed message with no route", "destination", msg.FinalDestinationAddress)
		return nil
	}

	if msg.PayloadID == nil {
		stamped := transportPayloadID
		msg.PayloadID = &stamped
	}

	if _, err := e.touchOrInsertUsage(resolved); err != nil {
		return err
	}
	if _, err := e.sendRoutedMessage(ctx, resolved.nextHopAddr, msg); err != nil {
		return err
	}
	return nil
}
