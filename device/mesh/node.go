// Package mesh wires the Route Table, Discovery State, Scheduler,
// Discovery Engine, Forwarding Engine, transport, and crypto session into
// one running node. It mirrors the core/room.Server composition: own the
// dependencies, expose Start/Stop, and surface the upper layer's upcalls
// as settable callback fields.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/core/clock"
	"github.com/kabili207/meshroute/core/codec"
	"github.com/kabili207/meshroute/core/store"
	"github.com/kabili207/meshroute/crypto/session"
	"github.com/kabili207/meshroute/device/discovery"
	"github.com/kabili207/meshroute/device/forwarding"
	"github.com/kabili207/meshroute/device/scheduler"
	"github.com/kabili207/meshroute/transport"
)

// Config configures a Node.
type Config struct {
	SelfAddress core.Address

	Routes    store.RouteTable
	Discovery store.DiscoveryStore
	Registry  *core.Registry
	Clock     *clock.Clock
	Crypto    session.Provider
	Transport transport.Transport
	Scheduler *scheduler.Scheduler

	MaxInactivityMillis   int64
	DefaultRouteHops      uint32
	DefaultRouteTTLMillis int64

	Logger *slog.Logger

	// OnRouteFound, OnRouteNotFound, and OnRoutedMessageReceived are the
	// three upcalls to the application layer (spec §6).
	OnRouteFound            func(destination core.Address, route store.RouteEntry)
	OnRouteNotFound         func(requestUUID uuid.UUID, destination core.Address, status codec.Status)
	OnRoutedMessageReceived func(originalSender core.Address, payload []byte, payloadID uint64)
}

// Node is a running mesh routing endpoint.
type Node struct {
	self      core.Address
	log       *slog.Logger
	registry  *core.Registry
	routes    store.RouteTable
	clock     *clock.Clock
	crypto    session.Provider
	transport transport.Transport
	scheduler *scheduler.Scheduler

	discovery  *discovery.Engine
	forwarding *forwarding.Engine

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New wires a Node from cfg. Call Start to begin processing.
func New(cfg Config) *Node {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = core.NewRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.New(scheduler.Config{Logger: cfg.Logger})
	}

	n := &Node{
		self:      cfg.SelfAddress,
		log:       cfg.Logger.WithGroup("mesh"),
		registry:  cfg.Registry,
		routes:    cfg.Routes,
		clock:     cfg.Clock,
		crypto:    cfg.Crypto,
		transport: cfg.Transport,
		scheduler: cfg.Scheduler,
	}

	n.discovery = discovery.New(discovery.Config{
		SelfAddress:           cfg.SelfAddress,
		Registry:              cfg.Registry,
		Routes:                cfg.Routes,
		Discovery:             cfg.Discovery,
		Clock:                 cfg.Clock,
		Crypto:                cfg.Crypto,
		Transport:             cfg.Transport,
		Logger:                cfg.Logger,
		MaxInactivityMillis:   cfg.MaxInactivityMillis,
		DefaultRouteHops:      cfg.DefaultRouteHops,
		DefaultRouteTTLMillis: cfg.DefaultRouteTTLMillis,
		OnRouteFound:          cfg.OnRouteFound,
		OnRouteNotFound:       cfg.OnRouteNotFound,
	})

	n.forwarding = forwarding.New(forwarding.Config{
		SelfAddress:             cfg.SelfAddress,
		Registry:                cfg.Registry,
		Routes:                  cfg.Routes,
		Clock:                   cfg.Clock,
		Crypto:                  cfg.Crypto,
		Transport:               cfg.Transport,
		Logger:                  cfg.Logger,
		MaxInactivityMillis:     cfg.MaxInactivityMillis,
		OnRoutedMessageReceived: cfg.OnRoutedMessageReceived,
	})

	return n
}

// Start registers the transport payload handler and runs the scheduler and
// transport together until ctx is canceled or either fails.
func (n *Node) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()

	n.transport.SetPayloadHandler(func(sender core.Address, payload []byte, payloadID uint64) {
		n.handlePayload(ctx, sender, payload, payloadID)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.scheduler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return n.transport.Start(gctx)
	})
	return g.Wait()
}

// Stop cancels the node's context and stops its transport.
func (n *Node) Stop() error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return n.transport.Stop()
}

// Discover resolves destination to a route, broadcasting a fresh route
// request if none is cached (spec §4.1). It posts onto the Scheduler and
// blocks until that task runs.
func (n *Node) Discover(ctx context.Context, destination core.Address) (discovery.InitiateResult, error) {
	var (
		result discovery.InitiateResult
		taskErr error
	)
	done := make(chan struct{})
	if err := n.scheduler.Post(ctx, func() {
		defer close(done)
		result, taskErr = n.discovery.InitiateDiscovery(ctx, destination)
	}); err != nil {
		return discovery.InitiateResult{}, err
	}
	select {
	case <-done:
		return result, taskErr
	case <-ctx.Done():
		return discovery.InitiateResult{}, ctx.Err()
	}
}

// SendMessage end-to-end encrypts and source-routes payload to destination
// (spec §4.2). It posts onto the Scheduler and blocks until that task
// runs.
func (n *Node) SendMessage(ctx context.Context, destination core.Address, payload []byte) (forwarding.SendResult, error) {
	var (
		result  forwarding.SendResult
		taskErr error
	)
	done := make(chan struct{})
	if err := n.scheduler.Post(ctx, func() {
		defer close(done)
		result, taskErr = n.forwarding.Send(ctx, destination, n.self, payload)
	}); err != nil {
		return forwarding.SendResult{}, err
	}
	select {
	case <-done:
		return result, taskErr
	case <-ctx.Done():
		return forwarding.SendResult{}, ctx.Err()
	}
}

// handlePayload decodes the outer envelope, hop-decrypts it, and posts the
// decoded inner message to the Scheduler for handling by the appropriate
// engine. Registered as the transport's PayloadHandler in Start.
func (n *Node) handlePayload(ctx context.Context, sender core.Address, payload []byte, payloadID uint64) {
	env, err := codec.DecodeEnvelope(payload)
	if err != nil {
		n.log.Warn("dropping malformed envelope", "sender", sender, "error", err)
		return
	}
	plaintext, err := n.crypto.Decrypt(sender, env.EncryptedData)
	if err != nil {
		n.log.Warn("dropping envelope with undecryptable body", "sender", sender, "error", err)
		return
	}

	switch env.MessageType {
	case codec.MessageTypeRouteRequest:
		req, err := codec.DecodeRouteRequest(plaintext)
		if err != nil {
			n.log.Warn("dropping malformed route request", "sender", sender, "error", err)
			return
		}
		n.postOrLog(ctx, fmt.Sprintf("route request from %s", sender), func() error {
			return n.discovery.OnIncomingRequest(ctx, sender, req)
		})

	case codec.MessageTypeRouteResponse:
		resp, err := codec.DecodeRouteResponse(plaintext)
		if err != nil {
			n.log.Warn("dropping malformed route response", "sender", sender, "error", err)
			return
		}
		n.postOrLog(ctx, fmt.Sprintf("route response from %s", sender), func() error {
			return n.discovery.OnIncomingResponse(ctx, sender, resp)
		})

	case codec.MessageTypeRoutedMessage:
		msg, err := codec.DecodeRoutedMessage(plaintext)
		if err != nil {
			n.log.Warn("dropping malformed routed message", "sender", sender, "error", err)
			return
		}
		n.postOrLog(ctx, fmt.Sprintf("routed message from %s", sender), func() error {
			return n.forwarding.OnIncomingRouted(ctx, sender, payloadID, msg)
		})

	default:
		n.log.Debug("dropping envelope with unrecognized message type", "sender", sender, "type", env.MessageType)
	}
}

func (n *Node) postOrLog(ctx context.Context, what string, task func() error) {
	err := n.scheduler.Post(ctx, func() {
		if err := task(); err != nil {
			n.log.Error("handling "+what+" failed", "error", err)
		}
	})
	if err != nil {
		n.log.Warn("dropping "+what+": scheduler unavailable", "error", err)
	}
}
