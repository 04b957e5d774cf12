package forwarding

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/core/clock"
	"github.com/kabili207/meshroute/core/codec"
	"github.com/kabili207/meshroute/core/store"
	"github.com/kabili207/meshroute/core/store/memory"
	"github.com/kabili207/meshroute/transport"
)

type fakeCrypto struct{}

func (fakeCrypto) Encrypt(peer core.Address, plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func (fakeCrypto) Decrypt(peer core.Address, ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	copy(out, ciphertext)
	return out, nil
}

type sentEnvelope struct {
	neighbor core.Address
	envelope codec.Envelope
}

type fakeTransport struct {
	mu        sync.Mutex
	neighbors []core.Address
	sent      []sentEnvelope
}

func (f *fakeTransport) Start(ctx context.Context) error   { return nil }
func (f *fakeTransport) Stop() error                       { return nil }
func (f *fakeTransport) IsConnected() bool                 { return true }
func (f *fakeTransport) ConnectedNeighbors() []core.Address {
	return f.neighbors
}
func (f *fakeTransport) SendToNeighbor(ctx context.Context, neighbor core.Address, payload []byte) (uint64, error) {
	env, err := codec.DecodeEnvelope(payload)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEnvelope{neighbor: neighbor, envelope: env})
	return uint64(len(f.sent)), nil
}
func (f *fakeTransport) SetPayloadHandler(fn transport.PayloadHandler) {}
func (f *fakeTransport) SetStateHandler(fn transport.StateHandler)     {}

func (f *fakeTransport) lastSent() (sentEnvelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentEnvelope{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func newTestEngine(t *testing.T, self core.Address, neighbors []core.Address) (*Engine, *fakeTransport, *core.Registry, store.RouteTable, *clock.Clock) {
	t.Helper()
	tr := &fakeTransport{neighbors: neighbors}
	reg := core.NewRegistry()
	routes := memory.New()
	cl := clock.New()
	now := int64(1_000_000)
	cl.SetNowFn(func() int64 { return now })

	eng := New(Config{
		SelfAddress: self,
		Registry:    reg,
		Routes:      routes,
		Clock:       cl,
		Crypto:      fakeCrypto{},
		Transport:   tr,
	})
	return eng, tr, reg, routes, cl
}

func seedRoute(t *testing.T, reg *core.Registry, routes store.RouteTable, destination, nextHop core.Address, discoveredAt int64) store.RouteEntry {
	t.Helper()
	destLocalID := reg.Resolve(destination)
	nextHopLocalID := reg.Resolve(nextHop)
	route := store.RouteEntry{
		DiscoveryUUID:      uuid.New(),
		DestinationLocalID: destLocalID,
		NextHopLocalID:     nextHopLocalID,
		Opened:             true,
		DiscoveredAtMillis: discoveredAt,
	}
	if err := routes.InsertRoute(route); err != nil {
		t.Fatalf("InsertRoute() error = %v", err)
	}
	return route
}

func TestSend_NoRouteReturnsNoRoute(t *testing.T) {
	eng, _, _, _, _ := newTestEngine(t, "self", nil)

	result, err := eng.Send(context.Background(), "dest", "sender", []byte("hi"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Kind != SendNoRoute {
		t.Fatalf("result.Kind = %v, want SendNoRoute", result.Kind)
	}
}

func TestSend_FirstUseInsertsUsageAndForwards(t *testing.T) {
	eng, tr, reg, routes, _ := newTestEngine(t, "self", []core.Address{"next"})
	route := seedRoute(t, reg, routes, "dest", "next", 1)

	result, err := eng.Send(context.Background(), "dest", "self", []byte("hello"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Kind != SendSent {
		t.Fatalf("result.Kind = %v, want SendSent", result.Kind)
	}

	sent, ok := tr.lastSent()
	if !ok {
		t.Fatal("expected a routed message to be sent")
	}
	if sent.neighbor != "next" {
		t.Errorf("sent to %q, want %q", sent.neighbor, "next")
	}
	if sent.envelope.MessageType != codec.MessageTypeRoutedMessage {
		t.Errorf("message type = %v, want RoutedMessage", sent.envelope.MessageType)
	}
	msg, err := codec.DecodeRoutedMessage(sent.envelope.EncryptedData)
	if err != nil {
		t.Fatalf("DecodeRoutedMessage() error = %v", err)
	}
	if msg.RouteUUID != route.DiscoveryUUID {
		t.Errorf("RouteUUID = %s, want %s", msg.RouteUUID, route.DiscoveryUUID)
	}

	usage, err := routes.GetMostRecentUsage(reg.Resolve("dest"))
	if err != nil {
		t.Fatalf("GetMostRecentUsage() error = %v", err)
	}
	if usage.LastUsedTimestamp != 1_000_000 {
		t.Errorf("LastUsedTimestamp = %d, want 1000000", usage.LastUsedTimestamp)
	}
}

func TestSend_StaleRouteIsInvalidated(t *testing.T) {
	eng, _, reg, routes, cl := newTestEngine(t, "self", []core.Address{"next"})
	route := seedRoute(t, reg, routes, "dest", "next", 1)
	if err := routes.InsertUsage(store.RouteUsage{
		UsageRequestUUID:        uuid.New(),
		RouteEntryDiscoveryUUID: route.DiscoveryUUID,
		LastUsedTimestamp:       0,
	}); err != nil {
		t.Fatalf("InsertUsage() error = %v", err)
	}
	cl.SetNowFn(func() int64 { return 13 * 60 * 60 * 1000 }) // 13h after last use

	result, err := eng.Send(context.Background(), "dest", "self", []byte("hello"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Kind != SendNoRoute {
		t.Fatalf("result.Kind = %v, want SendNoRoute (stale route)", result.Kind)
	}
	if _, err := routes.GetMostRecentOpenedRoute(reg.Resolve("dest")); err != store.ErrNotFound {
		t.Errorf("expected stale route to be deleted, err = %v", err)
	}
}

func TestSend_DisconnectedNextHopInvalidatesRoute(t *testing.T) {
	eng, _, reg, routes, _ := newTestEngine(t, "self", nil) // "next" not connected
	seedRoute(t, reg, routes, "dest", "next", 1)

	result, err := eng.Send(context.Background(), "dest", "self", []byte("hello"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Kind != SendNoRoute {
		t.Fatalf("result.Kind = %v, want SendNoRoute", result.Kind)
	}
	if _, err := routes.GetMostRecentOpenedRoute(reg.Resolve("dest")); err != store.ErrNotFound {
		t.Errorf("expected route with disconnected next hop to be deleted, err = %v", err)
	}
}

func TestOnIncomingRouted_DeliversWhenSelfIsDestination(t *testing.T) {
	eng, _, _, _, _ := newTestEngine(t, "self", nil)

	var gotSender core.Address
	var gotPayload []byte
	var gotID uint64
	eng.onRoutedMessageReceived = func(sender core.Address, payload []byte, payloadID uint64) {
		gotSender, gotPayload, gotID = sender, payload, payloadID
	}

	msg := codec.RoutedMessage{
		FinalDestinationAddress: "self",
		OriginalSenderAddress:   "origin",
		E2EEncryptedBody:        []byte("secret"),
	}
	if err := eng.OnIncomingRouted(context.Background(), "prev-hop", 7, msg); err != nil {
		t.Fatalf("OnIncomingRouted() error = %v", err)
	}

	if gotSender != "origin" {
		t.Errorf("sender = %q, want %q", gotSender, "origin")
	}
	if string(gotPayload) != "secret" {
		t.Errorf("payload = %q, want %q", gotPayload, "secret")
	}
	if gotID != 7 {
		t.Errorf("payloadID = %d, want 7 (stamped from transport)", gotID)
	}
}

func TestOnIncomingRouted_PrefersCarriedPayloadID(t *testing.T) {
	eng, _, _, _, _ := newTestEngine(t, "self", nil)

	var gotID uint64
	eng.onRoutedMessageReceived = func(sender core.Address, payload []byte, payloadID uint64) {
		gotID = payloadID
	}

	carried := uint64(99)
	msg := codec.RoutedMessage{
		FinalDestinationAddress: "self",
		OriginalSenderAddress:   "origin",
		E2EEncryptedBody:        []byte("secret"),
		PayloadID:               &carried,
	}
	if err := eng.OnIncomingRouted(context.Background(), "prev-hop", 7, msg); err != nil {
		t.Fatalf("OnIncomingRouted() error = %v", err)
	}
	if gotID != 99 {
		t.Errorf("payloadID = %d, want 99 (carried value)", gotID)
	}
}

func TestOnIncomingRouted_RelaysAndStampsPayloadID(t *testing.T) {
	eng, tr, reg, routes, _ := newTestEngine(t, "self", []core.Address{"next"})
	seedRoute(t, reg, routes, "dest", "next", 1)

	msg := codec.RoutedMessage{
		FinalDestinationAddress: "dest",
		OriginalSenderAddress:   "origin",
		E2EEncryptedBody:        []byte("secret"),
	}
	if err := eng.OnIncomingRouted(context.Background(), "prev-hop", 42, msg); err != nil {
		t.Fatalf("OnIncomingRouted() error = %v", err)
	}

	sent, ok := tr.lastSent()
	if !ok {
		t.Fatal("expected relay to next hop")
	}
	relayed, err := codec.DecodeRoutedMessage(sent.envelope.EncryptedData)
	if err != nil {
		t.Fatalf("DecodeRoutedMessage() error = %v", err)
	}
	if relayed.PayloadID == nil || *relayed.PayloadID != 42 {
		t.Errorf("relayed PayloadID = %v, want stamped 42", relayed.PayloadID)
	}
}

func TestOnIncomingRouted_DropsWithNoRoute(t *testing.T) {
	eng, tr, _, _, _ := newTestEngine(t, "self", nil)

	msg := codec.RoutedMessage{
		FinalDestinationAddress: "dest",
		OriginalSenderAddress:   "origin",
		E2EEncryptedBody:        []byte("secret"),
	}
	if err := eng.OnIncomingRouted(context.Background(), "prev-hop", 1, msg); err != nil {
		t.Fatalf("OnIncomingRouted() error = %v", err)
	}
	if len(tr.sent) != 0 {
		t.Errorf("expected no forwarding attempt, sent = %+v", tr.sent)
	}
}
