// Package mqtt provides an MQTT-bridge Transport: neighbor addresses are
// mapped onto per-recipient MQTT topics so a shared broker (e.g. a
// companion phone acting as a Wi-Fi relay) can stand in for a short-range
// radio link between nodes that can't otherwise reach each other directly.
package mqtt

import (
	"context"
	"encoding/base64"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

// DefaultTopicPrefix is the default MQTT topic prefix for routing payloads.
const DefaultTopicPrefix = "meshroute"

// Config holds the configuration for an MQTT bridge transport.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "meshroute").
	TopicPrefix string
	// MeshID identifies this mesh network; topics are scoped under it.
	MeshID string
	// SelfAddress is this node's own address, used to build its inbound
	// subscription topic.
	SelfAddress core.Address
	// Neighbors are the peer addresses registered as reachable through this
	// broker when Start runs. MQTT has no native link-presence signal; the
	// sender of every inbound payload is registered as well, and any address
	// with no inbound traffic for the neighbor tracker's timeout is dropped.
	Neighbors []core.Address
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg     Config
	client  paho.Client
	log     *slog.Logger
	tracker *transport.NeighborTracker

	mu            sync.RWMutex
	connected     bool
	payloadHandler transport.PayloadHandler
	stateHandler   transport.StateHandler
	nextPayloadID  uint64
}

// New creates a new MQTT bridge transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:     cfg,
		log:     cfg.Logger.WithGroup("mqtt"),
		tracker: transport.NewNeighborTracker(transport.NeighborTrackerConfig{Logger: cfg.Logger}),
	}
}

// Start connects to the MQTT broker and begins listening for payloads
// addressed to SelfAddress.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if t.cfg.MeshID == "" {
		return errors.New("mesh ID is required")
	}
	if t.cfg.SelfAddress == "" {
		return errors.New("self address is required")
	}

	for _, n := range t.cfg.Neighbors {
		t.tracker.Register(n)
	}
	go t.tracker.Start(ctx)

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "meshroute-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	t.client = paho.NewClient(opts)

	token := t.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}
	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (t *Transport) Stop() error {
	t.tracker.Stop()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Disconnect(1000)
		t.connected = false
	}
	return nil
}

// IsConnected returns true if the transport is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
}

// ConnectedNeighbors lists neighbor addresses currently reachable through
// this bridge.
func (t *Transport) ConnectedNeighbors() []core.Address {
	return t.tracker.ConnectedNeighbors()
}

// SetPayloadHandler sets the callback for inbound payloads.
func (t *Transport) SetPayloadHandler(fn transport.PayloadHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payloadHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// SendToNeighbor publishes payload to neighbor's inbound topic, addressed
// from this node.
func (t *Transport) SendToNeighbor(ctx context.Context, neighbor core.Address, payload []byte) (uint64, error) {
	if !t.IsConnected() {
		return 0, errors.New("not connected")
	}
	topic := t.inboundTopicFor(neighbor) + "/" + string(t.cfg.SelfAddress)
	encoded := base64.StdEncoding.EncodeToString(payload)

	token := t.client.Publish(topic, 0, false, encoded)
	if !token.WaitTimeout(10 * time.Second) {
		return 0, errors.New("timeout publishing to MQTT")
	}
	if err := token.Error(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	t.nextPayloadID++
	id := t.nextPayloadID
	t.mu.Unlock()
	return id, nil
}

func (t *Transport) inboundTopicFor(addr core.Address) string {
	return t.cfg.TopicPrefix + "/" + t.cfg.MeshID + "/" + string(addr)
}

func (t *Transport) subscribe() {
	topic := t.inboundTopicFor(t.cfg.SelfAddress) + "/+"
	t.client.Subscribe(topic, 0, t.handleMessage)
	t.log.Debug("subscribed to inbound topic", "topic", topic)
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	t.mu.RLock()
	handler := t.payloadHandler
	t.mu.RUnlock()
	if handler == nil {
		return
	}

	parts := strings.Split(message.Topic(), "/")
	if len(parts) == 0 {
		return
	}
	sender := core.Address(parts[len(parts)-1])

	payload, err := base64.StdEncoding.DecodeString(string(message.Payload()))
	if err != nil {
		t.log.Debug("failed to decode base64 payload", "error", err)
		return
	}

	t.tracker.Register(sender)

	t.mu.Lock()
	t.nextPayloadID++
	id := t.nextPayloadID
	t.mu.Unlock()

	handler(sender, payload, id)
}

func (t *Transport) onConnected(_ paho.Client) {
	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.subscribe()
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)
	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)
	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnecting to MQTT broker")
	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
