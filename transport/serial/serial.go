// Package serial provides a point-to-point serial Transport for a single
// radio/BLE-UART neighbor link. Frames use the RS232 magic-and-checksum
// framing defined in core/codec (core/codec/rs232.go, fletcher16.go) to
// delimit payloads on the wire.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/core/codec"
	"github.com/kabili207/meshroute/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultBaudRate is the default baud rate for a radio/BLE-UART link.
	DefaultBaudRate = 115200

	// readBufSize is the size of the serial read buffer.
	readBufSize = 1024
)

// Config holds the configuration for a serial transport. A serial link
// connects exactly one neighbor, unlike transport/mqtt which can reach many
// addresses through a shared broker.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// PeerAddress is the single neighbor reachable over this link.
	PeerAddress core.Address
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a single serial connection.
type Transport struct {
	cfg    Config
	port   serial.Port
	log    *slog.Logger

	mu             sync.RWMutex
	connected      bool
	cancel         context.CancelFunc
	done           chan struct{}
	payloadHandler transport.PayloadHandler
	stateHandler   transport.StateHandler
	nextPayloadID  uint64
}

// New creates a new serial transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("serial"),
	}
}

// Start opens the serial port and begins reading frames.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("serial port is required")
	}
	if t.cfg.PeerAddress == "" {
		return errors.New("peer address is required")
	}

	mode := &serial.Mode{BaudRate: t.cfg.BaudRate}
	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	t.mu.Lock()
	t.port = port
	t.connected = true
	t.done = make(chan struct{})
	handler := t.stateHandler
	t.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.readLoop(readCtx)

	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate, "peer", t.cfg.PeerAddress)
	if handler != nil {
		handler(t, transport.EventConnected)
	}
	return nil
}

// Stop closes the serial port and stops the read loop.
func (t *Transport) Stop() error {
	t.mu.Lock()
	handler := t.stateHandler
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	t.connected = false
	port := t.port
	t.port = nil
	done := t.done
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	if done != nil {
		<-done
	}
	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
	return err
}

// IsConnected returns true if the serial port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// ConnectedNeighbors returns the single configured peer, or an empty slice
// if the link is down.
func (t *Transport) ConnectedNeighbors() []core.Address {
	if !t.IsConnected() {
		return nil
	}
	return []core.Address{t.cfg.PeerAddress}
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

// SendToNeighbor frames payload in an RS232 frame and writes it to the
// serial port. neighbor must match the configured PeerAddress.
func (t *Transport) SendToNeighbor(ctx context.Context, neighbor core.Address, payload []byte) (uint64, error) {
	if neighbor != t.cfg.PeerAddress {
		return 0, fmt.Errorf("serial: unknown neighbor %q (peer is %q)", neighbor, t.cfg.PeerAddress)
	}

	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()
	if !connected || port == nil {
		return 0, errors.New("not connected")
	}

	frame, err := codec.EncodeRS232Frame(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding RS232 frame: %w", err)
	}
	if _, err := port.Write(frame); err != nil {
		return 0, fmt.Errorf("writing to serial port: %w", err)
	}

	t.mu.Lock()
	t.nextPayloadID++
	id := t.nextPayloadID
	t.mu.Unlock()
	return id, nil
}

// readLoop continuously reads from the serial port and assembles RS232 frames.
func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.done)

	buf := make([]byte, readBufSize)
	var assemblyBuf []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				t.handleDisconnect(err)
				return
			}
			t.log.Error("serial read error", "error", err)
			t.handleDisconnect(err)
			return
		}
		if n == 0 {
			continue
		}

		assemblyBuf = append(assemblyBuf, buf[:n]...)
		assemblyBuf = t.processFrames(assemblyBuf)
	}
}

// processFrames extracts complete RS232 frames from the buffer and
// dispatches payloads. Returns any remaining bytes that don't form a
// complete frame.
func (t *Transport) processFrames(data []byte) []byte {
	for len(data) >= codec.MinFrameSize {
		frame, remaining, err := codec.DecodeRS232Frame(data)
		if err != nil {
			if errors.Is(err, codec.ErrIncompleteFrame) {
				return data
			}
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			return nil
		}
		data = remaining

		t.mu.Lock()
		t.nextPayloadID++
		id := t.nextPayloadID
		handler := t.payloadHandler
		t.mu.Unlock()

		if handler != nil {
			handler(t.cfg.PeerAddress, frame.Payload, id)
		}
	}
	return data
}

// findMagic searches for the RS232 magic bytes in data.
func findMagic(data []byte) int {
	magic := [2]byte{byte(uint16(codec.BridgePacketMagic) >> 8), byte(codec.BridgePacketMagic & 0xFF)}
	for i := 0; i+1 < len(data); i++ {
		if data[i] == magic[0] && data[i+1] == magic[1] {
			return i
		}
	}
	return -1
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("serial disconnected", "error", err)
	}
	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}
