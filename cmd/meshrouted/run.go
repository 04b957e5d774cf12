package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/core/codec"
	"github.com/kabili207/meshroute/core/store"
	"github.com/kabili207/meshroute/core/store/badger"
	"github.com/kabili207/meshroute/core/store/memory"
	"github.com/kabili207/meshroute/crypto/session"
	"github.com/kabili207/meshroute/device/mesh"
	"github.com/kabili207/meshroute/internal/config"
	"github.com/kabili207/meshroute/transport"
	mqtttransport "github.com/kabili207/meshroute/transport/mqtt"
	serialtransport "github.com/kabili207/meshroute/transport/serial"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a mesh routing node",
		RunE:  runNode,
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))

	identity, err := loadOrCreateIdentity(cfg.Node.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("loading node identity: %w", err)
	}
	peerKeys, err := parsePeerKeys(cfg.Node.Peers)
	if err != nil {
		return fmt.Errorf("loading peer keys: %w", err)
	}
	crypto := session.NewManager(identity, peerKeys, logger)

	backing, err := buildStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	tr, err := buildTransport(cfg.Transport, core.Address(cfg.Node.Address), logger)
	if err != nil {
		return fmt.Errorf("initializing transport: %w", err)
	}

	node := mesh.New(mesh.Config{
		SelfAddress:           core.Address(cfg.Node.Address),
		Routes:                backing,
		Discovery:             backing,
		Crypto:                crypto,
		Transport:             tr,
		Logger:                logger,
		MaxInactivityMillis:   cfg.Discovery.MaxInactivity.Milliseconds(),
		DefaultRouteHops:      cfg.Discovery.DefaultRouteHops,
		DefaultRouteTTLMillis: cfg.Discovery.DefaultRouteTTL.Milliseconds(),
		OnRouteFound: func(destination core.Address, route store.RouteEntry) {
			logger.Info("route found", "destination", destination, "route", route.DiscoveryUUID)
		},
		OnRouteNotFound: func(requestUUID uuid.UUID, destination core.Address, status codec.Status) {
			logger.Warn("route discovery failed", "destination", destination, "request", requestUUID, "status", status)
		},
		OnRoutedMessageReceived: func(originalSender core.Address, payload []byte, payloadID uint64) {
			logger.Info("message delivered", "sender", originalSender, "bytes", len(payload), "payload_id", payloadID)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("meshrouted starting", "address", cfg.Node.Address)
	if err := node.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("node exited: %w", err)
	}
	logger.Info("meshrouted stopped")
	return nil
}

// backend is the combined interface device/mesh.Config's Routes and
// Discovery fields need; both storage implementations satisfy it with a
// single underlying struct, so the same value is handed to both fields.
type backend interface {
	store.RouteTable
	store.DiscoveryStore
}

func buildStorage(cfg config.StorageConfig, logger *slog.Logger) (backend, error) {
	if cfg.Backend == "memory" {
		return memory.New(), nil
	}
	db, err := badger.Open(badger.Config{Path: cfg.Path, Logger: logger})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func buildTransport(cfg config.TransportConfig, self core.Address, logger *slog.Logger) (transport.Transport, error) {
	var members []transport.Transport

	if cfg.MQTT != nil {
		neighbors := make([]core.Address, 0, len(cfg.MQTT.Neighbors))
		for _, n := range cfg.MQTT.Neighbors {
			neighbors = append(neighbors, core.Address(n))
		}
		members = append(members, mqtttransport.New(mqtttransport.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			UseTLS:      cfg.MQTT.UseTLS,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			MeshID:      cfg.MQTT.MeshID,
			SelfAddress: self,
			Neighbors:   neighbors,
			Logger:      logger,
		}))
	}

	for _, s := range cfg.Serial {
		members = append(members, serialtransport.New(serialtransport.Config{
			Port:        s.Port,
			BaudRate:    s.BaudRate,
			PeerAddress: core.Address(s.PeerAddress),
			Logger:      logger,
		}))
	}

	if len(members) == 0 {
		return nil, fmt.Errorf("no transport links configured")
	}
	if len(members) == 1 {
		return members[0], nil
	}
	return transport.NewMultiplexer(members...), nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
