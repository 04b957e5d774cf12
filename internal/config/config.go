// Package config loads meshrouted's node configuration from a YAML file,
// environment variables, and CLI overrides, using viper the way the
// pack's ollama-distributed daemon loads its own.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete configuration for a meshrouted node.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Storage   StorageConfig   `yaml:"storage"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig identifies this node and its durable key material.
type NodeConfig struct {
	// Address is this node's mesh address.
	Address string `yaml:"address"`
	// PrivateKeyPath is the path to this node's Ed25519 private key as raw
	// 64-byte binary; PEM files are not parsed. If the file does not exist,
	// a fresh key pair is generated and written there on first run.
	PrivateKeyPath string `yaml:"private_key_path"`
	// Peers maps a peer's mesh address to its base64-encoded Ed25519
	// public key, seeding crypto/session.Manager at startup.
	Peers map[string]string `yaml:"peers"`
}

// StorageConfig selects and configures the Route Table / Discovery State
// backend.
type StorageConfig struct {
	// Backend is "memory" or "badger". Defaults to "badger".
	Backend string `yaml:"backend"`
	// Path is the badgerhold data directory. Ignored for "memory".
	Path string `yaml:"path"`
}

// DiscoveryConfig tunes the C3 Discovery Engine's defaults.
type DiscoveryConfig struct {
	MaxInactivity    time.Duration `yaml:"max_inactivity"`
	DefaultRouteHops uint32        `yaml:"default_route_hops"`
	DefaultRouteTTL  time.Duration `yaml:"default_route_ttl"`
}

// TransportConfig configures the transport links multiplexed into one
// logical Transport. At least one of MQTT or Serial must be set.
type TransportConfig struct {
	MQTT   *MQTTConfig    `yaml:"mqtt"`
	Serial []SerialConfig `yaml:"serial"`
}

// MQTTConfig mirrors transport/mqtt.Config's fields that make sense to
// expose on the wire.
type MQTTConfig struct {
	Broker      string   `yaml:"broker"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	UseTLS      bool     `yaml:"use_tls"`
	ClientID    string   `yaml:"client_id"`
	TopicPrefix string   `yaml:"topic_prefix"`
	MeshID      string   `yaml:"mesh_id"`
	Neighbors   []string `yaml:"neighbors"`
}

// SerialConfig mirrors transport/serial.Config's fields. Each entry is one
// point-to-point radio/BLE-UART link to a single neighbor.
type SerialConfig struct {
	Port        string `yaml:"port"`
	BaudRate    int    `yaml:"baud_rate"`
	PeerAddress string `yaml:"peer_address"`
}

// LoggingConfig controls the root slog handler.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string `yaml:"level"`
}

// Default returns a Config with every non-zero default value set.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "badger",
			Path:    "./meshrouted-data",
		},
		Discovery: DiscoveryConfig{
			MaxInactivity:    12 * time.Hour,
			DefaultRouteHops: 10,
			DefaultRouteTTL:  5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configFile (or the standard search locations, if empty),
// overlays MESHROUTED_-prefixed environment variables, and unmarshals the
// result on top of Default().
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("meshrouted")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/meshrouted")
	}

	viper.SetEnvPrefix("MESHROUTED")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields Load cannot safely default.
func (c *Config) Validate() error {
	if c.Node.Address == "" {
		return fmt.Errorf("node.address is required")
	}
	switch c.Storage.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("storage.backend must be \"memory\" or \"badger\", got %q", c.Storage.Backend)
	}
	if c.Transport.MQTT == nil && len(c.Transport.Serial) == 0 {
		return fmt.Errorf("transport: at least one of mqtt or serial must be configured")
	}
	return nil
}
