package main

import (
	"testing"

	"github.com/kabili207/meshroute/internal/config"
)

func TestBuildStorage_Memory(t *testing.T) {
	b, err := buildStorage(config.StorageConfig{Backend: "memory"}, nil)
	if err != nil {
		t.Fatalf("buildStorage() error = %v", err)
	}
	if b == nil {
		t.Fatal("buildStorage() returned nil backend")
	}
}

func TestBuildStorage_Badger(t *testing.T) {
	b, err := buildStorage(config.StorageConfig{Backend: "badger", Path: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("buildStorage() error = %v", err)
	}
	if b == nil {
		t.Fatal("buildStorage() returned nil backend")
	}
}

func TestBuildTransport_NoneConfiguredReturnsError(t *testing.T) {
	if _, err := buildTransport(config.TransportConfig{}, "self", nil); err == nil {
		t.Fatal("buildTransport() expected error with no links configured")
	}
}

func TestBuildTransport_SingleSerialLinkUnwrapped(t *testing.T) {
	tr, err := buildTransport(config.TransportConfig{
		Serial: []config.SerialConfig{{Port: "/dev/ttyUSB0", PeerAddress: "peer"}},
	}, "self", nil)
	if err != nil {
		t.Fatalf("buildTransport() error = %v", err)
	}
	if tr == nil {
		t.Fatal("buildTransport() returned nil transport")
	}
}

func TestBuildTransport_MultipleLinksMultiplexed(t *testing.T) {
	tr, err := buildTransport(config.TransportConfig{
		MQTT: &config.MQTTConfig{Broker: "tcp://localhost:1883"},
		Serial: []config.SerialConfig{
			{Port: "/dev/ttyUSB0", PeerAddress: "peer-a"},
		},
	}, "self", nil)
	if err != nil {
		t.Fatalf("buildTransport() error = %v", err)
	}
	if tr == nil {
		t.Fatal("buildTransport() returned nil transport")
	}
}
