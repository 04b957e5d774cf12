package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/crypto/session"
)

// loadOrCreateIdentity reads a raw 64-byte Ed25519 private key from path,
// generating and persisting a fresh one if the file doesn't exist yet.
func loadOrCreateIdentity(path string) (*session.KeyPair, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		kp, genErr := session.GenerateKeyPair()
		if genErr != nil {
			return nil, fmt.Errorf("generating identity key pair: %w", genErr)
		}
		if writeErr := os.WriteFile(path, kp.PrivateKey, 0o600); writeErr != nil {
			return nil, fmt.Errorf("writing identity key pair to %s: %w", path, writeErr)
		}
		return kp, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading identity key pair from %s: %w", path, err)
	}
	return session.KeyPairFromPrivateKey(raw)
}

// parsePeerKeys decodes a map of address to base64-encoded Ed25519 public
// key, as found in config.NodeConfig.Peers.
func parsePeerKeys(peers map[string]string) (map[core.Address]ed25519.PublicKey, error) {
	out := make(map[core.Address]ed25519.PublicKey, len(peers))
	for addr, encoded := range peers {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding public key for peer %s: %w", addr, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key for peer %s: expected %d bytes, got %d", addr, ed25519.PublicKeySize, len(raw))
		}
		out[core.Address(addr)] = ed25519.PublicKey(raw)
	}
	return out, nil
}
