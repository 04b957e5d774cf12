package session

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kabili207/meshroute/core"
)

// Provider is the crypto contract a mesh node consumes: symmetric
// encrypt/decrypt keyed by peer address, with no assumptions about how a
// session was established.
type Provider interface {
	Encrypt(peer core.Address, plaintext []byte) ([]byte, error)
	Decrypt(peer core.Address, ciphertext []byte) ([]byte, error)
}

// ErrUnknownPeer is returned when no public key has been registered for a
// peer address, so no shared secret can be derived.
var ErrUnknownPeer = errors.New("no known public key for peer")

// Manager is the reference Provider implementation. It holds this node's
// identity key pair and lazily derives one cipherSession per peer the
// first time it's addressed.
type Manager struct {
	local *KeyPair
	log   *slog.Logger

	mu       sync.RWMutex
	peerKeys map[core.Address]ed25519.PublicKey
	sessions map[core.Address]*cipherSession
}

// NewManager creates a Manager for the given local identity. peerKeys
// seeds any peer public keys already known at startup; more can be added
// later with RegisterPeer.
func NewManager(local *KeyPair, peerKeys map[core.Address]ed25519.PublicKey, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	seeded := make(map[core.Address]ed25519.PublicKey, len(peerKeys))
	for addr, key := range peerKeys {
		seeded[addr] = key
	}
	return &Manager{
		local:    local,
		log:      logger.WithGroup("session"),
		peerKeys: seeded,
		sessions: make(map[core.Address]*cipherSession),
	}
}

// RegisterPeer records addr's public key, available for the next
// Encrypt/Decrypt call addressed to it.
func (m *Manager) RegisterPeer(addr core.Address, pubKey ed25519.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peerKeys[addr] = pubKey
	delete(m.sessions, addr)
}

// Encrypt implements Provider.
func (m *Manager) Encrypt(peer core.Address, plaintext []byte) ([]byte, error) {
	s, err := m.sessionFor(peer)
	if err != nil {
		return nil, err
	}
	return s.encrypt(plaintext)
}

// Decrypt implements Provider.
func (m *Manager) Decrypt(peer core.Address, ciphertext []byte) ([]byte, error) {
	s, err := m.sessionFor(peer)
	if err != nil {
		return nil, err
	}
	return s.decrypt(ciphertext)
}

func (m *Manager) sessionFor(peer core.Address) (*cipherSession, error) {
	m.mu.RLock()
	if s, ok := m.sessions[peer]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[peer]; ok {
		return s, nil
	}

	pub, ok := m.peerKeys[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	secret, err := ComputeSharedSecret(m.local.PrivateKey, pub)
	if err != nil {
		return nil, fmt.Errorf("deriving shared secret for %s: %w", peer, err)
	}
	s, err := newCipherSession(secret)
	if err != nil {
		return nil, err
	}
	m.sessions[peer] = s
	m.log.Debug("established session", "peer", peer)
	return s, nil
}
