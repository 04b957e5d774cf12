// Package session is a reference end-to-end session layer satisfying the
// node's crypto contract (Encrypt/Decrypt keyed by peer address). Identity
// keys are Ed25519; per-peer sessions derive an X25519 shared secret via
// ECDH and encrypt with ChaCha20-Poly1305, with each message's nonce
// derived from an incrementing send counter via HKDF. This is a minimal
// single-step ratchet, not a full double-ratchet session-bootstrap
// protocol — session key agreement itself is out of scope here, callers
// supply peer public keys directly.
package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

var (
	ErrInvalidPubKeySize  = errors.New("invalid public key size: expected 32 bytes")
	ErrInvalidPrivKeySize = errors.New("invalid private key size: expected 64 bytes")
)

// KeyPair holds an Ed25519 identity key pair.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair generates a new Ed25519 identity key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// KeyPairFromPrivateKey reconstructs a KeyPair from a 64-byte Ed25519 private key.
func KeyPairFromPrivateKey(privKey []byte) (*KeyPair, error) {
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivKeySize
	}
	priv := ed25519.PrivateKey(make([]byte, ed25519.PrivateKeySize))
	copy(priv, privKey)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// ed25519PubKeyToX25519 converts an Ed25519 public key to its X25519 (Curve25519) equivalent.
func ed25519PubKeyToX25519(edPubKey []byte) ([]byte, error) {
	point, err := new(edwards25519.Point).SetBytes(edPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid Ed25519 public key: %w", err)
	}
	return point.BytesMontgomery(), nil
}

// ed25519PrivKeyToX25519 converts an Ed25519 private key to its X25519 equivalent,
// following RFC 8032: SHA-512 the seed, then clamp the first 32 bytes.
func ed25519PrivKeyToX25519(edPrivKey ed25519.PrivateKey) ([]byte, error) {
	if len(edPrivKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivKeySize
	}

	seed := edPrivKey.Seed()
	h := sha512.Sum512(seed)

	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	return h[:32], nil
}

// ComputeSharedSecret derives a shared secret from a local Ed25519 private key
// and a remote Ed25519 public key using X25519 ECDH.
func ComputeSharedSecret(localPrivKey ed25519.PrivateKey, remotePubKey []byte) ([]byte, error) {
	if len(remotePubKey) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubKeySize
	}

	x25519Priv, err := ed25519PrivKeyToX25519(localPrivKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}

	x25519Pub, err := ed25519PubKeyToX25519(remotePubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key: %w", err)
	}

	secret, err := curve25519.X25519(x25519Priv, x25519Pub)
	if err != nil {
		return nil, fmt.Errorf("ECDH failed: %w", err)
	}

	return secret, nil
}
