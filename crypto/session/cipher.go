package session

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// counterSize is the width of the send-counter prefix carried with every
// ciphertext so the receiving side can rederive the nonce without keeping
// synchronized state across peers.
const counterSize = 8

var (
	ErrCiphertextTooShort = errors.New("ciphertext shorter than counter prefix")
)

// cipherSession is one peer's end of the ratchet: a fixed AEAD key derived
// once from the ECDH secret, and a monotonically increasing send counter
// that feeds nonce derivation.
type cipherSession struct {
	secret      []byte
	aeadKey     []byte
	sendCounter atomic.Uint64
}

func newCipherSession(secret []byte) (*cipherSession, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	return &cipherSession{secret: secret, aeadKey: key}, nil
}

// encrypt seals plaintext under a nonce derived from the next send counter
// value, and returns [counter(8, big-endian) || sealed].
func (s *cipherSession) encrypt(plaintext []byte) ([]byte, error) {
	ctr := s.sendCounter.Add(1)
	nonce, err := deriveNonce(s.secret, ctr)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(s.aeadKey)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD cipher: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, counterSize+len(sealed))
	binary.BigEndian.PutUint64(out[:counterSize], ctr)
	copy(out[counterSize:], sealed)
	return out, nil
}

// decrypt reads the counter prefix, rederives the nonce, and opens the
// sealed payload.
func (s *cipherSession) decrypt(data []byte) ([]byte, error) {
	if len(data) < counterSize {
		return nil, ErrCiphertextTooShort
	}
	ctr := binary.BigEndian.Uint64(data[:counterSize])

	nonce, err := deriveNonce(s.secret, ctr)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(s.aeadKey)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, data[counterSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("AEAD open failed: %w", err)
	}
	return plaintext, nil
}

func deriveKey(secret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte("meshroute session key"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	return key, nil
}

func deriveNonce(secret []byte, counter uint64) ([]byte, error) {
	info := make([]byte, counterSize)
	binary.BigEndian.PutUint64(info, counter)

	r := hkdf.New(sha256.New, secret, nil, info)
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("deriving nonce: %w", err)
	}
	return nonce, nil
}
