package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kabili207/meshroute/core"
)

func mustKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	return kp
}

func TestManager_EncryptDecryptRoundTrip(t *testing.T) {
	alice := mustKeyPair(t)
	bob := mustKeyPair(t)

	aliceSide := NewManager(alice, nil, nil)
	aliceSide.RegisterPeer("bob", bob.PublicKey)

	bobSide := NewManager(bob, nil, nil)
	bobSide.RegisterPeer("alice", alice.PublicKey)

	plaintext := []byte("route discovery payload")
	ciphertext, err := aliceSide.Encrypt("bob", plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	decrypted, err := bobSide.Decrypt("alice", ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestManager_EncryptUnknownPeer(t *testing.T) {
	alice := mustKeyPair(t)
	mgr := NewManager(alice, nil, nil)

	_, err := mgr.Encrypt("nobody", []byte("hi"))
	if !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("Encrypt() error = %v, want ErrUnknownPeer", err)
	}
}

func TestManager_SuccessiveMessagesUseDistinctCiphertext(t *testing.T) {
	alice := mustKeyPair(t)
	bob := mustKeyPair(t)

	aliceSide := NewManager(alice, nil, nil)
	aliceSide.RegisterPeer("bob", bob.PublicKey)

	plaintext := []byte("same payload twice")
	c1, err := aliceSide.Encrypt("bob", plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	c2, err := aliceSide.Encrypt("bob", plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(c1, c2) {
		t.Error("expected distinct ciphertexts for successive messages under an incrementing counter")
	}
}

func TestManager_DecryptTamperedCiphertextFails(t *testing.T) {
	alice := mustKeyPair(t)
	bob := mustKeyPair(t)

	aliceSide := NewManager(alice, nil, nil)
	aliceSide.RegisterPeer("bob", bob.PublicKey)
	bobSide := NewManager(bob, nil, nil)
	bobSide.RegisterPeer("alice", alice.PublicKey)

	ciphertext, err := aliceSide.Encrypt("bob", []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	tampered := append([]byte{}, ciphertext...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := bobSide.Decrypt("alice", tampered); err == nil {
		t.Error("expected decrypt of tampered ciphertext to fail")
	}
}

func TestManager_DecryptTooShortFails(t *testing.T) {
	alice := mustKeyPair(t)
	bob := mustKeyPair(t)

	bobSide := NewManager(bob, nil, nil)
	bobSide.RegisterPeer("alice", alice.PublicKey)

	if _, err := bobSide.Decrypt("alice", []byte{0x01, 0x02}); !errors.Is(err, ErrCiphertextTooShort) {
		t.Fatalf("Decrypt() error = %v, want ErrCiphertextTooShort", err)
	}
}

func TestManager_RegisterPeerResetsSession(t *testing.T) {
	alice := mustKeyPair(t)
	bob := mustKeyPair(t)
	other := mustKeyPair(t)

	aliceSide := NewManager(alice, nil, nil)
	bobSide := NewManager(bob, nil, nil)
	otherSide := NewManager(other, nil, nil)

	aliceSide.RegisterPeer("bob", bob.PublicKey)
	bobSide.RegisterPeer("alice", alice.PublicKey)

	ciphertext, err := aliceSide.Encrypt("bob", []byte("first"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := bobSide.Decrypt("alice", ciphertext); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}

	// Re-keying "bob" under a different identity must invalidate the
	// cached session rather than reuse the stale shared secret.
	aliceSide.RegisterPeer("bob", other.PublicKey)
	ciphertext2, err := aliceSide.Encrypt("bob", []byte("second"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	otherSide.RegisterPeer("alice", alice.PublicKey)
	decrypted, err := otherSide.Decrypt("alice", ciphertext2)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(decrypted) != "second" {
		t.Errorf("decrypted = %q, want %q", decrypted, "second")
	}
}
