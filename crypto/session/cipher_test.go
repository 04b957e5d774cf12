package session

import (
	"bytes"
	"testing"
)

func TestCipherSession_EncryptDecryptRoundTrip(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, 32)
	sender, err := newCipherSession(secret)
	if err != nil {
		t.Fatalf("newCipherSession() error = %v", err)
	}
	receiver, err := newCipherSession(secret)
	if err != nil {
		t.Fatalf("newCipherSession() error = %v", err)
	}

	plaintext := []byte("hop-by-hop forwarded payload")
	ciphertext, err := sender.encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}

	got, err := receiver.decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypt() = %q, want %q", got, plaintext)
	}
}

func TestCipherSession_DifferentSecretsFailToDecrypt(t *testing.T) {
	sender, err := newCipherSession(bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatalf("newCipherSession() error = %v", err)
	}
	receiver, err := newCipherSession(bytes.Repeat([]byte{0x02}, 32))
	if err != nil {
		t.Fatalf("newCipherSession() error = %v", err)
	}

	ciphertext, err := sender.encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}
	if _, err := receiver.decrypt(ciphertext); err == nil {
		t.Error("expected decrypt with mismatched secret to fail")
	}
}

func TestCipherSession_EmptyPlaintext(t *testing.T) {
	secret := bytes.Repeat([]byte{0x09}, 32)
	s, err := newCipherSession(secret)
	if err != nil {
		t.Fatalf("newCipherSession() error = %v", err)
	}

	ciphertext, err := s.encrypt(nil)
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}
	plaintext, err := s.decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if len(plaintext) != 0 {
		t.Errorf("decrypt() = %v, want empty", plaintext)
	}
}
