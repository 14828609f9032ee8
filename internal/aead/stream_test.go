package aead

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func zeroKeyNonce() ([]byte, []byte) {
	return make([]byte, KeySize), make([]byte, NonceSize)
}

func TestEncryptDecryptStreamRoundTrip(t *testing.T) {
	key, nonce := zeroKeyNonce()

	plaintext := make([]byte, 4500)
	if _, err := rand.Read(plaintext); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	encSession, err := NewSession(key, nonce)
	if err != nil {
		t.Fatalf("NewSession (encrypt): %v", err)
	}
	var framed bytes.Buffer
	if err := encSession.EncryptStream(&framed, bytes.NewReader(plaintext)); err != nil {
		t.Fatalf("EncryptStream: %v", err)
	}

	decSession, err := NewSession(key, nonce)
	if err != nil {
		t.Fatalf("NewSession (decrypt): %v", err)
	}
	var recovered bytes.Buffer
	if err := decSession.DecryptStream(&recovered, bytes.NewReader(framed.Bytes())); err != nil {
		t.Fatalf("DecryptStream: %v", err)
	}

	if !bytes.Equal(recovered.Bytes(), plaintext) {
		t.Fatalf("recovered plaintext does not match original (%d vs %d bytes)", recovered.Len(), len(plaintext))
	}
}

func TestEncryptOnceDecryptOnce(t *testing.T) {
	key, nonce := zeroKeyNonce()
	s1, _ := NewSession(key, nonce)
	s2, _ := NewSession(key, nonce)

	pt := []byte("hello, beacon")
	ct := s1.EncryptOnce(pt)
	got, err := s2.DecryptOnce(ct)
	if err != nil {
		t.Fatalf("DecryptOnce: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("got %q, want %q", got, pt)
	}
}

func TestDecryptOnceAuthFailure(t *testing.T) {
	key, nonce := zeroKeyNonce()
	s1, _ := NewSession(key, nonce)
	s2, _ := NewSession(key, nonce)

	ct := s1.EncryptOnce([]byte("hello"))
	ct[len(ct)-1] ^= 0xFF

	if _, err := s2.DecryptOnce(ct); err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptStreamTruncatedFrame(t *testing.T) {
	key, nonce := zeroKeyNonce()
	s1, _ := NewSession(key, nonce)

	var framed bytes.Buffer
	if err := s1.EncryptStream(&framed, bytes.NewReader([]byte("short message"))); err != nil {
		t.Fatalf("EncryptStream: %v", err)
	}

	truncated := framed.Bytes()[:len(framed.Bytes())-5]

	s2, _ := NewSession(key, nonce)
	var out bytes.Buffer
	if err := s2.DecryptStream(&out, bytes.NewReader(truncated)); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestIncrementNonceCarriesLittleEndian(t *testing.T) {
	key := make([]byte, KeySize)
	nonce := make([]byte, NonceSize)
	nonce[0] = 0xFF

	s, err := NewSession(key, nonce)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	s.incrementNonce()
	if s.nonce[0] != 0x00 || s.nonce[1] != 0x01 {
		t.Fatalf("expected carry into byte 1, got nonce=% x", s.nonce)
	}
}
