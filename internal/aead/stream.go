// Package aead implements the post-handshake AEAD stream codec:
// AES-256-GCM with a chunked, length-prefixed frame format and an
// explicitly incrementing 96-bit nonce.
//
// No third-party AEAD implementation appears anywhere in the example pack;
// AES-256-GCM is the concrete choice here, so this package uses the
// standard library's crypto/aes + crypto/cipher directly (see DESIGN.md
// for the full justification).
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32

	// NonceSize is the AES-GCM nonce size in bytes (96 bits).
	NonceSize = 12

	// MaxChunkSize is the maximum plaintext chunk size per frame.
	MaxChunkSize = 1024
)

// ErrTruncated indicates a short read of a declared chunk (the Io error
// kind from ).
var ErrTruncated = errors.New("aead: truncated frame")

// ErrAuthFailed indicates an AEAD authentication tag mismatch.
var ErrAuthFailed = errors.New("aead: authentication failed")

var chunkPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, MaxChunkSize)
		return &buf
	},
}

// Session holds the session key and current nonce for one direction of an
// AEAD stream, as "AEAD session parameters". It is
// by-value except for the mutable nonce, which advances monotonically as
// frames are processed.
type Session struct {
	aead  cipher.AEAD
	nonce [NonceSize]byte
}

// NewSession constructs a Session from a 32-byte key and a 12-byte initial
// nonce.
func NewSession(key []byte, nonce []byte) (*Session, error) {
	if len(key) != KeySize {
		return nil, errors.New("aead: key must be 32 bytes")
	}
	if len(nonce) != NonceSize {
		return nil, errors.New("aead: nonce must be 12 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	s := &Session{aead: gcm}
	copy(s.nonce[:], nonce)
	return s, nil
}

// incrementNonce adds 1 to the nonce, treated as a 96-bit little-endian
// integer with carry fixed choice ("low-byte first,
// little-endian increment").
func (s *Session) incrementNonce() {
	for i := 0; i < NonceSize; i++ {
		s.nonce[i]++
		if s.nonce[i] != 0 {
			break
		}
	}
}

// EncryptOnce encrypts pt under the session's current nonce without
// advancing it ( "Single-shot" operation).
func (s *Session) EncryptOnce(pt []byte) []byte {
	return s.aead.Seal(nil, s.nonce[:], pt, nil)
}

// DecryptOnce decrypts ct under the session's current nonce without
// advancing it.
func (s *Session) DecryptOnce(ct []byte) ([]byte, error) {
	pt, err := s.aead.Open(nil, s.nonce[:], ct, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}

// EncryptStream reads plaintext from r in chunks of at most MaxChunkSize
// bytes, AEAD-encrypts each chunk under the session's nonce, and writes
// framed output `[len:u32 be][ct]` to w, incrementing the nonce after each
// frame. On EOF it writes a terminating zero-length frame and returns nil.
func (s *Session) EncryptStream(w io.Writer, r io.Reader) error {
	bufPtr := chunkPool.Get().(*[]byte)
	defer chunkPool.Put(bufPtr)
	buf := *bufPtr

	var lenPrefix [4]byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			ct := s.EncryptOnce(buf[:n])
			binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(ct)))
			if _, werr := w.Write(lenPrefix[:]); werr != nil {
				return werr
			}
			if _, werr := w.Write(ct); werr != nil {
				return werr
			}
			s.incrementNonce()
		}
		if err == io.EOF {
			binary.BigEndian.PutUint32(lenPrefix[:], 0)
			_, werr := w.Write(lenPrefix[:])
			return werr
		}
		if err != nil {
			return err
		}
	}
}

// DecryptStream reads framed ciphertext from r, AEAD-decrypts each frame
// under the session's nonce (incrementing after each), and writes the
// recovered plaintext to w. It stops cleanly at a zero-length terminator
// frame.
func (s *Session) DecryptStream(w io.Writer, r io.Reader) error {
	var lenPrefix [4]byte
	for {
		if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
			if err == io.EOF {
				// Clean EOF on a fresh frame boundary (no terminator seen).
				return nil
			}
			return ErrTruncated
		}

		frameLen := binary.BigEndian.Uint32(lenPrefix[:])
		if frameLen == 0 {
			return nil
		}

		ct := make([]byte, frameLen)
		if _, err := io.ReadFull(r, ct); err != nil {
			return ErrTruncated
		}

		pt, err := s.DecryptOnce(ct)
		if err != nil {
			return err
		}
		if _, err := w.Write(pt); err != nil {
			return err
		}
		s.incrementNonce()
	}
}
