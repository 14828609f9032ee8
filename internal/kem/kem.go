// Package kem wraps the ML-KEM-1024 key-encapsulation primitive behind a
// narrow {keygen, encapsulate, decapsulate} capability, treated as an
// external collaborator. No Go ML-KEM implementation exists anywhere in
// the example pack (corpus-wide grep for circl/kyber/mlkem/ml-kem/kem\.
// returns zero matches), so this wraps the ecosystem-standard
// github.com/cloudflare/circl implementation (see SPEC_FULL.md §6 for the
// dependency rationale).
package kem

import (
	"fmt"

	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"

	"github.com/lanpeer/beacon/internal/errors"
)

// Fixed wire sizes per FIPS 203 ML-KEM-1024: 1568/1568/32 bytes.
const (
	PublicKeySize  = mlkem1024.PublicKeySize
	CiphertextSize = mlkem1024.CiphertextSize
	SharedKeySize  = mlkem1024.SharedKeySize
)

// KeyPair holds a generated ML-KEM-1024 key pair for the initiator side of
// KyberExchangeStep.
type KeyPair struct {
	public  []byte
	private []byte
}

// GenerateKeyPair generates a fresh ML-KEM-1024 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	scheme := mlkem1024.Scheme()
	pk, sk, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, &errors.CryptoError{Operation: "ml-kem-1024 keygen", Err: err}
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, &errors.CryptoError{Operation: "ml-kem-1024 marshal public key", Err: err}
	}
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, &errors.CryptoError{Operation: "ml-kem-1024 marshal private key", Err: err}
	}
	return &KeyPair{public: pkBytes, private: skBytes}, nil
}

// PublicKey returns the 1568-byte encoded public key.
func (kp *KeyPair) PublicKey() []byte {
	return kp.public
}

// Decapsulate recovers the 32-byte shared secret from a 1568-byte
// ciphertext using this key pair's private key.
func (kp *KeyPair) Decapsulate(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != CiphertextSize {
		return nil, &errors.CryptoError{Operation: "ml-kem-1024 decapsulate", Err: errWrongSize("ciphertext", CiphertextSize, len(ciphertext))}
	}
	scheme := mlkem1024.Scheme()
	sk, err := scheme.UnmarshalBinaryPrivateKey(kp.private)
	if err != nil {
		return nil, &errors.CryptoError{Operation: "ml-kem-1024 unmarshal private key", Err: err}
	}
	ss, err := scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, &errors.CryptoError{Operation: "ml-kem-1024 decapsulate", Err: err}
	}
	return ss, nil
}

// Encapsulate generates a shared secret and ciphertext for the given
// 1568-byte encoded public key (the responder side of KyberExchangeStep).
func Encapsulate(publicKey []byte) (ciphertext, sharedSecret []byte, err error) {
	if len(publicKey) != PublicKeySize {
		return nil, nil, &errors.CryptoError{Operation: "ml-kem-1024 encapsulate", Err: errWrongSize("public key", PublicKeySize, len(publicKey))}
	}
	scheme := mlkem1024.Scheme()
	pk, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return nil, nil, &errors.CryptoError{Operation: "ml-kem-1024 unmarshal public key", Err: err}
	}
	ct, ss, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, &errors.CryptoError{Operation: "ml-kem-1024 encapsulate", Err: err}
	}
	return ct, ss, nil
}

type sizeError struct {
	what           string
	expect, actual int
}

func (e *sizeError) Error() string {
	return fmt.Sprintf("%s: expected %d bytes, got %d", e.what, e.expect, e.actual)
}

func errWrongSize(what string, expect, actual int) error {
	return &sizeError{what: what, expect: expect, actual: actual}
}
