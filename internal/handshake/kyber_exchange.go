package handshake

import (
	"io"

	"github.com/lanpeer/beacon/internal/errors"
	"github.com/lanpeer/beacon/internal/kem"
)

// KyberExchangeStep performs the ML-KEM-1024 key agreement, grounded on
// original_source/protocols/tls/src/handshake.rs's KyberExchangeStep.
//
// Fixes the documented source bug: the initiator's ciphertext
// read uses io.ReadFull for exactly kem.CiphertextSize bytes instead of a
// single bounded Read into an oversized buffer that assumes the full
// ciphertext arrives in one call.
type KyberExchangeStep struct {
	protocolID string
}

// NewKyberExchangeStep constructs a KyberExchangeStep. The role is read
// from shared TlsState at execution time, as resolved by the preceding
// HelloStep.
func NewKyberExchangeStep() *KyberExchangeStep {
	return &KyberExchangeStep{protocolID: "kyber-exchange"}
}

func (s *KyberExchangeStep) ProtocolID() string      { return s.protocolID }
func (s *KyberExchangeStep) SetProtocolID(id string) { s.protocolID = id }

// Execute performs the initiator or responder half of the ML-KEM-1024
// exchange and writes the resulting 32-byte shared secret into state.
func (s *KyberExchangeStep) Execute(stream Stream, state *TlsState, input []byte) ([]byte, error) {
	switch state.Role() {
	case RoleInitiator:
		kp, err := kem.GenerateKeyPair()
		if err != nil {
			return nil, &errors.HandshakeError{Step: "kyber-exchange", Message: "generate key pair", Err: err}
		}

		if _, err := stream.Write(kp.PublicKey()); err != nil {
			return nil, &errors.HandshakeError{Step: "kyber-exchange", Message: "write public key", Err: err}
		}

		ciphertext := make([]byte, kem.CiphertextSize)
		if _, err := io.ReadFull(stream, ciphertext); err != nil {
			return nil, &errors.HandshakeError{Step: "kyber-exchange", Message: "read ciphertext", Err: err}
		}

		sharedSecret, err := kp.Decapsulate(ciphertext)
		if err != nil {
			return nil, &errors.HandshakeError{Step: "kyber-exchange", Message: "decapsulate", Err: err}
		}
		state.SetSessionKey(sharedSecret)
		return input, nil

	case RoleResponder:
		publicKey := make([]byte, kem.PublicKeySize)
		if _, err := io.ReadFull(stream, publicKey); err != nil {
			return nil, &errors.HandshakeError{Step: "kyber-exchange", Message: "read public key", Err: err}
		}

		ciphertext, sharedSecret, err := kem.Encapsulate(publicKey)
		if err != nil {
			return nil, &errors.HandshakeError{Step: "kyber-exchange", Message: "encapsulate", Err: err}
		}

		if _, err := stream.Write(ciphertext); err != nil {
			return nil, &errors.HandshakeError{Step: "kyber-exchange", Message: "write ciphertext", Err: err}
		}
		state.SetSessionKey(sharedSecret)
		return input, nil

	default:
		return nil, &errors.HandshakeError{Step: "kyber-exchange", Message: "role must be resolved before key exchange"}
	}
}
