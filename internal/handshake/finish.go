package handshake

import (
	"io"

	"github.com/lanpeer/beacon/internal/errors"
)

var (
	handshakeDoneMsg = []byte("HANDSHAKE_DONE")
	okMsg            = []byte("OK")
)

// FinishStep exchanges the final acknowledgement and returns its input
// unchanged for pipeline compatibility
type FinishStep struct {
	protocolID string
}

// NewFinishStep constructs a FinishStep. The role is read from shared
// TlsState at execution time, as resolved by the preceding HelloStep.
func NewFinishStep() *FinishStep {
	return &FinishStep{protocolID: "finish"}
}

func (s *FinishStep) ProtocolID() string      { return s.protocolID }
func (s *FinishStep) SetProtocolID(id string) { s.protocolID = id }

func (s *FinishStep) Execute(stream Stream, state *TlsState, input []byte) ([]byte, error) {
	switch state.Role() {
	case RoleInitiator:
		if _, err := stream.Write(handshakeDoneMsg); err != nil {
			return nil, &errors.HandshakeError{Step: "finish", Message: "write HANDSHAKE_DONE", Err: err}
		}
		ack := make([]byte, len(okMsg))
		if _, err := io.ReadFull(stream, ack); err != nil {
			return nil, &errors.HandshakeError{Step: "finish", Message: "read OK", Err: err}
		}
		if string(ack) != string(okMsg) {
			return nil, &errors.HandshakeError{Step: "finish", Message: "unexpected finish acknowledgement"}
		}
		return input, nil

	case RoleResponder:
		done := make([]byte, len(handshakeDoneMsg))
		if _, err := io.ReadFull(stream, done); err != nil {
			return nil, &errors.HandshakeError{Step: "finish", Message: "read HANDSHAKE_DONE", Err: err}
		}
		if string(done) != string(handshakeDoneMsg) {
			return nil, &errors.HandshakeError{Step: "finish", Message: "unexpected finish marker"}
		}
		if _, err := stream.Write(okMsg); err != nil {
			return nil, &errors.HandshakeError{Step: "finish", Message: "write OK", Err: err}
		}
		return input, nil

	default:
		return nil, &errors.HandshakeError{Step: "finish", Message: "role must be resolved before finishing"}
	}
}
