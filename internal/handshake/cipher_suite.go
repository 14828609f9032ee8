package handshake

import "github.com/lanpeer/beacon/internal/errors"

// cipherSuiteReadLimit is the maximum number of bytes read for the peer's
// chosen cipher suite.
const cipherSuiteReadLimit = 1024

// CipherSuiteStep sends the locally offered cipher suites verbatim and
// returns whatever the peer sends back, unvalidated
type CipherSuiteStep struct {
	protocolID string
	offer      []byte
}

// NewCipherSuiteStep constructs a CipherSuiteStep.
func NewCipherSuiteStep() *CipherSuiteStep {
	return &CipherSuiteStep{protocolID: "cipher-suite"}
}

func (s *CipherSuiteStep) ProtocolID() string      { return s.protocolID }
func (s *CipherSuiteStep) SetProtocolID(id string) { s.protocolID = id }

// Execute sends the offered suites verbatim (the step's configured offer,
// or input when none is configured) and returns up to 1024 bytes read back
// from the peer as the negotiated suite. The initiator writes first and the
// responder reads first, so the two sides never block on simultaneous
// writes over an unbuffered stream such as net.Pipe. No validation is
// performed at this layer.
func (s *CipherSuiteStep) Execute(stream Stream, state *TlsState, input []byte) ([]byte, error) {
	offered := input
	if s.offer != nil {
		offered = s.offer
	}
	responder := state.Role() == RoleResponder

	if !responder {
		if _, err := stream.Write(offered); err != nil {
			return nil, &errors.HandshakeError{Step: "cipher-suite", Message: "write offered suites", Err: err}
		}
	}

	buf := make([]byte, cipherSuiteReadLimit)
	n, err := stream.Read(buf)
	if err != nil {
		return nil, &errors.HandshakeError{Step: "cipher-suite", Message: "read chosen suite", Err: err}
	}

	if responder {
		if _, err := stream.Write(offered); err != nil {
			return nil, &errors.HandshakeError{Step: "cipher-suite", Message: "write offered suites", Err: err}
		}
	}
	return buf[:n], nil
}
