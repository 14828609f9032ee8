package handshake

import (
	"crypto/rand"
	"io"
	"math/big"
	"time"

	"github.com/lanpeer/beacon/internal/errors"
)

// maxSimultaneousOpenAttempts bounds HelloStep's simultaneous-open retry
// recursion, fixing the unbounded-retry livelock risk in the original
// source ("HelloStep recursion on simultaneous open has no retry cap —
// bound it (e.g., 10 attempts) and surface Generic on exhaustion").
const maxSimultaneousOpenAttempts = 10

const helloTimeout = 3 * time.Second

var (
	helloMsg    = []byte("HELLO")
	helloAckMsg = []byte("HELLO_ACK")
)

// HelloStep resolves the handshake role and handles simultaneous-open
// collisions
type HelloStep struct {
	protocolID string
	role       Role
}

// NewHelloStep constructs a HelloStep. role is the caller's initial guess;
// Unknown lets the step probe for a peer already mid-handshake.
func NewHelloStep(role Role) *HelloStep {
	return &HelloStep{protocolID: "hello", role: role}
}

func (s *HelloStep) ProtocolID() string     { return s.protocolID }
func (s *HelloStep) SetProtocolID(id string) { s.protocolID = id }

// Execute runs the role-resolution state machine, returning empty bytes on
// success.
func (s *HelloStep) Execute(stream Stream, state *TlsState, input []byte) ([]byte, error) {
	return s.execute(stream, state, 0)
}

func (s *HelloStep) execute(stream Stream, state *TlsState, attempt int) ([]byte, error) {
	if attempt >= maxSimultaneousOpenAttempts {
		return nil, &errors.HandshakeError{
			Step:    "hello",
			Message: "simultaneous-open retries exhausted",
		}
	}

	switch s.role {
	case RoleUnknown:
		buf := make([]byte, len(helloMsg))
		if err := stream.SetReadDeadline(time.Now().Add(helloTimeout)); err != nil {
			return nil, &errors.HandshakeError{Step: "hello", Message: "set read deadline", Err: err}
		}
		_, err := io.ReadFull(stream, buf)
		_ = stream.SetReadDeadline(time.Time{})

		switch {
		case err == nil && string(buf) == string(helloMsg):
			// Simultaneous open: both sides sent HELLO. Back off and retry.
			if sleepErr := randomSleep(); sleepErr != nil {
				return nil, &errors.HandshakeError{Step: "hello", Message: "backoff sleep", Err: sleepErr}
			}
			s.role = RoleUnknown
			return s.execute(stream, state, attempt+1)

		case err != nil && isTimeout(err):
			s.role = RoleInitiator
			return s.execute(stream, state, attempt+1)

		case err != nil:
			return nil, &errors.HandshakeError{Step: "hello", Message: "unexpected read error in Unknown role", Err: err}

		default:
			// Got 5 bytes that weren't "HELLO" — treat as a protocol violation.
			return nil, &errors.HandshakeError{Step: "hello", Message: "unexpected bytes while probing role"}
		}

	case RoleInitiator:
		if err := randomSleep(); err != nil {
			return nil, &errors.HandshakeError{Step: "hello", Message: "backoff sleep", Err: err}
		}
		if _, err := stream.Write(helloMsg); err != nil {
			return nil, &errors.HandshakeError{Step: "hello", Message: "write HELLO", Err: err}
		}
		ack := make([]byte, len(helloAckMsg))
		if _, err := io.ReadFull(stream, ack); err != nil {
			return nil, &errors.HandshakeError{Step: "hello", Message: "read HELLO_ACK", Err: err}
		}
		if string(ack) != string(helloAckMsg) {
			return nil, &errors.HandshakeError{Step: "hello", Message: "unexpected HELLO_ACK payload"}
		}
		state.SetRole(RoleInitiator)
		return []byte{}, nil

	case RoleResponder:
		buf := make([]byte, len(helloMsg))
		if _, err := io.ReadFull(stream, buf); err != nil {
			return nil, &errors.HandshakeError{Step: "hello", Message: "read HELLO", Err: err}
		}
		if string(buf) != string(helloMsg) {
			return nil, &errors.HandshakeError{Step: "hello", Message: "unexpected HELLO payload"}
		}
		if _, err := stream.Write(helloAckMsg); err != nil {
			return nil, &errors.HandshakeError{Step: "hello", Message: "write HELLO_ACK", Err: err}
		}
		state.SetRole(RoleResponder)
		return []byte{}, nil

	default:
		return nil, &errors.HandshakeError{Step: "hello", Message: "unknown role"}
	}
}

// randomSleep sleeps a uniformly random duration in [100ms, 500ms), the
// simultaneous-open collision-avoidance back-off before retrying Hello as
// an initiator.
func randomSleep() error {
	n, err := rand.Int(rand.Reader, big.NewInt(400))
	if err != nil {
		return err
	}
	time.Sleep(100*time.Millisecond + time.Duration(n.Int64())*time.Millisecond)
	return nil
}

// isTimeout reports whether err is a deadline-exceeded style error, the way
// net.Conn reports read-deadline expiry.
func isTimeout(err error) bool {
	type timeoutErr interface {
		Timeout() bool
	}
	te, ok := err.(timeoutErr)
	return ok && te.Timeout()
}
