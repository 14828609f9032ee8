// Package handshake implements the post-quantum handshake framework and
// its pipeline steps: role negotiation, cipher-suite exchange, ML-KEM-1024
// key agreement, and finalization over a byte-oriented duplex stream.
//
// Grounded on original_source/protocols/tls/src/handshake.rs's HelloStep/
// CipherSuiteStep/KyberExchangeStep/FinishStep, translated from Rust's
// async-trait step objects into a Go interface, and on
// internal/state/machine.go's discipline of never holding a lock across a
// blocking call.
package handshake

import (
	"sync"
	"time"
)

// Stream is the duplex byte stream capability a handshake runs over:
// exact reads, best-effort reads, full writes, and a read deadline (needed
// by HelloStep's 3-second role-probe timeout). net.Conn, including both
// ends of net.Pipe(), satisfies this directly.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
}

// TlsState is the shared mutable cell passed through the handshake
// pipeline: it holds the session key written exactly once by
// KyberExchangeStep and read afterwards by AEAD operations. It also
// carries the Role resolved by HelloStep so
// later steps in the same pipeline run don't each need their own copy.
type TlsState struct {
	mu         sync.Mutex
	sessionKey []byte
	role       Role
}

// SetRole stores the role resolved by HelloStep for later steps to read.
func (s *TlsState) SetRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = r
}

// Role returns the role resolved by HelloStep (RoleUnknown if not yet set).
func (s *TlsState) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// SetSessionKey stores the session key. Called exactly once, by
// KyberExchangeStep.
func (s *TlsState) SetSessionKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionKey = append([]byte(nil), key...)
}

// SessionKey returns a copy of the stored session key, or nil if unset.
func (s *TlsState) SessionKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionKey == nil {
		return nil
	}
	return append([]byte(nil), s.sessionKey...)
}

// Role is the handshake role resolved by HelloStep.
type Role int

const (
	RoleUnknown Role = iota
	RoleInitiator
	RoleResponder
)

// Step is a tagged handshake pipeline stage with a protocol id and an
// execute method that consumes the previous step's output and produces the
// next step's input.
type Step interface {
	ProtocolID() string
	SetProtocolID(id string)
	Execute(stream Stream, state *TlsState, input []byte) ([]byte, error)
}

// Pipeline runs a fixed ordered sequence of Steps over one Stream, each
// step's output feeding the next step's input, in the fixed sequence
// HelloStep -> CipherSuiteStep -> KyberExchangeStep -> FinishStep.
// The handshake pipeline is fail-fast: any step error aborts the run
// with the underlying error.
type Pipeline struct {
	Steps []Step
}

// NewDefaultPipeline builds the fixed HelloStep -> CipherSuiteStep ->
// KyberExchangeStep -> FinishStep sequence for the given role and
// cipher-suite offer. The offer is stored on the CipherSuiteStep, which
// sends it regardless of the empty output HelloStep passes along.
func NewDefaultPipeline(role Role, cipherSuiteOffer []byte) *Pipeline {
	cipherSuite := NewCipherSuiteStep()
	cipherSuite.offer = cipherSuiteOffer
	return &Pipeline{
		Steps: []Step{
			NewHelloStep(role),
			cipherSuite,
			NewKyberExchangeStep(),
			NewFinishStep(),
		},
	}
}

// Run executes every step in order over stream, threading each step's
// output into the next step's input and sharing state across all steps.
// initialInput seeds the first step. HelloStep ignores its input and
// returns empty bytes, so a pipeline built by NewDefaultPipeline sends the
// offer stored on its CipherSuiteStep rather than initialInput.
func (p *Pipeline) Run(stream Stream, state *TlsState, initialInput []byte) ([]byte, error) {
	input := initialInput
	for _, step := range p.Steps {
		out, err := step.Execute(stream, state, input)
		if err != nil {
			return nil, err
		}
		input = out
	}
	return input, nil
}
