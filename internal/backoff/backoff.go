// Package backoff implements the adaptive back-off controller that
// adjusts the mDNS service's advertise/query intervals, grounded on
// original_source/protocols/mdns/src/behaviour/back_off.rs's BackoffState
// enum and mdns_service.rs's adjust_backoff_state method.
package backoff

import (
	"sync"
	"time"

	"github.com/lanpeer/beacon/internal/protocol"
)

// State is one of Normal, Backoff, Recovery, Stable
type State int

const (
	Normal State = iota
	Backoff
	Recovery
	Stable
)

func (s State) String() string {
	switch s {
	case Normal:
		return "Normal"
	case Backoff:
		return "Backoff"
	case Recovery:
		return "Recovery"
	case Stable:
		return "Stable"
	default:
		return "Unknown"
	}
}

// Controller maps (state, current intervals) -> new intervals, enforcing
// the post-adjust invariant query_s <= 2*advertise_s.
// advertise_s/query_s are held as independent relaxed reads
// ("back-off-interval reads use relaxed atomic loads and may observe stale
// values for one cycle") — a plain mutex-protected struct gives the same
// externally-observable behavior for this single-writer controller without
// needing atomic.Int64 ceremony this codebase doesn't use elsewhere either.
type Controller struct {
	mu        sync.Mutex
	state     State
	advertise time.Duration
	query     time.Duration
}

// New creates a Controller in the Normal state with the default intervals
// (advertise=5s, query=5s).
func New() *Controller {
	return &Controller{
		state:     Normal,
		advertise: protocol.DefaultAdvertiseInterval,
		query:     protocol.DefaultQueryInterval,
	}
}

// SetState changes the driving state; the next Adjust call uses it.
func (c *Controller) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// State returns the current driving state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Intervals returns the current advertise/query intervals.
func (c *Controller) Intervals() (advertise, query time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advertise, c.query
}

func clamp(d time.Duration) time.Duration {
	if d < protocol.MinBackoffInterval {
		return protocol.MinBackoffInterval
	}
	if d > protocol.MaxBackoffInterval {
		return protocol.MaxBackoffInterval
	}
	return d
}

// Adjust recomputes advertise_s/query_s from the current state, then
// enforces query_s <= 2*advertise_s.
func (c *Controller) Adjust() (advertise, query time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Normal:
		c.advertise = protocol.DefaultAdvertiseInterval
		c.query = protocol.DefaultQueryInterval
	case Backoff:
		c.advertise = clamp(time.Duration(float64(c.advertise) * 1.5))
		c.query = clamp(time.Duration(float64(c.query) * 1.5))
	case Recovery:
		c.advertise = clamp(time.Duration(float64(c.advertise) / 1.5))
		c.query = clamp(time.Duration(float64(c.query) / 1.5))
	case Stable:
		c.advertise = protocol.StableInterval
		c.query = protocol.StableInterval
	}

	if c.query > 2*c.advertise {
		c.query = 2 * c.advertise
	}

	return c.advertise, c.query
}
