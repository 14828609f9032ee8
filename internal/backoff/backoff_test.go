package backoff

import (
	"testing"
	"time"
)

func TestAdjustNormalResetsToDefaults(t *testing.T) {
	c := New()
	c.SetState(Backoff)
	c.Adjust()
	c.SetState(Normal)
	advertise, query := c.Adjust()
	if advertise != 5*time.Second || query != 5*time.Second {
		t.Fatalf("Normal adjust = (%v, %v), want (5s, 5s)", advertise, query)
	}
}

func TestAdjustBackoffGrowsAndClamps(t *testing.T) {
	c := New()
	c.SetState(Backoff)
	var advertise, query time.Duration
	for i := 0; i < 20; i++ {
		advertise, query = c.Adjust()
		if advertise < 5*time.Second || advertise > 60*time.Second {
			t.Fatalf("advertise out of bounds: %v", advertise)
		}
		if query < 5*time.Second || query > 60*time.Second {
			t.Fatalf("query out of bounds: %v", query)
		}
		if query > 2*advertise {
			t.Fatalf("invariant violated: query %v > 2*advertise %v", query, advertise)
		}
	}
	if advertise != 60*time.Second {
		t.Fatalf("expected advertise to clamp at 60s after repeated backoff, got %v", advertise)
	}
}

func TestAdjustRecoveryShrinksAndClamps(t *testing.T) {
	c := New()
	c.SetState(Backoff)
	for i := 0; i < 20; i++ {
		c.Adjust()
	}
	c.SetState(Recovery)
	var advertise time.Duration
	for i := 0; i < 30; i++ {
		advertise, _ = c.Adjust()
		if advertise < 5*time.Second {
			t.Fatalf("advertise dropped below floor: %v", advertise)
		}
	}
	if advertise != 5*time.Second {
		t.Fatalf("expected advertise to clamp at floor 5s after repeated recovery, got %v", advertise)
	}
}

func TestAdjustStableUsesFixedInterval(t *testing.T) {
	c := New()
	c.SetState(Stable)
	advertise, query := c.Adjust()
	if advertise != 10*time.Second || query != 10*time.Second {
		t.Fatalf("Stable adjust = (%v, %v), want (10s, 10s)", advertise, query)
	}
}

func TestQueryNeverExceedsTwiceAdvertise(t *testing.T) {
	c := New()
	c.SetState(Backoff)
	for i := 0; i < 50; i++ {
		advertise, query := c.Adjust()
		if query > 2*advertise {
			t.Fatalf("iteration %d: query %v exceeds 2*advertise %v", i, query, advertise)
		}
	}
}
