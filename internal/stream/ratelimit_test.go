// internal/stream/ratelimit_test.go
package stream

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	// 10 subscriptions per second, burst of 5
	rl := NewRateLimiter(10, 5)
	defer rl.Stop()

	ip := "192.168.1.1"

	// First 5 attempts should be allowed (burst)
	for i := 0; i < 5; i++ {
		if !rl.Allow(ip) {
			t.Errorf("attempt %d should be allowed (within burst)", i+1)
		}
	}

	// 6th attempt should be denied (burst exhausted)
	if rl.Allow(ip) {
		t.Error("6th attempt should be denied (burst exhausted)")
	}
}

func TestRateLimiterMultipleIPs(t *testing.T) {
	rl := NewRateLimiter(10, 3)
	defer rl.Stop()

	ip1 := "192.168.1.1"
	ip2 := "192.168.1.2"

	// Use up burst for IP1
	for i := 0; i < 3; i++ {
		rl.Allow(ip1)
	}

	// IP2 should still have its full burst
	for i := 0; i < 3; i++ {
		if !rl.Allow(ip2) {
			t.Errorf("IP2 attempt %d should be allowed", i+1)
		}
	}

	// IP1 should be rate limited
	if rl.Allow(ip1) {
		t.Error("IP1 should be rate limited")
	}
}

func TestRateLimiterCount(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	defer rl.Stop()

	if rl.Count() != 0 {
		t.Errorf("expected initial count 0, got %d", rl.Count())
	}

	rl.Allow("ip1")
	rl.Allow("ip2")
	rl.Allow("ip3")

	if rl.Count() != 3 {
		t.Errorf("expected count 3, got %d", rl.Count())
	}
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	defer rl.Stop()

	rl.Allow("ip1")
	rl.Allow("ip2")

	rl.Reset()

	if rl.Count() != 0 {
		t.Errorf("expected count 0 after reset, got %d", rl.Count())
	}
}

func TestRateLimiterRefill(t *testing.T) {
	// High RPS so the single burst token refills quickly
	rl := NewRateLimiter(100, 1)
	defer rl.Stop()

	ip := "192.168.1.1"

	if !rl.Allow(ip) {
		t.Error("first attempt should be allowed")
	}
	if rl.Allow(ip) {
		t.Error("second attempt should fail (burst exhausted)")
	}

	// At 100 RPS one token refills every 10ms
	time.Sleep(20 * time.Millisecond)

	if !rl.Allow(ip) {
		t.Error("attempt should be allowed after refill")
	}
}

func TestRateLimiterStop(t *testing.T) {
	rl := NewRateLimiter(10, 5)

	// Stop should not panic
	rl.Stop()

	// Allow should still work after stop (just no cleanup)
	if !rl.Allow("ip1") {
		t.Error("Allow should still work after Stop")
	}
}
