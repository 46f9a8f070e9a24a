package ratelimit

import (
	"testing"
	"time"
)

// fixedClock lets tests move time forward without sleeping.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fixedClock) {
	clock := &fixedClock{t: time.Unix(1700000000, 0)}
	l := New(limit, window)
	l.now = clock.now
	return l, clock
}

func TestLimiter_AllowsWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Second)
	for i := 0; i < 3; i++ {
		if !l.Allow("slider") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
}

func TestLimiter_BlocksBeyondLimit(t *testing.T) {
	l, _ := newTestLimiter(2, time.Second)
	l.Allow("slider")
	l.Allow("slider")
	if l.Allow("slider") {
		t.Error("third request inside the window should be blocked")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Second)
	if !l.Allow("a") {
		t.Error("first request for a should be allowed")
	}
	if !l.Allow("b") {
		t.Error("first request for b should be allowed")
	}
	if l.Allow("a") {
		t.Error("second request for a should be blocked")
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(2, time.Second)
	l.Allow("slider")
	l.Allow("slider")
	if l.Allow("slider") {
		t.Fatal("expected block inside window")
	}

	clock.advance(1100 * time.Millisecond)
	if !l.Allow("slider") {
		t.Error("request after the window slid should be allowed")
	}
}

func TestLimiter_Forget(t *testing.T) {
	l, _ := newTestLimiter(1, time.Second)
	l.Allow("slider")
	if l.Allow("slider") {
		t.Fatal("expected block")
	}

	l.Forget("slider")
	if !l.Allow("slider") {
		t.Error("request after Forget should be allowed")
	}
}

func TestLimiter_DropsStaleKeys(t *testing.T) {
	l, clock := newTestLimiter(2, time.Second)
	l.Allow("gone")

	clock.advance(cleanupInterval + time.Second)
	l.Allow("active")

	l.mu.Lock()
	_, exists := l.seen["gone"]
	l.mu.Unlock()
	if exists {
		t.Error("stale key should have been cleaned up")
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := New(100, time.Second)
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 10; j++ {
				l.Allow("slider")
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	if l.Allow("slider") {
		t.Error("101st request inside the window should be blocked")
	}
}
