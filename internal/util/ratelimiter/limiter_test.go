package ratelimiter

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestKeyed_Allow(t *testing.T) {
	tests := []struct {
		name   string
		keys   []string
		delays []time.Duration // clock advance before each Allow() call
		want   []bool
	}{
		{
			name:   "first call per key allowed",
			keys:   []string{"/data/a", "/data/b"},
			delays: []time.Duration{0, 0},
			want:   []bool{true, true},
		},
		{
			name:   "repeat within interval blocked",
			keys:   []string{"/data/a", "/data/a", "/data/a"},
			delays: []time.Duration{0, 10 * time.Second, 49 * time.Second},
			want:   []bool{true, false, false},
		},
		{
			name:   "repeat after interval allowed",
			keys:   []string{"/data/a", "/data/a"},
			delays: []time.Duration{0, time.Minute},
			want:   []bool{true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Unix(1000, 0)}
			k := NewKeyed(time.Minute)
			k.now = clock.now

			for i, key := range tt.keys {
				clock.advance(tt.delays[i])
				if got, _ := k.Allow(key); got != tt.want[i] {
					t.Errorf("call %d: Allow(%q) = %v, want %v", i, key, got, tt.want[i])
				}
			}
		})
	}
}

func TestKeyed_SuppressedCount(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	k := NewKeyed(time.Second)
	k.now = clock.now

	k.Allow("/data/a")
	k.Allow("/data/a")
	k.Allow("/data/a")
	clock.advance(time.Second)

	allowed, suppressed := k.Allow("/data/a")
	if !allowed {
		t.Fatal("call after interval should be allowed")
	}
	if suppressed != 2 {
		t.Errorf("suppressed = %d, want 2", suppressed)
	}
}

func TestKeyed_Reset(t *testing.T) {
	k := NewKeyed(time.Hour)
	k.Allow("/data/a")
	k.Reset("/data/a")

	if allowed, _ := k.Allow("/data/a"); !allowed {
		t.Error("call after reset should be allowed")
	}
}

func TestLimiter_Allow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	limiter := New(100 * time.Millisecond)
	limiter.keyed.now = clock.now

	allowed, wait := limiter.Allow()
	if !allowed || wait != 0 {
		t.Fatalf("first Allow() = %v, %v, want true, 0", allowed, wait)
	}

	clock.advance(40 * time.Millisecond)
	allowed, wait = limiter.Allow()
	if allowed {
		t.Fatal("second call should be blocked")
	}
	if wait != 60*time.Millisecond {
		t.Errorf("wait = %v, want %v", wait, 60*time.Millisecond)
	}

	limiter.Reset()
	if allowed, _ := limiter.Allow(); !allowed {
		t.Error("call after reset should be allowed")
	}
}

func TestLimiter_Interval(t *testing.T) {
	interval := 42 * time.Second
	limiter := New(interval)

	if got := limiter.Interval(); got != interval {
		t.Errorf("Interval() = %v, want %v", got, interval)
	}
}

func TestKeyed_Concurrent(t *testing.T) {
	k := NewKeyed(time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := k.Allow("/data/a"); allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if allowedCount != 1 {
		t.Errorf("concurrent calls: %d allowed, want exactly 1", allowedCount)
	}
}
