package budget

import (
	"sync"
	"testing"
	"time"
)

// mockClock allows controlling time in tests
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(now time.Time) *mockClock {
	return &mockClock{now: now}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Given: Limiter for 5 placements per second
// When: Making 8 placements 10ms apart
// Then: First 5 allowed, last 3 rejected
func TestLimiter_OverLimit(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(5, time.Second, clock.Now)

	successCount := 0
	failureCount := 0
	for i := 0; i < 8; i++ {
		if err := limiter.Allow(); err == nil {
			successCount++
		} else {
			failureCount++
		}
		clock.Advance(10 * time.Millisecond)
	}

	if successCount != 5 {
		t.Errorf("Expected 5 successful calls, got %d", successCount)
	}
	if failureCount != 3 {
		t.Errorf("Expected 3 failed calls, got %d", failureCount)
	}
}

// Given: Limiter at capacity
// When: The window slides past the oldest call
// Then: Exactly one more call is allowed
func TestLimiter_WindowSlides(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(2, time.Second, clock.Now)

	if err := limiter.Allow(); err != nil {
		t.Fatalf("call 1: %v", err)
	}
	clock.Advance(500 * time.Millisecond)
	if err := limiter.Allow(); err != nil {
		t.Fatalf("call 2: %v", err)
	}
	if err := limiter.Allow(); err == nil {
		t.Fatal("Expected rate limit error at capacity")
	}

	// First call leaves the window exactly at its one second mark
	clock.Advance(500 * time.Millisecond)
	if err := limiter.Allow(); err != nil {
		t.Errorf("Expected call after oldest expired, got %v", err)
	}
	if err := limiter.Allow(); err == nil {
		t.Error("Expected second call to still be limited")
	}
}

// Given: Limiter configured for zero calls
// Then: Nothing is ever allowed
func TestLimiter_ZeroBudget(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(0, time.Second, clock.Now)

	if err := limiter.Allow(); err == nil {
		t.Error("Expected zero-budget limiter to reject")
	}
	clock.Advance(2 * time.Second)
	if err := limiter.Allow(); err == nil {
		t.Error("Expected zero-budget limiter to keep rejecting after the window slides")
	}
}

// Given: Limiter at capacity
// When: SetMax raises and then lowers the limit
// Then: Calls already in the window count against the new limit
func TestLimiter_SetMax(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(2, time.Second, clock.Now)

	limiter.Allow()
	limiter.Allow()
	if err := limiter.Allow(); err == nil {
		t.Fatal("Expected limit at 2")
	}

	limiter.SetMax(3)
	if err := limiter.Allow(); err != nil {
		t.Errorf("Expected third call after raising limit, got %v", err)
	}

	limiter.SetMax(1)
	if err := limiter.Allow(); err == nil {
		t.Error("Expected calls in the window to count against the lowered limit")
	}

	clock.Advance(1100 * time.Millisecond)
	if err := limiter.Allow(); err != nil {
		t.Errorf("Expected one call once the window slides, got %v", err)
	}
	if err := limiter.Allow(); err == nil {
		t.Error("Expected the lowered limit of 1 to hold")
	}
}

// Given: Limiter configured for 100 calls/second
// When: 10 goroutines each making 20 calls (200 total)
// Then: Exactly 100 succeed
func TestLimiter_Concurrent(t *testing.T) {
	clock := newMockClock(time.Now())
	limiter := NewLimiterWithClock(100, time.Second, clock.Now)

	var wg sync.WaitGroup
	results := make(chan bool, 200)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				results <- limiter.Allow() == nil
			}
		}()
	}
	wg.Wait()
	close(results)

	successCount := 0
	for success := range results {
		if success {
			successCount++
		}
	}
	if successCount != 100 {
		t.Errorf("Expected exactly 100 successful calls, got %d", successCount)
	}
}
