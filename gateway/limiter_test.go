package gateway

import (
	"sync"
	"testing"
	"time"
)

func TestLimiterBurstAdmitsImmediately(t *testing.T) {
	l := NewTokenBucketLimiter(1, 3)
	start := time.Now()
	for i := 0; i < 3; i++ {
		l.Wait()
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("burst of 3 took %v, expected no blocking", elapsed)
	}
}

func TestLimiterPacesBeyondBurst(t *testing.T) {
	l := NewTokenBucketLimiter(200, 1)
	start := time.Now()
	for i := 0; i < 4; i++ {
		l.Wait()
	}
	// three refills at 5ms each after the initial token
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("4 calls at 200/s finished in %v, limiter not pacing", elapsed)
	}
}

func TestLimiterConcurrentWaitersShareRefills(t *testing.T) {
	l := NewTokenBucketLimiter(500, 2)
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Wait()
		}()
	}
	wg.Wait()
	// 6 of the 8 must wait for refills: at least 6/500s in total
	if elapsed := time.Since(start); elapsed < 8*time.Millisecond {
		t.Fatalf("8 concurrent waiters finished in %v, refills were double spent", elapsed)
	}
}
