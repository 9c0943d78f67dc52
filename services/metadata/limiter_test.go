package metadata

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestLimiterBounds issues 100 concurrent admits against the default TMDB
// limits and verifies neither the concurrency cap nor the rolling one-second
// start budget is ever exceeded.
func TestLimiterBounds(t *testing.T) {
	if testing.Short() {
		t.Skip("takes ~2s of wall time")
	}

	const (
		perSecond     = 45
		maxConcurrent = 20
		tasks         = 100
	)
	l := NewLimiter(perSecond, maxConcurrent)

	var (
		mu         sync.Mutex
		starts     []time.Time
		running    int64
		maxRunning int64
	)

	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Admit(context.Background(), func() error {
				cur := atomic.AddInt64(&running, 1)
				for {
					prev := atomic.LoadInt64(&maxRunning)
					if cur <= prev || atomic.CompareAndSwapInt64(&maxRunning, prev, cur) {
						break
					}
				}
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&running, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Admit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&maxRunning); got > maxConcurrent {
		t.Fatalf("observed %d concurrent tasks, cap is %d", got, maxConcurrent)
	}
	if len(starts) != tasks {
		t.Fatalf("expected %d task starts, got %d", tasks, len(starts))
	}

	// Timestamps are taken after Wait returns, so scheduling noise can shift
	// a start across a window edge; one start of slack absorbs that.
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i := range starts {
		count := 0
		for j := i; j < len(starts) && starts[j].Sub(starts[i]) < time.Second; j++ {
			count++
		}
		if count > perSecond+1 {
			t.Fatalf("%d starts within one second beginning at index %d, budget is %d", count, i, perSecond)
		}
	}
}

func TestLimiterNilAdmitsImmediately(t *testing.T) {
	var l *Limiter
	ran := false
	if err := l.Admit(context.Background(), func() error { ran = true; return nil }); err != nil {
		t.Fatalf("nil limiter Admit: %v", err)
	}
	if !ran {
		t.Fatal("task did not run")
	}
}

func TestLimiterPropagatesTaskError(t *testing.T) {
	l := NewLimiter(100, 2)
	wantErr := errors.New("boom")
	if err := l.Admit(context.Background(), func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("expected task error, got %v", err)
	}
}

func TestLimiterRespectsContext(t *testing.T) {
	l := NewLimiter(1, 1)
	// Burn the single token.
	_ = l.Admit(context.Background(), func() error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Admit(ctx, func() error {
		t.Error("task should not have run")
		return nil
	})
	if err == nil {
		t.Fatal("expected context error while waiting for rate budget")
	}
}
