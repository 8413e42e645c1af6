package scanning

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSocketBudget_Acquire(t *testing.T) {
	t.Run("successful acquisition", func(t *testing.T) {
		b := NewSocketBudget(5)
		ctx := context.Background()

		if err := b.Acquire(ctx); err != nil {
			t.Fatalf("Expected successful acquisition, got error: %v", err)
		}

		if b.Active() != 1 {
			t.Errorf("Expected 1 active socket, got %d", b.Active())
		}
		if b.Available() != 4 {
			t.Errorf("Expected 4 available slots, got %d", b.Available())
		}

		b.Release()
	})

	t.Run("budget exhaustion", func(t *testing.T) {
		b := NewSocketBudget(2)
		ctx := context.Background()

		err1 := b.Acquire(ctx)
		err2 := b.Acquire(ctx)
		if err1 != nil || err2 != nil {
			t.Fatalf("Expected successful acquisition, got errors: %v, %v", err1, err2)
		}

		// Third acquisition should time out
		ctx3, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		if err := b.Acquire(ctx3); err == nil {
			t.Error("Expected timeout error, got success")
		}
		if b.Active() != 2 {
			t.Errorf("Failed acquisition must not count, got %d active", b.Active())
		}

		b.Release()
		b.Release()

		if b.Available() != 2 {
			t.Errorf("Expected 2 available slots after release, got %d", b.Available())
		}
	})

	t.Run("non-positive capacity is clamped", func(t *testing.T) {
		b := NewSocketBudget(0)
		if b.Capacity() != 1 {
			t.Errorf("Expected capacity 1, got %d", b.Capacity())
		}
	})
}

func TestSocketBudget_PeakNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	b := NewSocketBudget(capacity)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			time.Sleep(2 * time.Millisecond)
			b.Release()
		}()
	}
	wg.Wait()

	if b.Peak() > capacity {
		t.Errorf("Peak %d exceeded capacity %d", b.Peak(), capacity)
	}
	if b.Peak() == 0 {
		t.Error("Expected a recorded peak")
	}
	if b.Active() != 0 {
		t.Errorf("Expected no active sockets, got %d", b.Active())
	}
}

func TestSocketBudget_NilGrantsEverything(t *testing.T) {
	var b *SocketBudget

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("nil budget should not fail: %v", err)
	}
	b.Release()

	if b.Peak() != 0 || b.Active() != 0 || b.Capacity() != 0 {
		t.Error("nil budget should report zero counters")
	}
}
