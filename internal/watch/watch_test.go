package watch

import (
	"context"
	"testing"
	"time"
)

func TestValue_GetReturnsInitial(t *testing.T) {
	v := New(42)
	if got := v.Get(); got != 42 {
		t.Errorf("expected initial value 42, got %d", got)
	}
}

func TestValue_SetUpdatesCurrent(t *testing.T) {
	v := New(0)
	v.Set(7)
	if got := v.Get(); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

func TestReceiver_ChangedWakesOnSet(t *testing.T) {
	v := New(0)
	rx := v.Subscribe()

	done := make(chan int, 1)
	go func() {
		got, err := rx.Changed(context.Background())
		if err != nil {
			t.Errorf("Changed failed: %v", err)
		}
		done <- got
	}()

	// Give the receiver time to block before the write.
	time.Sleep(10 * time.Millisecond)
	v.Set(5)

	select {
	case got := <-done:
		if got != 5 {
			t.Errorf("expected 5, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("receiver was not woken by Set")
	}
}

func TestReceiver_ChangedSeesWriteBeforeWait(t *testing.T) {
	v := New(0)
	rx := v.Subscribe()

	v.Set(3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := rx.Changed(ctx)
	if err != nil {
		t.Fatalf("Changed failed: %v", err)
	}
	if got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func TestReceiver_SkipsIntermediateValues(t *testing.T) {
	v := New(0)
	rx := v.Subscribe()

	v.Set(1)
	v.Set(2)
	v.Set(3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := rx.Changed(ctx)
	if err != nil {
		t.Fatalf("Changed failed: %v", err)
	}
	if got != 3 {
		t.Errorf("expected latest value 3, got %d", got)
	}
}

func TestReceiver_ChangedBlocksWithoutNewWrite(t *testing.T) {
	v := New(0)
	rx := v.Subscribe()
	v.Set(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := rx.Changed(ctx); err != nil {
		t.Fatalf("Changed failed: %v", err)
	}

	// No further writes: the next Changed must block until the deadline.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	if _, err := rx.Changed(shortCtx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestReceiver_ContextCancellation(t *testing.T) {
	v := New(0)
	rx := v.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rx.Changed(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestReceiver_LatestMarksObserved(t *testing.T) {
	v := New(0)
	rx := v.Subscribe()
	v.Set(9)

	if got := rx.Latest(); got != 9 {
		t.Errorf("expected 9, got %d", got)
	}

	// The value returned by Latest counts as observed.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := rx.Changed(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded after Latest, got %v", err)
	}
}

func TestReceiver_MultipleReceivers(t *testing.T) {
	v := New(0)
	rx1 := v.Subscribe()
	rx2 := v.Subscribe()

	v.Set(4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, rx := range []*Receiver[int]{rx1, rx2} {
		got, err := rx.Changed(ctx)
		if err != nil {
			t.Fatalf("receiver %d: Changed failed: %v", i+1, err)
		}
		if got != 4 {
			t.Errorf("receiver %d: expected 4, got %d", i+1, got)
		}
	}
}
