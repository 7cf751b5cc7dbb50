package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeReclaimer struct {
	batches []int
	err     error
	calls   int
}

func (f *fakeReclaimer) ReclaimExpired(ctx context.Context, ticketTypeID string, limit int) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

type expirerFunc func(ctx context.Context, limit int) (int, error)

func (f expirerFunc) ExpireSweep(ctx context.Context, limit int) (int, error) { return f(ctx, limit) }

func TestHoldExpiryWorker_SweepDrainsFullBatches(t *testing.T) {
	reclaimer := &fakeReclaimer{batches: []int{10, 10, 3}}
	w := NewHoldExpiryWorker(reclaimer, &HoldExpiryWorkerConfig{ScanInterval: time.Minute, BatchSize: 10})

	if n := w.Sweep(context.Background()); n != 23 {
		t.Errorf("Sweep() = %d, want 23", n)
	}
	if reclaimer.calls != 3 {
		t.Errorf("ReclaimExpired called %d times, want 3", reclaimer.calls)
	}
	if got := w.GetStats().TotalSwept; got != 23 {
		t.Errorf("TotalSwept = %d, want 23", got)
	}
}

func TestHoldExpiryWorker_SweepStopsOnError(t *testing.T) {
	reclaimer := &fakeReclaimer{err: errors.New("db down")}
	w := NewHoldExpiryWorker(reclaimer, nil)

	if n := w.Sweep(context.Background()); n != 0 {
		t.Errorf("Sweep() = %d, want 0", n)
	}
	if reclaimer.calls != 1 {
		t.Errorf("ReclaimExpired called %d times, want 1", reclaimer.calls)
	}
}

func TestWaitlistExpiryWorker_StartRunsImmediately(t *testing.T) {
	done := make(chan struct{})
	var once bool
	w := NewWaitlistExpiryWorker(expirerFunc(func(ctx context.Context, limit int) (int, error) {
		if !once {
			once = true
			close(done)
		}
		return 0, nil
	}), time.Hour, 10)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("first sweep did not run on start")
	}
	w.Stop()
	w.Stop()

	if w.IsRunning() {
		t.Error("worker still running after Stop")
	}
}

func TestWaitlistExpiryWorker_Sweep(t *testing.T) {
	var gotLimit int
	w := NewWaitlistExpiryWorker(expirerFunc(func(ctx context.Context, limit int) (int, error) {
		gotLimit = limit
		return 4, nil
	}), 0, 0)

	if n := w.Sweep(context.Background()); n != 4 {
		t.Errorf("Sweep() = %d, want 4", n)
	}
	if gotLimit != 100 {
		t.Errorf("limit = %d, want default 100", gotLimit)
	}

	failing := NewWaitlistExpiryWorker(expirerFunc(func(ctx context.Context, limit int) (int, error) {
		return 0, errors.New("boom")
	}), time.Minute, 5)
	if n := failing.Sweep(context.Background()); n != 0 {
		t.Errorf("failing Sweep() = %d, want 0", n)
	}
}
