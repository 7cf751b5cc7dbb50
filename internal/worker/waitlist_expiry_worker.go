package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prohmpiriya/ticketing-core/pkg/logger"
)

// WaitlistExpirer is satisfied by *service.WaitlistManager
type WaitlistExpirer interface {
	ExpireSweep(ctx context.Context, limit int) (int, error)
}

// WaitlistExpiryWorker expires NOTIFIED entries whose purchase window closed
type WaitlistExpiryWorker struct {
	loop
	waitlist  WaitlistExpirer
	interval  time.Duration
	batchSize int

	totalExpired atomic.Int64
	lastScan     atomic.Int64
}

// NewWaitlistExpiryWorker creates a new waitlist expiry worker
func NewWaitlistExpiryWorker(waitlist WaitlistExpirer, interval time.Duration, batchSize int) *WaitlistExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &WaitlistExpiryWorker{
		loop:      loop{name: "waitlist expiry worker", log: logger.Get()},
		waitlist:  waitlist,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start starts the waitlist expiry worker
func (w *WaitlistExpiryWorker) Start(ctx context.Context) error {
	return w.start(ctx, tick{interval: w.interval, immediate: true, fn: func(ctx context.Context) { w.Sweep(ctx) }})
}

// Sweep expires one batch of entries
func (w *WaitlistExpiryWorker) Sweep(ctx context.Context) int {
	w.lastScan.Store(time.Now().UnixNano())

	n, err := w.waitlist.ExpireSweep(ctx, w.batchSize)
	if err != nil {
		w.log.Error(fmt.Sprintf("Failed to expire waitlist entries: %v", err))
		return 0
	}
	if n > 0 {
		w.totalExpired.Add(int64(n))
		w.log.Info(fmt.Sprintf("Expired %d waitlist entries", n))
	}
	return n
}

// GetStats returns worker statistics
func (w *WaitlistExpiryWorker) GetStats() *SweepStats {
	return &SweepStats{
		IsRunning:    w.IsRunning(),
		TotalSwept:   w.totalExpired.Load(),
		LastScanTime: time.Unix(0, w.lastScan.Load()),
	}
}
