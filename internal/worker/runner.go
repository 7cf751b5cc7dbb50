// Package worker holds the background loops that keep inventory, the
// waitlist and the outbox moving between requests.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/ticketing-core/pkg/logger"
)

// loop runs fns on their own tickers until Stop or ctx cancellation
type loop struct {
	name    string
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type tick struct {
	interval  time.Duration
	immediate bool
	fn        func(ctx context.Context)
}

func (l *loop) start(ctx context.Context, ticks ...tick) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("%s already running", l.name)
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.log.Info(fmt.Sprintf("Starting %s", l.name))

	for _, t := range ticks {
		if t.interval <= 0 {
			continue
		}
		l.wg.Add(1)
		go l.run(ctx, t)
	}
	return nil
}

func (l *loop) run(ctx context.Context, t tick) {
	defer l.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	if t.immediate {
		t.fn(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			t.fn(ctx)
		}
	}
}

// Stop stops the worker and waits for in-flight work
func (l *loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()

	l.log.Info(fmt.Sprintf("Stopping %s", l.name))
	close(l.stopCh)
	l.wg.Wait()
	l.log.Info(fmt.Sprintf("%s stopped", l.name))
}

// IsRunning reports whether Start was called without a matching Stop
func (l *loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
