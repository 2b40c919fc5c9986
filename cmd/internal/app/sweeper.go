package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Purger deletes rows that are past their retention.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type sweepTarget struct {
	name   string
	purger Purger
}

// Sweeper periodically evicts expired pairing tokens and sessions.
type Sweeper struct {
	log      *slog.Logger
	interval time.Duration
	targets  []sweepTarget

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper; call Add for each store to purge.
func NewSweeper(log *slog.Logger, interval time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{log: log, interval: interval}
}

// Add registers a purge target under name.
func (s *Sweeper) Add(name string, p Purger) {
	if p == nil {
		return
	}
	s.targets = append(s.targets, sweepTarget{name: name, purger: p})
}

// Start begins the sweep loop. It is a no-op if already started.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// SweepOnce runs every target once and returns the total rows removed.
// A failing target is logged and does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	var total int64
	for _, t := range s.targets {
		n, err := t.purger.PurgeExpired(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return total
			}
			s.log.Warn("sweep.fail", "target", t.name, "err", err)
			continue
		}
		total += n
		if n > 0 {
			s.log.Info("sweep.purged", "target", t.name, "count", n)
		}
	}
	return total
}
