package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ParseSchedule converts a schedule expression into a tick interval. Two
// forms are accepted: a bare Go duration ("5m", "90s") and the prefixed
// "@every 5m" form. Intervals must be positive.
func ParseSchedule(expr string) (time.Duration, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return 0, fmt.Errorf("schedule is empty")
	}
	if rest, ok := strings.CutPrefix(s, "@every"); ok {
		s = strings.TrimSpace(rest)
		if s == "" {
			return 0, fmt.Errorf("schedule %q: missing interval after @every", expr)
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", expr, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("schedule %q: interval must be positive", expr)
	}
	return d, nil
}

// scheduler drives recurring check runs on a fixed interval. It owns its
// goroutine and ticker; Stop cancels future ticks without interrupting a
// run already in flight.
type scheduler struct {
	interval time.Duration
	run      func(ctx context.Context) error
	log      *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newScheduler(interval time.Duration, run func(ctx context.Context) error, logger *zap.Logger) *scheduler {
	return &scheduler{
		interval: interval,
		run:      run,
		log:      logger,
		done:     make(chan struct{}),
	}
}

// start launches the tick loop. The loop exits when stop is called or the
// parent context is canceled.
func (s *scheduler) start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("Scheduler started.", zap.Duration("interval", s.interval))
		for {
			select {
			case <-loopCtx.Done():
				s.log.Info("Scheduler stopped.")
				return
			case <-ticker.C:
				// Runs outlive a concurrent stop; only future ticks
				// are canceled.
				runCtx := context.WithoutCancel(loopCtx)
				if err := s.run(runCtx); err != nil {
					if err == ErrCheckInProgress {
						s.log.Warn("Check still running, skipping this tick.")
						continue
					}
					s.log.Error("Scheduled check failed.", zap.Error(err))
				}
			}
		}
	}()
}

// stop cancels the tick loop and waits for it to exit. Safe to call more
// than once.
func (s *scheduler) stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
	})
}
