package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
)

// Refresher runs one refresh cycle over all platforms.
type Refresher interface {
	RefreshAll(ctx context.Context) (map[string]bool, error)
}

// Scheduler runs a refresh cycle once a day at a fixed local time. The due
// check runs on a short polling tick, so a suspended or drifting clock only
// delays the run until the next tick.
type Scheduler struct {
	refresher Refresher
	hour      int
	minute    int
	poll      time.Duration

	mu   sync.Mutex
	next time.Time

	started atomic.Bool
	done    chan struct{}
}

func NewScheduler(r Refresher, at string, poll time.Duration) (*Scheduler, error) {
	hour, minute, err := parseClock(at)
	if err != nil {
		return nil, err
	}
	if poll <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", poll)
	}
	return &Scheduler{
		refresher: r,
		hour:      hour,
		minute:    minute,
		poll:      poll,
		done:      make(chan struct{}),
	}, nil
}

func parseClock(at string) (int, int, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("refresh time must be HH:MM, got %q", at)
	}
	return t.Hour(), t.Minute(), nil
}

// nextRun returns the first occurrence of hour:minute strictly after now.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start launches the polling loop. Only the first call starts it; later calls
// return false and do nothing.
func (s *Scheduler) Start(ctx context.Context) bool {
	if !s.started.CompareAndSwap(false, true) {
		return false
	}
	s.mu.Lock()
	s.next = nextRun(time.Now(), s.hour, s.minute)
	next := s.next
	s.mu.Unlock()
	zap.S().Named("scheduler").Infow("credential refresh scheduler started", "next", next, "poll", s.poll)

	go func() {
		defer close(s.done)
		ticker := jitterbug.New(s.poll, &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0})
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				zap.S().Named("scheduler").Info("credential refresh scheduler stopped")
				return
			case now := <-ticker.C:
				s.RunPending(ctx, now)
			}
		}
	}()
	return true
}

// RunPending runs a cycle when now has reached the scheduled time and then
// schedules the next one. It reports whether a cycle ran.
func (s *Scheduler) RunPending(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	if s.next.IsZero() {
		s.next = nextRun(now, s.hour, s.minute)
	}
	if now.Before(s.next) {
		s.mu.Unlock()
		return false
	}
	s.next = nextRun(now, s.hour, s.minute)
	next := s.next
	s.mu.Unlock()

	log := zap.S().Named("scheduler")
	results, err := s.refresher.RefreshAll(ctx)
	switch {
	case errors.Is(err, ErrRefreshInProgress):
		log.Infow("skipping scheduled refresh, another cycle is running", "next", next)
	case err != nil:
		log.Warnw("scheduled refresh failed", "error", err, "next", next)
	default:
		log.Infow("scheduled refresh finished", "results", results, "next", next)
	}
	return true
}

// Next returns the time of the next scheduled cycle.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Done is closed when the polling loop exits.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
