package expiry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ms-reservations/internal/logger"
	"ms-reservations/internal/reservation"
)

// Sweeper is the part of the reservation service the scheduler drives.
type Sweeper interface {
	ExpireDueOptions(ctx context.Context, now time.Time, limit int) (*reservation.SweepResult, error)
}

// OfferExpirer closes stale waitlist offers and re-promotes their events.
type OfferExpirer interface {
	ExpireOffers(ctx context.Context, now time.Time) (int, []string, error)
	Promote(ctx context.Context, eventID string) (int, error)
}

// SweepLock guards a sweep across processes. acquired is false when another process
// holds it.
type SweepLock interface {
	TryLock(ctx context.Context, name string) (unlock func(), acquired bool, err error)
}

const sweepLockName = "option-sweep"

type Options struct {
	Interval time.Duration
	Batch    int
}

type Stats struct {
	Running       bool      `json:"running"`
	TotalSweeps   int64     `json:"total_sweeps"`
	TotalExpired  int64     `json:"total_expired"`
	TotalFailures int64     `json:"total_failures"`
	LastSweepAt   time.Time `json:"last_sweep_at,omitempty"`
	LastExpired   int       `json:"last_expired"`
	LastOffers    int       `json:"last_offers_expired"`
}

type Scheduler struct {
	sweeper Sweeper
	offers  OfferExpirer
	lock    SweepLock
	logger  *logger.Logger
	opts    Options
	now     func() time.Time

	sweeping atomic.Bool
	running  atomic.Bool

	mu    sync.Mutex
	stats Stats

	stop chan struct{}
	done chan struct{}

	// OnSweep, when set, observes every completed sweep.
	OnSweep func(res *reservation.SweepResult, took time.Duration)
}

// NewScheduler builds a scheduler. offers and lock may be nil.
func NewScheduler(sweeper Sweeper, offers OfferExpirer, lock SweepLock, log *logger.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 200
	}
	return &Scheduler{
		sweeper: sweeper,
		offers:  offers,
		lock:    lock,
		logger:  log,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start sweeps once immediately and then on every tick until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.logger.Info("SWEEP", fmt.Sprintf("Option expiry scheduler started, interval %s", s.opts.Interval))

	go func() {
		defer close(s.done)
		defer s.running.Store(false)

		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		s.runSweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.runSweep(ctx)
			}
		}
	}()
}

// Stop waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if !s.running.Load() {
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	s.logger.Info("SWEEP", "Option expiry scheduler stopped")
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("SWEEP", fmt.Sprintf("Sweep failed: %v", err))
	}
}

// Sweep runs one pass. It returns (nil, nil) when another sweep, in this process or
// another one, is already running.
func (s *Scheduler) Sweep(ctx context.Context) (*reservation.SweepResult, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.logger.Debug("SWEEP", "Previous sweep still running, skipping")
		return nil, nil
	}
	defer s.sweeping.Store(false)

	if s.lock != nil {
		unlock, acquired, err := s.lock.TryLock(ctx, sweepLockName)
		if err != nil {
			return nil, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			s.logger.Debug("SWEEP", "Sweep lock held elsewhere, skipping")
			return nil, nil
		}
		defer unlock()
	}

	start := time.Now()
	now := s.now()
	res, err := s.sweeper.ExpireDueOptions(ctx, now, s.opts.Batch)
	if err != nil {
		return res, err
	}

	offersExpired := 0
	if s.offers != nil {
		n, events, err := s.offers.ExpireOffers(ctx, now)
		if err != nil {
			s.logger.Error("SWEEP", fmt.Sprintf("Expire waitlist offers: %v", err))
		}
		offersExpired = n
		for _, eventID := range events {
			if _, err := s.offers.Promote(ctx, eventID); err != nil {
				s.logger.Error("WAITLIST", fmt.Sprintf("Re-promote %s: %v", eventID, err))
			}
		}
	}

	s.mu.Lock()
	s.stats.TotalSweeps++
	s.stats.TotalExpired += int64(res.Expired)
	s.stats.TotalFailures += int64(len(res.Failures))
	s.stats.LastSweepAt = now
	s.stats.LastExpired = res.Expired
	s.stats.LastOffers = offersExpired
	s.mu.Unlock()

	if s.OnSweep != nil {
		s.OnSweep(res, time.Since(start))
	}
	if res.Processed > 0 || offersExpired > 0 {
		s.logger.LogSweep(res.Processed, res.Expired, len(res.Failures), time.Since(start))
	}
	return res, nil
}

// ExpireOptionsNow is the manual trigger. It shares the overlap guard with the ticker.
func (s *Scheduler) ExpireOptionsNow(ctx context.Context) (*reservation.SweepResult, error) {
	res, err := s.Sweep(ctx)
	if err == nil && res == nil {
		return &reservation.SweepResult{StartedAt: s.now()}, nil
	}
	return res, err
}

func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Running = s.running.Load()
	return st
}
