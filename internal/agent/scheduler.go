package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Work is a unit of scheduled work. gen identifies the schedule generation
// the run belongs to and must be passed back to ArmNext.
type Work func(ctx context.Context, gen uint64)

// Scheduler owns the single publish timer. At most one timer is pending at
// any time and runs never overlap.
//
// Arm and CancelCurrent start a new generation: the pending timer is
// stopped and the context of an in-flight run is cancelled. A run re-arms its
// successor with ArmNext, which is ignored once the run's generation has been
// superseded.
type Scheduler struct {
	logger *slog.Logger

	// runMu serializes runs so a superseded run finishes before its
	// replacement starts.
	runMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	timer     *time.Timer
	timerID   uint64
	cancelRun context.CancelFunc
	ctx       context.Context
	stop      context.CancelFunc
	stopped   bool
	wg        sync.WaitGroup
}

// NewScheduler creates an idle Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		ctx:    ctx,
		stop:   stop,
	}
}

// Arm cancels any pending timer and in-flight run, then schedules work to
// run after delay. It returns the new generation, or 0 if the scheduler has
// been stopped.
func (s *Scheduler) Arm(delay time.Duration, work Work) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}
	s.resetLocked()
	s.armLocked(delay, work)
	s.logger.Debug("timer armed", "generation", s.gen, "delay", delay)
	return s.gen
}

// ArmNext schedules work after delay if gen is still the current generation.
// It reports whether the timer was armed.
func (s *Scheduler) ArmNext(gen uint64, delay time.Duration, work Work) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.gen {
		s.logger.Debug("stale re-arm dropped", "generation", gen, "current", s.gen)
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.armLocked(delay, work)
	s.logger.Debug("timer re-armed", "generation", gen, "delay", delay)
	return true
}

// CancelCurrent cancels the pending timer and any in-flight run without
// arming a new one. It is safe to call repeatedly.
func (s *Scheduler) CancelCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.resetLocked()
}

// Pending reports whether a timer is armed and has not fired yet.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Generation returns the current schedule generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Stop cancels all scheduled and running work and waits for in-flight runs
// to return. The scheduler cannot be re-armed afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.resetLocked()
	s.stop()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) resetLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
}

func (s *Scheduler) armLocked(delay time.Duration, work Work) {
	gen := s.gen
	s.timerID++
	id := s.timerID
	s.timer = time.AfterFunc(delay, func() { s.fire(gen, id, work) })
}

func (s *Scheduler) fire(gen, id uint64, work Work) {
	s.mu.Lock()
	if s.timerID == id {
		s.timer = nil
	}
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelRun = cancel
	s.mu.Unlock()
	defer cancel()

	work(ctx, gen)
}
