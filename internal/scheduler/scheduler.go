// Package scheduler runs replay in the background when connectivity allows.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/fieldsync/fieldsync/internal/connectivity"
	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/replay"
)

// Processor is the replay surface the scheduler drives.
type Processor interface {
	ProcessAll(ctx context.Context) (*replay.Result, error)
}

// PendingCounter reports how many items are waiting, so idle ticks skip the
// session refresh a replay run would otherwise perform.
type PendingCounter interface {
	GetPendingCount() int
}

// Scheduler triggers replay runs while online: periodically, and immediately
// on an offline-to-online transition.
type Scheduler struct {
	processor Processor
	pending   PendingCounter
	online    connectivity.Signal
	interval  time.Duration

	mu         sync.Mutex
	isRunning  bool
	inProgress bool
	lastRun    time.Time
	lastResult *replay.Result
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New creates a Scheduler.
func New(processor Processor, pending PendingCounter, online connectivity.Signal, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		processor: processor,
		pending:   pending,
		online:    online,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the background replay loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.replayLoop(ctx)

	logging.Info("Replay scheduler started",
		map[string]interface{}{"interval_seconds": s.interval.Seconds()})
}

// Stop stops the background loop gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Replay scheduler stopped", nil)
}

// OnConnectivityChange is wired as the connectivity monitor's transition
// callback: regaining connectivity triggers an immediate drain.
func (s *Scheduler) OnConnectivityChange(ctx context.Context) func(online bool) {
	return func(online bool) {
		if online {
			go s.runReplay(ctx)
		}
	}
}

// TriggerNow starts a replay run immediately. Returns false if one is
// already in progress.
func (s *Scheduler) TriggerNow(ctx context.Context) bool {
	s.mu.Lock()
	busy := s.inProgress
	s.mu.Unlock()
	if busy {
		return false
	}

	go s.runReplay(ctx)
	return true
}

// RunNow executes one replay run synchronously. ran is false when another
// run was already in progress and nothing was done.
func (s *Scheduler) RunNow(ctx context.Context) (result *replay.Result, ran bool, err error) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return nil, false, nil
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result, err = s.processor.ProcessAll(runCtx)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastResult = result
	s.mu.Unlock()

	return result, true, err
}

// LastResult returns the most recent run summary, or nil before any run.
func (s *Scheduler) LastResult() (*replay.Result, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult, s.lastRun
}

// replayLoop periodically drains the queue while online.
func (s *Scheduler) replayLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.online.Online() {
				continue
			}
			if s.pending.GetPendingCount() == 0 {
				continue
			}
			s.runReplay(ctx)
		}
	}
}

// runReplay executes one background replay run, never concurrently with
// another.
func (s *Scheduler) runReplay(ctx context.Context) {
	_, ran, err := s.RunNow(ctx)
	if ran && err != nil {
		logging.ErrorWithCode("Background replay run failed",
			string(fserrors.CodeOf(err)), err, nil)
	}
}
