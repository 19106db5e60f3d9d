package amqprecover

import (
	"context"
	"sync"
	"time"
)

// supervisor is the Recovery Supervisor: a two-state machine
// driven by a dedicated background goroutine, observing shutdown events and
// retrying tryRecover without overlapping user-initiated close.
type supervisor struct {
	networkRecoveryInterval time.Duration
	tryRecover              func(ctx context.Context, attempt int) error
	logger                  Logger

	mu    sync.Mutex
	state supervisorState

	// commands is a bounded, coalescing queue: it only ever carries
	// cmdPerformRecovery retry ticks (BeginRecovery is handled inline
	// under mu, not sent as a command). Capacity 1 plus a non-blocking send
	// drops or coalesces duplicate retry ticks: a pending tick already
	// covers any tick that would be coalesced into it.
	commands chan supervisorCommand

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once

	attempt int
}

func newSupervisor(interval time.Duration, tryRecover func(context.Context, int) error, logger Logger) *supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &supervisor{
		networkRecoveryInterval: interval,
		tryRecover:              tryRecover,
		logger:                  logger,
		state:                   stateConnected,
		commands:                make(chan supervisorCommand, 1),
		done:                    make(chan struct{}),
		ctx:                     ctx,
		cancel:                  cancel,
	}
}

// run is the supervisor's dedicated background worker. It
// blocks on commands until cancellation, then drains and terminates,
// signaling completion via the one-shot done latch.
func (s *supervisor) run() {
	ctx := s.ctx

	defer s.doneOnce.Do(func() { close(s.done) })

	for {
		select {
		case <-ctx.Done():
			// drain a pending retry tick without acting on it.
			select {
			case <-s.commands:
			default:
			}
			return

		case cmd := <-s.commands:
			// A recovery attempt that is mid-replay is not interrupted
			//: tryRecover runs to completion even if ctx is
			// cancelled partway through; only the *next* wait for a
			// command observes cancellation.
			s.handlePerformRecovery(ctx, cmd)
		}
	}
}

func (s *supervisor) handlePerformRecovery(ctx context.Context, cmd supervisorCommand) {
	if cmd != cmdPerformRecovery {
		return
	}

	s.mu.Lock()
	if s.state != stateRecovering {
		s.mu.Unlock()
		s.logger.Warn("PerformRecovery received while Connected", nil)
		return
	}
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	err := s.safeTryRecover(ctx, attempt)

	s.mu.Lock()
	if err == nil {
		s.state = stateConnected
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.scheduleRetry()
}

// safeTryRecover never panics out to the supervisor's outermost loop.
func (s *supervisor) safeTryRecover(ctx context.Context, attempt int) (err error) {
	defer recoverFromHandler(&err)
	return s.tryRecover(ctx, attempt)
}

// BeginRecovery transitions Connected -> Recovering and schedules the first
// retry tick, or is a no-op if already Recovering. It returns
// ErrSupervisorStopped without changing state if the supervisor's run loop
// has already been cancelled via Stop.
func (s *supervisor) BeginRecovery() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return ErrSupervisorStopped
	}

	switch s.state {
	case stateConnected:
		s.state = stateRecovering
		s.attempt = 0
		s.logger.Info("beginning recovery", nil)
		s.scheduleRetryLocked()
	case stateRecovering:
		s.logger.Info("BeginRecovery while already Recovering: no-op", nil)
	}
	return nil
}

func (s *supervisor) scheduleRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleRetryLocked()
}

// scheduleRetryLocked arms a timer that enqueues cmdPerformRecovery after
// networkRecoveryInterval, rather than sleeping the supervisor goroutine
// directly.
func (s *supervisor) scheduleRetryLocked() {
	time.AfterFunc(s.networkRecoveryInterval, func() {
		select {
		case s.commands <- cmdPerformRecovery:
		default:
			// a retry tick is already pending; coalesce.
		}
	})
}

// State returns the current machine state; used by tests and by diagnostics.
func (s *supervisor) State() supervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop cancels the supervisor's context and blocks until it has terminated,
// bounded by timeout. On timeout it logs a warning and returns anyway — the
// supervisor goroutine is a daemon and will exit on its own once it next
// wakes.
func (s *supervisor) Stop(timeout time.Duration) {
	s.cancel()

	select {
	case <-s.done:
	case <-time.After(timeout):
		s.logger.Warn("timed out waiting for recovery supervisor to stop", nil)
	}
}
