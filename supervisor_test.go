package amqprecover

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_BeginRecoveryNoOpWhileRecovering(t *testing.T) {
	var calls int32
	block := make(chan struct{})

	s := newSupervisor(time.Millisecond, func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&calls, 1)
		<-block
		return nil
	}, noopLogger{})
	go s.run()
	defer func() {
		close(block)
		s.Stop(time.Second)
	}()

	s.BeginRecovery()
	require.Eventually(t, func() bool { return s.State() == stateRecovering }, time.Second, time.Millisecond)

	s.BeginRecovery() // no-op: already Recovering

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "at most one recovery in flight at a time")
}

func TestSupervisor_PerformRecoveryNoOpWhileConnected(t *testing.T) {
	var calls int32
	s := newSupervisor(time.Millisecond, func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, noopLogger{})
	go s.run()
	defer s.Stop(time.Second)

	// Inject a stray cmdPerformRecovery while still Connected; it must be
	// rejected without invoking tryRecover.
	s.commands <- cmdPerformRecovery

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, stateConnected, s.State())
}

func TestSupervisor_RetriesUntilSuccessThenReturnsToConnected(t *testing.T) {
	var attempts int32
	s := newSupervisor(5*time.Millisecond, func(ctx context.Context, attempt int) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return assertErr
		}
		return nil
	}, noopLogger{})
	go s.run()
	defer s.Stop(time.Second)

	s.BeginRecovery()

	require.Eventually(t, func() bool { return s.State() == stateConnected }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestSupervisor_TryRecoverPanicIsRecovered(t *testing.T) {
	s := newSupervisor(5*time.Millisecond, func(ctx context.Context, attempt int) error {
		panic("boom")
	}, noopLogger{})
	go s.run()
	defer s.Stop(time.Second)

	s.BeginRecovery()

	require.Eventually(t, func() bool { return s.State() == stateRecovering }, time.Second, 5*time.Millisecond)
}

func TestSupervisor_StopIsIdempotentAndTimelyWithNoPendingWork(t *testing.T) {
	s := newSupervisor(time.Hour, func(ctx context.Context, attempt int) error { return nil }, noopLogger{})
	go s.run()

	done := make(chan struct{})
	go func() {
		s.Stop(time.Second)
		s.Stop(time.Second) // a second Stop on a stopped supervisor returns at once
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

var assertErr = &TopologyRecoveryException{Phase: "test", Key: "x", Err: context.DeadlineExceeded}
