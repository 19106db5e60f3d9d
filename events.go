package amqprecover

import (
	"sync"

	"github.com/google/uuid"
)

// RecoverySucceededEvent fires once per completed recovery attempt that
// returns the supervisor to stateConnected.
type RecoverySucceededEvent struct {
	CorrelationID string
	Attempt       int
}

// ConsumerTagChangedEvent fires when replay discovers the server assigned a
// new consumer tag.
type ConsumerTagChangedEvent struct {
	OldTag string
	NewTag string
}

// QueueNameChangedEvent fires when replay discovers the server assigned a
// new name to a server-named queue.
type QueueNameChangedEvent struct {
	OldName string
	NewName string
}

// eventBus fans out every recovery-lifecycle notification to its own
// independent, ordered subscriber list, delivered synchronously.
//
// All subscriber lists share one mutex, and delivery holds it only long
// enough to snapshot the subscriber slice (matching the ledger's
// snapshot-before-iterate discipline), so subscribers run without the lock
// held.
type eventBus struct {
	logger Logger

	mu sync.Mutex

	onRecoverySucceeded     []func(RecoverySucceededEvent)
	onConnectionRecoveryErr []func(ConnectionRecoveryErrorEvent)
	onCallbackException     []func(CallbackExceptionEvent)
	onConnectionBlocked     []func(BlockedEvent)
	onConnectionUnblocked   []func(BlockedEvent)
	onConnectionShutdown    []func(ShutdownEvent)
	onConsumerTagChanged    []func(ConsumerTagChangedEvent)
	onQueueNameChanged      []func(QueueNameChangedEvent)
}

func newEventBus(logger Logger) *eventBus {
	return &eventBus{logger: logger}
}

func (b *eventBus) OnRecoverySucceeded(fn func(RecoverySucceededEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRecoverySucceeded = append(b.onRecoverySucceeded, fn)
}

func (b *eventBus) OnConnectionRecoveryError(fn func(ConnectionRecoveryErrorEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnectionRecoveryErr = append(b.onConnectionRecoveryErr, fn)
}

func (b *eventBus) OnCallbackException(fn func(CallbackExceptionEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCallbackException = append(b.onCallbackException, fn)
}

func (b *eventBus) OnConnectionBlocked(fn func(BlockedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnectionBlocked = append(b.onConnectionBlocked, fn)
}

func (b *eventBus) OnConnectionUnblocked(fn func(BlockedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnectionUnblocked = append(b.onConnectionUnblocked, fn)
}

func (b *eventBus) OnConnectionShutdown(fn func(ShutdownEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnectionShutdown = append(b.onConnectionShutdown, fn)
}

func (b *eventBus) OnConsumerTagChanged(fn func(ConsumerTagChangedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConsumerTagChanged = append(b.onConsumerTagChanged, fn)
}

func (b *eventBus) OnQueueNameChanged(fn func(QueueNameChangedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onQueueNameChanged = append(b.onQueueNameChanged, fn)
}

// fireCallbackException is the only stream that may not itself raise a
// second-order CallbackException; a handler that panics here is merely
// logged, which is what prevents infinite fan-out recursion.
func (b *eventBus) fireCallbackException(context string, cause error) {
	b.mu.Lock()
	subs := append([]func(CallbackExceptionEvent){}, b.onCallbackException...)
	b.mu.Unlock()

	ev := CallbackExceptionEvent{Context: context, Err: cause}
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("callback-exception subscriber panicked", nil, map[string]any{
						"context": context,
						"panic":   r,
					})
				}
			}()
			fn(ev)
		}()
	}
}

func (b *eventBus) fireRecoverySucceeded(attempt int) {
	b.mu.Lock()
	subs := append([]func(RecoverySucceededEvent){}, b.onRecoverySucceeded...)
	b.mu.Unlock()

	ev := RecoverySucceededEvent{CorrelationID: uuid.NewString(), Attempt: attempt}
	for _, fn := range subs {
		b.guard("OnRecoverySucceeded", func() { fn(ev) })
	}
}

func (b *eventBus) fireConnectionRecoveryError(attempt int, cause error) {
	b.mu.Lock()
	subs := append([]func(ConnectionRecoveryErrorEvent){}, b.onConnectionRecoveryErr...)
	b.mu.Unlock()

	ev := ConnectionRecoveryErrorEvent{Attempt: attempt, Err: cause}
	for _, fn := range subs {
		b.guard("OnConnectionRecoveryError", func() { fn(ev) })
	}
}

func (b *eventBus) fireConnectionBlocked(ev BlockedEvent) {
	b.mu.Lock()
	subs := append([]func(BlockedEvent){}, b.onConnectionBlocked...)
	b.mu.Unlock()

	for _, fn := range subs {
		b.guard("OnConnectionBlocked", func() { fn(ev) })
	}
}

func (b *eventBus) fireConnectionUnblocked(ev BlockedEvent) {
	b.mu.Lock()
	subs := append([]func(BlockedEvent){}, b.onConnectionUnblocked...)
	b.mu.Unlock()

	for _, fn := range subs {
		b.guard("OnConnectionUnblocked", func() { fn(ev) })
	}
}

func (b *eventBus) fireConnectionShutdown(ev ShutdownEvent) {
	b.mu.Lock()
	subs := append([]func(ShutdownEvent){}, b.onConnectionShutdown...)
	b.mu.Unlock()

	for _, fn := range subs {
		b.guard("OnConnectionShutdown", func() { fn(ev) })
	}
}

func (b *eventBus) fireConsumerTagChanged(ev ConsumerTagChangedEvent) {
	b.mu.Lock()
	subs := append([]func(ConsumerTagChangedEvent){}, b.onConsumerTagChanged...)
	b.mu.Unlock()

	for _, fn := range subs {
		b.guard("OnConsumerTagChangedAfterRecovery", func() { fn(ev) })
	}
}

func (b *eventBus) fireQueueNameChanged(ev QueueNameChangedEvent) {
	b.mu.Lock()
	subs := append([]func(QueueNameChangedEvent){}, b.onQueueNameChanged...)
	b.mu.Unlock()

	for _, fn := range subs {
		b.guard("OnQueueNameChangedAfterRecovery", func() { fn(ev) })
	}
}

// guard runs a subscriber, repackaging a panic or captured error as a
// CallbackException event tagged with the fan-out site.
func (b *eventBus) guard(context string, call func()) {
	var err error
	func() {
		defer recoverFromHandler(&err)
		call()
	}()
	if err != nil {
		b.fireCallbackException(context, err)
	}
}
