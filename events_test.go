package amqprecover

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PanicInSubscriberDoesNotBlockLaterSubscribers(t *testing.T) {
	b := newEventBus(noopLogger{})

	var secondCalled bool
	var exceptions []CallbackExceptionEvent

	b.OnRecoverySucceeded(func(RecoverySucceededEvent) { panic("subscriber exploded") })
	b.OnRecoverySucceeded(func(RecoverySucceededEvent) { secondCalled = true })
	b.OnCallbackException(func(ev CallbackExceptionEvent) { exceptions = append(exceptions, ev) })

	b.fireRecoverySucceeded(1)

	assert.True(t, secondCalled, "a panicking subscriber must not prevent later subscribers from running")
	require.Len(t, exceptions, 1)
	assert.Equal(t, "OnRecoverySucceeded", exceptions[0].Context)
}

func TestEventBus_PanicInCallbackExceptionSubscriberIsOnlyLogged(t *testing.T) {
	b := newEventBus(noopLogger{})

	var secondCalled bool
	b.OnCallbackException(func(CallbackExceptionEvent) { panic("nested explosion") })
	b.OnCallbackException(func(CallbackExceptionEvent) { secondCalled = true })

	assert.NotPanics(t, func() {
		b.fireCallbackException("somewhere", errors.New("boom"))
	})
	assert.True(t, secondCalled)
}

func TestEventBus_QueueNameAndConsumerTagChangedDeliverInOrder(t *testing.T) {
	b := newEventBus(noopLogger{})

	var queueEvents []QueueNameChangedEvent
	var tagEvents []ConsumerTagChangedEvent

	b.OnQueueNameChanged(func(ev QueueNameChangedEvent) { queueEvents = append(queueEvents, ev) })
	b.OnConsumerTagChanged(func(ev ConsumerTagChangedEvent) { tagEvents = append(tagEvents, ev) })

	b.fireQueueNameChanged(QueueNameChangedEvent{OldName: "amq.gen-OLD", NewName: "amq.gen-NEW"})
	b.fireConsumerTagChanged(ConsumerTagChangedEvent{OldTag: "ctag-OLD", NewTag: "ctag-NEW"})

	require.Len(t, queueEvents, 1)
	assert.Equal(t, "amq.gen-OLD", queueEvents[0].OldName)
	assert.Equal(t, "amq.gen-NEW", queueEvents[0].NewName)

	require.Len(t, tagEvents, 1)
	assert.Equal(t, "ctag-OLD", tagEvents[0].OldTag)
	assert.Equal(t, "ctag-NEW", tagEvents[0].NewTag)
}

func TestEventBus_ConnectionBlockedAndUnblockedRouteSeparately(t *testing.T) {
	b := newEventBus(noopLogger{})

	var blocked, unblocked int
	b.OnConnectionBlocked(func(BlockedEvent) { blocked++ })
	b.OnConnectionUnblocked(func(BlockedEvent) { unblocked++ })

	b.fireConnectionBlocked(BlockedEvent{Active: true, Reason: "low on memory"})
	b.fireConnectionUnblocked(BlockedEvent{Active: false})

	assert.Equal(t, 1, blocked)
	assert.Equal(t, 1, unblocked)
}
