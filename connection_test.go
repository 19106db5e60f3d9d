package amqprecover

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestConnection(t *testing.T, dialer *fakeDialer, opts ...ConnectionOption) *Connection {
	t.Helper()
	allOpts := append([]ConnectionOption{WithNetworkRecoveryInterval(5 * time.Millisecond)}, opts...)
	conn := NewConnection(staticFakeResolver{}, dialer.dial, allOpts...)
	require.NoError(t, conn.Open(context.Background()))
	t.Cleanup(func() { _ = conn.Close("test done") })
	return conn
}

func waitForRecoverySucceeded(t *testing.T, conn *Connection, within time.Duration) RecoverySucceededEvent {
	t.Helper()
	ch := make(chan RecoverySucceededEvent, 1)
	conn.OnRecoverySucceeded(func(ev RecoverySucceededEvent) {
		select {
		case ch <- ev:
		default:
		}
	})
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatal("recovery did not complete in time")
		return RecoverySucceededEvent{}
	}
}

// scenario 1: clean recovery re-declares exchanges/queues/bindings against
// the new transport generation.
func TestConnection_CleanRecoveryReplaysTopology(t *testing.T) {
	dialer := &fakeDialer{}
	conn := openTestConnection(t, dialer)

	ch, err := conn.NewChannel(context.Background())
	require.NoError(t, err)

	require.NoError(t, ch.ExchangeDeclare(context.Background(), NewExchange("orders", "topic", ExchangeDurable())))
	_, err = ch.QueueDeclare(context.Background(), NewQueue("orders.q", QueueDurable()))
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(context.Background(), NewBinding("orders", "orders.q", "orders.#")))

	gen1 := dialer.last()
	gen1.simulatePeerClose()

	waitForRecoverySucceeded(t, conn, 2*time.Second)

	gen2 := dialer.last()
	require.NotSame(t, gen1, gen2, "a new transport generation must have been dialed")

	exchanges, queues, binds, _ := gen2.snapshot()
	assert.Contains(t, exchanges, "orders")
	assert.Contains(t, queues, "orders.q")
	assert.Equal(t, 1, binds)
}

// scenario 2: a server-named queue gets a fresh server-generated name on
// every recovery, and the ledger/event stream reflect the rename.
func TestConnection_ServerNamedQueueRenamedOnRecovery(t *testing.T) {
	dialer := &fakeDialer{}
	conn := openTestConnection(t, dialer)

	ch, err := conn.NewChannel(context.Background())
	require.NoError(t, err)

	declared, err := ch.QueueDeclare(context.Background(), NewQueue(""))
	require.NoError(t, err)
	require.True(t, declared.IsServerNamed)
	oldName := declared.Name

	var renamed QueueNameChangedEvent
	renameCh := make(chan QueueNameChangedEvent, 1)
	conn.OnQueueNameChanged(func(ev QueueNameChangedEvent) { renameCh <- ev })

	dialer.last().simulatePeerClose()
	waitForRecoverySucceeded(t, conn, 2*time.Second)

	select {
	case renamed = <-renameCh:
	case <-time.After(time.Second):
		t.Fatal("expected a QueueNameChanged event")
	}

	assert.Equal(t, oldName, renamed.OldName)
	assert.NotEqual(t, oldName, renamed.NewName, "server-named queue must be assigned a fresh name on recovery")

	_, newQueues, _, _ := dialer.last().snapshot()
	assert.Contains(t, newQueues, renamed.NewName)
}

// scenario 3: a server-generated consumer tag changes across recovery and
// the consumer is resubscribed on the queue it originally targeted.
func TestConnection_ServerGeneratedConsumerTagChangesOnRecovery(t *testing.T) {
	dialer := &fakeDialer{}
	conn := openTestConnection(t, dialer)

	ch, err := conn.NewChannel(context.Background())
	require.NoError(t, err)

	_, err = ch.QueueDeclare(context.Background(), NewQueue("work.q", QueueDurable()))
	require.NoError(t, err)

	declaredConsumer, err := ch.Consume(context.Background(), NewConsumer("work.q", func(Delivery) {}))
	require.NoError(t, err)
	oldTag := declaredConsumer.Tag
	require.NotEmpty(t, oldTag)

	tagCh := make(chan ConsumerTagChangedEvent, 1)
	conn.OnConsumerTagChanged(func(ev ConsumerTagChangedEvent) { tagCh <- ev })

	dialer.last().simulatePeerClose()
	waitForRecoverySucceeded(t, conn, 2*time.Second)

	select {
	case ev := <-tagCh:
		assert.Equal(t, oldTag, ev.OldTag)
		assert.NotEqual(t, oldTag, ev.NewTag)
	case <-time.After(time.Second):
		t.Fatal("expected a ConsumerTagChanged event")
	}

	_, _, _, consumedQueues := dialer.last().snapshot()
	assert.Contains(t, consumedQueues, "work.q")
}

// scenario 4: retry backoff — the first two dial attempts fail and the
// third succeeds, with each failure reported via ConnectionRecoveryError.
func TestConnection_RetryBackoffSucceedsAfterTransientFailures(t *testing.T) {
	dialer := &fakeDialer{}
	conn := openTestConnection(t, dialer)

	// The initial Open() dial must succeed; only the two dials attempted
	// during recovery should fail, so the fail threshold is set relative to
	// dials already spent.
	atomic.StoreInt32(&dialer.failCount, atomic.LoadInt32(&dialer.dialed)+2)

	var recoveryErrs atomic.Int32
	conn.OnConnectionRecoveryError(func(ConnectionRecoveryErrorEvent) { recoveryErrs.Add(1) })

	dialer.last().simulatePeerClose()

	ev := waitForRecoverySucceeded(t, conn, 3*time.Second)
	assert.Equal(t, 3, ev.Attempt, "recovery should succeed on the third attempt")
	assert.Equal(t, int32(2), recoveryErrs.Load(), "the two failed attempts must each fire ConnectionRecoveryError")
}

// scenario 5: an application-initiated close must never trigger recovery.
// fakeTransport.Close fires a real ShutdownEvent classified as
// InitiatorApplication, so this exercises the trigger policy itself rather
// than passing vacuously on an event that never arrives.
func TestConnection_ApplicationCloseDoesNotTriggerRecovery(t *testing.T) {
	dialer := &fakeDialer{}
	conn := NewConnection(staticFakeResolver{}, dialer.dial, WithNetworkRecoveryInterval(5*time.Millisecond))
	require.NoError(t, conn.Open(context.Background()))

	var succeeded atomic.Int32
	conn.OnRecoverySucceeded(func(RecoverySucceededEvent) { succeeded.Add(1) })

	shutdownCh := make(chan ShutdownEvent, 1)
	conn.OnConnectionShutdown(func(ev ShutdownEvent) { shutdownCh <- ev })

	require.NoError(t, conn.Close("application shutdown"))

	select {
	case ev := <-shutdownCh:
		assert.Equal(t, InitiatorApplication, ev.Initiator)
	case <-time.After(time.Second):
		t.Fatal("expected a ConnectionShutdown event for the application-initiated close")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), succeeded.Load())
	assert.Equal(t, stateConnected, conn.supervisor.State(), "the trigger policy must reject InitiatorApplication and never call BeginRecovery")
	assert.False(t, conn.IsOpen())
}

func TestConnection_TopologyRecoveryDisabledSkipsReplay(t *testing.T) {
	dialer := &fakeDialer{}
	conn := openTestConnection(t, dialer, WithTopologyRecoveryDisabled())

	ch, err := conn.NewChannel(context.Background())
	require.NoError(t, err)
	require.NoError(t, ch.ExchangeDeclare(context.Background(), NewExchange("e", "direct")))

	dialer.last().simulatePeerClose()
	waitForRecoverySucceeded(t, conn, 2*time.Second)

	exchanges, _, _, _ := dialer.last().snapshot()
	assert.Empty(t, exchanges, "replay must not run when topology recovery is disabled")
}
