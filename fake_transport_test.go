package amqprecover

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// fakeTransport and fakeChannel implement TransportConnection and
// RecoveryAwareChannel entirely in-process, standing in for a real broker so
// the end-to-end recovery scenarios can run without one.
type fakeTransport struct {
	generation int
	ep         Endpoint

	mu         sync.Mutex
	open       bool
	shutdownCh chan ShutdownEvent
	blockedCh  chan BlockedEvent

	queueNameSeq   int
	consumerTagSeq int

	declareQueueErr    error
	declareExchangeErr error

	declaredExchanges []string
	declaredQueues    []string
	bindCount         int
	consumedQueues    []string
}

func newFakeTransport(generation int) *fakeTransport {
	return &fakeTransport{
		generation: generation,
		ep:         Endpoint{Address: fmt.Sprintf("fake://node-%d", generation)},
		open:       true,
		shutdownCh: make(chan ShutdownEvent, 1),
		blockedCh:  make(chan BlockedEvent, 1),
	}
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Close mirrors transport/amqp091.go's connectionAdapter: a locally
// initiated close still fires a ShutdownEvent, but classified as
// InitiatorApplication so the trigger policy rejects it.
func (f *fakeTransport) Close(reason string) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return nil
	}
	f.open = false
	f.mu.Unlock()

	f.shutdownCh <- ShutdownEvent{Initiator: InitiatorApplication, Reason: fmt.Errorf("fake: closed locally: %s", reason)}
	return nil
}

func (f *fakeTransport) Abort() error { return f.Close("abort") }

func (f *fakeTransport) NotifyShutdown() <-chan ShutdownEvent { return f.shutdownCh }
func (f *fakeTransport) NotifyBlocked() <-chan BlockedEvent   { return f.blockedCh }

func (f *fakeTransport) CreateSession(ctx context.Context) (RecoveryAwareChannel, error) {
	return &fakeChannel{transport: f}, nil
}

func (f *fakeTransport) Endpoint() Endpoint              { return f.ep }
func (f *fakeTransport) LocalPort() int                  { return 10000 + f.generation }
func (f *fakeTransport) RemotePort() int                 { return 5672 }
func (f *fakeTransport) ServerProperties() map[string]any { return map[string]any{"product": "fake"} }
func (f *fakeTransport) ChannelMax() int                 { return 2047 }
func (f *fakeTransport) FrameMax() int                   { return 131072 }

// simulatePeerClose delivers a server-initiated shutdown, the trigger for
// every recovery scenario exercised by the tests in this package.
func (f *fakeTransport) simulatePeerClose() {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	f.shutdownCh <- ShutdownEvent{Initiator: InitiatorPeer, Reason: fmt.Errorf("fake: peer closed")}
}

type fakeChannel struct {
	transport *fakeTransport
	mu        sync.Mutex
	closed    bool
}

func (c *fakeChannel) ExchangeDeclare(ctx context.Context, x RecordedExchange) error {
	if c.transport.declareExchangeErr != nil {
		return c.transport.declareExchangeErr
	}
	c.transport.mu.Lock()
	c.transport.declaredExchanges = append(c.transport.declaredExchanges, x.Name)
	c.transport.mu.Unlock()
	return nil
}

func (c *fakeChannel) ExchangeDelete(ctx context.Context, name string) error { return nil }

func (c *fakeChannel) QueueDeclare(ctx context.Context, q RecordedQueue) (string, error) {
	if c.transport.declareQueueErr != nil {
		return "", c.transport.declareQueueErr
	}
	name := q.Name
	if name == "" {
		c.transport.mu.Lock()
		c.transport.queueNameSeq++
		name = fmt.Sprintf("amq.gen-gen%d-%d", c.transport.generation, c.transport.queueNameSeq)
		c.transport.mu.Unlock()
	}

	c.transport.mu.Lock()
	c.transport.declaredQueues = append(c.transport.declaredQueues, name)
	c.transport.mu.Unlock()
	return name, nil
}

func (c *fakeChannel) QueueDelete(ctx context.Context, name string) error { return nil }

func (c *fakeChannel) QueueBind(ctx context.Context, b RecordedBinding) error {
	c.transport.mu.Lock()
	c.transport.bindCount++
	c.transport.mu.Unlock()
	return nil
}

func (c *fakeChannel) QueueUnbind(ctx context.Context, b RecordedBinding) error { return nil }

func (c *fakeChannel) Consume(ctx context.Context, rc RecordedConsumer) (string, error) {
	tag := rc.Tag
	if tag == "" {
		c.transport.mu.Lock()
		c.transport.consumerTagSeq++
		tag = fmt.Sprintf("ctag-gen%d-%d", c.transport.generation, c.transport.consumerTagSeq)
		c.transport.mu.Unlock()
	}

	c.transport.mu.Lock()
	c.transport.consumedQueues = append(c.transport.consumedQueues, rc.Queue)
	c.transport.mu.Unlock()
	return tag, nil
}

// snapshot returns a consistent view of what this generation observed,
// used by tests asserting replay actually re-declared topology.
func (f *fakeTransport) snapshot() (exchanges, queues []string, binds int, consumes []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.declaredExchanges...),
		append([]string(nil), f.declaredQueues...),
		f.bindCount,
		append([]string(nil), f.consumedQueues...)
}

func (c *fakeChannel) Cancel(ctx context.Context, tag string) error { return nil }

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (c *fakeChannel) Confirm(noWait bool) error { return nil }

func (c *fakeChannel) NotifyClose() <-chan ShutdownEvent {
	return make(chan ShutdownEvent)
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeDialer produces successive fakeTransport "generations" on each dial,
// optionally failing the first failCount dials, for exercising retry backoff.
type fakeDialer struct {
	failCount int32
	dialed    int32

	mu         sync.Mutex
	transports []*fakeTransport
}

func (d *fakeDialer) dial(ctx context.Context, ep Endpoint) (TransportConnection, error) {
	n := atomic.AddInt32(&d.dialed, 1)
	if n <= atomic.LoadInt32(&d.failCount) {
		return nil, fmt.Errorf("fake: refused (attempt %d)", n)
	}

	t := newFakeTransport(int(n))
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

type staticFakeResolver struct{}

func (staticFakeResolver) SelectOne(ctx context.Context, dial func(context.Context, Endpoint) (TransportConnection, error)) (TransportConnection, error) {
	return dial(ctx, Endpoint{Address: "fake://cluster"})
}
