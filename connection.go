package amqprecover

import (
	"context"
	"fmt"
	"sync"
)

// Connection is the auto-recovering logical connection: a
// stable, long-lived handle whose identity, ClientProvidedName, and
// registered event subscriptions survive any number of transport restarts,
// while Endpoint/LocalPort/RemotePort/ServerProperties/ChannelMax/FrameMax
// reflect whichever transport is currently installed.
//
// Connection is a thin coordinator: it splits its concerns across six
// collaborating components instead of folding them into one struct.
type Connection struct {
	cfg Config

	ledger     *ledger
	events     *eventBus
	registry   *channelRegistry
	rebinder   *rebinder
	replayer   *replayer
	supervisor *supervisor

	dialEndpoint func(context.Context, Endpoint) (TransportConnection, error)

	closeMu sync.Mutex
	opened  bool
	closed  bool
}

// NewConnection builds a Connection that dials through resolver, using dial
// to open one candidate endpoint at a time. Call Open to establish the
// first transport connection and start the recovery supervisor.
func NewConnection(resolver EndpointResolver, dial func(context.Context, Endpoint) (TransportConnection, error), opts ...ConnectionOption) *Connection {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.resolver != nil {
		resolver = cfg.resolver
	}

	conn := &Connection{
		cfg:          cfg,
		ledger:       newLedger(cfg.logger),
		events:       newEventBus(cfg.logger),
		registry:     newChannelRegistry(cfg.logger),
		dialEndpoint: dial,
	}

	conn.rebinder = newRebinder(resolver, dial, cfg.logger, conn.onNewTransport)
	conn.replayer = newReplayer(conn.ledger, conn.events, cfg.logger)
	conn.supervisor = newSupervisor(cfg.networkRecoveryInterval, conn.tryRecover, cfg.logger)

	return conn
}

// Open dials the first transport connection and starts the recovery
// supervisor's background goroutine. It returns ErrConnectionNotClosed if
// called again on a Connection that is already open, and ErrConnectionClosed
// if called on one that has already been closed or aborted — a Connection's
// lifecycle is Open once, then Close/Abort once, never re-Opened in place.
func (c *Connection) Open(ctx context.Context) error {
	c.closeMu.Lock()
	switch {
	case c.closed:
		c.closeMu.Unlock()
		return ErrConnectionClosed
	case c.opened:
		c.closeMu.Unlock()
		return ErrConnectionNotClosed
	}
	c.opened = true
	c.closeMu.Unlock()

	if _, err := c.rebinder.reopen(ctx); err != nil {
		return fmt.Errorf("amqprecover: initial dial failed: %w", err)
	}
	go c.supervisor.run()
	return nil
}

// onNewTransport re-subscribes the connection-level event listeners
// (shutdown, blocked/unblocked) on a freshly opened transport.
func (c *Connection) onNewTransport(t TransportConnection) {
	go c.watchShutdown(t)
	go c.watchBlocked(t)
}

func (c *Connection) watchShutdown(t TransportConnection) {
	ev, ok := <-t.NotifyShutdown()
	if !ok {
		return
	}

	c.events.fireConnectionShutdown(ev)

	policy := c.cfg.triggerPolicy
	if policy == nil {
		policy = DefaultTriggerPolicy
	}
	if policy(ev) {
		if err := c.supervisor.BeginRecovery(); err != nil {
			c.cfg.logger.Warn("BeginRecovery after supervisor stopped", map[string]any{"err": err.Error()})
		}
	}
}

func (c *Connection) watchBlocked(t TransportConnection) {
	for ev := range t.NotifyBlocked() {
		if ev.Active {
			c.events.fireConnectionBlocked(ev)
		} else {
			c.events.fireConnectionUnblocked(ev)
		}
	}
}

// tryRecover implements the Recovery Supervisor's tryRecover() hook:
// reopen the transport, reattach logical channels, replay topology if
// enabled, and fan out RecoverySucceeded. It must not panic;
// any failure is reported via ConnectionRecoveryError and returned so the
// supervisor schedules another retry.
//
// Channels are reattached strictly before topology is replayed.
func (c *Connection) tryRecover(ctx context.Context, attempt int) error {
	transport, err := c.rebinder.reopen(ctx)
	if err != nil {
		c.events.fireConnectionRecoveryError(attempt, err)
		return err
	}

	c.registry.recoverAll(ctx, transport)

	if c.cfg.topologyRecoveryEnabled {
		session, err := transport.CreateSession(ctx)
		if err != nil {
			c.events.fireConnectionRecoveryError(attempt, err)
			return err
		}
		c.replayer.replay(ctx, session, c.registry.sessionFor)
		_ = session.Close()
	}

	c.events.fireRecoverySucceeded(attempt)
	return nil
}

// NewChannel opens a LogicalChannel against the currently installed
// transport and registers it with the Channel Registry.
func (c *Connection) NewChannel(ctx context.Context) (*LogicalChannel, error) {
	transport := c.rebinder.Current()
	if transport == nil {
		return nil, ErrConnectionClosed
	}

	session, err := transport.CreateSession(ctx)
	if err != nil {
		return nil, err
	}

	lc := newLogicalChannel(c, session)
	c.registry.register(lc)
	return lc, nil
}

// IsOpen reports whether the currently installed transport is open.
func (c *Connection) IsOpen() bool {
	t := c.rebinder.Current()
	return t != nil && t.IsOpen()
}

// Endpoint, LocalPort, RemotePort, ServerProperties, ChannelMax, and FrameMax
// all read the live transport reference and may change across a recovery
// boundary.
func (c *Connection) Endpoint() Endpoint {
	if t := c.rebinder.Current(); t != nil {
		return t.Endpoint()
	}
	return Endpoint{}
}

func (c *Connection) LocalPort() int {
	if t := c.rebinder.Current(); t != nil {
		return t.LocalPort()
	}
	return 0
}

func (c *Connection) RemotePort() int {
	if t := c.rebinder.Current(); t != nil {
		return t.RemotePort()
	}
	return 0
}

func (c *Connection) ServerProperties() map[string]any {
	if t := c.rebinder.Current(); t != nil {
		return t.ServerProperties()
	}
	return nil
}

func (c *Connection) ChannelMax() int {
	if t := c.rebinder.Current(); t != nil {
		return t.ChannelMax()
	}
	return 0
}

func (c *Connection) FrameMax() int {
	if t := c.rebinder.Current(); t != nil {
		return t.FrameMax()
	}
	return 0
}

// ClientProvidedName is stable across recoveries.
func (c *Connection) ClientProvidedName() string { return c.cfg.clientProvidedName }

// OnRecoverySucceeded, OnConnectionRecoveryError, OnCallbackException,
// OnConnectionBlocked, OnConnectionUnblocked, OnConnectionShutdown,
// OnConsumerTagChanged, and OnQueueNameChanged register subscribers on the
// six-plus-two event streams.
func (c *Connection) OnRecoverySucceeded(fn func(RecoverySucceededEvent)) { c.events.OnRecoverySucceeded(fn) }
func (c *Connection) OnConnectionRecoveryError(fn func(ConnectionRecoveryErrorEvent)) {
	c.events.OnConnectionRecoveryError(fn)
}
func (c *Connection) OnCallbackException(fn func(CallbackExceptionEvent)) { c.events.OnCallbackException(fn) }
func (c *Connection) OnConnectionBlocked(fn func(BlockedEvent))           { c.events.OnConnectionBlocked(fn) }
func (c *Connection) OnConnectionUnblocked(fn func(BlockedEvent))         { c.events.OnConnectionUnblocked(fn) }
func (c *Connection) OnConnectionShutdown(fn func(ShutdownEvent))         { c.events.OnConnectionShutdown(fn) }
func (c *Connection) OnConsumerTagChanged(fn func(ConsumerTagChangedEvent)) {
	c.events.OnConsumerTagChanged(fn)
}
func (c *Connection) OnQueueNameChanged(fn func(QueueNameChangedEvent)) { c.events.OnQueueNameChanged(fn) }

// Close stops the recovery supervisor before touching the transport, so an
// in-flight recovery attempt cannot resurrect a connection the caller is
// tearing down. It blocks up to requestedConnectionTimeout waiting
// for the supervisor to stop.
func (c *Connection) Close(reason string) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.supervisor.Stop(c.cfg.requestedConnectionTimeout)

	c.ledger.clear()

	if t := c.rebinder.Current(); t != nil {
		return t.Close(reason)
	}
	return nil
}

// Abort behaves like Close but calls the transport's Abort instead of its
// Close, and waits for the supervisor to stop for at most
// handshakeContinuationTimeout rather than requestedConnectionTimeout.
func (c *Connection) Abort() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.supervisor.Stop(c.cfg.handshakeContinuationTimeout)

	c.ledger.clear()

	if t := c.rebinder.Current(); t != nil {
		return t.Abort()
	}
	return nil
}
