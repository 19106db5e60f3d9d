package amqprecover

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// LogicalChannel is the client-visible, long-lived channel object: its
// identity is stable across recoveries even though the transport channel it
// wraps is replaced on each one.
//
// Every declare/bind/consume method follows a declare-then-record shape:
// issue the operation on the wire first, and only record it into the
// ledger once the server has accepted it.
type LogicalChannel struct {
	id   string
	conn *Connection

	mu      sync.RWMutex
	session RecoveryAwareChannel
	closed  bool

	confirmMode       bool
	qosSet            bool
	qosPrefetchCount  int
	qosPrefetchSize   int
	qosGlobal         bool
}

func newLogicalChannel(conn *Connection, session RecoveryAwareChannel) *LogicalChannel {
	return &LogicalChannel{
		id:      uuid.NewString(),
		conn:    conn,
		session: session,
	}
}

// ID is the stable identity used as a RecordedConsumer's non-owning
// back-reference.
func (lc *LogicalChannel) ID() string { return lc.id }

func (lc *LogicalChannel) currentSession() (RecoveryAwareChannel, error) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	if lc.closed {
		return nil, ErrChannelClosed
	}
	return lc.session, nil
}

// ExchangeDeclare declares x on the wire, then records it in the owning
// connection's ledger.
func (lc *LogicalChannel) ExchangeDeclare(ctx context.Context, x RecordedExchange) error {
	session, err := lc.currentSession()
	if err != nil {
		return err
	}
	if err := session.ExchangeDeclare(ctx, x); err != nil {
		return err
	}
	lc.conn.ledger.recordExchange(x)
	return nil
}

// ExchangeDelete deletes the exchange on the wire, then removes it (and
// cascades) from the ledger.
func (lc *LogicalChannel) ExchangeDelete(ctx context.Context, name string) error {
	session, err := lc.currentSession()
	if err != nil {
		return err
	}
	if err := session.ExchangeDelete(ctx, name); err != nil {
		return err
	}
	lc.conn.ledger.deleteExchange(name)
	return nil
}

// QueueDeclare declares q on the wire; the server may assign a name when
// q.Name is empty, in which case the returned RecordedQueue carries the
// assigned name and the ledger records it under that key.
func (lc *LogicalChannel) QueueDeclare(ctx context.Context, q RecordedQueue) (RecordedQueue, error) {
	session, err := lc.currentSession()
	if err != nil {
		return RecordedQueue{}, err
	}

	q.IsServerNamed = q.Name == ""

	name, err := session.QueueDeclare(ctx, q)
	if err != nil {
		return RecordedQueue{}, err
	}
	q.Name = name

	lc.conn.ledger.recordQueue(q)
	return q, nil
}

// QueueDelete deletes the queue on the wire, then removes it (and cascades)
// from the ledger.
func (lc *LogicalChannel) QueueDelete(ctx context.Context, name string) error {
	session, err := lc.currentSession()
	if err != nil {
		return err
	}
	if err := session.QueueDelete(ctx, name); err != nil {
		return err
	}
	lc.conn.ledger.deleteQueue(name)
	return nil
}

// QueueBind binds b on the wire, then records it in the ledger.
func (lc *LogicalChannel) QueueBind(ctx context.Context, b RecordedBinding) error {
	session, err := lc.currentSession()
	if err != nil {
		return err
	}
	if err := session.QueueBind(ctx, b); err != nil {
		return err
	}
	lc.conn.ledger.recordBinding(b)
	return nil
}

// QueueUnbind removes b on the wire, then removes it from the ledger and
// cascades an auto-delete exchange check.
func (lc *LogicalChannel) QueueUnbind(ctx context.Context, b RecordedBinding) error {
	session, err := lc.currentSession()
	if err != nil {
		return err
	}
	if err := session.QueueUnbind(ctx, b); err != nil {
		return err
	}
	lc.conn.ledger.deleteBinding(b)
	return nil
}

// Consume subscribes on the wire, then records the consumer — keyed by
// whatever tag the server assigned if c.Tag was empty — in the ledger,
// tagging it with this channel's id as its non-owning owner reference.
func (lc *LogicalChannel) Consume(ctx context.Context, c RecordedConsumer) (RecordedConsumer, error) {
	session, err := lc.currentSession()
	if err != nil {
		return RecordedConsumer{}, err
	}

	c.ChannelID = lc.id

	tag, err := session.Consume(ctx, c)
	if err != nil {
		return RecordedConsumer{}, err
	}
	c.Tag = tag

	lc.conn.ledger.recordConsumer(tag, c)
	return c, nil
}

// Cancel cancels the consumer on the wire, then removes it (and cascades)
// from the ledger.
func (lc *LogicalChannel) Cancel(ctx context.Context, tag string) error {
	session, err := lc.currentSession()
	if err != nil {
		return err
	}
	if err := session.Cancel(ctx, tag); err != nil {
		return err
	}
	lc.conn.ledger.deleteConsumer(tag)
	return nil
}

// Qos sets prefetch settings and remembers them so reattach can reissue the
// mode on the fresh transport channel.
func (lc *LogicalChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	session, err := lc.currentSession()
	if err != nil {
		return err
	}
	if err := session.Qos(prefetchCount, prefetchSize, global); err != nil {
		return err
	}

	lc.mu.Lock()
	lc.qosSet = true
	lc.qosPrefetchCount = prefetchCount
	lc.qosPrefetchSize = prefetchSize
	lc.qosGlobal = global
	lc.mu.Unlock()
	return nil
}

// Confirm enables publisher-confirm mode and remembers it so reattach can
// reissue it on the fresh transport channel.
func (lc *LogicalChannel) Confirm(noWait bool) error {
	session, err := lc.currentSession()
	if err != nil {
		return err
	}
	if err := session.Confirm(noWait); err != nil {
		return err
	}

	lc.mu.Lock()
	lc.confirmMode = true
	lc.mu.Unlock()
	return nil
}

// reattach opens a fresh transport session against newTransport, reissues
// this channel's modes (confirm, QoS), and swaps it in — strictly after
// the transport has been replaced and before topology replay runs against
// it.
func (lc *LogicalChannel) reattach(ctx context.Context, newTransport TransportConnection) error {
	session, err := newTransport.CreateSession(ctx)
	if err != nil {
		return err
	}

	lc.mu.RLock()
	confirmMode := lc.confirmMode
	qosSet := lc.qosSet
	prefetchCount, prefetchSize, global := lc.qosPrefetchCount, lc.qosPrefetchSize, lc.qosGlobal
	lc.mu.RUnlock()

	if confirmMode {
		if err := session.Confirm(false); err != nil {
			_ = session.Close()
			return err
		}
	}
	if qosSet {
		if err := session.Qos(prefetchCount, prefetchSize, global); err != nil {
			_ = session.Close()
			return err
		}
	}

	lc.mu.Lock()
	lc.session = session
	lc.mu.Unlock()
	return nil
}

// Close unregisters this channel from its owning connection and closes its
// current transport session.
func (lc *LogicalChannel) Close() error {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		return nil
	}
	lc.closed = true
	session := lc.session
	lc.mu.Unlock()

	lc.conn.registry.unregister(lc)

	if session != nil {
		return session.Close()
	}
	return nil
}
