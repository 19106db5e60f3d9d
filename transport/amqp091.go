// Package transport is the only package in this module that imports
// github.com/rabbitmq/amqp091-go. It implements the external transport-layer
// contract defined by amqprecover.TransportConnection and
// amqprecover.RecoveryAwareChannel, so the recovery core itself stays
// wire-library-agnostic.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/coreamqp/go-amqp-recovery"
)

// DialOptions configures how DialAdapter opens a fresh amqp091 connection.
type DialOptions struct {
	Vhost           string
	Heartbeat       time.Duration
	ChannelMax      int
	FrameSize       int
	Locale          string
	TLSClientConfig *tls.Config
	Properties      amqp.Table
}

func (o DialOptions) toAMQPConfig() amqp.Config {
	locale := o.Locale
	if locale == "" {
		locale = "en_US"
	}
	return amqp.Config{
		Vhost:           o.Vhost,
		ChannelMax:      uint16(o.ChannelMax),
		FrameSize:       o.FrameSize,
		Heartbeat:       o.Heartbeat,
		Locale:          locale,
		TLSClientConfig: o.TLSClientConfig,
		Properties:      o.Properties,
	}
}

// DialAdapter returns a dial callback suitable for
// amqprecover.NewConnection's dial parameter. Each call opens a brand-new,
// non-automatic-recovery amqp091 connection.
func DialAdapter(opts DialOptions) func(context.Context, amqprecover.Endpoint) (amqprecover.TransportConnection, error) {
	return func(ctx context.Context, ep amqprecover.Endpoint) (amqprecover.TransportConnection, error) {
		conn, err := amqp.DialConfig(ep.Address, opts.toAMQPConfig())
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", ep.Address, err)
		}
		return newConnectionAdapter(conn), nil
	}
}

// connectionAdapter adapts *amqp091.Connection to amqprecover.TransportConnection.
type connectionAdapter struct {
	conn     *amqp.Connection
	closedBy atomic.Bool // true once Close/Abort was called locally
}

func newConnectionAdapter(conn *amqp.Connection) *connectionAdapter {
	return &connectionAdapter{conn: conn}
}

func (a *connectionAdapter) IsOpen() bool { return !a.conn.IsClosed() }

func (a *connectionAdapter) Close(reason string) error {
	a.closedBy.Store(true)
	return a.conn.Close()
}

func (a *connectionAdapter) Abort() error {
	a.closedBy.Store(true)
	return a.conn.Close()
}

// NotifyShutdown translates amqp091's *amqp.Error notification into the
// amqprecover.ShutdownEvent contract, classifying the initiator as
// Application when this adapter's own Close/Abort fired first, Peer when
// the server sent a close method, and Library for any other closure (EOF,
// heartbeat expiry, local framing error).
func (a *connectionAdapter) NotifyShutdown() <-chan amqprecover.ShutdownEvent {
	out := make(chan amqprecover.ShutdownEvent, 1)
	src := a.conn.NotifyClose(make(chan *amqp.Error, 1))

	go func() {
		defer close(out)
		err, ok := <-src
		if !ok {
			return
		}

		ev := amqprecover.ShutdownEvent{}
		switch {
		case a.closedBy.Load():
			ev.Initiator = amqprecover.InitiatorApplication
		case err != nil && err.Server:
			ev.Initiator = amqprecover.InitiatorPeer
			ev.Reason = err
		default:
			ev.Initiator = amqprecover.InitiatorLibrary
			if err != nil {
				ev.Reason = err
			}
		}
		out <- ev
	}()

	return out
}

func (a *connectionAdapter) NotifyBlocked() <-chan amqprecover.BlockedEvent {
	out := make(chan amqprecover.BlockedEvent, 1)
	src := a.conn.NotifyBlocked(make(chan amqp.Blocking, 1))

	go func() {
		defer close(out)
		for b := range src {
			out <- amqprecover.BlockedEvent{Active: b.Active, Reason: b.Reason}
		}
	}()

	return out
}

func (a *connectionAdapter) CreateSession(ctx context.Context) (amqprecover.RecoveryAwareChannel, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("transport: open channel: %w", err)
	}
	return newChannelAdapter(ch), nil
}

func (a *connectionAdapter) Endpoint() amqprecover.Endpoint {
	return amqprecover.Endpoint{Address: a.conn.RemoteAddr().String()}
}

func (a *connectionAdapter) LocalPort() int {
	return addrPort(a.conn.LocalAddr())
}

func (a *connectionAdapter) RemotePort() int {
	return addrPort(a.conn.RemoteAddr())
}

func (a *connectionAdapter) ServerProperties() map[string]any {
	props := make(map[string]any, len(a.conn.Properties))
	for k, v := range a.conn.Properties {
		props[k] = v
	}
	return props
}

func (a *connectionAdapter) ChannelMax() int { return int(a.conn.Config.ChannelMax) }
func (a *connectionAdapter) FrameMax() int   { return a.conn.Config.FrameSize }

// channelAdapter adapts *amqp091.Channel to amqprecover.RecoveryAwareChannel.
type channelAdapter struct {
	ch *amqp.Channel
}

func newChannelAdapter(ch *amqp.Channel) *channelAdapter {
	return &channelAdapter{ch: ch}
}

func toAMQPTable(t amqprecover.Table) amqp.Table {
	if t == nil {
		return nil
	}
	out := make(amqp.Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func (a *channelAdapter) ExchangeDeclare(ctx context.Context, x amqprecover.RecordedExchange) error {
	return a.ch.ExchangeDeclare(x.Name, x.Type, x.Durable, x.AutoDelete, false, false, toAMQPTable(x.Args))
}

func (a *channelAdapter) ExchangeDelete(ctx context.Context, name string) error {
	return a.ch.ExchangeDelete(name, false, false)
}

func (a *channelAdapter) QueueDeclare(ctx context.Context, q amqprecover.RecordedQueue) (string, error) {
	declared, err := a.ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, toAMQPTable(q.Args))
	if err != nil {
		return "", err
	}
	return declared.Name, nil
}

func (a *channelAdapter) QueueDelete(ctx context.Context, name string) error {
	_, err := a.ch.QueueDelete(name, false, false, false)
	return err
}

func (a *channelAdapter) QueueBind(ctx context.Context, b amqprecover.RecordedBinding) error {
	if b.DestinationKind == amqprecover.DestinationExchange {
		return a.ch.ExchangeBind(b.Destination, b.RoutingKey, b.Source, false, toAMQPTable(b.Args))
	}
	return a.ch.QueueBind(b.Destination, b.RoutingKey, b.Source, false, toAMQPTable(b.Args))
}

func (a *channelAdapter) QueueUnbind(ctx context.Context, b amqprecover.RecordedBinding) error {
	if b.DestinationKind == amqprecover.DestinationExchange {
		return a.ch.ExchangeUnbind(b.Destination, b.RoutingKey, b.Source, false, toAMQPTable(b.Args))
	}
	return a.ch.QueueUnbind(b.Destination, b.RoutingKey, b.Source, toAMQPTable(b.Args))
}

func (a *channelAdapter) Consume(ctx context.Context, c amqprecover.RecordedConsumer) (string, error) {
	// amqp091 does not report a tag it generates itself, so an empty tag is
	// filled in here and returned as the assigned tag.
	tag := c.Tag
	if tag == "" {
		tag = "ctag-" + uuid.NewString()
	}

	deliveries, err := a.ch.Consume(c.Queue, tag, c.AutoACK, c.Exclusive, false, false, toAMQPTable(c.Args))
	if err != nil {
		return "", err
	}

	go func() {
		for d := range deliveries {
			d := d
			if c.Callback == nil {
				continue
			}
			c.Callback(amqprecover.Delivery{
				ConsumerTag: d.ConsumerTag,
				Body:        d.Body,
				Ack:         func(multiple bool) error { return d.Ack(multiple) },
				Nack:        func(multiple, requeue bool) error { return d.Nack(multiple, requeue) },
			})
		}
	}()

	return tag, nil
}

func (a *channelAdapter) Cancel(ctx context.Context, tag string) error {
	return a.ch.Cancel(tag, false)
}

func (a *channelAdapter) Qos(prefetchCount, prefetchSize int, global bool) error {
	return a.ch.Qos(prefetchCount, prefetchSize, global)
}

func (a *channelAdapter) Confirm(noWait bool) error {
	return a.ch.Confirm(noWait)
}

func (a *channelAdapter) NotifyClose() <-chan amqprecover.ShutdownEvent {
	out := make(chan amqprecover.ShutdownEvent, 1)
	src := a.ch.NotifyClose(make(chan *amqp.Error, 1))

	go func() {
		defer close(out)
		err, ok := <-src
		if !ok {
			return
		}
		ev := amqprecover.ShutdownEvent{Initiator: amqprecover.InitiatorLibrary}
		if err != nil {
			ev.Initiator = amqprecover.InitiatorPeer
			ev.Reason = err
		}
		out <- ev
	}()

	return out
}

func (a *channelAdapter) Close() error { return a.ch.Close() }

func addrPort(addr interface{ String() string }) int {
	// amqp091's net.Addr.String() is "host:port"; a best-effort parse is
	// enough here since this value is diagnostic only.
	s := addr.String()
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			port := 0
			for _, c := range s[i+1:] {
				if c < '0' || c > '9' {
					return 0
				}
				port = port*10 + int(c-'0')
			}
			return port
		}
	}
	return 0
}
