package amqprecover

import "context"

// Endpoint names a single candidate server address, opaque to this package;
// the endpoint resolver and transport adapter agree on its shape.
type Endpoint struct {
	Address string
}

// ShutdownInitiator classifies who tore down a transport connection or
// channel, driving the recovery trigger policy.
type ShutdownInitiator int8

const (
	// InitiatorApplication means the user called Close/Abort; never
	// triggers recovery.
	InitiatorApplication ShutdownInitiator = iota + 1

	// InitiatorLibrary means the transport's own I/O detected the peer is
	// gone (EOF, heartbeat expiry, local framing error); triggers recovery.
	InitiatorLibrary

	// InitiatorPeer means the remote server sent a connection/channel
	// close; triggers recovery.
	InitiatorPeer
)

// ShutdownEvent carries the reason a transport connection or channel closed.
type ShutdownEvent struct {
	Initiator ShutdownInitiator
	Reason    error
}

// BlockedEvent mirrors the AMQP connection.blocked/unblocked notification.
type BlockedEvent struct {
	Active bool
	Reason string
}

// TriggerPolicy decides whether a ShutdownEvent warrants recovery. The
// default is `Initiator ∈ {Peer, Library}`; it is invoked on
// the transport's event-dispatch goroutine and must not block.
type TriggerPolicy func(ShutdownEvent) bool

// DefaultTriggerPolicy triggers recovery for any peer- or library-initiated
// shutdown, and never for an application-initiated one.
func DefaultTriggerPolicy(ev ShutdownEvent) bool {
	return ev.Initiator == InitiatorPeer || ev.Initiator == InitiatorLibrary
}

// EndpointResolver selects the next candidate endpoint and dials it,
// possibly rotating endpoints or backing off between attempts.
type EndpointResolver interface {
	SelectOne(ctx context.Context, dial func(context.Context, Endpoint) (TransportConnection, error)) (TransportConnection, error)
}

// TransportConnection is the external transport-layer collaborator this
// package drives but never implements directly.
type TransportConnection interface {
	IsOpen() bool
	Close(reason string) error
	Abort() error

	// NotifyShutdown and NotifyBlocked return channels closed/sent-to
	// exactly once per event; callers re-subscribe after each delivery if
	// they need further notifications, matching amqp091-go's Notify* idiom.
	NotifyShutdown() <-chan ShutdownEvent
	NotifyBlocked() <-chan BlockedEvent

	CreateSession(ctx context.Context) (RecoveryAwareChannel, error)

	Endpoint() Endpoint
	LocalPort() int
	RemotePort() int
	ServerProperties() map[string]any
	ChannelMax() int
	FrameMax() int
}

// RecoveryAwareChannel is the subset of AMQP channel operations the
// recovery core issues during replay, plus NotifyClose and Close. The
// reattach hook invoked by the Channel Registry lives on LogicalChannel,
// which wraps one of these.
type RecoveryAwareChannel interface {
	ExchangeDeclare(ctx context.Context, x RecordedExchange) error
	ExchangeDelete(ctx context.Context, name string) error
	QueueDeclare(ctx context.Context, q RecordedQueue) (name string, err error)
	QueueDelete(ctx context.Context, name string) error
	QueueBind(ctx context.Context, b RecordedBinding) error
	QueueUnbind(ctx context.Context, b RecordedBinding) error
	Consume(ctx context.Context, c RecordedConsumer) (tag string, err error)
	Cancel(ctx context.Context, tag string) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	NotifyClose() <-chan ShutdownEvent
	Close() error
}
