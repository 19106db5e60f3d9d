package amqprecover

import (
	"fmt"
	"sort"
	"strings"
)

// Table is the argument mapping attached to exchange, queue, binding, and
// consumer declarations. It is a plain map rather than the transport
// adapter's wire type so that this package never imports the transport
// library.
type Table map[string]any

// tableKey canonicalizes a Table into a deterministic string by sorting its
// keys, for use in structural-equality keys where a map itself can't be one.
func tableKey(t Table) string {
	if len(t) == 0 {
		return ""
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%s=%v", k, t[k])
	}
	return b.String()
}

// DestinationKind distinguishes a binding whose destination is a queue from
// one whose destination is another exchange (exchange-to-exchange binding).
type DestinationKind int8

const (
	DestinationQueue DestinationKind = iota + 1
	DestinationExchange
)

func (k DestinationKind) String() string {
	if k == DestinationExchange {
		return "exchange"
	}
	return "queue"
}

// RecordedExchange is a ledger entry for a declared exchange. Name is the
// table's primary key.
type RecordedExchange struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Args       Table
}

// RecordedQueue is a ledger entry for a declared queue. If IsServerNamed is
// true, Name was empty at declaration time and the ledger key tracks the
// server-assigned name as it changes across recoveries.
type RecordedQueue struct {
	Name          string
	Durable       bool
	Exclusive     bool
	AutoDelete    bool
	Args          Table
	IsServerNamed bool
}

// RecordedBinding joins an exchange (Source) to a queue or exchange
// (Destination). Bindings have no identity beyond structural equality over
// all five fields.
type RecordedBinding struct {
	Source          string
	Destination     string
	DestinationKind DestinationKind
	RoutingKey      string
	Args            Table
}

// bindingKey is the structural-equality key used by the binding set. args
// holds the Table canonicalized via tableKey, since a map can't itself be a
// map key.
type bindingKey struct {
	source          string
	destination     string
	destinationKind DestinationKind
	routingKey      string
	args            string
}

func (b RecordedBinding) key() bindingKey {
	return bindingKey{
		source:          b.Source,
		destination:     b.Destination,
		destinationKind: b.DestinationKind,
		routingKey:      b.RoutingKey,
		args:            tableKey(b.Args),
	}
}

// Delivery is the subset of an inbound AMQP delivery the recovery core and
// its callers need; it mirrors the transport adapter's richer type without
// requiring this package to import it.
type Delivery struct {
	ConsumerTag string
	Body        []byte
	Ack         func(multiple bool) error
	Nack        func(multiple, requeue bool) error
}

// ConsumerCallback receives deliveries for a recorded consumer.
type ConsumerCallback func(Delivery)

// RecordedConsumer is a ledger entry for an active subscription. Tag is the
// table's primary key; the server may assign or reassign Tag on (re)declare,
// in which case the ledger key tracks the current tag.
//
// ChannelID is a non-owning back-reference to the owning LogicalChannel,
// resolved through the Channel Registry at replay time rather than held as a
// pointer.
type RecordedConsumer struct {
	Tag       string
	Queue     string
	AutoACK   bool
	Exclusive bool
	Args      Table
	Callback  ConsumerCallback
	ChannelID string
}
