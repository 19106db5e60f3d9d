package amqprecover

// ExchangeOption configures a RecordedExchange before it is declared,
// the functional-option pattern applied to an open set of declaration knobs.
type ExchangeOption func(*RecordedExchange)

// NewExchange builds a RecordedExchange ready to pass to
// LogicalChannel.ExchangeDeclare.
func NewExchange(name, kind string, opts ...ExchangeOption) RecordedExchange {
	x := RecordedExchange{Name: name, Type: kind}
	for _, opt := range opts {
		opt(&x)
	}
	return x
}

func ExchangeDurable() ExchangeOption {
	return func(x *RecordedExchange) { x.Durable = true }
}

func ExchangeAutoDelete() ExchangeOption {
	return func(x *RecordedExchange) { x.AutoDelete = true }
}

func ExchangeArgs(args Table) ExchangeOption {
	return func(x *RecordedExchange) { x.Args = args }
}

// QueueOption configures a RecordedQueue before it is declared.
type QueueOption func(*RecordedQueue)

// NewQueue builds a RecordedQueue. An empty name requests a server-generated
// name and sets IsServerNamed.
func NewQueue(name string, opts ...QueueOption) RecordedQueue {
	q := RecordedQueue{Name: name, IsServerNamed: name == ""}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

func QueueDurable() QueueOption {
	return func(q *RecordedQueue) { q.Durable = true }
}

func QueueExclusive() QueueOption {
	return func(q *RecordedQueue) { q.Exclusive = true }
}

func QueueAutoDelete() QueueOption {
	return func(q *RecordedQueue) { q.AutoDelete = true }
}

func QueueArgs(args Table) QueueOption {
	return func(q *RecordedQueue) { q.Args = args }
}

// BindingOption configures a RecordedBinding before it is declared.
type BindingOption func(*RecordedBinding)

// NewBinding builds a RecordedBinding joining source (an exchange) to
// destination under routingKey. destinationKind defaults to DestinationQueue.
func NewBinding(source, destination, routingKey string, opts ...BindingOption) RecordedBinding {
	b := RecordedBinding{
		Source:          source,
		Destination:     destination,
		DestinationKind: DestinationQueue,
		RoutingKey:      routingKey,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func BindingToExchange() BindingOption {
	return func(b *RecordedBinding) { b.DestinationKind = DestinationExchange }
}

func BindingArgs(args Table) BindingOption {
	return func(b *RecordedBinding) { b.Args = args }
}

// ConsumerOption configures a RecordedConsumer before it is declared.
type ConsumerOption func(*RecordedConsumer)

// NewConsumer builds a RecordedConsumer subscribing to queue. An empty tag
// requests a server-generated consumer tag.
func NewConsumer(queue string, callback ConsumerCallback, opts ...ConsumerOption) RecordedConsumer {
	c := RecordedConsumer{Queue: queue, Callback: callback}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func ConsumerTag(tag string) ConsumerOption {
	return func(c *RecordedConsumer) { c.Tag = tag }
}

func ConsumerAutoACK() ConsumerOption {
	return func(c *RecordedConsumer) { c.AutoACK = true }
}

func ConsumerExclusive() ConsumerOption {
	return func(c *RecordedConsumer) { c.Exclusive = true }
}

func ConsumerArgs(args Table) ConsumerOption {
	return func(c *RecordedConsumer) { c.Args = args }
}
