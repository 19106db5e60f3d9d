package amqprecover

import "sync"

// ledger is the Topology Ledger: a concurrent record of every
// server-visible declaration made through a Connection, kept so recovery can
// replay exchanges, then queues, then bindings, then consumers in that
// order, and so server-generated name remapping can be propagated.
//
// A single mutex guards all four tables rather than one lock per table: the
// cascade rules (deleting a binding may drop an auto-delete exchange;
// deleting a consumer may drop an auto-delete queue) touch more than one
// table and must observe a consistent view across them, which four
// independent locks cannot guarantee without a fixed lock-ordering
// discipline of their own. See DESIGN.md.
type ledger struct {
	mu sync.Mutex

	exchanges map[string]RecordedExchange
	queues    map[string]RecordedQueue
	bindings  map[bindingKey]RecordedBinding
	consumers map[string]RecordedConsumer

	logger Logger
}

func newLedger(logger Logger) *ledger {
	return &ledger{
		exchanges: make(map[string]RecordedExchange),
		queues:    make(map[string]RecordedQueue),
		bindings:  make(map[bindingKey]RecordedBinding),
		consumers: make(map[string]RecordedConsumer),
		logger:    logger,
	}
}

// recordExchange inserts x if absent; a duplicate declaration with the same
// name is idempotent on the server, so last-writer-wins on collision is
// acceptable.
func (l *ledger) recordExchange(x RecordedExchange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exchanges[x.Name] = x
}

func (l *ledger) recordQueue(q RecordedQueue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queues[q.Name] = q
}

func (l *ledger) recordBinding(b RecordedBinding) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bindings[b.key()] = b
}

func (l *ledger) recordConsumer(tag string, c RecordedConsumer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c.Tag = tag
	l.consumers[tag] = c
}

// deleteExchange removes the exchange entry, then cascades to every binding
// whose source is that exchange.
func (l *ledger) deleteExchange(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.exchanges[name]; !ok {
		l.logger.Warn("deleteExchange: entry absent", map[string]any{"exchange": name})
	}
	delete(l.exchanges, name)

	l.deleteBindingsWithSourceLocked(name)
}

// deleteQueue removes the queue entry, then cascades to every binding whose
// destination is that queue.
func (l *ledger) deleteQueue(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.queues[name]; !ok {
		l.logger.Warn("deleteQueue: entry absent", map[string]any{"queue": name})
	}
	delete(l.queues, name)

	l.deleteBindingsWithDestinationLocked(name, DestinationQueue)
}

func (l *ledger) deleteBindingsWithSourceLocked(source string) {
	for k, b := range l.bindings {
		if b.Source == source {
			delete(l.bindings, k)
		}
	}
}

func (l *ledger) deleteBindingsWithDestinationLocked(destination string, kind DestinationKind) {
	for k, b := range l.bindings {
		if b.Destination == destination && b.DestinationKind == kind {
			delete(l.bindings, k)
		}
	}
}

// deleteBinding removes b by its structural key, then checks whether its
// source exchange should be auto-delete-cascaded.
func (l *ledger) deleteBinding(b RecordedBinding) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.bindings, b.key())
	l.maybeDeleteAutoDeleteExchangeLocked(b.Source)
}

// deleteConsumer removes the consumer by tag, then checks whether its queue
// should be auto-delete-cascaded.
func (l *ledger) deleteConsumer(tag string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.consumers[tag]
	delete(l.consumers, tag)
	if ok {
		l.maybeDeleteAutoDeleteQueueLocked(c.Queue)
	}
}

// maybeDeleteAutoDeleteExchange removes the named exchange iff it is
// auto-delete and no binding references it as source.
func (l *ledger) maybeDeleteAutoDeleteExchange(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeDeleteAutoDeleteExchangeLocked(name)
}

func (l *ledger) maybeDeleteAutoDeleteExchangeLocked(name string) {
	x, ok := l.exchanges[name]
	if !ok || !x.AutoDelete {
		return
	}
	for _, b := range l.bindings {
		if b.Source == name {
			return
		}
	}
	delete(l.exchanges, name)
}

// maybeDeleteAutoDeleteQueue removes the named queue iff it is auto-delete
// and no consumer references it.
func (l *ledger) maybeDeleteAutoDeleteQueue(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeDeleteAutoDeleteQueueLocked(name)
}

func (l *ledger) maybeDeleteAutoDeleteQueueLocked(name string) {
	q, ok := l.queues[name]
	if !ok || !q.AutoDelete {
		return
	}
	for _, c := range l.consumers {
		if c.Queue == name {
			return
		}
	}
	delete(l.queues, name)
}

// renameQueue updates the queue's key and rewrites every binding destination
// and consumer queue field that referenced oldName. Only invoked during
// recovery of a server-named queue.
func (l *ledger) renameQueue(oldName, newName string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.queues[oldName]
	if !ok {
		return
	}
	delete(l.queues, oldName)
	q.Name = newName
	l.queues[newName] = q

	for k, b := range l.bindings {
		if b.Destination == oldName && b.DestinationKind == DestinationQueue {
			delete(l.bindings, k)
			b.Destination = newName
			l.bindings[b.key()] = b
		}
	}

	for tag, c := range l.consumers {
		if c.Queue == oldName {
			c.Queue = newName
			l.consumers[tag] = c
		}
	}
}

// retagConsumer updates the consumer's key after the server assigns a new
// consumer tag on replay.
func (l *ledger) retagConsumer(oldTag, newTag string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.consumers[oldTag]
	if !ok {
		return
	}
	delete(l.consumers, oldTag)
	c.Tag = newTag
	l.consumers[newTag] = c
}

// snapshotExchanges copies the exchange table under lock so replay can
// iterate without racing renameQueue/retagConsumer mutations.
func (l *ledger) snapshotExchanges() []RecordedExchange {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]RecordedExchange, 0, len(l.exchanges))
	for _, x := range l.exchanges {
		out = append(out, x)
	}
	return out
}

func (l *ledger) snapshotQueues() []RecordedQueue {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]RecordedQueue, 0, len(l.queues))
	for _, q := range l.queues {
		out = append(out, q)
	}
	return out
}

func (l *ledger) snapshotBindings() []RecordedBinding {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]RecordedBinding, 0, len(l.bindings))
	for _, b := range l.bindings {
		out = append(out, b)
	}
	return out
}

func (l *ledger) snapshotConsumers() []RecordedConsumer {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]RecordedConsumer, 0, len(l.consumers))
	for _, c := range l.consumers {
		out = append(out, c)
	}
	return out
}

// clear drops every entry; invoked only on final close/abort of the logical
// connection.
func (l *ledger) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.exchanges = make(map[string]RecordedExchange)
	l.queues = make(map[string]RecordedQueue)
	l.bindings = make(map[bindingKey]RecordedBinding)
	l.consumers = make(map[string]RecordedConsumer)
}
