package amqprecover

import "context"

// replayer is the Topology Replayer: it walks the ledger in
// a fixed order — exchanges, then queues, then bindings, then consumers —
// so that each phase observes every mutation performed by the phase before
// it.
type replayer struct {
	ledger *ledger
	events *eventBus
	logger Logger
}

func newReplayer(l *ledger, events *eventBus, logger Logger) *replayer {
	return &replayer{ledger: l, events: events, logger: logger}
}

// replayResult collects the individual entity failures of one replay pass,
// which are captured here rather than aborting the pass.
type replayResult struct {
	failures []*TopologyRecoveryException
}

// replay re-declares every recorded exchange, queue, binding, and consumer
// against ch, in that order. findChannel resolves a consumer's owning
// LogicalChannel by its non-owning ChannelID back-reference so consumers are re-subscribed on the channel that
// actually owns their transport session, not on ch itself.
func (rp *replayer) replay(ctx context.Context, ch RecoveryAwareChannel, findChannel func(id string) RecoveryAwareChannel) replayResult {
	var result replayResult

	rp.replayExchanges(ctx, ch, &result)
	rp.replayQueues(ctx, ch, &result)
	rp.replayBindings(ctx, ch, &result)
	rp.replayConsumers(ctx, ch, findChannel, &result)

	return result
}

func (rp *replayer) replayExchanges(ctx context.Context, ch RecoveryAwareChannel, result *replayResult) {
	for _, x := range rp.ledger.snapshotExchanges() {
		if err := ch.ExchangeDeclare(ctx, x); err != nil {
			fail := &TopologyRecoveryException{Phase: "exchange", Key: x.Name, Err: err}
			rp.logger.Error("topology recovery: exchange redeclare failed", err, map[string]any{"exchange": x.Name})
			result.failures = append(result.failures, fail)
		}
	}
}

func (rp *replayer) replayQueues(ctx context.Context, ch RecoveryAwareChannel, result *replayResult) {
	for _, q := range rp.ledger.snapshotQueues() {
		declareName := q.Name
		if q.IsServerNamed {
			// request a fresh server-generated name on every recovery.
			declareName = ""
		}

		newName, err := ch.QueueDeclare(ctx, RecordedQueue{
			Name:          declareName,
			Durable:       q.Durable,
			Exclusive:     q.Exclusive,
			AutoDelete:    q.AutoDelete,
			Args:          q.Args,
			IsServerNamed: q.IsServerNamed,
		})
		if err != nil {
			fail := &TopologyRecoveryException{Phase: "queue", Key: q.Name, Err: err}
			rp.logger.Error("topology recovery: queue redeclare failed", err, map[string]any{"queue": q.Name})
			result.failures = append(result.failures, fail)
			continue
		}

		if q.IsServerNamed && newName != q.Name {
			rp.ledger.renameQueue(q.Name, newName)
			rp.events.fireQueueNameChanged(QueueNameChangedEvent{OldName: q.Name, NewName: newName})
		}
	}
}

func (rp *replayer) replayBindings(ctx context.Context, ch RecoveryAwareChannel, result *replayResult) {
	for _, b := range rp.ledger.snapshotBindings() {
		if err := ch.QueueBind(ctx, b); err != nil {
			fail := &TopologyRecoveryException{Phase: "binding", Key: b.Source + "->" + b.Destination, Err: err}
			rp.logger.Error("topology recovery: binding redeclare failed", err, map[string]any{
				"source":      b.Source,
				"destination": b.Destination,
			})
			result.failures = append(result.failures, fail)
		}
	}
}

func (rp *replayer) replayConsumers(ctx context.Context, fallback RecoveryAwareChannel, findChannel func(id string) RecoveryAwareChannel, result *replayResult) {
	for _, c := range rp.ledger.snapshotConsumers() {
		target := fallback
		if findChannel != nil {
			if owned := findChannel(c.ChannelID); owned != nil {
				target = owned
			}
		}

		newTag, err := target.Consume(ctx, c)
		if err != nil {
			fail := &TopologyRecoveryException{Phase: "consumer", Key: c.Tag, Err: err}
			rp.logger.Error("topology recovery: consumer resubscribe failed", err, map[string]any{
				"queue": c.Queue,
				"tag":   c.Tag,
			})
			result.failures = append(result.failures, fail)
			continue
		}

		if newTag != c.Tag {
			rp.ledger.retagConsumer(c.Tag, newTag)
			rp.events.fireConsumerTagChanged(ConsumerTagChangedEvent{OldTag: c.Tag, NewTag: newTag})
		}
	}
}
