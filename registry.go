package amqprecover

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// channelRegistry is the Channel Registry: it tracks every
// LogicalChannel owned by a Connection and drives their re-attachment after
// the transport has been replaced.
type channelRegistry struct {
	mu       sync.Mutex
	channels []*LogicalChannel

	logger Logger
}

func newChannelRegistry(logger Logger) *channelRegistry {
	return &channelRegistry{logger: logger}
}

func (r *channelRegistry) register(ch *LogicalChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, ch)
}

func (r *channelRegistry) unregister(ch *LogicalChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.channels {
		if c == ch {
			r.channels = append(r.channels[:i], r.channels[i+1:]...)
			return
		}
	}
}

// find resolves a LogicalChannel by its stable id, used by the replayer to
// turn a RecordedConsumer's non-owning ChannelID back-reference into a
// RecoveryAwareChannel.
func (r *channelRegistry) find(id string) *LogicalChannel {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.channels {
		if c.id == id {
			return c
		}
	}
	return nil
}

// sessionFor resolves a LogicalChannel's current RecoveryAwareChannel by
// id, or nil if no channel with that id is registered or it has no session
// yet. Used by the replayer to resubscribe consumers on their owning
// channel.
func (r *channelRegistry) sessionFor(id string) RecoveryAwareChannel {
	lc := r.find(id)
	if lc == nil {
		return nil
	}
	session, err := lc.currentSession()
	if err != nil {
		return nil
	}
	return session
}

// recoverAll reattaches every registered channel against newTransport. The
// lock is held for the duration of the snapshot copy, not the reattach
// calls themselves, so registration/unregistration during a slow reattach
// cannot deadlock against it.
//
// Channel order is unspecified, so reattachment is
// fanned out over an errgroup; a single channel's failure is logged and
// counted, never aborting the pass.
func (r *channelRegistry) recoverAll(ctx context.Context, newTransport TransportConnection) int {
	r.mu.Lock()
	snapshot := make([]*LogicalChannel, len(r.channels))
	copy(snapshot, r.channels)
	r.mu.Unlock()

	var failures int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range snapshot {
		ch := ch
		g.Go(func() error {
			if err := ch.reattach(gctx, newTransport); err != nil {
				r.logger.Error("channel reattach failed", err, map[string]any{"channel": ch.id})
				mu.Lock()
				failures++
				mu.Unlock()
			}
			return nil // never abort the group; failures are counted, not propagated.
		})
	}
	_ = g.Wait()

	return failures
}
