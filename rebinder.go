package amqprecover

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// transportHandle is the single owned transport reference, published
// atomically so the public getters never observe a torn read.
type transportHandle struct {
	conn TransportConnection
}

// rebinder is the Transport Rebinder: it owns the single
// mutable transport reference and the sole operation that replaces it.
//
// reopen is guarded by a singleflight.Group keyed on a constant task name,
// so concurrent callers of reopen (Connection.Open and the supervisor's
// tryRecover) collapse onto one dial of the endpoint resolver.
type rebinder struct {
	resolver EndpointResolver
	dial     func(context.Context, Endpoint) (TransportConnection, error)
	logger   Logger

	current atomic.Pointer[transportHandle]
	group   singleflight.Group

	// onNewTransport re-subscribes connection-level listeners on the fresh
	// transport; supplied by Connection.
	onNewTransport func(TransportConnection)
}

func newRebinder(resolver EndpointResolver, dial func(context.Context, Endpoint) (TransportConnection, error), logger Logger, onNewTransport func(TransportConnection)) *rebinder {
	return &rebinder{
		resolver:       resolver,
		dial:           dial,
		logger:         logger,
		onNewTransport: onNewTransport,
	}
}

// Current returns the presently installed transport, or nil before the
// first successful reopen.
func (r *rebinder) Current() TransportConnection {
	h := r.current.Load()
	if h == nil {
		return nil
	}
	return h.conn
}

// reopen asks the endpoint resolver for the next candidate, dials it,
// atomically swaps the transport reference, and re-subscribes the
// connection-level listeners on the new transport.
//
// Steps 1-3 (resolve, construct frame handler, construct the transport
// connection in non-automatic mode) are the endpoint resolver's and dial
// callback's responsibility; this method owns steps 4-5 (swap, re-listen).
func (r *rebinder) reopen(ctx context.Context) (TransportConnection, error) {
	v, err, _ := r.group.Do(reopenTaskKey, func() (interface{}, error) {
		conn, err := r.resolver.SelectOne(ctx, r.dial)
		if err != nil {
			return nil, fmt.Errorf("reopen transport: %w", err)
		}

		r.current.Store(&transportHandle{conn: conn})
		r.onNewTransport(conn)

		return conn, nil
	})

	if err != nil {
		return nil, err
	}
	return v.(TransportConnection), nil
}
