package transport

import (
	"context"
	"sync/atomic"

	"github.com/coreamqp/go-amqp-recovery"
)

// StaticResolver cycles over a fixed list of candidate endpoints, the
// simplest possible implementation of the endpoint resolver contract.
type StaticResolver struct {
	endpoints []amqprecover.Endpoint
	next      atomic.Uint64
}

// NewStaticResolver builds a resolver over endpoints, in the given order.
// SelectOne returns ErrNoEndpoints if endpoints is empty.
func NewStaticResolver(endpoints ...amqprecover.Endpoint) *StaticResolver {
	return &StaticResolver{endpoints: endpoints}
}

func (r *StaticResolver) SelectOne(ctx context.Context, dial func(context.Context, amqprecover.Endpoint) (amqprecover.TransportConnection, error)) (amqprecover.TransportConnection, error) {
	if len(r.endpoints) == 0 {
		return nil, amqprecover.ErrNoEndpoints
	}

	i := r.next.Add(1) - 1
	ep := r.endpoints[int(i%uint64(len(r.endpoints)))]

	return dial(ctx, ep)
}
