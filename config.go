package amqprecover

import (
	"time"

	"github.com/google/uuid"
)

// Config holds the configuration recognized by the recovery core. It is
// built through ConnectionOption functions, the functional-option pattern
// applied to this package's configuration surface.
type Config struct {
	networkRecoveryInterval      time.Duration
	requestedConnectionTimeout   time.Duration
	handshakeContinuationTimeout time.Duration
	topologyRecoveryEnabled      bool
	triggerPolicy                TriggerPolicy
	clientProvidedName           string
	logger                       Logger
	resolver                     EndpointResolver
}

func defaultConfig() Config {
	return Config{
		networkRecoveryInterval:      defaultNetworkRecoveryInterval,
		requestedConnectionTimeout:   defaultRequestedConnectionTimeout,
		handshakeContinuationTimeout: defaultHandshakeContinuationTimeout,
		topologyRecoveryEnabled:      true,
		triggerPolicy:                DefaultTriggerPolicy,
		clientProvidedName:           "amqprecover-" + uuid.NewString(),
		logger:                      noopLogger{},
	}
}

// ConnectionOption configures a Connection at construction time.
type ConnectionOption func(*Config)

// WithNetworkRecoveryInterval sets the delay between retry attempts.
func WithNetworkRecoveryInterval(d time.Duration) ConnectionOption {
	return func(c *Config) { c.networkRecoveryInterval = d }
}

// WithRequestedConnectionTimeout bounds how long Close waits for the
// supervisor to stop before proceeding anyway. Abort does not use it; it
// waits for at most the handshake-continuation timeout instead.
func WithRequestedConnectionTimeout(d time.Duration) ConnectionOption {
	return func(c *Config) { c.requestedConnectionTimeout = d }
}

// WithHandshakeContinuationTimeout bounds how long Abort waits for the
// supervisor to stop before proceeding anyway.
func WithHandshakeContinuationTimeout(d time.Duration) ConnectionOption {
	return func(c *Config) { c.handshakeContinuationTimeout = d }
}

// WithTopologyRecoveryDisabled turns off ledger replay: recovery still
// reopens the transport, but does not re-declare exchanges, queues,
// bindings, or consumers.
func WithTopologyRecoveryDisabled() ConnectionOption {
	return func(c *Config) { c.topologyRecoveryEnabled = false }
}

// WithTriggerPolicy replaces the default trigger policy
// (Initiator ∈ {Peer, Library}) with a user-supplied predicate. The predicate runs on the transport's event-dispatch goroutine and
// must not block.
func WithTriggerPolicy(p TriggerPolicy) ConnectionOption {
	return func(c *Config) { c.triggerPolicy = p }
}

// WithClientProvidedName sets the connection label preserved across
// recoveries. Without this option a random name is generated.
func WithClientProvidedName(name string) ConnectionOption {
	return func(c *Config) { c.clientProvidedName = name }
}

// WithLogger installs the Logger every component logs through.
func WithLogger(l Logger) ConnectionOption {
	return func(c *Config) { c.logger = l }
}

// WithEndpointResolver installs the endpoint resolver used by the Transport
// Rebinder.
func WithEndpointResolver(r EndpointResolver) ConnectionOption {
	return func(c *Config) { c.resolver = r }
}
