package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
)

// Publisher is the transport the bridge forwards events over.
// natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSBridge drains a bus subscription and republishes each event as
// JSON on "<prefix>.<type>". Publish failures are logged and dropped;
// the bridge never feeds errors back into the pipeline.
type NATSBridge struct {
	bus       *Bus
	publisher Publisher
	prefix    string
	buffer    int
	logger    *slog.Logger

	lifecycleMu sync.Mutex
	started     bool
	sub         *Subscription
	done        chan struct{}
}

// NewNATSBridge creates a bridge publishing under the given subject
// prefix, e.g. "ecne.events".
func NewNATSBridge(bus *Bus, publisher Publisher, prefix string, buffer int, logger *slog.Logger) (*NATSBridge, error) {
	if bus == nil || publisher == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: bus and publisher are required", errors.ErrInvalidConfig),
			"NATSBridge", "NewNATSBridge", "validate dependencies")
	}
	if prefix == "" {
		prefix = "ecne.events"
	}
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &NATSBridge{
		bus:       bus,
		publisher: publisher,
		prefix:    prefix,
		buffer:    buffer,
		logger:    logger,
	}, nil
}

// Start subscribes to the bus and begins forwarding
func (b *NATSBridge) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.started {
		return errors.ErrAlreadyStarted
	}

	sub, err := b.bus.Subscribe("nats-bridge", b.buffer)
	if err != nil {
		return errors.Wrap(err, "NATSBridge", "Start", "subscribe to bus")
	}

	b.sub = sub
	b.done = make(chan struct{})
	b.started = true

	go b.forward(context.WithoutCancel(ctx))
	return nil
}

// Stop cancels the subscription and waits for the forwarder to drain
func (b *NATSBridge) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.started {
		return errors.ErrNotStarted
	}
	b.started = false

	b.bus.Unsubscribe(b.sub)

	select {
	case <-b.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrTimeout, "NATSBridge", "Stop", "wait for forwarder")
	}
}

func (b *NATSBridge) forward(ctx context.Context) {
	defer close(b.done)

	for e := range b.sub.C() {
		data, err := json.Marshal(e)
		if err != nil {
			b.logger.Warn("failed to encode event", "event_type", e.Type, "error", err)
			continue
		}

		subject := fmt.Sprintf("%s.%s", b.prefix, e.Type)
		if err := b.publisher.Publish(ctx, subject, data); err != nil {
			b.logger.Warn("failed to publish event",
				"subject", subject,
				"event_type", e.Type,
				"error", err)
		}
	}
}
