package relay

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// aggregateHeader carries the aggregate id on outgoing messages so consumers
// can key on it without decoding the envelope.
const aggregateHeader = "Sourcing-Aggregate-Id"

// NATSPublisher publishes events to NATS subjects.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher creates a publisher over an established NATS connection.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Publish sends the encoded event on the given subject.
func (p *NATSPublisher) Publish(ctx context.Context, subject, aggregateID string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Header.Set(aggregateHeader, aggregateID)
	msg.Data = data
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Compile-time check.
var _ Publisher = (*NATSPublisher)(nil)
