package nats

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Bus publishes domain events on core NATS subjects named after the topic.
type Bus struct {
	nc *nats.Conn
}

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

func (b *Bus) Publish(topic string, data []byte) error {
	if err := b.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}
