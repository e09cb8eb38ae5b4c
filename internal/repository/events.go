package repository

import (
	"encoding/json"
	"fmt"
)

// PublishEvent encodes v as JSON and hands it to the bus.
func PublishEvent(bus MessageBus, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	if err := bus.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
