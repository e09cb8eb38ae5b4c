package repository

type MessageBus interface {
	Publish(topic string, data []byte) error
}

// NoopBus drops every message. Used when COACH_BUS_PROVIDER=none.
type NoopBus struct{}

func (NoopBus) Publish(string, []byte) error { return nil }
