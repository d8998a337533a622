package events

import (
	"context"
	"sync"
)

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel until
	// the returned cancel function is called, which also closes the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// Bus publishes and subscribes over one connection.
type Bus interface {
	Publisher
	Subscriber
}

// NoopBus is the Bus of a single instance without NATS: publishes vanish
// and subscriptions never deliver.
type NoopBus struct{}

var _ Bus = NoopBus{}

func (NoopBus) Publish(context.Context, string, any) error { return nil }

func (NoopBus) Subscribe(string) (<-chan []byte, func(), error) {
	ch := make(chan []byte)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }, nil
}

func (NoopBus) Close() error { return nil }
