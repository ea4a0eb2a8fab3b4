package publisher

import (
	"context"
	"strings"
)

// Publisher defines the interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Retainer publishes messages the broker keeps for late subscribers. An
// empty payload clears the retained value.
type Retainer interface {
	PublishRetained(ctx context.Context, topic string, payload []byte) error
}

// Handler receives a message from a subscription.
type Handler func(topic string, payload []byte)

// Subscriber delivers messages matching a topic filter.
type Subscriber interface {
	Subscribe(filter string, h Handler) error
}

// Client is a connection that can both publish and subscribe.
type Client interface {
	Publisher
	Subscriber
}

// Match reports whether topic matches an MQTT filter with + and #
// wildcards.
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, seg := range f {
		if seg == "#" {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
