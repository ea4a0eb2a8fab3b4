package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sweeney/callx-bridge/internal/publisher"
)

// MQTTSender publishes pushes straight to a bridge's push topic, for
// testing without FCM. The token is ignored.
type MQTTSender struct {
	pub   publisher.Publisher
	topic string
}

func NewMQTTSender(pub publisher.Publisher, topic string) *MQTTSender {
	return &MQTTSender{pub: pub, topic: topic}
}

func (s *MQTTSender) Send(ctx context.Context, _ string, m Message) error {
	data, err := json.Marshal(map[string]any{"data": m.Data()})
	if err != nil {
		return fmt.Errorf("marshaling push: %w", err)
	}
	return s.pub.Publish(ctx, s.topic, data)
}
