package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweeney/callx-bridge/internal/call"
	"github.com/sweeney/callx-bridge/internal/publisher"
)

// mqttPayload is the JSON structure published to MQTT.
type mqttPayload struct {
	Event       string `json:"event"`
	Description string `json:"description"`
	CallID      string `json:"call_id"`
	Caller      caller `json:"caller"`
	HasVideo    bool   `json:"has_video"`
	CreatedAt   string `json:"created_at"`
	Timestamp   string `json:"timestamp"`
}

type caller struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Avatar string `json:"avatar,omitempty"`
}

var eventDescriptions = map[call.Kind]string{
	call.KindIncoming:          "A call is ringing and waiting to be answered",
	call.KindAnswered:          "The call was answered on this device",
	call.KindDeclined:          "The call was declined on this device",
	call.KindEnded:             "The call has ended",
	call.KindMissed:            "The call rang out without being answered",
	call.KindAnsweredElsewhere: "The call was answered on another device",
}

// eventPublisher is the consumer registered while the broker is reachable.
type eventPublisher struct {
	pub    publisher.Publisher
	prefix string
	now    func() time.Time
}

func newEventPublisher(pub publisher.Publisher, prefix string) *eventPublisher {
	return &eventPublisher{pub: pub, prefix: prefix, now: time.Now}
}

func (p *eventPublisher) Deliver(ctx context.Context, ev call.Event) error {
	return publishEvent(ctx, p.pub, p.prefix, ev, p.now())
}

func publishEvent(ctx context.Context, pub publisher.Publisher, prefix string, ev call.Event, now time.Time) error {
	topic := fmt.Sprintf("%s/call/%s/%s", prefix, topicSegment(ev.Call.CallID), ev.Kind)

	data, err := json.Marshal(newPayload(ev, now))
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	slog.Info("publishing", "topic", topic)
	return pub.Publish(ctx, topic, data)
}

func newPayload(ev call.Event, now time.Time) mqttPayload {
	return mqttPayload{
		Event:       string(ev.Kind),
		Description: eventDescriptions[ev.Kind],
		CallID:      ev.Call.CallID,
		Caller: caller{
			Name:   ev.Call.CallerName,
			Phone:  ev.Call.CallerPhone,
			Avatar: ev.Call.CallerAvatar,
		},
		HasVideo:  ev.Call.HasVideo,
		CreatedAt: ev.Call.CreatedAt.UTC().Format(time.RFC3339Nano),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// topicSegment keeps a call id from adding levels or wildcards to a topic.
func topicSegment(id string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(id)
}

// screenPublisher mirrors the incoming-call surface as a retained message
// on <prefix>/screen. Dismissing clears the retained value.
type screenPublisher struct {
	pub    publisher.Retainer
	prefix string
}

func (s *screenPublisher) Show(ctx context.Context, rec call.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("marshaling screen record", "call_id", rec.CallID, "error", err)
		return
	}
	if err := s.pub.PublishRetained(ctx, s.prefix+"/screen", data); err != nil {
		slog.Error("showing call screen", "call_id", rec.CallID, "error", err)
	}
}

func (s *screenPublisher) Dismiss(ctx context.Context, rec call.Record) {
	if err := s.pub.PublishRetained(ctx, s.prefix+"/screen", nil); err != nil {
		slog.Error("dismissing call screen", "call_id", rec.CallID, "error", err)
	}
}

// historyPublisher appends finished calls to <prefix>/history.
type historyPublisher struct {
	pub    publisher.Publisher
	prefix string
}

type historyEntry struct {
	Type string      `json:"type"`
	Call call.Record `json:"call"`
}

func (h *historyPublisher) LogCall(ctx context.Context, rec call.Record, callType string) {
	data, err := json.Marshal(historyEntry{Type: callType, Call: rec})
	if err != nil {
		slog.Error("marshaling call history", "call_id", rec.CallID, "error", err)
		return
	}
	if err := h.pub.Publish(ctx, h.prefix+"/history", data); err != nil {
		slog.Error("logging call history", "call_id", rec.CallID, "error", err)
	}
}
