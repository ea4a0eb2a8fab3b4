// Package push builds and sends the data messages the bridge consumes.
package push

import (
	"context"
	"strconv"
)

// Push types understood by the default trigger set.
const (
	TypeStarted           = "call.started"
	TypeEnded             = "call.ended"
	TypeMissed            = "call.missed"
	TypeAnsweredElsewhere = "call.answered_elsewhere"
)

// Message is one call push.
type Message struct {
	Type         string
	CallID       string
	CallerName   string
	CallerPhone  string
	CallerAvatar string
	HasVideo     bool
}

// Data flattens m into a data map using the default field names. Empty
// fields are left out so receivers apply their fallbacks.
func (m Message) Data() map[string]string {
	d := map[string]string{"type": m.Type}
	set := func(k, v string) {
		if v != "" {
			d[k] = v
		}
	}
	set("callId", m.CallID)
	set("callerName", m.CallerName)
	set("callerPhone", m.CallerPhone)
	set("callerAvatar", m.CallerAvatar)
	if m.HasVideo {
		d["hasVideo"] = strconv.FormatBool(true)
	}
	return d
}

// Sender delivers a message to one device.
type Sender interface {
	Send(ctx context.Context, token string, m Message) error
}
