package call

import "time"

// Record is the immutable description of one call. Transitions produce new
// events carrying a Record; they never modify it.
type Record struct {
	CallID      string `json:"callId"`
	CallerName  string `json:"callerName"`
	CallerPhone string `json:"callerPhone"`
	// CallerAvatar is empty when the payload carried no avatar.
	CallerAvatar string    `json:"callerAvatar,omitempty"`
	HasVideo     bool      `json:"hasVideo"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Equal reports whether two records describe the same call data.
func (r Record) Equal(o Record) bool {
	return r.CallID == o.CallID &&
		r.CallerName == o.CallerName &&
		r.CallerPhone == o.CallerPhone &&
		r.CallerAvatar == o.CallerAvatar &&
		r.HasVideo == o.HasVideo &&
		r.CreatedAt.Equal(o.CreatedAt)
}

// Kind is an outbound lifecycle event.
type Kind string

const (
	KindIncoming          Kind = "incoming"
	KindAnswered          Kind = "answered"
	KindDeclined          Kind = "declined"
	KindEnded             Kind = "ended"
	KindMissed            Kind = "missed"
	KindAnsweredElsewhere Kind = "answered_elsewhere"
)

// Event is one lifecycle transition as seen by consumers.
type Event struct {
	Kind Kind   `json:"event"`
	Call Record `json:"call"`
}

var kindActions = map[Kind]string{
	KindAnswered:          "answer",
	KindDeclined:          "decline",
	KindEnded:             "end",
	KindMissed:            "missed",
	KindAnsweredElsewhere: "answered_elsewhere",
}

// Action returns the pending-action name stored for a terminal event kind.
// Incoming is an announcement, not an action, and reports false.
func (k Kind) Action() (string, bool) {
	a, ok := kindActions[k]
	return a, ok
}

// KindForAction is the inverse of Kind.Action.
func KindForAction(action string) (Kind, bool) {
	for k, a := range kindActions {
		if a == action {
			return k, true
		}
	}
	return "", false
}

// Terminal reports whether the kind ends a ringing call.
func (k Kind) Terminal() bool {
	_, ok := kindActions[k]
	return ok
}
