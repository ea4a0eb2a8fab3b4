package call

import (
	"github.com/sweeney/callx-bridge/internal/config"
	"github.com/sweeney/callx-bridge/internal/payload"
)

// Classify returns the first trigger, in configured order, whose field
// extracts to exactly its expected value.
func Classify(doc payload.Value, triggers []config.Trigger) (Kind, bool) {
	for _, t := range triggers {
		v, ok := payload.Extract(doc, config.FieldRule{Field: t.Field})
		if ok && v == t.Value {
			return Kind(t.Name), true
		}
	}
	return "", false
}
