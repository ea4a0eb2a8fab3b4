package payload

import (
	"strings"

	"github.com/sweeney/callx-bridge/internal/config"
)

// Lookup walks a dotted path through nested objects. It stops at the first
// missing key or non-object node.
func Lookup(doc Value, path string) (Value, bool) {
	if path == "" {
		return Value{}, false
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		next, ok := cur.Get(seg)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Extract resolves rule against doc and returns the leaf's textual form.
// A missing path, a non-scalar leaf or a null leaf all yield the rule's
// fallback; ok is false only when no fallback is configured either.
func Extract(doc Value, rule config.FieldRule) (string, bool) {
	if v, found := Lookup(doc, rule.Field); found {
		if s, ok := v.Text(); ok {
			return s, true
		}
	}
	return rule.FallbackValue()
}
