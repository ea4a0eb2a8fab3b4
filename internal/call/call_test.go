package call_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/callx-bridge/internal/call"
	"github.com/sweeney/callx-bridge/internal/config"
	"github.com/sweeney/callx-bridge/internal/payload"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newBuilder(t *testing.T, cfg *config.Config) *call.Builder {
	t.Helper()
	return call.NewBuilder(cfg,
		call.WithClock(func() time.Time { return fixedNow }),
		call.WithIDGenerator(func() string { return "generated-id" }),
	)
}

func mustParse(t *testing.T, s string) payload.Value {
	t.Helper()
	v, err := payload.Parse([]byte(s))
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return v
}

// --- Classification ---

func TestClassifyDefaults(t *testing.T) {
	triggers := config.Default().Triggers
	tests := []struct {
		typ    string
		want   call.Kind
		wantOK bool
	}{
		{"call.started", call.KindIncoming, true},
		{"call.ended", call.KindEnded, true},
		{"call.missed", call.KindMissed, true},
		{"call.answered_elsewhere", call.KindAnsweredElsewhere, true},
		{"call.unknown", "", false},
		{"CALL.STARTED", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			doc := payload.ObjectValue("data", payload.ObjectValue("type", tt.typ))
			got, ok := call.Classify(doc, triggers)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.want, tt.wantOK, got, ok)
			}
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	triggers := []config.Trigger{
		{Name: config.TriggerEnded, Field: "data.kind", Value: "x"},
		{Name: config.TriggerIncoming, Field: "data.kind", Value: "x"},
	}
	doc := payload.ObjectValue("data", payload.ObjectValue("kind", "x"))
	got, ok := call.Classify(doc, triggers)
	if !ok || got != call.KindEnded {
		t.Errorf("expected first trigger to win, got (%q, %v)", got, ok)
	}
}

func TestClassifyMissingFieldIsUnhandled(t *testing.T) {
	doc := mustParse(t, `{"notification":{"title":"hello"}}`)
	if got, ok := call.Classify(doc, config.Default().Triggers); ok {
		t.Errorf("expected no match, got %q", got)
	}
}

func TestClassifyNumericField(t *testing.T) {
	triggers := []config.Trigger{{Name: config.TriggerIncoming, Field: "event.code", Value: "1"}}
	doc := mustParse(t, `{"event":{"code":1}}`)
	if got, ok := call.Classify(doc, triggers); !ok || got != call.KindIncoming {
		t.Errorf("expected incoming, got (%q, %v)", got, ok)
	}
}

// --- Building ---

func TestBuildFullPayload(t *testing.T) {
	cfg := config.Default()
	cfg.App.SupportsVideo = true

	doc := mustParse(t, `{"data":{
		"type":"call.started","callId":"c-42","callerName":"Ada",
		"callerPhone":"+441234567890","callerAvatar":"https://x/a.png","hasVideo":"true"}}`)
	rec, err := newBuilder(t, cfg).Build(doc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := call.Record{
		CallID:       "c-42",
		CallerName:   "Ada",
		CallerPhone:  "+441234567890",
		CallerAvatar: "https://x/a.png",
		HasVideo:     true,
		CreatedAt:    fixedNow,
	}
	if !rec.Equal(want) {
		t.Errorf("expected %+v, got %+v", want, rec)
	}
}

func TestBuildMinimalPayloadUsesDefaults(t *testing.T) {
	doc := mustParse(t, `{"data":{"type":"call.started"}}`)
	rec, err := newBuilder(t, config.Default()).Build(doc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if rec.CallID != "generated-id" {
		t.Errorf("expected generated id, got %q", rec.CallID)
	}
	if rec.CallerName != "Unknown Caller" {
		t.Errorf("expected Unknown Caller, got %q", rec.CallerName)
	}
	if rec.CallerPhone != "No Number" {
		t.Errorf("expected No Number, got %q", rec.CallerPhone)
	}
	if rec.CallerAvatar != "" {
		t.Errorf("expected no avatar, got %q", rec.CallerAvatar)
	}
	if rec.HasVideo {
		t.Error("expected hasVideo=false")
	}
}

func TestBuildDefaultsWithoutConfiguredFallback(t *testing.T) {
	cfg, err := config.Default().With(
		config.Override{Key: "fields.callerName", Value: "data.name"},
	)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	// Clear the fallback so the builder's own default applies.
	rule := cfg.Fields[config.FieldCallerName]
	rule.Fallback = nil
	cfg.Fields[config.FieldCallerName] = rule

	rec, err := newBuilder(t, cfg).Build(mustParse(t, `{"data":{}}`))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rec.CallerName != "Unknown Caller" {
		t.Errorf("expected Unknown Caller, got %q", rec.CallerName)
	}
}

func TestBuildEmptyCallIDIsGenerated(t *testing.T) {
	rec, err := newBuilder(t, config.Default()).Build(mustParse(t, `{"data":{"callId":""}}`))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rec.CallID != "generated-id" {
		t.Errorf("expected generated id for empty callId, got %q", rec.CallID)
	}
}

func TestBuildGeneratesUniqueIDs(t *testing.T) {
	b := call.NewBuilder(config.Default())
	doc := mustParse(t, `{"data":{}}`)
	a, _ := b.Build(doc)
	c, _ := b.Build(doc)
	if a.CallID == "" || a.CallID == c.CallID {
		t.Errorf("expected distinct non-empty ids, got %q and %q", a.CallID, c.CallID)
	}
}

func TestBuildHasVideo(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		supports bool
		want     bool
	}{
		{"true and supported", `"true"`, true, true},
		{"true but unsupported", `"true"`, false, false},
		{"bool literal", `true`, true, true},
		{"false", `"false"`, true, false},
		{"unparseable", `"yes please"`, true, false},
		{"object", `{"on":true}`, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.App.SupportsVideo = tt.supports
			rec, err := newBuilder(t, cfg).Build(mustParse(t, `{"data":{"hasVideo":`+tt.raw+`}}`))
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if rec.HasVideo != tt.want {
				t.Errorf("expected hasVideo=%v, got %v", tt.want, rec.HasVideo)
			}
		})
	}
}

func TestBuildCustomFieldMapping(t *testing.T) {
	cfg, err := config.Default().With(
		config.Override{Key: "fields.callId.field", Value: "meta.uuid"},
		config.Override{Key: "fields.callerName.field", Value: "meta.from.display"},
	)
	if err != nil {
		t.Fatalf("override: %v", err)
	}

	doc := mustParse(t, `{"meta":{"uuid":"u-1","from":{"display":"Grace"}}}`)
	rec, err := newBuilder(t, cfg).Build(doc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rec.CallID != "u-1" || rec.CallerName != "Grace" {
		t.Errorf("expected u-1/Grace, got %s/%s", rec.CallID, rec.CallerName)
	}
}

func TestBuildRejectsNonObject(t *testing.T) {
	docs := []payload.Value{
		payload.NullValue(),
		payload.StringValue("call.started"),
		payload.ArrayValue(payload.IntValue(1)),
	}
	b := newBuilder(t, config.Default())
	for _, doc := range docs {
		if _, err := b.Build(doc); !errors.Is(err, call.ErrMalformedPayload) {
			t.Errorf("%s: expected ErrMalformedPayload, got %v", doc.Kind(), err)
		}
	}
}

// --- Kinds ---

func TestKindActionNames(t *testing.T) {
	tests := []struct {
		kind   call.Kind
		action string
	}{
		{call.KindAnswered, "answer"},
		{call.KindDeclined, "decline"},
		{call.KindEnded, "end"},
		{call.KindMissed, "missed"},
		{call.KindAnsweredElsewhere, "answered_elsewhere"},
	}
	for _, tt := range tests {
		got, ok := tt.kind.Action()
		if !ok || got != tt.action {
			t.Errorf("%s: expected action %q, got (%q, %v)", tt.kind, tt.action, got, ok)
		}
		back, ok := call.KindForAction(got)
		if !ok || back != tt.kind {
			t.Errorf("%s: reverse lookup gave (%q, %v)", got, back, ok)
		}
		if !tt.kind.Terminal() {
			t.Errorf("%s: expected terminal", tt.kind)
		}
	}

	if _, ok := call.KindIncoming.Action(); ok {
		t.Error("expected incoming to have no action name")
	}
	if call.KindIncoming.Terminal() {
		t.Error("expected incoming to be non-terminal")
	}
}
