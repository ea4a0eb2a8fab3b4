package callx_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/callx-bridge/internal/call"
	"github.com/sweeney/callx-bridge/internal/callx"
	"github.com/sweeney/callx-bridge/internal/config"
	"github.com/sweeney/callx-bridge/internal/lifecycle"
	"github.com/sweeney/callx-bridge/internal/metrics"
	"github.com/sweeney/callx-bridge/internal/payload"
	"github.com/sweeney/callx-bridge/internal/pending"
)

type sink struct {
	mu     sync.Mutex
	events []call.Event
}

func (s *sink) Deliver(_ context.Context, ev call.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *sink) got() []call.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call.Event(nil), s.events...)
}

func newService(t *testing.T, cfg *config.Config, opts ...callx.Option) (*callx.Service, *pending.MemoryStore) {
	t.Helper()
	store := pending.NewMemoryStore()
	opts = append([]callx.Option{callx.WithBuilderOptions(
		call.WithClock(func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }),
	)}, opts...)
	return callx.New(cfg, store, opts...), store
}

func push(t *testing.T, s string) payload.Value {
	t.Helper()
	v, err := payload.Parse([]byte(s))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return v
}

// Scenario A: a minimal config and a minimal started payload.
func TestMinimalConfigIncoming(t *testing.T) {
	cfg := &config.Config{
		Triggers: []config.Trigger{{Name: config.TriggerIncoming, Field: "data.type", Value: "call.started"}},
		Fields:   map[string]config.FieldRule{config.FieldCallID: {Field: "data.callId"}},
	}
	svc, _ := newService(t, cfg)

	out, err := svc.OnPayload(context.Background(), push(t, `{"data":{"type":"call.started","callId":"abc"}}`))
	if err != nil {
		t.Fatalf("on payload: %v", err)
	}
	if out.Event != call.KindIncoming || !out.Applied {
		t.Errorf("expected applied incoming, got %+v", out)
	}
	if out.Call.CallID != "abc" || out.Call.CallerName != "Unknown Caller" || out.Call.CallerPhone != "No Number" {
		t.Errorf("unexpected record %+v", out.Call)
	}
	if svc.State() != lifecycle.StateRinging {
		t.Errorf("expected ringing, got %s", svc.State())
	}
}

func TestUnhandledPayloadChangesNothing(t *testing.T) {
	svc, store := newService(t, config.Default())

	_, err := svc.OnPayload(context.Background(), push(t, `{"data":{"type":"chat.message"}}`))
	if !errors.Is(err, call.ErrUnhandled) {
		t.Fatalf("expected ErrUnhandled, got %v", err)
	}
	if svc.IsActive() || store.Len() != 0 {
		t.Errorf("expected no state change, active=%v parked=%d", svc.IsActive(), store.Len())
	}
}

func TestMalformedPayload(t *testing.T) {
	svc, _ := newService(t, config.Default())
	_, err := svc.OnPayload(context.Background(), push(t, `["call.started"]`))
	if !errors.Is(err, call.ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestFullCallWithLiveConsumer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, config.Default())
	s := &sink{}
	if err := svc.Register(ctx, s); err != nil {
		t.Fatalf("register: %v", err)
	}

	svc.OnPayload(ctx, push(t, `{"data":{"type":"call.started","callId":"c-1","callerName":"Ada"}}`))
	cur, ok := svc.Current()
	if !ok || cur.CallerName != "Ada" {
		t.Fatalf("expected Ada ringing, got %+v ok=%v", cur, ok)
	}

	applied, err := svc.Answer(ctx, "c-1")
	if err != nil || !applied {
		t.Fatalf("answer: applied=%v err=%v", applied, err)
	}

	// The hangup push for an answered call arrives after the ringing state
	// is gone and is ignored.
	out, err := svc.OnPayload(ctx, push(t, `{"data":{"type":"call.ended","callId":"c-1"}}`))
	if err != nil || out.Applied {
		t.Errorf("expected late ended to be ignored, got %+v err=%v", out, err)
	}

	events := s.got()
	if len(events) != 2 || events[0].Kind != call.KindIncoming || events[1].Kind != call.KindAnswered {
		t.Fatalf("expected incoming, answered; got %+v", events)
	}
	if events[1].Call.CallerName != "Ada" {
		t.Errorf("expected answered event to carry the ringing record, got %+v", events[1].Call)
	}
}

func TestUserActionValidation(t *testing.T) {
	svc, _ := newService(t, config.Default())
	ctx := context.Background()
	for name, act := range map[string]func(context.Context, string) (bool, error){
		"answer":  svc.Answer,
		"decline": svc.Decline,
		"end":     svc.EndCall,
	} {
		if _, err := act(ctx, ""); !errors.Is(err, call.ErrInvalidCallID) {
			t.Errorf("%s: expected ErrInvalidCallID, got %v", name, err)
		}
	}
}

// Scenario B through the service: the consumer starts after the push.
func TestLateConsumerSeesSameStream(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, config.Default())

	svc.OnPayload(ctx, push(t, `{"data":{"type":"call.started","callId":"c-1"}}`))
	svc.OnPayload(ctx, push(t, `{"data":{"type":"call.missed","callId":"c-1"}}`))

	s := &sink{}
	if err := svc.Register(ctx, s); err != nil {
		t.Fatalf("register: %v", err)
	}
	events := s.got()
	if len(events) != 2 || events[0].Kind != call.KindIncoming || events[1].Kind != call.KindMissed {
		t.Fatalf("expected incoming, missed; got %+v", events)
	}
	if svc.IsActive() {
		t.Error("expected no active call after replay")
	}
}

// history records call-log writes.
type history struct {
	mu    sync.Mutex
	types []string
}

func (h *history) LogCall(_ context.Context, _ call.Record, callType string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.types = append(h.types, callType)
}

func (h *history) got() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.types...)
}

func TestRacingTerminalEventsWithoutConsumer(t *testing.T) {
	started := push(t, `{"data":{"type":"call.started","callId":"c-1"}}`)
	ended := push(t, `{"data":{"type":"call.ended","callId":"c-1"}}`)

	tests := []struct {
		name  string
		first func(context.Context, *callx.Service) (bool, error)
		late  func(context.Context, *callx.Service) (bool, error)
		want  call.Kind
		log   string
	}{
		{
			name: "answer then remote ended",
			first: func(ctx context.Context, svc *callx.Service) (bool, error) {
				return svc.Answer(ctx, "c-1")
			},
			late: func(ctx context.Context, svc *callx.Service) (bool, error) {
				out, err := svc.OnPayload(ctx, ended)
				return out.Applied, err
			},
			want: call.KindAnswered,
			log:  "incoming",
		},
		{
			name: "remote ended then answer",
			first: func(ctx context.Context, svc *callx.Service) (bool, error) {
				out, err := svc.OnPayload(ctx, ended)
				return out.Applied, err
			},
			late: func(ctx context.Context, svc *callx.Service) (bool, error) {
				return svc.Answer(ctx, "c-1")
			},
			want: call.KindEnded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := &history{}
			svc, _ := newService(t, config.Default(), callx.WithCallLogger(h))
			svc.OnPayload(ctx, started)

			if applied, err := tt.first(ctx, svc); err != nil || !applied {
				t.Fatalf("first: applied=%v err=%v", applied, err)
			}
			if applied, err := tt.late(ctx, svc); err != nil || applied {
				t.Fatalf("expected late event stale, got applied=%v err=%v", applied, err)
			}
			if applied, _ := svc.Decline(ctx, "c-1"); applied {
				t.Error("expected decline on a finished call to be stale")
			}

			s := &sink{}
			if err := svc.Register(ctx, s); err != nil {
				t.Fatalf("register: %v", err)
			}
			events := s.got()
			if len(events) != 2 || events[0].Kind != call.KindIncoming || events[1].Kind != tt.want {
				t.Fatalf("expected incoming, %s; got %+v", tt.want, events)
			}

			logs := h.got()
			if tt.log == "" && len(logs) != 0 {
				t.Errorf("expected no history entries, got %v", logs)
			}
			if tt.log != "" && (len(logs) != 1 || logs[0] != tt.log) {
				t.Errorf("expected one %q history entry, got %v", tt.log, logs)
			}
		})
	}
}

func TestLateEventAfterRestartKeepsParkedAction(t *testing.T) {
	ctx := context.Background()
	store := pending.NewMemoryStore()
	svc := callx.New(config.Default(), store)
	svc.OnPayload(ctx, push(t, `{"data":{"type":"call.started","callId":"c-1"}}`))
	svc.Answer(ctx, "c-1")

	// A new process over the same store starts idle.
	restarted := callx.New(config.Default(), store)
	out, err := restarted.OnPayload(ctx, push(t, `{"data":{"type":"call.ended","callId":"c-1"}}`))
	if err != nil || out.Applied {
		t.Fatalf("expected late ended stale, got %+v err=%v", out, err)
	}

	s := &sink{}
	if err := restarted.Register(ctx, s); err != nil {
		t.Fatalf("register: %v", err)
	}
	events := s.got()
	if len(events) != 2 || events[1].Kind != call.KindAnswered {
		t.Fatalf("expected incoming, answered; got %+v", events)
	}
}

func TestPersistenceFailureSurfacedButApplied(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, config.Default())
	store.SetError(errors.New("disk full"))

	out, err := svc.OnPayload(ctx, push(t, `{"data":{"type":"call.started","callId":"c-1"}}`))
	if !pending.IsPersistence(err) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if !out.Applied || !svc.IsActive() {
		t.Errorf("expected transition applied despite store failure, got %+v", out)
	}
}

func TestReconfigureChangesTriggers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, config.Default())

	err := svc.Reconfigure(
		config.Override{Key: "triggers.incoming.field", Value: "event"},
		config.Override{Key: "triggers.incoming.value", Value: "ring"},
		config.Override{Key: "callx.fields.callId.field", Value: "id"},
	)
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	out, err := svc.OnPayload(ctx, push(t, `{"event":"ring","id":"r-7"}`))
	if err != nil || out.Call.CallID != "r-7" {
		t.Fatalf("expected r-7 ringing, got %+v err=%v", out, err)
	}
	if svc.Config().Triggers[0].Value != "ring" {
		t.Errorf("expected updated trigger value, got %q", svc.Config().Triggers[0].Value)
	}
}

func TestReconfigureAppFlagsReachDispatcher(t *testing.T) {
	ctx := context.Background()
	h := &history{}
	svc, _ := newService(t, config.Default(), callx.WithCallLogger(h))

	if err := svc.Reconfigure(config.Override{Key: "app.enabled_log_phone_call", Value: "false"}); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	svc.OnPayload(ctx, push(t, `{"data":{"type":"call.started","callId":"c-1"}}`))
	svc.Decline(ctx, "c-1")

	if logs := h.got(); len(logs) != 0 {
		t.Errorf("expected call logging disabled, got %v", logs)
	}
	if svc.Config().App.EnabledLogPhoneCall {
		t.Error("expected stored config to carry the new flag")
	}
}

func TestReconfigureRejectsBadKey(t *testing.T) {
	svc, _ := newService(t, config.Default())
	if err := svc.Reconfigure(config.Override{Key: "nope", Value: "x"}); err == nil {
		t.Error("expected error for unknown key")
	}
	if svc.Config().Triggers[0].Value != "call.started" {
		t.Error("expected configuration unchanged after failed reconfigure")
	}
}

func TestMetricsWired(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	svc, _ := newService(t, config.Default(), callx.WithMetrics(m))

	svc.OnPayload(ctx, push(t, `{"data":{"type":"call.started","callId":"c-1"}}`))
	svc.OnPayload(ctx, push(t, `{"data":{"type":"nope"}}`))

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	seen := map[string]bool{}
	for _, f := range families {
		seen[f.GetName()] = true
	}
	for _, name := range []string{"callx_payloads_total", "callx_transitions_total", "callx_pending_saved_total", "callx_active_call"} {
		if !seen[name] {
			t.Errorf("expected metric %s to be exported", name)
		}
	}
}
