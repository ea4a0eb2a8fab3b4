// Package callx is the entry point for host integrations: inbound push
// payloads, user actions from the call screen, and consumer registration.
package callx

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sweeney/callx-bridge/internal/call"
	"github.com/sweeney/callx-bridge/internal/config"
	"github.com/sweeney/callx-bridge/internal/dispatcher"
	"github.com/sweeney/callx-bridge/internal/lifecycle"
	"github.com/sweeney/callx-bridge/internal/metrics"
	"github.com/sweeney/callx-bridge/internal/payload"
	"github.com/sweeney/callx-bridge/internal/pending"
)

// Outcome describes what a payload did.
type Outcome struct {
	Event   call.Kind   `json:"event"`
	Call    call.Record `json:"call"`
	Applied bool        `json:"applied"`
}

// rules is the configuration snapshot used for one payload.
type rules struct {
	cfg     *config.Config
	builder *call.Builder
}

// Service wires the classifier, builder, state machine and dispatcher.
type Service struct {
	// rules is read without locks; reconfMu orders writers so the
	// dispatcher's flags always match the stored snapshot.
	rules    atomic.Pointer[rules]
	reconfMu sync.Mutex

	machine *lifecycle.Machine
	disp    *dispatcher.Dispatcher
	metrics *metrics.Metrics
	logger  *slog.Logger

	builderOpts []call.Option
	dispOpts    []dispatcher.Option
}

// Option configures a Service.
type Option func(*Service)

// WithPresenter sets the incoming-call surface.
func WithPresenter(p dispatcher.Presenter) Option {
	return func(s *Service) { s.dispOpts = append(s.dispOpts, dispatcher.WithPresenter(p)) }
}

// WithCallLogger sets the call-history writer.
func WithCallLogger(l dispatcher.CallLogger) Option {
	return func(s *Service) { s.dispOpts = append(s.dispOpts, dispatcher.WithCallLogger(l)) }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger for the service and everything it builds.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithBuilderOptions passes options to the call data builder.
func WithBuilderOptions(opts ...call.Option) Option {
	return func(s *Service) { s.builderOpts = append(s.builderOpts, opts...) }
}

// New creates a Service parking events in store.
func New(cfg *config.Config, store pending.Store, opts ...Option) *Service {
	s := &Service{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	dispOpts := append([]dispatcher.Option{dispatcher.WithLogger(s.logger)}, s.dispOpts...)
	if s.metrics != nil {
		dispOpts = append(dispOpts, dispatcher.WithObserver(s.metrics))
	}
	s.disp = dispatcher.New(store, cfg.App, dispOpts...)
	s.machine = lifecycle.New(s.disp, lifecycle.WithLogger(s.logger))
	s.disp.SetReplayer(s.machine)
	if s.metrics != nil {
		s.metrics.Watch(s.machine, s.disp)
	}

	s.rules.Store(s.newRules(cfg))
	return s
}

func (s *Service) newRules(cfg *config.Config) *rules {
	return &rules{cfg: cfg, builder: call.NewBuilder(cfg, s.builderOpts...)}
}

// Config returns the configuration in effect.
func (s *Service) Config() *config.Config {
	return s.rules.Load().cfg
}

// Reconfigure applies runtime overrides on top of the current
// configuration. Triggers, field rules and app flags take effect for the
// next payload or transition.
func (s *Service) Reconfigure(overrides ...config.Override) error {
	s.reconfMu.Lock()
	defer s.reconfMu.Unlock()

	next, err := s.rules.Load().cfg.With(overrides...)
	if err != nil {
		return err
	}
	s.rules.Store(s.newRules(next))
	s.disp.SetAppFlags(next.App)
	s.logger.Info("configuration updated", "overrides", len(overrides))
	return nil
}

// OnPayload classifies doc and drives the state machine with it. A payload
// no trigger matches returns call.ErrUnhandled and changes nothing. A
// non-nil error with Applied set means the transition happened but its
// event could not be delivered or parked.
func (s *Service) OnPayload(ctx context.Context, doc payload.Value) (Outcome, error) {
	r := s.rules.Load()

	rec, err := r.builder.Build(doc)
	if err != nil {
		s.metrics.Payload("malformed")
		s.logger.Warn("malformed payload", "error", err)
		return Outcome{}, err
	}

	kind, ok := call.Classify(doc, r.cfg.Triggers)
	if !ok {
		s.metrics.Payload("unhandled")
		s.logger.Debug("payload matched no trigger")
		return Outcome{}, call.ErrUnhandled
	}
	s.metrics.Payload(string(kind))

	applied, err := s.machine.Remote(ctx, kind, rec)
	s.metrics.Transition(kind, applied)
	s.logTransition(kind, rec.CallID, applied, err)

	out := Outcome{Event: kind, Call: rec, Applied: applied}
	if cur, ok := s.machine.Current(); ok && cur.CallID == rec.CallID {
		out.Call = cur
	}
	return out, err
}

// Answer accepts the ringing call.
func (s *Service) Answer(ctx context.Context, callID string) (bool, error) {
	return s.userAction(ctx, call.KindAnswered, callID, s.machine.Answer)
}

// Decline rejects the ringing call.
func (s *Service) Decline(ctx context.Context, callID string) (bool, error) {
	return s.userAction(ctx, call.KindDeclined, callID, s.machine.Decline)
}

// EndCall ends the call locally.
func (s *Service) EndCall(ctx context.Context, callID string) (bool, error) {
	return s.userAction(ctx, call.KindEnded, callID, s.machine.End)
}

func (s *Service) userAction(ctx context.Context, kind call.Kind, callID string,
	act func(context.Context, string) (bool, error)) (bool, error) {
	applied, err := act(ctx, callID)
	if errors.Is(err, call.ErrInvalidCallID) {
		return false, err
	}
	s.metrics.Transition(kind, applied)
	s.logTransition(kind, callID, applied, err)
	return applied, err
}

// Register attaches the event consumer and replays whatever was parked.
func (s *Service) Register(ctx context.Context, c dispatcher.Consumer) error {
	if err := s.disp.Register(ctx, c); err != nil {
		s.logger.Error("consumer registration replay failed", "error", err)
		return err
	}
	s.logger.Info("consumer registered")
	return nil
}

// Unregister detaches the consumer. Later events are parked.
func (s *Service) Unregister() {
	s.disp.Unregister()
	s.logger.Info("consumer unregistered")
}

// Registered reports whether a consumer is attached.
func (s *Service) Registered() bool {
	return s.disp.Registered()
}

// Current returns the ringing call, if any.
func (s *Service) Current() (call.Record, bool) {
	return s.machine.Current()
}

// IsActive reports whether a call is ringing.
func (s *Service) IsActive() bool {
	return s.machine.IsActive()
}

// State returns the state machine's position.
func (s *Service) State() lifecycle.State {
	return s.machine.State()
}

func (s *Service) logTransition(kind call.Kind, callID string, applied bool, err error) {
	switch {
	case err != nil && applied:
		s.logger.Error("transition applied but event not delivered",
			"event", kind, "call_id", callID, "error", err)
	case err != nil:
		s.logger.Error("transition failed", "event", kind, "call_id", callID, "error", err)
	case applied:
		s.logger.Info("call transition", "event", kind, "call_id", callID)
	}
}
