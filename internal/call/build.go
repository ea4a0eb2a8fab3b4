package call

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/callx-bridge/internal/config"
	"github.com/sweeney/callx-bridge/internal/payload"
)

const (
	defaultCallerName  = "Unknown Caller"
	defaultCallerPhone = "No Number"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Builder assembles Records from payloads using the configured field rules.
type Builder struct {
	cfg   *config.Config
	clock Clock
	newID func() string
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the time source used for CreatedAt.
func WithClock(c Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// WithIDGenerator replaces the random call id source.
func WithIDGenerator(f func() string) Option {
	return func(b *Builder) { b.newID = f }
}

// NewBuilder creates a Builder bound to cfg.
func NewBuilder(cfg *config.Config, opts ...Option) *Builder {
	b := &Builder{
		cfg:   cfg,
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build extracts a Record from doc. Only a document that is not an object
// fails; every missing field is defaulted.
func (b *Builder) Build(doc payload.Value) (Record, error) {
	if doc.Kind() != payload.Object {
		return Record{}, fmt.Errorf("%w: document is %s, not an object", ErrMalformedPayload, doc.Kind())
	}

	id, ok := b.extract(doc, config.FieldCallID)
	if !ok || id == "" {
		id = b.newID()
	}

	name, ok := b.extract(doc, config.FieldCallerName)
	if !ok {
		name = defaultCallerName
	}
	phone, ok := b.extract(doc, config.FieldCallerPhone)
	if !ok {
		phone = defaultCallerPhone
	}
	avatar, _ := b.extract(doc, config.FieldCallerAvatar)

	hasVideo := false
	if raw, ok := b.extract(doc, config.FieldHasVideo); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			hasVideo = v && b.cfg.App.SupportsVideo
		}
	}

	return Record{
		CallID:       id,
		CallerName:   name,
		CallerPhone:  phone,
		CallerAvatar: avatar,
		HasVideo:     hasVideo,
		CreatedAt:    b.clock().UTC().Truncate(time.Millisecond),
	}, nil
}

func (b *Builder) extract(doc payload.Value, field string) (string, bool) {
	rule, ok := b.cfg.Field(field)
	if !ok {
		return "", false
	}
	return payload.Extract(doc, rule)
}
