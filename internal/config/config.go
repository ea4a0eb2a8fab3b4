package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Trigger names recognised by the classifier.
const (
	TriggerIncoming          = "incoming"
	TriggerEnded             = "ended"
	TriggerMissed            = "missed"
	TriggerAnsweredElsewhere = "answered_elsewhere"
)

// Canonical call record fields.
const (
	FieldCallID       = "callId"
	FieldCallerName   = "callerName"
	FieldCallerPhone  = "callerPhone"
	FieldCallerAvatar = "callerAvatar"
	FieldHasVideo     = "hasVideo"
)

var (
	triggerNames = []string{TriggerIncoming, TriggerEnded, TriggerMissed, TriggerAnsweredElsewhere}
	fieldNames   = []string{FieldCallID, FieldCallerName, FieldCallerPhone, FieldCallerAvatar, FieldHasVideo}
)

// Config is the fully layered configuration. It must not be modified after
// Load returns; use With to derive an overridden copy.
type Config struct {
	App      AppFlags
	Triggers []Trigger
	Fields   map[string]FieldRule
	MQTT     MQTTConfig
	HTTP     HTTPConfig
	Store    StoreConfig
	Log      LogConfig
}

// Trigger maps a payload field/value pair to a lifecycle event name.
type Trigger struct {
	Name  string
	Field string
	Value string
}

// FieldRule locates one canonical attribute in a payload.
type FieldRule struct {
	Field    string
	Fallback *string
}

// FallbackValue returns the fallback and whether one is configured.
func (r FieldRule) FallbackValue() (string, bool) {
	if r.Fallback == nil {
		return "", false
	}
	return *r.Fallback, true
}

// AppFlags are the boolean switches handed to presentation collaborators.
type AppFlags struct {
	SupportsVideo       bool
	EnabledLogPhoneCall bool
	ShowOverLockscreen  bool
	RequireUnlock       bool
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// PushTopic is where raw push payloads are received.
func (c *MQTTConfig) PushTopic() string {
	return c.TopicPrefix + "/push"
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func ptr(s string) *string { return &s }

// Default returns the compiled-in configuration layer.
func Default() *Config {
	return &Config{
		App: AppFlags{
			EnabledLogPhoneCall: true,
			ShowOverLockscreen:  true,
		},
		Triggers: []Trigger{
			{Name: TriggerIncoming, Field: "data.type", Value: "call.started"},
			{Name: TriggerEnded, Field: "data.type", Value: "call.ended"},
			{Name: TriggerMissed, Field: "data.type", Value: "call.missed"},
			{Name: TriggerAnsweredElsewhere, Field: "data.type", Value: "call.answered_elsewhere"},
		},
		Fields: map[string]FieldRule{
			FieldCallID:       {Field: "data.callId"},
			FieldCallerName:   {Field: "data.callerName", Fallback: ptr("Unknown Caller")},
			FieldCallerPhone:  {Field: "data.callerPhone", Fallback: ptr("No Number")},
			FieldCallerAvatar: {Field: "data.callerAvatar"},
			FieldHasVideo:     {Field: "data.hasVideo", Fallback: ptr("false")},
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "callx-bridge",
			TopicPrefix: "callx",
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:8095",
		},
		Store: StoreConfig{
			Path: "/var/lib/callx-bridge/pending.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from compiled defaults, the YAML file at
// path (skipped when path is empty) and finally the runtime overrides.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := cfg.applyFile(data); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	for _, o := range overrides {
		if err := cfg.set(o.Key, o.Value); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// With returns a validated copy of c with overrides applied on top.
func (c *Config) With(overrides ...Override) (*Config, error) {
	out := c.clone()
	for _, o := range overrides {
		if err := out.set(o.Key, o.Value); err != nil {
			return nil, err
		}
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Field returns the rule for a canonical field, if configured.
func (c *Config) Field(name string) (FieldRule, bool) {
	r, ok := c.Fields[name]
	return r, ok
}

// Trigger returns the named trigger, if configured.
func (c *Config) Trigger(name string) (Trigger, bool) {
	for _, t := range c.Triggers {
		if t.Name == name {
			return t, true
		}
	}
	return Trigger{}, false
}

func (c *Config) clone() *Config {
	out := *c
	out.Triggers = slices.Clone(c.Triggers)
	out.Fields = make(map[string]FieldRule, len(c.Fields))
	for k, v := range c.Fields {
		if v.Fallback != nil {
			v.Fallback = ptr(*v.Fallback)
		}
		out.Fields[k] = v
	}
	return &out
}

// mergeTrigger updates only the supplied parts of a trigger. New trigger
// names are appended so configured order is preserved.
func (c *Config) mergeTrigger(name string, field, value *string) {
	idx := slices.IndexFunc(c.Triggers, func(t Trigger) bool { return t.Name == name })
	if idx < 0 {
		c.Triggers = append(c.Triggers, Trigger{Name: name})
		idx = len(c.Triggers) - 1
	}
	if field != nil {
		c.Triggers[idx].Field = *field
	}
	if value != nil {
		c.Triggers[idx].Value = *value
	}
}

func (c *Config) mergeField(name string, field, fallback *string) {
	r := c.Fields[name]
	if field != nil {
		r.Field = *field
	}
	if fallback != nil {
		r.Fallback = ptr(*fallback)
	}
	c.Fields[name] = r
}

// fileLayer mirrors the YAML document. Pointer leaves distinguish "absent"
// from "set to zero" so a layer only touches the keys it names.
type fileLayer struct {
	App      appLayer              `yaml:"app"`
	Triggers triggerLayers         `yaml:"triggers"`
	Fields   map[string]fieldLayer `yaml:"fields"`
	MQTT     *MQTTConfig           `yaml:"mqtt"`
	HTTP     *HTTPConfig           `yaml:"http"`
	Store    *StoreConfig          `yaml:"store"`
	Log      *LogConfig            `yaml:"log"`
}

type appLayer struct {
	SupportsVideo       *bool `yaml:"supports_video"`
	EnabledLogPhoneCall *bool `yaml:"enabled_log_phone_call"`
	ShowOverLockscreen  *bool `yaml:"show_over_lockscreen"`
	RequireUnlock       *bool `yaml:"require_unlock"`
}

type triggerLayer struct {
	Field *string `yaml:"field"`
	Value *string `yaml:"value"`
}

type fieldLayer struct {
	Field    *string `yaml:"field"`
	Fallback *string `yaml:"fallback"`
}

type namedTrigger struct {
	name string
	triggerLayer
}

// triggerLayers keeps the document order of the triggers mapping.
type triggerLayers []namedTrigger

func (t *triggerLayers) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: triggers must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var layer triggerLayer
		if err := node.Content[i+1].Decode(&layer); err != nil {
			return err
		}
		*t = append(*t, namedTrigger{name: node.Content[i].Value, triggerLayer: layer})
	}
	return nil
}

func (c *Config) applyFile(data []byte) error {
	doc := fileLayer{
		MQTT:  &c.MQTT,
		HTTP:  &c.HTTP,
		Store: &c.Store,
		Log:   &c.Log,
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}

	setBool(&c.App.SupportsVideo, doc.App.SupportsVideo)
	setBool(&c.App.EnabledLogPhoneCall, doc.App.EnabledLogPhoneCall)
	setBool(&c.App.ShowOverLockscreen, doc.App.ShowOverLockscreen)
	setBool(&c.App.RequireUnlock, doc.App.RequireUnlock)

	for _, t := range doc.Triggers {
		c.mergeTrigger(t.name, t.Field, t.Value)
	}
	for name, f := range doc.Fields {
		c.mergeField(name, f.Field, f.Fallback)
	}
	return nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func (c *Config) validate() error {
	for _, t := range c.Triggers {
		if !slices.Contains(triggerNames, t.Name) {
			return fmt.Errorf("triggers.%s is not a recognised trigger", t.Name)
		}
		if t.Field == "" {
			return fmt.Errorf("triggers.%s.field is required", t.Name)
		}
		if t.Value == "" {
			return fmt.Errorf("triggers.%s.value is required", t.Name)
		}
	}
	for name, f := range c.Fields {
		if !slices.Contains(fieldNames, name) {
			return fmt.Errorf("fields.%s is not a recognised field", name)
		}
		if f.Field == "" {
			return fmt.Errorf("fields.%s.field is required", name)
		}
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required")
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix is required")
	}
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
