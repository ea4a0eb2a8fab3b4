package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Override is a single flat key/value setting, e.g.
// "triggers.incoming.value=call.begin" or "fields.callerName.fallback=Anon".
// Keys may carry the manifest-style "callx." prefix.
type Override struct {
	Key   string
	Value string
}

// ParseOverride splits "key=value".
func ParseOverride(s string) (Override, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return Override{}, fmt.Errorf("override %q must have the form key=value", s)
	}
	return Override{Key: key, Value: value}, nil
}

// Overrides collects repeated -set flags. It implements flag.Value.
type Overrides []Override

func (o *Overrides) String() string {
	parts := make([]string, len(*o))
	for i, ov := range *o {
		parts[i] = ov.Key + "=" + ov.Value
	}
	return strings.Join(parts, ",")
}

func (o *Overrides) Set(s string) error {
	ov, err := ParseOverride(s)
	if err != nil {
		return err
	}
	*o = append(*o, ov)
	return nil
}

func (c *Config) set(key, value string) error {
	parts := strings.Split(strings.TrimPrefix(key, "callx."), ".")

	switch {
	case parts[0] == "triggers" && len(parts) == 3:
		switch parts[2] {
		case "field":
			c.mergeTrigger(parts[1], &value, nil)
		case "value":
			c.mergeTrigger(parts[1], nil, &value)
		default:
			return fmt.Errorf("unknown config key %q", key)
		}
		return nil

	case parts[0] == "fields" && len(parts) == 2:
		c.mergeField(parts[1], &value, nil)
		return nil

	case parts[0] == "fields" && len(parts) == 3:
		switch parts[2] {
		case "field":
			c.mergeField(parts[1], &value, nil)
		case "fallback":
			c.mergeField(parts[1], nil, &value)
		default:
			return fmt.Errorf("unknown config key %q", key)
		}
		return nil

	case parts[0] == "app" && len(parts) == 2:
		var dst *bool
		switch parts[1] {
		case "supports_video":
			dst = &c.App.SupportsVideo
		case "enabled_log_phone_call":
			dst = &c.App.EnabledLogPhoneCall
		case "show_over_lockscreen":
			dst = &c.App.ShowOverLockscreen
		case "require_unlock":
			dst = &c.App.RequireUnlock
		default:
			return fmt.Errorf("unknown config key %q", key)
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be a boolean, got %q", key, value)
		}
		*dst = b
		return nil
	}

	switch strings.Join(parts, ".") {
	case "mqtt.broker":
		c.MQTT.Broker = value
	case "mqtt.client_id":
		c.MQTT.ClientID = value
	case "mqtt.topic_prefix":
		c.MQTT.TopicPrefix = value
	case "http.listen":
		c.HTTP.Listen = value
	case "store.path":
		c.Store.Path = value
	case "log.level":
		c.Log.Level = value
	case "log.format":
		c.Log.Format = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
