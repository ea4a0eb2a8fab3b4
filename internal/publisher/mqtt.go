package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher wraps a Paho MQTT client.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
	opts   MQTTOptions

	mu   sync.Mutex
	subs map[string]Handler
}

// MQTTOptions configures the MQTT client.
type MQTTOptions struct {
	Broker   string
	ClientID string
	QoS      byte

	// StatusTopic, when set, carries a retained "online" published on
	// connect and an "offline" last will.
	StatusTopic string

	// OnConnect runs after every (re)connect, once subscriptions are
	// restored. OnConnectionLost runs when the broker connection drops.
	OnConnect        func()
	OnConnectionLost func(error)
}

// NewMQTTPublisher creates and connects an MQTT client.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	p := &MQTTPublisher{
		qos:  opts.QoS,
		opts: opts,
		subs: make(map[string]Handler),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		// Handlers publish and wait, which would block an ordered router.
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)
	if opts.StatusTopic != "" {
		clientOpts.SetWill(opts.StatusTopic, "offline", 1, true)
	}

	p.client = mqtt.NewClient(clientOpts)
	token := p.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	return p, nil
}

func (p *MQTTPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	token.Wait()
	return token.Error()
}

func (p *MQTTPublisher) PublishRetained(_ context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, true, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers h for filter. The subscription is restored after
// every reconnect.
func (p *MQTTPublisher) Subscribe(filter string, h Handler) error {
	p.mu.Lock()
	p.subs[filter] = h
	p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		return nil
	}
	return p.subscribe(filter, h)
}

func (p *MQTTPublisher) Close() error {
	if p.opts.StatusTopic != "" && p.client.IsConnectionOpen() {
		p.client.Publish(p.opts.StatusTopic, 1, true, "offline").WaitTimeout(time.Second)
	}
	p.client.Disconnect(1000)
	return nil
}

func (p *MQTTPublisher) subscribe(filter string, h Handler) error {
	token := p.client.Subscribe(filter, p.qos, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", filter, err)
	}
	return nil
}

// onConnect runs on paho's callback goroutine. Subscriptions are restored
// and the owner's hook is called off that goroutine so it may publish.
func (p *MQTTPublisher) onConnect(_ mqtt.Client) {
	slog.Info("connected to MQTT broker", "broker", p.opts.Broker)

	p.mu.Lock()
	subs := make(map[string]Handler, len(p.subs))
	for f, h := range p.subs {
		subs[f] = h
	}
	p.mu.Unlock()

	go func() {
		for f, h := range subs {
			if err := p.subscribe(f, h); err != nil {
				slog.Error("restoring subscription", "topic", f, "error", err)
			}
		}
		if p.opts.StatusTopic != "" {
			p.client.Publish(p.opts.StatusTopic, 1, true, "online").Wait()
		}
		if p.opts.OnConnect != nil {
			p.opts.OnConnect()
		}
	}()
}

func (p *MQTTPublisher) onConnectionLost(_ mqtt.Client, err error) {
	slog.Warn("MQTT connection lost", "broker", p.opts.Broker, "error", err)
	if p.opts.OnConnectionLost != nil {
		p.opts.OnConnectionLost(err)
	}
}
