package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/medicine-tracker/internal/medicine"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	Topics     Topics
	BufferSize int
	// OnReconnect is called from the client goroutine after every
	// reconnection. It must not block.
	OnReconnect func()
	Log         zerolog.Logger
	// Now is the clock for system payloads. Defaults to time.Now.
	Now func() time.Time
}

// RealPublisher publishes to an actual MQTT broker. Publishes made while
// disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	opts   Options
	log    zerolog.Logger

	mu        sync.Mutex
	buffer    *ringBuffer
	handlers  *Handlers
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher connected to the given broker.
// The last will is a retained SHUTDOWN event on the system topic.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	p := newPublisher(opts)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: p.opts.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(p.opts.Topics.System(), will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.onConnectionLost(err) })
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(opts Options) *RealPublisher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = NewTopics(opts.Topics.Prefix, opts.Topics.DiscoveryPrefix)
	}
	log := opts.Log.With().Str("component", "mqtt").Str("broker", opts.Broker).Logger()
	return &RealPublisher{
		opts:   opts,
		log:    log,
		buffer: newRingBuffer(opts.BufferSize, log),
	}
}

// IsConnected reports whether the client currently has a live connection.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// PublishState sends the retained state of one medicine.
func (p *RealPublisher) PublishState(st medicine.State) error {
	payload, err := FormatState(st)
	if err != nil {
		return fmt.Errorf("format state: %w", err)
	}
	return p.publish(Message{Topic: p.opts.Topics.State(st.ID), Payload: payload, QoS: 1, Retained: true})
}

// PublishDiscovery announces every medicine to Home Assistant.
func (p *RealPublisher) PublishDiscovery(states []medicine.State) error {
	for _, st := range states {
		msgs, err := DiscoveryMessages(p.opts.Topics, st)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := p.publish(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveMedicine clears the retained topics of a medicine.
func (p *RealPublisher) RemoveMedicine(id string) error {
	for _, m := range RemovalMessages(p.opts.Topics, id) {
		if err := p.publish(m); err != nil {
			return err
		}
	}
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) - lifecycle events should be delivered
	return p.publish(Message{Topic: p.opts.Topics.System(), Payload: payload, QoS: 1, Retained: event.Retained})
}

// Subscribe registers the command and zone handlers. Subscriptions are
// renewed on every reconnect.
func (p *RealPublisher) Subscribe(h Handlers) error {
	p.mu.Lock()
	p.handlers = &h
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return nil
	}
	return p.subscribe(h)
}

func (p *RealPublisher) subscribe(h Handlers) error {
	filters := p.filters(h)
	if len(filters) == 0 {
		return nil
	}
	token := p.client.SubscribeMultiple(filters, func(_ paho.Client, msg paho.Message) {
		p.handleMessage(h, msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (p *RealPublisher) filters(h Handlers) map[string]byte {
	filters := make(map[string]byte)
	if h.OnCommand != nil {
		filters[p.opts.Topics.Command(medicine.ActionTake)] = 1
		filters[p.opts.Topics.Command(medicine.ActionReset)] = 1
	}
	if h.OnZone != nil {
		for _, t := range h.ZoneTopics {
			if t != "" {
				filters[t] = 1
			}
		}
	}
	return filters
}

// handleMessage routes one inbound message.
func (p *RealPublisher) handleMessage(h Handlers, topic string, payload []byte) {
	for _, action := range []medicine.Action{medicine.ActionTake, medicine.ActionReset} {
		if topic != p.opts.Topics.Command(action) {
			continue
		}
		cmd, err := ParseCommand(action, payload, h.Location)
		if err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("ignoring malformed command")
			return
		}
		if h.OnCommand != nil {
			h.OnCommand(cmd)
		}
		return
	}
	if h.OnZone != nil {
		h.OnZone(topic, string(payload), p.opts.Now())
	}
}

func (p *RealPublisher) publish(m Message) error {
	p.mu.Lock()
	if !p.connected {
		p.buffer.push(m)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(m.Topic, m.QoS, m.Retained, m.Payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	p.connected = true
	p.connects++
	reconnect := p.connects > 1
	pending := p.buffer.drainAll()
	h := p.handlers
	p.mu.Unlock()

	p.log.Info().Int("buffered", len(pending)).Bool("reconnect", reconnect).Msg("mqtt connected")

	if h != nil {
		if err := p.subscribe(*h); err != nil {
			p.log.Error().Err(err).Msg("resubscribe failed")
		}
	}
	for _, m := range pending {
		if err := p.publish(m); err != nil {
			p.log.Warn().Err(err).Str("topic", m.Topic).Msg("replay failed")
		}
	}
	if !reconnect {
		return
	}
	if err := p.PublishSystem(SystemEvent{Timestamp: p.opts.Now(), Event: "RECONNECTED"}); err != nil {
		p.log.Warn().Err(err).Msg("publish reconnected event")
	}
	if p.opts.OnReconnect != nil {
		p.opts.OnReconnect()
	}
}

func (p *RealPublisher) onConnectionLost(err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Warn().Err(err).Msg("mqtt connection lost")
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

var (
	_ Publisher        = (*RealPublisher)(nil)
	_ Subscriber       = (*RealPublisher)(nil)
	_ ConnectionStatus = (*RealPublisher)(nil)
)
