package mqtt

import (
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/gpio-hub/internal/device"
)

const (
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
)

// Config configures the broker connection.
type Config struct {
	Broker   string
	Prefix   string
	ClientID string
	Username string
	Password string
	// Buffer is how many messages are held while disconnected.
	Buffer int
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed in order on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    *logrus.Entry
	now    func() time.Time

	mu        sync.Mutex
	buffer    *ringBuffer
	handler   CommandHandler
	connected bool
	reconnect bool
}

// NewRealPublisher creates a publisher and starts connecting to the broker.
// It does not wait for the connection: the client keeps retrying and
// messages are buffered until it succeeds.
func NewRealPublisher(cfg Config, log *logrus.Entry) *RealPublisher {
	p := newPublisher(nil, cfg, log)

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID(cfg.ClientID, cfg.Prefix)).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topics.System(), string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	go func() {
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			p.log.WithError(token.Error()).Warn("initial connect failed, retrying")
		}
	}()
	return p
}

func newPublisher(client paho.Client, cfg Config, log *logrus.Entry) *RealPublisher {
	return &RealPublisher{
		client: client,
		topics: Topics{Prefix: cfg.Prefix},
		log:    log,
		now:    time.Now,
		buffer: newRingBuffer(cfg.Buffer, log),
	}
}

// clientID suffixes the configured id so two daemons never share a session.
func clientID(base, prefix string) string {
	if base == "" {
		base = strings.ReplaceAll(prefix, "/", "-")
	}
	return base + "-" + uuid.New().String()[:8]
}

// PublishState sends a device's state, retained, at QoS 1.
func (p *RealPublisher) PublishState(st device.State) error {
	payload, err := FormatState(st, p.now())
	if err != nil {
		return errors.Wrap(err, "format state")
	}
	return p.publish(p.topics.State(st.ID), 1, true, payload)
}

// PublishSystem sends a system lifecycle event at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return errors.Wrap(err, "format system payload")
	}
	return p.publish(p.topics.System(), 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}
	return nil
}

// Subscribe registers the command handler. The subscription is made now if
// connected and renewed on every reconnect.
func (p *RealPublisher) Subscribe(handler CommandHandler) error {
	p.mu.Lock()
	p.handler = handler
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return nil
	}
	return p.subscribe()
}

func (p *RealPublisher) subscribe() error {
	token := p.client.Subscribe(p.topics.Commands(), 1, p.onMessage)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("subscribe: timeout")
	}
	return errors.Wrap(token.Error(), "subscribe")
}

func (p *RealPublisher) onMessage(_ paho.Client, msg paho.Message) {
	id, ok := p.topics.ParseSet(msg.Topic())
	if !ok {
		p.log.WithField("topic", msg.Topic()).Debug("ignoring message")
		return
	}
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return
	}
	h(Command{ID: id, Action: strings.TrimSpace(string(msg.Payload()))})
}

// onConnect renews the subscription and replays what was buffered.
func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	p.connected = true
	pending := p.buffer.drainAll()
	reconnect := p.reconnect
	p.reconnect = true
	subscribed := p.handler != nil
	p.mu.Unlock()

	p.log.WithField("buffered", len(pending)).Info("connected to broker")
	if subscribed {
		if err := p.subscribe(); err != nil {
			p.log.WithError(err).Error("command subscription failed")
		}
	}
	for _, m := range pending {
		if err := p.publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			p.log.WithError(err).WithField("topic", m.topic).Warn("replay failed")
		}
	}
	if reconnect {
		err := p.PublishSystem(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED", Retained: true})
		if err != nil {
			p.log.WithError(err).Warn("publish reconnected event failed")
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.WithError(err).Warn("connection to broker lost, buffering")
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
