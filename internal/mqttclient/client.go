package mqttclient

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/speaker"
)

const (
	queueSize      = 256
	publishTimeout = 5 * time.Second
)

// Client publishes gallery and identification events to an MQTT broker.
// It implements speaker.Notifier.
type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger

	events   chan speaker.Event
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := newClient(opts.TopicPrefix, opts.Log)

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	go c.run()
	return c, nil
}

func newClient(prefix string, log zerolog.Logger) *Client {
	return &Client{
		prefix:   strings.Trim(prefix, "/"),
		log:      log.With().Str("component", "mqtt").Logger(),
		events:   make(chan speaker.Event, queueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.prefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Notify queues an event for publishing. It never blocks; events are
// dropped when the queue is full or the client is closing.
func (c *Client) Notify(e speaker.Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- e:
	default:
		c.dropped.Add(1)
		c.log.Warn().Str("kind", e.Kind).Msg("mqtt event queue full, dropping event")
	}
}

func (c *Client) run() {
	defer close(c.finished)
	for {
		select {
		case e := <-c.events:
			c.publish(e)
		case <-c.done:
			// Drain what was queued before Close.
			for {
				select {
				case e := <-c.events:
					c.publish(e)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) publish(e speaker.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		c.log.Error().Err(err).Str("kind", e.Kind).Msg("encode event")
		return
	}
	topic := c.Topic(e)
	token := c.conn.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		c.log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
	}
}

// Topic returns {prefix}/events/{kind}, with the speaker id appended when
// the event concerns one speaker.
func (c *Client) Topic(e speaker.Event) string {
	parts := make([]string, 0, 4)
	if c.prefix != "" {
		parts = append(parts, c.prefix)
	}
	parts = append(parts, "events", e.Kind)
	if e.SpeakerID != "" {
		parts = append(parts, e.SpeakerID)
	}
	return strings.Join(parts, "/")
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Dropped returns how many events were discarded because the queue was full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.done)
		<-c.finished
		c.log.Info().Msg("disconnecting mqtt client")
		c.conn.Disconnect(1000)
	})
}
