// Package emqc is an MQTT 3.1.1 client for long running devices and agents.
// It keeps one session with a broker alive, reconnecting and resending unacknowledged messages as needed.
package emqc

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/RoanBrand/emqc/internal/config"
	"github.com/RoanBrand/emqc/internal/model"
	"github.com/RoanBrand/emqc/internal/session"
	"github.com/RoanBrand/emqc/internal/transport"
	log "github.com/sirupsen/logrus"
)

// Message is a publication received from the broker.
type Message = model.Message

type QoS = model.QoS

const (
	AtMostOnce  = model.AtMostOnce
	AtLeastOnce = model.AtLeastOnce
	ExactlyOnce = model.ExactlyOnce
)

// Client is configured through the embedded Config, with LoadFromFile or directly, before first use.
// All methods are safe for concurrent use.
type Client struct {
	config.Config

	once    sync.Once
	initErr error

	mu   sync.Mutex
	e    *session.Engine
	sock *transport.Socket

	messages chan Message
	quit     chan struct{}
	quitOnce sync.Once
}

func (c *Client) setup() error {
	c.once.Do(func() {
		c.initErr = c.init()
	})
	return c.initErr
}

func (c *Client) init() error {
	c.quit = make(chan struct{})

	if err := c.Validate(); err != nil {
		return err
	}
	d, err := c.Dialer()
	if err != nil {
		return err
	}

	c.messages = make(chan Message, c.InboxSize)
	c.sock = transport.NewSocket(d, c.MaxMessageSize, c.TxBufferSize)
	c.e = session.New(c.sessionConfig(), c.sock, c.deliver)
	return nil
}

func (c *Client) sessionConfig() session.Config {
	sc := session.Config{
		ClientID:          c.ClientID,
		KeepAlive:         c.KeepAliveDuration(),
		CleanSession:      !c.PersistentSession,
		Username:          c.Username,
		Will:              c.Will.Message(),
		AckTimeout:        c.AckDuration(),
		ReconnectInterval: c.ReconnectDuration(),
		DisconnectTimeout: c.DisconnectDuration(),
		MaxOutgoing:       c.MaxOutgoing,
		MaxSubscriptions:  c.MaxSubscriptions,
		MaxIncoming:       c.MaxIncoming,
		MaxPacketSize:     c.TxBufferSize,
	}
	if c.Password != "" {
		sc.Password = []byte(c.Password)
	}
	return sc
}

// deliver runs on the event loop with mu held.
func (c *Client) deliver(m Message) {
	select {
	case c.messages <- m:
	default:
		log.WithFields(log.Fields{
			"ClientId": c.ClientID,
			"topic":    m.Topic,
		}).Warn("inbox full, dropping received message")
	}
}

// Messages yields every publication received from the broker.
func (c *Client) Messages() <-chan Message {
	if c.setup() != nil {
		return nil
	}
	return c.messages
}

// ConnectTo connects to the broker at address, ending any current session first.
// If autoReconnect is set, the connection is restored whenever it is lost.
func (c *Client) ConnectTo(address string, autoReconnect bool) error {
	if err := c.setup(); err != nil {
		return err
	}
	u, err := transport.ParseAddress(address)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.e.ConnectTo(time.Now(), u.String(), autoReconnect)
	c.mu.Unlock()
	return nil
}

// Disconnect ends the session gracefully and stops reconnecting.
func (c *Client) Disconnect() {
	if c.setup() != nil {
		return
	}
	c.mu.Lock()
	c.e.Disconnect(time.Now())
	c.mu.Unlock()
}

func (c *Client) IsConnected() bool {
	if c.setup() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.e.IsConnected()
}

// Publish queues a message for the broker. It returns false if the outgoing queue is full
// or the message is invalid. Messages are kept across reconnects until acknowledged.
func (c *Client) Publish(topic string, payload []byte, qos QoS, retain bool) bool {
	if c.setup() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.e.Publish(topic, payload, qos, retain)
}

// Subscribe requests a subscription. It stays active across reconnects.
func (c *Client) Subscribe(filter string, qos QoS) bool {
	if c.setup() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.e.Subscribe(filter, qos)
}

func (c *Client) Unsubscribe(filter string) bool {
	if c.setup() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.e.Unsubscribe(filter)
}

// Run services the connection until Shutdown is called.
// The broker configured in Config is connected to at start, if any.
func (c *Client) Run() error {
	if err := c.setup(); err != nil {
		return err
	}
	if err := c.setupLogging(); err != nil {
		return err
	}

	if c.Broker.Address != "" {
		if err := c.ConnectTo(c.Broker.Address, c.Reconnect()); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{
		"ClientId": c.ClientID,
		"address":  c.Broker.Address,
	}).Info("Starting MQTT client")

	tick := time.NewTicker(c.TickDuration())
	defer tick.Stop()

	var closing <-chan time.Time
	quit := c.quit
	for {
		select {
		case <-quit:
			quit = nil
			c.Disconnect()
			closing = time.After(c.DisconnectDuration() + c.TickDuration())
		case <-closing:
			c.sock.Close()
			return nil
		case now := <-tick.C:
			c.mu.Lock()
			c.e.Tick(now)
			c.mu.Unlock()
		case ev := <-c.sock.Events():
			c.handle(ev)
		}

		if quit == nil && c.idle() {
			c.sock.Close()
			log.WithField("ClientId", c.ClientID).Info("MQTT client stopped")
			return nil
		}
	}
}

func (c *Client) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.e.State() == session.Idle
}

func (c *Client) handle(ev transport.Event) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sock.Current(ev) {
		return
	}

	switch ev.Kind {
	case transport.Connected:
		c.e.ConnectionStatus(now, true)
	case transport.Disconnected:
		c.e.ConnectionStatus(now, false)
	case transport.TransmitEmpty:
		c.e.TransmitEmpty(now)
	case transport.Received:
		c.e.Receive(now, ev.Raw)
	case transport.FramingError:
		c.e.FramingError(now)
	}
}

// Shutdown disconnects from the broker and makes Run return.
func (c *Client) Shutdown() {
	c.setup()
	c.quitOnce.Do(func() {
		log.WithField("ClientId", c.ClientID).Info("Shutting down MQTT client")
		close(c.quit)
	})
}

func (c *Client) setupLogging() error {
	if c.Log.File != "" {
		f, err := os.OpenFile(c.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	if c.Log.Level != "" {
		switch strings.ToLower(c.Log.Level) {
		case "error":
			log.SetLevel(log.ErrorLevel)
		case "warn":
			log.SetLevel(log.WarnLevel)
		case "info":
			log.SetLevel(log.InfoLevel)
		case "debug":
			log.SetLevel(log.DebugLevel)
		default:
			return errors.New("unknown log level: " + c.Log.Level)
		}
	}

	return nil
}
