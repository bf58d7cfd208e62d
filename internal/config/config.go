package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/RoanBrand/emqc/internal/model"
	"github.com/RoanBrand/emqc/internal/transport"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Generated once, so reconnects within the process resume the same session.
var defaultClientID = "emqc-" + uuid.New().String()

type Config struct {
	Broker struct {
		// Address of the broker: tcp://, tls:// (ssl://), ws:// or wss://, followed by host[:port][/path].
		// A bare host[:port] is TCP. The default port of the scheme is used if none is given.
		// If empty, the client does not connect until told to.
		Address string `json:"address"`

		// Proxy optionally specifies a SOCKS5 proxy, socks5://[user:pass@]host:port.
		Proxy string `json:"proxy"`

		TLS struct {
			CA                 string `json:"ca"`
			Cert               string `json:"cert"`
			Key                string `json:"key"`
			InsecureSkipVerify bool   `json:"insecure_skip_verify"`
		} `json:"tls"`
	} `json:"broker"`

	// Default is emqc- followed by a random UUID.
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Will     *Will  `json:"will"`

	// Keep Alive in s. Default 60s. Set to -1 to disable.
	KeepAlive int64 `json:"keep_alive"`

	// Ask the broker to keep the session between connections. Default is a clean session.
	PersistentSession bool `json:"persistent_session"`

	// Reconnect after the connection is lost. Default true.
	AutoReconnect *bool `json:"auto_reconnect"`

	// In s. Defaults 5s, 10s and 2s.
	ReconnectInterval int64 `json:"reconnect_interval"`
	AckTimeout        int64 `json:"ack_timeout"`
	DisconnectTimeout int64 `json:"disconnect_timeout"`

	// How often timers are checked, in ms. Default 50ms.
	TickInterval int64 `json:"tick_interval"`

	// Largest packet remaining length accepted from the broker. Default 4096.
	MaxMessageSize int `json:"max_message_size"`
	// Queued outbound publications. Default 10.
	MaxOutgoing int `json:"max_outgoing"`
	// Pending subscribe and unsubscribe requests, each. Default 10.
	MaxSubscriptions int `json:"max_subscriptions"`
	// Inbound QoS 2 messages waiting for PUBREL. Default 10.
	MaxIncoming int `json:"max_incoming"`
	// Transmit buffer size in bytes. Default 8192.
	TxBufferSize int `json:"tx_buffer_size"`
	// Received messages buffered for the application. Default 32.
	InboxSize int `json:"inbox_size"`

	// Log configures optional log output file as well as the log level setting.
	Log struct {
		File  string `json:"file"`
		Level string `json:"level"`
	} `json:"log"`

	// Used by the agent only.
	Subscriptions []Subscription `json:"subscriptions"`

	Store struct {
		Dir string `json:"dir"`
	} `json:"store"`
	Console bool `json:"console"`
}

type Will struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	QoS     uint8  `json:"qos"`
	Retain  bool   `json:"retain"`
}

type Subscription struct {
	Topic string `json:"topic"`
	QoS   uint8  `json:"qos"`
}

func (c *Config) LoadFromFile(fPath string) error {
	f, err := os.Open(fPath)
	if err != nil {
		return errors.Wrap(err, "error opening config file")
	}

	defer f.Close()

	if err = json.NewDecoder(f).Decode(c); err != nil {
		return errors.Wrap(err, "error reading config file")
	}

	return c.Validate()
}

// Validate checks the configuration and fills in defaults. It may be called more than once.
func (c *Config) Validate() error {
	if c.Broker.Address != "" {
		u, err := transport.ParseAddress(c.Broker.Address)
		if err != nil {
			return err
		}
		c.Broker.Address = u.String()
	}
	if c.Broker.Proxy != "" && !strings.HasPrefix(c.Broker.Proxy, "socks5://") {
		return errors.Errorf("invalid proxy %q, only socks5:// is supported", c.Broker.Proxy)
	}
	if (c.Broker.TLS.Cert == "") != (c.Broker.TLS.Key == "") {
		return errors.New("invalid TLS client certificate and/or private key file path setup")
	}

	if c.ClientID == "" {
		c.ClientID = defaultClientID
	}
	if c.Password != "" && c.Username == "" {
		return errors.New("password set without username")
	}
	if c.Will != nil {
		if err := c.Will.validate(); err != nil {
			return err
		}
	}

	if c.KeepAlive == 0 {
		c.KeepAlive = 60
	} else if c.KeepAlive > 65535 {
		return errors.Errorf("keep alive %ds too large", c.KeepAlive)
	}
	if c.AutoReconnect == nil {
		auto := true
		c.AutoReconnect = &auto
	}

	defaultInt64(&c.ReconnectInterval, 5)
	defaultInt64(&c.AckTimeout, 10)
	defaultInt64(&c.DisconnectTimeout, 2)
	defaultInt64(&c.TickInterval, 50)

	defaultInt(&c.MaxMessageSize, 4096)
	defaultInt(&c.MaxOutgoing, 10)
	defaultInt(&c.MaxSubscriptions, 10)
	defaultInt(&c.MaxIncoming, 10)
	defaultInt(&c.TxBufferSize, 8192)
	defaultInt(&c.InboxSize, 32)
	if c.MaxMessageSize > model.MaxRemainingLength {
		return errors.New("max message size larger than MQTT allows")
	}

	for _, s := range c.Subscriptions {
		if !model.QoS(s.QoS).Valid() {
			return errors.Errorf("invalid QoS %d for subscription %q", s.QoS, s.Topic)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "error", "warn", "info", "debug":
	default:
		return errors.New("unknown log level: " + c.Log.Level)
	}

	return nil
}

func (w *Will) validate() error {
	if w.Topic == "" {
		return errors.New("will topic missing")
	}
	if !model.QoS(w.QoS).Valid() {
		return errors.Errorf("invalid will QoS %d", w.QoS)
	}
	return nil
}

// Message returns the Will as sent in CONNECT, or nil.
func (w *Will) Message() *model.Message {
	if w == nil {
		return nil
	}
	return &model.Message{Topic: w.Topic, Payload: []byte(w.Payload), QoS: model.QoS(w.QoS), Retain: w.Retain}
}

func defaultInt64(v *int64, d int64) {
	if *v <= 0 {
		*v = d
	}
}

func defaultInt(v *int, d int) {
	if *v <= 0 {
		*v = d
	}
}

func seconds(s int64) time.Duration {
	if s < 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

// KeepAliveDuration is 0 when keep alive is disabled.
func (c *Config) KeepAliveDuration() time.Duration {
	return seconds(c.KeepAlive)
}

func (c *Config) Reconnect() bool {
	return c.AutoReconnect == nil || *c.AutoReconnect
}

func (c *Config) ReconnectDuration() time.Duration {
	return seconds(c.ReconnectInterval)
}

func (c *Config) AckDuration() time.Duration {
	return seconds(c.AckTimeout)
}

func (c *Config) DisconnectDuration() time.Duration {
	return seconds(c.DisconnectTimeout)
}

func (c *Config) TickDuration() time.Duration {
	return time.Duration(c.TickInterval) * time.Millisecond
}

// Dialer builds the transport dialer for the broker TLS and proxy settings.
func (c *Config) Dialer() (*transport.Dialer, error) {
	opts := transport.Options{Proxy: c.Broker.Proxy, Timeout: c.AckDuration()}

	t := &c.Broker.TLS
	if t.CA != "" || t.Cert != "" || t.InsecureSkipVerify {
		var err error
		if opts.TLS, err = transport.LoadTLS(t.CA, t.Cert, t.Key, t.InsecureSkipVerify); err != nil {
			return nil, err
		}
	}
	return transport.NewDialer(opts)
}
