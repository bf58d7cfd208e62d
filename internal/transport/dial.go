package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

var defaultPorts = map[string]string{
	"tcp": "1883",
	"tls": "8883",
	"ssl": "8883",
	"ws":  "80",
	"wss": "443",
}

// ParseAddress accepts tcp://, tls:// (or ssl://), ws:// and wss:// broker addresses.
// A bare host[:port] is tcp. The scheme's default port is filled in if missing.
func ParseAddress(address string) (*url.URL, error) {
	if !strings.Contains(address, "://") {
		address = "tcp://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid broker address %q", address)
	}

	port, ok := defaultPorts[u.Scheme]
	if !ok {
		return nil, errors.Errorf("unsupported broker address scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.Errorf("broker address %q has no host", address)
	}
	if u.Scheme == "ssl" {
		u.Scheme = "tls"
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}
	return u, nil
}

type Options struct {
	TLS     *tls.Config // used for tls:// and wss://
	Proxy   string      // socks5://[user:pass@]host:port
	Timeout time.Duration
}

// Dialer opens the byte stream to a broker.
type Dialer struct {
	opts  Options
	proxy proxy.Dialer
}

func NewDialer(opts Options) (*Dialer, error) {
	d := Dialer{opts: opts}
	if opts.Proxy == "" {
		return &d, nil
	}

	u, err := url.Parse(opts.Proxy)
	if err != nil {
		return nil, errors.Wrap(err, "invalid proxy address")
	}
	if u.Scheme != "socks5" {
		return nil, errors.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), "1080")
	}

	d.proxy, err = proxy.FromURL(u, &net.Dialer{Timeout: opts.Timeout})
	if err != nil {
		return nil, errors.Wrap(err, "could not create SOCKS5 dialer")
	}
	return &d, nil
}

func (d *Dialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	u, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "tcp":
		return d.dialTCP(ctx, u.Host)
	case "tls":
		conn, err := d.dialTCP(ctx, u.Host)
		if err != nil {
			return nil, err
		}
		tc := tls.Client(conn, d.tlsConfig(u.Hostname()))
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "TLS handshake with %s", u.Host)
		}
		return tc, nil
	default:
		return d.dialWebSocket(ctx, u)
	}
}

func (d *Dialer) tlsConfig(host string) *tls.Config {
	var c *tls.Config
	if d.opts.TLS != nil {
		c = d.opts.TLS.Clone()
	} else {
		c = &tls.Config{}
	}
	if c.ServerName == "" {
		c.ServerName = host
	}
	return c
}

func (d *Dialer) dialTCP(ctx context.Context, host string) (net.Conn, error) {
	if d.proxy == nil {
		nd := net.Dialer{Timeout: d.opts.Timeout}
		conn, err := nd.DialContext(ctx, "tcp", host)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", host)
		}
		return conn, nil
	}

	// proxy.Dialer has no context, give up waiting on cancel.
	type result struct {
		conn net.Conn
		err  error
	}
	res := make(chan result, 1)
	go func() {
		conn, err := d.proxy.Dial("tcp", host)
		res <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-res; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-res:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "dial %s through SOCKS5 proxy", host)
		}
		return r.conn, nil
	}
}

// LoadTLS builds a client TLS configuration. All files are optional.
func LoadTLS(caFile, certFile, keyFile string, insecure bool) (*tls.Config, error) {
	c := tls.Config{InsecureSkipVerify: insecure}

	if caFile != "" {
		pem, err := ioutil.ReadFile(caFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading CA file")
		}
		c.RootCAs = x509.NewCertPool()
		if !c.RootCAs.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", caFile)
		}
	}

	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, errors.Wrap(err, "loading client certificate")
		}
		c.Certificates = []tls.Certificate{cert}
	}
	return &c, nil
}
