package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
)

func (d *Dialer) dialWebSocket(ctx context.Context, u *url.URL) (net.Conn, error) {
	wd := websocket.Dialer{
		Subprotocols:     []string{"mqtt"}, // [MQTT-6.0.0-4]
		HandshakeTimeout: d.opts.Timeout,
		NetDial: func(network, addr string) (net.Conn, error) {
			return d.dialTCP(ctx, addr)
		},
	}
	if u.Scheme == "wss" {
		wd.TLSClientConfig = d.tlsConfig(u.Hostname())
	}

	conn, resp, err := wd.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "websocket dial %s", u)
	}
	if conn.Subprotocol() != "mqtt" {
		conn.Close()
		return nil, pkgerrors.Errorf("broker at %s did not accept websocket sub protocol 'mqtt'", u)
	}
	return &wsConn{Conn: conn}, nil
}

// wsConn is a stream over binary websocket messages.
// MQTT packets may span or share messages.
type wsConn struct {
	*websocket.Conn
	r io.Reader
}

func (c *wsConn) Write(p []byte) (int, error) {
	err := c.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			var err error
			var mt int
			if mt, c.r, err = c.NextReader(); err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage { // [MQTT-6.0.0-1]
				return 0, errors.New("not binary message")
			}
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetWriteDeadline(t); err != nil {
		return err
	}
	return c.SetReadDeadline(t)
}
