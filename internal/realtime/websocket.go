package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// CloseAuthRejected is the close code the server sends for bad credentials.
const CloseAuthRejected = 4401

// WebSocketDialer dials the realtime endpoint with gorilla/websocket.
type WebSocketDialer struct {
	URL string
	// Token supplies the current bearer token on each dial.
	Token func() string

	once   sync.Once
	dialer *websocket.Dialer
}

// WebSocketURL derives the ws(s) endpoint from an http(s) server URL.
func WebSocketURL(serverURL, path string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// Dial opens a connection. A 401 or 403 handshake wraps ErrAuthRejected.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	d.once.Do(func() {
		d.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultConnectTimeout,
		}
	})

	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse realtime URL: %w", err)
	}
	header := http.Header{}
	if d.Token != nil {
		if tok := d.Token(); tok != "" {
			q := u.Query()
			q.Set("token", tok)
			u.RawQuery = q.Encode()
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	ws, resp, err := d.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial realtime channel: %w", err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadEvent() (Event, error) {
	var ev Event
	if err := c.ws.ReadJSON(&ev); err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == CloseAuthRejected {
			return Event{}, fmt.Errorf("%w: %s", ErrAuthRejected, ce.Text)
		}
		return Event{}, err
	}
	return ev, nil
}

func (c *wsConn) WriteEvent(ev Event) error {
	return c.ws.WriteJSON(ev)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
