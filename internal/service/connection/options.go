package connection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Conn is the subset of *websocket.Conn the manager drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a transport to a fully built chat URL.
type Dialer interface {
	DialContext(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// DialContext implements Dialer.
func (d WebsocketDialer) DialContext(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// Options tune the reconnect policy and keep-alive of a Manager.
type Options struct {
	ReconnectDelay       time.Duration // fixed delay between redials
	MaxReconnectAttempts int           // redials allowed after a failure before giving up
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	PingInterval         time.Duration // zero disables pings
	PongWait             time.Duration // zero disables the read deadline
	Header               http.Header
	Dialer               Dialer
	Logger               *zerolog.Logger
}

// DefaultOptions mirrors the backend's expectations: 3s between redials and
// at most five of them.
func DefaultOptions() Options {
	return Options{
		ReconnectDelay:       3 * time.Second,
		MaxReconnectAttempts: 5,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		PingInterval:         30 * time.Second,
		PongWait:             75 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = def.ReconnectDelay
	}
	if o.MaxReconnectAttempts < 0 {
		o.MaxReconnectAttempts = 0
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.PingInterval > 0 && o.PongWait > 0 && o.PongWait <= o.PingInterval {
		o.PongWait = o.PingInterval * 5 / 2
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{HandshakeTimeout: o.HandshakeTimeout}
	}
	return o
}

// BuildURL appends the session id as the id query parameter, keeping any
// query the endpoint already carries.
func BuildURL(endpoint, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrSessionRequired
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidEndpoint, endpoint)
	}

	q := u.Query()
	q.Set("id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
