// Package channel implements the client side of the duplex connection to the
// relay: one WebSocket carrying raw clipboard text in both directions.
//
// A Channel is reusable. After the connection is lost (Done is closed and
// State reports Disconnected) the owner may call Connect again; the channel
// never reconnects on its own.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"go.klb.dev/p2pboard/internal/message"
)

const (
	DefaultUserAgent        = "P2PBoard-Client/1.0"
	defaultHandshakeTimeout = 30 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	closeGrace              = time.Second
)

var (
	ErrNotConnected     = errors.New("channel: not connected")
	ErrAlreadyConnected = errors.New("channel: already connected")
)

// State is the connection state of a Channel.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configures a Channel. Zero values select the defaults.
type Options struct {
	UserAgent        string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// OnMessage is called from the receive goroutine for every inbound
	// message, one at a time.
	OnMessage func(msg []byte)
}

// Channel is one client connection to the relay.
type Channel struct {
	opts   Options
	dialer *websocket.Dialer
	state  atomic.Int32

	// mu guards conn and lost. lost is closed when the receive loop of the
	// current connection exits.
	mu   sync.Mutex
	conn *websocket.Conn
	lost chan struct{}

	// dialCancel and dialDone are set while Connect is dialing.
	dialCancel context.CancelFunc
	dialDone   chan struct{}

	// writeMu serializes data frames; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// New returns a disconnected Channel.
func New(opts Options) *Channel {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	lost := make(chan struct{})
	close(lost)
	return &Channel{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		lost: lost,
	}
}

// State returns the current connection state.
func (c *Channel) State() State { return State(c.state.Load()) }

// Done returns a channel that is closed when the current connection's
// receive loop stops. Before the first successful Connect it is already
// closed.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

// ParseURL parses a relay address of the form scheme://host[:port][/path].
// The scheme must be ws or wss; a missing port defaults to 80 or 443.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url %q: %w", raw, err)
	}
	var defaultPort string
	switch u.Scheme {
	case "ws":
		defaultPort = "80"
	case "wss":
		defaultPort = "443"
	default:
		return nil, fmt.Errorf("invalid relay url %q: scheme must be ws or wss", raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid relay url %q: missing host", raw)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), defaultPort)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// Connect dials the relay and performs the WebSocket upgrade. On success the
// receive loop is started; on failure nothing is left running. A concurrent
// Disconnect aborts the dial.
func (c *Channel) Connect(ctx context.Context, rawURL string) error {
	u, err := ParseURL(rawURL)
	if err != nil {
		return err
	}
	if !c.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return ErrAlreadyConnected
	}

	dctx, cancel := context.WithCancel(ctx)
	dialDone := make(chan struct{})
	c.mu.Lock()
	c.dialCancel, c.dialDone = cancel, dialDone
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.dialCancel, c.dialDone = nil, nil
		c.mu.Unlock()
		close(dialDone)
	}()

	conn, err := c.dial(dctx, u)
	if err != nil {
		c.state.Store(int32(Disconnected))
		return fmt.Errorf("connect %s: %w", u.Redacted(), err)
	}
	conn.SetReadLimit(message.MaxSize)

	lost := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.lost = lost
	c.mu.Unlock()
	c.state.Store(int32(Connected))

	slog.Info("connected to relay", "url", u.Redacted())
	go c.receiveLoop(conn, lost)
	return nil
}

// dial performs the upgrade. Cancelling ctx closes the socket at any stage of
// the handshake, so the dial returns promptly.
func (c *Channel) dial(ctx context.Context, u *url.URL) (*websocket.Conn, error) {
	var (
		rawMu   sync.Mutex
		raw     net.Conn
		aborted bool
	)
	d := *c.dialer
	d.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		nc, err := (&net.Dialer{}).DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		rawMu.Lock()
		defer rawMu.Unlock()
		if aborted {
			_ = nc.Close()
			return nil, context.Canceled
		}
		raw = nc
		return nc, nil
	}
	stop := context.AfterFunc(ctx, func() {
		rawMu.Lock()
		defer rawMu.Unlock()
		aborted = true
		if raw != nil {
			_ = raw.Close()
		}
	})

	// The dialer fills in Host, Connection and Upgrade.
	hdr := http.Header{}
	hdr.Set("User-Agent", c.opts.UserAgent)
	conn, resp, err := d.DialContext(ctx, u.String(), hdr)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if !stop() && err == nil {
		// Aborted after the handshake completed; the socket is already closed.
		_ = conn.Close()
		return nil, context.Cause(ctx)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// receiveLoop hands inbound messages to OnMessage until the first read
// error, then marks the channel disconnected.
func (c *Channel) receiveLoop(conn *websocket.Conn, lost chan struct{}) {
	defer close(lost)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.State() != Closing {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("relay closed connection", "err", err)
				} else {
					slog.Warn("receive failed", "err", err)
				}
			}
			c.drop(conn)
			return
		}
		slog.Debug("message received", "bytes", len(msg))
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(msg)
		}
	}
}

// drop closes conn and, if it is still the current connection, marks the
// channel disconnected.
func (c *Channel) drop(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	if c.State() != Closing {
		c.state.Store(int32(Disconnected))
	}
}

// Send writes msg as one text frame. Empty and oversized payloads are
// rejected before anything touches the transport. A write error marks the
// channel disconnected so later calls fail fast with ErrNotConnected.
func (c *Channel) Send(msg []byte) error {
	if err := message.Validate(msg); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || c.State() != Connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err := conn.WriteMessage(websocket.TextMessage, msg)
	c.writeMu.Unlock()
	if err != nil {
		slog.Warn("send failed, marking disconnected", "bytes", len(msg), "err", err)
		c.drop(conn)
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Disconnect sends a normal-closure frame, closes the connection and waits
// for the receive loop to exit. A Connect in progress is aborted and waited
// for first. It is safe to call when not connected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if cancel, done := c.dialCancel, c.dialDone; cancel != nil {
		c.mu.Unlock()
		cancel()
		<-done
		c.mu.Lock()
	}
	conn, lost := c.conn, c.lost
	if conn == nil {
		c.mu.Unlock()
		<-lost
		return
	}
	c.state.Store(int32(Closing))
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil {
		slog.Warn("close frame failed", "err", err)
	}
	// Give the relay a moment to answer the close handshake before the
	// socket is torn down underneath the receive loop.
	select {
	case <-lost:
	case <-time.After(closeGrace):
		_ = conn.Close()
		<-lost
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.state.Store(int32(Disconnected))
	slog.Info("disconnected from relay")
}
