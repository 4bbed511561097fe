package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"go.klb.dev/p2pboard/internal/message"
	"go.klb.dev/p2pboard/internal/obs"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultQueueSize        = 64

	// readLimit guards memory against runaway frames. Payloads between
	// message.MaxSize and readLimit are read and then dropped by Broadcast;
	// anything larger closes the session.
	readLimit = 16 * 1024 * 1024
)

// Config tunes per-session behaviour. Zero values select the defaults.
type Config struct {
	// HandshakeTimeout bounds the WebSocket upgrade and the HTTP request
	// header read.
	HandshakeTimeout time.Duration
	// IdleTimeout closes a session that sends nothing for this long.
	// Zero disables it; a silent peer then holds its session indefinitely.
	IdleTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// QueueSize is the per-session outbound buffer.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Forwarder receives every valid message read from a local session, in
// addition to the local broadcast. The federation bridge implements it.
type Forwarder interface {
	Forward(msg []byte)
}

// Server upgrades HTTP requests to WebSocket sessions and relays their
// messages through a Registry.
type Server struct {
	cfg      Config
	reg      *Registry
	upgrader websocket.Upgrader
	forward  Forwarder
}

// New returns a Server feeding reg.
func New(reg *Registry, cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg: cfg,
		reg: reg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   8192,
			WriteBufferSize:  8192,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

// SetForwarder installs f. Must be called before serving.
func (s *Server) SetForwarder(f Forwarder) { s.forward = f }

// Registry returns the registry the server feeds.
func (s *Server) Registry() *Registry { return s.reg }

// ServeHTTP performs the upgrade and runs the session until it closes.
// A failed upgrade drops the connection without registering anything.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		obs.HandshakeFailures.Inc()
		slog.Debug("handshake failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	s.serveSession(conn)
}

// serveSession registers the session, reads until the first error and then
// deregisters it. Messages from one session are broadcast in the order read.
func (s *Server) serveSession(conn *websocket.Conn) {
	sess := newSession(conn, s.cfg.QueueSize, s.cfg.WriteTimeout)
	log := slog.With("peer", sess.id, "remote", conn.RemoteAddr().String())
	conn.SetReadLimit(readLimit)

	go sess.writeLoop()
	s.reg.Add(sess)
	defer func() {
		s.reg.Remove(sess)
		_ = conn.Close()
		sess.stop()
	}()

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				log.Info("session closed by peer")
			case errors.Is(err, websocket.ErrReadLimit):
				log.Warn("frame exceeds read limit, closing session", "limit", readLimit)
			default:
				log.Info("session read failed", "err", err)
			}
			return
		}

		log.Debug("message received", "bytes", len(msg))
		s.reg.Broadcast(msg)
		if s.forward != nil && message.Validate(msg) == nil {
			s.forward.Forward(msg)
		}
	}
}
