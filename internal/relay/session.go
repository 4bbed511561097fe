package relay

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go.klb.dev/p2pboard/internal/obs"
)

// Session wraps one upgraded WebSocket connection as a Peer.
//
// The session's read loop (Server.serveSession) owns it: it registers the
// session, and it alone deregisters it on exit. The registry only keeps the
// handle for dispatch.
type Session struct {
	id     string
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}

	writeTimeout time.Duration
}

func newSession(conn *websocket.Conn, queueSize int, writeTimeout time.Duration) *Session {
	return &Session{
		id:           uuid.NewString(),
		conn:         conn,
		sendCh:       make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (s *Session) ID() string { return s.id }

// Send implements Peer.
func (s *Session) Send(msg []byte) bool {
	select {
	case s.sendCh <- msg:
		return true
	default:
		return false
	}
}

// writeLoop drains sendCh until it is closed. Write failures are logged and
// the loop keeps draining; the read loop is responsible for tearing the
// session down.
func (s *Session) writeLoop() {
	defer close(s.done)
	log := slog.With("peer", s.id)
	for msg := range s.sendCh {
		if s.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			obs.SendFailuresTotal.WithLabelValues("write").Inc()
			log.Warn("send failed", "err", err, "bytes", len(msg))
		}
	}
}

// stop closes the send queue and waits for the writer to finish. Must only be
// called after the session has been removed from the registry.
func (s *Session) stop() {
	close(s.sendCh)
	<-s.done
}

// goAway tells the peer the relay is shutting down and closes the
// connection, which ends the session's read loop.
func (s *Session) goAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = s.conn.Close()
}
