// Package relay implements the broadcast relay: a registry of connected
// sessions and the WebSocket server that feeds it.
//
// The relay has no notion of a sender. Every message read from any session is
// handed back to every registered session, the origin included; clients are
// responsible for recognising their own echoes.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.klb.dev/p2pboard/internal/message"
	"go.klb.dev/p2pboard/internal/obs"
)

// Peer is anything the registry can deliver messages to.
type Peer interface {
	ID() string
	// Send queues msg for delivery and reports whether it was accepted.
	// Must not block.
	Send(msg []byte) bool
}

// Registry is the set of live peers. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	mu    sync.Mutex
	peers map[Peer]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[Peer]struct{})}
}

// Add registers p.
func (r *Registry) Add(p Peer) {
	r.mu.Lock()
	r.peers[p] = struct{}{}
	total := len(r.peers)
	r.mu.Unlock()

	obs.Sessions.Set(float64(total))
	slog.Info("peer registered", "peer", p.ID(), "total", total)
}

// Remove deregisters p. Removing a peer that is not registered is a no-op.
func (r *Registry) Remove(p Peer) {
	r.mu.Lock()
	_, ok := r.peers[p]
	delete(r.peers, p)
	total := len(r.peers)
	r.mu.Unlock()

	if !ok {
		return
	}
	obs.Sessions.Set(float64(total))
	slog.Info("peer unregistered", "peer", p.ID(), "total", total)
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Broadcast hands msg to every registered peer and returns the number of
// send attempts. Empty and oversized messages are dropped and 0 is returned.
//
// Sends are issued under the registry lock but are non-blocking enqueues; the
// socket writes complete later on each peer's own writer, so a peer removed
// right after this call may still receive msg.
func (r *Registry) Broadcast(msg []byte) int {
	if err := message.Validate(msg); err != nil {
		if errors.Is(err, message.ErrEmpty) {
			obs.DroppedTotal.WithLabelValues("empty").Inc()
			slog.Debug("ignoring empty broadcast")
		} else {
			obs.DroppedTotal.WithLabelValues("too_large").Inc()
			slog.Warn("message too large, not broadcasting", "bytes", len(msg), "max", message.MaxSize)
		}
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	attempts := 0
	for p := range r.peers {
		attempts++
		if !p.Send(msg) {
			obs.SendFailuresTotal.WithLabelValues("enqueue").Inc()
			slog.Warn("send queue full, dropping message", "peer", p.ID(), "bytes", len(msg))
		}
	}

	obs.BroadcastsTotal.Inc()
	obs.DeliveriesTotal.Add(float64(attempts))
	obs.MessageBytes.Observe(float64(len(msg)))
	logContent("broadcasting clipboard content", msg, attempts)
	return attempts
}

// logContent logs a payload at INFO (byte length, recipients) and a short
// preview at DEBUG.
func logContent(event string, msg []byte, recipients int) {
	slog.Info(event, "bytes", len(msg), "recipients", recipients)
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("clipboard content", "preview", message.Preview(string(msg), 120))
}

// closeAll disconnects every registered session. Each session deregisters
// itself when its read loop observes the close.
func (r *Registry) closeAll() {
	r.mu.Lock()
	var sessions []*Session
	for p := range r.peers {
		if s, ok := p.(*Session); ok {
			sessions = append(sessions, s)
		}
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.goAway()
	}
}
