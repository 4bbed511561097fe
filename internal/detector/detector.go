// Package detector reconciles the local clipboard with remote updates.
//
// An Engine drives two independent cadences over one shared snapshot:
//
//   - outbound: poll the backend and send content that differs from the
//     snapshot;
//   - inbound: apply content received from the relay to the backend and
//     record it in the snapshot so the next poll does not resend it.
//
// The relay sends every update back to its origin as well. Each echo of
// content this engine sent is recognised once by fingerprint and never
// rewritten to the backend; echoes that do not arrive within the echo TTL
// are forgotten.
package detector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/p2pboard/internal/clip"
	"go.klb.dev/p2pboard/internal/message"
)

const (
	DefaultInterval = time.Second
	DefaultEchoTTL  = 10 * time.Second
)

// Sender delivers a local change to the other peers.
type Sender interface {
	Send(msg []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msg []byte) error

func (f SenderFunc) Send(msg []byte) error { return f(msg) }

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	EchoTTL  time.Duration
}

// Engine is the change detector for one clipboard.
type Engine struct {
	backend  clip.Backend
	sender   Sender
	interval time.Duration
	recent   *recentSet

	// mu serializes polls and remote applies. known is false until the
	// first value has been observed or applied; the empty string is never a
	// payload.
	mu       sync.Mutex
	snapshot string
	known    bool
}

// New returns an Engine reading and writing backend and sending through s.
func New(backend clip.Backend, s Sender, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.EchoTTL <= 0 {
		opts.EchoTTL = DefaultEchoTTL
	}
	return &Engine{
		backend:  backend,
		sender:   s,
		interval: opts.Interval,
		recent:   newRecentSet(opts.EchoTTL),
	}
}

// Snapshot returns the last known clipboard value and whether one exists.
func (e *Engine) Snapshot() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot, e.known
}

// Run polls the backend every interval, and on every change notification if
// the backend provides them, until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	var changes <-chan struct{}
	if n, ok := e.backend.(clip.Notifier); ok {
		changes = n.Changes(ctx)
	}

	t := time.NewTicker(e.interval)
	defer t.Stop()

	e.Poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Poll()
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			e.Poll()
		}
	}
}

// Poll reads the backend once and sends the content if it changed. It
// reports whether anything was sent.
//
// A failed send leaves the snapshot untouched so the change is retried on
// the next poll. Oversized content is adopted into the snapshot instead: it
// would be rejected again on every retry.
func (e *Engine) Poll() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	text, err := e.backend.Read()
	if err != nil {
		slog.Debug("clipboard read failed", "backend", e.backend.Name(), "err", err)
		return false
	}
	if text == "" || (e.known && text == e.snapshot) {
		return false
	}

	if err := e.sender.Send([]byte(text)); err != nil {
		if errors.Is(err, message.ErrTooLarge) {
			slog.Warn("local clipboard too large to sync", "bytes", len(text), "max", message.MaxSize)
			e.snapshot, e.known = text, true
			return false
		}
		slog.Debug("send failed, will retry", "bytes", len(text), "err", err)
		return false
	}

	e.snapshot, e.known = text, true
	e.recent.add(text)
	slog.Info("local clipboard changed, sent", "bytes", len(text))
	slog.Debug("clipboard content", "preview", message.Preview(text, 120))
	return true
}

// ApplyRemote writes content received from the relay to the backend unless
// it is an echo of our own update or already the snapshot. It reports whether
// the backend was written.
//
// Each echo is recognised once. Writing content from another peer forgets all
// pending echoes: anything of ours the relay delivers after that was ordered
// after the other peer's update and wins, as it does on every other peer.
func (e *Engine) ApplyRemote(msg []byte) bool {
	if len(msg) == 0 {
		return false
	}
	text := string(msg)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.recent.take(text) {
		slog.Debug("ignoring echo of own update", "bytes", len(text))
		return false
	}
	if e.known && text == e.snapshot {
		slog.Debug("remote content matches snapshot, skipping", "bytes", len(text))
		return false
	}
	if err := e.backend.Write(text); err != nil {
		slog.Error("clipboard write failed", "backend", e.backend.Name(), "bytes", len(text), "err", err)
		return false
	}
	e.recent.reset()
	e.snapshot, e.known = text, true
	slog.Info("clipboard updated from remote", "bytes", len(text))
	return true
}
