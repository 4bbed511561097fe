// Package localpeer implements the relay.Peer that owns the server's system clipboard.
package localpeer

import (
	"context"
	"log/slog"

	"go.klb.dev/p2pboard/internal/clip"
	"go.klb.dev/p2pboard/internal/detector"
	"go.klb.dev/p2pboard/internal/message"
	"go.klb.dev/p2pboard/internal/relay"
)

const peerID = "local"

// Peer joins the relay registry like any remote session. Local changes are
// broadcast to every session; broadcasts are applied to the clipboard.
type Peer struct {
	reg    *relay.Registry
	engine *detector.Engine
	inbox  chan []byte
	fwd    relay.Forwarder
}

// New creates the local peer but does not start it.
func New(reg *relay.Registry, backend clip.Backend, opts detector.Options) *Peer {
	p := &Peer{
		reg:   reg,
		inbox: make(chan []byte, 64),
	}
	p.engine = detector.New(backend, detector.SenderFunc(p.publish), opts)
	return p
}

func (p *Peer) ID() string { return peerID }

// SetForwarder hands local changes to f as well, so federated relays see
// them. Call before Run.
func (p *Peer) SetForwarder(f relay.Forwarder) { p.fwd = f }

// Send implements relay.Peer. It never blocks the broadcaster.
func (p *Peer) Send(msg []byte) bool {
	select {
	case p.inbox <- msg:
		return true
	default:
		slog.Warn("local peer inbox full, dropping")
		return false
	}
}

func (p *Peer) publish(msg []byte) error {
	if err := message.Validate(msg); err != nil {
		return err
	}
	p.reg.Broadcast(msg)
	if p.fwd != nil {
		p.fwd.Forward(msg)
	}
	return nil
}

// Run registers with the registry and runs the apply and watch loops until
// ctx is done.
func (p *Peer) Run(ctx context.Context) {
	p.reg.Add(p)
	defer p.reg.Remove(p)

	slog.Info("local clipboard peer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-p.inbox:
				p.engine.ApplyRemote(msg)
			}
		}
	}()

	p.engine.Run(ctx)
}
