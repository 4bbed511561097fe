package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/p2pboard/internal/channel"
	"go.klb.dev/p2pboard/internal/clip"
	"go.klb.dev/p2pboard/internal/detector"
)

const (
	reconnectDelay = time.Second
	maxReconnect   = 30 * time.Second
)

func newClientCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a relay and sync the local clipboard",
		Long: `Connects to a p2pboard relay and keeps the local text clipboard in sync
with every other connected client. Reconnects with back-off when the relay
goes away; the first connection attempt must succeed.

Precedence (lowest → highest): defaults → config file → P2PBOARD_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runClient(v) },
	}

	f := cmd.Flags()
	f.String("server", "ws://localhost:8080", "relay URL (ws:// or wss://)")
	f.String("backend", string(clip.KindAuto), "clipboard backend: auto|x11|wayland")
	f.Duration("interval", detector.DefaultInterval, "clipboard poll interval")
	f.Duration("echo-ttl", detector.DefaultEchoTTL, "how long our own updates are recognised when echoed back")
	f.String("user-agent", channel.DefaultUserAgent, "User-Agent sent during the handshake")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runClient(v *viper.Viper) error {
	setupLogging(v)

	serverURL := v.GetString("server")
	if _, err := channel.ParseURL(serverURL); err != nil {
		return err
	}
	kind, err := clip.ParseKind(v.GetString("backend"))
	if err != nil {
		return err
	}

	slog.Info("p2pboard client starting", "version", Version, "server", serverURL)

	backend, err := clip.Open(kind, os.Getenv)
	if err != nil {
		return fmt.Errorf("clipboard backend: %w", err)
	}
	defer backend.Close()
	slog.Info("clipboard backend", "name", backend.Name())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The engine is built after the channel, so the handler reaches it
	// through this variable; no message arrives before Connect returns.
	var engine *detector.Engine
	ch := channel.New(channel.Options{
		UserAgent: v.GetString("user-agent"),
		OnMessage: func(msg []byte) { engine.ApplyRemote(msg) },
	})
	engine = detector.New(backend, ch, detector.Options{
		Interval: v.GetDuration("interval"),
		EchoTTL:  v.GetDuration("echo-ttl"),
	})

	if err := ch.Connect(ctx, serverURL); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(ctx)
	}()

	supervise(ctx, ch, serverURL)
	ch.Disconnect()
	<-done
	slog.Info("p2pboard client stopped")
	return nil
}

// supervise reconnects ch with exponential back-off whenever the connection
// is lost, until ctx is done.
func supervise(ctx context.Context, ch *channel.Channel, serverURL string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch.Done():
		}

		delay := reconnectDelay
		for {
			slog.Warn("disconnected, reconnecting", "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			err := ch.Connect(ctx, serverURL)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			slog.Warn("reconnect failed", "err", err)
			if delay < maxReconnect {
				delay = min(delay*2, maxReconnect)
			}
		}
	}
}
