package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"go.klb.dev/p2pboard/internal/clip"
	"go.klb.dev/p2pboard/internal/detector"
	"go.klb.dev/p2pboard/internal/federation"
	"go.klb.dev/p2pboard/internal/grpcservice"
	"go.klb.dev/p2pboard/internal/localpeer"
	"go.klb.dev/p2pboard/internal/relay"
)

const defaultPort = 8080

func newServerCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server [port]",
		Short: "Run the broadcast relay",
		Long: `Starts the relay. Every text message received from a connected client
is sent to all connected clients, the sender included.

The same port serves the WebSocket endpoint, /metrics, /healthz and the
gRPC status service used by "p2pboard status".

Precedence (lowest → highest): defaults → config file → P2PBOARD_* env vars → flags`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runServer(v, args) },
	}

	f := cmd.Flags()
	f.Int("port", defaultPort, "TCP port to listen on (the positional argument wins)")
	f.String("bind", "0.0.0.0", "address to bind")
	f.Duration("handshake-timeout", 10*time.Second, "WebSocket upgrade timeout")
	f.Duration("idle-timeout", 0, "close sessions silent for this long (0 = never)")
	f.Bool("local-clipboard", false, "also sync this host's clipboard")
	f.String("backend", string(clip.KindAuto), "clipboard backend for --local-clipboard: auto|x11|wayland")
	f.Duration("interval", detector.DefaultInterval, "clipboard poll interval for --local-clipboard")
	f.String("instance", "", "relay instance id (default: random)")
	f.String("redis-addr", "", "Redis address for federation (empty = standalone)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database")
	f.String("redis-channel", federation.DefaultChannel, "Redis pub/sub channel shared by federated relays")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return p, nil
}

func runServer(v *viper.Viper, args []string) error {
	setupLogging(v)

	port := v.GetInt("port")
	if len(args) == 1 {
		p, err := parsePort(args[0])
		if err != nil {
			return err
		}
		port = p
	}
	addr := net.JoinHostPort(v.GetString("bind"), strconv.Itoa(port))

	instance := v.GetString("instance")
	if instance == "" {
		instance = uuid.NewString()
	}
	local := v.GetBool("local-clipboard")
	redisAddr := v.GetString("redis-addr")

	slog.Info("p2pboard server starting",
		"version", Version,
		"addr", addr,
		"instance", instance,
		"local_clipboard", local,
		"federated", redisAddr != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := relay.NewRegistry()
	srv := relay.New(reg, relay.Config{
		HandshakeTimeout: v.GetDuration("handshake-timeout"),
		IdleTimeout:      v.GetDuration("idle-timeout"),
	})

	var lp *localpeer.Peer
	if local {
		kind, err := clip.ParseKind(v.GetString("backend"))
		if err != nil {
			return err
		}
		backend, err := clip.Open(kind, os.Getenv)
		if err != nil {
			return fmt.Errorf("clipboard backend: %w", err)
		}
		defer backend.Close()
		slog.Info("clipboard backend", "name", backend.Name())
		lp = localpeer.New(reg, backend, detector.Options{Interval: v.GetDuration("interval")})
	}

	var bridge *federation.Bridge
	if redisAddr != "" {
		var err error
		bridge, err = federation.New(federation.Config{
			Addr:     redisAddr,
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
			Channel:  v.GetString("redis-channel"),
			Instance: instance,
		}, reg)
		if err != nil {
			return fmt.Errorf("federation: %w", err)
		}
		srv.SetForwarder(bridge)
		if lp != nil {
			lp.SetForwarder(bridge)
		}
	}

	gs := grpc.NewServer()
	grpcservice.Register(gs, grpcservice.New(reg, grpcservice.Options{
		Instance:       instance,
		Federated:      bridge != nil,
		LocalClipboard: lp != nil,
	}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	slog.Info("listening", "addr", ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln, gs) })
	if lp != nil {
		g.Go(func() error {
			lp.Run(gctx)
			return nil
		})
	}
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("p2pboard server stopped")
	return nil
}
