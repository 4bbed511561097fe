package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

// Handler returns the HTTP side of the relay port: Prometheus metrics,
// a health probe, and the WebSocket endpoint on every other path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/", s)
	return mux
}

// Serve accepts connections on ln until ctx is cancelled or the listener
// fails. gRPC requests are split off to gs (which may be nil) and everything
// else is served by Handler. A listener failure is returned; a cancelled ctx
// yields nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener, gs *grpc.Server) error {
	m := cmux.New(ln)
	var grpcL net.Listener
	if gs != nil {
		grpcL = m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	}
	httpL := m.Match(cmux.Any())

	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
	}

	var stopping atomic.Bool
	g, gctx := errgroup.WithContext(ctx)

	if gs != nil {
		g.Go(func() error {
			if err := gs.Serve(grpcL); err != nil && !stopping.Load() {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := hs.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && !stopping.Load() {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := m.Serve(); err != nil && !stopping.Load() {
			return fmt.Errorf("listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stopping.Store(true)
		slog.Info("relay shutting down", "sessions", s.reg.Len())

		_ = ln.Close()
		if gs != nil {
			gs.Stop()
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = hs.Shutdown(sctx)
		s.reg.closeAll()
		return nil
	})

	return g.Wait()
}
