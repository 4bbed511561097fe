// Package federation links relay instances through a Redis pub/sub channel so
// that sessions connected to different instances see each other's updates.
//
// Every message a local session sends is published with this instance's
// origin id. Messages arriving from the channel are broadcast to the local
// registry only; they are never republished, and messages carrying our own
// origin are ignored, so an update crosses the channel exactly once.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"go.klb.dev/p2pboard/internal/message"
	"go.klb.dev/p2pboard/internal/obs"
	"go.klb.dev/p2pboard/internal/relay"
)

const (
	DefaultChannel = "p2pboard"
	pingTimeout    = 5 * time.Second
	publishTimeout = 2 * time.Second
	queueSize      = 64
)

// Config holds the Redis connection and channel settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	// Instance identifies this relay on the channel. A random id is used
	// when empty.
	Instance string
}

// envelope is the JSON form published on the channel.
type envelope struct {
	Origin  string `json:"origin"`
	Payload string `json:"payload"`
}

// Bridge implements relay.Forwarder.
type Bridge struct {
	cfg   Config
	reg   *relay.Registry
	rdb   *redis.Client
	outCh chan []byte
}

// New connects to Redis and returns a Bridge feeding reg. Call Run to start
// exchanging messages.
func New(cfg Config, reg *relay.Registry) (*Bridge, error) {
	b := newBridge(cfg, reg)
	b.rdb = redis.NewClient(&redis.Options{Addr: b.cfg.Addr, Password: b.cfg.Password, DB: b.cfg.DB})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		_ = b.rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return b, nil
}

func newBridge(cfg Config, reg *relay.Registry) *Bridge {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Instance == "" {
		cfg.Instance = uuid.NewString()
	}
	return &Bridge{
		cfg:   cfg,
		reg:   reg,
		outCh: make(chan []byte, queueSize),
	}
}

// Instance returns the origin id this bridge publishes with.
func (b *Bridge) Instance() string { return b.cfg.Instance }

// Forward queues msg for publishing. It never blocks the session read loop;
// when the queue is full the message is dropped for the other instances.
func (b *Bridge) Forward(msg []byte) {
	select {
	case b.outCh <- msg:
	default:
		obs.FederatedTotal.WithLabelValues("dropped").Inc()
		slog.Warn("federation queue full, dropping", "bytes", len(msg))
	}
}

// Run subscribes to the channel and publishes queued messages until ctx is
// done. It returns an error only when the subscription cannot be
// established.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.rdb.Close()

	sub := b.rdb.Subscribe(ctx, b.cfg.Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.cfg.Channel, err)
	}
	slog.Info("federation subscribed", "channel", b.cfg.Channel, "instance", b.cfg.Instance)

	go b.publishLoop(ctx)

	in := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-in:
			if !ok {
				return nil
			}
			b.handle([]byte(m.Payload))
		}
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.outCh:
			data, err := b.encode(msg)
			if err != nil {
				slog.Error("federation encode failed", "err", err)
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err = b.rdb.Publish(pctx, b.cfg.Channel, data).Err()
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Warn("federation publish failed", "bytes", len(msg), "err", err)
				}
				continue
			}
			obs.FederatedTotal.WithLabelValues("out").Inc()
		}
	}
}

func (b *Bridge) encode(msg []byte) ([]byte, error) {
	return json.Marshal(envelope{Origin: b.cfg.Instance, Payload: string(msg)})
}

// handle broadcasts a message received from the channel. It reports whether
// the message was delivered locally.
func (b *Bridge) handle(data []byte) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("federation message malformed", "bytes", len(data), "err", err)
		return false
	}
	if env.Origin == b.cfg.Instance {
		return false
	}
	if err := message.Validate([]byte(env.Payload)); err != nil {
		slog.Debug("federation message rejected", "origin", env.Origin, "err", err)
		return false
	}
	obs.FederatedTotal.WithLabelValues("in").Inc()
	slog.Debug("federation message received", "origin", env.Origin, "bytes", len(env.Payload))
	b.reg.Broadcast([]byte(env.Payload))
	return true
}
