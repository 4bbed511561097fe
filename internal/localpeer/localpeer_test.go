package localpeer

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.klb.dev/p2pboard/internal/detector"
	"go.klb.dev/p2pboard/internal/relay"
)

type memBackend struct {
	mu   sync.Mutex
	text string
}

func (b *memBackend) Name() string { return "memory" }

func (b *memBackend) Read() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text, nil
}

func (b *memBackend) Write(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = text
	return nil
}

func (b *memBackend) Close() {}

type remote struct {
	mu  sync.Mutex
	got []string
}

func (r *remote) ID() string { return "remote" }

func (r *remote) Send(msg []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, string(msg))
	return true
}

func (r *remote) contains(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.got {
		if g == s {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLocalPeerSyncsBothWays(t *testing.T) {
	reg := relay.NewRegistry()
	r := &remote{}
	reg.Add(r)

	backend := &memBackend{text: "server copy"}
	p := New(reg, backend, detector.Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	eventually(t, "local peer registration", func() bool { return reg.Len() == 2 })
	eventually(t, "local change broadcast", func() bool { return r.contains("server copy") })

	reg.Broadcast([]byte("from a client"))
	eventually(t, "remote change applied", func() bool {
		text, _ := backend.Read()
		return text == "from a client"
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if reg.Len() != 1 {
		t.Fatalf("local peer still registered, %d peers", reg.Len())
	}
}

func TestSendNeverBlocks(t *testing.T) {
	p := New(relay.NewRegistry(), &memBackend{}, detector.Options{})
	for i := 0; i < cap(p.inbox); i++ {
		if !p.Send([]byte("x")) {
			t.Fatalf("send %d rejected", i)
		}
	}
	if p.Send([]byte("overflow")) {
		t.Fatal("full inbox accepted a message")
	}
}

type forwarder struct {
	mu  sync.Mutex
	got []string
}

func (f *forwarder) Forward(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, string(msg))
}

func TestPublishForwardsValidChanges(t *testing.T) {
	reg := relay.NewRegistry()
	fwd := &forwarder{}
	p := New(reg, &memBackend{}, detector.Options{})
	p.SetForwarder(fwd)

	if err := p.publish([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := p.publish(nil); err == nil {
		t.Fatal("empty change published")
	}
	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	if len(fwd.got) != 1 || fwd.got[0] != "hello" {
		t.Fatalf("forwarded %q", fwd.got)
	}
}
