package relay

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"go.klb.dev/p2pboard/internal/message"
	"go.klb.dev/p2pboard/internal/obs"
)

type fakePeer struct {
	id   string
	full bool

	mu  sync.Mutex
	got [][]byte
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(msg []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, msg)
	return !p.full
}

func (p *fakePeer) received() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.got...)
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	a := &fakePeer{id: "a"}
	r.Add(a)
	before := r.Len()

	b := &fakePeer{id: "b"}
	r.Add(b)
	r.Remove(b)
	if r.Len() != before {
		t.Fatalf("expected size %d after add+remove, got %d", before, r.Len())
	}

	// Removing an unknown peer is a no-op.
	r.Remove(&fakePeer{id: "ghost"})
	r.Remove(b)
	if r.Len() != 1 {
		t.Fatalf("expected size 1, got %d", r.Len())
	}
}

func TestRegistryBroadcastReachesEveryPeer(t *testing.T) {
	r := NewRegistry()
	const n = 25
	peers := make([]*fakePeer, n)
	for i := range peers {
		peers[i] = &fakePeer{id: fmt.Sprintf("p%d", i)}
		r.Add(peers[i])
	}
	// One peer with a full queue still counts as an attempt.
	peers[3].full = true

	deliveries := testutil.ToFloat64(obs.DeliveriesTotal)
	if got := r.Broadcast([]byte("hello")); got != n {
		t.Fatalf("expected %d send attempts, got %d", n, got)
	}
	if d := testutil.ToFloat64(obs.DeliveriesTotal) - deliveries; d != n {
		t.Fatalf("expected deliveries counter +%d, got +%v", n, d)
	}
	for _, p := range peers {
		got := p.received()
		if len(got) != 1 || string(got[0]) != "hello" {
			t.Fatalf("peer %s got %q", p.id, got)
		}
	}
	if r.Len() != n {
		t.Fatalf("send failure must not remove peers; size %d", r.Len())
	}
}

func TestRegistryBroadcastConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := &fakePeer{id: fmt.Sprintf("p%d", i)}
			r.Add(p)
			r.Broadcast([]byte("x"))
			if i%2 == 0 {
				r.Remove(p)
			}
		}(i)
	}
	wg.Wait()
	if r.Len() != 25 {
		t.Fatalf("expected 25 peers left, got %d", r.Len())
	}
}

func TestRegistryBroadcastDropsEmpty(t *testing.T) {
	r := NewRegistry()
	p := &fakePeer{id: "a"}
	r.Add(p)

	deliveries := testutil.ToFloat64(obs.DeliveriesTotal)
	broadcasts := testutil.ToFloat64(obs.BroadcastsTotal)
	if got := r.Broadcast(nil); got != 0 {
		t.Fatalf("expected 0 attempts for empty message, got %d", got)
	}
	if testutil.ToFloat64(obs.DeliveriesTotal) != deliveries || testutil.ToFloat64(obs.BroadcastsTotal) != broadcasts {
		t.Fatal("empty message incremented delivery counters")
	}
	if len(p.received()) != 0 {
		t.Fatal("empty message delivered")
	}
}

func TestRegistryBroadcastSizeLimit(t *testing.T) {
	r := NewRegistry()
	p := &fakePeer{id: "a"}
	r.Add(p)

	if got := r.Broadcast(bytes.Repeat([]byte("a"), message.MaxSize)); got != 1 {
		t.Fatalf("1 MiB message: expected 1 attempt, got %d", got)
	}
	if got := r.Broadcast(bytes.Repeat([]byte("a"), message.MaxSize+1)); got != 0 {
		t.Fatalf("oversized message: expected 0 attempts, got %d", got)
	}
	if r.Len() != 1 {
		t.Fatalf("oversized message mutated registry: size %d", r.Len())
	}
	if len(p.received()) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(p.received()))
	}
}
