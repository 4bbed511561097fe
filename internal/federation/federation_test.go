package federation

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"go.klb.dev/p2pboard/internal/message"
	"go.klb.dev/p2pboard/internal/obs"
	"go.klb.dev/p2pboard/internal/relay"
)

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) ID() string { return "recorder" }

func (r *recorder) Send(msg []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, string(msg))
	return true
}

func (r *recorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestNewBridgeDefaults(t *testing.T) {
	b := newBridge(Config{}, relay.NewRegistry())
	if b.cfg.Channel != DefaultChannel {
		t.Fatalf("channel = %q", b.cfg.Channel)
	}
	if b.Instance() == "" {
		t.Fatal("no instance id generated")
	}
	other := newBridge(Config{}, relay.NewRegistry())
	if other.Instance() == b.Instance() {
		t.Fatal("two bridges share an instance id")
	}
}

func TestEncodeEnvelope(t *testing.T) {
	b := newBridge(Config{Instance: "relay-a"}, relay.NewRegistry())
	data, err := b.encode([]byte("héllo"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var env map[string]string
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env["origin"] != "relay-a" || env["payload"] != "héllo" {
		t.Fatalf("envelope = %v", env)
	}
}

func TestHandleBroadcastsForeignMessages(t *testing.T) {
	reg := relay.NewRegistry()
	rec := &recorder{}
	reg.Add(rec)
	defer reg.Remove(rec)

	a := newBridge(Config{Instance: "relay-a"}, reg)
	b := newBridge(Config{Instance: "relay-b"}, relay.NewRegistry())

	data, err := b.encode([]byte("from b"))
	if err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(obs.FederatedTotal.WithLabelValues("in"))
	if !a.handle(data) {
		t.Fatal("foreign message not delivered")
	}
	if got := rec.received(); len(got) != 1 || got[0] != "from b" {
		t.Fatalf("received %q", got)
	}
	if d := testutil.ToFloat64(obs.FederatedTotal.WithLabelValues("in")) - before; d != 1 {
		t.Fatalf("in counter moved by %v", d)
	}
}

func TestHandleIgnoresOwnOrigin(t *testing.T) {
	reg := relay.NewRegistry()
	rec := &recorder{}
	reg.Add(rec)
	defer reg.Remove(rec)

	a := newBridge(Config{Instance: "relay-a"}, reg)
	data, err := a.encode([]byte("loop"))
	if err != nil {
		t.Fatal(err)
	}
	if a.handle(data) {
		t.Fatal("own message was rebroadcast")
	}
	if got := rec.received(); len(got) != 0 {
		t.Fatalf("received %q", got)
	}
}

func TestHandleRejectsInvalid(t *testing.T) {
	reg := relay.NewRegistry()
	rec := &recorder{}
	reg.Add(rec)
	defer reg.Remove(rec)
	a := newBridge(Config{Instance: "relay-a"}, reg)

	big, _ := json.Marshal(envelope{Origin: "relay-b", Payload: strings.Repeat("x", message.MaxSize+1)})
	empty, _ := json.Marshal(envelope{Origin: "relay-b"})
	for name, data := range map[string][]byte{
		"malformed": []byte("{not json"),
		"oversized": big,
		"empty":     empty,
	} {
		if a.handle(data) {
			t.Fatalf("%s message delivered", name)
		}
	}
	if got := rec.received(); len(got) != 0 {
		t.Fatalf("received %d messages", len(got))
	}
}

func TestForwardDropsWhenQueueFull(t *testing.T) {
	b := newBridge(Config{Instance: "relay-a"}, relay.NewRegistry())
	before := testutil.ToFloat64(obs.FederatedTotal.WithLabelValues("dropped"))
	for i := 0; i < queueSize+3; i++ {
		b.Forward([]byte("x"))
	}
	if len(b.outCh) != queueSize {
		t.Fatalf("queue holds %d", len(b.outCh))
	}
	if d := testutil.ToFloat64(obs.FederatedTotal.WithLabelValues("dropped")) - before; d != 3 {
		t.Fatalf("dropped counter moved by %v", d)
	}
}
