package detector

import (
	"sync"
	"time"

	"go.klb.dev/p2pboard/internal/message"
)

// recentSet tracks echoes still owed to this process. The relay sends every
// message back to its origin exactly once, so each send adds one pending echo
// and each matching inbound message consumes one. Entries that never come
// back expire after ttl.
type recentSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[uint64]pending
}

type pending struct {
	count  int
	expiry time.Time
}

func newRecentSet(ttl time.Duration) *recentSet {
	return &recentSet{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uint64]pending),
	}
}

func (r *recentSet) add(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.pruneLocked(now)
	fp := message.Fingerprint(text)
	e := r.entries[fp]
	e.count++
	e.expiry = now.Add(r.ttl)
	r.entries[fp] = e
}

// take consumes one pending echo of text and reports whether there was one.
func (r *recentSet) take(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	fp := message.Fingerprint(text)
	e, ok := r.entries[fp]
	if !ok {
		return false
	}
	if e.count <= 1 {
		delete(r.entries, fp)
	} else {
		e.count--
		r.entries[fp] = e
	}
	return true
}

// reset forgets every pending echo.
func (r *recentSet) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
}

func (r *recentSet) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		n += e.count
	}
	return n
}

func (r *recentSet) pruneLocked(now time.Time) {
	for fp, e := range r.entries {
		if !now.Before(e.expiry) {
			delete(r.entries, fp)
		}
	}
}
