package asynchook

import (
	"errors"
	"sync"
	"testing"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/local"
)

type counting struct {
	tiercache.NopHooks
	mu     sync.Mutex
	events []string
	block  chan struct{}
}

func (c *counting) add(ev string) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *counting) Hit(tiercache.Tier, string)                         { c.add("hit") }
func (c *counting) LocalEvicted(string, local.Reason)                  { c.add("evicted") }
func (c *counting) BackendError(tiercache.Tier, string, string, error) { c.add("backend_error") }

func TestEventsDeliveredBeforeClose(t *testing.T) {
	inner := &counting{}
	h := New(inner, 2, 16)
	h.Hit(tiercache.TierLocal, "k")
	h.LocalEvicted("k", local.ReasonExpired)
	h.BackendError(tiercache.TierRemote, "get", "k", errors.New("boom"))
	h.Close()

	if len(inner.events) != 3 {
		t.Fatalf("expected 3 events, got %v", inner.events)
	}
	h.Hit(tiercache.TierLocal, "late")
	if h.Dropped() != 1 {
		t.Fatalf("event after Close should be dropped, dropped=%d", h.Dropped())
	}
}

func TestFullQueueDrops(t *testing.T) {
	inner := &counting{block: make(chan struct{})}
	h := New(inner, 1, 1)

	// worker blocks on the first event; one more fits in the queue
	for i := 0; i < 10; i++ {
		h.Hit(tiercache.TierLocal, "k")
	}
	close(inner.block)
	h.Close()

	if h.Dropped() == 0 {
		t.Fatalf("expected drops on a full queue")
	}
	if got := uint64(len(inner.events)) + h.Dropped(); got != 10 {
		t.Fatalf("delivered+dropped = %d, want 10", got)
	}
}
