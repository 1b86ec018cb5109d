// Package asynchook runs tiercache.Hooks on background workers so slow
// implementations stay off the cache's hot path. Events are dropped when
// the queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{MissEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	h, _ := tiercache.New(tiercache.Options{Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/local"
)

type Hooks struct {
	inner   tiercache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards q against send-after-close
	closed  bool
	dropped atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}
	if inner == nil {
		inner = tiercache.NopHooks{}
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hit(t tiercache.Tier, k string)  { h.try(func() { h.inner.Hit(t, k) }) }
func (h *Hooks) Miss(t tiercache.Tier, k string) { h.try(func() { h.inner.Miss(t, k) }) }
func (h *Hooks) LocalSetRejected(k string)       { h.try(func() { h.inner.LocalSetRejected(k) }) }
func (h *Hooks) LocalCleared(epoch uint64)       { h.try(func() { h.inner.LocalCleared(epoch) }) }
func (h *Hooks) LocalEvicted(k string, r local.Reason) {
	h.try(func() { h.inner.LocalEvicted(k, r) })
}
func (h *Hooks) BackendError(t tiercache.Tier, op, k string, err error) {
	h.try(func() { h.inner.BackendError(t, op, k, err) })
}
func (h *Hooks) SelfHeal(t tiercache.Tier, k, r string) {
	h.try(func() { h.inner.SelfHeal(t, k, r) })
}
