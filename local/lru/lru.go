// Package lru backs the Local tier with hashicorp/golang-lru/v2.
//
// The LRU is bounded by entry count and has no TTL of its own; expiry is
// enforced by local.Store, and the backend is enumerable so the janitor can
// sweep expired entries.
package lru

import (
	"sync"
	"sync/atomic"
	"time"

	hlru "github.com/hashicorp/golang-lru/v2"

	"github.com/unkn0wn-root/tiercache/local"
)

// box lets the eviction callback tell capacity evictions apart from Del,
// which golang-lru reports through the same callback.
type box struct {
	v       any
	removed atomic.Bool
}

type Backend struct {
	mu      sync.Mutex // serializes writers so CompareAndDelete sees no interleaved Set
	c       *hlru.Cache[string, *box]
	onEvict atomic.Pointer[func(any)]
}

var (
	_ local.Backend        = (*Backend)(nil)
	_ local.Enumerator     = (*Backend)(nil)
	_ local.CompareDeleter = (*Backend)(nil)
)

// New returns an LRU holding at most size entries (0 => 10_000).
func New(size int) (*Backend, error) {
	if size <= 0 {
		size = 10_000
	}
	b := &Backend{}
	c, err := hlru.NewWithEvict[string, *box](size, func(_ string, bx *box) {
		if bx.removed.Load() {
			return
		}
		if fn := b.onEvict.Load(); fn != nil {
			(*fn)(bx.v)
		}
	})
	if err != nil {
		return nil, err
	}
	b.c = c
	return b, nil
}

func (b *Backend) Get(key string) (any, bool) {
	bx, ok := b.c.Get(key)
	if !ok {
		return nil, false
	}
	return bx.v, true
}

// Set ignores cost and ttl; the LRU is count-bounded and never refuses.
func (b *Backend) Set(key string, value any, _ int64, _ time.Duration) (bool, error) {
	b.mu.Lock()
	b.c.Add(key, &box{v: value})
	b.mu.Unlock()
	return true, nil
}

func (b *Backend) Del(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.del(key)
}

// CompareAndDelete removes key only if it still holds old.
func (b *Backend) CompareAndDelete(key string, old any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	bx, ok := b.c.Peek(key)
	if !ok || bx.v != old {
		return false
	}
	b.del(key)
	return true
}

func (b *Backend) del(key string) {
	if bx, ok := b.c.Peek(key); ok {
		bx.removed.Store(true)
	}
	b.c.Remove(key)
}

func (b *Backend) OnEvict(fn func(any)) { b.onEvict.Store(&fn) }

func (b *Backend) Keys() []string { return b.c.Keys() }

func (b *Backend) Peek(key string) (any, bool) {
	bx, ok := b.c.Peek(key)
	if !ok {
		return nil, false
	}
	return bx.v, true
}

func (b *Backend) Len() int { return b.c.Len() }

func (b *Backend) Close() error {
	// purge without reporting: closing is not an eviction
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range b.c.Keys() {
		if bx, ok := b.c.Peek(k); ok {
			bx.removed.Store(true)
		}
	}
	b.c.Purge()
	return nil
}
