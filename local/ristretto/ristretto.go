// Package ristretto backs the Local tier with dgraph-io/ristretto.
//
// Ristretto buffers writes; Set waits for the buffer to drain so that a
// following Get on the same goroutine observes the value. New keys may
// still be refused by the TinyLFU admission policy, which is reported as
// ok=false.
//
// The backend is not enumerable, so the janitor cannot sweep it. Entries
// invalidated by a trigger or by a Local clear keep their cost until they
// are read or TinyLFU evicts them.
package ristretto

import (
	"errors"
	"sync/atomic"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tiercache/local"
)

type Backend struct {
	c       *rc.Cache
	onEvict atomic.Pointer[func(any)]
}

var _ local.Backend = (*Backend)(nil)

type Config struct {
	NumCounters int64 // ~10x expected item count; 0 => 100_000
	MaxCost     int64 // sum of entry costs (1..4 per entry); 0 => 40_000
	BufferItems int64 // 0 => 64
	Metrics     bool
}

func New(cfg Config) (*Backend, error) {
	if cfg.NumCounters < 0 || cfg.MaxCost < 0 || cfg.BufferItems < 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	if cfg.NumCounters == 0 {
		cfg.NumCounters = 100_000
	}
	if cfg.MaxCost == 0 {
		cfg.MaxCost = 40_000
	}
	if cfg.BufferItems == 0 {
		cfg.BufferItems = 64
	}

	b := &Backend{}
	c, err := rc.NewCache(&rc.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cfg.BufferItems,
		Metrics:            cfg.Metrics,
		IgnoreInternalCost: true,
		OnEvict: func(item *rc.Item) {
			if fn := b.onEvict.Load(); fn != nil && item.Value != nil {
				(*fn)(item.Value)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	b.c = c
	return b, nil
}

func (b *Backend) Get(key string) (any, bool) { return b.c.Get(key) }

func (b *Backend) Set(key string, value any, cost int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if !b.c.SetWithTTL(key, value, cost, ttl) {
		return false, nil // dropped from the set buffer
	}
	b.c.Wait()
	// admission may still refuse a new key after the buffer drains
	_, ok := b.c.Get(key)
	return ok, nil
}

func (b *Backend) Del(key string) { b.c.Del(key) }

func (b *Backend) OnEvict(fn func(any)) { b.onEvict.Store(&fn) }

func (b *Backend) Close() error {
	b.c.Wait()
	b.c.Close()
	return nil
}

// Metrics exposes ristretto's counters when Config.Metrics is set.
func (b *Backend) Metrics() *rc.Metrics { return b.c.Metrics }
