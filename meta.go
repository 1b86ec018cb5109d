package tiercache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetaEntry is a point-in-time copy of the analytics kept for one Local key.
type MetaEntry struct {
	Key            string
	CreatedAt      time.Time
	Timeout        time.Duration
	Sliding        bool
	LastAccessedAt time.Time
	HitCount       uint64
}

type metaEntry struct {
	key       string
	createdAt time.Time
	timeout   time.Duration
	sliding   bool
	epoch     uint64

	hits       atomic.Uint64
	lastAccess atomic.Int64 // unix nanos
}

func newMetaEntry(key string, now time.Time, timeout time.Duration, sliding bool, epoch uint64) *metaEntry {
	m := &metaEntry{key: key, createdAt: now, timeout: timeout, sliding: sliding, epoch: epoch}
	m.lastAccess.Store(now.UnixNano())
	return m
}

// expired reports whether the entry's own timeout has passed, even if the
// store has not dropped it yet.
func (m *metaEntry) expired(now int64) bool {
	if m.timeout <= 0 {
		return false
	}
	from := m.createdAt.UnixNano()
	if m.sliding {
		from = m.lastAccess.Load()
	}
	return now >= from+int64(m.timeout)
}

func (m *metaEntry) copy() MetaEntry {
	return MetaEntry{
		Key:            m.key,
		CreatedAt:      m.createdAt,
		Timeout:        m.timeout,
		Sliding:        m.sliding,
		LastAccessedAt: time.Unix(0, m.lastAccess.Load()),
		HitCount:       m.hits.Load(),
	}
}

// metaRegistry maps Local keys to their analytics. Lock-free; reset swaps
// the whole map.
type metaRegistry struct {
	m atomic.Pointer[sync.Map]
}

func newMetaRegistry() *metaRegistry {
	r := &metaRegistry{}
	r.m.Store(new(sync.Map))
	return r
}

func (r *metaRegistry) register(e *metaEntry) { r.m.Load().Store(e.key, e) }

// addHit is a no-op for untracked keys.
func (r *metaRegistry) addHit(key string, now time.Time) {
	v, ok := r.m.Load().Load(key)
	if !ok {
		return
	}
	e := v.(*metaEntry)
	e.hits.Add(1)
	e.lastAccess.Store(now.UnixNano())
}

// touch records an access without counting a hit.
func (r *metaRegistry) touch(key string, now time.Time) {
	if v, ok := r.m.Load().Load(key); ok {
		v.(*metaEntry).lastAccess.Store(now.UnixNano())
	}
}

// deregister removes key only while it still maps to e, so a late eviction
// of a replaced entry leaves the newer registration alone.
func (r *metaRegistry) deregister(key string, e *metaEntry) {
	r.m.Load().CompareAndDelete(key, e)
}

func (r *metaRegistry) snapshot(epoch uint64, now time.Time) []MetaEntry {
	n := now.UnixNano()
	var out []MetaEntry
	r.m.Load().Range(func(_, v any) bool {
		e := v.(*metaEntry)
		if e.epoch == epoch && !e.expired(n) {
			out = append(out, e.copy())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *metaRegistry) reset() { r.m.Store(new(sync.Map)) }
