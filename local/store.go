package local

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRejected is returned by Set when the backend refused the write
// (admission policy or memory pressure). The entry is simply not cached.
var ErrRejected = errors.New("local: write rejected by backend")

const defaultCleanupInterval = time.Minute

type entry struct {
	key      string
	value    any
	timeout  time.Duration
	sliding  bool
	deadline atomic.Int64 // unix nanos; 0 = none
	triggers []Trigger
	onEvict  func(string, any, Reason)
	fired    atomic.Bool
}

func (e *entry) expired(now int64) (Reason, bool) {
	if d := e.deadline.Load(); d != 0 && now >= d {
		return ReasonExpired, true
	}
	for _, t := range e.triggers {
		if t != nil && t.Expired() {
			return ReasonInvalidated, true
		}
	}
	return "", false
}

func (e *entry) fire(r Reason) {
	if e.onEvict == nil || !e.fired.CompareAndSwap(false, true) {
		return
	}
	e.onEvict(e.key, e.value, r)
}

// Config tunes a Store.
type Config struct {
	// CleanupInterval is how often expired entries are swept from pinned
	// storage and from enumerable backends. 0 => 1m, < 0 disables.
	CleanupInterval time.Duration
	// Now is the clock; nil => time.Now.
	Now func() time.Time
}

// Store is the Local tier adapter. Safe for concurrent use.
type Store struct {
	b      Backend
	pinned sync.Map // key -> *entry
	now    func() time.Time
	closed atomic.Bool

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New wraps b. The Store installs b's eviction handler; b must not be shared
// with another Store.
func New(b Backend, cfg Config) *Store {
	s := &Store{b: b, now: cfg.Now}
	if s.now == nil {
		s.now = time.Now
	}
	b.OnEvict(s.backendEvicted)

	interval := cfg.CleanupInterval
	if interval == 0 {
		interval = defaultCleanupInterval
	}
	if interval > 0 {
		s.ticker = time.NewTicker(interval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.cleanupLoop()
	}
	return s
}

// Set inserts or replaces key.
func (s *Store) Set(key string, value any, o EntryOptions) (err error) {
	if s.closed.Load() {
		return ErrClosed
	}
	defer recoverBackend(&err)

	now := s.now()
	e := &entry{
		key:      key,
		value:    value,
		timeout:  o.Timeout,
		sliding:  o.Sliding,
		triggers: o.Triggers,
		onEvict:  o.OnEvict,
	}
	if o.Timeout > 0 {
		e.deadline.Store(now.Add(o.Timeout).UnixNano())
	}

	if o.Priority == NeverRemove {
		s.b.Del(key)
		s.pinned.Store(key, e)
		return nil
	}
	s.pinned.Delete(key)

	// sliding entries are expired by the adapter; the backend must not drop
	// them on the original schedule
	ttl := o.Timeout
	if o.Sliding || ttl < 0 {
		ttl = 0
	}
	ok, err := s.b.Set(key, e, o.Priority.cost(), ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRejected
	}
	return nil
}

// TryGet returns the live value for key. Expired or invalidated entries are
// removed and reported as a miss. A sliding hit extends the entry's window;
// the backend's own recency bookkeeping is whatever the backend does on Get.
func (s *Store) TryGet(key string) (v any, ok bool, err error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	defer recoverBackend(&err)

	e, pinned := s.lookup(key)
	if e == nil {
		return nil, false, nil
	}
	now := s.now().UnixNano()
	if r, dead := e.expired(now); dead {
		s.drop(e, pinned)
		e.fire(r)
		return nil, false, nil
	}
	if e.sliding && e.timeout > 0 {
		e.deadline.Store(now + int64(e.timeout))
	}
	return e.value, true, nil
}

// Remove deletes key and fires its eviction callback with ReasonRemoved.
func (s *Store) Remove(key string) (err error) {
	if s.closed.Load() {
		return ErrClosed
	}
	defer recoverBackend(&err)

	if v, ok := s.pinned.LoadAndDelete(key); ok {
		v.(*entry).fire(ReasonRemoved)
	}
	if v, ok := s.b.Get(key); ok {
		s.b.Del(key)
		if e, ok := v.(*entry); ok {
			e.fire(ReasonRemoved)
		}
	}
	return nil
}

// Sweep removes every expired entry it can see: all pinned entries and, when
// the backend is an Enumerator, backend entries. It returns the number of
// entries dropped.
func (s *Store) Sweep() int {
	if s.closed.Load() {
		return 0
	}
	now := s.now().UnixNano()
	n := 0
	s.pinned.Range(func(k, v any) bool {
		e := v.(*entry)
		if r, dead := e.expired(now); dead && s.pinned.CompareAndDelete(k, v) {
			e.fire(r)
			n++
		}
		return true
	})

	en, ok := s.b.(Enumerator)
	if !ok {
		return n
	}
	for _, k := range en.Keys() {
		v, ok := en.Peek(k)
		if !ok {
			continue
		}
		e, ok := v.(*entry)
		if !ok {
			continue
		}
		if r, dead := e.expired(now); dead {
			s.drop(e, false)
			e.fire(r)
			n++
		}
	}
	return n
}

// Close stops the janitor. The backend is owned by the caller and left open.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}

func (s *Store) lookup(key string) (*entry, bool) {
	if v, ok := s.pinned.Load(key); ok {
		return v.(*entry), true
	}
	v, ok := s.b.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := v.(*entry)
	if !ok {
		// foreign value written behind our back
		s.b.Del(key)
		return nil, false
	}
	return e, false
}

// drop removes e only if it is still the stored entry for its key. Pinned
// entries and CompareDeleter backends make this atomic; for other backends
// the check and the Del are separate steps, so a Set landing between them
// can still be removed.
func (s *Store) drop(e *entry, pinned bool) {
	if pinned {
		s.pinned.CompareAndDelete(e.key, e)
		return
	}
	if cd, ok := s.b.(CompareDeleter); ok {
		cd.CompareAndDelete(e.key, e)
		return
	}
	if cur, ok := s.peek(e.key); ok && cur == e {
		s.b.Del(e.key)
	}
}

func (s *Store) peek(key string) (any, bool) {
	if en, ok := s.b.(Enumerator); ok {
		return en.Peek(key)
	}
	return s.b.Get(key)
}

func (s *Store) backendEvicted(v any) {
	e, ok := v.(*entry)
	if !ok {
		return
	}
	r := ReasonCapacity
	if d := e.deadline.Load(); d != 0 && s.now().UnixNano() >= d {
		r = ReasonExpired
	}
	e.fire(r)
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

func recoverBackend(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("local: backend panic: %v", r)
	}
}
