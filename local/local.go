// Package local adapts an in-process expiring map into the Local tier.
//
// Backends (ristretto, lru, ...) only store opaque values and report
// capacity evictions. Store layers per-entry timeouts, sliding expiration,
// priorities, invalidation triggers and eviction callbacks on top.
package local

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrClosed = errors.New("local: store closed")

// Backend is the in-process map behind the Local tier.
// Implementations must be safe for concurrent use and, after Set returns
// ok=true, a Get on the same goroutine must observe the value.
type Backend interface {
	// Get returns (value, true) on hit.
	Get(key string) (any, bool)

	// Set stores value with the given cost and TTL; ttl <= 0 means no
	// backend expiry. ok=false means the backend refused the write.
	Set(key string, value any, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes key. Backends should not report explicit deletes through
	// the eviction handler.
	Del(key string)

	// OnEvict installs the handler for values the backend drops on its own
	// (capacity or TTL). Called once, before the first Set.
	OnEvict(func(value any))

	Close() error
}

// Enumerator is implemented by backends that can list their keys. The
// Store janitor uses it to sweep expired entries proactively.
type Enumerator interface {
	Keys() []string
	// Peek returns the value without touching recency or frequency.
	Peek(key string) (any, bool)
}

// CompareDeleter is implemented by backends that can delete a key only
// while it still maps to a given value, atomically with respect to Set.
// old is always a value previously passed to Set.
type CompareDeleter interface {
	CompareAndDelete(key string, old any) bool
}

// Trigger is an extra expiration condition attached to an entry.
type Trigger interface {
	Expired() bool
}

// TriggerFunc adapts a func to Trigger.
type TriggerFunc func() bool

func (f TriggerFunc) Expired() bool { return f() }

// Priority decides how willing the backend should be to drop an entry.
type Priority int

const (
	Normal Priority = iota
	Low
	High
	// NeverRemove pins the entry outside the backend's capacity policy.
	// Timeouts and triggers still apply.
	NeverRemove
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case NeverRemove:
		return "never_remove"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "low":
		*p = Low
	case "", "normal":
		*p = Normal
	case "high":
		*p = High
	case "never_remove", "neverremove", "pinned":
		*p = NeverRemove
	default:
		return fmt.Errorf("local: unknown priority %q", string(b))
	}
	return nil
}

// cost maps priority to backend cost: cheaper entries survive longer
// under a cost-bounded backend.
func (p Priority) cost() int64 {
	switch p {
	case Low:
		return 4
	case High:
		return 1
	default:
		return 2
	}
}

// Reason tells an eviction callback why an entry left the store.
type Reason string

const (
	ReasonExpired     Reason = "expired"
	ReasonInvalidated Reason = "invalidated"
	ReasonCapacity    Reason = "capacity"
	ReasonRemoved     Reason = "removed"
)

// EntryOptions control a single Set.
type EntryOptions struct {
	// Timeout is the lifetime (absolute) or idle window (sliding).
	// <= 0 means no timeout, which is only meaningful with NeverRemove or
	// triggers.
	Timeout  time.Duration
	Sliding  bool
	Priority Priority
	Triggers []Trigger
	// OnEvict runs at most once, when the entry leaves the store for any
	// reason. It must not block.
	OnEvict func(key string, value any, reason Reason)
}
