package tiercache

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/unkn0wn-root/tiercache/local"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

// NoExpiration stores an entry without a timeout. Only valid together with
// local.NeverRemove.
const NoExpiration time.Duration = -1

// Tier selects the store an operation runs against.
type Tier uint8

const (
	TierLocal Tier = iota
	TierRemote
)

func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierRemote:
		return "remote"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tier) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "local", "memory":
		*t = TierLocal
	case "remote", "distributed":
		*t = TierRemote
	default:
		return fmt.Errorf("%w: unknown tier %q", ErrValidation, string(b))
	}
	return nil
}

// AnalyticsMode is a bit set. Analytics cover the Local tier only.
type AnalyticsMode uint8

const (
	AnalyticsNone    AnalyticsMode = 0
	TrackKeys        AnalyticsMode = 1 << 0
	TrackKeysAndHits AnalyticsMode = TrackKeys | 1<<1

	// TrackHits is an alias of TrackKeysAndHits: counting hits needs the
	// key registry, so there is no hits-only mode.
	TrackHits = TrackKeysAndHits
)

func (m AnalyticsMode) keys() bool { return m&TrackKeys != 0 }
func (m AnalyticsMode) hits() bool { return m&(1<<1) != 0 }

func (m AnalyticsMode) String() string {
	switch {
	case m.hits():
		return "keys_and_hits"
	case m.keys():
		return "keys"
	default:
		return "none"
	}
}

func (m AnalyticsMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *AnalyticsMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "none", "off":
		*m = AnalyticsNone
	case "keys":
		*m = TrackKeys
	case "hits", "keys_and_hits":
		*m = TrackKeysAndHits
	default:
		return fmt.Errorf("%w: unknown analytics mode %q", ErrValidation, string(b))
	}
	return nil
}

// KeyBuilder turns a logical key into a storage key for values of type t.
// The default is keys.Create.
type KeyBuilder func(t reflect.Type, key string) (string, error)

// Options configure a Hybrid. Every field is optional.
type Options struct {
	// Local is the in-process backend. nil => a ristretto backend with
	// default sizing, owned and closed by the cache.
	Local local.Backend
	// Remote is the network tier. nil => Remote operations fail validation.
	Remote pr.Provider

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	Disabled       bool          // default false (enabled)
	DefaultTTL     time.Duration // 0 => 10m; NoExpiration requires Priority NeverRemove
	DefaultTier    Tier          // default TierLocal
	Sliding        bool
	ThrowOnFailure bool // return backend errors instead of masking them
	Priority       local.Priority
	Analytics      AnalyticsMode
	KeyBuilder     KeyBuilder
	// Triggers are attached to every Local write, next to the epoch.
	Triggers []local.Trigger

	CleanupInterval time.Duration // Local janitor; 0 => 1m, < 0 disables
	MaxKeyLength    int           // compact longer keys; 0 => unlimited

	// OwnStores makes Close close Local and Remote as well.
	OwnStores bool
}

// CallOption overrides Options for one call.
type CallOption func(*callConfig)

type callConfig struct {
	tier     Tier
	timeout  time.Duration
	sliding  bool
	priority local.Priority
	throw    bool
	enabled  bool
	triggers []local.Trigger
}

func WithTier(t Tier) CallOption { return func(c *callConfig) { c.tier = t } }

// WithTimeout sets the entry lifetime (absolute) or idle window (sliding).
// 0 keeps the default.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) {
		if d != 0 {
			c.timeout = d
		}
	}
}

func WithSliding(on bool) CallOption           { return func(c *callConfig) { c.sliding = on } }
func WithPriority(p local.Priority) CallOption { return func(c *callConfig) { c.priority = p } }
func WithThrowOnFailure(on bool) CallOption    { return func(c *callConfig) { c.throw = on } }
func WithEnabled(on bool) CallOption           { return func(c *callConfig) { c.enabled = on } }
func WithTriggers(ts ...local.Trigger) CallOption {
	return func(c *callConfig) { c.triggers = append(c.triggers, ts...) }
}
