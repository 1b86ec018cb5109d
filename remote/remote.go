// Package remote is the Remote tier: typed values framed (internal/wire),
// encoded by a codec.Codec and stored in a provider.Provider.
//
// Remote failures are split into two kinds. ErrBackend wraps provider
// (network, timeout, closed) errors. ErrSerialization covers everything that
// goes wrong with the bytes themselves: frame corruption, a payload written
// for another type, and codec errors. Entries that fail to decode are
// deleted on read.
package remote

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	c "github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	"github.com/unkn0wn-root/tiercache/keys"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

var (
	ErrBackend       = errors.New("remote: backend failure")
	ErrSerialization = errors.New("remote: serialization failure")
	// ErrRejected means the provider refused the write under pressure.
	ErrRejected = errors.New("remote: write rejected by provider")
)

// Self-heal reasons passed to Config.OnSelfHeal.
const (
	HealCorrupt      = "corrupt"
	HealTypeMismatch = "type_mismatch"
	HealValueDecode  = "value_decode"
)

type Config struct {
	// TypeName is written into every frame and checked on read.
	// "" => keys.TypeName of V.
	TypeName string
	// Cost computes the provider cost of a framed value; nil => 1.
	Cost func(key string, raw []byte) int64
	Now  func() time.Time
	// OnSelfHeal runs after an undecodable entry was deleted.
	OnSelfHeal func(key, reason string)
	// OnTouchError reports a failed sliding refresh. The read still
	// succeeds.
	OnTouchError func(key string, err error)
}

// Options control a single Set.
type Options struct {
	// TTL <= 0 stores the value without expiry.
	TTL     time.Duration
	Sliding bool
}

type Store[V any] struct {
	p     pr.Provider
	codec c.Codec[V]
	typ   string
	cost  func(string, []byte) int64
	now   func() time.Time

	onHeal  func(string, string)
	onTouch func(string, error)
}

func New[V any](p pr.Provider, cd c.Codec[V], cfg Config) (*Store[V], error) {
	if p == nil {
		return nil, errors.New("remote: provider is required")
	}
	if cd == nil {
		cd = c.JSON[V]{}
	}
	s := &Store[V]{
		p:       p,
		codec:   cd,
		typ:     cfg.TypeName,
		cost:    cfg.Cost,
		now:     cfg.Now,
		onHeal:  cfg.OnSelfHeal,
		onTouch: cfg.OnTouchError,
	}
	if s.typ == "" {
		s.typ = keys.TypeName(reflect.TypeOf((*V)(nil)).Elem())
	}
	if s.cost == nil {
		s.cost = func(string, []byte) int64 { return 1 }
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Get returns (v, true, nil) on hit and (zero, false, nil) on miss.
func (s *Store[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	raw, ok, err := s.p.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("%w: get %q: %w", ErrBackend, key, err)
	}
	if !ok {
		return zero, false, nil
	}

	rec, err := wire.Decode(raw)
	if err != nil {
		s.heal(ctx, key, HealCorrupt)
		return zero, false, fmt.Errorf("%w: %q: %w", ErrSerialization, key, err)
	}
	if rec.Type != s.typ {
		s.heal(ctx, key, HealTypeMismatch)
		return zero, false, fmt.Errorf("%w: %q holds %s, want %s", ErrSerialization, key, rec.Type, s.typ)
	}
	v, err := s.codec.Decode(rec.Payload)
	if err != nil {
		s.heal(ctx, key, HealValueDecode)
		return zero, false, fmt.Errorf("%w: %q: %w", ErrSerialization, key, err)
	}

	if rec.Sliding && rec.TTL > 0 {
		s.touch(ctx, key, rec.TTL)
	}
	return v, true, nil
}

// Set overwrites key. A provider that refuses the write yields ErrRejected.
func (s *Store[V]) Set(ctx context.Context, key string, value V, o Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrSerialization, key, err)
	}
	ttl := o.TTL
	if ttl < 0 {
		ttl = 0
	}
	raw, err := wire.Encode(wire.Record{
		Type:      s.typ,
		CreatedAt: s.now(),
		TTL:       ttl,
		Sliding:   o.Sliding,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrSerialization, key, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := s.p.Set(ctx, key, raw, s.cost(key, raw), ttl)
	if err != nil {
		return fmt.Errorf("%w: set %q: %w", ErrBackend, key, err)
	}
	if !ok {
		return ErrRejected
	}
	return nil
}

func (s *Store[V]) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.p.Del(ctx, key); err != nil {
		return fmt.Errorf("%w: del %q: %w", ErrBackend, key, err)
	}
	return nil
}

func (s *Store[V]) heal(ctx context.Context, key, reason string) {
	// best effort; the read already failed
	_ = s.p.Del(ctx, key)
	if s.onHeal != nil {
		s.onHeal(key, reason)
	}
}

func (s *Store[V]) touch(ctx context.Context, key string, ttl time.Duration) {
	t, ok := s.p.(pr.Toucher)
	if !ok {
		return
	}
	if err := t.Touch(ctx, key, ttl); err != nil && s.onTouch != nil {
		s.onTouch(key, err)
	}
}
