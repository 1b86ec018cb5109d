package tiercache

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	c "github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/remote"
)

// Cache is a typed view over a Hybrid. V is the caller's value type; the
// Remote tier serializes it with the view's codec. Views are cheap, and any
// number of them may share one Hybrid.
type Cache[V any] struct {
	h      *Hybrid
	typ    reflect.Type
	remote *remote.Store[V]
}

// Typed returns a view of h for values of type V. A nil codec means JSON.
func Typed[V any](h *Hybrid, codec c.Codec[V]) *Cache[V] {
	cc := &Cache[V]{h: h, typ: reflect.TypeOf((*V)(nil)).Elem()}
	if h.remote != nil {
		// cannot fail: provider is non-nil
		cc.remote, _ = remote.New[V](h.remote, codec, remote.Config{
			OnSelfHeal: func(key, reason string) {
				h.hooks.SelfHeal(TierRemote, key, reason)
				h.log.Warn("remote entry deleted on read", Fields{"key": key, "reason": reason})
			},
			OnTouchError: func(key string, err error) {
				h.log.Warn("remote sliding refresh failed", Fields{"key": key, "tier": TierRemote.String(), "op": "touch", "err": err})
			},
		})
	}
	return cc
}

// Factory computes a value on a miss.
type Factory[V any] func(ctx context.Context) (V, error)

// GetOrCreate returns the cached value for key, computing and storing it
// with factory on a miss. Factory errors are always returned and never
// cached. Backend failures are masked (treated as a miss, or the computed
// value returned uncached) unless throw-on-failure is on; in that mode a
// failed write after a successful factory returns the value together with
// the error.
//
// Concurrent callers for the same key may each run factory.
func (cc *Cache[V]) GetOrCreate(ctx context.Context, key string, factory Factory[V], opts ...CallOption) (V, error) {
	var zero V
	h := cc.h
	cfg, err := h.resolve(opts)
	if err != nil {
		return zero, h.fail("get", cfg.tier, key, err, true)
	}
	if factory == nil {
		return zero, h.fail("get", cfg.tier, key, errNilFactory, true)
	}
	if err := h.canceled(ctx, "get", cfg.tier, key); err != nil {
		return zero, err
	}
	if !cfg.enabled {
		return cc.produce(ctx, key, cfg.tier, factory)
	}
	k, err := cc.key(key, cfg)
	if err != nil {
		return zero, err
	}

	cached, ok, err := cc.get(ctx, k, cfg)
	if err != nil {
		return zero, err
	}
	if ok {
		return cached, nil
	}

	v, err := cc.produce(ctx, k, cfg.tier, factory)
	if err != nil {
		return zero, err
	}
	if err := cc.set(ctx, k, v, cfg); err != nil {
		return v, err
	}
	return v, nil
}

// TryGetValue reads key without populating the cache. A masked backend
// failure reads as a miss.
func (cc *Cache[V]) TryGetValue(ctx context.Context, key string, opts ...CallOption) (V, bool, error) {
	var zero V
	cfg, err := cc.h.resolve(opts)
	if err != nil {
		return zero, false, cc.h.fail("get", cfg.tier, key, err, true)
	}
	if err := cc.h.canceled(ctx, "get", cfg.tier, key); err != nil {
		return zero, false, err
	}
	if !cfg.enabled {
		return zero, false, nil
	}
	k, err := cc.key(key, cfg)
	if err != nil {
		return zero, false, err
	}
	return cc.get(ctx, k, cfg)
}

// Set writes value unconditionally and returns it, whatever the outcome.
func (cc *Cache[V]) Set(ctx context.Context, key string, value V, opts ...CallOption) (V, error) {
	cfg, err := cc.h.resolve(opts)
	if err != nil {
		return value, cc.h.fail("set", cfg.tier, key, err, true)
	}
	if err := cc.h.canceled(ctx, "set", cfg.tier, key); err != nil {
		return value, err
	}
	if !cfg.enabled {
		return value, nil
	}
	k, err := cc.key(key, cfg)
	if err != nil {
		return value, err
	}
	return value, cc.set(ctx, k, value, cfg)
}

// Remove deletes key from both tiers. Each tier is attempted independently;
// failures are logged and, in throw-on-failure mode, returned as a
// *RemoveError. A context that is already done touches neither tier.
func (cc *Cache[V]) Remove(ctx context.Context, key string, opts ...CallOption) error {
	h := cc.h
	cfg, err := h.resolve(opts)
	if err != nil {
		return h.fail("remove", cfg.tier, key, err, true)
	}
	if !cfg.enabled {
		return nil
	}
	k, err := cc.key(key, cfg)
	if err != nil {
		return err
	}

	if err := h.canceled(ctx, "remove", TierLocal, k); err != nil {
		return err
	}

	var localErr, remoteErr error
	if err := h.local.Remove(k); err != nil {
		localErr = err
		h.fail("remove", TierLocal, k, localErr, false)
	}

	if cc.remote != nil {
		if err := cc.remote.Remove(ctx, k); err != nil {
			remoteErr = err
			h.fail("remove", TierRemote, k, remoteErr, false)
		}
	}

	if localErr == nil && remoteErr == nil {
		return nil
	}
	// cancellation between the tiers is the caller's signal; never masked
	if !cfg.throw && !isContextErr(remoteErr) {
		return nil
	}
	return &RemoveError{Key: k, LocalErr: localErr, RemoteErr: remoteErr}
}

func (cc *Cache[V]) key(key string, cfg callConfig) (string, error) {
	k, err := cc.h.key(cc.typ, key)
	if err != nil {
		return "", cc.h.fail("key", cfg.tier, key, err, true)
	}
	return k, nil
}

func (cc *Cache[V]) get(ctx context.Context, k string, cfg callConfig) (V, bool, error) {
	var zero V
	h := cc.h
	if cfg.tier == TierRemote {
		if cc.remote == nil {
			return zero, false, h.fail("get", TierRemote, k, errNoRemote, true)
		}
		v, ok, err := cc.remote.Get(ctx, k)
		if err != nil {
			return zero, false, h.fail("get", TierRemote, k, err, cfg.throw)
		}
		cc.report(TierRemote, k, ok)
		return v, ok, nil
	}

	raw, ok, err := h.getLocal(k)
	if err != nil {
		return zero, false, h.fail("get", TierLocal, k, err, cfg.throw)
	}
	if !ok {
		cc.report(TierLocal, k, false)
		return zero, false, nil
	}
	v, ok := raw.(V)
	if !ok {
		// another view stored a different type under this key
		if err := h.local.Remove(k); err != nil {
			h.log.Debug("tiercache: type mismatch self-heal failed", Fields{
				"key":  k,
				"tier": TierLocal.String(),
				"op":   "self_heal",
				"err":  err,
			})
		}
		h.hooks.SelfHeal(TierLocal, k, remote.HealTypeMismatch)
		cc.report(TierLocal, k, false)
		return zero, false, nil
	}
	cc.report(TierLocal, k, true)
	return v, true, nil
}

func (cc *Cache[V]) set(ctx context.Context, k string, v V, cfg callConfig) error {
	h := cc.h
	if cfg.tier == TierRemote {
		if cc.remote == nil {
			return h.fail("set", TierRemote, k, errNoRemote, true)
		}
		err := cc.remote.Set(ctx, k, v, remote.Options{TTL: cfg.timeout, Sliding: cfg.sliding})
		if errors.Is(err, remote.ErrRejected) {
			h.log.Debug("remote set rejected by provider", Fields{"key": k})
			return nil
		}
		if err != nil {
			return h.fail("set", TierRemote, k, err, cfg.throw)
		}
		return nil
	}
	if err := h.setLocal(k, v, cfg); err != nil {
		return h.fail("set", TierLocal, k, err, cfg.throw)
	}
	return nil
}

// produce runs factory; its error is always surfaced.
func (cc *Cache[V]) produce(ctx context.Context, k string, tier Tier, factory Factory[V]) (V, error) {
	v, err := factory(ctx)
	if err != nil {
		cc.h.log.Error("tiercache: factory failed", Fields{"key": k, "tier": tier.String(), "op": "factory", "err": err})
		var zero V
		return zero, &OpError{Op: "factory", Key: k, Tier: tier, Kind: KindFactory, Err: err}
	}
	return v, nil
}

func (cc *Cache[V]) report(t Tier, k string, hit bool) {
	if hit {
		cc.h.hooks.Hit(t, k)
		return
	}
	cc.h.hooks.Miss(t, k)
}

var (
	errNoRemote   = fmt.Errorf("%w: remote tier not configured", ErrValidation)
	errNilFactory = fmt.Errorf("%w: nil factory", ErrValidation)
)
