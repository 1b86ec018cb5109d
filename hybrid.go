package tiercache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/unkn0wn-root/tiercache/internal/epoch"
	"github.com/unkn0wn-root/tiercache/internal/util"
	"github.com/unkn0wn-root/tiercache/keys"
	"github.com/unkn0wn-root/tiercache/local"
	"github.com/unkn0wn-root/tiercache/local/ristretto"
	pr "github.com/unkn0wn-root/tiercache/provider"
	"github.com/unkn0wn-root/tiercache/remote"
)

// Hybrid is the two-tier engine. Values are read and written through a
// typed view, see Typed. Safe for concurrent use.
type Hybrid struct {
	local    *local.Store
	backend  local.Backend
	ownLocal bool
	remote   pr.Provider

	log   Logger
	hooks Hooks

	enabled    bool
	defaultTTL time.Duration
	tier       Tier
	sliding    bool
	throw      bool
	priority   local.Priority
	analytics  AnalyticsMode
	keyBuilder KeyBuilder
	triggers   []local.Trigger
	maxKeyLen  int
	ownStores  bool
	now        func() time.Time

	epoch *epoch.Controller
	meta  *metaRegistry

	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) (*Hybrid, error) {
	if opts.DefaultTTL < 0 && (opts.DefaultTTL != NoExpiration || opts.Priority != local.NeverRemove) {
		return nil, fmt.Errorf("%w: DefaultTTL %v (NoExpiration requires NeverRemove priority)", ErrValidation, opts.DefaultTTL)
	}
	if opts.DefaultTier == TierRemote && opts.Remote == nil {
		return nil, fmt.Errorf("%w: remote tier selected but no Remote provider configured", ErrValidation)
	}
	if opts.MaxKeyLength < 0 {
		return nil, fmt.Errorf("%w: MaxKeyLength %d", ErrValidation, opts.MaxKeyLength)
	}

	h := &Hybrid{
		backend:    opts.Local,
		remote:     opts.Remote,
		enabled:    !opts.Disabled,
		tier:       opts.DefaultTier,
		sliding:    opts.Sliding,
		throw:      opts.ThrowOnFailure,
		priority:   opts.Priority,
		analytics:  opts.Analytics,
		keyBuilder: opts.KeyBuilder,
		triggers:   opts.Triggers,
		maxKeyLen:  opts.MaxKeyLength,
		ownStores:  opts.OwnStores,
		now:        time.Now,
		epoch:      epoch.New(),
		meta:       newMetaRegistry(),
	}
	h.log = coalesce[Logger](opts.Logger, NopLogger{})
	h.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	h.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)
	if h.keyBuilder == nil {
		h.keyBuilder = keys.Create
	}

	if h.backend == nil {
		b, err := ristretto.New(ristretto.Config{})
		if err != nil {
			return nil, fmt.Errorf("tiercache: default local backend: %w", err)
		}
		h.backend = b
		h.ownLocal = true
	}
	h.local = local.New(h.backend, local.Config{CleanupInterval: opts.CleanupInterval})
	return h, nil
}

func (h *Hybrid) Enabled() bool { return h.enabled }

// ClearLocal invalidates every Local entry in O(1) by moving to a new epoch
// and drops all analytics. The Remote tier is untouched. It returns the new
// epoch.
//
// Entries from older epochs stay in the backend, holding their cost, until
// they are read, evicted or swept. The janitor sweeps them on enumerable
// backends (lru); on ristretto they linger until capacity pressure evicts
// them.
func (h *Hybrid) ClearLocal() uint64 {
	next := h.epoch.ClearAll(func(uint64) { h.meta.reset() })
	h.hooks.LocalCleared(next)
	h.log.Info("local tier cleared", Fields{"epoch": next})
	return next
}

// Epoch is the current invalidation epoch.
func (h *Hybrid) Epoch() uint64 { return h.epoch.Current() }

// MetaEntries returns copies of the analytics for live Local entries of the
// current epoch, sorted by key.
func (h *Hybrid) MetaEntries() ([]MetaEntry, error) {
	if !h.analytics.keys() {
		h.log.Debug("tiercache: meta entries requested with analytics off", Fields{
			"op":  "meta_entries",
			"err": ErrAnalyticsDisabled,
		})
		return nil, ErrAnalyticsDisabled
	}
	return h.meta.snapshot(h.epoch.Current(), h.now()), nil
}

// Close stops background work. Local and Remote are closed as well when the
// cache owns them.
func (h *Hybrid) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.epoch.Close()
		var errs []error
		if err := h.local.Close(); err != nil {
			errs = append(errs, fmt.Errorf("local store: %w", err))
		}
		if h.ownLocal || h.ownStores {
			if err := h.backend.Close(); err != nil {
				errs = append(errs, fmt.Errorf("local: %w", err))
			}
		}
		if h.ownStores && h.remote != nil {
			if err := h.remote.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("remote: %w", err))
			}
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

func (h *Hybrid) resolve(opts []CallOption) (callConfig, error) {
	cfg := callConfig{
		tier:     h.tier,
		timeout:  h.defaultTTL,
		sliding:  h.sliding,
		priority: h.priority,
		throw:    h.throw,
		enabled:  h.enabled,
	}
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	switch {
	case cfg.timeout == NoExpiration && cfg.priority != local.NeverRemove:
		return cfg, fmt.Errorf("%w: NoExpiration requires NeverRemove priority", ErrValidation)
	case cfg.timeout < 0 && cfg.timeout != NoExpiration:
		return cfg, fmt.Errorf("%w: negative timeout %v", ErrValidation, cfg.timeout)
	case cfg.tier != TierLocal && cfg.tier != TierRemote:
		return cfg, fmt.Errorf("%w: unknown tier %v", ErrValidation, cfg.tier)
	}
	return cfg, nil
}

func (h *Hybrid) key(t reflect.Type, key string) (string, error) {
	k, err := h.keyBuilder(t, key)
	if err != nil {
		if !errors.Is(err, ErrValidation) {
			err = fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return "", err
	}
	return util.Compact(k, h.maxKeyLen), nil
}

// fail logs err and decides between masking (nil) and returning an
// *OpError. Validation and factory failures are always returned.
func (h *Hybrid) fail(op string, tier Tier, key string, err error, throw bool) error {
	if isContextErr(err) {
		h.log.Debug("tiercache: "+op+" canceled", Fields{
			"key":  key,
			"tier": tier.String(),
			"op":   op,
			"err":  err,
		})
		return err
	}
	kind := classify(err)
	h.log.Error("tiercache: "+op+" failed", Fields{
		"key":  key,
		"tier": tier.String(),
		"op":   op,
		"err":  err,
	})
	if kind == KindBackend || kind == KindSerialization {
		h.hooks.BackendError(tier, op, key, err)
		if !throw {
			return nil
		}
	}
	return &OpError{Op: op, Key: key, Tier: tier, Kind: kind, Err: err}
}

// canceled returns ctx's error, logged, when ctx is already done. Context
// errors are returned as is and never masked.
func (h *Hybrid) canceled(ctx context.Context, op string, tier Tier, key string) error {
	if err := ctx.Err(); err != nil {
		return h.fail(op, tier, key, err, true)
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, keys.ErrInvalid):
		return KindValidation
	case errors.Is(err, remote.ErrSerialization):
		return KindSerialization
	default:
		return KindBackend
	}
}

// setLocal writes value with the current epoch trigger attached and, when
// analytics are on, registers its MetaEntry.
func (h *Hybrid) setLocal(key string, value any, cfg callConfig) error {
	trig := h.epoch.Attach()
	triggers := make([]local.Trigger, 0, 1+len(h.triggers)+len(cfg.triggers))
	triggers = append(triggers, trig)
	triggers = append(triggers, h.triggers...)
	triggers = append(triggers, cfg.triggers...)

	var me *metaEntry
	if h.analytics.keys() {
		me = newMetaEntry(key, h.now(), cfg.timeout, cfg.sliding, trig.Gen())
		// registered before the write so an immediate eviction can undo it
		h.meta.register(me)
	}
	err := h.local.Set(key, value, local.EntryOptions{
		Timeout:  cfg.timeout,
		Sliding:  cfg.sliding,
		Priority: cfg.priority,
		Triggers: triggers,
		OnEvict: func(k string, _ any, r local.Reason) {
			if me != nil {
				h.meta.deregister(k, me)
			}
			h.hooks.LocalEvicted(k, r)
		},
	})
	if err == nil {
		return nil
	}
	if me != nil {
		h.meta.deregister(key, me)
	}
	if errors.Is(err, local.ErrRejected) {
		h.hooks.LocalSetRejected(key)
		h.log.Debug("local set rejected by backend", Fields{"key": key})
		return nil
	}
	return err
}

// getLocal returns the raw Local value and records the access.
func (h *Hybrid) getLocal(key string) (any, bool, error) {
	v, ok, err := h.local.TryGet(key)
	if err != nil || !ok {
		return nil, false, err
	}
	switch {
	case h.analytics.hits():
		h.meta.addHit(key, h.now())
	case h.analytics.keys():
		h.meta.touch(key, h.now())
	}
	return v, true, nil
}
