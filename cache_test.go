package tiercache

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/local"
	"github.com/unkn0wn-root/tiercache/local/lru"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu  sync.Mutex
	m   map[string]memEntry
	err error // returned by every op when set
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, false, p.err
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return false, p.err
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: value, exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

type recLogger struct {
	mu     sync.Mutex
	errors []Fields
	debugs []Fields
}

func (l *recLogger) Debug(_ string, f Fields) {
	l.mu.Lock()
	l.debugs = append(l.debugs, f)
	l.mu.Unlock()
}

func (l *recLogger) Info(string, Fields) {}
func (l *recLogger) Warn(string, Fields) {}
func (l *recLogger) Error(_ string, f Fields) {
	l.mu.Lock()
	l.errors = append(l.errors, f)
	l.mu.Unlock()
}

func (l *recLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// debugOp reports whether a Debug entry was logged with the given op.
func (l *recLogger) debugOp(op string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.debugs {
		if f["op"] == op {
			return true
		}
	}
	return false
}

type backendErrHooks struct {
	NopHooks
	mu   sync.Mutex
	errs int
}

func (h *backendErrHooks) BackendError(Tier, string, string, error) {
	h.mu.Lock()
	h.errs++
	h.mu.Unlock()
}

func (h *backendErrHooks) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errs
}

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestHybrid(t *testing.T, optsOpt func(*Options)) *Hybrid {
	t.Helper()
	b, err := lru.New(1024)
	if err != nil {
		t.Fatalf("lru.New: %v", err)
	}
	opts := Options{Local: b, Remote: newMemProvider(), CleanupInterval: -1}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	h, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

func constFactory[V any](v V, calls *int) Factory[V] {
	return func(context.Context) (V, error) {
		*calls++
		return v, nil
	}
}

func TestGetOrCreateCachesOnMiss(t *testing.T) {
	ctx := context.Background()
	for _, tier := range []Tier{TierLocal, TierRemote} {
		t.Run(tier.String(), func(t *testing.T) {
			h := newTestHybrid(t, nil)
			cc := Typed[string](h, nil)
			calls := 0

			v, err := cc.GetOrCreate(ctx, "k", constFactory("v1", &calls), WithTier(tier))
			if err != nil || v != "v1" {
				t.Fatalf("GetOrCreate: v=%q err=%v", v, err)
			}
			got, ok, err := cc.TryGetValue(ctx, "k", WithTier(tier))
			if err != nil || !ok || got != "v1" {
				t.Fatalf("TryGetValue: got=%q ok=%v err=%v", got, ok, err)
			}
			if v, _ := cc.GetOrCreate(ctx, "k", constFactory("v2", &calls), WithTier(tier)); v != "v1" {
				t.Fatalf("second GetOrCreate returned %q", v)
			}
			if calls != 1 {
				t.Fatalf("factory ran %d times, want 1", calls)
			}
		})
	}
}

func TestMissReturnsZeroValue(t *testing.T) {
	h := newTestHybrid(t, nil)
	cc := Typed[user](h, nil)
	got, ok, err := cc.TryGetValue(context.Background(), "unset-key")
	if err != nil || ok || got != (user{}) {
		t.Fatalf("expected zero miss, got=%v ok=%v err=%v", got, ok, err)
	}
}

func TestTimeoutExpiry(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, nil)
	cc := Typed[string](h, nil)

	if _, err := cc.Set(ctx, "k", "v1", WithTimeout(100*time.Millisecond)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if _, ok, _ := cc.TryGetValue(ctx, "k"); ok {
		t.Fatalf("entry should have expired")
	}
}

func TestDefaultRistrettoBackend(t *testing.T) {
	ctx := context.Background()
	h, err := New(Options{CleanupInterval: -1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(ctx)
	cc := Typed[string](h, nil)

	if _, err := cc.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := cc.TryGetValue(ctx, "k"); err != nil || !ok || v != "v1" {
		t.Fatalf("TryGetValue: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestClearLocalInvalidatesAll(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, nil)
	cc := Typed[string](h, nil)

	_, _ = cc.Set(ctx, "a", "1")
	_, _ = cc.Set(ctx, "b", "2")
	before := h.Epoch()
	if next := h.ClearLocal(); next != before+1 {
		t.Fatalf("ClearLocal epoch = %d, want %d", next, before+1)
	}
	for _, k := range []string{"a", "b"} {
		if _, ok, _ := cc.TryGetValue(ctx, k); ok {
			t.Fatalf("%s should miss after ClearLocal", k)
		}
	}

	calls := 0
	if v, err := cc.GetOrCreate(ctx, "a", constFactory("again", &calls)); err != nil || v != "again" {
		t.Fatalf("GetOrCreate: v=%q err=%v", v, err)
	}
	if calls != 1 {
		t.Fatalf("factory should run after ClearLocal, calls=%d", calls)
	}
}

func TestConcreteUsersScenario(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, nil)
	cc := Typed[string](h, nil)

	opts := []CallOption{WithTimeout(time.Minute), WithSliding(false), WithTier(TierLocal)}
	if v, err := cc.Set(ctx, "users:1", "v1", opts...); err != nil || v != "v1" {
		t.Fatalf("Set: v=%q err=%v", v, err)
	}
	if v, ok, _ := cc.TryGetValue(ctx, "users:1"); !ok || v != "v1" {
		t.Fatalf("TryGetValue: v=%q ok=%v", v, ok)
	}
	h.ClearLocal()
	if v, ok, _ := cc.TryGetValue(ctx, "users:1"); ok || v != "" {
		t.Fatalf("after ClearLocal: v=%q ok=%v", v, ok)
	}
}

func TestRemoteUnaffectedByClearLocal(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, nil)
	cc := Typed[user](h, nil)
	u := user{ID: "1", Name: "Ada"}

	if _, err := cc.Set(ctx, "u1", u, WithTier(TierRemote)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	h.ClearLocal()
	got, ok, err := cc.TryGetValue(ctx, "u1", WithTier(TierRemote))
	if err != nil || !ok || got != u {
		t.Fatalf("remote value lost: got=%v ok=%v err=%v", got, ok, err)
	}
}

func TestAnalyticsDisabled(t *testing.T) {
	log := &recLogger{}
	h := newTestHybrid(t, func(o *Options) { o.Logger = log })
	if _, err := h.MetaEntries(); !errors.Is(err, ErrAnalyticsDisabled) {
		t.Fatalf("expected ErrAnalyticsDisabled, got %v", err)
	}
	if !log.debugOp("meta_entries") {
		t.Fatalf("disabled MetaEntries should be logged")
	}
}

func TestAnalyticsHitCount(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, func(o *Options) { o.Analytics = TrackKeysAndHits })
	cc := Typed[string](h, nil)

	if _, err := cc.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, ok, _ := cc.TryGetValue(ctx, "k"); !ok {
			t.Fatalf("hit %d missed", i)
		}
	}
	entries, err := h.MetaEntries()
	if err != nil {
		t.Fatalf("MetaEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.HitCount != 3 {
		t.Fatalf("HitCount = %d, want 3", e.HitCount)
	}
	if !strings.HasSuffix(e.Key, ":K") || e.Timeout != defaultTTL || e.Sliding {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.LastAccessedAt.Before(e.CreatedAt) {
		t.Fatalf("LastAccessedAt before CreatedAt: %+v", e)
	}
}

func TestAnalyticsKeysOnlyDoesNotCountHits(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, func(o *Options) { o.Analytics = TrackKeys })
	cc := Typed[string](h, nil)

	calls := 0
	_, _ = cc.GetOrCreate(ctx, "k", constFactory("v", &calls))
	_, _ = cc.GetOrCreate(ctx, "k", constFactory("v", &calls))
	entries, err := h.MetaEntries()
	if err != nil || len(entries) != 1 {
		t.Fatalf("MetaEntries: %v %v", entries, err)
	}
	if entries[0].HitCount != 0 {
		t.Fatalf("hits must not be counted in keys-only mode")
	}
}

func TestAnalyticsFollowsEvictionAndClear(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, func(o *Options) { o.Analytics = TrackKeysAndHits })
	cc := Typed[string](h, nil)

	_, _ = cc.Set(ctx, "a", "1")
	_, _ = cc.Set(ctx, "b", "2")
	if err := cc.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	entries, _ := h.MetaEntries()
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Key, ":B") {
		t.Fatalf("after Remove: %+v", entries)
	}

	h.ClearLocal()
	if entries, _ := h.MetaEntries(); len(entries) != 0 {
		t.Fatalf("after ClearLocal: %+v", entries)
	}
	// old entry evicted lazily after the clear must not disturb a new one
	_, _ = cc.Set(ctx, "b", "3")
	if entries, _ := h.MetaEntries(); len(entries) != 1 {
		t.Fatalf("after re-Set: %+v", entries)
	}
}

func TestFactoryErrorNeverMasked(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("db down")
	for _, throw := range []bool{false, true} {
		h := newTestHybrid(t, func(o *Options) { o.ThrowOnFailure = throw })
		cc := Typed[string](h, nil)

		_, err := cc.GetOrCreate(ctx, "k", func(context.Context) (string, error) { return "", boom })
		var oe *OpError
		if !errors.As(err, &oe) || oe.Kind != KindFactory || !errors.Is(err, boom) || !errors.Is(err, ErrFactory) {
			t.Fatalf("throw=%v: expected factory OpError, got %v", throw, err)
		}
		if !strings.HasSuffix(oe.Key, ":K") {
			t.Fatalf("error should carry the key, got %q", oe.Key)
		}
		if _, ok, _ := cc.TryGetValue(ctx, "k"); ok {
			t.Fatalf("failed factory result must not be cached")
		}
	}
}

func TestRemoteFailureMaskedByDefault(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	log := &recLogger{}
	h := newTestHybrid(t, func(o *Options) { o.Remote = mp; o.Logger = log; o.DefaultTier = TierRemote })
	cc := Typed[string](h, nil)
	mp.fail(errors.New("connection refused"))

	calls := 0
	v, err := cc.GetOrCreate(ctx, "k", constFactory("fresh", &calls))
	if err != nil || v != "fresh" || calls != 1 {
		t.Fatalf("masked GetOrCreate: v=%q err=%v calls=%d", v, err, calls)
	}
	if _, ok, err := cc.TryGetValue(ctx, "k"); ok || err != nil {
		t.Fatalf("masked TryGetValue: ok=%v err=%v", ok, err)
	}
	if v, err := cc.Set(ctx, "k", "x"); err != nil || v != "x" {
		t.Fatalf("masked Set: v=%q err=%v", v, err)
	}
	if log.count() == 0 {
		t.Fatalf("masked failures must still be logged")
	}
	f := log.errors[0]
	for _, name := range []string{"key", "tier", "op", "err"} {
		if _, ok := f[name]; !ok {
			t.Fatalf("log fields missing %q: %v", name, f)
		}
	}
}

func TestRemoteFailureStrict(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := newTestHybrid(t, func(o *Options) { o.Remote = mp; o.ThrowOnFailure = true })
	cc := Typed[string](h, nil)
	mp.fail(errors.New("connection refused"))

	_, _, err := cc.TryGetValue(ctx, "k", WithTier(TierRemote))
	var oe *OpError
	if !errors.As(err, &oe) || oe.Kind != KindBackend || oe.Tier != TierRemote || !errors.Is(err, ErrBackend) {
		t.Fatalf("expected backend OpError, got %v", err)
	}

	v, err := cc.Set(ctx, "k", "x", WithTier(TierRemote))
	if v != "x" || !errors.Is(err, ErrBackend) {
		t.Fatalf("Set: v=%q err=%v", v, err)
	}

	// per-call override masks again
	if _, _, err := cc.TryGetValue(ctx, "k", WithTier(TierRemote), WithThrowOnFailure(false)); err != nil {
		t.Fatalf("override should mask, got %v", err)
	}
}

func TestStrictGetOrCreateReturnsValueOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, func(o *Options) {
		o.Remote = failingSetProvider{newMemProvider()}
		o.ThrowOnFailure = true
	})
	cc := Typed[string](h, nil)

	v, err := cc.GetOrCreate(ctx, "k", func(context.Context) (string, error) { return "computed", nil }, WithTier(TierRemote))
	if v != "computed" || !errors.Is(err, ErrBackend) {
		t.Fatalf("v=%q err=%v", v, err)
	}
}

type failingSetProvider struct{ *memProvider }

func (failingSetProvider) Set(context.Context, string, []byte, int64, time.Duration) (bool, error) {
	return false, errors.New("read-only replica")
}

func TestCorruptRemoteEntryIsSerializationError(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := newTestHybrid(t, func(o *Options) { o.Remote = mp; o.ThrowOnFailure = true })
	cc := Typed[string](h, nil)

	k, err := h.key(cc.typ, "k")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	_, _ = mp.Set(ctx, k, []byte("garbage"), 1, 0)

	_, _, err = cc.TryGetValue(ctx, "k", WithTier(TierRemote))
	if !errors.Is(err, ErrSerialization) || !errors.Is(err, ErrBackend) {
		t.Fatalf("expected serialization error, got %v", err)
	}
	if mp.len() != 0 {
		t.Fatalf("corrupt entry should be deleted")
	}
}

func TestRemoveBothTiers(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := newTestHybrid(t, func(o *Options) { o.Remote = mp })
	cc := Typed[string](h, nil)

	_, _ = cc.Set(ctx, "k", "local")
	_, _ = cc.Set(ctx, "k", "remote", WithTier(TierRemote))
	if err := cc.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := cc.TryGetValue(ctx, "k"); ok {
		t.Fatalf("local entry survived Remove")
	}
	if _, ok, _ := cc.TryGetValue(ctx, "k", WithTier(TierRemote)); ok {
		t.Fatalf("remote entry survived Remove")
	}
}

func TestRemoveReportsRemoteFailure(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := newTestHybrid(t, func(o *Options) { o.Remote = mp })
	cc := Typed[string](h, nil)

	_, _ = cc.Set(ctx, "k", "local")
	mp.fail(errors.New("timeout"))

	if err := cc.Remove(ctx, "k"); err != nil {
		t.Fatalf("masked Remove returned %v", err)
	}
	if _, ok, _ := cc.TryGetValue(ctx, "k"); ok {
		t.Fatalf("local removal must not depend on the remote tier")
	}

	_, _ = cc.Set(ctx, "k", "local")
	err := cc.Remove(ctx, "k", WithThrowOnFailure(true))
	var re *RemoveError
	if !errors.As(err, &re) || re.LocalErr != nil || re.RemoteErr == nil {
		t.Fatalf("expected remote-only RemoveError, got %v", err)
	}
}

func TestDisabledCallsFactoryDirectly(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, func(o *Options) { o.Disabled = true })
	cc := Typed[string](h, nil)

	calls := 0
	for i := 0; i < 2; i++ {
		if v, err := cc.GetOrCreate(ctx, "k", constFactory("v", &calls)); err != nil || v != "v" {
			t.Fatalf("GetOrCreate: v=%q err=%v", v, err)
		}
	}
	if calls != 2 {
		t.Fatalf("disabled cache must not store, calls=%d", calls)
	}

	// per-call enable overrides the global flag
	_, _ = cc.Set(ctx, "k", "v", WithEnabled(true))
	if _, ok, _ := cc.TryGetValue(ctx, "k", WithEnabled(true)); !ok {
		t.Fatalf("WithEnabled(true) should reach the store")
	}
	if _, ok, _ := cc.TryGetValue(ctx, "k"); ok {
		t.Fatalf("disabled read should miss")
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, nil)
	cc := Typed[string](h, nil)

	cases := []struct {
		name string
		key  string
		opts []CallOption
	}{
		{"empty key", "  ", nil},
		{"negative timeout", "k", []CallOption{WithTimeout(-5 * time.Second)}},
		{"no expiration without pin", "k", []CallOption{WithTimeout(NoExpiration)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := cc.Set(ctx, tc.key, "v", tc.opts...)
			var oe *OpError
			if !errors.As(err, &oe) || oe.Kind != KindValidation || !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation OpError, got %v", err)
			}
		})
	}

	if _, err := cc.Set(ctx, "pinned", "v", WithTimeout(NoExpiration), WithPriority(local.NeverRemove)); err != nil {
		t.Fatalf("NoExpiration with NeverRemove should be accepted: %v", err)
	}
	if _, ok, _ := cc.TryGetValue(ctx, "pinned"); !ok {
		t.Fatalf("pinned entry should be readable")
	}
}

func TestRemoteTierRequiresProvider(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, func(o *Options) { o.Remote = nil })
	cc := Typed[string](h, nil)
	if _, _, err := cc.TryGetValue(ctx, "k", WithTier(TierRemote)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := New(Options{DefaultTier: TierRemote}); !errors.Is(err, ErrValidation) {
		t.Fatalf("New should reject remote default tier without provider, got %v", err)
	}
}

func TestTypesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, nil)
	s := Typed[string](h, nil)
	n := Typed[int](h, nil)

	_, _ = s.Set(ctx, "1", "one")
	_, _ = n.Set(ctx, "1", 1)
	if v, ok, _ := s.TryGetValue(ctx, "1"); !ok || v != "one" {
		t.Fatalf("string view: v=%q ok=%v", v, ok)
	}
	if v, ok, _ := n.TryGetValue(ctx, "1"); !ok || v != 1 {
		t.Fatalf("int view: v=%d ok=%v", v, ok)
	}
}

func TestKeyCompaction(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, func(o *Options) { o.MaxKeyLength = 40 })
	cc := Typed[string](h, nil)
	long := strings.Repeat("x", 200)

	if _, err := cc.Set(ctx, long, "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, _ := cc.TryGetValue(ctx, long); !ok || v != "v" {
		t.Fatalf("compacted key lookup failed: v=%q ok=%v", v, ok)
	}
	k, _ := h.key(cc.typ, long)
	if len(k) > 40 {
		t.Fatalf("key not compacted: %d bytes", len(k))
	}
}

func TestCustomTrigger(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, nil)
	cc := Typed[string](h, nil)

	var fired bool
	_, _ = cc.Set(ctx, "k", "v", WithTriggers(local.TriggerFunc(func() bool { return fired })))
	if _, ok, _ := cc.TryGetValue(ctx, "k"); !ok {
		t.Fatalf("expected hit before trigger")
	}
	fired = true
	if _, ok, _ := cc.TryGetValue(ctx, "k"); ok {
		t.Fatalf("expected miss after trigger")
	}
}

func TestClosedCacheMasksFailures(t *testing.T) {
	ctx := context.Background()
	h := newTestHybrid(t, nil)
	cc := Typed[string](h, nil)
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	calls := 0
	if v, err := cc.GetOrCreate(ctx, "k", constFactory("v", &calls)); err != nil || v != "v" {
		t.Fatalf("GetOrCreate after Close: v=%q err=%v", v, err)
	}
	if _, err := cc.Set(ctx, "k", "v", WithThrowOnFailure(true)); !errors.Is(err, local.ErrClosed) {
		t.Fatalf("strict Set after Close: %v", err)
	}
}

func TestCanceledContextSkipsWork(t *testing.T) {
	for _, tier := range []Tier{TierLocal, TierRemote} {
		t.Run(tier.String(), func(t *testing.T) {
			log := &recLogger{}
			hooks := &backendErrHooks{}
			mp := newMemProvider()
			h := newTestHybrid(t, func(o *Options) {
				o.Remote = mp
				o.Logger = log
				o.Hooks = hooks
				o.DefaultTier = tier
			})
			cc := Typed[string](h, nil)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			calls := 0
			if _, err := cc.GetOrCreate(ctx, "k", constFactory("v", &calls)); !errors.Is(err, context.Canceled) {
				t.Fatalf("GetOrCreate: expected context.Canceled, got %v", err)
			}
			if calls != 0 {
				t.Fatalf("factory ran %d times on a canceled context", calls)
			}
			if _, _, err := cc.TryGetValue(ctx, "k"); !errors.Is(err, context.Canceled) {
				t.Fatalf("TryGetValue: expected context.Canceled, got %v", err)
			}
			if v, err := cc.Set(ctx, "k", "v"); v != "v" || !errors.Is(err, context.Canceled) {
				t.Fatalf("Set: v=%q err=%v", v, err)
			}

			bg := context.Background()
			if _, ok, _ := cc.TryGetValue(bg, "k"); ok {
				t.Fatalf("canceled Set stored a value")
			}
			if mp.len() != 0 {
				t.Fatalf("canceled Set reached the remote tier")
			}
			if hooks.count() != 0 || log.count() != 0 {
				t.Fatalf("cancellation reported as backend failure: hooks=%d errors=%d", hooks.count(), log.count())
			}
			if !log.debugOp("get") || !log.debugOp("set") {
				t.Fatalf("cancellation should be logged at debug")
			}
		})
	}
}

func TestCanceledRemoveTouchesNeitherTier(t *testing.T) {
	bg := context.Background()
	mp := newMemProvider()
	h := newTestHybrid(t, func(o *Options) { o.Remote = mp })
	cc := Typed[string](h, nil)

	_, _ = cc.Set(bg, "k", "local")
	_, _ = cc.Set(bg, "k", "remote", WithTier(TierRemote))

	ctx, cancel := context.WithCancel(bg)
	cancel()
	if err := cc.Remove(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Remove: expected context.Canceled, got %v", err)
	}
	if v, ok, _ := cc.TryGetValue(bg, "k"); !ok || v != "local" {
		t.Fatalf("local entry removed by canceled Remove: v=%q ok=%v", v, ok)
	}
	if v, ok, _ := cc.TryGetValue(bg, "k", WithTier(TierRemote)); !ok || v != "remote" {
		t.Fatalf("remote entry removed by canceled Remove: v=%q ok=%v", v, ok)
	}
}

// panicDelBackend fails every Del, which local.Store reports as an error.
type panicDelBackend struct{ *lru.Backend }

func (panicDelBackend) Del(string) { panic("del unavailable") }

func TestTypeMismatchHealFailureLogged(t *testing.T) {
	ctx := context.Background()
	b, err := lru.New(16)
	if err != nil {
		t.Fatalf("lru.New: %v", err)
	}
	log := &recLogger{}
	h := newTestHybrid(t, func(o *Options) {
		o.Local = panicDelBackend{b}
		o.Logger = log
		o.KeyBuilder = func(_ reflect.Type, key string) (string, error) { return key, nil }
	})
	strs := Typed[string](h, nil)
	ints := Typed[int](h, nil)

	_, _ = strs.Set(ctx, "k", "v")
	if _, ok, err := ints.TryGetValue(ctx, "k"); ok || err != nil {
		t.Fatalf("mismatched type should read as a miss: ok=%v err=%v", ok, err)
	}
	if !log.debugOp("self_heal") {
		t.Fatalf("failed self-heal removal should be logged")
	}
}

type failingCloseBackend struct{ *lru.Backend }

func (failingCloseBackend) Close() error { return errors.New("flush failed") }

func TestCloseReportsOwnedStoreErrors(t *testing.T) {
	b, err := lru.New(16)
	if err != nil {
		t.Fatalf("lru.New: %v", err)
	}
	h := newTestHybrid(t, func(o *Options) {
		o.Local = failingCloseBackend{b}
		o.OwnStores = true
	})
	err = h.Close(context.Background())
	if err == nil || !strings.Contains(err.Error(), "flush failed") {
		t.Fatalf("Close = %v, want owned backend error", err)
	}
	if again := h.Close(context.Background()); again != err {
		t.Fatalf("second Close = %v, want %v", again, err)
	}
}

func TestTrackHitsIsKeysAndHits(t *testing.T) {
	if TrackHits != TrackKeysAndHits || !TrackHits.keys() || !TrackHits.hits() {
		t.Fatalf("TrackHits = %d, want TrackKeysAndHits", TrackHits)
	}
	if got := TrackHits.String(); got != "keys_and_hits" {
		t.Fatalf("String = %q", got)
	}
	var m AnalyticsMode
	if err := m.UnmarshalText([]byte("hits")); err != nil || m != TrackHits {
		t.Fatalf("UnmarshalText(hits) = %v, %v", m, err)
	}
}

func TestClearLocalEntriesSweptFromBackend(t *testing.T) {
	ctx := context.Background()
	b, err := lru.New(16)
	if err != nil {
		t.Fatalf("lru.New: %v", err)
	}
	h := newTestHybrid(t, func(o *Options) { o.Local = b })
	cc := Typed[string](h, nil)

	for _, k := range []string{"a", "b", "c"} {
		_, _ = cc.Set(ctx, k, k)
	}
	h.ClearLocal()
	if b.Len() != 3 {
		t.Fatalf("ClearLocal should not touch the backend, Len = %d", b.Len())
	}
	if n := h.local.Sweep(); n != 3 {
		t.Fatalf("Sweep = %d, want 3", n)
	}
	if b.Len() != 0 {
		t.Fatalf("cleared entries left in backend: %d", b.Len())
	}
}
