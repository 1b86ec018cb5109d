package tiercache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/local"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
enabled: false
default_timeout: 5m
tier: remote
sliding: true
throw_on_failure: true
priority: high
analytics: keys_and_hits
cleanup_interval: 30s
max_key_length: 128
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	var o Options
	cfg.Apply(&o)
	if !o.Disabled || o.DefaultTTL != 5*time.Minute || o.DefaultTier != TierRemote ||
		!o.Sliding || !o.ThrowOnFailure || o.Priority != local.High ||
		o.Analytics != TrackKeysAndHits || o.CleanupInterval != 30*time.Second || o.MaxKeyLength != 128 {
		t.Fatalf("unexpected options %+v", o)
	}
}

func TestParseConfigEmptyKeepsOptions(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	o := Options{DefaultTTL: time.Hour, Analytics: TrackKeys}
	cfg.Apply(&o)
	if o.DefaultTTL != time.Hour || o.Analytics != TrackKeys || o.Disabled {
		t.Fatalf("empty config changed options: %+v", o)
	}
}

func TestParseConfigZeroValuesOverride(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
tier: local
sliding: false
throw_on_failure: false
priority: normal
analytics: none
max_key_length: 0
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	o := Options{
		DefaultTier:    TierRemote,
		Sliding:        true,
		ThrowOnFailure: true,
		Priority:       local.High,
		Analytics:      TrackKeysAndHits,
		MaxKeyLength:   64,
		DefaultTTL:     time.Hour,
	}
	cfg.Apply(&o)
	if o.DefaultTier != TierLocal || o.Sliding || o.ThrowOnFailure || o.Priority != local.Normal ||
		o.Analytics != AnalyticsNone || o.MaxKeyLength != 0 {
		t.Fatalf("explicit zero values not applied: %+v", o)
	}
	if o.DefaultTTL != time.Hour {
		t.Fatalf("absent default_timeout changed DefaultTTL: %v", o.DefaultTTL)
	}
}

func TestParseConfigRejects(t *testing.T) {
	for _, doc := range []string{
		"tier: moon\n",
		"analytics: everything\n",
		"priority: urgent\n",
		"unknown_field: 1\n",
		"max_key_length: -1\n",
		"default_timeout: soon\n",
	} {
		if _, err := ParseConfig([]byte(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		} else if !errors.Is(err, ErrValidation) {
			t.Fatalf("%q: error should be a validation error: %v", doc, err)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	if err := os.WriteFile(path, []byte("analytics: keys\npriority: never_remove\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Analytics == nil || *cfg.Analytics != TrackKeys ||
		cfg.Priority == nil || *cfg.Priority != local.NeverRemove || cfg.Tier != nil {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestConfiguredCacheRuns(t *testing.T) {
	cfg, err := ParseConfig([]byte("analytics: hits\ndefault_timeout: 1m\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	opts := Options{CleanupInterval: -1}
	cfg.Apply(&opts)
	h, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(context.Background())
	if _, err := h.MetaEntries(); err != nil {
		t.Fatalf("analytics should be on: %v", err)
	}
}
