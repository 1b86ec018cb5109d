package ristretto

import (
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/local"
)

func TestSetIsVisibleImmediately(t *testing.T) {
	b, err := New(Config{NumCounters: 1000, MaxCost: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	ok, err := b.Set("k", "v", 1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	if v, ok := b.Get("k"); !ok || v != "v" {
		t.Fatalf("Get after Set: ok=%v v=%v", ok, v)
	}
	b.Del("k")
	if _, ok := b.Get("k"); ok {
		t.Fatalf("Del should be immediate")
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{MaxCost: -1}); err == nil {
		t.Fatalf("expected error for negative MaxCost")
	}
}

func TestWithStore(t *testing.T) {
	b, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	s := local.New(b, local.Config{CleanupInterval: -1})
	defer s.Close()

	if err := s.Set("a", 42, local.EntryOptions{Timeout: time.Minute, Priority: local.High}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.TryGet("a")
	if err != nil || !ok || v != 42 {
		t.Fatalf("TryGet: v=%v ok=%v err=%v", v, ok, err)
	}
}
