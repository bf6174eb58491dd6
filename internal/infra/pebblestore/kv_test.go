//go:build !integration

package pebblestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"comment-refiner/internal/domain"
)

func TestKV_RoundTrip(t *testing.T) {
	kv, err := OpenInMemory(0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer kv.Close()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "refine_session:x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("absent key: %v", err)
	}
	if err := kv.Set(ctx, "refine_session:x", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := kv.Get(ctx, "refine_session:x")
	if err != nil || string(got) != `{"version":1}` {
		t.Fatalf("get: %q %v", got, err)
	}
}

func TestKV_Expiry(t *testing.T) {
	kv, err := OpenInMemory(time.Minute)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer kv.Close()
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return base }
	if err := kv.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}

	kv.now = func() time.Time { return base.Add(30 * time.Second) }
	if _, err := kv.Get(ctx, "k"); err != nil {
		t.Fatalf("value must still be live: %v", err)
	}

	kv.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestKV_OnDisk(t *testing.T) {
	dir := t.TempDir()
	kv, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := kv.Set(context.Background(), "k", []byte("persisted")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	kv, err = Open(dir, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer kv.Close()
	got, err := kv.Get(context.Background(), "k")
	if err != nil || string(got) != "persisted" {
		t.Fatalf("get after reopen: %q %v", got, err)
	}
}
