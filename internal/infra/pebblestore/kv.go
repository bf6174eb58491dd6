// Package pebblestore is the single-node session store used when store.driver is "pebble".
package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/ports/repository"
	"comment-refiner/internal/infra/metrics"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var _ repository.KVStore = (*KV)(nil)

// header is the big-endian expiry (unix nanos, 0 = never) stored before every value.
const header = 8

type KV struct {
	db  *pebble.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens (or creates) the store at path. ttl <= 0 keeps values forever.
func Open(path string, ttl time.Duration) (*KV, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, err
	}
	return open(path, &pebble.Options{}, ttl)
}

// OpenInMemory backs the store with an in-memory filesystem.
func OpenInMemory(ttl time.Duration) (*KV, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, ttl)
}

func open(path string, opts *pebble.Options, ttl time.Duration) (*KV, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &KV{db: db, ttl: ttl, now: time.Now}, nil
}

func (k *KV) Close() error {
	if k == nil || k.db == nil {
		return nil
	}
	return k.db.Close()
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, closer, err := k.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		metrics.IncCacheRequest("session", "miss")
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get %s: %w", key, err)
	}
	defer closer.Close()

	if len(v) < header {
		return nil, fmt.Errorf("pebble get %s: truncated value", key)
	}
	if exp := int64(binary.BigEndian.Uint64(v[:header])); exp != 0 && k.now().UnixNano() >= exp {
		metrics.IncCacheRequest("session", "miss")
		_ = k.db.Delete([]byte(key), pebble.NoSync)
		return nil, domain.ErrNotFound
	}
	// copy value, v is only valid until closer.Close
	out := make([]byte, len(v)-header)
	copy(out, v[header:])
	metrics.IncCacheRequest("session", "hit")
	return out, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var exp int64
	if k.ttl > 0 {
		exp = k.now().Add(k.ttl).UnixNano()
	}
	buf := make([]byte, header+len(value))
	binary.BigEndian.PutUint64(buf[:header], uint64(exp))
	copy(buf[header:], value)
	if err := k.db.Set([]byte(key), buf, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	return nil
}
