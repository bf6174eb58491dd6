package repository

import (
	"context"
	"time"

	"comment-refiner/internal/domain/model"
)

// KVStore is an opaque byte store. Get returns domain.ErrNotFound for absent keys.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// SessionRepository persists refinement sessions between turns.
type SessionRepository interface {
	Save(ctx context.Context, session *model.Session) error
	// Load returns domain.ErrNotFound when no session is stored under id.
	Load(ctx context.Context, id string) (*model.Session, error)
}

// Locker serialises turns for one session id across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
