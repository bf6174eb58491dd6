// Package sessionstore persists refinement sessions as versioned JSON records in a byte store.
package sessionstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/model"
	"comment-refiner/internal/domain/ports/repository"
)

var _ repository.SessionRepository = (*Store)(nil)

const keyPrefix = "refine_session:"

// Cipher seals records at rest. aad binds a blob to its session id.
type Cipher interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(data, aad []byte) ([]byte, error)
}

// ScopeResolver looks up a similarity scope without creating it.
type ScopeResolver interface {
	ResolveScope(ctx context.Context, scopeID string) error
}

type Store struct {
	kv     repository.KVStore
	scopes ScopeResolver
	cipher Cipher
}

// New builds the store. scopes re-resolves the similarity scope of loaded sessions and may be nil;
// cipher may be nil to store plain JSON.
func New(kv repository.KVStore, scopes ScopeResolver, cipher Cipher) *Store {
	return &Store{kv: kv, scopes: scopes, cipher: cipher}
}

func Key(id string) string { return keyPrefix + id }

func (st *Store) Save(ctx context.Context, s *model.Session) error {
	b, err := encode(s)
	if err != nil {
		return err
	}
	if st.cipher != nil {
		sealed, err := st.cipher.Seal(b, []byte(s.ID))
		if err != nil {
			return fmt.Errorf("seal session %s: %w", s.ID, err)
		}
		b = append(append([]byte{}, sealedMagic...), sealed...)
	}
	return st.kv.Set(ctx, Key(s.ID), b)
}

func (st *Store) Load(ctx context.Context, id string) (*model.Session, error) {
	b, err := st.kv.Get(ctx, Key(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	if bytes.HasPrefix(b, sealedMagic) {
		if st.cipher == nil {
			return nil, fmt.Errorf("%w: session %s is sealed and no key is configured", domain.ErrCorruptSession, id)
		}
		b, err = st.cipher.Open(b[len(sealedMagic):], []byte(id))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrCorruptSession, err)
		}
	}

	s, err := decode(b, id)
	if err != nil {
		return nil, err
	}

	if s.ScopeID == "" {
		s.ScopeID = model.ScopeIDForArticle(s.Article)
	}
	if _, err := uuid.Parse(s.ScopeID); err != nil {
		return nil, fmt.Errorf("%w: scope id %q", domain.ErrCorruptSession, s.ScopeID)
	}
	if st.scopes != nil {
		if err := st.scopes.ResolveScope(ctx, s.ScopeID); err != nil {
			return nil, fmt.Errorf("%w: resolve similarity scope: %w", domain.ErrUpstream, err)
		}
	}
	return s, nil
}
