// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/model"
	"comment-refiner/internal/domain/ports/adapter"
	"comment-refiner/internal/domain/ports/repository"
)

// reply is one scripted generation: fragments streamed in order, then err (if any).
type reply struct {
	frags []string
	err   error
}

func say(frags ...string) reply { return reply{frags: frags} }

// scriptedAI replays replies in order and records every transcript it was called with.
type scriptedAI struct {
	mu      sync.Mutex
	replies []reply
	calls   [][]adapter.Message
	pulled  int // fragments consumed by callers
}

func newScriptedAI(replies ...reply) *scriptedAI { return &scriptedAI{replies: replies} }

func (a *scriptedAI) ListModels(ctx context.Context) ([]string, error) {
	return []string{"test-model"}, nil
}

func (a *scriptedAI) ChatStream(ctx context.Context, model string, messages []adapter.Message) iter.Seq2[string, error] {
	a.mu.Lock()
	a.calls = append(a.calls, append([]adapter.Message(nil), messages...))
	var r reply
	if len(a.replies) == 0 {
		r = reply{err: errors.New("no scripted reply left")}
	} else {
		r, a.replies = a.replies[0], a.replies[1:]
	}
	a.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, f := range r.frags {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			a.mu.Lock()
			a.pulled++
			a.mu.Unlock()
			if !yield(f, nil) {
				return
			}
		}
		if r.err != nil {
			yield("", r.err)
		}
	}
}

func (a *scriptedAI) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// memSessionRepo stores deep copies so tests observe exactly what was persisted.
type memSessionRepo struct {
	mu      sync.Mutex
	store   map[string]*model.Session
	saves   int
	saveErr error
	history []model.Session // snapshot per save
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{store: make(map[string]*model.Session)}
}

func cloneSession(s *model.Session) *model.Session {
	cp := *s
	cp.Transcript = append([]model.Message(nil), s.Transcript...)
	return &cp
}

func (m *memSessionRepo) Save(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.store[s.ID] = cloneSession(s)
	m.history = append(m.history, *cloneSession(s))
	return nil
}

func (m *memSessionRepo) Load(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *memSessionRepo) put(s *model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[s.ID] = cloneSession(s)
}

// fakeIndex returns canned hits and records the scopes it was asked to open.
type fakeIndex struct {
	mu       sync.Mutex
	hits     []repository.Neighbor
	queryErr error
	openErr  error
	opened   []string
	queries  []string
	lastTopK int
}

func (f *fakeIndex) OpenScope(ctx context.Context, scopeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = append(f.opened, scopeID)
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, scopeID, text string, topK int) ([]repository.Neighbor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	f.lastTopK = topK
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) AddDocuments(ctx context.Context, scopeID string, texts, ids []string) error {
	return nil
}

// fakeLocker hands out one lock per key.
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	unlocked int
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]string)} }

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return "", domain.ErrTurnInProgress
	}
	tok := key + "-token"
	l.held[key] = tok
	return tok, nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return errors.New("lock not held")
	}
	delete(l.held, key)
	l.unlocked++
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []adapter.OpinionCompleted
	err    error
}

func (f *fakeEvents) PublishOpinionCompleted(ctx context.Context, ev adapter.OpinionCompleted) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}
