// File: internal/usecase/refine_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/model"
	"comment-refiner/internal/domain/ports/adapter"
	"comment-refiner/internal/domain/ports/repository"
	"comment-refiner/internal/infra/logging"
	"comment-refiner/internal/infra/metrics"
)

// Compile-time check
var _ RefineUseCase = (*refineUC)(nil)

// TurnRequest is one inbound user turn. SessionID resumes a dialogue; otherwise Article starts one.
type TurnRequest struct {
	SessionID string
	Article   string
	UserInput string
}

// TurnChunk is one streamed output value with the session state after it was produced.
type TurnChunk struct {
	SessionID string
	Delta     string
	State     model.ConversationState
}

type RefineUseCase interface {
	// Turn runs one turn and calls emit for every output value, after the session has been saved.
	// An emit error stops the turn and is returned as is.
	Turn(ctx context.Context, req TurnRequest, emit func(TurnChunk) error) error
	Snapshot(ctx context.Context, sessionID string) (*model.Session, error)
}

// RefineOptions carries the optional collaborators of the refinement use case.
type RefineOptions struct {
	Index   repository.SimilarityIndex // nil disables scope resolution for new sessions
	Locker  repository.Locker          // nil disables per-session turn serialisation
	LockTTL time.Duration
	Events  adapter.EventPublisher // nil disables completion events
	Logger  *zerolog.Logger
	Dev     bool
}

type refineUC struct {
	sessions repository.SessionRepository
	machine  *Machine
	index    repository.SimilarityIndex
	locker   repository.Locker
	lockTTL  time.Duration
	events   adapter.EventPublisher
	log      *zerolog.Logger
	dev      bool
	newID    func() string
}

func NewRefineUseCase(sessions repository.SessionRepository, machine *Machine, opts RefineOptions) *refineUC {
	logger := opts.Logger
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &refineUC{
		sessions: sessions,
		machine:  machine,
		index:    opts.Index,
		locker:   opts.Locker,
		lockTTL:  ttl,
		events:   opts.Events,
		log:      logger,
		dev:      opts.Dev,
		newID:    func() string { return ulid.Make().String() },
	}
}

func (u *refineUC) Turn(ctx context.Context, req TurnRequest, emit func(TurnChunk) error) (err error) {
	fromLabel := "unknown"
	defer func() { metrics.IncTurn(fromLabel, turnOutcome(err)) }()

	if strings.TrimSpace(req.UserInput) == "" {
		return fmt.Errorf("%w: user input is missing", domain.ErrInvalidArgument)
	}
	sessionID := strings.TrimSpace(req.SessionID)
	article := strings.TrimSpace(req.Article)
	if sessionID == "" && article == "" {
		return fmt.Errorf("%w: either session id or article is required", domain.ErrInvalidArgument)
	}

	var s *model.Session
	if sessionID != "" {
		unlock, err := u.lock(ctx, sessionID)
		if err != nil {
			return err
		}
		defer unlock()

		s, err = u.sessions.Load(ctx, sessionID)
		if err != nil {
			return err
		}
	} else {
		s, err = u.create(ctx, article)
		if err != nil {
			return err
		}
	}

	ctx = logging.WithSessID(ctx, s.ID)
	l := logging.With(ctx, u.log)
	defer logging.TraceDuration(l, "RefineUC.Turn")()

	from := s.State
	fromLabel = from.String()

	if s.Complete() {
		return domain.ErrTerminalState
	}

	out, err := u.machine.Advance(ctx, s, req.UserInput)
	if err != nil {
		return err
	}
	for delta, err := range out {
		if err != nil {
			l.Warn().Err(err).Str("state", s.State.String()).Msg("turn failed")
			return err
		}
		if err := u.save(ctx, s); err != nil {
			return err
		}
		if err := emit(TurnChunk{SessionID: s.ID, Delta: delta, State: s.State}); err != nil {
			return err
		}
	}
	if err := u.save(ctx, s); err != nil {
		return err
	}

	l.Info().
		Str("from", from.String()).
		Str("to", s.State.String()).
		Int("transcript_len", len(s.Transcript)).
		Msg("turn complete")

	if s.Complete() {
		u.publishCompleted(ctx, s)
	}
	return nil
}

func (u *refineUC) Snapshot(ctx context.Context, sessionID string) (*model.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrInvalidArgument)
	}
	return u.sessions.Load(ctx, sessionID)
}

func (u *refineUC) create(ctx context.Context, article string) (*model.Session, error) {
	scopeID := model.ScopeIDForArticle(article)
	if u.index != nil {
		if err := u.index.OpenScope(ctx, scopeID); err != nil {
			return nil, fmt.Errorf("%w: open similarity scope: %w", domain.ErrUpstream, err)
		}
	}
	return model.NewSession(u.newID(), article, scopeID, articlePrompt(article), OnboardingPrompt), nil
}

func (u *refineUC) lock(ctx context.Context, sessionID string) (func(), error) {
	if u.locker == nil {
		return func() {}, nil
	}
	key := "refine_lock:" + sessionID
	token, err := u.locker.TryLock(ctx, key, u.lockTTL)
	if err != nil {
		return nil, err
	}
	return func() {
		// the request context may already be cancelled
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := u.locker.Unlock(uctx, key, token); err != nil {
			u.log.Warn().Err(err).Str("session_id", sessionID).Msg("unlock failed")
		}
	}, nil
}

func (u *refineUC) save(ctx context.Context, s *model.Session) error {
	if err := u.sessions.Save(ctx, s); err != nil {
		metrics.IncSessionSave(false)
		return fmt.Errorf("save session: %w", err)
	}
	metrics.IncSessionSave(true)
	return nil
}

func (u *refineUC) publishCompleted(ctx context.Context, s *model.Session) {
	if u.events == nil {
		return
	}
	ev := adapter.OpinionCompleted{
		SessionID:   s.ID,
		ScopeID:     s.ScopeID,
		Comment:     s.LatestComment,
		CompletedAt: s.UpdatedAt,
	}
	if err := u.events.PublishOpinionCompleted(ctx, ev); err != nil {
		u.log.Warn().Err(err).Str("session_id", s.ID).Msg("publish opinion.completed failed")
	}
}

func turnOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrTerminalState):
		return "terminal"
	case errors.Is(err, domain.ErrTurnInProgress):
		return "busy"
	case errors.Is(err, domain.ErrUpstream):
		return "upstream"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
