package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/model"
	"comment-refiner/internal/infra/logging"
	"comment-refiner/internal/usecase"
)

const maxBodyBytes = 1 << 20

// ModelLister reports the models the generation backend can serve.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Server exposes the refinement dialogue over HTTP (NDJSON streaming) and websocket.
type Server struct {
	uc          usecase.RefineUseCase
	log         *zerolog.Logger
	turnTimeout time.Duration
	wsOrigins   []string
	models      ModelLister
}

func NewServer(uc usecase.RefineUseCase, logger *zerolog.Logger, turnTimeout time.Duration, wsOrigins []string) *Server {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	if turnTimeout <= 0 {
		turnTimeout = 2 * time.Minute
	}
	return &Server{uc: uc, log: logger, turnTimeout: turnTimeout, wsOrigins: wsOrigins}
}

// WithModels makes /ready depend on the generation backend listing at least one model.
func (s *Server) WithModels(m ModelLister) *Server {
	s.models = m
	return s
}

// Routes builds the router wrapped in the standard middleware chain.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.With(Timeout(5*time.Second)).Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/refine", func(r chi.Router) {
		r.Post("/", s.handleTurn)
		r.Get("/ws", s.handleWS)
		r.With(Timeout(10*time.Second)).Get("/{sessionID}", s.handleSnapshot)
	})
	return Chain(r, Recover(s.log), TraceID(s.log), RequestLog(s.log))
}

type readyResponse struct {
	Status string   `json:"status"`
	Models []string `json:"models,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
		return
	}
	names, err := s.models.ListModels(r.Context())
	if err == nil && len(names) == 0 {
		err = errors.New("no models available")
	}
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "unavailable", Error: "generation backend unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{Status: "ready", Models: names})
}

type turnRequest struct {
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id"` // legacy alias of session_id
	Article   string `json:"article"`
	UserInput string `json:"user_input"`
}

func (t turnRequest) toUseCase() usecase.TurnRequest {
	id := t.SessionID
	if id == "" {
		id = t.ChatID
	}
	return usecase.TurnRequest{SessionID: id, Article: t.Article, UserInput: t.UserInput}
}

type chunkLine struct {
	SessionID string `json:"session_id,omitempty"`
	Delta     string `json:"delta,omitempty"`
	State     string `json:"state,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

func chunkFrom(c usecase.TurnChunk) chunkLine {
	return chunkLine{SessionID: c.SessionID, Delta: c.Delta, State: c.State.String()}
}

type snapshotResponse struct {
	SessionID     string                  `json:"session_id"`
	State         model.ConversationState `json:"state"`
	LatestComment *string                 `json:"latest_comment"`
	UserPrompt    string                  `json:"user_prompt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	var last chunkLine
	started := false

	err := s.uc.Turn(ctx, req.toUseCase(), func(c usecase.TurnChunk) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		last = chunkFrom(c)
		if err := enc.Encode(last); err != nil {
			return err
		}
		// not every writer can flush; the line is still delivered at the end
		_ = rc.Flush()
		return nil
	})
	if err == nil {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
		}
		return
	}

	l := logging.With(r.Context(), s.log)
	status := statusFor(err)
	if status >= 500 {
		l.Error().Err(err).Int("status", status).Msg("refine turn failed")
	} else {
		l.Info().Err(err).Int("status", status).Msg("refine turn rejected")
	}
	if !started {
		writeJSON(w, status, errorResponse{Error: publicMessage(err)})
		return
	}
	_ = enc.Encode(chunkLine{SessionID: last.SessionID, State: last.State, Error: publicMessage(err)})
	_ = rc.Flush()
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, err := s.uc.Snapshot(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: publicMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, toSnapshot(sess))
}

func toSnapshot(sess *model.Session) snapshotResponse {
	out := snapshotResponse{SessionID: sess.ID, State: sess.State, UserPrompt: sess.PendingPrompt}
	if sess.LatestComment != "" {
		c := sess.LatestComment
		out.LatestComment = &c
	}
	return out
}

// statusFor maps domain error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTerminalState), errors.Is(err, domain.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps internal detail out of responses for server-side failures.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrTerminalState),
		errors.Is(err, domain.ErrTurnInProgress):
		return err.Error()
	case errors.Is(err, domain.ErrUpstream):
		return domain.ErrUpstream.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "turn timed out"
	default:
		return strings.ToLower(http.StatusText(http.StatusInternalServerError))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
