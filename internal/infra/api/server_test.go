//go:build !integration

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/model"
	"comment-refiner/internal/usecase"
)

// fakeRefineUC replays scripted chunks and records the requests it saw.
type fakeRefineUC struct {
	mu       sync.Mutex
	chunks   []usecase.TurnChunk
	err      error // returned after the chunks
	requests []usecase.TurnRequest
	snapshot *model.Session
	snapErr  error
}

func (f *fakeRefineUC) Turn(ctx context.Context, req usecase.TurnRequest, emit func(usecase.TurnChunk) error) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	for _, c := range f.chunks {
		if err := emit(c); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeRefineUC) Snapshot(ctx context.Context, id string) (*model.Session, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return f.snapshot, nil
}

func (f *fakeRefineUC) seen() []usecase.TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]usecase.TurnRequest(nil), f.requests...)
}

type panicUC struct{ usecase.RefineUseCase }

func (panicUC) Snapshot(ctx context.Context, id string) (*model.Session, error) { panic("boom") }

func newTestServer(uc usecase.RefineUseCase) http.Handler {
	return NewServer(uc, nil, time.Second, nil).Routes()
}

func readLines(t *testing.T, body string) []chunkLine {
	t.Helper()
	var out []chunkLine
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var c chunkLine
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, c)
	}
	return out
}

func TestTurn_StreamsNDJSON(t *testing.T) {
	uc := &fakeRefineUC{chunks: []usecase.TurnChunk{
		{SessionID: "s1", Delta: "Why do", State: model.StateAwaitingReply},
		{SessionID: "s1", Delta: " you say that?", State: model.StateAwaitingReply},
	}}
	h := newTestServer(uc)

	req := httptest.NewRequest(http.MethodPost, "/refine", strings.NewReader(`{"article":"A","user_input":"Unfair."}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type %q", ct)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("trace id header missing")
	}
	lines := readLines(t, rec.Body.String())
	if len(lines) != 2 || lines[0].Delta != "Why do" || lines[1].State != "AWAITING_USER_REPLY" {
		t.Fatalf("unexpected lines %+v", lines)
	}
	if got := uc.seen()[0]; got.Article != "A" || got.UserInput != "Unfair." || got.SessionID != "" {
		t.Fatalf("request not forwarded: %+v", got)
	}
}

func TestTurn_ChatIDAlias(t *testing.T) {
	uc := &fakeRefineUC{}
	h := newTestServer(uc)

	req := httptest.NewRequest(http.MethodPost, "/refine", strings.NewReader(`{"chat_id":"legacy","user_input":"yes"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if got := uc.seen()[0].SessionID; got != "legacy" {
		t.Fatalf("chat_id alias not applied, got %q", got)
	}
}

func TestTurn_ErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: user input is missing", domain.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("load: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrTerminalState, http.StatusConflict},
		{domain.ErrTurnInProgress, http.StatusConflict},
		{fmt.Errorf("%w: generate: boom", domain.ErrUpstream), http.StatusBadGateway},
		{fmt.Errorf("decode: %w", domain.ErrCorruptSession), http.StatusInternalServerError},
		{domain.ErrUnsupportedVersion, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			h := newTestServer(&fakeRefineUC{err: tc.err})
			req := httptest.NewRequest(http.MethodPost, "/refine", strings.NewReader(`{"session_id":"s1","user_input":"x"}`))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("want %d, got %d", tc.want, rec.Code)
			}
			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error == "" {
				t.Fatalf("error body missing: %v", err)
			}
			if tc.want == http.StatusBadGateway && strings.Contains(body.Error, "boom") {
				t.Fatalf("upstream detail leaked: %q", body.Error)
			}
		})
	}
}

func TestTurn_MidStreamFailureReportedInBand(t *testing.T) {
	uc := &fakeRefineUC{
		chunks: []usecase.TurnChunk{{SessionID: "s1", Delta: "Why", State: model.StateAwaitingReply}},
		err:    fmt.Errorf("%w: generate: reset", domain.ErrUpstream),
	}
	rec := httptest.NewRecorder()
	newTestServer(uc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refine", strings.NewReader(`{"session_id":"s1","user_input":"x"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status is committed once streaming starts, got %d", rec.Code)
	}
	lines := readLines(t, rec.Body.String())
	if len(lines) != 2 || lines[1].Error == "" || lines[1].SessionID != "s1" || lines[1].State != "AWAITING_USER_REPLY" {
		t.Fatalf("unexpected lines %+v", lines)
	}
}

func TestTurn_BadJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeRefineUC{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refine", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

func TestSnapshot(t *testing.T) {
	t.Run("complete session", func(t *testing.T) {
		s := model.NewSession("s1", "A", "scope", "sys", "Please provide a comment on the article.")
		s.LatestComment = "Prices are too high."
		s.State = model.StateComplete
		rec := httptest.NewRecorder()
		newTestServer(&fakeRefineUC{snapshot: s}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/refine/s1", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var got map[string]any
		_ = json.NewDecoder(rec.Body).Decode(&got)
		if got["session_id"] != "s1" || got["state"] != "COMPLETE" || got["latest_comment"] != "Prices are too high." {
			t.Fatalf("unexpected snapshot %v", got)
		}
	})

	t.Run("fresh session has null comment", func(t *testing.T) {
		s := model.NewSession("s2", "A", "scope", "sys", "Please provide a comment on the article.")
		rec := httptest.NewRecorder()
		newTestServer(&fakeRefineUC{snapshot: s}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/refine/s2", nil))

		var got map[string]any
		_ = json.NewDecoder(rec.Body).Decode(&got)
		if v, ok := got["latest_comment"]; !ok || v != nil {
			t.Fatalf("latest_comment must be null, got %v", got)
		}
		if got["user_prompt"] != "Please provide a comment on the article." {
			t.Fatalf("user_prompt = %v", got["user_prompt"])
		}
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeRefineUC{snapErr: domain.ErrNotFound}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/refine/nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("want 404, got %d", rec.Code)
		}
	})
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeRefineUC{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
}

type fakeModels struct {
	names []string
	err   error
}

func (f fakeModels) ListModels(ctx context.Context) ([]string, error) { return f.names, f.err }

func TestReady(t *testing.T) {
	cases := []struct {
		name   string
		models ModelLister
		want   int
	}{
		{"no backend check", nil, http.StatusOK},
		{"models listed", fakeModels{names: []string{"gpt-4o-mini"}}, http.StatusOK},
		{"empty list", fakeModels{}, http.StatusServiceUnavailable},
		{"backend error", fakeModels{err: errors.New("401 unauthorized")}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewServer(&fakeRefineUC{}, nil, time.Second, nil).WithModels(tc.models).Routes()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tc.want {
				t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "401") {
				t.Fatalf("backend error leaked: %s", rec.Body.String())
			}
		})
	}
}

func TestRoutes_RecoverWrapsHandlers(t *testing.T) {
	rec := httptest.NewRecorder()
	h := NewServer(panicUC{}, nil, time.Second, nil).Routes()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/refine/s1", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("trace id missing on recovered response")
	}
}

func TestRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), Recover(nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
}

func TestWebSocket_TurnsAndSessionCarryOver(t *testing.T) {
	uc := &fakeRefineUC{chunks: []usecase.TurnChunk{
		{SessionID: "s1", Delta: "Why?", State: model.StateAwaitingReply},
	}}
	ts := httptest.NewServer(newTestServer(uc))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/refine/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	turn := func(req turnRequest) []chunkLine {
		if err := wsjson.Write(ctx, conn, req); err != nil {
			t.Fatalf("write: %v", err)
		}
		var frames []chunkLine
		for {
			var f chunkLine
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				t.Fatalf("read: %v", err)
			}
			frames = append(frames, f)
			if f.Done || f.Error != "" {
				return frames
			}
		}
	}

	frames := turn(turnRequest{Article: "A", UserInput: "Unfair."})
	if len(frames) != 2 || frames[0].Delta != "Why?" || !frames[1].Done || frames[1].SessionID != "s1" {
		t.Fatalf("unexpected frames %+v", frames)
	}

	_ = turn(turnRequest{UserInput: "Because."})
	if got := uc.seen()[1].SessionID; got != "s1" {
		t.Fatalf("second frame should continue s1, got %q", got)
	}
}

func TestWebSocket_ErrorFrame(t *testing.T) {
	ts := httptest.NewServer(newTestServer(&fakeRefineUC{err: domain.ErrTerminalState}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/refine/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, turnRequest{SessionID: "s1", UserInput: "more"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var f chunkLine
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Done || f.Error != domain.ErrTerminalState.Error() {
		t.Fatalf("unexpected frame %+v", f)
	}
}
