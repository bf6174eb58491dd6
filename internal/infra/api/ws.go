package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"comment-refiner/internal/infra/logging"
	"comment-refiner/internal/usecase"
)

const (
	wsReadLimit    = maxBodyBytes
	wsWriteTimeout = 10 * time.Second
)

// handleWS runs turns over one websocket connection. A frame without session_id or article
// continues the session of the previous turn.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.wsOrigins})
	if err != nil {
		s.log.Warn().Err(err).Msg("ws accept failed")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	l := logging.With(ctx, s.log)
	current := ""

	for {
		var req turnRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				l.Debug().Err(err).Msg("ws read ended")
			}
			return
		}
		turn := req.toUseCase()
		if turn.SessionID == "" && turn.Article == "" {
			turn.SessionID = current
		}

		last, err := s.wsTurn(ctx, conn, turn)
		if last.SessionID != "" {
			current = last.SessionID
		}
		frame := chunkLine{SessionID: last.SessionID, State: last.State, Done: err == nil}
		if err != nil {
			frame.Error = publicMessage(err)
			l.Info().Err(err).Int("status", statusFor(err)).Msg("ws turn failed")
		}
		if werr := s.wsWrite(ctx, conn, frame); werr != nil {
			return
		}
	}
}

func (s *Server) wsTurn(ctx context.Context, conn *websocket.Conn, req usecase.TurnRequest) (chunkLine, error) {
	tctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	var last chunkLine
	err := s.uc.Turn(tctx, req, func(c usecase.TurnChunk) error {
		last = chunkFrom(c)
		return s.wsWrite(tctx, conn, last)
	})
	last.Delta = ""
	return last, err
}

func (s *Server) wsWrite(ctx context.Context, conn *websocket.Conn, v chunkLine) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, v)
}
