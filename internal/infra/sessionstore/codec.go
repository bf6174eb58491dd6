package sessionstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/model"
)

// recordVersion is bumped on any incompatible change of record.
const recordVersion = 1

// sealedMagic prefixes blobs written through a cipher.
var sealedMagic = []byte("RSG1")

type message struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

type record struct {
	Version       int                     `json:"version"`
	ID            string                  `json:"id"`
	Article       string                  `json:"article"`
	State         model.ConversationState `json:"state"`
	LatestComment *string                 `json:"latest_comment"`
	PendingPrompt string                  `json:"user_prompt"`
	ScopeID       string                  `json:"scope_id"`
	Messages      []message               `json:"messages"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

func encode(s *model.Session) ([]byte, error) {
	rec := record{
		Version:       recordVersion,
		ID:            s.ID,
		Article:       s.Article,
		State:         s.State,
		PendingPrompt: s.PendingPrompt,
		ScopeID:       s.ScopeID,
		Messages:      make([]message, 0, len(s.Transcript)),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.LatestComment != "" {
		c := s.LatestComment
		rec.LatestComment = &c
	}
	for _, m := range s.Transcript {
		rec.Messages = append(rec.Messages, message{Role: m.Role, Content: m.Content})
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return b, nil
}

// decode rebuilds the session stored under wantID. It never returns a session with another identity.
func decode(b []byte, wantID string) (*model.Session, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptSession, err)
	}
	if head.Version != recordVersion {
		return nil, fmt.Errorf("%w: session record version %d", domain.ErrUnsupportedVersion, head.Version)
	}

	var rec record
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptSession, err)
	}
	if !rec.State.Valid() {
		return nil, fmt.Errorf("%w: missing or invalid state", domain.ErrCorruptSession)
	}
	if rec.ID != wantID {
		return nil, fmt.Errorf("%w: stored id %q under key for %q", domain.ErrCorruptSession, rec.ID, wantID)
	}
	if len(rec.Messages) == 0 || rec.Messages[0].Role != model.RoleSystem {
		return nil, fmt.Errorf("%w: transcript must open with the article message", domain.ErrCorruptSession)
	}

	s := &model.Session{
		ID:            rec.ID,
		Article:       rec.Article,
		State:         rec.State,
		PendingPrompt: rec.PendingPrompt,
		ScopeID:       rec.ScopeID,
		Transcript:    make([]model.Message, 0, len(rec.Messages)),
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if rec.LatestComment != nil {
		s.LatestComment = *rec.LatestComment
	}
	for i, m := range rec.Messages {
		switch m.Role {
		case model.RoleSystem, model.RoleUser, model.RoleAssistant:
		default:
			return nil, fmt.Errorf("%w: message %d has role %q", domain.ErrCorruptSession, i, m.Role)
		}
		s.Transcript = append(s.Transcript, model.Message{Role: m.Role, Content: m.Content})
	}
	if s.Complete() && s.LatestComment == "" {
		return nil, fmt.Errorf("%w: complete session without a comment", domain.ErrCorruptSession)
	}
	return s, nil
}
