package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownState      = errors.New("unknown conversation state")
	ErrIllegalTransition = errors.New("illegal conversation state transition")
)

// Role of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the transcript sent verbatim to the generation backend.
type Message struct {
	Role    Role
	Content string
}

// ConversationState is the position of a session in the refinement dialogue.
type ConversationState int

const (
	StateAwaitingComment ConversationState = iota + 1
	StateAwaitingReply
	StateAwaitingConfirmation
	StateComplete
)

var stateNames = map[ConversationState]string{
	StateAwaitingComment:      "AWAITING_USER_COMMENT",
	StateAwaitingReply:        "AWAITING_USER_REPLY",
	StateAwaitingConfirmation: "AWAITING_USER_CONFIRMATION",
	StateComplete:             "COMPLETE",
}

func (s ConversationState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ConversationState(%d)", int(s))
}

func (s ConversationState) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// ParseConversationState maps a persisted state name back to the enum.
func ParseConversationState(name string) (ConversationState, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownState, name)
}

func (s ConversationState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, int(s))
	}
	return []byte(s.String()), nil
}

func (s *ConversationState) UnmarshalText(b []byte) error {
	v, err := ParseConversationState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// transitions lists the edges of the dialogue graph. COMPLETE has none.
var transitions = map[ConversationState][]ConversationState{
	StateAwaitingComment:      {StateAwaitingReply, StateAwaitingConfirmation},
	StateAwaitingReply:        {StateAwaitingReply, StateAwaitingConfirmation},
	StateAwaitingConfirmation: {StateAwaitingReply, StateComplete},
}

// CanTransition reports whether from -> to is an edge of the dialogue graph.
func CanTransition(from, to ConversationState) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Session is the aggregate persisted between turns of one refinement dialogue.
type Session struct {
	ID            string
	Article       string
	State         ConversationState
	LatestComment string // empty until the first opinion is captured
	Transcript    []Message
	PendingPrompt string
	ScopeID       string // similarity index scope for Article
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewSession starts a dialogue whose transcript opens with articlePrompt.
func NewSession(id, article, scopeID, articlePrompt, onboardingPrompt string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:            id,
		Article:       article,
		State:         StateAwaitingComment,
		Transcript:    []Message{{Role: RoleSystem, Content: articlePrompt}},
		PendingPrompt: onboardingPrompt,
		ScopeID:       scopeID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Session) Append(role Role, content string) {
	s.Transcript = append(s.Transcript, Message{Role: role, Content: content})
	s.UpdatedAt = time.Now().UTC()
}

// Transition moves the session along a legal edge. Staying in AWAITING_USER_REPLY is legal.
func (s *Session) Transition(to ConversationState) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.State, to)
	}
	if to == StateComplete && s.LatestComment == "" {
		return fmt.Errorf("%w: complete without a captured comment", ErrIllegalTransition)
	}
	s.State = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Session) Complete() bool { return s.State == StateComplete }

// scopeNamespace keeps article scope ids stable across processes and the seed tool.
var scopeNamespace = uuid.MustParse("6f1d2c8e-3b7a-4e52-9d0b-5a4c1e7f2b90")

// ScopeIDForArticle derives the similarity scope of an article (UUIDv5 over its text).
func ScopeIDForArticle(article string) string {
	return uuid.NewSHA1(scopeNamespace, []byte(article)).String()
}
