package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/rs/zerolog"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/model"
	"comment-refiner/internal/domain/ports/adapter"
	"comment-refiner/internal/infra/logging"
	"comment-refiner/internal/infra/metrics"
)

// errStopped signals that the consumer stopped ranging over the output sequence.
var errStopped = errors.New("output consumer stopped")

// emitFunc hands one output value to the consumer; false means stop producing.
type emitFunc func(string) bool

// Machine drives one refinement session through its dialogue states.
type Machine struct {
	ai      adapter.AIServiceAdapter
	related *SimilarityFilter
	model   string
	log     *zerolog.Logger
	dev     bool
}

// NewMachine wires the dialogue engine. related may be nil when no similarity index is configured.
func NewMachine(ai adapter.AIServiceAdapter, related *SimilarityFilter, modelName string, logger *zerolog.Logger, dev bool) *Machine {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Machine{ai: ai, related: related, model: modelName, log: logger, dev: dev}
}

// Advance feeds one user input to s. The returned sequence yields output values as they are
// produced and mutates s along the way; the caller persists s between values.
func (m *Machine) Advance(ctx context.Context, s *model.Session, input string) (iter.Seq2[string, error], error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%w: user input is required", domain.ErrInvalidArgument)
	}

	var handle func(context.Context, *model.Session, string, emitFunc) error
	switch s.State {
	case model.StateAwaitingComment:
		handle = m.onComment
	case model.StateAwaitingReply:
		handle = m.onReply
	case model.StateAwaitingConfirmation:
		handle = m.onConfirmation
	case model.StateComplete:
		return nil, domain.ErrTerminalState
	default:
		return nil, fmt.Errorf("%w: %v", model.ErrUnknownState, s.State)
	}

	return func(yield func(string, error) bool) {
		emit := func(v string) bool { return yield(v, nil) }
		if err := handle(ctx, s, input, emit); err != nil && !errors.Is(err, errStopped) {
			yield("", err)
		}
	}, nil
}

func (m *Machine) onComment(ctx context.Context, s *model.Session, input string, emit emitFunc) error {
	s.Append(model.RoleUser, input)
	s.LatestComment = input
	return m.assess(ctx, s, emit)
}

func (m *Machine) onReply(ctx context.Context, s *model.Session, input string, emit emitFunc) error {
	s.Append(model.RoleUser, input)
	s.Append(model.RoleSystem, restateInstruction)

	restated, err := m.collect(ctx, s)
	if err != nil {
		return err
	}
	s.LatestComment = restated
	s.Append(model.RoleAssistant, restatementSummary(restated))

	if m.related != nil && s.ScopeID != "" {
		related, err := m.related.Related(ctx, s.ScopeID, restated)
		if err != nil {
			return err
		}
		if len(related) > 0 {
			s.Append(model.RoleSystem, relatedOpinionsMessage(related))
		}
	}
	return m.assess(ctx, s, emit)
}

func (m *Machine) onConfirmation(ctx context.Context, s *model.Session, input string, emit emitFunc) error {
	s.Append(model.RoleUser, input)
	s.Append(model.RoleSystem, confirmInstruction)

	done, err := m.streamReply(ctx, s, "confirm", emit)
	if err != nil || !done {
		return err
	}
	if err := m.transition(s, model.StateComplete); err != nil {
		return err
	}
	if !emit(s.LatestComment) {
		return errStopped
	}
	return nil
}

// assess asks the model whether LatestComment is a complete opinion.
func (m *Machine) assess(ctx context.Context, s *model.Session, emit emitFunc) error {
	s.Append(model.RoleSystem, assessInstruction)

	done, err := m.streamReply(ctx, s, "assess", emit)
	if err != nil || !done {
		return err
	}
	if err := m.transition(s, model.StateAwaitingConfirmation); err != nil {
		return err
	}
	s.PendingPrompt = confirmationPrompt(s.LatestComment)
	s.Append(model.RoleAssistant, s.PendingPrompt)
	if !emit(s.PendingPrompt) {
		return errStopped
	}
	return nil
}

// streamReply streams a generated reply through the sentinel buffer. It reports true when the
// reply is the sentinel; otherwise the reply has been emitted, recorded as the pending prompt
// and appended to the transcript, and the session is awaiting the user's reply.
func (m *Machine) streamReply(ctx context.Context, s *model.Session, step string, emit emitFunc) (bool, error) {
	l := logging.With(ctx, m.log)
	buf := NewStreamBuffer(Sentinel)

	release := func(out string) error {
		if out == "" {
			return nil
		}
		if s.State != model.StateAwaitingReply {
			if err := m.transition(s, model.StateAwaitingReply); err != nil {
				return err
			}
		}
		s.PendingPrompt = buf.Text()
		if !emit(out) {
			return errStopped
		}
		return nil
	}

	for frag, err := range m.ai.ChatStream(ctx, m.model, toAdapterMessages(s.Transcript)) {
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, fmt.Errorf("%w: generate: %w", domain.ErrUpstream, err)
		}
		if err := release(buf.Feed(frag)); err != nil {
			return false, err
		}
		if buf.Sentinel() {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := release(buf.Flush()); err != nil {
		return false, err
	}

	metrics.IncSentinelVerdict(step, buf.Sentinel())
	if buf.Sentinel() {
		l.Debug().Str("step", step).Msg("sentinel detected")
		return true, nil
	}

	reply := strings.TrimSpace(buf.Text())
	if reply == "" {
		return false, fmt.Errorf("%w: empty reply from generation backend", domain.ErrUpstream)
	}
	s.PendingPrompt = reply
	s.Append(model.RoleAssistant, reply)
	l.Debug().Str("step", step).Str("reply", logging.Redact(reply, m.dev)).Msg("follow-up question streamed")
	return false, nil
}

// collect gathers a whole generated reply without showing it to the user.
func (m *Machine) collect(ctx context.Context, s *model.Session) (string, error) {
	var b strings.Builder
	for frag, err := range m.ai.ChatStream(ctx, m.model, toAdapterMessages(s.Transcript)) {
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: generate: %w", domain.ErrUpstream, err)
		}
		b.WriteString(frag)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("%w: empty restatement from generation backend", domain.ErrUpstream)
	}
	return out, nil
}

func (m *Machine) transition(s *model.Session, to model.ConversationState) error {
	from := s.State
	if err := s.Transition(to); err != nil {
		return err
	}
	metrics.IncStateTransition(from.String(), to.String())
	return nil
}

func toAdapterMessages(in []model.Message) []adapter.Message {
	out := make([]adapter.Message, 0, len(in))
	for _, msg := range in {
		out = append(out, adapter.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}
