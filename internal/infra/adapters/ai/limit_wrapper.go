package ai

import (
	"context"
	"iter"

	"comment-refiner/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.AIServiceAdapter = (*limitedAI)(nil)

// limitedAI caps concurrent generation streams; a slot is held until the stream ends.
type limitedAI struct {
	inner adapter.AIServiceAdapter
	sem   chan struct{}
}

func NewLimitedAI(inner adapter.AIServiceAdapter, maxConcurrent int) adapter.AIServiceAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) ListModels(ctx context.Context) ([]string, error) {
	return l.inner.ListModels(ctx)
}

func (l *limitedAI) ChatStream(ctx context.Context, model string, messages []adapter.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			yield("", ctx.Err())
			return
		}
		defer func() { <-l.sem }()
		for frag, err := range l.inner.ChatStream(ctx, model, messages) {
			if !yield(frag, err) {
				return
			}
		}
	}
}
