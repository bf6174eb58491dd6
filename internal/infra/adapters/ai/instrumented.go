package ai

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"comment-refiner/internal/domain/ports/adapter"
	"comment-refiner/internal/infra/metrics"
)

var _ adapter.AIServiceAdapter = (*instrumentedAI)(nil)

// instrumentedAI records latency, fragment counts and estimated token usage per stream.
type instrumentedAI struct {
	inner    adapter.AIServiceAdapter
	provider string
	tokens   TokenCounter
	log      *zerolog.Logger
}

func NewInstrumentedAI(inner adapter.AIServiceAdapter, provider string, tokens TokenCounter, log *zerolog.Logger) adapter.AIServiceAdapter {
	if log == nil {
		l := zerolog.Nop()
		log = &l
	}
	return &instrumentedAI{inner: inner, provider: provider, tokens: tokens, log: log}
}

func (i *instrumentedAI) ListModels(ctx context.Context) ([]string, error) {
	return i.inner.ListModels(ctx)
}

func (i *instrumentedAI) ChatStream(ctx context.Context, model string, messages []adapter.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start := time.Now()
		var (
			out       strings.Builder
			fragments int
			failed    bool
		)
		defer func() {
			latency := time.Since(start)
			in := 0
			if i.tokens != nil {
				in = countMessages(i.tokens, model, messages)
			}
			outTokens := 0
			if i.tokens != nil {
				outTokens = i.tokens.Count(model, out.String())
			}
			metrics.ObserveChatUsage(i.provider, model, in, outTokens, fragments, int(latency.Milliseconds()), !failed)
			i.log.Debug().
				Str("provider", i.provider).
				Str("model", model).
				Int("fragments", fragments).
				Int("tokens_in", in).
				Int("tokens_out", outTokens).
				Dur("latency", latency).
				Bool("success", !failed).
				Msg("ai stream finished")
		}()

		for frag, err := range i.inner.ChatStream(ctx, model, messages) {
			if err != nil {
				failed = true
			} else {
				fragments++
				out.WriteString(frag)
			}
			if !yield(frag, err) {
				return
			}
		}
	}
}

type instrumentedEmbedder struct {
	inner    adapter.Embedder
	provider string
}

func NewInstrumentedEmbedder(inner adapter.Embedder, provider string) adapter.Embedder {
	return &instrumentedEmbedder{inner: inner, provider: provider}
}

func (e *instrumentedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.inner.Embed(ctx, texts)
	metrics.AddEmbeddings(e.provider, len(texts), err == nil)
	return vecs, err
}
