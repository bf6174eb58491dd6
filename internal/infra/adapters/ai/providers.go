package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"comment-refiner/internal/config"
	"comment-refiner/internal/domain/ports/adapter"
)

// Providers is the assembled generation and embedding stack.
type Providers struct {
	Chat     adapter.AIServiceAdapter
	Embedder adapter.Embedder
	Model    string   // model the dialogue requests
	Names    []string // configured providers, for startup logs
}

const fallbackGeminiModel = "gemini-2.0-flash"

// BuildProviders wires every provider with a key behind routing, metrics and the concurrency cap.
// In dev mode without keys it falls back to the scripted adapter and hash embeddings.
func BuildProviders(ctx context.Context, cfg config.AIConfig, embeddingDims int, dev bool, log *zerolog.Logger) (*Providers, error) {
	byProvider := map[string]adapter.AIServiceAdapter{}
	var embedder adapter.Embedder
	embedderName := ""
	var names []string

	if cfg.OpenAIKey != "" {
		a, err := NewOpenAIAdapter(cfg.OpenAIKey, cfg.DefaultModel, cfg.EmbeddingModel, embeddingDims, cfg.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		byProvider["openai"] = a
		embedder, embedderName = a, "openai"
		names = append(names, "openai")
	}
	if cfg.MetisKey != "" {
		a, err := NewMetisAdapter(cfg.MetisKey, cfg.DefaultModel, cfg.MetisBaseURL, cfg.EmbeddingModel, embeddingDims, cfg.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("metis adapter: %w", err)
		}
		byProvider["metis"] = a
		if embedder == nil {
			embedder, embedderName = a, "metis"
		}
		names = append(names, "metis")
	}
	model := cfg.DefaultModel
	if cfg.GeminiKey != "" {
		if len(byProvider) == 0 && !strings.HasPrefix(strings.ToLower(model), "gemini") {
			// only gemini can serve the dialogue
			if log != nil {
				log.Warn().Str("configured", model).Str("using", fallbackGeminiModel).Msg("default model has no provider")
			}
			model = fallbackGeminiModel
		}
		a, err := NewGeminiAdapter(ctx, cfg.GeminiKey, cfg.GeminiURL, model, "", embeddingDims, cfg.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		byProvider["gemini"] = a
		if embedder == nil {
			embedder, embedderName = a, "gemini"
		}
		names = append(names, "gemini")
	}

	if len(byProvider) == 0 {
		if !dev {
			return nil, errors.New("no AI provider configured: set ai.openai_key, ai.metis_key or ai.gemini_key")
		}
		byProvider["noop"] = NewNoopAIAdapter(40 * time.Millisecond)
		embedder, embedderName = NewHashEmbedder(embeddingDims), "hash"
		names = append(names, "noop")
	}

	tokens := NewTiktokenCounter()
	instrumented := map[string]adapter.AIServiceAdapter{}
	for name, a := range byProvider {
		instrumented[name] = NewInstrumentedAI(a, name, tokens, log)
	}
	multi := NewMultiAIAdapter(names[0], instrumented, nil)

	return &Providers{
		Chat:     NewLimitedAI(multi, cfg.ConcurrentLimit),
		Embedder: NewInstrumentedEmbedder(embedder, embedderName),
		Model:    model,
		Names:    names,
	}, nil
}
