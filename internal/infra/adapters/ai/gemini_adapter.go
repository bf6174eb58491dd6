// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"comment-refiner/internal/domain/ports/adapter"
)

var (
	_ adapter.AIServiceAdapter = (*GeminiAdapter)(nil)
	_ adapter.Embedder         = (*GeminiAdapter)(nil)
)

type GeminiAdapter struct {
	client         *genai.Client
	defaultModel   string
	embeddingModel string
	embeddingDims  int
	maxOut         int
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel, embeddingModel string, embeddingDims, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}
	return &GeminiAdapter{
		client:         c,
		defaultModel:   defaultModel,
		embeddingModel: embeddingModel,
		embeddingDims:  embeddingDims,
		maxOut:         maxOut,
	}, nil
}

func (g *GeminiAdapter) ListModels(ctx context.Context) ([]string, error) {
	var out []string
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			break
		}
		if m.Name != "" {
			out = append(out, m.Name)
		}
	}
	if len(out) == 0 && g.defaultModel != "" {
		// Best-effort fallback to default
		out = []string{g.defaultModel}
	}
	return out, nil
}

func (g *GeminiAdapter) ChatStream(ctx context.Context, model string, messages []adapter.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if len(messages) == 0 {
			yield("", errors.New("gemini: no messages"))
			return
		}
		cfg := &genai.GenerateContentConfig{}
		if g.maxOut > 0 {
			cfg.MaxOutputTokens = int32(g.maxOut)
		}
		for resp, err := range g.client.Models.GenerateContentStream(ctx, modelOrDefault(model, g.defaultModel), toGenAIHistory(messages), cfg) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			if t := resp.Text(); t != "" {
				if !yield(t, nil) {
					return
				}
			}
		}
	}
}

func (g *GeminiAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, &genai.Content{
			Role:  string(genai.RoleUser),
			Parts: []*genai.Part{{Text: t}},
		})
	}
	cfg := &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
	if g.embeddingDims > 0 {
		d := int32(g.embeddingDims)
		cfg.OutputDimensionality = &d
	}
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embeddings: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func toGenAIHistory(msgs []adapter.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := string(genai.RoleUser)
		switch strings.ToLower(m.Role) {
		case "assistant", "model":
			role = string(genai.RoleModel)
		case "system":
			// Gemini has no "system" role in history; instructions travel as user turns.
			role = string(genai.RoleUser)
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}
