package ai

import (
	"strings"

	"github.com/openai/openai-go/v2/option"
)

const defaultMetisBaseURL = "https://api.metisai.ir/openai/v1"

// NewMetisAdapter talks to Metis's OpenAI-compatible gateway (same chat completions and
// embeddings paths, Bearer <METIS_API_KEY>).
func NewMetisAdapter(apiKey, model, base, embeddingModel string, embeddingDims, maxOut int) (*OpenAIAdapter, error) {
	if base == "" {
		base = defaultMetisBaseURL
	}
	base = strings.TrimRight(base, "/") + "/"
	return NewOpenAIAdapter(apiKey, model, embeddingModel, embeddingDims, maxOut, option.WithBaseURL(base))
}
