package adapter

import (
	"context"
	"iter"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// AIServiceAdapter is the port for streamed LLM chat.
type AIServiceAdapter interface {
	ListModels(ctx context.Context) ([]string, error)

	// ChatStream yields reply fragments as the provider produces them.
	// Breaking out of the range loop abandons the upstream call.
	ChatStream(ctx context.Context, model string, messages []Message) iter.Seq2[string, error]
}

// Embedder turns texts into vectors for the similarity index.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
