package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"comment-refiner/internal/domain/ports/adapter"
)

// TokenCounter estimates token counts for metrics; providers differ, so it is an approximation.
type TokenCounter interface {
	Count(model, text string) int
}

// TiktokenCounter uses the model's BPE when known and cl100k_base otherwise.
// Encodings are loaded lazily and cached per model.
type TiktokenCounter struct {
	mu   sync.Mutex
	encs map[string]*tiktoken.Tiktoken
}

func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{encs: make(map[string]*tiktoken.Tiktoken)}
}

func (c *TiktokenCounter) encoding(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encs[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		enc = nil // counted by approximation below
	}
	c.encs[model] = enc
	return enc
}

func (c *TiktokenCounter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoding(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return approxTokens(text)
}

// approxTokens is the usual 4-characters-per-token rule of thumb.
func approxTokens(text string) int {
	return (len(text) + 3) / 4
}

// countMessages adds the per-message framing overhead used by chat models.
func countMessages(c TokenCounter, model string, msgs []adapter.Message) int {
	n := 3
	for _, m := range msgs {
		n += 4 + c.Count(model, m.Content)
	}
	return n
}
