package ai

import (
	"context"
	"hash/fnv"
	"iter"
	"math"
	"strings"
	"time"
	"unicode"

	"comment-refiner/internal/domain/ports/adapter"
)

var (
	_ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)
	_ adapter.Embedder         = (*HashEmbedder)(nil)
)

// NoopAIAdapter is a scripted stand-in for local/dev runs without provider keys.
// It asks one question, restates by echoing the reader, and accepts any reply starting with "yes".
type NoopAIAdapter struct {
	delay time.Duration // between streamed words
}

func NewNoopAIAdapter(delay time.Duration) *NoopAIAdapter {
	return &NoopAIAdapter{delay: delay}
}

func (a *NoopAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{"noop-ai-model"}, nil
}

func (a *NoopAIAdapter) ChatStream(ctx context.Context, model string, messages []adapter.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, frag := range a.script(messages) {
			if a.delay > 0 {
				select {
				case <-time.After(a.delay):
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}

func (a *NoopAIAdapter) script(messages []adapter.Message) []string {
	var instruction, lastUser string
	users := 0
	for _, m := range messages {
		switch m.Role {
		case "system":
			instruction = m.Content
		case "user":
			lastUser = m.Content
			users++
		}
	}
	done := []string{"DO", "NE"}
	switch {
	case strings.Contains(instruction, "articulate"):
		return words("I think " + strings.TrimRight(lowerFirst(lastUser), ".!?") + ".")
	case strings.Contains(instruction, "If the user agrees"):
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(lastUser)), "yes") {
			return done
		}
		return words("What would you change about how I put it?")
	case users > 1:
		return done
	default:
		return words("Why do you feel that way?")
	}
}

func words(s string) []string {
	parts := strings.SplitAfter(s, " ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lowerFirst(s string) string {
	for i, r := range s {
		return string(unicode.ToLower(r)) + s[i+len(string(r)):]
	}
	return s
}

// HashEmbedder maps texts onto a fixed-size bag of hashed words, normalised for cosine distance.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder { return &HashEmbedder{dims: dims} }

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, h.dims)
		for _, w := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(w))
			v[int(f.Sum32()%uint32(h.dims))]++
		}
		var norm float64
		for _, x := range v {
			norm += float64(x * x)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range v {
				v[j] /= n
			}
		}
		out[i] = v
	}
	return out, nil
}
