package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiCallsLatencyMs,
		aiStreamFragments,
		aiEmbeddingsTotal,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Estimated prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Estimated completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "Generation stream latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"provider", "model", "success"},
	)

	aiStreamFragments = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_stream_fragments",
			Help:    "Number of fragments per generation stream.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"provider"},
	)

	aiEmbeddingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_embeddings_total",
			Help: "Texts embedded per provider, by result.",
		},
		[]string{"provider", "result"},
	)
)

func ObserveChatUsage(provider, model string, tokensIn, tokensOut, fragments, latencyMs int, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiStreamFragments.WithLabelValues(norm(provider)).Observe(float64(fragments))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func AddEmbeddings(provider string, n int, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	aiEmbeddingsTotal.WithLabelValues(norm(provider), result).Add(float64(n))
}
