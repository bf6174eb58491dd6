package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		refineTurnsTotal,
		refineTransitionsTotal,
		refineSentinelTotal,
		refineRelatedOpinions,
		sessionSavesTotal,
	)
}

var (
	refineTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refine_turns_total",
			Help: "Dialogue turns by starting state and outcome.",
		},
		[]string{"from", "outcome"}, // outcome: ok|invalid|not_found|terminal|busy|upstream|cancelled|error
	)

	refineTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refine_state_transitions_total",
			Help: "Conversation state transitions.",
		},
		[]string{"from", "to"},
	)

	refineSentinelTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refine_sentinel_verdicts_total",
			Help: "Generated replies classified as sentinel or content, per dialogue step.",
		},
		[]string{"step", "sentinel"},
	)

	refineRelatedOpinions = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refine_related_opinions",
			Help:    "Related opinions injected into the transcript per restatement.",
			Buckets: []float64{0, 1, 2},
		},
	)

	sessionSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_saves_total",
			Help: "Session persistence attempts by result.",
		},
		[]string{"result"},
	)
)

func IncTurn(from, outcome string) {
	refineTurnsTotal.WithLabelValues(norm(from), norm(outcome)).Inc()
}

func IncStateTransition(from, to string) {
	refineTransitionsTotal.WithLabelValues(norm(from), norm(to)).Inc()
}

func IncSentinelVerdict(step string, sentinel bool) {
	refineSentinelTotal.WithLabelValues(norm(step), strconv.FormatBool(sentinel)).Inc()
}

func ObserveRelatedOpinions(n int) {
	refineRelatedOpinions.Observe(float64(n))
}

func IncSessionSave(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	sessionSavesTotal.WithLabelValues(result).Inc()
}
