// Package observability holds the Prometheus metrics of the chat relay.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "chatrelay"
	chatSubsystem    = "chat"
)

// Turn outcomes.
const (
	OutcomeCompleted    = "completed"
	OutcomeModelError   = "model_error"
	OutcomeDisconnected = "client_disconnect"
	OutcomeTimeout      = "timeout"
)

// ChatMetrics instruments chat turns. A nil *ChatMetrics is valid and records nothing.
type ChatMetrics struct {
	TurnsTotal *prometheus.CounterVec

	TurnDurationSeconds *prometheus.HistogramVec

	TimeToFirstChunkSeconds *prometheus.HistogramVec

	ActiveStreams prometheus.Gauge

	TokensTotal *prometheus.CounterVec

	TitlesGeneratedTotal prometheus.Counter

	PersistFailuresTotal *prometheus.CounterVec

	ConversationsDeletedTotal prometheus.Counter
}

// NewChatMetrics registers the chat metrics with reg.
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)
	return &ChatMetrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "turns_total",
				Help:      "Total chat turns by model and outcome",
			},
			[]string{"model", "outcome"},
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Duration of streamed chat turns in seconds",
				Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"model", "outcome"},
		),

		TimeToFirstChunkSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from stream start to the first content chunk in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"model"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Number of chat turns currently streaming",
			},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "tokens_total",
				Help:      "Tokens reported by providers by direction and model",
			},
			[]string{"direction", "model"},
		),

		TitlesGeneratedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "titles_generated_total",
				Help:      "Conversation titles generated",
			},
		),

		PersistFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "persist_failures_total",
				Help:      "Messages that could not be stored, by role",
			},
			[]string{"role"},
		),

		ConversationsDeletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "conversations_deleted_total",
				Help:      "Conversations deleted by their owners",
			},
		),
	}
}

func (m *ChatMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *ChatMetrics) FirstChunk(model string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstChunkSeconds.WithLabelValues(model).Observe(elapsed.Seconds())
}

func (m *ChatMetrics) StreamFinished(model, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.TurnsTotal.WithLabelValues(model, outcome).Inc()
	m.TurnDurationSeconds.WithLabelValues(model, outcome).Observe(elapsed.Seconds())
}

func (m *ChatMetrics) Tokens(model string, input, output int) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input", model).Add(float64(input))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(output))
}

func (m *ChatMetrics) TitleGenerated() {
	if m == nil {
		return
	}
	m.TitlesGeneratedTotal.Inc()
}

func (m *ChatMetrics) PersistFailed(role string) {
	if m == nil {
		return
	}
	m.PersistFailuresTotal.WithLabelValues(role).Inc()
}

func (m *ChatMetrics) ConversationDeleted() {
	if m == nil {
		return
	}
	m.ConversationsDeletedTotal.Inc()
}
