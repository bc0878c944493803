package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	// Sessions
	ActiveSessions prometheus.Gauge
	SessionsTotal  prometheus.Counter
	ProtocolErrors prometheus.Counter

	// Chunks, labelled by outcome (translated, no_speech, failed, unknown_language)
	Chunks            *prometheus.CounterVec
	ChunkBytes        prometheus.Histogram
	TranscribeSeconds prometheus.Histogram

	// Language service
	LanguageAttempts  *prometheus.CounterVec
	LanguageExhausted prometheus.Counter
	Summaries         *prometheus.CounterVec

	// Server loop
	ListenerRestarts prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of connected clients",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Total number of accepted client connections",
		}),
		ProtocolErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_protocol_errors_total",
			Help: "Sessions closed because of an out-of-order or malformed message",
		}),
		Chunks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_chunks_total",
			Help: "Audio chunks processed, by outcome",
		}, []string{"outcome"}),
		ChunkBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_chunk_bytes",
			Help:    "Size of received audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(4096, 4, 8),
		}),
		TranscribeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_transcribe_seconds",
			Help:    "Time spent transcribing a chunk",
			Buckets: prometheus.DefBuckets,
		}),
		LanguageAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_language_attempts_total",
			Help: "Chat-completion attempts, by result (ok, error)",
		}, []string{"result"}),
		LanguageExhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_language_exhausted_total",
			Help: "Translation or summary requests that ran out of attempts",
		}),
		Summaries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_summaries_total",
			Help: "Summary requests, by outcome (ok, empty, failed)",
		}, []string{"outcome"}),
		ListenerRestarts: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_listener_restarts_total",
			Help: "Times the listener was restarted after an unexpected failure",
		}),
	}
}
