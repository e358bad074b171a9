// Package metrics holds the Prometheus instruments of the voice client and
// the development backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for TravelBuddy
type Metrics struct {
	// Voice session metrics
	ChunksSent       prometheus.Counter
	ChunksDropped    prometheus.Counter
	DecodeErrors     prometheus.Counter
	InboundMessages  *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	PlaybackFailures prometheus.Counter

	// Text channel metrics
	ChatRequests        *prometheus.CounterVec
	ChatRequestDuration prometheus.Histogram

	// Development backend metrics
	ActiveConnections prometheus.Gauge
	Utterances        prometheus.Counter
}

// NewMetrics creates and registers all metrics on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "travelbuddy_chunks_sent_total",
			Help: "Total number of audio chunks sent to the voice channel",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "travelbuddy_chunks_dropped_total",
			Help: "Total number of audio chunks dropped because the channel could not take them",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "travelbuddy_decode_errors_total",
			Help: "Total number of inbound messages that could not be decoded",
		}),
		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "travelbuddy_inbound_messages_total",
			Help: "Total number of decoded inbound messages by type",
		}, []string{"type"}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "travelbuddy_state_transitions_total",
			Help: "Total number of voice session state transitions by target state",
		}, []string{"state"}),
		PlaybackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "travelbuddy_playback_failures_total",
			Help: "Total number of audio responses that could not be played",
		}),

		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "travelbuddy_chat_requests_total",
			Help: "Total number of text channel requests by outcome",
		}, []string{"outcome"}),
		ChatRequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "travelbuddy_chat_request_duration_seconds",
			Help:    "Duration of text channel requests",
			Buckets: prometheus.DefBuckets,
		}),

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "travelbuddy_dev_active_connections",
			Help: "Current number of open voice connections on the development backend",
		}),
		Utterances: factory.NewCounter(prometheus.CounterOpts{
			Name: "travelbuddy_dev_utterances_total",
			Help: "Total number of recordings answered by the development backend",
		}),
	}
}

// NewNop returns metrics registered on a throwaway registry
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
