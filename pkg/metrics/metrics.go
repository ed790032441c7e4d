package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Media transport metrics
	MediaFramesReceived *prometheus.CounterVec
	MediaFramesSent     *prometheus.CounterVec
	MediaFramesDropped  *prometheus.CounterVec
	MediaGapFillFrames  *prometheus.CounterVec

	// STT metrics
	STTSegmentsTotal    *prometheus.CounterVec
	STTLatency          *prometheus.HistogramVec
	STTErrors           *prometheus.CounterVec
	STTWordsTranscribed *prometheus.CounterVec

	// Agent / orchestrator metrics
	AgentTurnsTotal   *prometheus.CounterVec
	AgentTurnLatency  *prometheus.HistogramVec
	ToolInvocations   *prometheus.CounterVec
	ToolLatency       *prometheus.HistogramVec
	AgentRetriesTotal prometheus.Counter

	// TTS metrics
	TTSSynthesisTotal    *prometheus.CounterVec
	TTSFirstChunkLatency *prometheus.HistogramVec
	TTSCancellations     prometheus.Counter

	// Session metrics
	ActiveCalls      prometheus.Gauge
	CallDuration     *prometheus.HistogramVec
	BargeInsTotal    prometheus.Counter
	SessionOutcomes  *prometheus.CounterVec
	TurnStateChanges *prometheus.CounterVec

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		MediaFramesReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_media_frames_received_total",
				Help: "Total number of inbound media frames received",
			},
			[]string{"call_uuid"},
		)

		MediaFramesSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_media_frames_sent_total",
				Help: "Total number of outbound media frames sent",
			},
			[]string{"call_uuid"},
		)

		MediaFramesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_media_frames_dropped_total",
				Help: "Total number of media frames dropped",
			},
			[]string{"call_uuid", "reason"},
		)

		MediaGapFillFrames = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_media_gap_fill_frames_total",
				Help: "Silence frames inserted for missing wire chunks",
			},
			[]string{"call_uuid"},
		)

		STTSegmentsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_stt_segments_total",
				Help: "Finalized transcript segments emitted",
			},
			[]string{"provider", "status"},
		)

		STTLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceagent_stt_latency_seconds",
				Help:    "Latency of speech recognition requests",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"provider"},
		)

		STTErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_stt_errors_total",
				Help: "Recognition failures degraded to empty segments",
			},
			[]string{"provider"},
		)

		STTWordsTranscribed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_stt_words_transcribed_total",
				Help: "Words recognized across all calls",
			},
			[]string{"provider"},
		)

		AgentTurnsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_agent_turns_total",
				Help: "Agent turns completed",
			},
			[]string{"status"},
		)

		AgentTurnLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceagent_agent_turn_latency_seconds",
				Help:    "Round-trip latency of agent service turns",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"status"},
		)

		ToolInvocations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_tool_invocations_total",
				Help: "Tool invocations executed on behalf of the agent",
			},
			[]string{"tool", "status"},
		)

		ToolLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceagent_tool_latency_seconds",
				Help:    "Latency of individual tool invocations",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"tool"},
		)

		AgentRetriesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voiceagent_agent_retries_total",
				Help: "Agent service calls retried after a failure",
			},
		)

		TTSSynthesisTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_tts_synthesis_total",
				Help: "Synthesis requests issued to the TTS engine",
			},
			[]string{"engine", "status"},
		)

		TTSFirstChunkLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceagent_tts_first_chunk_latency_seconds",
				Help:    "Time from text handoff to first audio frame",
				Buckets: prometheus.ExponentialBuckets(0.025, 2, 8),
			},
			[]string{"engine"},
		)

		TTSCancellations = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voiceagent_tts_cancellations_total",
				Help: "Synthesis runs cancelled by barge-in or teardown",
			},
		)

		ActiveCalls = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voiceagent_active_calls",
				Help: "Number of call sessions currently active",
			},
		)

		CallDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceagent_call_duration_seconds",
				Help:    "Duration of completed call sessions",
				Buckets: prometheus.ExponentialBuckets(5, 2, 10),
			},
			[]string{"outcome"},
		)

		BargeInsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voiceagent_barge_ins_total",
				Help: "Caller interruptions detected while speaking",
			},
		)

		SessionOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_session_outcomes_total",
				Help: "Terminal outcome codes recorded per call session",
			},
			[]string{"outcome"},
		)

		TurnStateChanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_turn_state_changes_total",
				Help: "Turn state transitions within call sessions",
			},
			[]string{"from", "to"},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceagent_amqp_published_messages_total",
				Help: "Messages published to the outcome/transcript sink",
			},
			[]string{"kind", "status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voiceagent_amqp_connection_status",
				Help: "AMQP connection status (1 connected, 0 disconnected)",
			},
		)

		registry.MustRegister(
			MediaFramesReceived, MediaFramesSent, MediaFramesDropped, MediaGapFillFrames,
			STTSegmentsTotal, STTLatency, STTErrors, STTWordsTranscribed,
			AgentTurnsTotal, AgentTurnLatency, ToolInvocations, ToolLatency, AgentRetriesTotal,
			TTSSynthesisTotal, TTSFirstChunkLatency, TTSCancellations,
			ActiveCalls, CallDuration, BargeInsTotal, SessionOutcomes, TurnStateChanges,
			AMQPPublishedMessages, AMQPConnectionStatus,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the metrics registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath overrides the default metrics endpoint path
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// SetMetricsEnabled toggles metric recording at runtime
func SetMetricsEnabled(enabled bool) {
	metricsEnabled = enabled
}

// RegisterHandler registers the metrics HTTP handler on the given mux
func RegisterHandler(mux *http.ServeMux) {
	if registry == nil {
		return
	}
	mux.Handle(defaultMetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

func enabled() bool {
	return metricsEnabled && registry != nil
}

// RecordFrameReceived records an inbound media frame
func RecordFrameReceived(callUUID string) {
	if enabled() {
		MediaFramesReceived.WithLabelValues(callUUID).Inc()
	}
}

// RecordFrameSent records an outbound media frame
func RecordFrameSent(callUUID string) {
	if enabled() {
		MediaFramesSent.WithLabelValues(callUUID).Inc()
	}
}

// RecordFramesDropped records dropped media frames
func RecordFramesDropped(callUUID, reason string, count float64) {
	if enabled() {
		MediaFramesDropped.WithLabelValues(callUUID, reason).Add(count)
	}
}

// RecordGapFill records silence frames inserted for wire gaps
func RecordGapFill(callUUID string, count float64) {
	if enabled() {
		MediaGapFillFrames.WithLabelValues(callUUID).Add(count)
	}
}

// RecordSegment records a finalized transcript segment
func RecordSegment(provider, status string, words int) {
	if enabled() {
		STTSegmentsTotal.WithLabelValues(provider, status).Inc()
		if words > 0 {
			STTWordsTranscribed.WithLabelValues(provider).Add(float64(words))
		}
	}
}

// RecordSTTError records a degraded recognition event
func RecordSTTError(provider string) {
	if enabled() {
		STTErrors.WithLabelValues(provider).Inc()
	}
}

// ObserveSTTLatency returns a timer function for a recognition request
func ObserveSTTLatency(provider string) func() {
	if !enabled() {
		return func() {}
	}
	start := time.Now()
	return func() {
		STTLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}
}

// RecordAgentTurn records a completed agent turn
func RecordAgentTurn(status string, latency time.Duration) {
	if enabled() {
		AgentTurnsTotal.WithLabelValues(status).Inc()
		AgentTurnLatency.WithLabelValues(status).Observe(latency.Seconds())
	}
}

// RecordAgentRetry records a retried agent call
func RecordAgentRetry() {
	if enabled() {
		AgentRetriesTotal.Inc()
	}
}

// RecordToolInvocation records a tool execution
func RecordToolInvocation(tool, status string, latency time.Duration) {
	if enabled() {
		ToolInvocations.WithLabelValues(tool, status).Inc()
		ToolLatency.WithLabelValues(tool).Observe(latency.Seconds())
	}
}

// RecordSynthesis records a TTS engine request
func RecordSynthesis(engine, status string) {
	if enabled() {
		TTSSynthesisTotal.WithLabelValues(engine, status).Inc()
	}
}

// ObserveFirstChunk records time-to-first-audio for an utterance
func ObserveFirstChunk(engine string, latency time.Duration) {
	if enabled() {
		TTSFirstChunkLatency.WithLabelValues(engine).Observe(latency.Seconds())
	}
}

// RecordTTSCancellation records a cancelled synthesis run
func RecordTTSCancellation() {
	if enabled() {
		TTSCancellations.Inc()
	}
}

// RecordBargeIn records a caller interruption
func RecordBargeIn() {
	if enabled() {
		BargeInsTotal.Inc()
	}
}

// RecordTurnStateChange records a turn state transition
func RecordTurnStateChange(from, to string) {
	if enabled() {
		TurnStateChanges.WithLabelValues(from, to).Inc()
	}
}

// SessionStarted increments the active call gauge
func SessionStarted() {
	if enabled() {
		ActiveCalls.Inc()
	}
}

// SessionEnded decrements the active call gauge and records the outcome
func SessionEnded(outcome string, duration time.Duration) {
	if enabled() {
		ActiveCalls.Dec()
		SessionOutcomes.WithLabelValues(outcome).Inc()
		CallDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// RecordAMQPPublish records a sink publish attempt
func RecordAMQPPublish(kind, status string) {
	if enabled() {
		AMQPPublishedMessages.WithLabelValues(kind, status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection gauge
func SetAMQPConnectionStatus(connected bool) {
	if enabled() {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}
