package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for finalized messages.
const (
	OutcomeCompleted  = "completed"
	OutcomeSuperseded = "superseded"
	OutcomeError      = "error"
)

func init() {
	register(
		renderFrames,
		renderMalformed,
		renderChars,
		renderFinalized,
		renderDrainSeconds,
	)
}

var (
	renderFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_frames_total",
			Help: "Socket frames handled by the renderer per event kind.",
		},
		[]string{"kind"},
	)

	renderMalformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "render_malformed_frames_total",
			Help: "Frames discarded because they could not be decoded.",
		},
	)

	renderChars = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "render_characters_drained_total",
			Help: "Characters moved from the buffer into displayed messages.",
		},
	)

	renderFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_messages_finalized_total",
			Help: "Bot messages that stopped receiving characters, by outcome.",
		},
		[]string{"mode", "outcome"},
	)

	renderDrainSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "render_message_display_seconds",
			Help:    "Time from first character to finalize.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"mode"},
	)
)

func FrameHandled(kind string) {
	renderFrames.WithLabelValues(norm(kind)).Inc()
}

func FrameMalformed() {
	renderMalformed.Inc()
}

func CharactersDrained(n int) {
	renderChars.Add(float64(n))
}

func MessageFinalized(mode, outcome string, elapsed time.Duration) {
	renderFinalized.WithLabelValues(norm(mode), norm(outcome)).Inc()
	if outcome != OutcomeError {
		renderDrainSeconds.WithLabelValues(norm(mode)).Observe(elapsed.Seconds())
	}
}
