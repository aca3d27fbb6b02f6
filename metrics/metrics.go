package metrics

import (
	"fmt"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/flashbots/inbox-arena/common"
)

var prefix = strings.ReplaceAll(common.PackageName, "-", "_")

func name(metric string, labels ...string) string {
	if len(labels) == 0 {
		return prefix + "_" + metric
	}
	var b strings.Builder
	for i := 0; i+1 < len(labels); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", labels[i], labels[i+1])
	}
	return fmt.Sprintf("%s_%s{%s}", prefix, metric, b.String())
}

func IncMessagesSent() {
	metrics.GetOrCreateCounter(name("messages_sent_total")).Inc()
}

func IncRegistrations() {
	metrics.GetOrCreateCounter(name("registrations_total")).Inc()
}

// IncSubmission counts a submission by its result: "accepted" or a reason code.
func IncSubmission(result string) {
	metrics.GetOrCreateCounter(name("submissions_total", "result", result)).Inc()
}

// IncSession counts a session leaving play: finished, aborted or formation_timeout.
func IncSession(outcome string) {
	metrics.GetOrCreateCounter(name("sessions_total", "outcome", outcome)).Inc()
}

func IncRounds() {
	metrics.GetOrCreateCounter(name("rounds_scored_total")).Inc()
}

func IncLiveDropped() {
	metrics.GetOrCreateCounter(name("live_events_dropped_total")).Inc()
}

func IncPoolReloads() {
	metrics.GetOrCreateCounter(name("message_pool_reloads_total")).Inc()
}

// RegisterGauges installs gauges read on every scrape.
func RegisterGauges(queueLength, activeSessions, connected func() int) {
	metrics.GetOrCreateGauge(name("queue_length"), func() float64 { return float64(queueLength()) })
	metrics.GetOrCreateGauge(name("active_sessions"), func() float64 { return float64(activeSessions()) })
	metrics.GetOrCreateGauge(name("connected_participants"), func() float64 { return float64(connected()) })
}
