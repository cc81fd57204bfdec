package metrics

import "whalewatch/logger"

// DropMetric names the metric emitted when a queue discards an element.
type DropMetric string

const (
	// DropMetricEvents counts detection events discarded by a full sink queue.
	DropMetricEvents DropMetric = "events_dropped"
	// DropMetricUpdates counts depth updates that could not be processed.
	DropMetricUpdates DropMetric = "updates_dropped"
)

// EmitDropMetric emits a single drop under the channel_drops component.
func EmitDropMetric(log *logger.Log, metric DropMetric, sink, symbol, stage string) {
	fields := logger.Fields{}
	if sink != "" {
		fields["sink"] = sink
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}
	EmitMetric(log, "channel_drops", string(metric), 1, TypeCounter, fields)
	if metric == DropMetricEvents {
		EventDropped(sink)
	}
}
