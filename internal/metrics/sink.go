package metrics

import "whalewatch/logger"

// SinkStats holds the delivery counters of one event sink.
type SinkStats struct {
	Name      string `json:"name"`
	Delivered int64  `json:"delivered"`
	Failed    int64  `json:"failed"`
	Dropped   int64  `json:"dropped"`
	QueueLen  int    `json:"queue_len"`
	QueueCap  int    `json:"queue_cap"`
}

// ReportSink emits queue occupancy and logs the delivery counters of a sink.
func ReportSink(log *logger.Log, stats SinkStats) {
	EmitMetric(log, "event_bus", "sink_queue_length", stats.QueueLen, TypeGauge, logger.Fields{
		"sink":     stats.Name,
		"capacity": stats.QueueCap,
	})

	errorRate := float64(0)
	if stats.Delivered+stats.Failed > 0 {
		errorRate = float64(stats.Failed) / float64(stats.Delivered+stats.Failed)
	}

	entry := log.WithComponent("event_bus").WithFields(logger.Fields{
		"sink":       stats.Name,
		"delivered":  stats.Delivered,
		"failed":     stats.Failed,
		"dropped":    stats.Dropped,
		"error_rate": errorRate,
		"queue_len":  stats.QueueLen,
		"queue_cap":  stats.QueueCap,
	})
	if stats.Failed > 0 || stats.Dropped > 0 {
		entry.Warn("sink statistics")
		return
	}
	entry.Info("sink statistics")
}
