package metrics

import "whalewatch/logger"

// PublishReport turns a runtime report into gauges. It is passed to
// logger.StartReport.
func PublishReport(r logger.Report) {
	log := logger.GetLogger()
	EmitMetric(log, "report", "goroutines", r.Goroutines, TypeGauge, nil)
	EmitMetric(log, "report", "cpu_percent", r.CPUPercent, TypeGauge, logger.Fields{"unit": "percent"})
	EmitMetric(log, "report", "memory_mb", r.MemoryMB, TypeGauge, logger.Fields{"unit": "megabytes"})
	EmitMetric(log, "report", "warns", r.Warns, TypeCounter, nil)
	EmitMetric(log, "report", "errors", r.Errors, TypeCounter, nil)
	EmitMetric(log, "report", "snapshots", r.Snapshots, TypeCounter, nil)
	EmitMetric(log, "report", "events", r.Events, TypeCounter, nil)
}
