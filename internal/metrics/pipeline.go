package metrics

import "whalewatch/logger"

// PipelineStats is a point in time view of one symbol pipeline.
type PipelineStats struct {
	Symbol         string  `json:"symbol"`
	Snapshots      int64   `json:"snapshots"`
	Errors         int64   `json:"errors"`
	Gaps           int64   `json:"gaps"`
	ActiveWhales   int     `json:"active_whales"`
	RecentWhales   int     `json:"recent_whales"`
	WhalesCreated  int64   `json:"whales_created"`
	Disappeared    int64   `json:"disappeared"`
	Scored         int64   `json:"scored"`
	Alertable      int64   `json:"alertable"`
	DetectionRate  float64 `json:"detection_rate"`
	LastUpdateID   int64   `json:"last_update_id"`
	MidPrice       float64 `json:"mid_price"`
	SpreadBps      float64 `json:"spread_bps"`
	MarketPressure string  `json:"market_pressure"`
}

// ReportPipeline emits the pipeline gauges and logs a summary line.
func ReportPipeline(log *logger.Log, stats PipelineStats) {
	fields := logger.Fields{"symbol": stats.Symbol}
	EmitMetric(log, "pipeline", "active_whales", stats.ActiveWhales, TypeGauge, fields)
	EmitMetric(log, "pipeline", "recent_whales", stats.RecentWhales, TypeGauge, fields)
	EmitMetric(log, "pipeline", "detection_rate", stats.DetectionRate, TypeGauge, logger.Fields{"symbol": stats.Symbol, "unit": "percent"})
	SetActiveWhales(stats.Symbol, stats.ActiveWhales)

	errorRate := float64(0)
	if stats.Snapshots+stats.Errors > 0 {
		errorRate = float64(stats.Errors) / float64(stats.Snapshots+stats.Errors)
	}

	entry := log.WithComponent("pipeline").WithFields(logger.Fields{
		"symbol":          stats.Symbol,
		"snapshots":       stats.Snapshots,
		"errors":          stats.Errors,
		"error_rate":      errorRate,
		"gaps":            stats.Gaps,
		"active_whales":   stats.ActiveWhales,
		"recent_whales":   stats.RecentWhales,
		"whales_created":  stats.WhalesCreated,
		"disappeared":     stats.Disappeared,
		"scored":          stats.Scored,
		"alertable":       stats.Alertable,
		"detection_rate":  stats.DetectionRate,
		"mid_price":       stats.MidPrice,
		"spread_bps":      stats.SpreadBps,
		"market_pressure": stats.MarketPressure,
	})
	if stats.Errors > 0 {
		entry.Warn("pipeline statistics")
		return
	}
	entry.Info("pipeline statistics")
}
