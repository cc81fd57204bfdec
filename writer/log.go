// Package writer holds the sinks detection events are delivered to.
package writer

import (
	"context"

	"whalewatch/logger"
	"whalewatch/models"
)

// LogSink writes every event as a structured log line. Spoof scores are
// logged at info level, everything else at debug.
type LogSink struct {
	log *logger.Log
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.GetLogger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, e models.DetectionEvent) error {
	fields := logger.Fields{
		"event_id":         e.EventID,
		"type":             e.Type,
		"symbol":           e.Symbol,
		"whale_id":         e.WhaleID,
		"side":             e.Side,
		"price":            e.Price,
		"value":            e.Value,
		"mega":             e.Mega,
		"duration_seconds": e.DurationSeconds,
		"disappearances":   e.Disappearances,
	}
	entry := s.log.WithComponent("event_log").WithFields(fields)
	if e.IsSpoof() {
		entry.WithFields(logger.Fields{
			"score":      e.Score.Total,
			"confidence": e.Score.Confidence,
			"pattern":    e.Score.Pattern,
			"profile":    e.Score.Profile,
			"reasons":    e.Score.Reasons,
		}).Info("spoof scored")
		return nil
	}
	if e.Mega && e.Type == models.EventWhaleCreated {
		entry.Info("mega whale detected")
		return nil
	}
	entry.Debug(string(e.Type))
	return nil
}

func (s *LogSink) Close() error { return nil }
