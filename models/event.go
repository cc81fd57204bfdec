package models

import "time"

// EventType classifies a DetectionEvent.
type EventType string

const (
	EventWhaleCreated     EventType = "whale_created"
	EventWhaleUpdated     EventType = "whale_updated"
	EventWhaleReactivated EventType = "whale_reactivated"
	EventWhaleDisappeared EventType = "whale_disappeared"
	EventSpoofScored      EventType = "spoof_scored"
)

// ScoreBreakdown is the serialisable form of a spoof score.
type ScoreBreakdown struct {
	Total      float64  `json:"total"`
	Duration   float64  `json:"duration"`
	Size       float64  `json:"size"`
	Distance   float64  `json:"distance"`
	Behavior   float64  `json:"behavior"`
	Context    float64  `json:"context"`
	Confidence string   `json:"confidence"`
	Pattern    string   `json:"pattern"`
	Profile    string   `json:"profile"`
	Reasons    []string `json:"reasons,omitempty"`
}

// DetectionEvent is the record handed to sinks.
type DetectionEvent struct {
	EventID          string          `json:"event_id"`
	Type             EventType       `json:"type"`
	Symbol           string          `json:"symbol"`
	WhaleID          string          `json:"whale_id"`
	Side             Side            `json:"side"`
	Price            float64         `json:"price"`
	Size             float64         `json:"size"`
	Value            float64         `json:"value"`
	InitialValue     float64         `json:"initial_value"`
	Mega             bool            `json:"mega"`
	DurationSeconds  float64         `json:"duration_seconds"`
	Disappearances   int             `json:"disappearances"`
	PercentageOfBook float64         `json:"percentage_of_book"`
	Level            int             `json:"level"`
	MidPrice         float64         `json:"mid_price"`
	SpreadBps        float64         `json:"spread_bps"`
	VolumeImbalance  float64         `json:"volume_imbalance"`
	SizeVariancePct  float64         `json:"size_variance_pct"`
	Score            *ScoreBreakdown `json:"score,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// IsSpoof reports whether the event carries a spoof score.
func (e DetectionEvent) IsSpoof() bool {
	return e.Type == EventSpoofScored && e.Score != nil
}
