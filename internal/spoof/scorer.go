// Package spoof scores disappeared whales for spoofing behaviour.
package spoof

import (
	"fmt"
	"math"
	"strings"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/internal/market"
	"whalewatch/internal/symbols"
	"whalewatch/internal/tracker"
	"whalewatch/models"
)

type Confidence string

const (
	ConfidenceUnlikely Confidence = "unlikely"
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
)

func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c is the same tier as min or above it.
func (c Confidence) AtLeast(min Confidence) bool {
	return c.rank() >= min.rank()
}

// ParseConfidence maps a config value to a tier, defaulting to medium.
func ParseConfidence(s string) Confidence {
	switch c := Confidence(strings.ToLower(strings.TrimSpace(s))); c {
	case ConfidenceUnlikely, ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return c
	default:
		return ConfidenceMedium
	}
}

type Pattern string

const (
	PatternClassic          Pattern = "classic"
	PatternFlickering       Pattern = "flickering"
	PatternSizeManipulation Pattern = "size_manipulation"
	PatternUnknown          Pattern = "unknown"
)

// Score is the result of scoring one whale lifecycle.
type Score struct {
	WhaleID        string        `json:"whale_id"`
	Symbol         string        `json:"symbol"`
	Side           models.Side   `json:"side"`
	TotalScore     float64       `json:"total_score"`
	Duration       float64       `json:"duration_score"`
	SizePattern    float64       `json:"size_pattern_score"`
	Distance       float64       `json:"distance_score"`
	Behavior       float64       `json:"behavior_score"`
	Context        float64       `json:"context_score"`
	Confidence     Confidence    `json:"confidence"`
	Pattern        Pattern       `json:"pattern"`
	Reasons        []string      `json:"reasons"`
	Profile        string        `json:"profile"`
	ScoredDuration time.Duration `json:"scored_duration"`
}

// Breakdown converts the score into its event form.
func (s Score) Breakdown() *models.ScoreBreakdown {
	return &models.ScoreBreakdown{
		Total:      s.TotalScore,
		Duration:   s.Duration,
		Size:       s.SizePattern,
		Distance:   s.Distance,
		Behavior:   s.Behavior,
		Context:    s.Context,
		Confidence: string(s.Confidence),
		Pattern:    string(s.Pattern),
		Profile:    s.Profile,
		Reasons:    append([]string(nil), s.Reasons...),
	}
}

// Scorer computes spoof scores. Score itself is pure; Record feeds Stats.
type Scorer struct {
	cfg   appconfig.ScoringConfig
	stats *statsCounter
}

func NewScorer(cfg appconfig.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg, stats: newStatsCounter()}
}

func (s *Scorer) assignment(symbol string) (string, bool) {
	if name, ok := s.cfg.Assignments[strings.ToUpper(symbol)]; ok {
		return name, true
	}
	name, ok := s.cfg.Assignments[symbols.Canonical(symbol)]
	return name, ok
}

// SelectProfile picks the calibration for symbol: an explicit assignment
// wins, then volatility based auto selection, then the default profile.
func (s *Scorer) SelectProfile(symbol string, ctx *market.Context) (string, appconfig.CalibrationProfile) {
	name := appconfig.ProfileDefault
	if assigned, ok := s.assignment(symbol); ok {
		name = assigned
	} else if ctx != nil {
		switch {
		case ctx.VolatilityPct >= s.cfg.AutoProfile.HighVolatilityPct:
			name = appconfig.ProfileHighVolatility
		case ctx.Warm && ctx.VolatilityPct <= s.cfg.AutoProfile.LowVolatilityPct:
			name = appconfig.ProfileLowVolatility
		}
	}
	if p, ok := s.cfg.Profiles[name]; ok {
		return name, p
	}
	return appconfig.ProfileDefault, appconfig.DefaultProfiles()[appconfig.ProfileDefault]
}

// Score rates w using ctx (defaults when nil) and the calibration cal.
// midPrice is used when the whale carries no mid price of its own.
func (s *Scorer) Score(w tracker.Whale, ctx *market.Context, cal appconfig.CalibrationProfile, profile string, midPrice float64) Score {
	if ctx == nil {
		def := market.DefaultContext(w.Symbol)
		ctx = &def
	}
	weights := s.cfg.Weights
	duration := w.Duration()
	seconds := duration.Seconds()
	variance := w.SizeVariance()

	var reasons []string
	note := func(format string, args ...interface{}) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	durationFrac := durationFraction(seconds, cal, note)
	sizeFrac := sizeFraction(w.CurrentValue, ctx.AvgOrderSize, variance, cal, note)
	distanceFrac := distanceFraction(w, midPrice, cal, note)
	behaviorFrac := behaviorFraction(w, seconds, cal, note)
	contextFrac := contextFraction(ctx, s.cfg.AutoProfile.HighVolatilityPct, note)

	score := Score{
		WhaleID:        w.ID,
		Symbol:         w.Symbol,
		Side:           w.Side,
		Duration:       weights.Duration * durationFrac,
		SizePattern:    weights.Size * sizeFrac,
		Distance:       weights.Distance * distanceFrac,
		Behavior:       weights.Behavior * behaviorFrac,
		Context:        weights.Context * contextFrac,
		Profile:        profile,
		ScoredDuration: duration,
	}
	score.TotalScore = score.Duration + score.SizePattern + score.Distance + score.Behavior + score.Context
	score.Confidence = s.confidence(score.TotalScore)

	switch {
	case w.DisappearanceCount >= cal.FlickeringThreshold:
		score.Pattern = PatternFlickering
	case variance > cal.SizeVarianceThreshold:
		score.Pattern = PatternSizeManipulation
	case distanceFrac >= 0.75 && durationFrac >= 0.8:
		score.Pattern = PatternClassic
	default:
		score.Pattern = PatternUnknown
	}

	if s.cfg.MaxReasons > 0 && len(reasons) > s.cfg.MaxReasons {
		reasons = reasons[:s.cfg.MaxReasons]
	}
	score.Reasons = reasons
	return score
}

func (s *Scorer) confidence(total float64) Confidence {
	c := s.cfg.Confidence
	switch {
	case total >= c.High:
		return ConfidenceHigh
	case total >= c.Medium:
		return ConfidenceMedium
	case total >= c.Low:
		return ConfidenceLow
	default:
		return ConfidenceUnlikely
	}
}

// ShouldAlert reports whether score reaches the minConfidence tier.
func ShouldAlert(score Score, minConfidence Confidence) bool {
	return score.Confidence.AtLeast(minConfidence)
}

type noteFunc func(format string, args ...interface{})

func durationFraction(seconds float64, cal appconfig.CalibrationProfile, note noteFunc) float64 {
	switch {
	case seconds >= cal.MinDuration && seconds <= cal.MaxDuration:
		if seconds >= cal.ClassicMin && seconds <= cal.ClassicMax {
			note("classic spoof duration: %.1fs", seconds)
			return 1
		}
		note("suspicious duration: %.1fs", seconds)
		return 0.8
	case seconds < cal.MinDuration:
		if seconds < cal.HFTFloor {
			note("too fast for spoofing: %.1fs", seconds)
			return 0
		}
		note("quick order: %.1fs", seconds)
		return 0.4
	default:
		note("long duration: %.1fs", seconds)
		return 0.2
	}
}

func sizeFraction(value, avgOrder, variance float64, cal appconfig.CalibrationProfile, note noteFunc) float64 {
	multiple := 1.0
	if avgOrder > 0 {
		multiple = value / avgOrder
	}
	frac := 0.2
	switch {
	case multiple > cal.SizeMultiplier:
		frac = 0.8
		note("huge order: %.1fx average", multiple)
	case multiple > cal.SizeMultiplier*0.5:
		frac = 0.6
		note("large order: %.1fx average", multiple)
	}
	if variance > cal.SizeVarianceThreshold {
		frac += 0.2
		note("size manipulation: %.1f%% variance", variance*100)
	}
	return math.Min(frac, 1)
}

func distanceFraction(w tracker.Whale, midPrice float64, cal appconfig.CalibrationProfile, note noteFunc) float64 {
	mid := w.MidPriceOnAppearance
	if mid <= 0 {
		mid = midPrice
	}
	price := w.CurrentPrice
	if mid <= 0 || price <= 0 {
		return 0.25
	}
	d := math.Abs(price-mid) / mid
	switch {
	case d > cal.DistanceMin && d < cal.DistanceMax:
		if d < cal.DistanceThreshold {
			note("suspicious distance: %.2f%% from mid", d*100)
			return 0.75
		}
		note("classic spoof distance: %.2f%% from mid", d*100)
		return 1
	case d <= cal.DistanceMin:
		note("very close to mid price")
		return 0.25
	default:
		return 0.5
	}
}

func behaviorFraction(w tracker.Whale, seconds float64, cal appconfig.CalibrationProfile, note noteFunc) float64 {
	frac := 0.0
	switch {
	case w.DisappearanceCount >= cal.FlickeringThreshold:
		frac = 1
		note("flickering: %d reappearances", w.DisappearanceCount)
	case w.DisappearanceCount >= 2:
		frac = 0.5
		note("multiple appearances: %d", w.DisappearanceCount)
	}
	if w.NeverShrank() && seconds > cal.NeverExecutedDuration {
		frac += 0.25
		note("never executed despite %.0fs on the book", seconds)
	}
	return math.Min(frac, 1)
}

func contextFraction(ctx *market.Context, highVolatility float64, note noteFunc) float64 {
	frac := 0.0
	switch {
	case ctx.LiquidityScore < 0.3:
		frac = 1
		note("low liquidity")
	case ctx.LiquidityScore < 0.5:
		frac = 0.5
		note("medium liquidity")
	}
	if ctx.VolatilityPct > highVolatility {
		frac += 0.5
		note("high volatility: %.1f%%", ctx.VolatilityPct)
	}
	return math.Min(frac, 1)
}
