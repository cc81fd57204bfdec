package tracker

import (
	"math"
	"time"

	"whalewatch/models"
)

// State of a whale within the tracker.
type State string

const (
	StateActive State = "active"
	StateRecent State = "recently_disappeared"
	StatePurged State = "purged"
)

// Change is one significant size or price move of a whale.
type Change struct {
	At   time.Time `json:"at"`
	From float64   `json:"from"`
	To   float64   `json:"to"`
	Pct  float64   `json:"pct"`
}

// Whale is a resting order followed across snapshots. ID and the Initial*
// fields never change after creation.
type Whale struct {
	ID     string      `json:"id"`
	Symbol string      `json:"symbol"`
	Side   models.Side `json:"side"`
	State  State       `json:"state"`

	InitialPrice         float64 `json:"initial_price"`
	InitialSize          float64 `json:"initial_size"`
	InitialValue         float64 `json:"initial_value"`
	MidPriceOnAppearance float64 `json:"mid_price_on_appearance"`
	PercentageOfBook     float64 `json:"percentage_of_book"`
	BookLevel            int     `json:"book_level"`
	Mega                 bool    `json:"mega"`

	CurrentPrice float64 `json:"current_price"`
	CurrentSize  float64 `json:"current_size"`
	CurrentValue float64 `json:"current_value"`
	MaxSizeSeen  float64 `json:"max_size_seen"`
	MinSizeSeen  float64 `json:"min_size_seen"`

	FirstSeen   time.Time `json:"first_seen"`
	ActiveSince time.Time `json:"active_since"`
	LastSeen    time.Time `json:"last_seen"`

	SizeChanges []Change `json:"size_changes,omitempty"`
	PriceMoves  []Change `json:"price_moves,omitempty"`

	DisappearanceCount  int           `json:"disappearance_count"`
	AccumulatedDuration time.Duration `json:"accumulated_duration"`

	round uint64
}

// Duration is the total time the whale has been visible: closed intervals
// plus the open one while active.
func (w *Whale) Duration() time.Duration {
	d := w.AccumulatedDuration
	if w.State == StateActive {
		if open := w.LastSeen.Sub(w.ActiveSince); open > 0 {
			d += open
		}
	}
	return d
}

// SizeVariance is (max - min) / initial size.
func (w *Whale) SizeVariance() float64 {
	if w.InitialSize <= 0 {
		return 0
	}
	return (w.MaxSizeSeen - w.MinSizeSeen) / w.InitialSize
}

// NeverShrank reports whether no significant size reduction was recorded.
func (w *Whale) NeverShrank() bool {
	for _, c := range w.SizeChanges {
		if c.To < c.From {
			return false
		}
	}
	return true
}

// update refreshes the current values and logs significant changes. It
// reports whether a change was logged.
func (w *Whale) update(price, size, value float64, at time.Time, cfg changeLimits) bool {
	changed := false

	if pct := relativeChange(w.CurrentSize, size); pct > cfg.size {
		w.SizeChanges = appendBounded(w.SizeChanges, Change{At: at, From: w.CurrentSize, To: size, Pct: pct}, cfg.max)
		changed = true
	}
	if pct := relativeChange(w.CurrentPrice, price); pct > cfg.price {
		w.PriceMoves = appendBounded(w.PriceMoves, Change{At: at, From: w.CurrentPrice, To: price, Pct: pct}, cfg.max)
		changed = true
	}

	w.CurrentPrice = price
	w.CurrentSize = size
	w.CurrentValue = value
	if at.After(w.LastSeen) {
		w.LastSeen = at
	}
	w.MaxSizeSeen = math.Max(w.MaxSizeSeen, size)
	w.MinSizeSeen = math.Min(w.MinSizeSeen, size)
	return changed
}

type changeLimits struct {
	size  float64
	price float64
	max   int
}

// relativeChange treats a move away from zero as a full change.
func relativeChange(from, to float64) float64 {
	if from == 0 {
		if to == 0 {
			return 0
		}
		return 1
	}
	return math.Abs(to-from) / from
}

func appendBounded(changes []Change, c Change, max int) []Change {
	changes = append(changes, c)
	if max > 0 && len(changes) > max {
		changes = append(changes[:0:0], changes[len(changes)-max:]...)
	}
	return changes
}

func (w *Whale) clone() Whale {
	c := *w
	c.SizeChanges = append([]Change(nil), w.SizeChanges...)
	c.PriceMoves = append([]Change(nil), w.PriceMoves...)
	return c
}

// LikelySpoof applies the basic rule set used when no score is available:
// a very large order gone within a minute, repeated flickering, or heavy
// size manipulation.
func (w *Whale) LikelySpoof() bool {
	seconds := w.Duration().Seconds()
	if seconds > 5 && seconds < 60 && w.CurrentValue >= 5_000_000 {
		return true
	}
	if w.DisappearanceCount >= 3 && seconds < 120 {
		return true
	}
	return len(w.SizeChanges) >= 5 && w.SizeVariance() > 0.5
}

// Summary is the read model exposed by the status API.
type Summary struct {
	ID               string      `json:"whale_id"`
	Symbol           string      `json:"symbol"`
	Side             models.Side `json:"side"`
	State            State       `json:"state"`
	InitialPrice     float64     `json:"initial_price"`
	CurrentPrice     float64     `json:"current_price"`
	InitialSize      float64     `json:"initial_size"`
	CurrentSize      float64     `json:"current_size"`
	InitialValue     float64     `json:"initial_value"`
	CurrentValue     float64     `json:"current_value"`
	DurationSeconds  float64     `json:"duration_seconds"`
	SizeChangesCount int         `json:"size_changes_count"`
	Disappearances   int         `json:"disappearances"`
	MaxSizeSeen      float64     `json:"max_size_seen"`
	MinSizeSeen      float64     `json:"min_size_seen"`
	SizeVariancePct  float64     `json:"size_variance_pct"`
	LikelySpoof      bool        `json:"likely_spoof"`
	PercentageOfBook float64     `json:"percentage_of_book"`
	Level            int         `json:"level"`
	Mega             bool        `json:"mega"`
	FirstSeen        time.Time   `json:"first_seen"`
	LastSeen         time.Time   `json:"last_seen"`
}

// Summarize builds the read model of w.
func Summarize(w Whale) Summary {
	return Summary{
		ID:               w.ID,
		Symbol:           w.Symbol,
		Side:             w.Side,
		State:            w.State,
		InitialPrice:     w.InitialPrice,
		CurrentPrice:     w.CurrentPrice,
		InitialSize:      w.InitialSize,
		CurrentSize:      w.CurrentSize,
		InitialValue:     w.InitialValue,
		CurrentValue:     w.CurrentValue,
		DurationSeconds:  w.Duration().Seconds(),
		SizeChangesCount: len(w.SizeChanges),
		Disappearances:   w.DisappearanceCount,
		MaxSizeSeen:      w.MaxSizeSeen,
		MinSizeSeen:      w.MinSizeSeen,
		SizeVariancePct:  w.SizeVariance() * 100,
		LikelySpoof:      w.LikelySpoof(),
		PercentageOfBook: w.PercentageOfBook,
		Level:            w.BookLevel,
		Mega:             w.Mega,
		FirstSeen:        w.FirstSeen,
		LastSeen:         w.LastSeen,
	}
}
