package processor

import (
	"whalewatch/internal/ring"
	"whalewatch/models"
)

// Market pressure labels.
const (
	PressureStrongBuy  = "strong_buy_pressure"
	PressureBuy        = "buy_pressure"
	PressureNeutral    = "neutral"
	PressureSell       = "sell_pressure"
	PressureStrongSell = "strong_sell_pressure"
)

// History keeps the most recent snapshots of one symbol. Callers provide
// their own locking.
type History struct {
	frames *ring.Ring[models.Snapshot]
}

func NewHistory(capacity int) *History {
	return &History{frames: ring.New[models.Snapshot](capacity)}
}

func (h *History) Add(s models.Snapshot) {
	h.frames.Push(s)
}

func (h *History) Len() int { return h.frames.Len() }

func (h *History) Latest() (models.Snapshot, bool) {
	return h.frames.Newest()
}

// Pressure classifies the last window snapshots by their average volume
// imbalance and whale imbalance.
func (h *History) Pressure(window int) string {
	recent := h.frames.Last(window)
	if len(recent) == 0 {
		return PressureNeutral
	}

	var volume, whales float64
	for _, s := range recent {
		volume += s.VolumeImbalance
		whales += float64(s.WhaleImbalance)
	}
	volume /= float64(len(recent))
	whales /= float64(len(recent))

	switch {
	case volume > 0.3 && whales > 1:
		return PressureStrongBuy
	case volume > 0.1:
		return PressureBuy
	case volume < -0.3 && whales < -1:
		return PressureStrongSell
	case volume < -0.1:
		return PressureSell
	default:
		return PressureNeutral
	}
}
