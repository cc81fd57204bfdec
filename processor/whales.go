package processor

import (
	appconfig "whalewatch/config"
	"whalewatch/models"
)

// DetectWhaleLevels lists the levels whose value reaches the whale threshold,
// bids first, each side in book order.
func DetectWhaleLevels(s *models.Snapshot, threshold appconfig.WhaleThreshold) []models.WhaleLevel {
	var out []models.WhaleLevel
	out = appendWhales(out, models.SideBid, s.Bids, s.BidVolume, threshold)
	out = appendWhales(out, models.SideAsk, s.Asks, s.AskVolume, threshold)
	return out
}

func appendWhales(out []models.WhaleLevel, side models.Side, levels []models.PriceLevel, sideVolume float64, threshold appconfig.WhaleThreshold) []models.WhaleLevel {
	for i, l := range levels {
		value := l.Value()
		if value < threshold.Whale {
			continue
		}
		pct := 0.0
		if sideVolume > 0 {
			pct = l.Size / sideVolume * 100
		}
		out = append(out, models.WhaleLevel{
			Side:             side,
			Price:            l.Price,
			Size:             l.Size,
			Value:            value,
			Level:            i,
			PercentageOfBook: pct,
			Mega:             threshold.MegaWhale > 0 && value >= threshold.MegaWhale,
		})
	}
	return out
}

// WhaleImbalance counts whale bids minus whale asks.
func WhaleImbalance(levels []models.WhaleLevel) int {
	n := 0
	for _, l := range levels {
		if l.Side == models.SideBid {
			n++
		} else {
			n--
		}
	}
	return n
}
