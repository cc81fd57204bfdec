package processor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	appconfig "whalewatch/config"
	"whalewatch/models"
)

// Builder turns raw depth updates into snapshots with derived metrics. It
// holds no per symbol state; the previous update id is supplied by the caller.
type Builder struct {
	cfg appconfig.DetectionConfig
	now func() time.Time
}

func NewBuilder(cfg appconfig.DetectionConfig) *Builder {
	return &Builder{cfg: cfg, now: time.Now}
}

// Build parses and enriches one update. A level that fails to parse rejects
// the whole message.
func (b *Builder) Build(raw models.RawDepthUpdate, previousUpdateID int64) (models.Snapshot, error) {
	bids, err := parseLevels(raw.Bids)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("parse bids of %s: %w", raw.Symbol, err)
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("parse asks of %s: %w", raw.Symbol, err)
	}

	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	local := raw.ReceivedAt
	if local.IsZero() {
		local = b.now()
	}
	var server time.Time
	if raw.EventTime > 0 {
		server = time.UnixMilli(raw.EventTime)
	}

	s := models.Snapshot{
		Symbol:     strings.ToUpper(raw.Symbol),
		ServerTime: server,
		LocalTime:  local,
		UpdateID:   raw.UpdateID,
		Bids:       bids,
		Asks:       asks,
	}
	if previousUpdateID > 0 {
		s.UpdateIDGap = raw.UpdateID - previousUpdateID
	}

	b.enrich(&s)
	return s, nil
}

// BuildWithWhales builds the snapshot and lists its whale levels under
// threshold. The snapshot's WhaleImbalance is filled from those levels.
func (b *Builder) BuildWithWhales(raw models.RawDepthUpdate, previousUpdateID int64, threshold appconfig.WhaleThreshold) (models.Snapshot, []models.WhaleLevel, error) {
	s, err := b.Build(raw, previousUpdateID)
	if err != nil {
		return s, nil, err
	}
	whales := DetectWhaleLevels(&s, threshold)
	s.WhaleImbalance = WhaleImbalance(whales)
	return s, whales, nil
}

func (b *Builder) enrich(s *models.Snapshot) {
	if len(s.Bids) > 0 {
		s.BestBid, s.BestBidSize = s.Bids[0].Price, s.Bids[0].Size
	}
	if len(s.Asks) > 0 {
		s.BestAsk, s.BestAskSize = s.Asks[0].Price, s.Asks[0].Size
	}
	if len(s.Bids) > 0 && len(s.Asks) > 0 {
		s.Spread = s.BestAsk - s.BestBid
		s.MidPrice = (s.BestAsk + s.BestBid) / 2
		if s.BestBid > 0 {
			s.SpreadBps = s.Spread / s.BestBid * 10_000
		}
	}

	for _, l := range s.Bids {
		s.BidVolume += l.Size
		s.BidValue += l.Value()
	}
	for _, l := range s.Asks {
		s.AskVolume += l.Size
		s.AskValue += l.Value()
	}
	s.VolumeImbalance = imbalance(s.BidVolume, s.AskVolume)
	s.ValueImbalance = imbalance(s.BidValue, s.AskValue)

	s.BidSlope = slope(s.Bids, b.cfg.SlopeLevels)
	s.AskSlope = slope(s.Asks, b.cfg.SlopeLevels)
	s.BookSkew = s.BidSlope - s.AskSlope

	s.DepthAtPct = depthWithin(s.Bids, s.Asks, s.MidPrice, b.cfg.DepthPct/100)
	s.DepthAtBps = depthWithin(s.Bids, s.Asks, s.MidPrice, b.cfg.DepthBps/10_000)

	s.SupportLevel = firstWall(s.Bids, b.cfg.SupportResistanceUSD)
	s.ResistanceLevel = firstWall(s.Asks, b.cfg.SupportResistanceUSD)
}

func parseLevels(raw []models.RawLevel) ([]models.PriceLevel, error) {
	levels := make([]models.PriceLevel, 0, len(raw))
	for i, r := range raw {
		price, err := decimal.NewFromString(strings.TrimSpace(r.Price))
		if err != nil {
			return nil, fmt.Errorf("level %d price %q: %w", i, r.Price, err)
		}
		size, err := decimal.NewFromString(strings.TrimSpace(r.Quantity))
		if err != nil {
			return nil, fmt.Errorf("level %d quantity %q: %w", i, r.Quantity, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("level %d: non-positive price %s", i, price)
		}
		if !size.IsPositive() {
			// removal entries carry a zero size
			continue
		}
		levels = append(levels, models.PriceLevel{
			Price: price.InexactFloat64(),
			Size:  size.InexactFloat64(),
		})
	}
	return levels, nil
}

func imbalance(a, b float64) float64 {
	total := a + b
	if total == 0 {
		return 0
	}
	return (a - b) / total
}

// slope is the least squares slope of level size against the level's
// percentage distance from the best price, over the top n levels.
func slope(levels []models.PriceLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	if n < 2 {
		return 0
	}
	best := levels[0].Price
	if best <= 0 {
		return 0
	}

	var meanX, meanY float64
	xs := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = math.Abs(levels[i].Price-best) / best * 100
		meanX += xs[i]
		meanY += levels[i].Size
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var num, den float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		num += dx * (levels[i].Size - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	result := num / den
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0
	}
	return result
}

// depthWithin sums the size resting within fraction of the mid price.
func depthWithin(bids, asks []models.PriceLevel, mid, fraction float64) float64 {
	if mid <= 0 {
		return 0
	}
	lower := mid * (1 - fraction)
	upper := mid * (1 + fraction)

	var depth float64
	for _, l := range bids {
		if l.Price < lower {
			break
		}
		depth += l.Size
	}
	for _, l := range asks {
		if l.Price > upper {
			break
		}
		depth += l.Size
	}
	return depth
}

func firstWall(levels []models.PriceLevel, minValue float64) *float64 {
	for _, l := range levels {
		if l.Value() >= minValue {
			price := l.Price
			return &price
		}
	}
	return nil
}
