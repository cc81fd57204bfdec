// Package stream runs one detection pipeline per symbol and feeds it from a
// depth source.
package stream

import (
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "whalewatch/config"
	"whalewatch/internal/market"
	"whalewatch/internal/metrics"
	"whalewatch/internal/spoof"
	"whalewatch/internal/tracker"
	"whalewatch/logger"
	"whalewatch/models"
	"whalewatch/processor"
)

// Publisher receives detection events. It must not block.
type Publisher interface {
	Publish(event models.DetectionEvent)
}

type pipelineCounters struct {
	snapshots   int64
	errors      int64
	gaps        int64
	created     int64
	disappeared int64
	scored      int64
	alertable   int64
}

// Pipeline owns every piece of state of one symbol: the snapshot builder,
// market context, whale tracker and snapshot history. Process is called
// from a single goroutine; the read methods are safe from any goroutine.
type Pipeline struct {
	symbol    string
	detection appconfig.DetectionConfig
	threshold appconfig.WhaleThreshold
	alertMin  spoof.Confidence

	builder *processor.Builder
	market  *market.Tracker
	whales  *tracker.Tracker
	scorer  *spoof.Scorer
	publish Publisher

	mu           sync.RWMutex
	history      *processor.History
	prevUpdateID int64
	counters     pipelineCounters
	lastEvicted  tracker.Stats
	wideSpread   bool
	extreme      bool

	log *logger.Entry
}

// NewPipeline builds the pipeline of symbol. scorer may be shared between
// pipelines.
func NewPipeline(symbol string, cfg *appconfig.Config, scorer *spoof.Scorer, publish Publisher) *Pipeline {
	symbol = strings.ToUpper(symbol)
	history := cfg.Detection.SnapshotHistory
	if history <= 0 {
		history = 100
	}
	return &Pipeline{
		symbol:    symbol,
		detection: cfg.Detection,
		threshold: cfg.Detection.ThresholdFor(symbol),
		alertMin:  spoof.ParseConfidence(cfg.Alerts.Telegram.MinConfidence),
		builder:   processor.NewBuilder(cfg.Detection),
		market:    market.NewTracker(cfg.Market),
		whales:    tracker.New(cfg.Tracker),
		scorer:    scorer,
		publish:   publish,
		history:   processor.NewHistory(history),
		log:       logger.GetLogger().WithComponent("pipeline").WithField("symbol", symbol),
	}
}

func (p *Pipeline) Symbol() string { return p.symbol }

// Process runs one depth update through the detection chain. A panic is
// recovered and returned as an error so the stream keeps running.
func (p *Pipeline) Process(raw models.RawDepthUpdate) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			p.counters.errors++
			metrics.SnapshotError(p.symbol)
			err = fmt.Errorf("pipeline %s panic: %v", p.symbol, r)
			p.log.WithFields(logger.Fields{
				"update_id": raw.UpdateID,
				"panic":     fmt.Sprint(r),
				"stack":     string(debug.Stack()),
			}).Error("recovered from pipeline panic")
		}
	}()

	if raw.Symbol == "" {
		raw.Symbol = p.symbol
	}
	snap, levels, err := p.builder.BuildWithWhales(raw, p.prevUpdateID, p.threshold)
	if err != nil {
		p.counters.errors++
		metrics.SnapshotError(p.symbol)
		p.log.WithError(err).WithField("update_id", raw.UpdateID).Warn("dropping undecodable depth update")
		return err
	}

	if snap.UpdateIDGap > 1 {
		p.counters.gaps++
		metrics.UpdateGap(p.symbol)
		p.log.WithFields(logger.Fields{
			"previous_update_id": p.prevUpdateID,
			"update_id":          snap.UpdateID,
			"gap":                snap.UpdateIDGap,
		}).Warn("update id gap detected")
	}
	p.prevUpdateID = snap.UpdateID

	mctx := p.market.Update(&snap)

	p.history.Add(snap)
	p.checkBookWarnings(&snap)

	at := snap.LocalTime
	ids := make([]string, 0, len(levels))
	for _, l := range levels {
		id, outcome := p.whales.Identify(tracker.Observation{
			Symbol:           p.symbol,
			Side:             l.Side,
			Price:            l.Price,
			Size:             l.Size,
			Value:            l.Value,
			PercentageOfBook: l.PercentageOfBook,
			Level:            l.Level,
			MidPrice:         snap.MidPrice,
			Mega:             l.Mega,
			At:               at,
		})
		ids = append(ids, id)
		p.emitIdentified(id, outcome, l, &snap)
	}

	for _, w := range p.whales.ProcessSnapshot(p.symbol, ids, at) {
		p.scoreDisappeared(w, mctx, &snap)
	}
	p.recordEvictions()

	p.counters.snapshots++
	metrics.SnapshotProcessed(p.symbol)
	logger.IncrementSnapshot(p.symbol, raw.Bytes)
	return nil
}

func (p *Pipeline) emitIdentified(id string, outcome tracker.Outcome, l models.WhaleLevel, snap *models.Snapshot) {
	var typ models.EventType
	switch outcome {
	case tracker.OutcomeCreated:
		typ = models.EventWhaleCreated
		p.counters.created++
		metrics.WhaleCreated(p.symbol, string(l.Side))
		if l.Mega {
			p.log.WithFields(logger.Fields{
				"whale_id": id,
				"side":     l.Side,
				"price":    l.Price,
				"value":    l.Value,
			}).Warn("mega whale detected")
		}
	case tracker.OutcomeReactivated:
		typ = models.EventWhaleReactivated
		metrics.WhaleReactivated(p.symbol, string(l.Side))
	case tracker.OutcomeUpdated:
		typ = models.EventWhaleUpdated
	default:
		return
	}

	w, ok := p.whales.Lookup(p.symbol, id)
	if !ok {
		return
	}
	e := newEvent(typ, w, snap)
	e.Level = l.Level
	e.PercentageOfBook = l.PercentageOfBook
	p.publish.Publish(e)
}

func (p *Pipeline) scoreDisappeared(w tracker.Whale, mctx market.Context, snap *models.Snapshot) {
	p.counters.disappeared++
	metrics.WhaleDisappeared(p.symbol, string(w.Side))

	name, profile := p.scorer.SelectProfile(p.symbol, &mctx)
	score := p.scorer.Score(w, &mctx, profile, name, snap.MidPrice)
	p.scorer.Record(score)
	p.counters.scored++
	metrics.SpoofDetected(p.symbol, string(score.Confidence), string(score.Pattern))
	if spoof.ShouldAlert(score, p.alertMin) {
		p.counters.alertable++
		p.log.WithFields(logger.Fields{
			"whale_id":   w.ID,
			"score":      score.TotalScore,
			"confidence": score.Confidence,
			"pattern":    score.Pattern,
		}).Info("potential spoof detected")
	}

	p.publish.Publish(newEvent(models.EventWhaleDisappeared, w, snap))
	scored := newEvent(models.EventSpoofScored, w, snap)
	scored.Score = score.Breakdown()
	p.publish.Publish(scored)
}

// recordEvictions exports the growth of the tracker's eviction counters
// since the previous snapshot.
func (p *Pipeline) recordEvictions() {
	s := p.whales.Stats()
	if d := s.EvictedRecent - p.lastEvicted.EvictedRecent; d > 0 {
		metrics.WhalesEvicted(p.symbol, "recent_capacity", d)
	}
	if d := s.Expired - p.lastEvicted.Expired; d > 0 {
		metrics.WhalesEvicted(p.symbol, "expired", d)
	}
	if d := s.ForcedOut - p.lastEvicted.ForcedOut; d > 0 {
		metrics.WhalesEvicted(p.symbol, "active_capacity", d)
	}
	p.lastEvicted = s
}

// checkBookWarnings logs when the book enters a wide spread or extreme
// imbalance state after warm-up. Only the transition into a state is logged.
func (p *Pipeline) checkBookWarnings(snap *models.Snapshot) {
	if p.history.Len() < p.detection.ImbalanceWarmupFrames {
		return
	}
	wide := p.detection.WideSpreadBps > 0 && snap.SpreadBps > p.detection.WideSpreadBps
	if wide && !p.wideSpread {
		p.log.WithFields(logger.Fields{
			"spread_bps": snap.SpreadBps,
			"limit_bps":  p.detection.WideSpreadBps,
		}).Warn("wide spread")
	}
	p.wideSpread = wide

	extreme := p.detection.ExtremeImbalance > 0 && math.Abs(snap.VolumeImbalance) > p.detection.ExtremeImbalance
	if extreme && !p.extreme {
		p.log.WithFields(logger.Fields{
			"volume_imbalance": snap.VolumeImbalance,
			"bid_value":        snap.BidValue,
			"ask_value":        snap.AskValue,
		}).Warn("extreme order book imbalance")
	}
	p.extreme = extreme
}

func newEvent(typ models.EventType, w tracker.Whale, snap *models.Snapshot) models.DetectionEvent {
	return models.DetectionEvent{
		EventID:          uuid.NewString(),
		Type:             typ,
		Symbol:           w.Symbol,
		WhaleID:          w.ID,
		Side:             w.Side,
		Price:            w.CurrentPrice,
		Size:             w.CurrentSize,
		Value:            w.CurrentValue,
		InitialValue:     w.InitialValue,
		Mega:             w.Mega,
		DurationSeconds:  w.Duration().Seconds(),
		Disappearances:   w.DisappearanceCount,
		PercentageOfBook: w.PercentageOfBook,
		Level:            w.BookLevel,
		MidPrice:         snap.MidPrice,
		SpreadBps:        snap.SpreadBps,
		VolumeImbalance:  snap.VolumeImbalance,
		SizeVariancePct:  w.SizeVariance() * 100,
		Timestamp:        snap.LocalTime,
	}
}

// Stats returns the pipeline counters together with the latest book view.
func (p *Pipeline) Stats() metrics.PipelineStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ts := p.whales.Stats()
	s := metrics.PipelineStats{
		Symbol:         p.symbol,
		Snapshots:      p.counters.snapshots,
		Errors:         p.counters.errors,
		Gaps:           p.counters.gaps,
		ActiveWhales:   ts.Active,
		RecentWhales:   ts.Recent,
		WhalesCreated:  p.counters.created,
		Disappeared:    p.counters.disappeared,
		Scored:         p.counters.scored,
		Alertable:      p.counters.alertable,
		LastUpdateID:   p.prevUpdateID,
		MarketPressure: p.history.Pressure(p.detection.PressureWindow),
	}
	if p.counters.scored > 0 {
		s.DetectionRate = float64(p.counters.alertable) / float64(p.counters.scored) * 100
	}
	if latest, ok := p.history.Latest(); ok {
		s.MidPrice = latest.MidPrice
		s.SpreadBps = latest.SpreadBps
	}
	return s
}

// Whales returns summaries of the active whales.
func (p *Pipeline) Whales() []tracker.Summary {
	return p.whales.Summaries(p.symbol)
}

// RecentWhales returns summaries of the recently disappeared whales.
func (p *Pipeline) RecentWhales() []tracker.Summary {
	recent := p.whales.Recent(p.symbol)
	out := make([]tracker.Summary, 0, len(recent))
	for _, w := range recent {
		out = append(out, tracker.Summarize(w))
	}
	return out
}

// RecordTrade folds an executed trade into the market context. It is safe to
// call concurrently with Process.
func (p *Pipeline) RecordTrade(value float64, at time.Time) {
	p.market.RecordTrade(p.symbol, value, at)
}

// SetVolume24h stores the symbol's rolling 24h quote volume.
func (p *Pipeline) SetVolume24h(volume float64) {
	p.market.SetVolume24h(p.symbol, volume)
}

// Market returns the symbol's market context, or the defaults before the
// first snapshot.
func (p *Pipeline) Market() market.Context {
	return p.market.ContextOrDefault(p.symbol)
}

// Latest returns the most recent snapshot.
func (p *Pipeline) Latest() (models.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history.Latest()
}

// Tracker exposes the whale tracker for read access.
func (p *Pipeline) Tracker() *tracker.Tracker { return p.whales }
