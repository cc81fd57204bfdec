package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/internal/metrics"
	"whalewatch/internal/spoof"
	"whalewatch/internal/tracker"
	"whalewatch/logger"
	"whalewatch/models"
	"whalewatch/reader"
)

// Stats is the engine wide view served by the status API.
type Stats struct {
	Source        string                  `json:"source"`
	StartedAt     time.Time               `json:"started_at"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	Pipelines     []metrics.PipelineStats `json:"pipelines"`
	Trackers      tracker.Stats           `json:"trackers"`
	Spoof         spoof.Stats             `json:"spoof"`
	Healthy       bool                    `json:"healthy"`
}

// Engine runs one ingestion goroutine per symbol, each driving its own
// Pipeline synchronously so events of a symbol keep arrival order.
type Engine struct {
	source    reader.Source
	feed      appconfig.FeedConfig
	scorer    *spoof.Scorer
	symbols   []string
	pipelines map[string]*Pipeline
	health    *healthRegistry
	failures  chan error

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	log *logger.Log
}

func NewEngine(cfg *appconfig.Config, source reader.Source, publish Publisher) *Engine {
	scorer := spoof.NewScorer(cfg.Scoring)
	e := &Engine{
		source:    source,
		feed:      cfg.Feed,
		scorer:    scorer,
		pipelines: make(map[string]*Pipeline, len(cfg.Symbols)),
		failures:  make(chan error, len(cfg.Symbols)),
		log:       logger.GetLogger(),
	}
	for _, symbol := range cfg.Symbols {
		p := NewPipeline(symbol, cfg, scorer, publish)
		if _, dup := e.pipelines[p.Symbol()]; dup {
			continue
		}
		e.pipelines[p.Symbol()] = p
		e.symbols = append(e.symbols, p.Symbol())
	}
	sort.Strings(e.symbols)
	e.health = newHealthRegistry(e.symbols)
	return e
}

// Start launches the streams and returns immediately. Streams stop when ctx
// ends or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.startedAt = time.Now()

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"source":  e.source.Name(),
		"symbols": e.symbols,
	}).Info("starting depth streams")

	mf, withMarket := e.source.(reader.MarketFeed)
	withMarket = withMarket && e.feed.Trades
	for _, symbol := range e.symbols {
		p := e.pipelines[symbol]
		e.wg.Add(1)
		go e.run(ctx, p)
		if withMarket {
			e.wg.Add(2)
			go e.runTrades(ctx, mf, p)
			go e.pollVolume(ctx, mf, p)
		}
	}
}

// runTrades feeds executed trades into the pipeline's market context. A
// failed trade stream degrades calibration to defaults; it does not fail the
// depth stream.
func (e *Engine) runTrades(ctx context.Context, mf reader.MarketFeed, p *Pipeline) {
	defer e.wg.Done()
	err := mf.StreamTrades(ctx, p.Symbol(), p.RecordTrade)
	if err != nil && ctx.Err() == nil {
		e.log.WithComponent("engine").WithField("symbol", p.Symbol()).WithError(err).
			Warn("trade stream stopped, trade statistics fall back to defaults")
	}
}

// pollVolume refreshes the 24h volume now and every feed.stats_interval.
func (e *Engine) pollVolume(ctx context.Context, mf reader.MarketFeed, p *Pipeline) {
	defer e.wg.Done()
	log := e.log.WithComponent("engine").WithField("symbol", p.Symbol())
	refresh := func() {
		v, err := mf.Volume24h(ctx, p.Symbol())
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warn("24h volume refresh failed")
			}
			return
		}
		p.SetVolume24h(v)
	}

	refresh()
	if e.feed.StatsInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.feed.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func (e *Engine) run(ctx context.Context, p *Pipeline) {
	defer e.wg.Done()
	symbol := p.Symbol()
	log := e.log.WithComponent("engine").WithField("symbol", symbol)

	handler := func(u models.RawDepthUpdate) {
		// Errors are already logged and counted by the pipeline.
		_ = p.Process(u)
	}
	onState := func(state reader.State, err error) {
		e.health.set(symbol, state, err)
	}

	err := e.source.Stream(ctx, symbol, handler, onState)
	switch {
	case err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil:
		e.health.set(symbol, reader.StateStopped, nil)
		log.Info("depth stream stopped")
	default:
		e.health.set(symbol, reader.StateFailed, err)
		log.WithError(err).Error("depth stream failed")
		select {
		case e.failures <- fmt.Errorf("stream %s: %w", symbol, err):
		default:
		}
	}
}

// Stop cancels every stream and waits for the ingestion goroutines. The
// caller drains the event bus afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.log.WithComponent("engine").Info("all depth streams stopped")
}

// Failures delivers one error per stream that exhausted its reconnect budget.
func (e *Engine) Failures() <-chan error { return e.failures }

func (e *Engine) Symbols() []string {
	return append([]string(nil), e.symbols...)
}

func (e *Engine) Pipeline(symbol string) (*Pipeline, bool) {
	p, ok := e.pipelines[symbol]
	return p, ok
}

// Health lists the connection state of every stream.
func (e *Engine) Health() []StreamHealth { return e.health.snapshot() }

// Healthy is false once any stream has failed.
func (e *Engine) Healthy() bool { return e.health.healthy() }

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	started := e.startedAt
	e.mu.Unlock()

	s := Stats{
		Source:    e.source.Name(),
		StartedAt: started,
		Spoof:     e.scorer.Stats(),
		Healthy:   e.Healthy(),
	}
	if !started.IsZero() {
		s.UptimeSeconds = time.Since(started).Seconds()
	}
	for _, symbol := range e.symbols {
		p := e.pipelines[symbol]
		s.Pipelines = append(s.Pipelines, p.Stats())
		ts := p.Tracker().Stats()
		s.Trackers.Active += ts.Active
		s.Trackers.Recent += ts.Recent
		s.Trackers.History += ts.History
		s.Trackers.Created += ts.Created
		s.Trackers.Reactivated += ts.Reactivated
		s.Trackers.Disappeared += ts.Disappeared
		s.Trackers.EvictedRecent += ts.EvictedRecent
		s.Trackers.Expired += ts.Expired
		s.Trackers.ForcedOut += ts.ForcedOut
	}
	return s
}

// StartStatsReporting logs and exports pipeline statistics every interval
// until ctx ends.
func (e *Engine) StartStatsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, symbol := range e.symbols {
					metrics.ReportPipeline(e.log, e.pipelines[symbol].Stats())
				}
				st := e.scorer.Stats()
				e.log.WithComponent("engine").WithFields(logger.Fields{
					"analyzed":       st.Analyzed,
					"high":           st.High,
					"medium":         st.Medium,
					"low":            st.Low,
					"unlikely":       st.Unlikely,
					"detection_rate": st.DetectionRate,
				}).Info("spoof detection statistics")
			}
		}
	}()
}
