// Package market keeps rolling per symbol statistics used to calibrate whale
// and spoof detection.
package market

import (
	"math"
	"strings"
	"sync"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/internal/ring"
	"whalewatch/models"
)

// Context is a point in time copy of a symbol's market statistics.
type Context struct {
	Symbol         string    `json:"symbol"`
	AvgOrderSize   float64   `json:"avg_order_size"`
	AvgTradeSize   float64   `json:"avg_trade_size"`
	VolatilityPct  float64   `json:"volatility_pct"`
	SpreadBps      float64   `json:"spread_bps"`
	BookDepth      float64   `json:"book_depth"`
	Volume24h      float64   `json:"volume_24h"`
	TradeFrequency float64   `json:"trade_frequency"`
	LiquidityScore float64   `json:"liquidity_score"`
	Samples        int       `json:"samples"`
	Warm           bool      `json:"warm"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultContext is used for scoring when a symbol has no statistics yet.
func DefaultContext(symbol string) Context {
	return Context{
		Symbol:         symbol,
		AvgOrderSize:   50_000,
		AvgTradeSize:   5_000,
		VolatilityPct:  2.0,
		SpreadBps:      10,
		BookDepth:      1_000_000,
		Volume24h:      10_000_000,
		TradeFrequency: 10,
		LiquidityScore: 0.5,
	}
}

type trade struct {
	value float64
	at    time.Time
}

type symbolState struct {
	mu        sync.RWMutex
	orders    *ring.Ring[float64]
	trades    *ring.Ring[trade]
	mids      *ring.Ring[float64]
	volume24h float64
	current   Context
	updated   bool
}

// Tracker owns the rolling samples of every symbol it has seen.
type Tracker struct {
	cfg     appconfig.MarketConfig
	mu      sync.RWMutex
	symbols map[string]*symbolState
}

func NewTracker(cfg appconfig.MarketConfig) *Tracker {
	return &Tracker{cfg: cfg, symbols: make(map[string]*symbolState)}
}

func (t *Tracker) state(symbol string) *symbolState {
	symbol = strings.ToUpper(symbol)
	t.mu.RLock()
	st, ok := t.symbols[symbol]
	t.mu.RUnlock()
	if ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok = t.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{
		orders: ring.New[float64](t.cfg.OrderSampleSize),
		trades: ring.New[trade](t.cfg.TradeSampleSize),
		mids:   ring.New[float64](t.cfg.MidPriceWindow),
	}
	t.symbols[symbol] = st
	return st
}

// Update folds a snapshot into the symbol's samples and recomputes its context.
func (t *Tracker) Update(s *models.Snapshot) Context {
	st := t.state(s.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	n := t.cfg.BootstrapLevels
	for _, side := range [][]models.PriceLevel{s.Bids, s.Asks} {
		for i, l := range side {
			if i >= n {
				break
			}
			st.orders.Push(l.Value())
		}
	}
	if s.MidPrice > 0 {
		st.mids.Push(s.MidPrice)
	}

	c := Context{
		Symbol:    s.Symbol,
		SpreadBps: s.SpreadBps,
		BookDepth: s.TotalDepthValue(),
		Volume24h: st.volume24h,
		Samples:   st.orders.Len(),
		UpdatedAt: s.LocalTime,
	}
	c.Warm = c.Samples >= t.cfg.MinSamples

	if c.Warm {
		c.AvgOrderSize = mean(st.orders.Items())
	} else {
		c.AvgOrderSize = t.bootstrapOrderSize(s)
	}

	if st.trades.Len() > 0 {
		trades := st.trades.Items()
		var sum float64
		for _, tr := range trades {
			sum += tr.value
		}
		c.AvgTradeSize = sum / float64(len(trades))
		c.TradeFrequency = tradesPerMinute(trades, s.LocalTime)
	} else {
		c.AvgTradeSize = c.AvgOrderSize * 0.1
		c.TradeFrequency = 1
	}

	c.VolatilityPct = t.volatility(st.mids.Items())
	c.LiquidityScore = t.liquidity(c.BookDepth, c.SpreadBps)

	st.current = c
	st.updated = true
	return c
}

func (t *Tracker) bootstrapOrderSize(s *models.Snapshot) float64 {
	n := t.cfg.BootstrapLevels
	var values []float64
	for _, side := range [][]models.PriceLevel{s.Bids, s.Asks} {
		for i, l := range side {
			if i >= n {
				break
			}
			values = append(values, l.Value())
		}
	}
	if len(values) == 0 {
		if t.cfg.DefaultOrderSize > 0 {
			return t.cfg.DefaultOrderSize
		}
		return 10_000
	}
	return mean(values)
}

// volatility is the coefficient of variation of recent mid prices, in percent.
func (t *Tracker) volatility(mids []float64) float64 {
	if len(mids) < t.cfg.MinVolatilitySamples || len(mids) < 2 {
		return t.cfg.BaselineVolatility
	}
	m := mean(mids)
	if m == 0 {
		return t.cfg.BaselineVolatility
	}
	var variance float64
	for _, v := range mids {
		d := v - m
		variance += d * d
	}
	variance /= float64(len(mids))
	cv := math.Sqrt(variance) / m * 100
	if math.IsNaN(cv) || math.IsInf(cv, 0) {
		return t.cfg.BaselineVolatility
	}
	return cv
}

func (t *Tracker) liquidity(depthUSD, spreadBps float64) float64 {
	depthScore := math.Min(depthUSD, t.cfg.DepthCapUSD) / t.cfg.DepthCapUSD
	spreadScore := math.Max(0, 1-spreadBps/100)
	score := (depthScore + spreadScore) / 2
	return math.Max(0, math.Min(1, score))
}

// RecordTrade adds an executed trade's quote value to the symbol's samples.
func (t *Tracker) RecordTrade(symbol string, value float64, at time.Time) {
	if value <= 0 {
		return
	}
	st := t.state(symbol)
	st.mu.Lock()
	st.trades.Push(trade{value: value, at: at})
	st.mu.Unlock()
}

// SetVolume24h records an externally sourced 24h volume.
func (t *Tracker) SetVolume24h(symbol string, volume float64) {
	st := t.state(symbol)
	st.mu.Lock()
	st.volume24h = volume
	st.current.Volume24h = volume
	st.mu.Unlock()
}

// Context returns a copy of the latest context. ok is false until the first
// snapshot of the symbol was processed.
func (t *Tracker) Context(symbol string) (Context, bool) {
	t.mu.RLock()
	st, ok := t.symbols[strings.ToUpper(symbol)]
	t.mu.RUnlock()
	if !ok {
		return Context{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if !st.updated {
		return Context{}, false
	}
	return st.current, true
}

// ContextOrDefault returns the latest context or DefaultContext.
func (t *Tracker) ContextOrDefault(symbol string) Context {
	if c, ok := t.Context(symbol); ok {
		return c
	}
	return DefaultContext(strings.ToUpper(symbol))
}

func tradesPerMinute(trades []trade, now time.Time) float64 {
	cutoff := now.Add(-time.Minute)
	n := 0
	for _, tr := range trades {
		if !tr.at.Before(cutoff) {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return float64(n)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
