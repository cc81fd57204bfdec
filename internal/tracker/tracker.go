// Package tracker follows whale orders across order book snapshots and keeps
// their identity through brief disappearances.
package tracker

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/internal/ring"
	"whalewatch/logger"
	"whalewatch/models"
)

// Outcome tells how an observation was resolved by Identify.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeMatched
	OutcomeUpdated
	OutcomeReactivated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeUpdated:
		return "updated"
	case OutcomeReactivated:
		return "reactivated"
	default:
		return "created"
	}
}

// Observation is one whale level seen in a snapshot.
type Observation struct {
	Symbol           string
	Side             models.Side
	Price            float64
	Size             float64
	Value            float64
	PercentageOfBook float64
	Level            int
	MidPrice         float64
	Mega             bool
	At               time.Time
}

// Stats are the tracker counters since start.
type Stats struct {
	Active        int   `json:"active"`
	Recent        int   `json:"recent"`
	History       int   `json:"history"`
	Created       int64 `json:"created"`
	Reactivated   int64 `json:"reactivated"`
	Disappeared   int64 `json:"disappeared"`
	EvictedRecent int64 `json:"evicted_recent"`
	Expired       int64 `json:"expired"`
	ForcedOut     int64 `json:"forced_out"`
}

// idSeq is shared by every tracker so ids stay unique process wide.
var idSeq atomic.Uint64

type book struct {
	active  map[string]*Whale
	index   map[models.Side][]string
	recent  []*Whale
	pending []*Whale
	round   uint64
}

func newBook() *book {
	return &book{
		active: make(map[string]*Whale),
		index:  make(map[models.Side][]string),
		round:  1,
	}
}

// Tracker owns the active set, the recently disappeared buffer and the
// bounded history log of every symbol it is fed.
type Tracker struct {
	cfg     appconfig.TrackerConfig
	limits  changeLimits
	mu      sync.RWMutex
	books   map[string]*book
	history *ring.Ring[Whale]
	stats   Stats
	log     *logger.Entry
}

func New(cfg appconfig.TrackerConfig) *Tracker {
	t := &Tracker{
		cfg:    cfg,
		limits: changeLimits{size: cfg.SizeChangeThreshold, price: cfg.PriceChangeThreshold, max: cfg.MaxChanges},
		books:  make(map[string]*book),
		log:    logger.GetLogger().WithComponent("tracker"),
	}
	if cfg.MaxHistory > 0 {
		t.history = ring.New[Whale](cfg.MaxHistory)
	}
	return t
}

func (t *Tracker) book(symbol string) *book {
	b, ok := t.books[symbol]
	if !ok {
		b = newBook()
		t.books[symbol] = b
	}
	return b
}

// Identify resolves obs to an active whale, a reactivated one or a new one.
func (t *Tracker) Identify(obs Observation) (string, Outcome) {
	obs.Symbol = strings.ToUpper(obs.Symbol)
	if obs.At.IsZero() {
		obs.At = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.book(obs.Symbol)

	if w := t.matchActive(b, obs); w != nil {
		w.round = b.round
		if w.update(obs.Price, obs.Size, obs.Value, obs.At, t.limits) {
			return w.ID, OutcomeUpdated
		}
		return w.ID, OutcomeMatched
	}

	if w := t.matchRecent(b, obs); w != nil {
		b.removeRecent(w)
		b.removePending(w)
		t.ensureCapacity(b, obs.At)
		w.State = StateActive
		w.DisappearanceCount++
		w.ActiveSince = obs.At
		w.LastSeen = obs.At
		w.round = b.round
		w.update(obs.Price, obs.Size, obs.Value, obs.At, t.limits)
		b.insert(w)
		t.stats.Reactivated++
		return w.ID, OutcomeReactivated
	}

	t.ensureCapacity(b, obs.At)
	w := &Whale{
		ID:                   newID(obs.Symbol, obs.Side, obs.Price, obs.At),
		Symbol:               obs.Symbol,
		Side:                 obs.Side,
		State:                StateActive,
		InitialPrice:         obs.Price,
		InitialSize:          obs.Size,
		InitialValue:         obs.Value,
		MidPriceOnAppearance: obs.MidPrice,
		PercentageOfBook:     obs.PercentageOfBook,
		BookLevel:            obs.Level,
		Mega:                 obs.Mega,
		CurrentPrice:         obs.Price,
		CurrentSize:          obs.Size,
		CurrentValue:         obs.Value,
		MaxSizeSeen:          obs.Size,
		MinSizeSeen:          obs.Size,
		FirstSeen:            obs.At,
		ActiveSince:          obs.At,
		LastSeen:             obs.At,
		round:                b.round,
	}
	b.insert(w)
	t.stats.Created++
	return w.ID, OutcomeCreated
}

func newID(symbol string, side models.Side, price float64, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%d_%d", symbol, side, strconv.FormatFloat(price, 'f', -1, 64), at.UnixMilli(), idSeq.Add(1))
}

func within(a, b, tolerance float64) bool {
	return math.Abs(a-b)/b <= tolerance
}

func (t *Tracker) matchActive(b *book, obs Observation) *Whale {
	for _, id := range b.index[obs.Side] {
		w := b.active[id]
		if w == nil || w.round == b.round {
			continue
		}
		if w.CurrentPrice <= 0 || w.CurrentSize <= 0 {
			continue
		}
		if within(obs.Price, w.CurrentPrice, t.cfg.PriceTolerance) && within(obs.Size, w.CurrentSize, t.cfg.SizeTolerance) {
			return w
		}
	}
	return nil
}

func (t *Tracker) matchRecent(b *book, obs Observation) *Whale {
	priceTol := t.cfg.PriceTolerance * t.cfg.ReactivationMultiplier
	sizeTol := t.cfg.SizeTolerance * t.cfg.ReactivationMultiplier
	for _, w := range b.recent {
		if w.Side != obs.Side || obs.At.Sub(w.LastSeen) >= t.cfg.MemoryWindow {
			continue
		}
		if w.CurrentPrice <= 0 || w.CurrentSize <= 0 {
			continue
		}
		if math.Abs(obs.Price-w.CurrentPrice)/w.CurrentPrice < priceTol &&
			math.Abs(obs.Size-w.CurrentSize)/w.CurrentSize < sizeTol {
			return w
		}
	}
	return nil
}

// ensureCapacity forces the least recently seen active whale out when the
// active set is full. It is reported by the next ProcessSnapshot. Whales
// already claimed in the current round are still on the book and are never
// forced out; when every active whale is claimed the set grows past the
// bound until the round closes.
func (t *Tracker) ensureCapacity(b *book, at time.Time) {
	if t.cfg.MaxActive <= 0 || len(b.active) < t.cfg.MaxActive {
		return
	}
	var oldest *Whale
	for _, side := range []models.Side{models.SideBid, models.SideAsk} {
		for _, id := range b.index[side] {
			w := b.active[id]
			if w == nil || w.round == b.round {
				continue
			}
			if oldest == nil || w.LastSeen.Before(oldest.LastSeen) {
				oldest = w
			}
		}
	}
	if oldest == nil {
		t.log.WithFields(logger.Fields{
			"active":     len(b.active),
			"max_active": t.cfg.MaxActive,
		}).Warn("active capacity reached by whales of the current snapshot")
		return
	}
	t.disappear(b, oldest)
	b.pending = append(b.pending, oldest)
	t.stats.ForcedOut++
	t.log.WithFields(logger.Fields{
		"symbol":     oldest.Symbol,
		"whale_id":   oldest.ID,
		"max_active": t.cfg.MaxActive,
		"at":         at,
	}).Warn("active capacity reached, forcing out least recently seen whale")
}

// disappear closes the active interval of w and moves it to the recent buffer.
func (t *Tracker) disappear(b *book, w *Whale) {
	if open := w.LastSeen.Sub(w.ActiveSince); open > 0 {
		w.AccumulatedDuration += open
	}
	w.State = StateRecent
	b.remove(w)
	b.recent = append(b.recent, w)
	t.stats.Disappeared++
	if t.cfg.MaxRecent > 0 && len(b.recent) > t.cfg.MaxRecent {
		evicted := b.recent[0]
		b.recent = b.recent[1:]
		b.removePending(evicted)
		t.purge(evicted)
		t.stats.EvictedRecent++
	}
}

func (t *Tracker) purge(w *Whale) {
	w.State = StatePurged
	if t.history != nil {
		t.history.Push(w.clone())
	}
}

// ProcessSnapshot disappears every active whale of symbol missing from
// currentIDs, expires old recent entries and closes the snapshot round.
// The returned copies are ready for scoring.
func (t *Tracker) ProcessSnapshot(symbol string, currentIDs []string, at time.Time) []Whale {
	symbol = strings.ToUpper(symbol)
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.book(symbol)

	seen := make(map[string]struct{}, len(currentIDs))
	for _, id := range currentIDs {
		seen[id] = struct{}{}
	}

	var gone []Whale
	for _, w := range b.pending {
		gone = append(gone, w.clone())
	}
	b.pending = b.pending[:0]

	for _, side := range []models.Side{models.SideBid, models.SideAsk} {
		ids := append([]string(nil), b.index[side]...)
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			w := b.active[id]
			t.disappear(b, w)
			gone = append(gone, w.clone())
		}
	}

	kept := b.recent[:0]
	for _, w := range b.recent {
		if at.Sub(w.LastSeen) >= t.cfg.MemoryWindow {
			t.purge(w)
			t.stats.Expired++
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(b.recent); i++ {
		b.recent[i] = nil
	}
	b.recent = kept

	b.round++
	return gone
}

func (b *book) insert(w *Whale) {
	b.active[w.ID] = w
	b.index[w.Side] = append(b.index[w.Side], w.ID)
}

func (b *book) remove(w *Whale) {
	delete(b.active, w.ID)
	ids := b.index[w.Side]
	for i, id := range ids {
		if id == w.ID {
			b.index[w.Side] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

func (b *book) removeRecent(w *Whale) {
	for i, r := range b.recent {
		if r == w {
			b.recent = append(b.recent[:i:i], b.recent[i+1:]...)
			return
		}
	}
}

func (b *book) removePending(w *Whale) {
	for i, p := range b.pending {
		if p == w {
			b.pending = append(b.pending[:i:i], b.pending[i+1:]...)
			return
		}
	}
}

// Active returns copies of the active whales of symbol, bids first.
func (t *Tracker) Active(symbol string) []Whale {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.books[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	out := make([]Whale, 0, len(b.active))
	for _, side := range []models.Side{models.SideBid, models.SideAsk} {
		for _, id := range b.index[side] {
			out = append(out, b.active[id].clone())
		}
	}
	return out
}

// Recent returns copies of the recently disappeared whales, oldest first.
func (t *Tracker) Recent(symbol string) []Whale {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.books[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	out := make([]Whale, 0, len(b.recent))
	for _, w := range b.recent {
		out = append(out, w.clone())
	}
	return out
}

// Lookup finds an active or recently disappeared whale by id.
func (t *Tracker) Lookup(symbol, id string) (Whale, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.books[strings.ToUpper(symbol)]
	if !ok {
		return Whale{}, false
	}
	if w, ok := b.active[id]; ok {
		return w.clone(), true
	}
	for _, w := range b.recent {
		if w.ID == id {
			return w.clone(), true
		}
	}
	return Whale{}, false
}

// History returns the purged whales, oldest first.
func (t *Tracker) History() []Whale {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.history == nil {
		return nil
	}
	return t.history.Items()
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.stats
	for _, b := range t.books {
		s.Active += len(b.active)
		s.Recent += len(b.recent)
	}
	if t.history != nil {
		s.History = t.history.Len()
	}
	return s
}

// Summaries returns the read model of every active whale of symbol.
func (t *Tracker) Summaries(symbol string) []Summary {
	active := t.Active(symbol)
	out := make([]Summary, 0, len(active))
	for _, w := range active {
		out = append(out, Summarize(w))
	}
	return out
}
