package processor

import (
	"math"
	"testing"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/models"
)

func newTestBuilder() *Builder {
	return NewBuilder(appconfig.Default().Detection)
}

func levels(pairs ...string) []models.RawLevel {
	out := make([]models.RawLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.RawLevel{Price: pairs[i], Quantity: pairs[i+1]})
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBuildComputesTopOfBook(t *testing.T) {
	raw := models.RawDepthUpdate{
		Symbol:     "btcusdt",
		EventTime:  1_700_000_000_000,
		UpdateID:   12,
		Bids:       levels("99", "2", "100", "1"),
		Asks:       levels("101", "3", "102", "4"),
		ReceivedAt: time.Unix(1_700_000_000, 0),
	}
	s, err := newTestBuilder().Build(raw, 10)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if s.Symbol != "BTCUSDT" {
		t.Fatalf("symbol not normalised: %s", s.Symbol)
	}
	if s.BestBid != 100 || s.BestAsk != 101 || s.BestBidSize != 1 || s.BestAskSize != 3 {
		t.Fatalf("unexpected top of book: %+v", s)
	}
	if !almostEqual(s.Spread, 1) || !almostEqual(s.MidPrice, 100.5) || !almostEqual(s.SpreadBps, 100) {
		t.Fatalf("unexpected spread metrics: spread=%v mid=%v bps=%v", s.Spread, s.MidPrice, s.SpreadBps)
	}
	if !almostEqual(s.VolumeImbalance, (3.0-7.0)/10.0) {
		t.Fatalf("unexpected volume imbalance %v", s.VolumeImbalance)
	}
	if s.UpdateIDGap != 2 {
		t.Fatalf("expected gap 2, got %d", s.UpdateIDGap)
	}
	if s.ServerTime.UnixMilli() != raw.EventTime {
		t.Fatalf("server time not set: %v", s.ServerTime)
	}
}

func TestBuildEmptyAskSide(t *testing.T) {
	raw := models.RawDepthUpdate{Symbol: "ETHUSDT", UpdateID: 1, Bids: levels("2000", "5")}
	s, err := newTestBuilder().Build(raw, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Spread != 0 || s.SpreadBps != 0 || s.MidPrice != 0 {
		t.Fatalf("empty side must zero spread metrics: %+v", s)
	}
	if s.DepthAtPct != 0 || s.DepthAtBps != 0 {
		t.Fatalf("depth requires a mid price: %+v", s)
	}
	if s.UpdateIDGap != 0 {
		t.Fatalf("no gap without a previous id, got %d", s.UpdateIDGap)
	}
	if s.LocalTime.IsZero() {
		t.Fatal("local time must default to now")
	}
}

func TestBuildRejectsMalformedLevel(t *testing.T) {
	raw := models.RawDepthUpdate{Symbol: "ETHUSDT", Bids: levels("abc", "1")}
	if _, err := newTestBuilder().Build(raw, 0); err == nil {
		t.Fatal("expected parse error")
	}
	raw = models.RawDepthUpdate{Symbol: "ETHUSDT", Asks: levels("-1", "1")}
	if _, err := newTestBuilder().Build(raw, 0); err == nil {
		t.Fatal("expected non-positive price error")
	}
}

func TestBuildSkipsZeroSizeAndSorts(t *testing.T) {
	raw := models.RawDepthUpdate{
		Symbol: "SOLUSDT",
		Bids:   levels("10", "0", "9", "1", "11", "2"),
		Asks:   levels("13", "1", "12", "1"),
	}
	s, err := newTestBuilder().Build(raw, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(s.Bids) != 2 || s.Bids[0].Price != 11 || s.Bids[1].Price != 9 {
		t.Fatalf("bids not filtered/sorted: %+v", s.Bids)
	}
	if s.Asks[0].Price != 12 {
		t.Fatalf("asks not sorted: %+v", s.Asks)
	}
}

func TestSlope(t *testing.T) {
	// size grows by 10 for each 1% of distance
	book := []models.PriceLevel{{Price: 100, Size: 10}, {Price: 99, Size: 20}, {Price: 98, Size: 30}}
	if got := slope(book, 10); !almostEqual(got, 10) {
		t.Fatalf("slope = %v, want 10", got)
	}
	if got := slope(book[:1], 10); got != 0 {
		t.Fatalf("single level slope must be 0, got %v", got)
	}
	flat := []models.PriceLevel{{Price: 100, Size: 1}, {Price: 100, Size: 2}}
	if got := slope(flat, 10); got != 0 {
		t.Fatalf("zero variance slope must be 0, got %v", got)
	}
}

func TestDepthAndWalls(t *testing.T) {
	cfg := appconfig.Default().Detection
	cfg.SupportResistanceUSD = 5_000
	raw := models.RawDepthUpdate{
		Symbol: "BTCUSDT",
		Bids:   levels("100", "1", "99.5", "100", "90", "5"),
		Asks:   levels("100.2", "2", "100.8", "1", "120", "1"),
	}
	s, err := NewBuilder(cfg).Build(raw, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// mid 100.1, 1% band [99.099, 101.101]
	if !almostEqual(s.DepthAtPct, 1+100+2+1) {
		t.Fatalf("depth at 1%% = %v", s.DepthAtPct)
	}
	// 10bps band [99.9999, 100.2001]
	if !almostEqual(s.DepthAtBps, 1+2) {
		t.Fatalf("depth at 10bps = %v", s.DepthAtBps)
	}
	if s.SupportLevel == nil || *s.SupportLevel != 99.5 {
		t.Fatalf("unexpected support %v", s.SupportLevel)
	}
	if s.ResistanceLevel != nil {
		t.Fatalf("no ask reaches the wall threshold, got %v", *s.ResistanceLevel)
	}
}

func TestDetectWhaleLevels(t *testing.T) {
	raw := models.RawDepthUpdate{
		Symbol: "BTCUSDT",
		Bids:   levels("100", "1", "99", "10000"),
		Asks:   levels("101", "30000", "102", "1"),
	}
	s, err := newTestBuilder().Build(raw, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	whales := DetectWhaleLevels(&s, appconfig.WhaleThreshold{Whale: 500_000, MegaWhale: 2_000_000})
	if len(whales) != 2 {
		t.Fatalf("expected 2 whales, got %+v", whales)
	}
	bid, ask := whales[0], whales[1]
	if bid.Side != models.SideBid || bid.Level != 1 || bid.Mega {
		t.Fatalf("unexpected bid whale %+v", bid)
	}
	if !almostEqual(bid.PercentageOfBook, 10000.0/10001.0*100) {
		t.Fatalf("unexpected pct of book %v", bid.PercentageOfBook)
	}
	if ask.Side != models.SideAsk || !ask.Mega {
		t.Fatalf("expected mega ask whale, got %+v", ask)
	}
	if WhaleImbalance(whales) != 0 {
		t.Fatalf("unexpected whale imbalance")
	}
}

func TestHistoryPressure(t *testing.T) {
	h := NewHistory(5)
	if got := h.Pressure(20); got != PressureNeutral {
		t.Fatalf("empty history = %s", got)
	}
	for i := 0; i < 8; i++ {
		h.Add(models.Snapshot{VolumeImbalance: 0.5, WhaleImbalance: 2})
	}
	if h.Len() != 5 {
		t.Fatalf("history not bounded: %d", h.Len())
	}
	if got := h.Pressure(20); got != PressureStrongBuy {
		t.Fatalf("pressure = %s", got)
	}
	for i := 0; i < 5; i++ {
		h.Add(models.Snapshot{VolumeImbalance: -0.2})
	}
	if got := h.Pressure(20); got != PressureSell {
		t.Fatalf("pressure = %s", got)
	}
}

func TestBuildWithWhalesSetsImbalance(t *testing.T) {
	raw := models.RawDepthUpdate{
		Symbol: "BTCUSDT",
		Bids:   levels("100", "6000", "99", "10000"),
		Asks:   levels("101", "30000", "102", "1"),
	}
	s, whales, err := newTestBuilder().BuildWithWhales(raw, 0, appconfig.WhaleThreshold{Whale: 500_000, MegaWhale: 2_000_000})
	if err != nil {
		t.Fatalf("BuildWithWhales: %v", err)
	}
	if len(whales) != 3 || s.WhaleImbalance != 1 {
		t.Fatalf("expected 3 whales with imbalance 1, got %d and %d", len(whales), s.WhaleImbalance)
	}

	raw.Bids = levels("bad", "1")
	if _, whales, err := newTestBuilder().BuildWithWhales(raw, 0, appconfig.WhaleThreshold{Whale: 1}); err == nil || whales != nil {
		t.Fatalf("expected parse error without whales, got %v %v", whales, err)
	}
}
