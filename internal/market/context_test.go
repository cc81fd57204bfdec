package market

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/models"
)

func testConfig() appconfig.MarketConfig {
	cfg := appconfig.Default().Market
	cfg.MinVolatilitySamples = 5
	return cfg
}

func snapshot(symbol string, mid float64, bids, asks []models.PriceLevel) *models.Snapshot {
	s := &models.Snapshot{Symbol: symbol, Bids: bids, Asks: asks, MidPrice: mid, LocalTime: time.Unix(100, 0)}
	for _, l := range bids {
		s.BidValue += l.Value()
	}
	for _, l := range asks {
		s.AskValue += l.Value()
	}
	return s
}

func TestBootstrapFromSnapshotWhenCold(t *testing.T) {
	cfg := testConfig()
	cfg.MinSamples = 10
	tr := NewTracker(cfg)

	s := snapshot("BTCUSDT", 100, []models.PriceLevel{{Price: 100, Size: 10}}, []models.PriceLevel{{Price: 101, Size: 20}})
	c := tr.Update(s)
	if c.Warm {
		t.Fatal("two samples must not warm the context")
	}
	want := (1000.0 + 2020.0) / 2
	if math.Abs(c.AvgOrderSize-want) > 1e-9 {
		t.Fatalf("avg order size = %v, want %v", c.AvgOrderSize, want)
	}
	if math.Abs(c.AvgTradeSize-want*0.1) > 1e-9 {
		t.Fatalf("avg trade size should default to 10%% of order size, got %v", c.AvgTradeSize)
	}
	if c.VolatilityPct != cfg.BaselineVolatility {
		t.Fatalf("expected baseline volatility, got %v", c.VolatilityPct)
	}
}

func TestEmptyBookUsesDefaultOrderSize(t *testing.T) {
	tr := NewTracker(testConfig())
	c := tr.Update(snapshot("ETHUSDT", 0, nil, nil))
	if c.AvgOrderSize != 10_000 {
		t.Fatalf("expected default order size, got %v", c.AvgOrderSize)
	}
}

func TestWarmAverageUsesRollingSample(t *testing.T) {
	cfg := testConfig()
	cfg.MinSamples = 3
	cfg.OrderSampleSize = 4
	tr := NewTracker(cfg)

	for i := 0; i < 3; i++ {
		tr.Update(snapshot("SOLUSDT", 10, []models.PriceLevel{{Price: 10, Size: 100}}, nil))
	}
	c := tr.Update(snapshot("SOLUSDT", 10, []models.PriceLevel{{Price: 10, Size: 500}}, nil))
	if !c.Warm || c.Samples != 4 {
		t.Fatalf("expected warm context with 4 samples, got %+v", c)
	}
	// samples: 1000, 1000, 1000, 5000
	if c.AvgOrderSize != 2000 {
		t.Fatalf("avg order size = %v", c.AvgOrderSize)
	}

	c = tr.Update(snapshot("SOLUSDT", 10, []models.PriceLevel{{Price: 10, Size: 500}}, nil))
	// oldest 1000 evicted: 1000, 1000, 5000, 5000
	if c.AvgOrderSize != 3000 || c.Samples != 4 {
		t.Fatalf("sample not bounded: %+v", c)
	}
}

func TestLiquidityScore(t *testing.T) {
	tr := NewTracker(testConfig())
	if got := tr.liquidity(2_000_000, 0); got != 1 {
		t.Fatalf("deep tight book = %v", got)
	}
	if got := tr.liquidity(500_000, 50); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("half depth, 50bps = %v", got)
	}
	if got := tr.liquidity(0, 500); got != 0 {
		t.Fatalf("empty wide book = %v", got)
	}
}

func TestVolatilityCoefficientOfVariation(t *testing.T) {
	tr := NewTracker(testConfig())
	mids := []float64{90, 110, 90, 110, 90, 110}
	got := tr.volatility(mids)
	if math.Abs(got-10) > 1e-9 {
		t.Fatalf("volatility = %v, want 10", got)
	}
	if got := tr.volatility(mids[:2]); got != 2.0 {
		t.Fatalf("too few samples should use the baseline, got %v", got)
	}
}

func TestContextLookupAndDefaults(t *testing.T) {
	tr := NewTracker(testConfig())
	if _, ok := tr.Context("BTCUSDT"); ok {
		t.Fatal("no context before the first snapshot")
	}
	d := tr.ContextOrDefault("btcusdt")
	if d.AvgOrderSize != 50_000 || d.LiquidityScore != 0.5 || d.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected default context %+v", d)
	}

	tr.SetVolume24h("BTCUSDT", 42)
	if _, ok := tr.Context("BTCUSDT"); ok {
		t.Fatal("volume alone must not publish a context")
	}
	tr.Update(snapshot("BTCUSDT", 100, []models.PriceLevel{{Price: 100, Size: 1}}, nil))
	c, ok := tr.Context("BTCUSDT")
	if !ok || c.Volume24h != 42 {
		t.Fatalf("unexpected context %+v", c)
	}
}

func TestRecordTradeFeedsAverages(t *testing.T) {
	tr := NewTracker(testConfig())
	now := time.Unix(100, 0)
	tr.RecordTrade("BTCUSDT", 300, now.Add(-2*time.Minute))
	tr.RecordTrade("BTCUSDT", 100, now.Add(-10*time.Second))
	tr.RecordTrade("BTCUSDT", 200, now.Add(-5*time.Second))
	tr.RecordTrade("BTCUSDT", -1, now)

	c := tr.Update(snapshot("BTCUSDT", 100, []models.PriceLevel{{Price: 100, Size: 1}}, nil))
	if c.AvgTradeSize != 200 {
		t.Fatalf("avg trade size = %v", c.AvgTradeSize)
	}
	if c.TradeFrequency != 2 {
		t.Fatalf("trade frequency = %v", c.TradeFrequency)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	tr := NewTracker(testConfig())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			symbol := fmt.Sprintf("SYM%dUSDT", i%3)
			for j := 0; j < 200; j++ {
				tr.Update(snapshot(symbol, 100, []models.PriceLevel{{Price: 100, Size: float64(j + 1)}}, nil))
				tr.ContextOrDefault(symbol)
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 3; i++ {
		if c, ok := tr.Context(fmt.Sprintf("SYM%dUSDT", i)); !ok || !c.Warm {
			t.Fatalf("symbol %d missing warm context", i)
		}
	}
}
