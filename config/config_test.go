package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes content to a temporary YAML file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whalewatch.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

const minimalConfig = `whalewatch:
  name: "TestApp"
  version: "1.0"
symbols: [btcusdt, ETHUSDT, btcusdt]
detection:
  thresholds:
    BTCUSDT: { whale: 1000000, mega_whale: 5000000 }
    SOLUSDT: { whale: 200000 }
tracker:
  memory_window: 120s
`

func TestLoadConfig(t *testing.T) {
	t.Setenv("SYMBOLS", "")
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Whalewatch.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Whalewatch.Name)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "BTCUSDT" || cfg.Symbols[1] != "ETHUSDT" {
		t.Errorf("symbols not normalised: %v", cfg.Symbols)
	}
	if cfg.Tracker.MemoryWindow != 120*time.Second {
		t.Errorf("memory window not applied: %v", cfg.Tracker.MemoryWindow)
	}
	if cfg.Tracker.PriceTolerance != 0.001 || cfg.Tracker.SizeTolerance != 0.20 {
		t.Errorf("defaults lost: %+v", cfg.Tracker)
	}
	if len(cfg.Scoring.Profiles) != 3 {
		t.Errorf("expected built-in profiles, got %d", len(cfg.Scoring.Profiles))
	}
}

func TestThresholdFor(t *testing.T) {
	t.Setenv("SYMBOLS", "")
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := cfg.Detection.ThresholdFor("btcusdt"); got.Whale != 1_000_000 || got.MegaWhale != 5_000_000 {
		t.Fatalf("unexpected BTC threshold: %+v", got)
	}
	if got := cfg.Detection.ThresholdFor("SOLUSDT"); got.Whale != 200_000 || got.MegaWhale != 2_000_000 {
		t.Fatalf("mega threshold should fall back to default: %+v", got)
	}
	if got := cfg.Detection.ThresholdFor("XYZUSDT"); got.Whale != 500_000 {
		t.Fatalf("unexpected default threshold: %+v", got)
	}
}

func TestThresholdForCanonicalFallback(t *testing.T) {
	d := Default().Detection
	d.Thresholds = map[string]WhaleThreshold{
		"PEPEUSDT":     {Whale: 50_000, MegaWhale: 250_000},
		"1000BONKUSDT": {Whale: 40_000},
	}

	if got := d.ThresholdFor("1000PEPEUSDT"); got.Whale != 50_000 {
		t.Fatalf("expected canonical PEPE threshold, got %+v", got)
	}
	got := d.ThresholdFor("1000bonkusdt")
	if got.Whale != 40_000 || got.MegaWhale != d.DefaultThreshold.MegaWhale {
		t.Fatalf("exact symbol should win: %+v", got)
	}
}

func TestParseRejectsImpossibleTolerances(t *testing.T) {
	t.Setenv("SYMBOLS", "")
	cases := map[string]string{
		"price tolerance": "tracker:\n  price_tolerance: 1.5\n",
		"size tolerance":  "tracker:\n  size_tolerance: 0\n",
		"multiplier":      "tracker:\n  reactivation_multiplier: 0.5\n",
		"reactivation":    "tracker:\n  size_tolerance: 0.6\n",
		"weights":         "scoring:\n  weights: { duration: 50, size: 50, distance: 20, behavior: 0, context: 0 }\n",
		"confidence":      "scoring:\n  confidence: { high: 40, medium: 60, low: 25 }\n",
		"assignment":      "scoring:\n  assignments: { BTCUSDT: turbo }\n",
		"feed":            "feed:\n  source: carrier-pigeon\n",
		"capacity":        "feed:\n  depth: 20\ntracker:\n  max_active: 30\n",
		"stats interval":  "feed:\n  stats_interval: -1s\n",
		"kafka batching":  "storage:\n  kafka:\n    enabled: true\n    brokers: [localhost:9092]\n    batch_timeout: 0s\n",
	}
	for name, body := range cases {
		content := "whalewatch:\n  name: x\nsymbols: [BTCUSDT]\n" + body
		if _, err := Parse([]byte(content)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestParseRequiresSymbols(t *testing.T) {
	t.Setenv("SYMBOLS", "")
	if _, err := Parse([]byte("whalewatch:\n  name: x\n")); err == nil {
		t.Fatal("expected error without symbols")
	}
}

func TestSymbolsEnvOverride(t *testing.T) {
	t.Setenv("SYMBOLS", "solusdt, dogeusdt")
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if strings.Join(cfg.Symbols, ",") != "SOLUSDT,DOGEUSDT" {
		t.Fatalf("unexpected symbols: %v", cfg.Symbols)
	}
}

func TestSelectSymbols(t *testing.T) {
	cfg := Default()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.SymbolGroups = map[string][]string{"memes": {"pepeusdt", "wifusdt"}}

	if err := cfg.SelectSymbols("memes", ""); err != nil {
		t.Fatalf("SelectSymbols: %v", err)
	}
	if strings.Join(cfg.Symbols, ",") != "PEPEUSDT,WIFUSDT" {
		t.Fatalf("unexpected group symbols: %v", cfg.Symbols)
	}

	if err := cfg.SelectSymbols("memes", "ethusdt"); err != nil {
		t.Fatalf("SelectSymbols: %v", err)
	}
	if strings.Join(cfg.Symbols, ",") != "ETHUSDT" {
		t.Fatalf("explicit symbols should win: %v", cfg.Symbols)
	}

	if err := cfg.SelectSymbols("unknown", ""); err == nil {
		t.Fatal("expected error for unknown group")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Fatalf("explicit path must be kept, got %s", got)
	}
	// config/whalewatch.production.yml does not exist in the package directory.
	if got := ResolvePath(""); got != DefaultPath {
		t.Fatalf("expected default path, got %s", got)
	}
	if AppEnvironment() != "production" {
		t.Fatalf("alias not resolved: %s", AppEnvironment())
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
