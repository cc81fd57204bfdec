package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"whalewatch/internal/symbols"
)

type Config struct {
	Whalewatch   WhalewatchConfig    `yaml:"whalewatch"`
	Symbols      []string            `yaml:"symbols"`
	SymbolGroups map[string][]string `yaml:"symbol_groups"`
	Feed         FeedConfig          `yaml:"feed"`
	Reader       ReaderConfig        `yaml:"reader"`
	Detection    DetectionConfig     `yaml:"detection"`
	Tracker      TrackerConfig       `yaml:"tracker"`
	Market       MarketConfig        `yaml:"market"`
	Scoring      ScoringConfig       `yaml:"scoring"`
	Channels     ChannelsConfig      `yaml:"channels"`
	Writer       WriterConfig        `yaml:"writer"`
	Storage      StorageConfig       `yaml:"storage"`
	Alerts       AlertsConfig        `yaml:"alerts"`
	Dashboard    DashboardConfig     `yaml:"dashboard"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	Logging      LoggingConfig       `yaml:"logging"`
}

type WhalewatchConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FeedConfig selects the depth source. Source is "binance" (go-binance SDK)
// or "websocket" (raw stream over gorilla/websocket).
// FeedConfig selects the depth source. Trades and StatsInterval apply to
// sources that also stream executed trades and serve 24h statistics.
type FeedConfig struct {
	Source        string        `yaml:"source"`
	URL           string        `yaml:"url"`
	Depth         int           `yaml:"depth"`
	UpdateSpeed   time.Duration `yaml:"update_speed"`
	Trades        bool          `yaml:"trades"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

type ReaderConfig struct {
	Retry        RetryConfig   `yaml:"retry"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type WhaleThreshold struct {
	Whale     float64 `yaml:"whale"`
	MegaWhale float64 `yaml:"mega_whale"`
}

type DetectionConfig struct {
	DefaultThreshold      WhaleThreshold            `yaml:"default_threshold"`
	Thresholds            map[string]WhaleThreshold `yaml:"thresholds"`
	SupportResistanceUSD  float64                   `yaml:"support_resistance_usd"`
	DepthPct              float64                   `yaml:"depth_pct"`
	DepthBps              float64                   `yaml:"depth_bps"`
	SlopeLevels           int                       `yaml:"slope_levels"`
	SnapshotHistory       int                       `yaml:"snapshot_history"`
	PressureWindow        int                       `yaml:"pressure_window"`
	WideSpreadBps         float64                   `yaml:"wide_spread_bps"`
	ExtremeImbalance      float64                   `yaml:"extreme_imbalance"`
	ImbalanceWarmupFrames int                       `yaml:"imbalance_warmup_frames"`
}

type TrackerConfig struct {
	PriceTolerance         float64       `yaml:"price_tolerance"`
	SizeTolerance          float64       `yaml:"size_tolerance"`
	ReactivationMultiplier float64       `yaml:"reactivation_multiplier"`
	MemoryWindow           time.Duration `yaml:"memory_window"`
	SizeChangeThreshold    float64       `yaml:"size_change_threshold"`
	PriceChangeThreshold   float64       `yaml:"price_change_threshold"`
	MaxActive              int           `yaml:"max_active"`
	MaxRecent              int           `yaml:"max_recent"`
	MaxHistory             int           `yaml:"max_history"`
	MaxChanges             int           `yaml:"max_changes"`
}

type MarketConfig struct {
	OrderSampleSize      int     `yaml:"order_sample_size"`
	TradeSampleSize      int     `yaml:"trade_sample_size"`
	MidPriceWindow       int     `yaml:"mid_price_window"`
	MinSamples           int     `yaml:"min_samples"`
	MinVolatilitySamples int     `yaml:"min_volatility_samples"`
	BaselineVolatility   float64 `yaml:"baseline_volatility_pct"`
	DepthCapUSD          float64 `yaml:"depth_cap_usd"`
	BootstrapLevels      int     `yaml:"bootstrap_levels"`
	DefaultOrderSize     float64 `yaml:"default_order_size"`
}

// CalibrationProfile holds the per volatility class knobs of the spoof scorer.
type CalibrationProfile struct {
	MinDuration           float64 `yaml:"min_duration"`
	MaxDuration           float64 `yaml:"max_duration"`
	ClassicMin            float64 `yaml:"classic_min"`
	ClassicMax            float64 `yaml:"classic_max"`
	HFTFloor              float64 `yaml:"hft_floor"`
	SizeMultiplier        float64 `yaml:"size_multiplier"`
	DistanceMin           float64 `yaml:"distance_min"`
	DistanceMax           float64 `yaml:"distance_max"`
	DistanceThreshold     float64 `yaml:"distance_threshold"`
	FlickeringThreshold   int     `yaml:"flickering_threshold"`
	SizeVarianceThreshold float64 `yaml:"size_variance_threshold"`
	NeverExecutedDuration float64 `yaml:"never_executed_duration"`
}

// ScoreWeights are the maximum points of each sub-score.
type ScoreWeights struct {
	Duration float64 `yaml:"duration"`
	Size     float64 `yaml:"size"`
	Distance float64 `yaml:"distance"`
	Behavior float64 `yaml:"behavior"`
	Context  float64 `yaml:"context"`
}

func (w ScoreWeights) Total() float64 {
	return w.Duration + w.Size + w.Distance + w.Behavior + w.Context
}

type ConfidenceCutoffs struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

type AutoProfileConfig struct {
	HighVolatilityPct float64 `yaml:"high_volatility_pct"`
	LowVolatilityPct  float64 `yaml:"low_volatility_pct"`
}

type ScoringConfig struct {
	Weights     ScoreWeights                  `yaml:"weights"`
	Confidence  ConfidenceCutoffs             `yaml:"confidence"`
	MaxReasons  int                           `yaml:"max_reasons"`
	AutoProfile AutoProfileConfig             `yaml:"auto_profile"`
	Assignments map[string]string             `yaml:"assignments"`
	Profiles    map[string]CalibrationProfile `yaml:"profiles"`
}

type ChannelsConfig struct {
	EventBuffer  int           `yaml:"event_buffer"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type WriterConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Log     LogSinkConfig `yaml:"log"`
}

type LogSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

type StorageConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
	Redis RedisConfig `yaml:"redis"`
	S3    S3Config    `yaml:"s3"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	Async        bool          `yaml:"async"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	TTL          time.Duration `yaml:"ttl"`
	MaxPerSymbol int64         `yaml:"max_per_symbol"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	MaxBuffer       int           `yaml:"max_buffer"`
}

type AlertsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Token           string        `yaml:"token"`
	ChatID          string        `yaml:"chat_id"`
	APIURL          string        `yaml:"api_url"`
	MinConfidence   string        `yaml:"min_confidence"`
	RatePerMinute   float64       `yaml:"rate_per_minute"`
	Burst           int           `yaml:"burst"`
	Cooldown        time.Duration `yaml:"cooldown"`
	// SummaryInterval paces the periodic summary message; 0 disables it.
	SummaryInterval time.Duration `yaml:"summary_interval"`
	MegaWhales      bool          `yaml:"mega_whales"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

type MetricsConfig struct {
	StatsInterval time.Duration    `yaml:"stats_interval"`
	CloudWatch    CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Profile names referenced by scoring.assignments.
const (
	ProfileDefault        = "default"
	ProfileHighVolatility = "high-volatility"
	ProfileLowVolatility  = "low-volatility"
)

const (
	FeedBinance   = "binance"
	FeedWebsocket = "websocket"
)

// Default returns the configuration used before the YAML file is applied.
func Default() Config {
	return Config{
		Whalewatch: WhalewatchConfig{Name: "whalewatch", Version: "dev"},
		Feed: FeedConfig{
			Source:        FeedBinance,
			URL:           "wss://fstream.binance.com",
			Depth:         20,
			UpdateSpeed:   100 * time.Millisecond,
			Trades:        true,
			StatsInterval: 5 * time.Minute,
		},
		Reader: ReaderConfig{
			Retry:        RetryConfig{MaxAttempts: 10, BaseDelay: 5 * time.Second},
			PingInterval: 20 * time.Second,
			ReadTimeout:  time.Minute,
		},
		Detection: DetectionConfig{
			DefaultThreshold:      WhaleThreshold{Whale: 500_000, MegaWhale: 2_000_000},
			Thresholds:            map[string]WhaleThreshold{},
			SupportResistanceUSD:  1_000_000,
			DepthPct:              1.0,
			DepthBps:              10,
			SlopeLevels:           10,
			SnapshotHistory:       100,
			PressureWindow:        20,
			WideSpreadBps:         10,
			ExtremeImbalance:      0.85,
			ImbalanceWarmupFrames: 50,
		},
		Tracker: TrackerConfig{
			PriceTolerance:         0.001,
			SizeTolerance:          0.20,
			ReactivationMultiplier: 2,
			MemoryWindow:           300 * time.Second,
			SizeChangeThreshold:    0.05,
			PriceChangeThreshold:   0.001,
			MaxActive:              200,
			MaxRecent:              500,
			MaxHistory:             1000,
			MaxChanges:             256,
		},
		Market: MarketConfig{
			OrderSampleSize:      1000,
			TradeSampleSize:      500,
			MidPriceWindow:       100,
			MinSamples:           10,
			MinVolatilitySamples: 20,
			BaselineVolatility:   2.0,
			DepthCapUSD:          1_000_000,
			BootstrapLevels:      20,
			DefaultOrderSize:     10_000,
		},
		Scoring: ScoringConfig{
			Weights:     ScoreWeights{Duration: 25, Size: 25, Distance: 20, Behavior: 20, Context: 10},
			Confidence:  ConfidenceCutoffs{High: 60, Medium: 40, Low: 25},
			MaxReasons:  8,
			AutoProfile: AutoProfileConfig{HighVolatilityPct: 5, LowVolatilityPct: 1},
			Assignments: map[string]string{},
			Profiles:    DefaultProfiles(),
		},
		Channels: ChannelsConfig{EventBuffer: 1024, DrainTimeout: 10 * time.Second},
		Writer:   WriterConfig{Timeout: 5 * time.Second, Log: LogSinkConfig{Enabled: true}},
		Storage: StorageConfig{
			Kafka: KafkaConfig{
				Topic:        "whalewatch.events",
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				Async:        true,
			},
			Redis: RedisConfig{Addr: "127.0.0.1:6379", Prefix: "whalewatch", TTL: 7 * 24 * time.Hour, MaxPerSymbol: 10_000},
			S3:    S3Config{Prefix: "whalewatch", FlushInterval: time.Minute, MaxBuffer: 500},
		},
		Alerts: AlertsConfig{Telegram: TelegramConfig{
			APIURL:          "https://api.telegram.org",
			MinConfidence:   "medium",
			RatePerMinute:   20,
			Burst:           5,
			Cooldown:        10 * time.Minute,
			SummaryInterval: time.Hour,
			MegaWhales:      true,
		}},
		Dashboard: DashboardConfig{Address: "0.0.0.0:8080", RefreshInterval: 5 * time.Second, LogHistory: 200, MetricsHistory: 200},
		Metrics:   MetricsConfig{StatsInterval: time.Minute, CloudWatch: CloudWatchConfig{Namespace: "Whalewatch", Dashboard: "Whalewatch"}},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// DefaultProfiles returns the three built-in calibration profiles.
func DefaultProfiles() map[string]CalibrationProfile {
	base := CalibrationProfile{
		ClassicMin:            15,
		ClassicMax:            45,
		HFTFloor:              5,
		DistanceMin:           0.005,
		DistanceMax:           0.03,
		NeverExecutedDuration: 20,
	}

	def := base
	def.MinDuration, def.MaxDuration = 10, 90
	def.SizeMultiplier = 50
	def.DistanceThreshold = 0.01
	def.FlickeringThreshold = 4
	def.SizeVarianceThreshold = 0.35

	high := base
	high.MinDuration, high.MaxDuration = 5, 90
	high.SizeMultiplier = 10
	high.DistanceThreshold = 0.015
	high.FlickeringThreshold = 3
	high.SizeVarianceThreshold = 0.35

	low := base
	low.MinDuration, low.MaxDuration = 15, 120
	low.SizeMultiplier = 100
	low.DistanceThreshold = 0.005
	low.FlickeringThreshold = 3
	low.SizeVarianceThreshold = 0.30

	return map[string]CalibrationProfile{
		ProfileDefault:        def,
		ProfileHighVolatility: high,
		ProfileLowVolatility:  low,
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Profiles named in the file replace the built-in entry of the same name.
	// Missing built-ins are restored so assignments can always resolve.
	for name, profile := range DefaultProfiles() {
		if _, ok := config.Scoring.Profiles[name]; !ok {
			config.Scoring.Profiles[name] = profile
		}
	}

	applyEnvOverrides(&config)
	config.Symbols = normalizeSymbols(config.Symbols)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := strings.TrimSpace(os.Getenv("SYMBOLS")); v != "" {
		config.Symbols = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		config.Storage.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		config.Storage.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Storage.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		config.Alerts.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		config.Alerts.Telegram.ChatID = v
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// SelectSymbols narrows the configured symbols to a named group and/or an
// explicit comma separated list. The result is validated against nothing
// else; unknown groups are an error.
func (c *Config) SelectSymbols(group, explicit string) error {
	switch {
	case strings.TrimSpace(explicit) != "":
		c.Symbols = normalizeSymbols(strings.Split(explicit, ","))
	case strings.TrimSpace(group) != "":
		symbols, ok := c.SymbolGroups[group]
		if !ok {
			names := make([]string, 0, len(c.SymbolGroups))
			for name := range c.SymbolGroups {
				names = append(names, name)
			}
			sort.Strings(names)
			return fmt.Errorf("unknown symbol group %q (available: %s)", group, strings.Join(names, ", "))
		}
		c.Symbols = normalizeSymbols(symbols)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("no symbols selected")
	}
	return nil
}

// ThresholdFor returns the whale thresholds of a symbol. The exact symbol
// wins over its canonical form (1000PEPEUSDT falls back to PEPEUSDT); the
// default threshold applies when neither is configured.
func (d DetectionConfig) ThresholdFor(symbol string) WhaleThreshold {
	for _, key := range []string{strings.ToUpper(symbol), symbols.Canonical(symbol)} {
		if t, ok := d.Thresholds[key]; ok && t.Whale > 0 {
			if t.MegaWhale <= 0 {
				t.MegaWhale = d.DefaultThreshold.MegaWhale
			}
			return t
		}
	}
	return d.DefaultThreshold
}

func validateConfig(cfg *Config) error {
	if cfg.Whalewatch.Name == "" {
		return fmt.Errorf("whalewatch.name is required")
	}
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("symbols must list at least one instrument")
	}

	switch cfg.Feed.Source {
	case FeedBinance, FeedWebsocket:
	default:
		return fmt.Errorf("feed.source must be %q or %q", FeedBinance, FeedWebsocket)
	}
	if cfg.Feed.Depth <= 0 {
		return fmt.Errorf("feed.depth must be greater than 0")
	}
	if cfg.Feed.StatsInterval < 0 {
		return fmt.Errorf("feed.stats_interval must not be negative")
	}
	if cfg.Feed.Source == FeedWebsocket && cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required for the websocket source")
	}
	if cfg.Reader.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("reader.retry.max_attempts must be greater than 0")
	}
	if cfg.Reader.Retry.BaseDelay < 0 {
		return fmt.Errorf("reader.retry.base_delay must not be negative")
	}

	if err := validateDetection(cfg.Detection); err != nil {
		return err
	}
	// Every level of both sides of one snapshot can be a whale.
	if cfg.Tracker.MaxActive > 0 && cfg.Tracker.MaxActive < 2*cfg.Feed.Depth {
		return fmt.Errorf("tracker.max_active (%d) must hold both sides of feed.depth (%d levels each)", cfg.Tracker.MaxActive, cfg.Feed.Depth)
	}
	if err := validateTracker(cfg.Tracker); err != nil {
		return err
	}
	if err := validateMarket(cfg.Market); err != nil {
		return err
	}
	if err := validateScoring(cfg.Scoring); err != nil {
		return err
	}

	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.BatchSize <= 0 || cfg.Storage.Kafka.BatchTimeout <= 0 {
			return fmt.Errorf("storage.kafka.batch_size and batch_timeout must be greater than 0")
		}
	}
	if cfg.Storage.Redis.Enabled && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required when redis is enabled")
	}
	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Storage.S3.FlushInterval <= 0 {
			return fmt.Errorf("storage.s3.flush_interval must be greater than 0")
		}
	}
	if t := cfg.Alerts.Telegram; t.Enabled {
		if t.Token == "" || t.ChatID == "" {
			return fmt.Errorf("alerts.telegram.token and alerts.telegram.chat_id are required when telegram is enabled")
		}
		if t.RatePerMinute <= 0 {
			return fmt.Errorf("alerts.telegram.rate_per_minute must be greater than 0")
		}
	}

	return nil
}

func validateDetection(d DetectionConfig) error {
	if d.DefaultThreshold.Whale <= 0 {
		return fmt.Errorf("detection.default_threshold.whale must be greater than 0")
	}
	if d.DefaultThreshold.MegaWhale < d.DefaultThreshold.Whale {
		return fmt.Errorf("detection.default_threshold.mega_whale must not be below the whale threshold")
	}
	for symbol, t := range d.Thresholds {
		if t.Whale <= 0 {
			return fmt.Errorf("detection.thresholds.%s.whale must be greater than 0", symbol)
		}
		if t.MegaWhale > 0 && t.MegaWhale < t.Whale {
			return fmt.Errorf("detection.thresholds.%s.mega_whale must not be below the whale threshold", symbol)
		}
	}
	if d.SupportResistanceUSD <= 0 {
		return fmt.Errorf("detection.support_resistance_usd must be greater than 0")
	}
	if d.DepthPct <= 0 || d.DepthBps <= 0 {
		return fmt.Errorf("detection.depth_pct and detection.depth_bps must be greater than 0")
	}
	if d.SlopeLevels < 2 {
		return fmt.Errorf("detection.slope_levels must be at least 2")
	}
	if d.SnapshotHistory <= 0 {
		return fmt.Errorf("detection.snapshot_history must be greater than 0")
	}
	return nil
}

func validateTracker(t TrackerConfig) error {
	if t.PriceTolerance <= 0 || t.PriceTolerance >= 1 {
		return fmt.Errorf("tracker.price_tolerance must be within (0, 1), got %v", t.PriceTolerance)
	}
	if t.SizeTolerance <= 0 || t.SizeTolerance >= 1 {
		return fmt.Errorf("tracker.size_tolerance must be within (0, 1), got %v", t.SizeTolerance)
	}
	if t.ReactivationMultiplier < 1 {
		return fmt.Errorf("tracker.reactivation_multiplier must be at least 1")
	}
	if t.PriceTolerance*t.ReactivationMultiplier >= 1 || t.SizeTolerance*t.ReactivationMultiplier >= 1 {
		return fmt.Errorf("tracker reactivation tolerances must stay below 1")
	}
	if t.MemoryWindow <= 0 {
		return fmt.Errorf("tracker.memory_window must be greater than 0")
	}
	if t.SizeChangeThreshold < 0 || t.PriceChangeThreshold < 0 {
		return fmt.Errorf("tracker change thresholds must not be negative")
	}
	if t.MaxActive <= 0 || t.MaxRecent <= 0 {
		return fmt.Errorf("tracker.max_active and tracker.max_recent must be greater than 0")
	}
	if t.MaxHistory < 0 || t.MaxChanges < 0 {
		return fmt.Errorf("tracker.max_history and tracker.max_changes must not be negative")
	}
	return nil
}

func validateMarket(m MarketConfig) error {
	if m.OrderSampleSize <= 0 || m.TradeSampleSize <= 0 || m.MidPriceWindow < 2 {
		return fmt.Errorf("market sample sizes must be positive and mid_price_window at least 2")
	}
	if m.MinSamples <= 0 {
		return fmt.Errorf("market.min_samples must be greater than 0")
	}
	if m.DepthCapUSD <= 0 {
		return fmt.Errorf("market.depth_cap_usd must be greater than 0")
	}
	if m.BootstrapLevels <= 0 {
		return fmt.Errorf("market.bootstrap_levels must be greater than 0")
	}
	return nil
}

func validateScoring(s ScoringConfig) error {
	w := s.Weights
	if w.Duration < 0 || w.Size < 0 || w.Distance < 0 || w.Behavior < 0 || w.Context < 0 {
		return fmt.Errorf("scoring.weights must not be negative")
	}
	if total := w.Total(); total <= 0 || total > 100 {
		return fmt.Errorf("scoring.weights must sum to a value in (0, 100], got %v", total)
	}
	c := s.Confidence
	if !(c.High > c.Medium && c.Medium > c.Low && c.Low > 0) {
		return fmt.Errorf("scoring.confidence cut-offs must satisfy high > medium > low > 0")
	}
	if s.MaxReasons <= 0 {
		return fmt.Errorf("scoring.max_reasons must be greater than 0")
	}
	for name, p := range s.Profiles {
		if err := validateProfile(p); err != nil {
			return fmt.Errorf("scoring.profiles.%s: %w", name, err)
		}
	}
	for symbol, name := range s.Assignments {
		if _, ok := s.Profiles[name]; !ok {
			return fmt.Errorf("scoring.assignments.%s references unknown profile %q", symbol, name)
		}
	}
	return nil
}

func validateProfile(p CalibrationProfile) error {
	if p.MinDuration < 0 || p.MaxDuration <= p.MinDuration {
		return fmt.Errorf("max_duration must be greater than min_duration")
	}
	if p.ClassicMax < p.ClassicMin {
		return fmt.Errorf("classic_max must not be below classic_min")
	}
	if p.SizeMultiplier <= 0 {
		return fmt.Errorf("size_multiplier must be greater than 0")
	}
	if p.DistanceMin < 0 || p.DistanceMax <= p.DistanceMin {
		return fmt.Errorf("distance_max must be greater than distance_min")
	}
	if p.FlickeringThreshold < 2 {
		return fmt.Errorf("flickering_threshold must be at least 2")
	}
	if p.SizeVarianceThreshold <= 0 {
		return fmt.Errorf("size_variance_threshold must be greater than 0")
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
