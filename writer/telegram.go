package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	appconfig "whalewatch/config"
	"whalewatch/internal/spoof"
	"whalewatch/logger"
	"whalewatch/models"
)

const telegramRule = "━━━━━━━━━━━━━━━━"

// TelegramSink turns spoof scores and mega whale sightings into chat alerts.
// A token bucket bounds the global message rate and a cooldown per
// (symbol, side, kind) suppresses repeats; suppressed alerts are counted as
// throttled.
type TelegramSink struct {
	apiURL        string
	token         string
	chatID        string
	client        *http.Client
	limiter       *rate.Limiter
	cooldown      time.Duration
	minConfidence spoof.Confidence
	megaWhales    bool
	log           *logger.Log
	now           func() time.Time

	mu        sync.Mutex
	lastAlert map[string]time.Time

	sent      atomic.Int64
	throttled atomic.Int64
}

func NewTelegramSink(cfg appconfig.TelegramConfig) (*TelegramSink, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram: token and chat id are required")
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	apiURL := strings.TrimSuffix(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	s := &TelegramSink{
		apiURL:        apiURL,
		token:         cfg.Token,
		chatID:        cfg.ChatID,
		client:        &http.Client{Timeout: 10 * time.Second},
		limiter:       rate.NewLimiter(rate.Limit(perMinute/60), burst),
		cooldown:      cfg.Cooldown,
		minConfidence: spoof.ParseConfidence(cfg.MinConfidence),
		megaWhales:    cfg.MegaWhales,
		log:           logger.GetLogger(),
		now:           time.Now,
		lastAlert:     make(map[string]time.Time),
	}
	s.log.WithComponent("telegram_writer").WithFields(logger.Fields{
		"min_confidence":  s.minConfidence,
		"rate_per_minute": perMinute,
		"cooldown":        cfg.Cooldown.String(),
	}).Info("telegram sink initialized")
	return s, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

// Write sends an alert for qualifying events. Events that do not qualify
// are ignored without error.
func (s *TelegramSink) Write(ctx context.Context, e models.DetectionEvent) error {
	var (
		kind string
		text string
	)
	switch {
	case e.IsSpoof():
		if !spoof.ParseConfidence(e.Score.Confidence).AtLeast(s.minConfidence) {
			return nil
		}
		kind, text = "spoof", formatSpoofAlert(e)
	case s.megaWhales && e.Mega && e.Type == models.EventWhaleCreated:
		kind, text = "mega", formatWhaleAlert(e)
	default:
		return nil
	}

	if !s.allow(fmt.Sprintf("%s:%s:%s", e.Symbol, e.Side, kind)) {
		s.throttled.Add(1)
		s.log.WithComponent("telegram_writer").WithFields(logger.Fields{
			"symbol":   e.Symbol,
			"side":     e.Side,
			"kind":     kind,
			"whale_id": e.WhaleID,
		}).Debug("alert throttled")
		return nil
	}
	return s.Send(ctx, text)
}

// allow applies the cooldown and then the global rate limit. The cooldown
// slot is only taken when the limiter admits the message.
func (s *TelegramSink) allow(key string) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastAlert[key]; ok && s.cooldown > 0 && now.Sub(last) < s.cooldown {
		return false
	}
	if !s.limiter.AllowN(now, 1) {
		return false
	}
	s.lastAlert[key] = now
	return true
}

// Send posts a Markdown message to the configured chat.
func (s *TelegramSink) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    s.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	s.sent.Add(1)
	return nil
}

// SendStartup announces the monitored symbols with their thresholds.
func (s *TelegramSink) SendStartup(ctx context.Context, symbols []string, detection appconfig.DetectionConfig) error {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString("🚀 *Whalewatch started*\n")
	b.WriteString(telegramRule + "\nMonitoring pairs:\n")
	for _, symbol := range sorted {
		t := detection.ThresholdFor(symbol)
		fmt.Fprintf(&b, "  %s: 🐋%s / 🔥%s\n", symbol, compactUSD(t.Whale), compactUSD(t.MegaWhale))
	}
	b.WriteString(telegramRule + "\n")
	fmt.Fprintf(&b, "Spoof alerts: %s confidence and above\n", s.minConfidence)
	b.WriteString("Monitoring active...")
	return s.Send(ctx, b.String())
}

// Summary carries the process wide counters of a periodic summary message.
type Summary struct {
	Uptime    time.Duration
	Snapshots int64
	Whales    int64
	Spoofs    int64
}

// SendSummary posts the running totals together with the sink's own
// sent/throttled counters.
func (s *TelegramSink) SendSummary(ctx context.Context, sum Summary) error {
	text := fmt.Sprintf("📊 *Whalewatch summary*\n%s\n"+
		"Uptime: %.1f hours\n"+
		"Total snapshots: %d\n"+
		"Total whales: %d\n"+
		"Spoofs scored: %d\n"+
		"Alerts sent: %d\n"+
		"Alerts throttled: %d\n%s",
		telegramRule,
		sum.Uptime.Hours(),
		sum.Snapshots,
		sum.Whales,
		sum.Spoofs,
		s.sent.Load(),
		s.throttled.Load(),
		telegramRule,
	)
	return s.Send(ctx, text)
}

// Counts returns the number of alerts sent and throttled so far.
func (s *TelegramSink) Counts() (sent, throttled int64) {
	return s.sent.Load(), s.throttled.Load()
}

func (s *TelegramSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func formatWhaleAlert(e models.DetectionEvent) string {
	direction, color := sideLabel(e.Side)
	return fmt.Sprintf("🔥🐋 *MEGA WHALE DETECTED* 🔥🐋\n%s\n"+
		"*%s*\n"+
		"Type: %s *%s WALL*\n"+
		"Price: *$%.2f*\n"+
		"Size: *%s*\n"+
		"Book %%: *%.1f%%*\n"+
		"Level: *%d*\n%s",
		telegramRule, e.Symbol, color, direction, e.Price, compactUSD(e.Value),
		e.PercentageOfBook, e.Level, telegramRule)
}

func formatSpoofAlert(e models.DetectionEvent) string {
	direction, color := sideLabel(e.Side)
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ *POSSIBLE SPOOF* (%s) ⚠️\n%s\n", strings.ToUpper(e.Score.Confidence), telegramRule)
	fmt.Fprintf(&b, "*%s* %s %s\n", e.Symbol, color, direction)
	fmt.Fprintf(&b, "Price: *$%.2f*\n", e.Price)
	fmt.Fprintf(&b, "Size: *%s*\n", compactUSD(e.Value))
	fmt.Fprintf(&b, "Lived: *%.1fs*, disappearances: *%d*\n", e.DurationSeconds, e.Disappearances)
	fmt.Fprintf(&b, "Score: *%.0f/100* pattern: *%s*\n", e.Score.Total, e.Score.Pattern)
	for _, r := range e.Score.Reasons {
		fmt.Fprintf(&b, "• %s\n", r)
	}
	b.WriteString(telegramRule)
	return b.String()
}

func sideLabel(side models.Side) (string, string) {
	if side == models.SideAsk {
		return "SELL", "🔴"
	}
	return "BUY", "🟢"
}

func compactUSD(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("$%.1fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.0fK", v/1_000)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
