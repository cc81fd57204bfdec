package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	kafka "github.com/segmentio/kafka-go"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
)

var testTime = time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

func spoofEvent(confidence string) models.DetectionEvent {
	return models.DetectionEvent{
		EventID:         "evt-1",
		Type:            models.EventSpoofScored,
		Symbol:          "BTCUSDT",
		WhaleID:         "BTCUSDT_bid_42000_1_1",
		Side:            models.SideBid,
		Price:           42000,
		Size:            150,
		Value:           6_300_000,
		InitialValue:    6_000_000,
		DurationSeconds: 30,
		Disappearances:  2,
		Score: &models.ScoreBreakdown{
			Total:      55,
			Confidence: confidence,
			Pattern:    "size_manipulation",
			Profile:    "default",
			Reasons:    []string{"classic spoof window"},
		},
		Timestamp: testTime,
	}
}

type fakeKafka struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkKeysBySymbol(t *testing.T) {
	fake := &fakeKafka{}
	sink := &KafkaSink{writer: fake, topic: "events", log: logger.GetLogger()}

	if err := sink.Write(context.Background(), spoofEvent("high")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(fake.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.msgs))
	}
	msg := fake.msgs[0]
	if string(msg.Key) != "BTCUSDT" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(models.EventSpoofScored) {
		t.Fatalf("unexpected headers %v", msg.Headers)
	}
	var decoded models.DetectionEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Score == nil || decoded.Score.Confidence != "high" {
		t.Fatalf("score lost in payload: %+v", decoded)
	}
	if err := sink.Close(); err != nil || !fake.closed {
		t.Fatalf("close: %v closed=%v", err, fake.closed)
	}
}

func TestKafkaWriterBatchesAsync(t *testing.T) {
	cfg := appconfig.Default().Storage.Kafka
	cfg.Brokers = []string{"127.0.0.1:9092"}
	sink, err := NewKafkaSink(cfg)
	if err != nil {
		t.Fatalf("new kafka sink: %v", err)
	}
	defer sink.Close()
	w, ok := sink.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("unexpected writer type %T", sink.writer)
	}
	if !w.Async || w.Completion == nil {
		t.Fatal("expected async writer with completion callback")
	}
	if w.BatchTimeout != 10*time.Millisecond || w.BatchSize != 100 {
		t.Fatalf("unexpected batching: size=%d timeout=%s", w.BatchSize, w.BatchTimeout)
	}

	w.Completion([]kafka.Message{{}, {}}, nil)
	w.Completion([]kafka.Message{{}}, errors.New("broker down"))
	if delivered, failed := sink.Counts(); delivered != 2 || failed != 1 {
		t.Fatalf("unexpected counts delivered=%d failed=%d", delivered, failed)
	}
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaSink(appconfig.KafkaConfig{Topic: "events"}); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestRedisKeyAndFields(t *testing.T) {
	s := &RedisSink{prefix: "ww"}
	if got := s.key("spoofs", "severity", "ETHUSDT"); got != "ww:spoofs:severity:ETHUSDT" {
		t.Fatalf("unexpected key %q", got)
	}
	fields := spoofFields(spoofEvent("medium"))
	if fields["pattern"] != "size_manipulation" || fields["confidence"] != "medium" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["timestamp"] != testTime.UnixMilli() {
		t.Fatalf("unexpected timestamp %v", fields["timestamp"])
	}
	if got := hourBucket(testTime); got != "2024010215" {
		t.Fatalf("unexpected hour bucket %q", got)
	}
}

func TestNewRedisSinkFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := NewRedisSink(ctx, appconfig.RedisConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected ping error")
	}
}

type fakePutter struct {
	mu   sync.Mutex
	keys []string
	body [][]byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.keys = append(f.keys, *in.Key)
	f.body = append(f.body, data)
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveSinkFlushesParquetBySize(t *testing.T) {
	putter := &fakePutter{}
	sink := newArchiveSink(putter, "bucket", appconfig.S3Config{Prefix: "/archive/", MaxBuffer: 2, FlushInterval: time.Minute})

	created := spoofEvent("high")
	created.Type = models.EventWhaleCreated
	created.Score = nil
	disappeared := spoofEvent("high")
	disappeared.Type = models.EventWhaleDisappeared
	disappeared.Score = nil

	ctx := context.Background()
	for _, e := range []models.DetectionEvent{created, disappeared, spoofEvent("high")} {
		if err := sink.Write(ctx, e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if len(putter.keys) != 1 {
		t.Fatalf("expected one upload, got %d", len(putter.keys))
	}
	if !bytes.HasPrefix(putter.body[0], []byte("PAR1")) {
		t.Fatalf("upload is not parquet")
	}
	if !strings.HasPrefix(putter.keys[0], "archive/symbol=BTCUSDT/date=2024-01-02/") {
		t.Fatalf("unexpected key %q", putter.keys[0])
	}

	if err := sink.Write(ctx, spoofEvent("low")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(putter.keys) != 2 {
		t.Fatalf("close should flush the remainder, uploads=%d", len(putter.keys))
	}
}

func TestArchiveSinkFlushesByAge(t *testing.T) {
	putter := &fakePutter{}
	sink := newArchiveSink(putter, "bucket", appconfig.S3Config{MaxBuffer: 100, FlushInterval: time.Minute})
	now := testTime
	sink.now = func() time.Time { return now }

	if err := sink.Write(context.Background(), spoofEvent("high")); err != nil {
		t.Fatalf("write: %v", err)
	}
	sink.flushTimedOut(context.Background())
	if len(putter.keys) != 0 {
		t.Fatal("flushed before the interval elapsed")
	}
	now = now.Add(time.Minute)
	sink.flushTimedOut(context.Background())
	if len(putter.keys) != 1 {
		t.Fatalf("expected age flush, uploads=%d", len(putter.keys))
	}
}

func TestNormalizeBucketName(t *testing.T) {
	if got, err := normalizeBucketName("  whale-archive "); err != nil || got != "whale-archive" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
	if _, err := normalizeBucketName(" "); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

func newTelegramServer(t *testing.T, hits *atomic.Int64, texts *[]string, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			http.Error(w, "bad path", http.StatusNotFound)
			return
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if payload["chat_id"] != "42" || payload["parse_mode"] != "Markdown" {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		hits.Add(1)
		mu.Lock()
		*texts = append(*texts, payload["text"])
		mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func telegramConfig(url string) appconfig.TelegramConfig {
	return appconfig.TelegramConfig{
		Enabled:       true,
		Token:         "token",
		ChatID:        "42",
		APIURL:        url,
		MinConfidence: "medium",
		RatePerMinute: 60,
		Burst:         5,
		Cooldown:      time.Minute,
		MegaWhales:    true,
	}
}

func TestTelegramSinkFiltersAndThrottles(t *testing.T) {
	var (
		hits  atomic.Int64
		texts []string
		mu    sync.Mutex
	)
	srv := newTelegramServer(t, &hits, &texts, &mu)
	sink, err := NewTelegramSink(telegramConfig(srv.URL))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx := context.Background()

	if err := sink.Write(ctx, spoofEvent("low")); err != nil {
		t.Fatalf("write low: %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("low confidence spoof should not alert")
	}

	if err := sink.Write(ctx, spoofEvent("high")); err != nil {
		t.Fatalf("write high: %v", err)
	}
	if err := sink.Write(ctx, spoofEvent("medium")); err != nil {
		t.Fatalf("write medium: %v", err)
	}
	sent, throttled := sink.Counts()
	if hits.Load() != 1 || sent != 1 || throttled != 1 {
		t.Fatalf("hits=%d sent=%d throttled=%d", hits.Load(), sent, throttled)
	}

	mega := spoofEvent("")
	mega.Type = models.EventWhaleCreated
	mega.Score = nil
	mega.Mega = true
	if err := sink.Write(ctx, mega); err != nil {
		t.Fatalf("write mega: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("mega whale should alert, hits=%d", hits.Load())
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(texts[0], "POSSIBLE SPOOF") || !strings.Contains(texts[1], "MEGA WHALE") {
		t.Fatalf("unexpected texts %q", texts)
	}
}

func TestTelegramCooldownExpires(t *testing.T) {
	var (
		hits  atomic.Int64
		texts []string
		mu    sync.Mutex
	)
	srv := newTelegramServer(t, &hits, &texts, &mu)
	sink, err := NewTelegramSink(telegramConfig(srv.URL))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	now := testTime
	sink.now = func() time.Time { return now }

	ctx := context.Background()
	_ = sink.Write(ctx, spoofEvent("high"))
	now = now.Add(2 * time.Minute)
	_ = sink.Write(ctx, spoofEvent("high"))
	if hits.Load() != 2 {
		t.Fatalf("cooldown should have expired, hits=%d", hits.Load())
	}
}

func TestTelegramStartupAndSummary(t *testing.T) {
	var (
		hits  atomic.Int64
		texts []string
		mu    sync.Mutex
	)
	srv := newTelegramServer(t, &hits, &texts, &mu)
	sink, err := NewTelegramSink(telegramConfig(srv.URL))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	detection := appconfig.Default().Detection
	detection.Thresholds["BTCUSDT"] = appconfig.WhaleThreshold{Whale: 1_000_000, MegaWhale: 5_000_000}
	ctx := context.Background()
	if err := sink.SendStartup(ctx, []string{"ETHUSDT", "BTCUSDT"}, detection); err != nil {
		t.Fatalf("startup: %v", err)
	}
	if err := sink.SendSummary(ctx, Summary{Uptime: 90 * time.Minute, Snapshots: 1200, Whales: 7}); err != nil {
		t.Fatalf("summary: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(texts[0], "BTCUSDT: 🐋$1.0M / 🔥$5.0M") {
		t.Fatalf("startup missing thresholds: %q", texts[0])
	}
	if strings.Index(texts[0], "BTCUSDT") > strings.Index(texts[0], "ETHUSDT") {
		t.Fatalf("symbols not sorted: %q", texts[0])
	}
	if !strings.Contains(texts[1], "Uptime: 1.5 hours") || !strings.Contains(texts[1], "Total snapshots: 1200") {
		t.Fatalf("unexpected summary: %q", texts[1])
	}
}

func TestTelegramErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()
	sink, err := NewTelegramSink(telegramConfig(srv.URL))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	err = sink.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "unexpected status 401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestCompactUSD(t *testing.T) {
	cases := map[float64]string{2_500_000: "$2.5M", 250_000: "$250K", 900: "$900"}
	for v, want := range cases {
		if got := compactUSD(v); got != want {
			t.Fatalf("compactUSD(%v) = %q, want %q", v, got, want)
		}
	}
}

func TestLogSinkNeverFails(t *testing.T) {
	sink := NewLogSink()
	for _, e := range []models.DetectionEvent{spoofEvent("high"), {Type: models.EventWhaleUpdated}} {
		if err := sink.Write(context.Background(), e); err != nil {
			t.Fatalf("log sink write: %v", err)
		}
	}
}
