package reader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
)

func testEntry() *logger.Entry {
	return logger.GetLogger().WithComponent("reader_test")
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State, _ error) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) all() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func TestDecodeFuturesDepth(t *testing.T) {
	data := []byte(`{"e":"depthUpdate","E":1700000000123,"s":"BTCUSDT","u":42,"b":[["100.5","2"],["100.4","1"]],"a":[["100.6","3"]]}`)
	update, err := decodeDepth("btcusdt", data, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if update.Symbol != "BTCUSDT" || update.UpdateID != 42 || update.EventTime != 1700000000123 {
		t.Fatalf("unexpected header: %+v", update)
	}
	if len(update.Bids) != 2 || update.Bids[0].Price != "100.5" || update.Asks[0].Quantity != "3" {
		t.Fatalf("unexpected levels: %+v", update)
	}
}

func TestDecodeSpotDepth(t *testing.T) {
	data := []byte(`{"lastUpdateId":7,"bids":[["10","1"]],"asks":[["11","1"]]}`)
	update, err := decodeDepth("ethusdt", data, time.UnixMilli(5))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if update.Symbol != "ETHUSDT" || update.UpdateID != 7 || update.EventTime != 5 {
		t.Fatalf("unexpected update: %+v", update)
	}
}

func TestDecodeRejectsShortLevel(t *testing.T) {
	if _, err := decodeDepth("BTCUSDT", []byte(`{"u":1,"b":[["100"]]}`), time.Now()); err == nil {
		t.Fatal("expected error for malformed level")
	}
	if _, err := decodeDepth("BTCUSDT", []byte(`not json`), time.Now()); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestConvertDepthEvent(t *testing.T) {
	event := &futures.WsDepthEvent{Symbol: "btcusdt", Time: 9, LastUpdateID: 11}
	event.Bids = append(event.Bids, futures.Bid{Price: "100", Quantity: "1"})
	event.Asks = append(event.Asks, futures.Ask{Price: "101", Quantity: "2"})

	update := convertDepthEvent(event, time.Unix(1, 0))
	if update.Symbol != "BTCUSDT" || update.UpdateID != 11 || len(update.Bids) != 1 || update.Asks[0].Price != "101" {
		t.Fatalf("unexpected conversion: %+v", update)
	}
}

func TestConvertAggTrade(t *testing.T) {
	event := &futures.WsAggTradeEvent{Symbol: "BTCUSDT", Price: "42000.5", Quantity: "0.2", TradeTime: 1_700_000_000_000}
	value, at, err := convertAggTrade(event)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if value != 8400.1 || !at.Equal(time.UnixMilli(1_700_000_000_000)) {
		t.Fatalf("unexpected trade value=%v at=%v", value, at)
	}

	event.Quantity = "lots"
	if _, _, err := convertAggTrade(event); err == nil {
		t.Fatal("expected error for malformed quantity")
	}
}

func TestBinanceVolume24h(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path + "?" + r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","volume":"1000","quoteVolume":"42000000.50"}]`))
	}))
	defer srv.Close()

	src := NewBinanceSource(appconfig.Default().Feed, appconfig.Default().Reader)
	src.client.BaseURL = srv.URL
	v, err := src.Volume24h(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if v != 42000000.5 {
		t.Fatalf("unexpected volume %v", v)
	}
	if !strings.Contains(path, "ticker/24hr") || !strings.Contains(path, "symbol=BTCUSDT") {
		t.Fatalf("unexpected request %s", path)
	}

	if _, err := parseQuoteVolume("n/a"); err == nil {
		t.Fatal("expected error for malformed volume")
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	states := &stateLog{}
	calls := 0
	err := runWithRetry(context.Background(), "BTCUSDT", appconfig.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, states.record, testEntry(),
		func(ctx context.Context, connected func()) error {
			calls++
			return errors.New("refused")
		})
	if !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("expected ErrMaxAttempts, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	got := states.all()
	if got[0] != StateConnecting || got[len(got)-1] != StateFailed {
		t.Fatalf("unexpected states: %v", got)
	}
}

func TestRetryResetsAfterConnect(t *testing.T) {
	calls := 0
	err := runWithRetry(context.Background(), "BTCUSDT", appconfig.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, nil, testEntry(),
		func(ctx context.Context, connected func()) error {
			calls++
			if calls <= 4 {
				connected()
			}
			return errors.New("dropped")
		})
	if !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("expected ErrMaxAttempts, got %v", err)
	}
	// Each connected session resets the budget to a single used attempt, so
	// the first session that never connects exhausts it.
	if calls != 5 {
		t.Fatalf("expected 5 sessions, got %d", calls)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	states := &stateLog{}
	err := runWithRetry(ctx, "BTCUSDT", appconfig.RetryConfig{MaxAttempts: 0, BaseDelay: time.Hour}, states.record, testEntry(),
		func(ctx context.Context, connected func()) error {
			connected()
			cancel()
			return ctx.Err()
		})
	if err != nil {
		t.Fatalf("clean stop returned %v", err)
	}
	got := states.all()
	if got[len(got)-1] != StateStopped {
		t.Fatalf("expected stopped, got %v", got)
	}
}

func TestWebsocketSourceStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"E":1,"s":"BTCUSDT","u":5,"b":[["100","1"]],"a":[["101","1"]]}`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	feed := appconfig.FeedConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Depth: 20, UpdateSpeed: 100 * time.Millisecond}
	src := NewWebsocketSource(feed, appconfig.ReaderConfig{Retry: appconfig.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, ReadTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got models.RawDepthUpdate
	err := src.Stream(ctx, "BTCUSDT", func(u models.RawDepthUpdate) {
		got = u
		cancel()
	}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got.UpdateID != 5 || got.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected update %+v", got)
	}
	if path != "/ws/btcusdt@depth20@100ms" {
		t.Fatalf("unexpected stream path %s", path)
	}
}

func TestNewSource(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Feed.Source = "bogus"
	if _, err := NewSource(&cfg); err == nil {
		t.Fatal("expected error for unknown source")
	}
	cfg.Feed.Source = appconfig.FeedWebsocket
	src, err := NewSource(&cfg)
	if err != nil || src.Name() != appconfig.FeedWebsocket {
		t.Fatalf("unexpected source %v %v", src, err)
	}
}
