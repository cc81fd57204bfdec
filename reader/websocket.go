package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
)

const defaultKeepAlive = 20 * time.Second

// WebsocketSource dials the exchange depth stream directly:
// {url}/ws/{symbol}@depth{N}@{speed}ms.
type WebsocketSource struct {
	baseURL      string
	depth        int
	speed        time.Duration
	pingInterval time.Duration
	readTimeout  time.Duration
	retry        appconfig.RetryConfig
	dialer       *websocket.Dialer
	log          *logger.Log
}

func NewWebsocketSource(feed appconfig.FeedConfig, rc appconfig.ReaderConfig) *WebsocketSource {
	return &WebsocketSource{
		baseURL:      strings.TrimRight(feed.URL, "/"),
		depth:        feed.Depth,
		speed:        feed.UpdateSpeed,
		pingInterval: rc.PingInterval,
		readTimeout:  rc.ReadTimeout,
		retry:        rc.Retry,
		dialer:       websocket.DefaultDialer,
		log:          logger.GetLogger(),
	}
}

func (s *WebsocketSource) Name() string { return appconfig.FeedWebsocket }

func (s *WebsocketSource) streamURL(symbol string) string {
	return fmt.Sprintf("%s/ws/%s@depth%d@%dms", s.baseURL, strings.ToLower(symbol), s.depth, s.speed.Milliseconds())
}

func (s *WebsocketSource) Stream(ctx context.Context, symbol string, handler Handler, onState StateFunc) error {
	url := s.streamURL(symbol)
	log := s.log.WithComponent("ws_reader").WithFields(logger.Fields{"symbol": symbol, "url": url})
	return runWithRetry(ctx, symbol, s.retry, onState, log, func(ctx context.Context, connected func()) error {
		return s.serve(ctx, url, symbol, handler, connected, log)
	})
}

func (s *WebsocketSource) serve(ctx context.Context, url, symbol string, handler Handler, connected func(), log *logger.Entry) error {
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	connected()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()
	startPingLoop(sessionCtx, conn, s.pingInterval, log)

	for {
		if s.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		update, err := decodeDepth(symbol, data, time.Now())
		if err != nil {
			log.WithError(err).Warn("failed to decode depth message")
			continue
		}
		handler(update)
	}
}

// depthMessage covers both the futures (b/a/u) and the spot
// (bids/asks/lastUpdateId) partial depth payloads.
type depthMessage struct {
	EventTime    int64      `json:"E"`
	Symbol       string     `json:"s"`
	UpdateID     int64      `json:"u"`
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"b"`
	Asks         [][]string `json:"a"`
	SpotBids     [][]string `json:"bids"`
	SpotAsks     [][]string `json:"asks"`
}

func decodeDepth(symbol string, data []byte, receivedAt time.Time) (models.RawDepthUpdate, error) {
	var msg depthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.RawDepthUpdate{}, fmt.Errorf("unmarshal depth: %w", err)
	}
	if msg.Symbol != "" {
		symbol = msg.Symbol
	}
	update := models.RawDepthUpdate{
		Symbol:     strings.ToUpper(symbol),
		EventTime:  msg.EventTime,
		UpdateID:   msg.UpdateID,
		ReceivedAt: receivedAt,
		Bytes:      len(data),
	}
	if update.UpdateID == 0 {
		update.UpdateID = msg.LastUpdateID
	}
	if update.EventTime == 0 {
		update.EventTime = receivedAt.UnixMilli()
	}

	bids, asks := msg.Bids, msg.Asks
	if len(bids) == 0 && len(asks) == 0 {
		bids, asks = msg.SpotBids, msg.SpotAsks
	}
	var err error
	if update.Bids, err = rawLevels(bids); err != nil {
		return models.RawDepthUpdate{}, fmt.Errorf("bids: %w", err)
	}
	if update.Asks, err = rawLevels(asks); err != nil {
		return models.RawDepthUpdate{}, fmt.Errorf("asks: %w", err)
	}
	return update, nil
}

func rawLevels(levels [][]string) ([]models.RawLevel, error) {
	out := make([]models.RawLevel, 0, len(levels))
	for i, l := range levels {
		if len(l) < 2 {
			return nil, fmt.Errorf("level %d has %d fields", i, len(l))
		}
		out = append(out, models.RawLevel{Price: l[0], Quantity: l[1]})
	}
	return out, nil
}

func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					return
				}
			}
		}
	}()
}
