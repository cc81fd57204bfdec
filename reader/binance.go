package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
)

// BinanceSource reads partial depth and aggregated trades from Binance USDⓈ-M
// futures through the go-binance SDK. 24h statistics come from the public
// REST ticker, so no API key is needed.
type BinanceSource struct {
	levels int
	rate   time.Duration
	retry  appconfig.RetryConfig
	client *futures.Client
	log    *logger.Log
}

var _ MarketFeed = (*BinanceSource)(nil)

func NewBinanceSource(feed appconfig.FeedConfig, rc appconfig.ReaderConfig) *BinanceSource {
	return &BinanceSource{
		levels: feed.Depth,
		rate:   feed.UpdateSpeed,
		retry:  rc.Retry,
		client: futures.NewClient("", ""),
		log:    logger.GetLogger(),
	}
}

func (s *BinanceSource) Name() string { return appconfig.FeedBinance }

func (s *BinanceSource) Stream(ctx context.Context, symbol string, handler Handler, onState StateFunc) error {
	log := s.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"levels": s.levels,
		"rate":   s.rate.String(),
	})
	return runWithRetry(ctx, symbol, s.retry, onState, log, func(ctx context.Context, connected func()) error {
		return s.serve(ctx, symbol, handler, connected, log)
	})
}

func (s *BinanceSource) serve(ctx context.Context, symbol string, handler Handler, connected func(), log *logger.Entry) error {
	var (
		mu      sync.Mutex
		lastErr error
	)
	wsHandler := func(event *futures.WsDepthEvent) {
		handler(convertDepthEvent(event, time.Now()))
	}
	errHandler := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		lastErr = err
		mu.Unlock()
		log.WithError(err).Warn("websocket error")
	}

	doneC, stopC, err := futures.WsPartialDepthServeWithRate(strings.ToLower(symbol), s.levels, s.rate, wsHandler, errHandler)
	if err != nil {
		return err
	}
	connected()

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case <-doneC:
	}

	mu.Lock()
	defer mu.Unlock()
	if lastErr != nil {
		return lastErr
	}
	return errors.New("depth stream closed by server")
}

// StreamTrades feeds the quote value of every aggregated trade of symbol to
// handler until ctx ends or the reconnect budget is exhausted.
func (s *BinanceSource) StreamTrades(ctx context.Context, symbol string, handler TradeHandler) error {
	log := s.log.WithComponent("binance_trades").WithField("symbol", symbol)
	return runWithRetry(ctx, symbol, s.retry, nil, log, func(ctx context.Context, connected func()) error {
		return s.serveTrades(ctx, symbol, handler, connected, log)
	})
}

func (s *BinanceSource) serveTrades(ctx context.Context, symbol string, handler TradeHandler, connected func(), log *logger.Entry) error {
	errC := make(chan error, 1)
	wsHandler := func(event *futures.WsAggTradeEvent) {
		value, at, err := convertAggTrade(event)
		if err != nil {
			log.WithError(err).Debug("skipping malformed trade")
			return
		}
		handler(value, at)
	}
	errHandler := func(err error) {
		if err == nil {
			return
		}
		select {
		case errC <- err:
		default:
		}
	}

	doneC, stopC, err := futures.WsAggTradeServe(strings.ToLower(symbol), wsHandler, errHandler)
	if err != nil {
		return err
	}
	connected()

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case <-doneC:
	}
	select {
	case err := <-errC:
		return err
	default:
		return errors.New("trade stream closed by server")
	}
}

// Volume24h returns the rolling 24h quote volume of symbol.
func (s *BinanceSource) Volume24h(ctx context.Context, symbol string) (float64, error) {
	stats, err := s.client.NewListPriceChangeStatsService().Symbol(strings.ToUpper(symbol)).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance 24h ticker %s: %w", symbol, err)
	}
	if len(stats) == 0 {
		return 0, fmt.Errorf("binance 24h ticker %s: empty response", symbol)
	}
	return parseQuoteVolume(stats[0].QuoteVolume)
}

func parseQuoteVolume(raw string) (float64, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse quote volume %q: %w", raw, err)
	}
	f, _ := v.Float64()
	return f, nil
}

// convertAggTrade returns the quote value and trade time of event.
func convertAggTrade(event *futures.WsAggTradeEvent) (float64, time.Time, error) {
	price, err := decimal.NewFromString(event.Price)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse trade price %q: %w", event.Price, err)
	}
	qty, err := decimal.NewFromString(event.Quantity)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse trade quantity %q: %w", event.Quantity, err)
	}
	value, _ := price.Mul(qty).Float64()
	return value, time.UnixMilli(event.TradeTime), nil
}

func convertDepthEvent(event *futures.WsDepthEvent, receivedAt time.Time) models.RawDepthUpdate {
	update := models.RawDepthUpdate{
		Symbol:     strings.ToUpper(event.Symbol),
		EventTime:  event.Time,
		UpdateID:   event.LastUpdateID,
		Bids:       make([]models.RawLevel, 0, len(event.Bids)),
		Asks:       make([]models.RawLevel, 0, len(event.Asks)),
		ReceivedAt: receivedAt,
	}
	for _, b := range event.Bids {
		update.Bids = append(update.Bids, models.RawLevel{Price: b.Price, Quantity: b.Quantity})
		update.Bytes += len(b.Price) + len(b.Quantity)
	}
	for _, a := range event.Asks {
		update.Asks = append(update.Asks, models.RawLevel{Price: a.Price, Quantity: a.Quantity})
		update.Bytes += len(a.Price) + len(a.Quantity)
	}
	return update
}
