package reader

import (
	"context"
	"time"
)

// TradeHandler receives the quote value of every executed trade.
type TradeHandler func(value float64, at time.Time)

// MarketFeed is implemented by sources that also stream executed trades and
// serve rolling 24h statistics for a symbol.
type MarketFeed interface {
	StreamTrades(ctx context.Context, symbol string, handler TradeHandler) error
	Volume24h(ctx context.Context, symbol string) (float64, error)
}
