// Package reader streams raw order book depth for one symbol at a time.
package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appconfig "whalewatch/config"
	"whalewatch/models"
)

// State of a depth stream connection.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateStopped      State = "stopped"
)

// ErrMaxAttempts is returned once a stream used up its reconnect budget.
var ErrMaxAttempts = errors.New("max reconnect attempts reached")

// Handler receives every decoded update of a stream, in arrival order.
type Handler func(models.RawDepthUpdate)

// StateFunc is told about every connection state change. err is set for
// reconnecting and failed.
type StateFunc func(State, error)

// Source streams depth for symbol until ctx ends or the reconnect budget is
// exhausted. Stream blocks; it returns nil after a clean stop.
type Source interface {
	Name() string
	Stream(ctx context.Context, symbol string, handler Handler, onState StateFunc) error
}

// NewSource builds the source selected by cfg.Feed.Source.
func NewSource(cfg *appconfig.Config) (Source, error) {
	switch strings.ToLower(cfg.Feed.Source) {
	case appconfig.FeedBinance, "":
		return NewBinanceSource(cfg.Feed, cfg.Reader), nil
	case appconfig.FeedWebsocket:
		return NewWebsocketSource(cfg.Feed, cfg.Reader), nil
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
	}
}
