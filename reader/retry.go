package reader

import (
	"context"
	"fmt"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/internal/metrics"
	"whalewatch/logger"
)

const defaultReconnectDelay = 5 * time.Second

// session runs one connection. It calls connected once the stream is live
// and returns when the connection ends.
type session func(ctx context.Context, connected func()) error

// runWithRetry keeps session running with a fixed delay between attempts.
// The attempt counter resets after every successful connection.
func runWithRetry(ctx context.Context, symbol string, retry appconfig.RetryConfig, onState StateFunc, log *logger.Entry, run session) error {
	if onState == nil {
		onState = func(State, error) {}
	}
	attempts := 0
	state := StateConnecting
	for {
		if ctx.Err() != nil {
			onState(StateStopped, nil)
			return nil
		}
		if state == StateConnecting {
			onState(StateConnecting, nil)
		}

		err := run(ctx, func() {
			attempts = 0
			onState(StateConnected, nil)
			log.Info("depth stream connected")
		})
		if ctx.Err() != nil {
			onState(StateStopped, nil)
			return nil
		}

		attempts++
		if retry.MaxAttempts > 0 && attempts >= retry.MaxAttempts {
			failure := fmt.Errorf("%s after %d attempts: %w", symbol, attempts, ErrMaxAttempts)
			if err != nil {
				failure = fmt.Errorf("%w: %v", failure, err)
			}
			onState(StateFailed, failure)
			log.WithError(failure).Error("depth stream failed")
			return failure
		}

		state = StateReconnecting
		onState(StateReconnecting, err)
		metrics.Reconnect(symbol)
		log.WithError(err).WithFields(logger.Fields{
			"attempt":      attempts,
			"max_attempts": retry.MaxAttempts,
			"delay":        retry.BaseDelay.String(),
		}).Warn("depth stream disconnected, reconnecting")

		if waitForReconnect(ctx, retry.BaseDelay) {
			onState(StateStopped, nil)
			return nil
		}
	}
}

// waitForReconnect sleeps for delay and reports whether ctx ended first.
func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
