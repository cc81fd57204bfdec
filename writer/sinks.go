package writer

import (
	"context"
	"errors"
	"fmt"

	appconfig "whalewatch/config"
	"whalewatch/internal/channel"
	"whalewatch/logger"
)

// Set is the collection of sinks enabled by configuration. Telegram is kept
// separately as well so main can send startup and summary messages.
type Set struct {
	Sinks    []channel.Sink
	Telegram *TelegramSink
}

// Build constructs every enabled sink. On failure the sinks already built
// are closed.
func Build(ctx context.Context, cfg *appconfig.Config) (*Set, error) {
	set := &Set{}
	fail := func(err error) (*Set, error) {
		_ = set.Close()
		return nil, err
	}

	if cfg.Writer.Log.Enabled {
		set.Sinks = append(set.Sinks, NewLogSink())
	}
	if cfg.Storage.Kafka.Enabled {
		s, err := NewKafkaSink(cfg.Storage.Kafka)
		if err != nil {
			return fail(fmt.Errorf("kafka sink: %w", err))
		}
		set.Sinks = append(set.Sinks, s)
	}
	if cfg.Storage.Redis.Enabled {
		s, err := NewRedisSink(ctx, cfg.Storage.Redis)
		if err != nil {
			return fail(fmt.Errorf("redis sink: %w", err))
		}
		set.Sinks = append(set.Sinks, s)
	}
	if cfg.Storage.S3.Enabled {
		s, err := NewArchiveSink(ctx, cfg.Storage.S3)
		if err != nil {
			return fail(fmt.Errorf("s3 archive sink: %w", err))
		}
		set.Sinks = append(set.Sinks, s)
	}
	if cfg.Alerts.Telegram.Enabled {
		s, err := NewTelegramSink(cfg.Alerts.Telegram)
		if err != nil {
			return fail(fmt.Errorf("telegram sink: %w", err))
		}
		set.Sinks = append(set.Sinks, s)
		set.Telegram = s
	}

	names := make([]string, 0, len(set.Sinks))
	for _, s := range set.Sinks {
		names = append(names, s.Name())
	}
	logger.GetLogger().WithComponent("writer").WithField("sinks", names).Info("sinks configured")
	return set, nil
}

// Close closes every sink directly. It is only used when the sinks never
// reached the event bus, which otherwise owns closing them.
func (s *Set) Close() error {
	var errs []error
	for _, sink := range s.Sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
