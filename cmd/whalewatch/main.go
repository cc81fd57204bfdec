package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"whalewatch/config"
	"whalewatch/internal/channel"
	"whalewatch/internal/dashboard"
	"whalewatch/internal/metrics"
	"whalewatch/internal/stream"
	"whalewatch/logger"
	"whalewatch/reader"
	"whalewatch/writer"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	group := flag.String("group", "", "Symbol group from symbol_groups to monitor")
	symbols := flag.String("symbols", "", "Comma separated symbols to monitor, overrides -group")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Error("Failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.SelectSymbols(*group, *symbols); err != nil {
		log.WithError(err).Error("Failed to select symbols")
		os.Exit(1)
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Whalewatch.Name,
		"version":     cfg.Whalewatch.Version,
		"environment": env,
		"config":      path,
		"symbols":     cfg.Symbols,
		"feed":        cfg.Feed.Source,
	}).Info("starting whalewatch")

	if err := run(cfg, env, log); err != nil {
		log.WithError(err).Error("whalewatch stopped with error")
		os.Exit(1)
	}
	log.Info("whalewatch stopped")
}

func run(cfg *config.Config, env string, log *logger.Log) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch)
		if err := metrics.CreateDashboardFromTemplate(ctx); err != nil {
			log.WithComponent("main").WithError(err).Warn("failed to create cloudwatch dashboard")
		}
	}
	if logger.IsReportLevel(cfg.Logging.Level) {
		logger.StartReport(ctx, log, cfg.Metrics.StatsInterval, metrics.PublishReport)
	}

	source, err := reader.NewSource(cfg)
	if err != nil {
		return err
	}

	sinks, err := writer.Build(ctx, cfg)
	if err != nil {
		if config.IsProductionLike(env) {
			return fmt.Errorf("build sinks: %w", err)
		}
		log.WithComponent("main").WithError(err).Warn("sink setup failed, continuing with the log sink only")
		sinks = &writer.Set{Sinks: []channel.Sink{writer.NewLogSink()}}
	}

	bus := channel.NewEventBus(cfg.Channels.EventBuffer, cfg.Writer.Timeout)
	for _, s := range sinks.Sinks {
		bus.Register(s)
	}
	bus.Start()

	engine := stream.NewEngine(cfg, source, bus)

	dash, err := dashboard.NewServer(cfg.Dashboard, log, engine, bus.Stats)
	if err != nil {
		_ = bus.Close(context.Background())
		return fmt.Errorf("dashboard: %w", err)
	}

	if sinks.Telegram != nil {
		if err := sinks.Telegram.SendStartup(ctx, engine.Symbols(), cfg.Detection); err != nil {
			log.WithComponent("main").WithError(err).Warn("failed to send telegram startup message")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	engine.Start(gctx)
	bus.StartStatsReporting(gctx, cfg.Metrics.StatsInterval)
	engine.StartStatsReporting(gctx, cfg.Metrics.StatsInterval)

	g.Go(func() error {
		return dash.Run(gctx, cfg.Whalewatch.Name)
	})
	g.Go(func() error {
		return watchFailures(gctx, engine, log)
	})
	if sinks.Telegram != nil && cfg.Alerts.Telegram.SummaryInterval > 0 {
		g.Go(func() error {
			sendSummaries(gctx, sinks.Telegram, engine, cfg.Alerts.Telegram.SummaryInterval, log)
			return nil
		})
	}

	log.WithComponent("main").Info("all components started successfully")
	runErr := g.Wait()

	log.WithComponent("main").Info("starting graceful shutdown")
	engine.Stop()

	if sinks.Telegram != nil {
		summaryCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sinks.Telegram.SendSummary(summaryCtx, summaryOf(engine)); err != nil {
			log.WithComponent("main").WithError(err).Warn("failed to send final telegram summary")
		}
		cancel()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Channels.DrainTimeout)
	defer cancel()
	if err := bus.Close(drainCtx); err != nil {
		log.WithComponent("main").WithError(err).Warn("event bus closed with errors")
	}
	return runErr
}

// watchFailures logs every failed stream and gives up once all of them
// have failed.
func watchFailures(ctx context.Context, engine *stream.Engine, log *logger.Log) error {
	total := len(engine.Symbols())
	failed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-engine.Failures():
			failed++
			log.WithComponent("main").WithError(err).WithFields(logger.Fields{
				"failed_streams": failed,
				"total_streams":  total,
			}).Error("depth stream gave up")
			if failed >= total {
				return fmt.Errorf("all %d depth streams failed", total)
			}
		}
	}
}

func sendSummaries(ctx context.Context, tg *writer.TelegramSink, engine *stream.Engine, interval time.Duration, log *logger.Log) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tg.SendSummary(ctx, summaryOf(engine)); err != nil {
				log.WithComponent("main").WithError(err).Warn("failed to send telegram summary")
			}
		}
	}
}

func summaryOf(engine *stream.Engine) writer.Summary {
	st := engine.Stats()
	sum := writer.Summary{
		Uptime: time.Duration(st.UptimeSeconds * float64(time.Second)),
		Whales: st.Trackers.Created,
		Spoofs: st.Spoof.Analyzed,
	}
	for _, p := range st.Pipelines {
		sum.Snapshots += p.Snapshots
	}
	return sum
}
