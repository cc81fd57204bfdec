// Package dashboard serves the JSON status API.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"whalewatch/config"
	"whalewatch/internal/metrics"
	"whalewatch/internal/stream"
	"whalewatch/logger"
)

// StatusProvider is the read side of the detection engine.
type StatusProvider interface {
	Healthy() bool
	Health() []stream.StreamHealth
	Stats() stream.Stats
	Pipeline(symbol string) (*stream.Pipeline, bool)
}

// SinkStatsFunc reports the delivery counters of every sink.
type SinkStatsFunc func() []metrics.SinkStats

// Server hosts the whalewatch status API: stream health, pipeline and
// detection statistics, whale and market views, recent metrics and logs,
// host resources and the Prometheus endpoint.
type Server struct {
	cfg               config.DashboardConfig
	log               *logger.Log
	status            StatusProvider
	sinkStats         SinkStatsFunc
	metricStore       *metricStore
	logStore          *logStore
	metricHandler     metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
}

// NewServer constructs the status server when the dashboard is enabled.
// When the dashboard is disabled the returned server is nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, status StatusProvider, sinkStats SinkStatsFunc) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if status == nil {
		return nil, errors.New("dashboard: status provider is required")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:               cfg,
		log:               log,
		status:            status,
		sinkStats:         sinkStats,
		metricStore:       metricStore,
		logStore:          logStore,
		metricHandler:     handlerID,
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log),
	}, nil
}

// Run serves the status API until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}
	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.WithComponent("dashboard").WithField("address", s.cfg.Address).Info("status api listening")

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dashboard: listen on %s: %w", s.cfg.Address, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}
	<-errCh
	s.log.WithComponent("dashboard").Info("status api stopped")
	return nil
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"app":                 appName,
			"refresh_interval_ms": s.refreshIntervalMs,
			"endpoints": []string{
				"/healthz", "/api/streams", "/api/stats", "/api/whales/:symbol",
				"/api/market/:symbol", "/api/metrics", "/api/logs", "/api/resources", "/metrics",
			},
		})
	})

	router.GET("/healthz", func(c *gin.Context) {
		code, status := http.StatusOK, "ok"
		if !s.status.Healthy() {
			code, status = http.StatusServiceUnavailable, "degraded"
		}
		c.JSON(code, gin.H{"status": status, "streams": s.status.Health()})
	})

	router.GET("/api/streams", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"streams": s.status.Health()})
	})

	router.GET("/api/stats", func(c *gin.Context) {
		payload := gin.H{"engine": s.status.Stats()}
		if s.sinkStats != nil {
			payload["sinks"] = s.sinkStats()
		}
		c.JSON(http.StatusOK, payload)
	})

	router.GET("/api/whales/:symbol", func(c *gin.Context) {
		p, ok := s.pipeline(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"symbol": p.Symbol(),
			"active": p.Whales(),
			"recent": p.RecentWhales(),
		})
	})

	router.GET("/api/market/:symbol", func(c *gin.Context) {
		p, ok := s.pipeline(c)
		if !ok {
			return
		}
		stats := p.Stats()
		payload := gin.H{
			"symbol":          p.Symbol(),
			"context":         p.Market(),
			"market_pressure": stats.MarketPressure,
		}
		if latest, ok := p.Latest(); ok {
			payload["book"] = gin.H{
				"update_id":        latest.UpdateID,
				"best_bid":         latest.BestBid,
				"best_ask":         latest.BestAsk,
				"mid_price":        latest.MidPrice,
				"spread_bps":       latest.SpreadBps,
				"volume_imbalance": latest.VolumeImbalance,
				"value_imbalance":  latest.ValueImbalance,
				"book_skew":        latest.BookSkew,
				"support_level":    latest.SupportLevel,
				"resistance_level": latest.ResistanceLevel,
				"whale_imbalance":  latest.WhaleImbalance,
				"local_time":       latest.LocalTime.Format(time.RFC3339Nano),
			}
		}
		c.JSON(http.StatusOK, payload)
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router, nil
}

func (s *Server) pipeline(c *gin.Context) (*stream.Pipeline, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	p, ok := s.status.Pipeline(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol " + symbol})
		return nil, false
	}
	return p, true
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
