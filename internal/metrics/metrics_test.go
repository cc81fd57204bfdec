package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"whalewatch/logger"
)

func TestPrometheusCounters(t *testing.T) {
	Init()
	before := testutil.ToFloat64(spoofDetections.WithLabelValues("BTCUSDT", "high", "classic"))
	SpoofDetected("BTCUSDT", "high", "classic")
	if got := testutil.ToFloat64(spoofDetections.WithLabelValues("BTCUSDT", "high", "classic")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}

	SetStreamState("BTCUSDT", "connecting")
	SetStreamState("BTCUSDT", "connected")
	if got := testutil.ToFloat64(streamState.WithLabelValues("BTCUSDT", "connected")); got != 1 {
		t.Fatalf("connected state not set")
	}
	if n := testutil.CollectAndCount(streamState); n != 1 {
		t.Fatalf("expected a single state series, got %d", n)
	}
}

func TestEmitDropMetric(t *testing.T) {
	resetMetricHandlers()
	Init()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) { events <- m })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	before := testutil.ToFloat64(eventsDropped.WithLabelValues("kafka"))
	EmitDropMetric(nil, DropMetricEvents, "kafka", "BTCUSDT", "publish")

	select {
	case m := <-events:
		if m.Component != "channel_drops" || m.Fields["sink"] != "kafka" {
			t.Fatalf("unexpected drop metric: %+v", m)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("drop metric not dispatched")
	}
	if got := testutil.ToFloat64(eventsDropped.WithLabelValues("kafka")); got != before+1 {
		t.Fatalf("prometheus drop counter not incremented")
	}
}

func TestReportHelpers(t *testing.T) {
	log := logger.GetLogger()
	ReportPipeline(log, PipelineStats{Symbol: "BTCUSDT", Snapshots: 10, ActiveWhales: 2})
	ReportSink(log, SinkStats{Name: "log", Delivered: 3, QueueCap: 16})
	PublishReport(logger.Report{Goroutines: 4})
}
