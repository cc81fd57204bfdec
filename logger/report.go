package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type counter struct {
	count int64
	bytes int64
}

var (
	warnsTotal  int64
	errorsTotal int64
	snapshots   int64
	events      int64
	components  sync.Map // component -> *counter of warn/error occurrences
	flows       sync.Map // flow name -> *counter
)

func recordWarn(component string) {
	atomic.AddInt64(&warnsTotal, 1)
	bump(&components, component+".warn", 0)
}

func recordError(component string) {
	atomic.AddInt64(&errorsTotal, 1)
	bump(&components, component+".error", 0)
}

// IncrementSnapshot counts one processed depth update of size bytes.
func IncrementSnapshot(symbol string, size int) {
	atomic.AddInt64(&snapshots, 1)
	bump(&flows, "depth."+strings.ToUpper(symbol), size)
}

// IncrementEvent counts one detection event handed to a sink.
func IncrementEvent(sink string) {
	atomic.AddInt64(&events, 1)
	bump(&flows, "sink."+sink, 0)
}

func bump(m *sync.Map, name string, size int) {
	v, _ := m.LoadOrStore(name, &counter{})
	c := v.(*counter)
	atomic.AddInt64(&c.count, 1)
	atomic.AddInt64(&c.bytes, int64(size))
}

// Report is one sample of the runtime report.
type Report struct {
	Timestamp    time.Time
	Goroutines   int
	CPUPercent   float64
	MemoryMB     float64
	DiskMB       float64
	NetBytesSent uint64
	NetBytesRecv uint64
	Warns        int64
	Errors       int64
	Snapshots    int64
	Events       int64
	Flows        map[string]int64
}

// ReportFunc receives every report produced by StartReport.
type ReportFunc func(Report)

// StartReport begins periodic logging of system and pipeline statistics.
// publish, when non-nil, receives each report after it is logged.
func StartReport(ctx context.Context, log *Log, interval time.Duration, publish ReportFunc) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report := collectReport()
				logReport(log, report)
				if publish != nil {
					publish(report)
				}
			}
		}
	}()
}

func collectReport() Report {
	report := Report{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
		Warns:      atomic.LoadInt64(&warnsTotal),
		Errors:     atomic.LoadInt64(&errorsTotal),
		Snapshots:  atomic.LoadInt64(&snapshots),
		Events:     atomic.LoadInt64(&events),
		Flows:      map[string]int64{},
	}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		report.CPUPercent = cpuPercent[0]
	}
	if memStats, err := mem.VirtualMemory(); err == nil {
		report.MemoryMB = float64(memStats.Used) / 1024 / 1024
	}
	if diskStats, err := disk.Usage("/"); err == nil {
		report.DiskMB = float64(diskStats.Used) / 1024 / 1024
	}
	if netStats, err := gnet.IOCounters(false); err == nil && len(netStats) > 0 {
		report.NetBytesSent = netStats[0].BytesSent
		report.NetBytesRecv = netStats[0].BytesRecv
	}

	for _, m := range []*sync.Map{&flows, &components} {
		m.Range(func(k, v any) bool {
			report.Flows[k.(string)] = atomic.LoadInt64(&v.(*counter).count)
			return true
		})
	}
	return report
}

func logReport(log *Log, r Report) {
	log.WithComponent("report").WithFields(Fields{
		"goroutines":     r.Goroutines,
		"cpu_percent":    r.CPUPercent,
		"memory_mb":      int64(r.MemoryMB),
		"disk_mb":        int64(r.DiskMB),
		"net_bytes_sent": r.NetBytesSent,
		"net_bytes_recv": r.NetBytesRecv,
		"warns":          r.Warns,
		"errors":         r.Errors,
		"snapshots":      r.Snapshots,
		"events":         r.Events,
		"flows":          r.Flows,
	}).Info("runtime report")
}
