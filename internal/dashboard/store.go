package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"whalewatch/internal/metrics"
	"whalewatch/internal/ring"
)

// metricStore keeps the most recent metrics emitted through
// metrics.EmitMetric.
type metricStore struct {
	mu    sync.RWMutex
	items *ring.Ring[metrics.Metric]
}

func newMetricStore(limit int) *metricStore {
	if limit <= 0 {
		limit = 200
	}
	return &metricStore{items: ring.New[metrics.Metric](limit)}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.mu.Lock()
	s.items.Push(metric)
	s.mu.Unlock()
}

func (s *metricStore) snapshot() []metrics.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if out := s.items.Items(); out != nil {
		return out
	}
	return []metrics.Metric{}
}

type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore is a logrus hook retaining the latest info and above log lines.
// Debug lines are left out; the event log sink writes one per event.
type logStore struct {
	mu      sync.RWMutex
	items   *ring.Ring[logRecord]
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{items: ring.New[logRecord](limit)}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}
	for k, v := range entry.Data {
		if k == "component" || k == "stack" {
			continue
		}
		if record.Fields == nil {
			record.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			record.Fields[k] = val.Error()
		case fmt.Stringer:
			record.Fields[k] = val.String()
		default:
			record.Fields[k] = val
		}
	}

	s.mu.Lock()
	s.items.Push(record)
	s.mu.Unlock()
	return nil
}

func (s *logStore) snapshot() []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if out := s.items.Items(); out != nil {
		return out
	}
	return []logRecord{}
}

// close stops recording; logrus has no way to remove a hook.
func (s *logStore) close() {
	s.enabled.Store(false)
}
