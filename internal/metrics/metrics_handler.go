package metrics

import (
	"sync"
	"time"

	"whalewatch/logger"
)

const (
	TypeCounter = "counter"
	TypeGauge   = "gauge"
)

// Metric is one measurement passed to EmitMetric.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// Symbol returns the symbol the metric belongs to, "" for process wide ones.
func (m Metric) Symbol() string {
	s, _ := m.Fields["symbol"].(string)
	return s
}

// MetricHandler runs on the emitting goroutine, which may be a symbol
// pipeline, so it must not block.
type MetricHandler func(Metric)

type MetricHandlerID uint64

type subscription struct {
	id         MetricHandlerID
	components map[string]struct{}
	handle     MetricHandler
}

func (s subscription) wants(component string) bool {
	if len(s.components) == 0 {
		return true
	}
	_, ok := s.components[component]
	return ok
}

var (
	subscriptionsMu sync.RWMutex
	subscriptions   []subscription
	lastHandlerID   MetricHandlerID
)

// RegisterMetricHandler subscribes handler to emitted metrics, limited to
// the given components when any are named. Handlers are called in
// registration order. A nil handler is ignored and yields 0.
func RegisterMetricHandler(handler MetricHandler, components ...string) MetricHandlerID {
	if handler == nil {
		return 0
	}
	sub := subscription{handle: handler}
	if len(components) > 0 {
		sub.components = make(map[string]struct{}, len(components))
		for _, c := range components {
			sub.components[c] = struct{}{}
		}
	}

	subscriptionsMu.Lock()
	defer subscriptionsMu.Unlock()
	lastHandlerID++
	sub.id = lastHandlerID
	subscriptions = append(subscriptions, sub)
	return sub.id
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	subscriptionsMu.Lock()
	defer subscriptionsMu.Unlock()
	for i, sub := range subscriptions {
		if sub.id == id {
			subscriptions = append(subscriptions[:i:i], subscriptions[i+1:]...)
			return
		}
	}
}

func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = TypeCounter
	}
	if log == nil {
		log = logger.GetLogger()
	}
	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    copyFields(fields, 0),
	}

	logFields := copyFields(m.Fields, 3)
	logFields["metric"] = name
	logFields["metric_type"] = metricType
	logFields["value"] = value
	log.WithComponent(component).WithFields(logFields).Debug("metric")

	dispatchMetric(log, m)
	return m, true
}

func dispatchMetric(log *logger.Log, m Metric) {
	subscriptionsMu.RLock()
	targets := make([]subscription, 0, len(subscriptions))
	for _, sub := range subscriptions {
		if sub.wants(m.Component) {
			targets = append(targets, sub)
		}
	}
	subscriptionsMu.RUnlock()

	for _, sub := range targets {
		deliverMetric(log, sub, m)
	}
}

// deliverMetric keeps a failing handler from unwinding the emitter.
func deliverMetric(log *logger.Log, sub subscription, m Metric) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("metrics").WithFields(logger.Fields{
				"handler_id": sub.id,
				"metric":     m.Name,
				"panic":      r,
			}).Error("metric handler panicked")
		}
	}()
	sub.handle(m)
}

func copyFields(fields logger.Fields, extra int) logger.Fields {
	out := make(logger.Fields, len(fields)+extra)
	for k, v := range fields {
		out[k] = v
	}
	return out
}
