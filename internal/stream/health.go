package stream

import (
	"sort"
	"sync"
	"time"

	"whalewatch/internal/metrics"
	"whalewatch/reader"
)

// StreamHealth is the connection status of one symbol's depth stream.
type StreamHealth struct {
	Symbol     string       `json:"symbol"`
	State      reader.State `json:"state"`
	Since      time.Time    `json:"since"`
	LastError  string       `json:"last_error,omitempty"`
	Reconnects int          `json:"reconnects"`
}

type healthRegistry struct {
	mu      sync.RWMutex
	streams map[string]*StreamHealth
	now     func() time.Time
}

func newHealthRegistry(symbols []string) *healthRegistry {
	h := &healthRegistry{streams: make(map[string]*StreamHealth, len(symbols)), now: time.Now}
	for _, s := range symbols {
		h.streams[s] = &StreamHealth{Symbol: s, State: reader.StateStopped, Since: h.now()}
	}
	return h
}

func (h *healthRegistry) set(symbol string, state reader.State, err error) {
	h.mu.Lock()
	s, ok := h.streams[symbol]
	if !ok {
		s = &StreamHealth{Symbol: symbol}
		h.streams[symbol] = s
	}
	if s.State != state {
		s.Since = h.now()
	}
	if state == reader.StateReconnecting {
		s.Reconnects++
	}
	s.State = state
	if err != nil {
		s.LastError = err.Error()
	}
	h.mu.Unlock()
	metrics.SetStreamState(symbol, string(state))
}

func (h *healthRegistry) snapshot() []StreamHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]StreamHealth, 0, len(h.streams))
	for _, s := range h.streams {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// healthy is false once any stream has failed.
func (h *healthRegistry) healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.streams {
		if s.State == reader.StateFailed {
			return false
		}
	}
	return true
}
