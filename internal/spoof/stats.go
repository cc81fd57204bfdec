package spoof

import "sync"

// Stats counts scored lifecycles per confidence tier and pattern.
type Stats struct {
	Analyzed      int64            `json:"total_analyzed"`
	High          int64            `json:"high_confidence"`
	Medium        int64            `json:"medium_confidence"`
	Low           int64            `json:"low_confidence"`
	Unlikely      int64            `json:"unlikely"`
	Patterns      map[string]int64 `json:"patterns"`
	DetectionRate float64          `json:"detection_rate"`
}

type statsCounter struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsCounter() *statsCounter {
	return &statsCounter{stats: Stats{Patterns: map[string]int64{}}}
}

// Record adds score to the detection statistics.
func (s *Scorer) Record(score Score) {
	c := s.stats
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Analyzed++
	switch score.Confidence {
	case ConfidenceHigh:
		c.stats.High++
	case ConfidenceMedium:
		c.stats.Medium++
	case ConfidenceLow:
		c.stats.Low++
	default:
		c.stats.Unlikely++
	}
	c.stats.Patterns[string(score.Pattern)]++
}

// Stats returns a copy of the counters. DetectionRate is the share of
// medium and high scores in percent.
func (s *Scorer) Stats() Stats {
	c := s.stats
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.Patterns = make(map[string]int64, len(c.stats.Patterns))
	for k, v := range c.stats.Patterns {
		out.Patterns[k] = v
	}
	if out.Analyzed > 0 {
		out.DetectionRate = float64(out.High+out.Medium) / float64(out.Analyzed) * 100
	}
	return out
}
