package dashboard

import (
	"sync"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// SeverityLabels is the chart label order matching SeverityCounts.Series.
var SeverityLabels = []string{"High", "Medium", "Low"}

// Stats reduces inbound threats into session counters and the severity chart.
type Stats struct {
	mu     sync.RWMutex
	counts models.SeverityCounts
	today  int
	series [3]int
	redraw func(series [3]int)
}

// NewStats creates zeroed stats. redraw, when set, is called after every reduction.
func NewStats(redraw func(series [3]int)) *Stats {
	return &Stats{redraw: redraw}
}

// Reduce counts one event: exactly one severity bucket is incremented, low
// when the severity is missing or unknown. Repeated indicators are counted again.
func (s *Stats) Reduce(event models.ThreatEvent) models.SeverityCounts {
	s.mu.Lock()
	s.today++
	switch event.Severity.Normalize() {
	case models.SeverityHigh:
		s.counts.High++
	case models.SeverityMedium:
		s.counts.Medium++
	default:
		s.counts.Low++
	}
	s.series = s.counts.Series()
	counts, series, redraw := s.counts, s.series, s.redraw
	s.mu.Unlock()

	if redraw != nil {
		redraw(series)
	}
	return counts
}

// Counts returns the current severity counts.
func (s *Stats) Counts() models.SeverityCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts
}

// IndicatorsToday is the "new indicators" KPI.
func (s *Stats) IndicatorsToday() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.today
}

// HighSeverity is the "high severity" KPI.
func (s *Stats) HighSeverity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts.High
}

// Chart returns the in-memory severity chart series.
func (s *Stats) Chart() models.ChartSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.ChartSeries{
		Labels: append([]string(nil), SeverityLabels...),
		Data:   []int{s.series[0], s.series[1], s.series[2]},
	}
}
