package dashboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	geojson "github.com/paulmach/go.geojson"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// MarkerPolicy decides how long a plotted marker stays on the map.
type MarkerPolicy int

const (
	// Persistent markers stay until the session ends and carry a popup.
	Persistent MarkerPolicy = iota
	// Expiring markers are removed after MarkerTTL.
	Expiring
)

// MarkerTTL is the lifetime of an expiring marker.
const MarkerTTL = 3 * time.Second

// Severity colours
const (
	ColorHigh   = "#e74c3c"
	ColorMedium = "#f39c12"
	ColorLow    = "#3498db"
)

// SeverityColor returns the marker colour for a severity.
func SeverityColor(s models.Severity) string {
	switch s.Normalize() {
	case models.SeverityHigh:
		return ColorHigh
	case models.SeverityMedium:
		return ColorMedium
	default:
		return ColorLow
	}
}

// Marker is a plotted threat.
type Marker struct {
	ID        string
	Latitude  float64
	Longitude float64
	Color     string
	Popup     string
	Indicator string
	PlottedAt time.Time
}

// MapPlotter keeps the markers currently shown on the threat map.
type MapPlotter struct {
	mu      sync.Mutex
	policy  MarkerPolicy
	ttl     time.Duration
	sched   *Scheduler
	markers map[string]Marker
	order   []string
}

// NewMapPlotter creates a plotter. sched owns expiry timers for Expiring.
func NewMapPlotter(policy MarkerPolicy, sched *Scheduler) *MapPlotter {
	return &MapPlotter{
		policy:  policy,
		ttl:     MarkerTTL,
		sched:   sched,
		markers: make(map[string]Marker),
	}
}

// Policy returns the presentation policy.
func (p *MapPlotter) Policy() MarkerPolicy {
	return p.policy
}

// Plot adds a marker for event. It returns false when coordinates are missing.
func (p *MapPlotter) Plot(event models.ThreatEvent) (Marker, bool) {
	if !event.HasCoordinates() {
		return Marker{}, false
	}

	m := Marker{
		ID:        uuid.New().String(),
		Latitude:  *event.Latitude,
		Longitude: *event.Longitude,
		Color:     SeverityColor(event.Severity),
		Indicator: event.Indicator,
		PlottedAt: time.Now(),
	}
	if p.policy == Persistent {
		m.Popup = fmt.Sprintf("%s\nScore: %s", event.Indicator, scoreOrUndefined(event.AbuseScore))
	}

	p.mu.Lock()
	p.markers[m.ID] = m
	p.order = append(p.order, m.ID)
	p.mu.Unlock()

	if p.policy == Expiring && p.sched != nil {
		id := m.ID
		p.sched.After(p.ttl, func() { p.remove(id) })
	}
	return m, true
}

func scoreOrUndefined(v *int) string {
	if v == nil {
		return models.NotAvailable
	}
	return fmt.Sprintf("%d", *v)
}

func (p *MapPlotter) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.markers[id]; !ok {
		return
	}
	delete(p.markers, id)
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Markers returns the live markers in plot order.
func (p *MapPlotter) Markers() []Marker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Marker, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.markers[id])
	}
	return out
}

// GeoJSON exports the live markers as a FeatureCollection of points.
func (p *MapPlotter) GeoJSON() ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, m := range p.Markers() {
		f := geojson.NewPointFeature([]float64{m.Longitude, m.Latitude})
		f.ID = m.ID
		f.SetProperty("indicator", m.Indicator)
		f.SetProperty("color", m.Color)
		if m.Popup != "" {
			f.SetProperty("popup", m.Popup)
		}
		fc.AddFeature(f)
	}
	return fc.MarshalJSON()
}
