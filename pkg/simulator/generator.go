// Package simulator produces synthetic threat traffic for demos and seeding.
package simulator

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// LandmassBox is a latitude/longitude rectangle used to bias synthetic
// coordinates onto populated regions.
type LandmassBox struct {
	Name   string
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains reports whether the point lies inside the box, bounds included.
func (b LandmassBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// DefaultLandmasses covers the major continents. Selection is uniform over
// entries, so listing a box twice doubles its weight.
var DefaultLandmasses = []LandmassBox{
	{Name: "North America", MinLat: 24, MaxLat: 71, MinLon: -168, MaxLon: -52},
	{Name: "South America", MinLat: -55, MaxLat: 12, MinLon: -81, MaxLon: -34},
	{Name: "Europe", MinLat: 36, MaxLat: 71, MinLon: -24, MaxLon: 69},
	{Name: "Africa", MinLat: -34, MaxLat: 37, MinLon: -17, MaxLon: 51},
	{Name: "Asia", MinLat: -11, MaxLat: 77, MinLon: 26, MaxLon: 180},
	{Name: "Australia", MinLat: -43, MaxLat: -10, MinLon: 113, MaxLon: 153},
	{Name: "Indian Subcontinent", MinLat: 8, MaxLat: 37, MinLon: 68, MaxLon: 97},
}

// severityWeights yields roughly 60% low, 30% medium, 10% high.
var severityWeights = []struct {
	severity models.Severity
	weight   int
}{
	{models.SeverityLow, 60},
	{models.SeverityMedium, 30},
	{models.SeverityHigh, 10},
}

// Source is the feed label attached to generated threats.
const Source = "Threat Simulation"

// Generator draws random threats. It is safe for concurrent use.
type Generator struct {
	boxes []LandmassBox
	rng   *rand.Rand
	mu    sync.Mutex
}

// NewGenerator creates a generator over boxes using rng.
// A nil rng is seeded from the clock; empty boxes select DefaultLandmasses.
func NewGenerator(boxes []LandmassBox, rng *rand.Rand) *Generator {
	if len(boxes) == 0 {
		boxes = DefaultLandmasses
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{boxes: boxes, rng: rng}
}

// Boxes returns the configured landmass list.
func (g *Generator) Boxes() []LandmassBox {
	return g.boxes
}

// Generate returns a threat with coordinates inside a randomly picked box.
func (g *Generator) Generate() models.ThreatEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	box := g.boxes[int(g.rng.Float64()*float64(len(g.boxes)))]
	lat := box.MinLat + g.rng.Float64()*(box.MaxLat-box.MinLat)
	lon := box.MinLon + g.rng.Float64()*(box.MaxLon-box.MinLon)

	return models.ThreatEvent{
		Indicator: g.randomIP(),
		Source:    Source,
		Severity:  g.randomSeverity(),
		Country:   box.Name,
		City:      "Unknown Anomaly",
		Latitude:  models.Float(lat),
		Longitude: models.Float(lon),
	}
}

// randomIP draws each octet as floor(r*255), so 255 never appears.
func (g *Generator) randomIP() string {
	octet := func() int { return int(g.rng.Float64() * 255) }
	return fmt.Sprintf("%d.%d.%d.%d", octet(), octet(), octet(), octet())
}

func (g *Generator) randomSeverity() models.Severity {
	total := 0
	for _, w := range severityWeights {
		total += w.weight
	}
	n := g.rng.Intn(total)
	for _, w := range severityWeights {
		if n < w.weight {
			return w.severity
		}
		n -= w.weight
	}
	return models.SeverityLow
}

// Intn exposes the generator's randomness for callers building on it.
func (g *Generator) Intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}
