package simulator

import (
	"context"
	"math"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

func boxByName(boxes []LandmassBox, name string) (LandmassBox, bool) {
	for _, b := range boxes {
		if b.Name == name {
			return b, true
		}
	}
	return LandmassBox{}, false
}

func TestGenerate_Bounds(t *testing.T) {
	g := NewGenerator(nil, rand.New(rand.NewSource(42)))

	for i := 0; i < 10000; i++ {
		threat := g.Generate()
		box, ok := boxByName(DefaultLandmasses, threat.Country)
		if !ok {
			t.Fatalf("Country %q is not a landmass name", threat.Country)
		}
		if !threat.HasCoordinates() {
			t.Fatal("Expected coordinates")
		}
		if !box.Contains(*threat.Latitude, *threat.Longitude) {
			t.Fatalf("Point (%f, %f) outside %s", *threat.Latitude, *threat.Longitude, box.Name)
		}
		if threat.Source != Source {
			t.Errorf("Expected source %q, got %q", Source, threat.Source)
		}
	}
}

func TestGenerate_IndicatorShape(t *testing.T) {
	g := NewGenerator(nil, rand.New(rand.NewSource(7)))

	for i := 0; i < 1000; i++ {
		ip := g.Generate().Indicator
		if net.ParseIP(ip) == nil {
			t.Fatalf("Indicator %q is not a dotted quad", ip)
		}
		for _, part := range strings.Split(ip, ".") {
			n, _ := strconv.Atoi(part)
			if n < 0 || n > 254 {
				t.Fatalf("Octet %d out of range in %s", n, ip)
			}
		}
	}
}

func TestGenerate_WeightedSelection(t *testing.T) {
	boxes := []LandmassBox{
		{Name: "A", MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1},
		{Name: "B", MinLat: 10, MaxLat: 11, MinLon: 10, MaxLon: 11},
		{Name: "B", MinLat: 10, MaxLat: 11, MinLon: 10, MaxLon: 11},
		{Name: "C", MinLat: 20, MaxLat: 21, MinLon: 20, MaxLon: 21},
	}
	g := NewGenerator(boxes, rand.New(rand.NewSource(1)))

	const n = 10000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		counts[g.Generate().Country]++
	}

	expected := map[string]float64{"A": 0.25, "B": 0.5, "C": 0.25}
	for name, p := range expected {
		mean := p * n
		sigma := math.Sqrt(n * p * (1 - p))
		if diff := math.Abs(float64(counts[name]) - mean); diff > 5*sigma {
			t.Errorf("Box %s selected %d times, expected about %.0f", name, counts[name], mean)
		}
	}
}

func TestGenerate_SeverityMix(t *testing.T) {
	g := NewGenerator(nil, rand.New(rand.NewSource(3)))

	counts := map[models.Severity]int{}
	for i := 0; i < 10000; i++ {
		counts[g.Generate().Severity]++
	}
	if counts[models.SeverityLow] < counts[models.SeverityMedium] || counts[models.SeverityMedium] < counts[models.SeverityHigh] {
		t.Errorf("Expected low > medium > high, got %v", counts)
	}
	if counts[models.SeverityHigh] == 0 {
		t.Error("Expected some high severity threats")
	}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(event string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func TestRun_EmitsThreatAndGeoEvents(t *testing.T) {
	g := NewGenerator(nil, rand.New(rand.NewSource(5)))
	out := &recordingBroadcaster{}

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	Run(ctx, g, out, 10*time.Millisecond)

	events := out.snapshot()
	if len(events) < 2 {
		t.Fatalf("Expected at least one tick, got %v", events)
	}
	if events[0] != models.EventNewThreatData || events[1] != models.EventNewGeoThreat {
		t.Errorf("Unexpected event order %v", events[:2])
	}
}

type fakeInserter struct {
	existing int
	inserted []models.ThreatRecord
}

func (f *fakeInserter) Insert(_ context.Context, records []models.ThreatRecord) error {
	f.inserted = append(f.inserted, records...)
	return nil
}

func (f *fakeInserter) Count(context.Context) (int, error) {
	return f.existing + len(f.inserted), nil
}

func TestSeed(t *testing.T) {
	g := NewGenerator(nil, rand.New(rand.NewSource(9)))
	store := &fakeInserter{}

	n, err := Seed(context.Background(), store, g, 250)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 250 || len(store.inserted) != 250 {
		t.Fatalf("Expected 250 records, got %d", len(store.inserted))
	}

	cutoff := time.Now().Add(-62 * 24 * time.Hour)
	for _, r := range store.inserted {
		if r.Timestamp.Before(cutoff) || r.Timestamp.After(time.Now()) {
			t.Errorf("Timestamp %v outside seeding window", r.Timestamp)
		}
		if r.Indicator != r.Data.Indicator {
			t.Errorf("Record indicator %q does not match data %q", r.Indicator, r.Data.Indicator)
		}
	}

	// Second call is a no-op
	n, err = Seed(context.Background(), store, g, 250)
	if err != nil || n != 0 {
		t.Errorf("Expected no-op on non-empty store, got n=%d err=%v", n, err)
	}
}
