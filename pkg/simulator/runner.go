package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// Broadcaster pushes a named event to every connected dashboard.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// Inserter bulk-loads records without same-day deduplication.
type Inserter interface {
	Insert(ctx context.Context, records []models.ThreatRecord) error
	Count(ctx context.Context) (int, error)
}

// Run emits one generated threat per tick until ctx is done.
func Run(ctx context.Context, gen *Generator, out Broadcaster, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	logger.Info("[simulator] emitting synthetic threats every %v", tick)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			threat := gen.Generate()
			out.Broadcast(models.EventNewThreatData, models.ThreatData{Source: Source, Data: threat})
			out.Broadcast(models.EventNewGeoThreat, threat)
		}
	}
}

var seedSources = []string{"VirusTotal", "AbuseIPDB", "ThreatFox", "PulseDive"}

var seedCountries = []string{"US", "RU", "CN", "IN", "DE", "BR", "IR", "GB", "NG", "KP", "FR"}

// SeedRecords builds n random historical records spread over the last 60 days.
func SeedRecords(gen *Generator, n int, now time.Time) []models.ThreatRecord {
	records := make([]models.ThreatRecord, 0, n)
	for i := 0; i < n; i++ {
		g := gen.Generate()
		indicator := fmt.Sprintf("%d.%d.%d.%d", 1+gen.Intn(223), gen.Intn(256), gen.Intn(256), gen.Intn(256))
		source := seedSources[gen.Intn(len(seedSources))]
		age := time.Duration(gen.Intn(61))*24*time.Hour + time.Duration(gen.Intn(24))*time.Hour

		records = append(records, models.ThreatRecord{
			ID:        uuid.New().String(),
			Indicator: indicator,
			Source:    source,
			Timestamp: now.Add(-age).UTC(),
			Tags:      []string{},
			Data: models.ThreatEvent{
				Indicator: indicator,
				Severity:  g.Severity,
				Country:   seedCountries[gen.Intn(len(seedCountries))],
				Latitude:  g.Latitude,
				Longitude: g.Longitude,
			},
		})
	}
	return records
}

// Seed fills an empty store with n random records. A non-empty store is left untouched.
func Seed(ctx context.Context, store Inserter, gen *Generator, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	count, err := store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count threats: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	logger.Info("[simulator] store is empty, seeding %d random threat records", n)
	records := SeedRecords(gen, n, time.Now())
	if err := store.Insert(ctx, records); err != nil {
		return 0, fmt.Errorf("insert seed records: %w", err)
	}
	return len(records), nil
}
