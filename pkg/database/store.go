// Package database persists threat sightings and serves the dashboard aggregates.
package database

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("threat not found")

// Bucket is one group of an aggregate query.
type Bucket struct {
	Key   string
	Count int
}

// DayCount is the number of sightings recorded on one UTC day.
type DayCount struct {
	Day   time.Time
	Count int
}

// Store is the persistence layer behind the lookup pipeline and the REST API.
type Store interface {
	// Save records a sighting. A record for the same indicator and source
	// since UTC midnight is updated in place instead of duplicated.
	Save(ctx context.Context, rec models.ThreatRecord) error
	// Insert bulk-loads records as-is.
	Insert(ctx context.Context, records []models.ThreatRecord) error

	Trends(ctx context.Context) ([]DayCount, error)
	BySeverity(ctx context.Context) ([]Bucket, error)
	BySource(ctx context.Context) ([]Bucket, error)
	TopCountries(ctx context.Context, limit int) ([]Bucket, error)
	KPIs(ctx context.Context) (models.KPIs, error)
	Recent(ctx context.Context, limit int) ([]models.ThreatRecord, error)
	Export(ctx context.Context) ([]models.ThreatRecord, error)

	DeleteAll(ctx context.Context) (int64, error)
	AddTag(ctx context.Context, id, tag string) error
	Count(ctx context.Context) (int, error)

	Stats() map[string]interface{}
	Close() error
}

// StartOfDay returns UTC midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// prepare fills in the id, timestamp and tags of a new record.
func prepare(rec models.ThreatRecord) models.ThreatRecord {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return rec
}

// sortBuckets orders by count descending, then key.
func sortBuckets(b []Bucket) {
	sort.SliceStable(b, func(i, j int) bool {
		if b[i].Count != b[j].Count {
			return b[i].Count > b[j].Count
		}
		return b[i].Key < b[j].Key
	})
}

// MemoryStore keeps records in process memory.
// Use this when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.ThreatRecord
	byID    map[string]int

	saved   uint64
	updated uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func (s *MemoryStore) Save(_ context.Context, rec models.ThreatRecord) error {
	rec = prepare(rec)
	since := StartOfDay(rec.Timestamp)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		existing := &s.records[i]
		if existing.Indicator == rec.Indicator && existing.Source == rec.Source && !existing.Timestamp.Before(since) {
			existing.Data = rec.Data
			existing.Timestamp = rec.Timestamp
			s.updated++
			return nil
		}
	}
	s.append(rec)
	s.saved++
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, records []models.ThreatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.append(prepare(rec))
	}
	s.saved += uint64(len(records))
	return nil
}

func (s *MemoryStore) append(rec models.ThreatRecord) {
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
}

func (s *MemoryStore) Trends(_ context.Context) ([]DayCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[time.Time]int)
	for _, rec := range s.records {
		counts[StartOfDay(rec.Timestamp)]++
	}
	out := make([]DayCount, 0, len(counts))
	for day, n := range counts {
		out = append(out, DayCount{Day: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *MemoryStore) group(key func(models.ThreatRecord) string) []Bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, rec := range s.records {
		if k := key(rec); k != "" {
			counts[k]++
		}
	}
	out := make([]Bucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, Bucket{Key: k, Count: n})
	}
	sortBuckets(out)
	return out
}

// severityKey is the bucket a record's severity is counted under. Missing
// severities stay empty and are left out of the breakdown.
func severityKey(s models.Severity) string {
	if s == "" {
		return ""
	}
	return string(s.Normalize())
}

func (s *MemoryStore) BySeverity(_ context.Context) ([]Bucket, error) {
	return s.group(func(r models.ThreatRecord) string { return severityKey(r.Data.Severity) }), nil
}

func (s *MemoryStore) BySource(_ context.Context) ([]Bucket, error) {
	return s.group(func(r models.ThreatRecord) string { return r.Source }), nil
}

func (s *MemoryStore) TopCountries(_ context.Context, limit int) ([]Bucket, error) {
	out := s.group(func(r models.ThreatRecord) string {
		if !models.Present(r.Data.Country) {
			return ""
		}
		return r.Data.Country
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) KPIs(_ context.Context) (models.KPIs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := models.KPIs{TotalThreats: len(s.records)}
	unique := make(map[string]struct{})
	for _, rec := range s.records {
		switch rec.Data.Severity {
		case models.SeverityHigh:
			k.HighSeverity++
		case models.SeverityMedium:
			k.MediumSeverity++
		}
		unique[rec.Indicator] = struct{}{}
	}
	k.UniqueIndicators = len(unique)
	return k, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]models.ThreatRecord, error) {
	out := s.copyRecords()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Export(_ context.Context) ([]models.ThreatRecord, error) {
	out := s.copyRecords()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) copyRecords() []models.ThreatRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ThreatRecord, len(s.records))
	for i, rec := range s.records {
		rec.Tags = append([]string{}, rec.Tags...)
		out[i] = rec
	}
	return out
}

func (s *MemoryStore) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.records))
	s.records = nil
	s.byID = make(map[string]int)
	return n, nil
}

// AddTag adds tag to the record once; repeated tags are ignored.
func (s *MemoryStore) AddTag(_ context.Context, id, tag string) error {
	tag = strings.TrimSpace(tag)
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	for _, t := range s.records[i].Tags {
		if t == tag {
			return nil
		}
	}
	s.records[i].Tags = append(s.records[i].Tags, tag)
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"backend": "memory",
		"records": len(s.records),
		"saved":   s.saved,
		"updated": s.updated,
	}
}

func (s *MemoryStore) Close() error { return nil }
