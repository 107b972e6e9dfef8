package intel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hervehildenbrand/cti-radar/pkg/database"
	"github.com/hervehildenbrand/cti-radar/pkg/geo"
	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// Broadcaster pushes a named event to every connected dashboard.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// Publisher forwards persisted sightings to a message bus.
type Publisher interface {
	Publish(ctx context.Context, rec models.ThreatRecord) error
}

// Notifier alerts on a result. Implementations decide what is worth sending.
type Notifier interface {
	Notify(source string, ev models.ThreatEvent)
}

// Analyzer runs an indicator through every provider and reports progress to
// the dashboards as results arrive.
type Analyzer struct {
	providers []Provider
	store     database.Store
	out       Broadcaster

	// Optional
	cache     *Cache
	geo       geo.Resolver
	publisher Publisher
	notifier  Notifier

	now func() time.Time

	// Stats
	lookups        uint64
	results        uint64
	providerErrors uint64
}

// Option configures an Analyzer.
type Option func(*Analyzer)

func WithCache(c *Cache) Option             { return func(a *Analyzer) { a.cache = c } }
func WithGeo(r geo.Resolver) Option         { return func(a *Analyzer) { a.geo = r } }
func WithPublisher(p Publisher) Option      { return func(a *Analyzer) { a.publisher = p } }
func WithNotifier(n Notifier) Option        { return func(a *Analyzer) { a.notifier = n } }
func withClock(now func() time.Time) Option { return func(a *Analyzer) { a.now = now } }

// NewAnalyzer creates an analyzer querying providers in order.
func NewAnalyzer(providers []Provider, store database.Store, out Broadcaster, opts ...Option) *Analyzer {
	a := &Analyzer{
		providers: providers,
		store:     store,
		out:       out,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Providers returns the configured providers.
func (a *Analyzer) Providers() []Provider {
	return a.providers
}

func (a *Analyzer) status(msg string) {
	a.out.Broadcast(models.EventStatusUpdate, models.StatusUpdate{Message: msg})
}

// Lookup analyses indicator. Provider failures are logged and skipped.
func (a *Analyzer) Lookup(ctx context.Context, indicator string) {
	indicator = strings.TrimSpace(indicator)
	if indicator == "" {
		return
	}
	atomic.AddUint64(&a.lookups, 1)
	logger.Info("[intel] lookup %s", indicator)

	a.status(fmt.Sprintf("BEGINNING ANALYSIS FOR %s...", indicator))
	for _, p := range a.providers {
		if ctx.Err() != nil {
			return
		}
		a.status(fmt.Sprintf("Querying %s...", p.Name()))

		ev, ok := a.query(ctx, p, indicator)
		if !ok {
			continue
		}
		a.deliver(ctx, indicator, p.Name(), ev)
	}
	a.status("Analysis complete.")
}

// query consults the cache, then the provider.
func (a *Analyzer) query(ctx context.Context, p Provider, indicator string) (models.ThreatEvent, bool) {
	if a.cache != nil {
		if ev, ok := a.cache.Get(ctx, p.Name(), indicator); ok {
			return ev, true
		}
	}

	ev, err := p.Query(ctx, indicator)
	if err != nil {
		atomic.AddUint64(&a.providerErrors, 1)
		logger.Warn("[intel] %s query for %s failed: %v", p.Name(), indicator, err)
		return models.ThreatEvent{}, false
	}
	if ev == nil {
		return models.ThreatEvent{}, false
	}
	if ev.Indicator == "" {
		ev.Indicator = indicator
	}
	a.fillLocation(ev)

	if a.cache != nil {
		a.cache.Put(ctx, p.Name(), indicator, *ev)
	}
	return *ev, true
}

// fillLocation adds coordinates from the GeoIP resolver when the provider
// gave none.
func (a *Analyzer) fillLocation(ev *models.ThreatEvent) {
	if a.geo == nil || ev.HasCoordinates() || !IsIP(ev.Indicator) {
		return
	}
	loc, ok := a.geo.Resolve(ev.Indicator)
	if !ok {
		return
	}
	ev.Latitude = models.Float(loc.Latitude)
	ev.Longitude = models.Float(loc.Longitude)
	if !models.Present(ev.Country) {
		ev.Country = loc.CountryCode
	}
	if ev.City == "" && loc.City != "" {
		ev.City = loc.City
	}
}

func (a *Analyzer) deliver(ctx context.Context, indicator, source string, ev models.ThreatEvent) {
	atomic.AddUint64(&a.results, 1)

	rec := models.ThreatRecord{
		ID:        uuid.New().String(),
		Indicator: indicator,
		Source:    source,
		Data:      ev,
		Timestamp: a.now().UTC(),
		Tags:      []string{},
	}
	if err := a.store.Save(ctx, rec); err != nil {
		logger.Error("[intel] save %s/%s: %v", source, indicator, err)
	}

	if source == "AbuseIPDB" && ev.HasCoordinates() {
		a.out.Broadcast(models.EventNewGeoThreat, ev)
	}
	a.out.Broadcast(models.EventNewThreatData, models.ThreatData{Source: source, Data: ev})

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, rec); err != nil {
			logger.Warn("[intel] publish %s: %v", indicator, err)
		}
	}
	if a.notifier != nil {
		a.notifier.Notify(source, ev)
	}
}

// HandleLookup decodes a lookup_indicator payload and runs the lookup in the
// background.
func (a *Analyzer) HandleLookup(ctx context.Context) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var req models.LookupRequest
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Debug("[intel] bad lookup payload: %v", err)
			return
		}
		if strings.TrimSpace(req.Indicator) == "" {
			return
		}
		go a.Lookup(ctx, req.Indicator)
	}
}

// HandleTag decodes an add_tag payload, stores the tag and announces it.
func (a *Analyzer) HandleTag(ctx context.Context) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var req models.TagRequest
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Debug("[intel] bad tag payload: %v", err)
			return
		}
		req.Tag = strings.TrimSpace(req.Tag)
		if req.ThreatID == "" || req.Tag == "" {
			return
		}
		if err := a.store.AddTag(ctx, req.ThreatID, req.Tag); err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				logger.Warn("[intel] tag %s: %v", req.ThreatID, err)
				return
			}
			logger.Debug("[intel] tag for unknown threat %s", req.ThreatID)
		}
		a.out.Broadcast(models.EventTagAdded, req)
	}
}

// Stats returns current statistics.
func (a *Analyzer) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"lookups":         atomic.LoadUint64(&a.lookups),
		"results":         atomic.LoadUint64(&a.results),
		"provider_errors": atomic.LoadUint64(&a.providerErrors),
	}
	if a.cache != nil {
		stats["cache"] = a.cache.Stats()
	}
	return stats
}
