package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// REST chart endpoints
const (
	TrendsPath     = "/api/threat_trends"
	BySeverityPath = "/api/dashboard/threats_by_severity"
)

// Skin selects caps and presentation policies for one dashboard variant.
type Skin struct {
	Name    string
	FeedCap int
	Markers MarkerPolicy
	// GeoFromThreatData plots coordinates carried by new_threat_data;
	// otherwise only new_geo_threat reaches the map.
	GeoFromThreatData bool
	// Charts loads the trend and severity charts, the header KPIs and the
	// top countries widget over REST on start.
	Charts bool
	// Ticker runs the rotating analysis widget.
	Ticker bool
}

// Dashboard skins
var (
	OperationsSkin = Skin{Name: "operations", FeedCap: OperationsFeedCap, Markers: Persistent, Ticker: true}
	OverviewSkin   = Skin{Name: "overview", FeedCap: OverviewFeedCap, Markers: Expiring, GeoFromThreatData: true, Charts: true}
)

// SkinByName resolves a configured skin name.
func SkinByName(name string) (Skin, error) {
	switch strings.ToLower(name) {
	case OperationsSkin.Name:
		return OperationsSkin, nil
	case OverviewSkin.Name:
		return OverviewSkin, nil
	default:
		return Skin{}, fmt.Errorf("unknown dashboard skin %q", name)
	}
}

// Emitter sends an event over the push channel.
type Emitter interface {
	Emit(event string, payload interface{}) error
}

// Dispatcher registers handlers for inbound push events.
type Dispatcher interface {
	On(event string, fn func(data json.RawMessage))
}

// ChartFetcher reads chart series and summary widgets over REST.
type ChartFetcher interface {
	FetchSeries(ctx context.Context, path string) (models.ChartSeries, error)
	FetchKPIs(ctx context.Context) (models.KPIs, error)
	FetchTopCountries(ctx context.Context) ([]models.CountryCount, error)
}

// View is the session state of one dashboard skin.
type View struct {
	skin    Skin
	sched   *Scheduler
	stats   *Stats
	feed    *Feed
	plotter *MapPlotter
	ticker  *AnalysisTicker
	emitter Emitter

	mu        sync.RWMutex
	status    string
	charts    map[string]models.ChartSeries
	kpis      *models.KPIs
	countries []models.CountryCount
	selected  *Detail

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewView creates the state for skin. emitter may be nil for a read-only view.
func NewView(skin Skin, emitter Emitter) *View {
	sched := NewScheduler()
	v := &View{
		skin:    skin,
		sched:   sched,
		feed:    NewFeed(skin.FeedCap, sched),
		plotter: NewMapPlotter(skin.Markers, sched),
		emitter: emitter,
		charts:  make(map[string]models.ChartSeries),
	}
	v.stats = NewStats(func(series [3]int) {
		logger.Debug("[dashboard] severity chart redraw high=%d medium=%d low=%d", series[0], series[1], series[2])
	})
	if skin.Ticker {
		v.ticker = NewAnalysisTicker(AnalysisSnippets, sched, func(text string) {
			logger.Debug("[dashboard] analysis: %s", text)
		})
	}
	return v
}

// Skin returns the view's skin.
func (v *View) Skin() Skin { return v.skin }

// Stats returns the severity reducer.
func (v *View) Stats() *Stats { return v.stats }

// Feed returns the live feed.
func (v *View) Feed() *Feed { return v.feed }

// Map returns the map plotter.
func (v *View) Map() *MapPlotter { return v.plotter }

// Ticker returns the analysis ticker, nil when the skin has none.
func (v *View) Ticker() *AnalysisTicker { return v.ticker }

// Register wires the view's handlers into d.
func (v *View) Register(d Dispatcher) {
	d.On(models.EventConnect, func(json.RawMessage) { v.HandleConnect() })
	d.On(models.EventStatusUpdate, func(data json.RawMessage) {
		var msg models.StatusUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("[dashboard] bad status_update: %v", err)
			return
		}
		v.HandleStatus(msg)
	})
	d.On(models.EventNewThreatData, func(data json.RawMessage) {
		var msg models.ThreatData
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("[dashboard] bad new_threat_data: %v", err)
			return
		}
		v.HandleThreatData(msg)
	})
	d.On(models.EventNewGeoThreat, func(data json.RawMessage) {
		var threat models.ThreatEvent
		if err := json.Unmarshal(data, &threat); err != nil {
			logger.Debug("[dashboard] bad new_geo_threat: %v", err)
			return
		}
		v.HandleGeoThreat(threat)
	})
}

// HandleConnect marks the channel as connected.
func (v *View) HandleConnect() {
	v.setStatus("Connected")
}

// HandleStatus shows a backend status message.
func (v *View) HandleStatus(msg models.StatusUpdate) {
	v.setStatus(msg.Message)
}

// HandleThreatData appends to the feed, reduces stats and, for skins that plot
// from the feed, adds a map marker.
func (v *View) HandleThreatData(msg models.ThreatData) Row {
	row := v.feed.Append(msg.Data, msg.Source)
	v.stats.Reduce(msg.Data)
	if v.skin.GeoFromThreatData {
		v.plotter.Plot(msg.Data)
	}
	return row
}

// HandleGeoThreat plots a map-only event.
func (v *View) HandleGeoThreat(threat models.ThreatEvent) {
	if v.skin.GeoFromThreatData {
		return
	}
	v.plotter.Plot(threat)
}

// Select renders the detail view for a feed row.
func (v *View) Select(rowID string) (Detail, bool) {
	event, ok := v.feed.Lookup(rowID)
	if !ok {
		return Detail{}, false
	}
	d := RenderDetail(event)
	v.mu.Lock()
	v.selected = &d
	v.mu.Unlock()
	return d, true
}

// CloseDetail dismisses the detail view.
func (v *View) CloseDetail() {
	v.mu.Lock()
	v.selected = nil
	v.mu.Unlock()
}

// Selected returns the open detail view, if any.
func (v *View) Selected() (Detail, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.selected == nil {
		return Detail{}, false
	}
	return *v.selected, true
}

// Lookup requests analysis of an indicator. Blank input is ignored.
func (v *View) Lookup(indicator string) error {
	indicator = strings.TrimSpace(indicator)
	if indicator == "" || v.emitter == nil {
		return nil
	}
	return v.emitter.Emit(models.EventLookupIndicator, models.LookupRequest{Indicator: indicator})
}

// Status returns the status bar text.
func (v *View) Status() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.status
}

func (v *View) setStatus(s string) {
	v.mu.Lock()
	v.status = s
	v.mu.Unlock()
}

// Start launches the skin's background widgets: chart loading and the ticker.
func (v *View) Start(ctx context.Context, fetcher ChartFetcher) {
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel

	if v.skin.Charts && fetcher != nil {
		for _, path := range []string{TrendsPath, BySeverityPath} {
			v.wg.Add(1)
			go func(path string) {
				defer v.wg.Done()
				v.loadChart(ctx, fetcher, path)
			}(path)
		}
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			v.loadSummary(ctx, fetcher)
		}()
	}
	if v.ticker != nil {
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			v.ticker.Run(ctx, AnalysisInterval)
		}()
	}
}

// loadChart fetches once; a failure leaves the chart empty.
func (v *View) loadChart(ctx context.Context, fetcher ChartFetcher, path string) {
	series, err := fetcher.FetchSeries(ctx, path)
	if err != nil {
		logger.Debug("[dashboard] chart %s not loaded: %v", path, err)
		return
	}
	v.mu.Lock()
	v.charts[path] = series
	v.mu.Unlock()
}

// loadSummary fetches the header KPIs and top countries once each.
func (v *View) loadSummary(ctx context.Context, fetcher ChartFetcher) {
	if kpis, err := fetcher.FetchKPIs(ctx); err != nil {
		logger.Debug("[dashboard] kpis not loaded: %v", err)
	} else {
		v.mu.Lock()
		v.kpis = &kpis
		v.mu.Unlock()
	}

	countries, err := fetcher.FetchTopCountries(ctx)
	if err != nil {
		logger.Debug("[dashboard] top countries not loaded: %v", err)
		return
	}
	v.mu.Lock()
	v.countries = countries
	v.mu.Unlock()
}

// KPIs returns the REST-loaded header counters.
func (v *View) KPIs() (models.KPIs, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.kpis == nil {
		return models.KPIs{}, false
	}
	return *v.kpis, true
}

// TopCountries returns the REST-loaded top countries widget.
func (v *View) TopCountries() []models.CountryCount {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]models.CountryCount(nil), v.countries...)
}

// Chart returns a REST-loaded chart by endpoint path.
func (v *View) Chart(path string) (models.ChartSeries, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.charts[path]
	return s, ok
}

// Close stops background widgets and cancels every pending timer.
func (v *View) Close() {
	if v.cancel != nil {
		v.cancel()
	}
	v.wg.Wait()
	v.sched.Stop()
}

// Snapshot is a point-in-time summary of the view.
type Snapshot struct {
	Skin            string                `json:"skin"`
	Status          string                `json:"status"`
	IndicatorsToday int                   `json:"indicators_today"`
	HighSeverity    int                   `json:"high_severity"`
	Counts          models.SeverityCounts `json:"counts"`
	FeedLen         int                   `json:"feed_len"`
	Markers         int                   `json:"markers"`
	Analysis        string                `json:"analysis,omitempty"`
	KPIs            *models.KPIs          `json:"kpis,omitempty"`
	TopCountries    []models.CountryCount `json:"top_countries,omitempty"`
}

// Snapshot summarises the view for logging.
func (v *View) Snapshot() Snapshot {
	s := Snapshot{
		Skin:            v.skin.Name,
		Status:          v.Status(),
		IndicatorsToday: v.stats.IndicatorsToday(),
		HighSeverity:    v.stats.HighSeverity(),
		Counts:          v.stats.Counts(),
		FeedLen:         v.feed.Len(),
		Markers:         len(v.plotter.Markers()),
	}
	if v.ticker != nil {
		s.Analysis, _ = v.ticker.Text()
	}
	if kpis, ok := v.KPIs(); ok {
		s.KPIs = &kpis
	}
	s.TopCountries = v.TopCountries()
	return s
}
