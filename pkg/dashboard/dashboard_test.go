package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScheduler_CancelAndStop(t *testing.T) {
	s := NewScheduler()
	var mu sync.Mutex
	fired := 0
	inc := func() { mu.Lock(); fired++; mu.Unlock() }

	cancelled := s.After(20*time.Millisecond, inc)
	s.After(10*time.Millisecond, inc)
	if !cancelled.Cancel() {
		t.Error("Expected Cancel to stop a pending task")
	}

	waitFor(t, time.Second, func() bool { return s.Pending() == 0 })
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	if fired != 1 {
		t.Errorf("Expected 1 fired task, got %d", fired)
	}
	mu.Unlock()

	s.After(10*time.Millisecond, inc)
	s.Stop()
	if s.Pending() != 0 {
		t.Errorf("Expected no pending tasks after Stop, got %d", s.Pending())
	}
	if task := s.After(time.Millisecond, inc); task != nil {
		t.Error("Expected nil task after Stop")
	}
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Errorf("Expected stopped tasks not to fire, got %d", fired)
	}
}

func TestStats_Reduce(t *testing.T) {
	var redraws [][3]int
	s := NewStats(func(series [3]int) { redraws = append(redraws, series) })

	events := []models.ThreatEvent{
		{Indicator: "a", Severity: models.SeverityHigh},
		{Indicator: "a", Severity: models.SeverityHigh},
		{Indicator: "b", Severity: models.SeverityMedium},
		{Indicator: "c"},
		{Indicator: "d", Severity: "bogus"},
	}
	for _, e := range events {
		s.Reduce(e)
	}

	want := models.SeverityCounts{High: 2, Medium: 1, Low: 2}
	if got := s.Counts(); got != want {
		t.Errorf("Counts() = %+v, want %+v", got, want)
	}
	if s.Counts().Total() != len(events) {
		t.Errorf("Expected total %d, got %d", len(events), s.Counts().Total())
	}
	if s.IndicatorsToday() != 5 {
		t.Errorf("Expected 5 indicators today, got %d", s.IndicatorsToday())
	}
	if s.HighSeverity() != 2 {
		t.Errorf("Expected 2 high, got %d", s.HighSeverity())
	}
	if len(redraws) != 5 || redraws[4] != [3]int{2, 1, 2} {
		t.Errorf("Unexpected redraws %v", redraws)
	}
	chart := s.Chart()
	if len(chart.Labels) != 3 || chart.Data[0] != 2 || chart.Data[2] != 2 {
		t.Errorf("Unexpected chart %+v", chart)
	}
}

func TestStats_MissingSeverityCountsLow(t *testing.T) {
	s := NewStats(nil)
	got := s.Reduce(models.ThreatEvent{})
	if got.Low != 1 || got.High != 0 || got.Medium != 0 {
		t.Errorf("Expected only low incremented, got %+v", got)
	}
}

func TestStats_WrongCaseSeverityCountsLow(t *testing.T) {
	s := NewStats(nil)
	for _, sev := range []models.Severity{"HIGH", "Medium", " high"} {
		s.Reduce(models.ThreatEvent{Severity: sev})
	}
	got := s.Counts()
	if got.Low != 3 || got.High != 0 || got.Medium != 0 {
		t.Errorf("Expected wrong-case severities in low, got %+v", got)
	}
}

func TestFeed_CapAndOrder(t *testing.T) {
	for _, limit := range []int{OperationsFeedCap, OverviewFeedCap} {
		f := NewFeed(limit, nil)
		var ids []string
		for i := 0; i < limit*3; i++ {
			row := f.Append(models.ThreatEvent{Indicator: string(rune('a' + i%26))}, "test")
			ids = append(ids, row.ID)
			if f.Len() > limit {
				t.Fatalf("Feed length %d exceeds cap %d", f.Len(), limit)
			}
		}

		rows := f.Rows()
		if len(rows) != limit {
			t.Fatalf("Expected %d rows, got %d", limit, len(rows))
		}
		for i, r := range rows {
			if want := ids[len(ids)-1-i]; r.ID != want {
				t.Fatalf("Row %d is %s, want %s (newest first)", i, r.ID, want)
			}
		}

		if _, ok := f.Lookup(ids[0]); ok {
			t.Error("Expected evicted row to be gone from the record map")
		}
		if _, ok := f.Lookup(ids[len(ids)-1]); !ok {
			t.Error("Expected newest row to be retrievable")
		}
	}
}

func TestFeed_RowText(t *testing.T) {
	f := NewFeed(OperationsFeedCap, nil)

	row := f.Append(models.ThreatEvent{Indicator: "1.2.3.4", Severity: models.SeverityHigh, Owner: "ACME", Country: "US"}, "VirusTotal")
	if row.Owner != "ACME" {
		t.Errorf("Expected owner fallback, got %q", row.Owner)
	}
	if !strings.HasSuffix(row.Country, " US") || !strings.HasPrefix(row.Country, FlagEmoji("US")) {
		t.Errorf("Unexpected country %q", row.Country)
	}

	row = f.Append(models.ThreatEvent{Indicator: "x"}, "PulseDive")
	if row.Owner != models.NotAvailable || row.Country != models.NotAvailable {
		t.Errorf("Expected N/A placeholders, got %+v", row)
	}
	if row.Severity != models.SeverityLow {
		t.Errorf("Expected low severity, got %q", row.Severity)
	}
}

func TestFeed_HighlightClears(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()
	f := NewFeed(10, sched)
	f.highlight = 20 * time.Millisecond

	row := f.Append(models.ThreatEvent{Indicator: "x"}, "test")
	if !row.Highlighted {
		t.Error("Expected new row to be highlighted")
	}
	waitFor(t, time.Second, func() bool { return !f.Rows()[0].Highlighted })
}

func TestFeed_EvictionCancelsHighlight(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()
	f := NewFeed(1, sched)
	f.highlight = time.Hour

	f.Append(models.ThreatEvent{Indicator: "a"}, "test")
	f.Append(models.ThreatEvent{Indicator: "b"}, "test")
	if sched.Pending() != 1 {
		t.Errorf("Expected evicted row's highlight to be cancelled, %d pending", sched.Pending())
	}
}

func TestMapPlotter_NoCoordinates(t *testing.T) {
	p := NewMapPlotter(Persistent, nil)
	if _, ok := p.Plot(models.ThreatEvent{Indicator: "x", Latitude: models.Float(1)}); ok {
		t.Error("Expected no marker without longitude")
	}
	if len(p.Markers()) != 0 {
		t.Error("Expected empty map")
	}
}

func TestMapPlotter_Persistent(t *testing.T) {
	p := NewMapPlotter(Persistent, nil)
	m, ok := p.Plot(models.ThreatEvent{
		Indicator:  "1.2.3.4",
		Severity:   models.SeverityHigh,
		Latitude:   models.Float(10),
		Longitude:  models.Float(20),
		AbuseScore: models.Int(97),
	})
	if !ok {
		t.Fatal("Expected marker")
	}
	if m.Color != ColorHigh {
		t.Errorf("Expected %s, got %s", ColorHigh, m.Color)
	}
	if !strings.Contains(m.Popup, "1.2.3.4") || !strings.Contains(m.Popup, "97") {
		t.Errorf("Unexpected popup %q", m.Popup)
	}

	data, err := p.GeoJSON()
	if err != nil {
		t.Fatalf("GeoJSON failed: %v", err)
	}
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("Invalid GeoJSON: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
		t.Fatalf("Unexpected collection %s", data)
	}
	if c := fc.Features[0].Geometry.Coordinates; c[0] != 20 || c[1] != 10 {
		t.Errorf("Expected [lon, lat] = [20, 10], got %v", c)
	}
}

func TestMapPlotter_Expiring(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()
	p := NewMapPlotter(Expiring, sched)
	p.ttl = 20 * time.Millisecond

	m, ok := p.Plot(models.ThreatEvent{Indicator: "x", Severity: models.SeverityMedium, Latitude: models.Float(1), Longitude: models.Float(2)})
	if !ok {
		t.Fatal("Expected marker")
	}
	if m.Color != ColorMedium || m.Popup != "" {
		t.Errorf("Unexpected marker %+v", m)
	}
	if len(p.Markers()) != 1 {
		t.Fatal("Expected marker to be live")
	}
	waitFor(t, time.Second, func() bool { return len(p.Markers()) == 0 })
}

func TestSeverityColor(t *testing.T) {
	if SeverityColor("") != ColorLow || SeverityColor(models.SeverityHigh) != ColorHigh {
		t.Error("Unexpected severity colours")
	}
	if SeverityColor(models.SeverityMedium) != ColorMedium {
		t.Error("Expected medium colour")
	}
	if got := SeverityColor("HIGH"); got != ColorLow {
		t.Errorf("SeverityColor(HIGH) = %s, want %s", got, ColorLow)
	}
}

func TestFlagEmoji(t *testing.T) {
	if got := FlagEmoji("US"); got != "\U0001F1FA\U0001F1F8" {
		t.Errorf("FlagEmoji(US) = %q", got)
	}
	if got := FlagEmoji("de"); got != "\U0001F1E9\U0001F1EA" {
		t.Errorf("FlagEmoji(de) = %q", got)
	}
	for _, in := range []string{"", "U", "USA", "N/A", "1A"} {
		if got := FlagEmoji(in); got != "" {
			t.Errorf("FlagEmoji(%q) = %q, want empty", in, got)
		}
	}
}

func TestRenderDetail_Defaults(t *testing.T) {
	d := RenderDetail(models.ThreatEvent{Indicator: "x"})

	if d.Indicator != "x" {
		t.Errorf("Unexpected indicator %q", d.Indicator)
	}
	for _, label := range []string{LabelCountry, LabelAbuseScore, LabelMaliciousVotes, LabelISPOwner, LabelDomain} {
		if got := d.Value(label); got != models.NotAvailable {
			t.Errorf("%s = %q, want N/A", label, got)
		}
	}
	if d.Value(LabelSeverity) != "LOW" {
		t.Errorf("Expected LOW severity, got %q", d.Value(LabelSeverity))
	}
}

func TestRenderDetail_Full(t *testing.T) {
	d := RenderDetail(models.ThreatEvent{
		Indicator:      "1.2.3.4",
		Severity:       models.SeverityHigh,
		Country:        "US",
		AbuseScore:     models.Int(88),
		MaliciousScore: models.Int(7),
		ISP:            "DigitalOcean",
		Owner:          "ignored",
		Domain:         "example.com",
	})

	if d.Value(LabelSeverity) != "HIGH" {
		t.Errorf("Unexpected severity %q", d.Value(LabelSeverity))
	}
	if c := d.Value(LabelCountry); !strings.HasPrefix(c, FlagEmoji("US")+" US") {
		t.Errorf("Unexpected country %q", c)
	}
	if d.Value(LabelAbuseScore) != "88" || d.Value(LabelMaliciousVotes) != "7" {
		t.Errorf("Unexpected scores %+v", d.Fields)
	}
	if d.Value(LabelISPOwner) != "DigitalOcean" || d.Value(LabelDomain) != "example.com" {
		t.Errorf("Unexpected fields %+v", d.Fields)
	}
}

func TestAnalysisTicker_Cycles(t *testing.T) {
	snippets := []string{"a", "b", "c"}
	tk := NewAnalysisTicker(snippets, nil, nil)

	for n := 1; n <= 7; n++ {
		tk.Tick()
		text, visible := tk.Text()
		if want := snippets[n%len(snippets)]; text != want {
			t.Errorf("After %d ticks text = %q, want %q", n, text, want)
		}
		if !visible {
			t.Errorf("Expected text visible after swap")
		}
	}
}

func TestAnalysisTicker_Fade(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()
	changed := make(chan string, 1)
	tk := NewAnalysisTicker(nil, sched, func(s string) { changed <- s })
	tk.fade = 10 * time.Millisecond

	tk.Tick()
	if _, visible := tk.Text(); visible {
		t.Error("Expected text faded out during transition")
	}
	select {
	case text := <-changed:
		if text != AnalysisSnippets[1] {
			t.Errorf("Expected first displayed snippet to be index 1, got %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected swap after fade")
	}
	if _, visible := tk.Text(); !visible {
		t.Error("Expected text faded in after swap")
	}
}

type recordingEmitter struct {
	events   []string
	payloads []interface{}
}

func (e *recordingEmitter) Emit(event string, payload interface{}) error {
	e.events = append(e.events, event)
	e.payloads = append(e.payloads, payload)
	return nil
}

type handlerMap map[string]func(json.RawMessage)

func (h handlerMap) On(event string, fn func(json.RawMessage)) { h[event] = fn }

func TestView_OperationsSkin(t *testing.T) {
	em := &recordingEmitter{}
	v := NewView(OperationsSkin, em)
	defer v.Close()
	handlers := handlerMap{}
	v.Register(handlers)

	handlers[models.EventConnect](nil)
	if v.Status() != "Connected" {
		t.Errorf("Unexpected status %q", v.Status())
	}
	handlers[models.EventStatusUpdate](json.RawMessage(`{"message":"Querying VirusTotal..."}`))
	if v.Status() != "Querying VirusTotal..." {
		t.Errorf("Unexpected status %q", v.Status())
	}

	handlers[models.EventNewThreatData](json.RawMessage(`{"source":"AbuseIPDB","data":{"indicator":"1.2.3.4","severity":"high","latitude":1,"longitude":2}}`))
	if v.Feed().Len() != 1 || v.Stats().HighSeverity() != 1 {
		t.Errorf("Unexpected snapshot %+v", v.Snapshot())
	}
	if len(v.Map().Markers()) != 0 {
		t.Error("Operations skin plots only new_geo_threat")
	}

	handlers[models.EventNewGeoThreat](json.RawMessage(`{"indicator":"1.2.3.4","severity":"high","latitude":1,"longitude":2,"abuse_score":99}`))
	if len(v.Map().Markers()) != 1 {
		t.Error("Expected geo threat marker")
	}

	handlers[models.EventNewThreatData](json.RawMessage(`not json`))
	if v.Feed().Len() != 1 {
		t.Error("Malformed frames must be ignored")
	}

	row := v.Feed().Rows()[0]
	d, ok := v.Select(row.ID)
	if !ok || d.Indicator != "1.2.3.4" {
		t.Fatalf("Select failed: %+v", d)
	}
	if _, ok := v.Selected(); !ok {
		t.Error("Expected open detail")
	}
	v.CloseDetail()
	if _, ok := v.Selected(); ok {
		t.Error("Expected detail closed")
	}

	if err := v.Lookup("   "); err != nil || len(em.events) != 0 {
		t.Error("Blank lookup must not emit")
	}
	if err := v.Lookup(" 8.8.8.8 "); err != nil {
		t.Fatal(err)
	}
	if len(em.events) != 1 || em.events[0] != models.EventLookupIndicator {
		t.Fatalf("Unexpected emits %v", em.events)
	}
	if req := em.payloads[0].(models.LookupRequest); req.Indicator != "8.8.8.8" {
		t.Errorf("Expected trimmed indicator, got %q", req.Indicator)
	}
}

func TestView_OverviewSkin(t *testing.T) {
	v := NewView(OverviewSkin, nil)
	defer v.Close()

	for i := 0; i < 15; i++ {
		v.HandleThreatData(models.ThreatData{Source: "sim", Data: models.ThreatEvent{Indicator: "x", Latitude: models.Float(1), Longitude: models.Float(1)}})
	}
	if v.Feed().Len() != OverviewFeedCap {
		t.Errorf("Expected feed capped at %d, got %d", OverviewFeedCap, v.Feed().Len())
	}
	if v.Stats().IndicatorsToday() != 15 {
		t.Errorf("Expected 15 reduced, got %d", v.Stats().IndicatorsToday())
	}
	if len(v.Map().Markers()) != 15 {
		t.Errorf("Expected 15 live markers, got %d", len(v.Map().Markers()))
	}

	v.HandleGeoThreat(models.ThreatEvent{Indicator: "y", Latitude: models.Float(1), Longitude: models.Float(1)})
	if len(v.Map().Markers()) != 15 {
		t.Error("Overview skin ignores new_geo_threat")
	}
}

type stubFetcher struct {
	fail map[string]bool
}

const (
	kpisKey      = "kpis"
	countriesKey = "countries"
)

func (s stubFetcher) FetchSeries(_ context.Context, path string) (models.ChartSeries, error) {
	if s.fail[path] {
		return models.ChartSeries{}, errors.New("unavailable")
	}
	return models.ChartSeries{Labels: []string{"2024-1-1"}, Data: []int{3}}, nil
}

func (s stubFetcher) FetchKPIs(context.Context) (models.KPIs, error) {
	if s.fail[kpisKey] {
		return models.KPIs{}, errors.New("unavailable")
	}
	return models.KPIs{TotalThreats: 7, HighSeverity: 2}, nil
}

func (s stubFetcher) FetchTopCountries(context.Context) ([]models.CountryCount, error) {
	if s.fail[countriesKey] {
		return nil, errors.New("unavailable")
	}
	return []models.CountryCount{{Name: "US", Count: 4, Percentage: 100}}, nil
}

func TestView_LoadCharts(t *testing.T) {
	v := NewView(OverviewSkin, nil)
	v.Start(context.Background(), stubFetcher{fail: map[string]bool{BySeverityPath: true}})
	waitFor(t, time.Second, func() bool { _, ok := v.Chart(TrendsPath); return ok })
	v.Close()

	if _, ok := v.Chart(BySeverityPath); ok {
		t.Error("Failed fetch must leave chart empty")
	}
}

func TestView_LoadSummary(t *testing.T) {
	v := NewView(OverviewSkin, nil)
	v.Start(context.Background(), stubFetcher{})
	waitFor(t, time.Second, func() bool { return len(v.TopCountries()) == 1 })
	v.Close()

	kpis, ok := v.KPIs()
	if !ok || kpis.TotalThreats != 7 || kpis.HighSeverity != 2 {
		t.Errorf("Unexpected KPIs %+v ok=%v", kpis, ok)
	}
	snap := v.Snapshot()
	if snap.KPIs == nil || snap.KPIs.TotalThreats != 7 || len(snap.TopCountries) != 1 || snap.TopCountries[0].Name != "US" {
		t.Errorf("Snapshot missing summary widgets: %+v", snap)
	}
}

func TestView_LoadSummaryFailure(t *testing.T) {
	v := NewView(OverviewSkin, nil)
	v.Start(context.Background(), stubFetcher{fail: map[string]bool{kpisKey: true}})
	waitFor(t, time.Second, func() bool { return len(v.TopCountries()) == 1 })
	v.Close()

	if _, ok := v.KPIs(); ok {
		t.Error("Failed fetch must leave KPIs unset")
	}
}

func TestView_OperationsSkipsSummary(t *testing.T) {
	v := NewView(OperationsSkin, nil)
	v.Start(context.Background(), stubFetcher{})
	v.Close()

	if _, ok := v.KPIs(); ok || len(v.TopCountries()) != 0 {
		t.Error("Operations skin does not load REST widgets")
	}
}

func TestSkinByName(t *testing.T) {
	if s, err := SkinByName("Overview"); err != nil || s.FeedCap != OverviewFeedCap {
		t.Errorf("Unexpected skin %+v err=%v", s, err)
	}
	if _, err := SkinByName("retro"); err == nil {
		t.Error("Expected error for unknown skin")
	}
}
