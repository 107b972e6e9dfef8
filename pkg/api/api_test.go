package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hervehildenbrand/cti-radar/pkg/dashboard"
	"github.com/hervehildenbrand/cti-radar/pkg/database"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

func seededStore(t *testing.T) *database.MemoryStore {
	t.Helper()
	s := database.NewMemoryStore()
	d1 := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC)
	rec := func(ind, src string, sev models.Severity, country string, ts time.Time) models.ThreatRecord {
		return models.ThreatRecord{
			Indicator: ind, Source: src, Timestamp: ts,
			Data: models.ThreatEvent{Indicator: ind, Severity: sev, Country: country},
		}
	}
	err := s.Insert(context.Background(), []models.ThreatRecord{
		rec("1.1.1.1", "VirusTotal", models.SeverityHigh, "US", d1),
		rec("2.2.2.2", "VirusTotal", models.SeverityLow, "US", d1),
		rec("3.3.3.3", "AbuseIPDB", models.SeverityLow, "RU", d2),
		rec("4.4.4.4", "ThreatFox", models.SeverityMedium, "N/A", d2),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func get(t *testing.T, h http.Handler, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, w.Body.String())
		}
	}
	return w
}

func TestTrendSeries(t *testing.T) {
	s := TrendSeries([]database.DayCount{
		{Day: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), Count: 2},
		{Day: time.Date(2024, 11, 12, 0, 0, 0, 0, time.UTC), Count: 7},
	})
	if len(s.Labels) != 2 || s.Labels[0] != "2024-3-5" || s.Labels[1] != "2024-11-12" || s.Data[1] != 7 {
		t.Errorf("Unexpected series %+v", s)
	}
}

func TestCapitalize(t *testing.T) {
	tests := map[string]string{"high": "High", "MEDIUM": "Medium", "": "", "l": "L"}
	for in, want := range tests {
		if got := Capitalize(in); got != want {
			t.Errorf("Capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCountryWidget(t *testing.T) {
	got := CountryWidget([]database.Bucket{{Key: "US", Count: 3}, {Key: "RU", Count: 2}, {Key: "CN", Count: 1}})
	want := []int{100, 66, 33}
	for i, c := range got {
		if c.Percentage != want[i] {
			t.Errorf("%s: percentage %d, want %d", c.Name, c.Percentage, want[i])
		}
	}
	if len(CountryWidget(nil)) != 0 {
		t.Error("Expected empty widget")
	}
}

func TestServer_Charts(t *testing.T) {
	h := NewServer(seededStore(t), nil, nil).Handler()

	var trends models.ChartSeries
	get(t, h, PathTrends, &trends)
	if len(trends.Labels) != 2 || trends.Labels[0] != "2024-3-5" || trends.Data[0] != 2 {
		t.Errorf("Unexpected trends %+v", trends)
	}

	var sev models.ChartSeries
	get(t, h, PathBySeverity, &sev)
	if len(sev.Labels) != 3 || sev.Labels[0] != "Low" || sev.Data[0] != 2 {
		t.Errorf("Unexpected severity series %+v", sev)
	}

	var src models.ChartSeries
	get(t, h, PathBySource, &src)
	if len(src.Labels) != 3 || src.Labels[0] != "VirusTotal" {
		t.Errorf("Unexpected source series %+v", src)
	}

	var kpis models.KPIs
	get(t, h, PathKPIs, &kpis)
	if kpis.TotalThreats != 4 || kpis.HighSeverity != 1 || kpis.MediumSeverity != 1 || kpis.UniqueIndicators != 4 {
		t.Errorf("Unexpected KPIs %+v", kpis)
	}

	var countries []models.CountryCount
	get(t, h, PathTopCountries, &countries)
	if len(countries) != 2 || countries[0].Name != "US" || countries[0].Percentage != 100 || countries[1].Percentage != 50 {
		t.Errorf("Unexpected countries %+v", countries)
	}

	var recent struct {
		Items []models.ThreatRecord `json:"items"`
	}
	get(t, h, PathRecent+"?limit=1", &recent)
	if len(recent.Items) != 1 {
		t.Errorf("Expected 1 recent item, got %d", len(recent.Items))
	}

	var health map[string]any
	if w := get(t, h, PathHealth, &health); w.Code != http.StatusOK || health["ok"] != true {
		t.Errorf("Unexpected health %d %v", w.Code, health)
	}
}

func TestServer_Export(t *testing.T) {
	store := seededStore(t)
	store.AddTag(context.Background(), firstID(t, store), "apt")
	h := NewServer(store, nil, nil).Handler()

	w := get(t, h, PathExport, nil)
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != "attachment;filename=threat_data.csv" {
		t.Errorf("Unexpected disposition %s", cd)
	}

	rows, err := csv.NewReader(bytes.NewReader(w.Body.Bytes())).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 || rows[0][0] != "Indicator" || rows[0][4] != "Tags" {
		t.Fatalf("Unexpected rows %v", rows)
	}
	if rows[1][2] != "2024-03-05 10:00:00" {
		t.Errorf("Unexpected timestamp %q", rows[1][2])
	}
	var data models.ThreatEvent
	if err := json.Unmarshal([]byte(rows[1][3]), &data); err != nil || data.Indicator != rows[1][0] {
		t.Errorf("Data column is not the JSON event: %q", rows[1][3])
	}
	tagged := false
	for _, row := range rows[1:] {
		if row[4] == "apt" {
			tagged = true
		}
	}
	if !tagged {
		t.Error("Expected tag column")
	}
}

func firstID(t *testing.T, s *database.MemoryStore) string {
	recs, err := s.Recent(context.Background(), 1)
	if err != nil || len(recs) == 0 {
		t.Fatal("no records")
	}
	return recs[0].ID
}

func TestServer_Clear(t *testing.T) {
	store := seededStore(t)
	h := NewServer(store, nil, nil).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, PathClear, nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, PathClear, nil))
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "success" || body["message"] != "Successfully deleted 4 records from the database." {
		t.Errorf("Unexpected body %v", body)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("Expected empty store, got %d", n)
	}
}

func TestServer_SettingsAndSocket(t *testing.T) {
	socket := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := NewServer(database.NewMemoryStore(), socket, map[string]string{"VirusTotal": "Missing"}).Handler()

	var settings struct {
		APIStatus map[string]string `json:"api_status"`
	}
	get(t, h, PathSettings, &settings)
	if settings.APIStatus["VirusTotal"] != "Missing" {
		t.Errorf("Unexpected settings %+v", settings)
	}

	if w := get(t, h, PathSocket, nil); w.Code != http.StatusTeapot {
		t.Errorf("Expected socket handler, got %d", w.Code)
	}
}

func TestClientIsChartFetcher(t *testing.T) {
	var _ dashboard.ChartFetcher = (*Client)(nil)
}

func TestClient(t *testing.T) {
	srv := httptest.NewServer(NewServer(seededStore(t), nil, nil).Handler())
	defer srv.Close()

	c := NewClient(srv.URL+"/", srv.Client())
	ctx := context.Background()

	s, err := c.FetchSeries(ctx, PathBySeverity)
	if err != nil || len(s.Labels) != 3 {
		t.Errorf("FetchSeries() = %+v, %v", s, err)
	}
	k, err := c.FetchKPIs(ctx)
	if err != nil || k.TotalThreats != 4 {
		t.Errorf("FetchKPIs() = %+v, %v", k, err)
	}
	countries, err := c.FetchTopCountries(ctx)
	if err != nil || len(countries) != 2 {
		t.Errorf("FetchTopCountries() = %+v, %v", countries, err)
	}
	if _, err := c.FetchSeries(ctx, "/missing"); err == nil {
		t.Error("Expected error for 404")
	}
}
