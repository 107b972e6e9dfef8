package intel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

const abuseIPDBURL = "https://api.abuseipdb.com/api/v2"

// AbuseIPDB checks IP reputation. Domains are skipped.
type AbuseIPDB struct {
	BaseURL string
	key     string
	client  *http.Client
}

func NewAbuseIPDB(key string, client *http.Client) *AbuseIPDB {
	return &AbuseIPDB{BaseURL: abuseIPDBURL, key: key, client: newHTTPClient(client)}
}

func (a *AbuseIPDB) Name() string     { return "AbuseIPDB" }
func (a *AbuseIPDB) Configured() bool { return keyConfigured(a.key) }

type abuseResponse struct {
	Data *struct {
		IPAddress   string          `json:"ipAddress"`
		CountryCode string          `json:"countryCode"`
		ISP         string          `json:"isp"`
		Domain      string          `json:"domain"`
		Score       int             `json:"abuseConfidenceScore"`
		Latitude    *float64        `json:"latitude"`
		Longitude   *float64        `json:"longitude"`
		Reports     json.RawMessage `json:"reports"`
	} `json:"data"`
}

func (a *AbuseIPDB) Query(ctx context.Context, indicator string) (*models.ThreatEvent, error) {
	if !IsIP(indicator) {
		return nil, nil
	}

	q := url.Values{}
	q.Set("ipAddress", indicator)
	q.Set("maxAgeInDays", "90")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/check?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Key", a.key)

	var resp abuseResponse
	if err := doJSON(a.client, req, &resp); err != nil {
		return nil, err
	}
	return processAbuseIPDB(&resp), nil
}

func processAbuseIPDB(resp *abuseResponse) *models.ThreatEvent {
	if resp.Data == nil {
		return nil
	}
	d := resp.Data

	severity := models.SeverityLow
	switch {
	case d.Score >= 90:
		severity = models.SeverityHigh
	case d.Score >= 40:
		severity = models.SeverityMedium
	}

	return &models.ThreatEvent{
		Indicator:  d.IPAddress,
		Severity:   severity,
		Country:    orNA(d.CountryCode),
		ISP:        orNA(d.ISP),
		Domain:     orNA(d.Domain),
		AbuseScore: models.Int(d.Score),
		Latitude:   d.Latitude,
		Longitude:  d.Longitude,
		IOCs:       d.Reports,
	}
}
