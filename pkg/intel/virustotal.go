package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

const virusTotalURL = "https://www.virustotal.com/api/v3"

// VirusTotal queries the v3 ip_addresses and domains endpoints.
type VirusTotal struct {
	BaseURL string
	key     string
	client  *http.Client
}

func NewVirusTotal(key string, client *http.Client) *VirusTotal {
	return &VirusTotal{BaseURL: virusTotalURL, key: key, client: newHTTPClient(client)}
}

func (v *VirusTotal) Name() string     { return "VirusTotal" }
func (v *VirusTotal) Configured() bool { return keyConfigured(v.key) }

type vtResponse struct {
	Data *struct {
		Attributes *struct {
			ASOwner       string `json:"as_owner"`
			Country       string `json:"country"`
			AnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
			} `json:"last_analysis_stats"`
			AnalysisResults json.RawMessage `json:"last_analysis_results"`
		} `json:"attributes"`
	} `json:"data"`
}

func (v *VirusTotal) Query(ctx context.Context, indicator string) (*models.ThreatEvent, error) {
	kind := "domains"
	if IsIP(indicator) {
		kind = "ip_addresses"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/%s", v.BaseURL, kind, url.PathEscape(indicator)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", v.key)

	var resp vtResponse
	if err := doJSON(v.client, req, &resp); err != nil {
		return nil, err
	}
	return processVirusTotal(&resp, indicator), nil
}

func processVirusTotal(resp *vtResponse, indicator string) *models.ThreatEvent {
	if resp.Data == nil || resp.Data.Attributes == nil {
		return nil
	}
	attrs := resp.Data.Attributes
	malicious := attrs.AnalysisStats.Malicious

	severity := models.SeverityLow
	switch {
	case malicious > 5:
		severity = models.SeverityHigh
	case malicious > 0:
		severity = models.SeverityMedium
	}

	return &models.ThreatEvent{
		Indicator:       indicator,
		Severity:        severity,
		Owner:           orNA(attrs.ASOwner),
		Country:         orNA(attrs.Country),
		MaliciousScore:  models.Int(malicious),
		SuspiciousScore: models.Int(attrs.AnalysisStats.Suspicious),
		IOCs:            attrs.AnalysisResults,
	}
}
