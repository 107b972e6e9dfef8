package intel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

const pulseDiveURL = "https://pulsedive.com/api"

// PulseDive fetches indicator info and risk.
type PulseDive struct {
	BaseURL string
	key     string
	client  *http.Client
}

func NewPulseDive(key string, client *http.Client) *PulseDive {
	return &PulseDive{BaseURL: pulseDiveURL, key: key, client: newHTTPClient(client)}
}

func (p *PulseDive) Name() string     { return "PulseDive" }
func (p *PulseDive) Configured() bool { return keyConfigured(p.key) }

type pulseDiveResponse struct {
	Indicator  string          `json:"indicator"`
	Risk       string          `json:"risk"`
	Type       string          `json:"type"`
	Seen       string          `json:"seen"`
	Attributes json.RawMessage `json:"attributes"`
}

func (p *PulseDive) Query(ctx context.Context, indicator string) (*models.ThreatEvent, error) {
	q := url.Values{}
	q.Set("indicator", indicator)
	q.Set("key", p.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/info.php?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp pulseDiveResponse
	if err := doJSON(p.client, req, &resp); err != nil {
		return nil, err
	}
	return processPulseDive(&resp), nil
}

func processPulseDive(resp *pulseDiveResponse) *models.ThreatEvent {
	if resp.Indicator == "" {
		return nil
	}
	risk := strings.ToLower(resp.Risk)
	if risk == "" {
		risk = "low"
	}

	severity := models.SeverityLow
	switch risk {
	case "high", "critical":
		severity = models.SeverityHigh
	case "medium":
		severity = models.SeverityMedium
	}

	return &models.ThreatEvent{
		Indicator: resp.Indicator,
		Severity:  severity,
		Risk:      risk,
		Type:      resp.Type,
		Seen:      resp.Seen,
		IOCs:      resp.Attributes,
	}
}
