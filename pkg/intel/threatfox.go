package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

const threatFoxURL = "https://threatfox-api.abuse.ch/api/v1/"

// ThreatFox searches the abuse.ch IOC database.
type ThreatFox struct {
	BaseURL string
	key     string
	client  *http.Client
}

func NewThreatFox(key string, client *http.Client) *ThreatFox {
	return &ThreatFox{BaseURL: threatFoxURL, key: key, client: newHTTPClient(client)}
}

func (t *ThreatFox) Name() string     { return "ThreatFox" }
func (t *ThreatFox) Configured() bool { return keyConfigured(t.key) }

type threatFoxIOC struct {
	IOC        string `json:"ioc"`
	ThreatType string `json:"threat_type"`
	Malware    string `json:"malware_printable"`
	Confidence int    `json:"confidence_level"`
}

// threatFoxResponse carries either a list of IOCs or a status string in data.
type threatFoxResponse struct {
	QueryStatus string          `json:"query_status"`
	Data        json.RawMessage `json:"data"`
}

func (t *ThreatFox) Query(ctx context.Context, indicator string) (*models.ThreatEvent, error) {
	body, err := json.Marshal(map[string]string{
		"query":       "search_ioc",
		"search_term": indicator,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-KEY", t.key)

	var resp threatFoxResponse
	if err := doJSON(t.client, req, &resp); err != nil {
		return nil, err
	}
	return processThreatFox(&resp), nil
}

// processThreatFox maps the first matching IOC.
func processThreatFox(resp *threatFoxResponse) *models.ThreatEvent {
	var iocs []json.RawMessage
	if len(resp.Data) == 0 || json.Unmarshal(resp.Data, &iocs) != nil || len(iocs) == 0 {
		return nil
	}
	var first threatFoxIOC
	if err := json.Unmarshal(iocs[0], &first); err != nil {
		return nil
	}

	severity := models.SeverityLow
	switch {
	case first.Confidence > 75:
		severity = models.SeverityHigh
	case first.Confidence > 25:
		severity = models.SeverityMedium
	}

	raw, _ := json.Marshal([]json.RawMessage{iocs[0]})
	return &models.ThreatEvent{
		Indicator:  first.IOC,
		Severity:   severity,
		ThreatType: first.ThreatType,
		Malware:    first.Malware,
		Confidence: models.Int(first.Confidence),
		IOCs:       raw,
	}
}
