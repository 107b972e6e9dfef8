// Package intel queries threat intelligence providers and fans the results out
// to the store, the dashboards and the optional sinks.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// DefaultTimeout bounds every provider request.
const DefaultTimeout = 10 * time.Second

// Provider looks up a single indicator.
type Provider interface {
	// Name is the source label attached to results, e.g. "VirusTotal".
	Name() string
	// Configured reports whether an API key is set.
	Configured() bool
	// Query returns nil without error when the provider has nothing on the
	// indicator or does not handle its type.
	Query(ctx context.Context, indicator string) (*models.ThreatEvent, error)
}

// IsIP reports whether indicator is an IP address rather than a domain.
func IsIP(indicator string) bool {
	return net.ParseIP(strings.TrimSpace(indicator)) != nil
}

// keyConfigured treats empty keys and "YOUR_..." placeholders as missing.
func keyConfigured(key string) bool {
	return key != "" && !strings.Contains(strings.ToUpper(key), "YOUR")
}

// KeyStatus maps each provider to "Configured" or "Missing".
func KeyStatus(providers []Provider) map[string]string {
	out := make(map[string]string, len(providers))
	for _, p := range providers {
		if p.Configured() {
			out[p.Name()] = "Configured"
		} else {
			out[p.Name()] = "Missing"
		}
	}
	return out
}

func newHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// doJSON sends req and decodes a 2xx JSON body into out.
func doJSON(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// orNA substitutes the placeholder for empty provider strings.
func orNA(s string) string {
	if s == "" {
		return models.NotAvailable
	}
	return s
}
