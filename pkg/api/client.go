package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// Client reads dashboard data from a running server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// FetchSeries reads a {labels, data} chart endpoint.
func (c *Client) FetchSeries(ctx context.Context, path string) (models.ChartSeries, error) {
	var s models.ChartSeries
	err := c.getJSON(ctx, path, &s)
	return s, err
}

// FetchKPIs reads the header counters.
func (c *Client) FetchKPIs(ctx context.Context) (models.KPIs, error) {
	var k models.KPIs
	err := c.getJSON(ctx, PathKPIs, &k)
	return k, err
}

// FetchTopCountries reads the top countries widget.
func (c *Client) FetchTopCountries(ctx context.Context) ([]models.CountryCount, error) {
	var out []models.CountryCount
	err := c.getJSON(ctx, PathTopCountries, &out)
	return out, err
}
