// Package models defines data structures for threat indicators and dashboard state.
package models

import (
	"encoding/json"
	"time"
)

// Severity is a coarse risk bucket assigned per indicator.
type Severity string

// Severity levels
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// NotAvailable is the placeholder shown for absent fields.
const NotAvailable = "N/A"

// Normalize maps anything other than exactly high or medium to low.
// Matching is case sensitive, so "HIGH" is low.
func (s Severity) Normalize() Severity {
	switch s {
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ThreatEvent is a single indicator sighting as produced by an intel provider
// or the simulator. Optional numeric fields are nil when absent.
type ThreatEvent struct {
	Indicator      string   `json:"indicator"`
	Source         string   `json:"source,omitempty"`
	Severity       Severity `json:"severity,omitempty"`
	Country        string   `json:"country,omitempty"`
	City           string   `json:"city,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	ISP            string   `json:"isp,omitempty"`
	Owner          string   `json:"owner,omitempty"`
	Domain         string   `json:"domain,omitempty"`
	AbuseScore     *int     `json:"abuse_score,omitempty"`
	MaliciousScore *int     `json:"malicious_score,omitempty"`

	// Provider specific attributes
	SuspiciousScore *int   `json:"suspicious_score,omitempty"`
	ThreatType      string `json:"threat_type,omitempty"`
	Malware         string `json:"malware,omitempty"`
	Confidence      *int   `json:"confidence,omitempty"`
	Risk            string `json:"risk,omitempty"`
	Type            string `json:"type,omitempty"`
	Seen            string `json:"seen,omitempty"`

	// IOCs is the provider's raw evidence, passed through untouched.
	IOCs json.RawMessage `json:"iocs,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (e ThreatEvent) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// Present reports whether a string attribute carries a real value.
func Present(s string) bool {
	return s != "" && s != NotAvailable
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// SeverityCounts holds per-bucket counts for a session.
type SeverityCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Total returns high+medium+low.
func (c SeverityCounts) Total() int {
	return c.High + c.Medium + c.Low
}

// Series returns the counts in chart order: high, medium, low.
func (c SeverityCounts) Series() [3]int {
	return [3]int{c.High, c.Medium, c.Low}
}

// ThreatRecord is a persisted sighting.
type ThreatRecord struct {
	ID        string      `json:"id"`
	Indicator string      `json:"indicator"`
	Source    string      `json:"source"`
	Data      ThreatEvent `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	Tags      []string    `json:"tags"`
}

// ChartSeries is the label/value payload consumed by dashboard charts.
type ChartSeries struct {
	Labels []string `json:"labels"`
	Data   []int    `json:"data"`
}

// CountryCount is one entry of the top countries widget.
type CountryCount struct {
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// KPIs are the summary counters for the dashboard header.
type KPIs struct {
	TotalThreats     int `json:"total_threats"`
	HighSeverity     int `json:"high_severity"`
	MediumSeverity   int `json:"medium_severity"`
	UniqueIndicators int `json:"unique_indicators"`
}

// Socket event names
const (
	EventConnect         = "connect"
	EventStatusUpdate    = "status_update"
	EventNewThreatData   = "new_threat_data"
	EventNewGeoThreat    = "new_geo_threat"
	EventLookupIndicator = "lookup_indicator"
	EventAddTag          = "add_tag"
	EventTagAdded        = "tag_added"
)

// StatusUpdate is the payload of status_update.
type StatusUpdate struct {
	Message string `json:"message"`
}

// ThreatData is the payload of new_threat_data.
type ThreatData struct {
	Source string      `json:"source"`
	Data   ThreatEvent `json:"data"`
}

// LookupRequest is the payload of lookup_indicator.
type LookupRequest struct {
	Indicator string `json:"indicator"`
}

// TagRequest is the payload of add_tag and tag_added.
type TagRequest struct {
	ThreatID string `json:"threat_id"`
	Tag      string `json:"tag"`
}
