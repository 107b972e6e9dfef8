package dashboard

import (
	"strconv"
	"strings"

	"github.com/biter777/countries"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// regionalIndicatorOffset maps 'A' to U+1F1E6.
const regionalIndicatorOffset = 127397

// FlagEmoji returns the regional-indicator pair for a two letter country code,
// or "" for anything else.
func FlagEmoji(code string) string {
	if len(code) != 2 {
		return ""
	}
	upper := strings.ToUpper(code)
	var b strings.Builder
	for _, c := range upper {
		if c < 'A' || c > 'Z' {
			return ""
		}
		b.WriteRune(c + regionalIndicatorOffset)
	}
	return b.String()
}

// CountryLabel renders "flag code" or N/A.
func CountryLabel(code string) string {
	if !models.Present(code) {
		return models.NotAvailable
	}
	flag := FlagEmoji(code)
	if flag == "" {
		return code
	}
	return flag + " " + code
}

// CountryName returns the English name for a two letter code, or "".
func CountryName(code string) string {
	if len(code) != 2 {
		return ""
	}
	c := countries.ByName(strings.ToUpper(code))
	if c == countries.Unknown {
		return ""
	}
	return c.String()
}

// Field is one label/value line of the detail view.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Detail is the rendered modal for a single threat.
type Detail struct {
	Indicator string  `json:"indicator"`
	Fields    []Field `json:"fields"`
}

// Value returns the value of the field with the given label.
func (d Detail) Value(label string) string {
	for _, f := range d.Fields {
		if f.Label == label {
			return f.Value
		}
	}
	return ""
}

// Detail field labels
const (
	LabelSeverity       = "Severity"
	LabelCountry        = "Country"
	LabelAbuseScore     = "Abuse Score"
	LabelMaliciousVotes = "Malicious Votes (VT)"
	LabelISPOwner       = "ISP / Owner"
	LabelDomain         = "Domain"
)

// RenderDetail formats a stored threat into the fixed modal layout.
func RenderDetail(event models.ThreatEvent) Detail {
	country := CountryLabel(event.Country)
	if name := CountryName(event.Country); name != "" {
		country += " (" + name + ")"
	}

	return Detail{
		Indicator: event.Indicator,
		Fields: []Field{
			{LabelSeverity, strings.ToUpper(string(event.Severity.Normalize()))},
			{LabelCountry, country},
			{LabelAbuseScore, score(event.AbuseScore)},
			{LabelMaliciousVotes, score(event.MaliciousScore)},
			{LabelISPOwner, ispOrOwner(event)},
			{LabelDomain, orNA(event.Domain)},
		},
	}
}

// score renders N/A for missing and zero scores.
func score(v *int) string {
	if v == nil || *v == 0 {
		return models.NotAvailable
	}
	return strconv.Itoa(*v)
}

func ispOrOwner(event models.ThreatEvent) string {
	if models.Present(event.ISP) {
		return event.ISP
	}
	return orNA(event.Owner)
}

func orNA(s string) string {
	if models.Present(s) {
		return s
	}
	return models.NotAvailable
}
