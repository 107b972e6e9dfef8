package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hervehildenbrand/cti-radar/pkg/database"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

const (
	// ExportTimeLayout formats timestamps in the CSV export.
	ExportTimeLayout = "2006-01-02 15:04:05"
	exportFilename   = "threat_data.csv"
)

// TrendSeries labels each day as year-month-day without zero padding.
func TrendSeries(days []database.DayCount) models.ChartSeries {
	s := models.ChartSeries{Labels: make([]string, 0, len(days)), Data: make([]int, 0, len(days))}
	for _, d := range days {
		s.Labels = append(s.Labels, fmt.Sprintf("%d-%d-%d", d.Day.Year(), int(d.Day.Month()), d.Day.Day()))
		s.Data = append(s.Data, d.Count)
	}
	return s
}

// BucketSeries turns buckets into a chart series, optionally relabelled.
func BucketSeries(buckets []database.Bucket, label func(string) string) models.ChartSeries {
	s := models.ChartSeries{Labels: make([]string, 0, len(buckets)), Data: make([]int, 0, len(buckets))}
	for _, b := range buckets {
		if b.Key == "" {
			continue
		}
		key := b.Key
		if label != nil {
			key = label(key)
		}
		s.Labels = append(s.Labels, key)
		s.Data = append(s.Data, b.Count)
	}
	return s
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// CountryWidget scales each count as a percentage of the largest.
func CountryWidget(buckets []database.Bucket) []models.CountryCount {
	maxCount := 0
	for _, b := range buckets {
		if b.Count > maxCount {
			maxCount = b.Count
		}
	}
	out := make([]models.CountryCount, 0, len(buckets))
	for _, b := range buckets {
		pct := 0
		if maxCount > 0 {
			pct = b.Count * 100 / maxCount
		}
		out = append(out, models.CountryCount{Name: b.Key, Count: b.Count, Percentage: pct})
	}
	return out
}

// WriteCSV writes the export with one row per record.
func WriteCSV(w io.Writer, records []models.ThreatRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Indicator", "Source", "Timestamp", "Data", "Tags"}); err != nil {
		return err
	}
	for _, rec := range records {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", rec.ID, err)
		}
		row := []string{
			rec.Indicator,
			rec.Source,
			rec.Timestamp.UTC().Format(ExportTimeLayout),
			string(data),
			strings.Join(rec.Tags, ", "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
