// Package geo resolves IP indicators to a country and map coordinates.
package geo

import (
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/maxminddb-golang"

	"github.com/hervehildenbrand/cti-radar/pkg/logger"
)

// Location is the geographic position of an IP.
type Location struct {
	CountryCode string
	City        string
	Latitude    float64
	Longitude   float64
}

// Resolver provides IP-to-location lookups.
type Resolver interface {
	// Resolve returns the location of ip, or false if unknown.
	Resolve(ip string) (Location, bool)
	// Close releases any underlying resources.
	Close() error
}

// NullResolver knows no locations.
// Use this when no GeoIP data is available.
type NullResolver struct{}

// NewNullResolver creates a new null resolver.
func NewNullResolver() *NullResolver {
	return &NullResolver{}
}

func (r *NullResolver) Resolve(string) (Location, bool) { return Location{}, false }
func (r *NullResolver) Close() error                    { return nil }

// cityRecord is the subset of a GeoLite2/GeoIP2 City record we read.
type cityRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// MMDBResolver reads a MaxMind City database.
type MMDBResolver struct {
	path   string
	reader *maxminddb.Reader
}

// NewMMDBResolver opens the database at path.
func NewMMDBResolver(path string) (*MMDBResolver, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	logger.Info("[geo] loaded %s (%s)", path, reader.Metadata.DatabaseType)
	return &MMDBResolver{path: path, reader: reader}, nil
}

// Resolve looks up ip. Records without coordinates count as unknown.
func (r *MMDBResolver) Resolve(ip string) (Location, bool) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return Location{}, false
	}

	var rec cityRecord
	if err := r.reader.Lookup(parsed, &rec); err != nil {
		logger.Debug("[geo] lookup %s: %v", ip, err)
		return Location{}, false
	}
	if rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return Location{}, false
	}
	return Location{
		CountryCode: strings.ToUpper(rec.Country.ISOCode),
		City:        rec.City.Names["en"],
		Latitude:    rec.Location.Latitude,
		Longitude:   rec.Location.Longitude,
	}, true
}

// Close closes the database.
func (r *MMDBResolver) Close() error {
	return r.reader.Close()
}

// StaticResolver serves fixed locations, mainly for tests and demos.
type StaticResolver map[string]Location

func (r StaticResolver) Resolve(ip string) (Location, bool) {
	loc, ok := r[strings.TrimSpace(ip)]
	return loc, ok
}

func (r StaticResolver) Close() error { return nil }
