package geo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNullResolver(t *testing.T) {
	r := NewNullResolver()
	if _, ok := r.Resolve("1.1.1.1"); ok {
		t.Error("NullResolver.Resolve() should not find anything")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"1.1.1.1": {CountryCode: "AU", Latitude: -33.8, Longitude: 151.2}}

	loc, ok := r.Resolve(" 1.1.1.1 ")
	if !ok || loc.CountryCode != "AU" {
		t.Errorf("Unexpected location %+v ok=%v", loc, ok)
	}
	if _, ok := r.Resolve("8.8.8.8"); ok {
		t.Error("Expected unknown IP")
	}
}

func TestMMDBResolver_InvalidFile(t *testing.T) {
	if _, err := NewMMDBResolver("/nonexistent/GeoLite2-City.mmdb"); err == nil {
		t.Error("Expected error for nonexistent file")
	}

	path := filepath.Join(t.TempDir(), "broken.mmdb")
	if err := os.WriteFile(path, []byte("not a database"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMMDBResolver(path); err == nil {
		t.Error("Expected error for corrupt database")
	}
}

func TestResolverInterface(t *testing.T) {
	var _ Resolver = (*NullResolver)(nil)
	var _ Resolver = (*MMDBResolver)(nil)
	var _ Resolver = StaticResolver(nil)
}
