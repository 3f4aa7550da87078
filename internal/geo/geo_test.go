package geo

import (
	"math"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := Haversine(28.61, 77.20, 28.61, 77.20); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one thousandth of a degree near Delhi is roughly 148m
	d := Haversine(28.61, 77.20, 28.611, 77.201)
	if d < 140 || d > 160 {
		t.Fatalf("expected ~148m, got %f", d)
	}
}

func TestUpsertDiscardsStaleUpdate(t *testing.T) {
	g := NewMemIndex()
	now := time.Now()

	if applied, err := g.Upsert(models.DriverPosition{DriverID: "d1", Lat: 1, Lng: 2, UpdatedAt: now}); err != nil || !applied {
		t.Fatalf("first upsert should apply, got applied=%v err=%v", applied, err)
	}
	applied, err := g.Upsert(models.DriverPosition{DriverID: "d1", Lat: 9, Lng: 9, UpdatedAt: now.Add(-time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("stale upsert should be discarded")
	}
	p, ok := g.Position("d1")
	if !ok || p.Lat != 1 || p.Lng != 2 {
		t.Fatalf("stored position changed: %+v", p)
	}
	// same timestamp is not stale
	if applied, err := g.Upsert(models.DriverPosition{DriverID: "d1", Lat: 3, Lng: 4, UpdatedAt: now}); err != nil || !applied {
		t.Fatalf("equal-timestamp upsert should apply, got applied=%v err=%v", applied, err)
	}
}

func TestQueryRadiusAndOrdering(t *testing.T) {
	g := NewMemIndex()
	now := time.Now()
	g.Upsert(models.DriverPosition{DriverID: "near", Lat: 28.611, Lng: 77.201, UpdatedAt: now})
	g.Upsert(models.DriverPosition{DriverID: "nearer", Lat: 28.6101, Lng: 77.2001, UpdatedAt: now})
	g.Upsert(models.DriverPosition{DriverID: "far", Lat: 28.9, Lng: 77.9, UpdatedAt: now})

	got := g.Query(28.61, 77.20, 5000)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].DriverID != "nearer" || got[1].DriverID != "near" {
		t.Fatalf("wrong ordering: %s, %s", got[0].DriverID, got[1].DriverID)
	}
	if got[0].DistanceMeters > got[1].DistanceMeters {
		t.Fatal("distances not ascending")
	}
}

func TestQueryBoundaryInclusive(t *testing.T) {
	g := NewMemIndex()
	g.Upsert(models.DriverPosition{DriverID: "edge", Lat: 28.611, Lng: 77.201, UpdatedAt: time.Now()})

	d := Haversine(28.61, 77.20, 28.611, 77.201)
	got := g.Query(28.61, 77.20, d)
	if len(got) != 1 {
		t.Fatalf("driver exactly at radius should be included, got %d", len(got))
	}
	if got := g.Query(28.61, 77.20, math.Nextafter(d, 0)); len(got) != 0 {
		t.Fatalf("driver just outside radius should be excluded, got %d", len(got))
	}
}
