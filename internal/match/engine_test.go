package match

import (
	"testing"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// fakeIndex returns drivers only at or beyond a minimum query radius.
type fakeIndex struct {
	minRadius float64
	drivers   []geo.Candidate
	queries   []float64
}

func (f *fakeIndex) Query(lat, lng, radiusMeters float64) []geo.Candidate {
	f.queries = append(f.queries, radiusMeters)
	if radiusMeters >= f.minRadius {
		return f.drivers
	}
	return nil
}

func testRide() *models.Ride {
	return &models.Ride{
		ID:      "ride-1",
		RiderID: "r1",
		Pickup:  models.Location{Lat: 28.61, Lng: 77.20},
		Status:  models.StatusPending,
	}
}

func TestFindCandidatesFirstRadius(t *testing.T) {
	idx := &fakeIndex{minRadius: 0, drivers: []geo.Candidate{
		{DriverID: "d1", Lat: 28.611, Lng: 77.201, DistanceMeters: 148},
	}}
	e := &Engine{Index: idx, RadiusMeters: 5000, MaxRadiusMeters: 20000, DefaultSpeedMps: 10}

	res := e.FindCandidates(testRide())
	if res.Broadcast || res.Attempts != 1 || res.RadiusMeters != 5000 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].DriverID != "d1" {
		t.Fatalf("unexpected candidates: %+v", res.Candidates)
	}
	if res.Candidates[0].ETASeconds <= 0 {
		t.Fatal("candidates should carry an ETA estimate")
	}
}

func TestFindCandidatesEscalates(t *testing.T) {
	idx := &fakeIndex{minRadius: 10000, drivers: []geo.Candidate{
		{DriverID: "d1", DistanceMeters: 8000},
	}}
	e := &Engine{Index: idx, RadiusMeters: 5000, MaxRadiusMeters: 20000, DefaultSpeedMps: 10}

	res := e.FindCandidates(testRide())
	if res.Broadcast {
		t.Fatal("escalation found drivers, no fallback expected")
	}
	if res.Attempts != 2 || res.RadiusMeters != 10000 {
		t.Fatalf("expected success on the doubled radius: %+v", res)
	}
}

func TestFindCandidatesBroadcastFallback(t *testing.T) {
	idx := &fakeIndex{minRadius: 1e9}
	e := &Engine{Index: idx, RadiusMeters: 5000, MaxRadiusMeters: 20000, DefaultSpeedMps: 10}

	res := e.FindCandidates(testRide())
	if !res.Broadcast {
		t.Fatal("empty escalation should flag broadcast fallback")
	}
	if len(res.Candidates) != 0 {
		t.Fatalf("no candidates expected, got %+v", res.Candidates)
	}
	want := []float64{5000, 10000, 20000}
	if len(idx.queries) != len(want) {
		t.Fatalf("queried radii %v, want %v", idx.queries, want)
	}
	for i := range want {
		if idx.queries[i] != want[i] {
			t.Fatalf("queried radii %v, want %v", idx.queries, want)
		}
	}
	if res.RadiusMeters != 20000 || res.Attempts != 3 {
		t.Fatalf("result should expose the final radius and attempts: %+v", res)
	}
}

func TestFindCandidatesDefaultRadius(t *testing.T) {
	idx := &fakeIndex{minRadius: 0, drivers: []geo.Candidate{{DriverID: "d1"}}}
	e := &Engine{Index: idx}

	res := e.FindCandidates(testRide())
	if res.RadiusMeters != 5000 {
		t.Fatalf("default radius should be 5000m, got %f", res.RadiusMeters)
	}
}
