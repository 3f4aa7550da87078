package geo

import (
	"math"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Candidate is one driver returned by a radius query.
type Candidate struct {
	DriverID       string  `json:"driver_id"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Index is the position-index contract consumed by the matcher and
// the transport handlers.
type Index interface {
	// Upsert records the driver's latest position. applied=false with a
	// nil error means the update was older than the stored entry and
	// was discarded; the caller must not fan it out. A non-nil error is
	// an index failure, not a staleness verdict.
	Upsert(p models.DriverPosition) (applied bool, err error)
	// Query returns all drivers within radiusMeters of the point
	// (boundary inclusive), ascending by distance.
	Query(lat, lng, radiusMeters float64) []Candidate
	// Position returns the last known position of one driver.
	Position(driverID string) (models.DriverPosition, bool)
}

// MemIndex keeps every driver's latest position in a plain map and
// answers radius queries with a full haversine scan. The scan is O(N)
// per query: fine up to roughly 5000 tracked drivers, which is this
// type's explicit design ceiling. Past that, deploy RedisGeo so the
// index lives server-side.
type MemIndex struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverPosition
}

func NewMemIndex() *MemIndex {
	return &MemIndex{drivers: make(map[string]models.DriverPosition)}
}

func (g *MemIndex) Upsert(p models.DriverPosition) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.drivers[p.DriverID]; ok && cur.UpdatedAt.After(p.UpdatedAt) {
		// out-of-order delivery; keep the newer entry
		return false, nil
	}
	g.drivers[p.DriverID] = p
	return true, nil
}

func (g *MemIndex) Query(lat, lng, radiusMeters float64) []Candidate {
	g.mu.RLock()
	out := make([]Candidate, 0)
	for _, p := range g.drivers {
		d := Haversine(lat, lng, p.Lat, p.Lng)
		if d <= radiusMeters {
			out = append(out, Candidate{DriverID: p.DriverID, Lat: p.Lat, Lng: p.Lng, DistanceMeters: d})
		}
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out
}

func (g *MemIndex) Position(driverID string) (models.DriverPosition, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.drivers[driverID]
	return p, ok
}

// Size reports the number of tracked drivers, for the gauge metric.
func (g *MemIndex) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.drivers)
}

// Haversine returns the great-circle distance in meters on a
// spherical earth. The sphere is an accuracy/simplicity trade-off;
// error vs. an ellipsoid is under 0.5%.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
