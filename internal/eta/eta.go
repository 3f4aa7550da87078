package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Client is the interface used by the matcher to get ETAs.
type Client interface {
	EstimateSeconds(from, to models.LatLng) (float64, error)
}

// EstimateSeconds is the naive fallback: straight-line distance over
// an assumed city speed. A routing engine (see OSRMClient) gives real
// road times; this keeps matching working without one.
func EstimateSeconds(from, to models.LatLng, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Haversine(from.Lat, from.Lng, to.Lat, to.Lng)
	return d / speedMps
}

// Cache is a tiny in-memory TTL cache for ETA lookups keyed by the
// coordinate pair, so a burst of match attempts around the same pickup
// doesn't hammer the routing engine.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Cache) Get(a, b models.LatLng) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.LatLng, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

func keyFor(a, b models.LatLng) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.LatLng) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}
