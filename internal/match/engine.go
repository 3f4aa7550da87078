package match

import (
	"time"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Index is the slice of the position index the engine needs.
type Index interface {
	Query(lat, lng, radiusMeters float64) []geo.Candidate
}

// Candidate is a nearby driver annotated with an advisory pickup ETA.
type Candidate struct {
	geo.Candidate
	ETASeconds float64 `json:"eta_seconds"`
}

// Result carries the candidate set plus what the escalation policy
// actually did, so callers and dashboards can see which radius served
// a request and when the broadcast fallback kicked in.
type Result struct {
	Candidates   []Candidate `json:"candidates"`
	RadiusMeters float64     `json:"radius_meters"`
	Attempts     int         `json:"attempts"`
	Broadcast    bool        `json:"broadcast"`
}

// Engine ranks nearby drivers for a ride request. It is a pure reader
// of the position index: it never assigns a driver, that only happens
// through the registry's Accept. Matching may race with concurrent
// position updates; the staleness is acceptable because the result is
// advisory.
type Engine struct {
	Index           Index
	RadiusMeters    float64 // first attempt, default 5000
	MaxRadiusMeters float64 // escalation ceiling; radius doubles per attempt
	DefaultSpeedMps float64
	ETAClient       eta.Client // optional routing engine
	ETACache        *eta.Cache // optional
}

// FindCandidates queries around the pickup point, doubling the radius
// until drivers are found or the ceiling is passed. An empty result
// with Broadcast set tells the caller to fall back to announcing the
// ride to every active driver.
func (e *Engine) FindCandidates(ride *models.Ride) Result {
	start := time.Now()
	radius := e.RadiusMeters
	if radius <= 0 {
		radius = 5000
	}
	maxRadius := e.MaxRadiusMeters
	if maxRadius < radius {
		maxRadius = radius
	}

	res := Result{}
	for {
		res.Attempts++
		res.RadiusMeters = radius
		cands := e.Index.Query(ride.Pickup.Lat, ride.Pickup.Lng, radius)
		if len(cands) > 0 {
			res.Candidates = e.annotate(ride, cands)
			break
		}
		if radius >= maxRadius {
			res.Broadcast = true
			observability.MatchFallbacks.Inc()
			break
		}
		radius *= 2
		if radius > maxRadius {
			radius = maxRadius
		}
	}
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	return res
}

func (e *Engine) annotate(ride *models.Ride, cands []geo.Candidate) []Candidate {
	pickup := models.LatLng{Lat: ride.Pickup.Lat, Lng: ride.Pickup.Lng}
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, Candidate{Candidate: c, ETASeconds: e.estimate(c, pickup)})
	}
	return out
}

func (e *Engine) estimate(c geo.Candidate, pickup models.LatLng) float64 {
	from := models.LatLng{Lat: c.Lat, Lng: c.Lng}
	if e.ETACache != nil {
		if v, ok := e.ETACache.Get(from, pickup); ok {
			return v
		}
	}
	if e.ETAClient != nil {
		if v, err := e.ETAClient.EstimateSeconds(from, pickup); err == nil {
			if e.ETACache != nil {
				e.ETACache.Set(from, pickup, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, pickup, e.DefaultSpeedMps)
}
