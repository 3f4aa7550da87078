package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/ride"
)

type rideRequestBody struct {
	Pickup      models.Location `json:"pickup"`
	Destination models.Location `json:"destination"`
	Price       float64         `json:"price"`
	Route       []models.LatLng `json:"route,omitempty"`
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	var body rideRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Join(ride.ErrInvalidInput, err))
		return
	}

	created, err := s.Registry.Create(id.UserID, body.Pickup, body.Destination, body.Price, body.Route)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.RidesCreated.Inc()

	// Matching is advisory: announce the ride to the nearby candidates,
	// or to everyone when escalation came up empty. The ride is already
	// committed either way.
	res := s.Matcher.FindCandidates(created)
	if res.Broadcast {
		s.Broadcast.Publish(models.NewRideEvent(created))
	} else {
		targets := make([]string, 0, len(res.Candidates))
		for _, c := range res.Candidates {
			targets = append(targets, c.DriverID)
		}
		s.Broadcast.Publish(models.NewRideEvent(created), targets...)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"ride": created, "match": res})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	rideID := mux.Vars(r)["ride_id"]

	accepted, err := s.Registry.Accept(rideID, id.UserID)
	if err != nil {
		if errors.Is(err, ride.ErrConflict) {
			observability.AcceptConflicts.Inc()
		}
		writeError(w, err)
		return
	}
	observability.RidesAccepted.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ride": accepted})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	rideID := mux.Vars(r)["ride_id"]

	var body struct {
		Status models.RideStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Join(ride.ErrInvalidInput, err))
		return
	}

	updated, err := s.Registry.UpdateStatus(rideID, id.UserID, body.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	switch updated.Status {
	case models.StatusCompleted:
		observability.RidesCompleted.Inc()
	case models.StatusCancelled:
		observability.RidesCancelled.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": updated})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	got, err := s.Registry.Get(mux.Vars(r)["ride_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if got.RiderID != id.UserID && got.DriverID != id.UserID {
		writeError(w, ride.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": got})
}

func (s *Server) handleActiveRide(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	active, ok := s.Registry.FindActiveFor(id.UserID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"ride": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": active})
}

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"rides": s.Registry.HistoryFor(id.UserID)})
}

type locationUpdateBody struct {
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (s *Server) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	var body locationUpdateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Join(ride.ErrInvalidInput, err))
		return
	}
	if body.Lat < -90 || body.Lat > 90 || body.Lng < -180 || body.Lng > 180 {
		writeError(w, ride.ErrInvalidInput)
		return
	}

	p := models.DriverPosition{DriverID: id.UserID, Lat: body.Lat, Lng: body.Lng, UpdatedAt: time.Now().UTC()}
	if body.Timestamp != nil {
		p.UpdatedAt = body.Timestamp.UTC()
	}

	applied, err := s.Geo.Upsert(p)
	if err != nil {
		s.logger.Error("position index write failed", "driver_id", p.DriverID, "error", err)
		writeError(w, err)
		return
	}
	if applied {
		observability.PositionUpserts.Inc()
		if s.Kafka != nil {
			if err := s.Kafka.PublishPosition(p); err != nil {
				s.logger.Warn("kafka publish failed", "driver_id", p.DriverID, "error", err)
			}
		}
		s.Broadcast.Publish(models.DriverLocationEvent(p))
	} else {
		// stale update: dropped on purpose, still a success to the caller
		observability.PositionStale.Inc()
	}
	if mi, ok := s.Geo.(*geo.MemIndex); ok {
		observability.DriversTracked.Set(float64(mi.Size()))
	}

	writeJSON(w, http.StatusOK, map[string]any{"position": p, "applied": applied})
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, ride.ErrInvalidInput)
		return
	}
	radius := 5000.0
	if v := q.Get("radius"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(w, ride.ErrInvalidInput)
			return
		}
		radius = f
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": s.Geo.Query(lat, lng, radius)})
}

func (s *Server) handleDriverPosition(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	p, ok := s.Geo.Position(driverID)
	if !ok {
		writeError(w, ride.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": p})
}

var upgrader = websocket.Upgrader{
	// identity comes from the bearer token, not the page origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.Broadcast.Subscribe(id.UserID, conn)

	// Reader loop only notices disconnects; clients talk to the REST
	// API, the socket is push-only.
	go func() {
		defer s.Broadcast.Unsubscribe(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the registry's error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ride.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ride.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ride.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ride.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ride.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{"message": err.Error()})
}
