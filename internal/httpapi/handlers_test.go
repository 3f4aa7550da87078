package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.ServerConfig{
		JWTSecret:            "test-secret",
		MatchRadiusMeters:    5000,
		MatchMaxRadiusMeters: 20000,
		DefaultSpeedMps:      10,
		BroadcastTimeout:     time.Second,
	}
	srv, err := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return srv
}

func token(t *testing.T, srv *Server, userID string, role auth.Role) string {
	t.Helper()
	tok, err := srv.Verifier.Issue(auth.Identity{UserID: userID, Role: role}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func do(t *testing.T, srv *Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeRide(t *testing.T, w *httptest.ResponseRecorder) *models.Ride {
	t.Helper()
	var out struct {
		Ride *models.Ride `json:"ride"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.Ride
}

// wsConn stands in for a websocket connection on the broadcaster.
type wsConn struct {
	delivered chan models.Event
}

func newWSConn() *wsConn { return &wsConn{delivered: make(chan models.Event, 16)} }

func (c *wsConn) WriteJSON(v any) error            { c.delivered <- v.(models.Event); return nil }
func (c *wsConn) SetWriteDeadline(time.Time) error { return nil }
func (c *wsConn) Close() error                     { return nil }

func (c *wsConn) expectEvent(t *testing.T, eventType string) {
	t.Helper()
	select {
	case ev := <-c.delivered:
		if ev.Type != eventType {
			t.Fatalf("got event %s, want %s", ev.Type, eventType)
		}
	case <-time.After(time.Second):
		t.Fatalf("no %s event delivered", eventType)
	}
}

func (c *wsConn) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.delivered:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

var rideBody = map[string]any{
	"pickup":      map[string]any{"lat": 28.61, "lng": 77.20, "address": "Connaught Place"},
	"destination": map[string]any{"lat": 28.70, "lng": 77.25, "address": "Civil Lines"},
	"price":       150,
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	if w := do(t, srv, "GET", "/api/v1/rides/history", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", w.Code)
	}
	if w := do(t, srv, "GET", "/api/v1/rides/history", "not-a-token", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: got %d", w.Code)
	}
}

func TestRideFlow(t *testing.T) {
	srv := newTestServer(t)
	rider := token(t, srv, "rider-1", auth.RoleRider)
	driverA := token(t, srv, "driver-a", auth.RoleDriver)
	driverB := token(t, srv, "driver-b", auth.RoleDriver)
	stranger := token(t, srv, "stranger", auth.RoleRider)

	// driver A is nearby, driver B is across town
	if w := do(t, srv, "POST", "/api/v1/location/update", driverA, map[string]any{"lat": 28.611, "lng": 77.201}); w.Code != http.StatusOK {
		t.Fatalf("location update: got %d: %s", w.Code, w.Body)
	}
	if w := do(t, srv, "POST", "/api/v1/location/update", driverB, map[string]any{"lat": 28.9, "lng": 77.9}); w.Code != http.StatusOK {
		t.Fatalf("location update: got %d", w.Code)
	}

	w := do(t, srv, "POST", "/api/v1/rides/request", rider, rideBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("ride request: got %d: %s", w.Code, w.Body)
	}
	var created struct {
		Ride  *models.Ride `json:"ride"`
		Match struct {
			Candidates []struct {
				DriverID string `json:"driver_id"`
			} `json:"candidates"`
			RadiusMeters float64 `json:"radius_meters"`
			Broadcast    bool    `json:"broadcast"`
		} `json:"match"`
	}
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.Ride.Status != models.StatusPending {
		t.Fatalf("status %s", created.Ride.Status)
	}
	if created.Match.Broadcast || len(created.Match.Candidates) != 1 || created.Match.Candidates[0].DriverID != "driver-a" {
		t.Fatalf("expected driver-a as the only candidate: %+v", created.Match)
	}
	rideID := created.Ride.ID

	// a second open ride for the same rider is refused
	if w := do(t, srv, "POST", "/api/v1/rides/request", rider, rideBody); w.Code != http.StatusConflict {
		t.Fatalf("second request: got %d", w.Code)
	}

	// riders cannot accept
	if w := do(t, srv, "POST", "/api/v1/rides/"+rideID+"/accept", rider, nil); w.Code != http.StatusForbidden {
		t.Fatalf("rider accept: got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/v1/rides/"+rideID+"/accept", driverA, nil); w.Code != http.StatusOK {
		t.Fatalf("accept: got %d: %s", w.Code, w.Body)
	}
	if w := do(t, srv, "POST", "/api/v1/rides/"+rideID+"/accept", driverB, nil); w.Code != http.StatusConflict {
		t.Fatalf("losing accept: got %d", w.Code)
	}

	if w := do(t, srv, "GET", "/api/v1/rides/"+rideID, stranger, nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger get: got %d", w.Code)
	}

	w = do(t, srv, "PATCH", "/api/v1/rides/"+rideID+"/status", rider, map[string]any{"status": "in-progress"})
	if w.Code != http.StatusOK {
		t.Fatalf("start: got %d: %s", w.Code, w.Body)
	}
	w = do(t, srv, "PATCH", "/api/v1/rides/"+rideID+"/status", driverA, map[string]any{"status": "completed"})
	if w.Code != http.StatusOK {
		t.Fatalf("complete: got %d: %s", w.Code, w.Body)
	}
	if r := decodeRide(t, w); r.Status != models.StatusCompleted {
		t.Fatalf("status %s", r.Status)
	}
	if w := do(t, srv, "PATCH", "/api/v1/rides/"+rideID+"/status", driverA, map[string]any{"status": "accepted"}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("re-accept after completion: got %d", w.Code)
	}

	// completed rides show in history but not as active
	w = do(t, srv, "GET", "/api/v1/rides/history", rider, nil)
	var hist struct {
		Rides []*models.Ride `json:"rides"`
	}
	if err := json.NewDecoder(w.Body).Decode(&hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Rides) != 1 || hist.Rides[0].ID != rideID {
		t.Fatalf("unexpected history: %+v", hist.Rides)
	}
	w = do(t, srv, "GET", "/api/v1/rides/active", rider, nil)
	if r := decodeRide(t, w); r != nil {
		t.Fatalf("no active ride expected, got %+v", r)
	}
}

func TestRideRequestValidation(t *testing.T) {
	srv := newTestServer(t)
	rider := token(t, srv, "rider-1", auth.RoleRider)

	bad := map[string]any{
		"pickup": map[string]any{"lat": 28.61, "lng": 77.20},
		"price":  150,
	}
	if w := do(t, srv, "POST", "/api/v1/rides/request", rider, bad); w.Code != http.StatusBadRequest {
		t.Fatalf("missing destination: got %d", w.Code)
	}
}

func TestLocationUpdateDriverOnly(t *testing.T) {
	srv := newTestServer(t)
	rider := token(t, srv, "rider-1", auth.RoleRider)
	if w := do(t, srv, "POST", "/api/v1/location/update", rider, map[string]any{"lat": 1, "lng": 2}); w.Code != http.StatusForbidden {
		t.Fatalf("rider location update: got %d", w.Code)
	}
}

func TestLocationStaleUpdateSucceedsWithoutApplying(t *testing.T) {
	srv := newTestServer(t)
	driver := token(t, srv, "driver-a", auth.RoleDriver)

	watcher := newWSConn()
	srv.Broadcast.Subscribe("rider-1", watcher)

	now := time.Now().UTC()
	fresh := map[string]any{"lat": 28.61, "lng": 77.20, "timestamp": now.Format(time.RFC3339Nano)}
	if w := do(t, srv, "POST", "/api/v1/location/update", driver, fresh); w.Code != http.StatusOK {
		t.Fatalf("fresh update: got %d", w.Code)
	}
	watcher.expectEvent(t, models.EventDriverLocation)

	stale := map[string]any{"lat": 9, "lng": 9, "timestamp": now.Add(-time.Minute).Format(time.RFC3339Nano)}
	w := do(t, srv, "POST", "/api/v1/location/update", driver, stale)
	if w.Code != http.StatusOK {
		t.Fatalf("stale update should still be a success: got %d", w.Code)
	}
	var out struct {
		Applied bool `json:"applied"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Applied {
		t.Fatal("stale update must not apply")
	}
	// a discarded update must not fan out either
	watcher.expectNothing(t)

	p, ok := srv.Geo.Position("driver-a")
	if !ok || p.Lat != 28.61 {
		t.Fatalf("stored position changed: %+v", p)
	}
}

// failingIndex simulates an unreachable position index.
type failingIndex struct{}

func (failingIndex) Upsert(models.DriverPosition) (bool, error) {
	return false, errors.New("index unavailable")
}
func (failingIndex) Query(lat, lng, radiusMeters float64) []geo.Candidate { return nil }
func (failingIndex) Position(string) (models.DriverPosition, bool) {
	return models.DriverPosition{}, false
}

func TestLocationUpdateIndexFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.Geo = failingIndex{}
	driver := token(t, srv, "driver-a", auth.RoleDriver)

	watcher := newWSConn()
	srv.Broadcast.Subscribe("rider-1", watcher)

	w := do(t, srv, "POST", "/api/v1/location/update", driver, map[string]any{"lat": 28.61, "lng": 77.20})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("index failure should be a server error, got %d", w.Code)
	}
	watcher.expectNothing(t)
}

func TestNearbyDrivers(t *testing.T) {
	srv := newTestServer(t)
	rider := token(t, srv, "rider-1", auth.RoleRider)
	driver := token(t, srv, "driver-a", auth.RoleDriver)
	do(t, srv, "POST", "/api/v1/location/update", driver, map[string]any{"lat": 28.611, "lng": 77.201})

	w := do(t, srv, "GET", "/api/v1/location/nearby-drivers?lat=28.61&lng=77.20", rider, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nearby: got %d", w.Code)
	}
	var out struct {
		Drivers []struct {
			DriverID string `json:"driver_id"`
		} `json:"drivers"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Drivers) != 1 || out.Drivers[0].DriverID != "driver-a" {
		t.Fatalf("unexpected drivers: %+v", out.Drivers)
	}

	if w := do(t, srv, "GET", "/api/v1/location/nearby-drivers?lat=abc", rider, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad params: got %d", w.Code)
	}
}

func TestDriverPositionLookup(t *testing.T) {
	srv := newTestServer(t)
	rider := token(t, srv, "rider-1", auth.RoleRider)
	if w := do(t, srv, "GET", "/api/v1/location/driver/ghost", rider, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown driver: got %d", w.Code)
	}
}
