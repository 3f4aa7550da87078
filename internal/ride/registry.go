package ride

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// EventSink receives lifecycle events for realtime fan-out. An empty
// target list means every live connection.
type EventSink interface {
	Publish(ev models.Event, targets ...string)
}

// FareProcessor holds funds when a ride is accepted, captures them on
// completion and releases them on cancellation. All calls are
// best-effort side effects of a committed transition.
type FareProcessor interface {
	Hold(ctx context.Context, r *models.Ride) (string, error)
	Capture(ctx context.Context, ref string) error
	Release(ctx context.Context, ref string) error
}

// transitions lists the legal UpdateStatus moves. pending→accepted is
// deliberately absent: it only happens through Accept, which also
// assigns the driver.
var transitions = map[models.RideStatus]map[models.RideStatus]bool{
	models.StatusPending:    {models.StatusCancelled: true},
	models.StatusAccepted:   {models.StatusInProgress: true, models.StatusCancelled: true},
	models.StatusInProgress: {models.StatusCompleted: true},
}

// Registry owns every ride record for its whole lifecycle and is the
// only component that mutates ride status. All validation and mutation
// for one operation happens inside a single critical section, which is
// what makes concurrent accepts resolve to exactly one winner. Store
// writes and event fan-out happen after commit, on a copy.
type Registry struct {
	mu       sync.Mutex
	rides    map[string]*models.Ride
	fareRefs map[string]string

	store  storage.RideStore
	events EventSink
	logger *slog.Logger
	now    func() time.Time

	// Fares is optional; wired when a payment collaborator is configured.
	Fares FareProcessor
}

func NewRegistry(store storage.RideStore, events EventSink, logger *slog.Logger) *Registry {
	return &Registry{
		rides:    make(map[string]*models.Ride),
		fareRefs: make(map[string]string),
		store:    store,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// Restore preloads rides from durable storage, typically at boot so
// history and active-ride queries survive a restart.
func (g *Registry) Restore(rides []*models.Ride) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range rides {
		g.rides[r.ID] = r.Clone()
	}
}

// Create registers a new ride in pending status with no driver.
func (g *Registry) Create(riderID string, pickup, destination models.Location, price float64, route []models.LatLng) (*models.Ride, error) {
	if riderID == "" {
		return nil, fmt.Errorf("%w: missing rider id", ErrInvalidInput)
	}
	if !validLocation(pickup) {
		return nil, fmt.Errorf("%w: missing pickup coordinates", ErrInvalidInput)
	}
	if !validLocation(destination) {
		return nil, fmt.Errorf("%w: missing destination coordinates", ErrInvalidInput)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}

	g.mu.Lock()
	for _, r := range g.rides {
		if r.RiderID == riderID && !r.Status.Terminal() {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: rider %s already has an open ride", ErrConflict, riderID)
		}
	}
	now := g.now().UTC()
	r := &models.Ride{
		ID:          uuid.NewString(),
		RiderID:     riderID,
		Pickup:      pickup,
		Destination: destination,
		Price:       price,
		Status:      models.StatusPending,
		Route:       route,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	g.rides[r.ID] = r
	out := r.Clone()
	g.mu.Unlock()

	g.persist(out, true)
	return out, nil
}

// Accept atomically moves a pending ride to accepted and assigns the
// driver. Only the first accept wins; every later attempt, and any
// attempt on a cancelled ride, observes Conflict.
func (g *Registry) Accept(rideID, driverID string) (*models.Ride, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: missing driver id", ErrInvalidInput)
	}

	g.mu.Lock()
	r, ok := g.rides[rideID]
	if !ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rideID)
	}
	if r.Status != models.StatusPending {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: ride %s is %s", ErrConflict, rideID, r.Status)
	}
	for _, other := range g.rides {
		if other.DriverID == driverID && activeStatus(other.Status) {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: driver %s already has an active ride", ErrConflict, driverID)
		}
	}
	r.DriverID = driverID
	r.Status = models.StatusAccepted
	r.UpdatedAt = g.now().UTC()
	out := r.Clone()
	g.mu.Unlock()

	g.persist(out, false)
	g.emit(models.RideAcceptedEvent(out), out.RiderID)
	g.emit(models.RideStatusUpdatedEvent(out), out.RiderID, out.DriverID)
	g.holdFare(out)
	return out, nil
}

// UpdateStatus applies a rider- or driver-requested transition after
// checking the requester is a party to the ride and the move is on the
// transition table.
func (g *Registry) UpdateStatus(rideID, requesterID string, next models.RideStatus) (*models.Ride, error) {
	if !next.Known() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, next)
	}

	g.mu.Lock()
	r, ok := g.rides[rideID]
	if !ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rideID)
	}
	if requesterID != r.RiderID && (r.DriverID == "" || requesterID != r.DriverID) {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s on ride %s", ErrForbidden, requesterID, rideID)
	}
	if !transitions[r.Status][next] {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	prevDriver := r.DriverID
	r.Status = next
	if next == models.StatusCancelled {
		// driver id is set iff the ride is accepted, in-progress or
		// completed; cancellation releases the assignment
		r.DriverID = ""
	}
	r.UpdatedAt = g.now().UTC()
	out := r.Clone()
	g.mu.Unlock()

	g.persist(out, false)
	targets := []string{out.RiderID}
	if prevDriver != "" {
		targets = append(targets, prevDriver)
	}
	g.emit(models.RideStatusUpdatedEvent(out), targets...)
	g.settleFare(out)
	return out, nil
}

func (g *Registry) Get(rideID string) (*models.Ride, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rides[rideID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rideID)
	}
	return r.Clone(), nil
}

// FindActiveFor returns the accepted or in-progress ride involving
// userID as rider or driver. The registry guarantees at most one.
func (g *Registry) FindActiveFor(userID string) (*models.Ride, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.rides {
		if activeStatus(r.Status) && (r.RiderID == userID || r.DriverID == userID) {
			return r.Clone(), true
		}
	}
	return nil, false
}

// HistoryFor returns every ride involving userID, newest first.
func (g *Registry) HistoryFor(userID string) []*models.Ride {
	g.mu.Lock()
	out := make([]*models.Ride, 0)
	for _, r := range g.rides {
		if r.RiderID == userID || r.DriverID == userID {
			out = append(out, r.Clone())
		}
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (g *Registry) emit(ev models.Event, targets ...string) {
	if g.events == nil {
		return
	}
	g.events.Publish(ev, targets...)
}

func (g *Registry) persist(r *models.Ride, created bool) {
	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var err error
	if created {
		err = g.store.Save(ctx, r)
	} else {
		err = g.store.Update(ctx, r)
	}
	if err != nil {
		// the in-memory commit stands; durability catches up on the next write
		g.logger.Error("ride store write failed", "ride_id", r.ID, "error", err)
	}
}

func (g *Registry) holdFare(r *models.Ride) {
	if g.Fares == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ref, err := g.Fares.Hold(ctx, r)
		if err != nil {
			g.logger.Error("fare hold failed", "ride_id", r.ID, "error", err)
			return
		}
		// The ride may have ended while the hold was in flight; in that
		// case settleFare already ran and found nothing, so the hold
		// must be settled here or the funds stay held forever.
		g.mu.Lock()
		cur, ok := g.rides[r.ID]
		if ok && cur.Status.Terminal() {
			status := cur.Status
			g.mu.Unlock()
			g.settle(ref, status, r.ID)
			return
		}
		g.fareRefs[r.ID] = ref
		g.mu.Unlock()
	}()
}

func (g *Registry) settleFare(r *models.Ride) {
	if g.Fares == nil || !r.Status.Terminal() {
		return
	}
	g.mu.Lock()
	ref, ok := g.fareRefs[r.ID]
	delete(g.fareRefs, r.ID)
	g.mu.Unlock()
	if !ok {
		return
	}
	status := r.Status
	go g.settle(ref, status, r.ID)
}

// settle captures a held fare for a completed ride and releases it for
// a cancelled one.
func (g *Registry) settle(ref string, status models.RideStatus, rideID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if status == models.StatusCompleted {
		err = g.Fares.Capture(ctx, ref)
	} else {
		err = g.Fares.Release(ctx, ref)
	}
	if err != nil {
		g.logger.Error("fare settlement failed", "ride_id", rideID, "status", string(status), "error", err)
	}
}

func activeStatus(s models.RideStatus) bool {
	return s == models.StatusAccepted || s == models.StatusInProgress
}

// validLocation rejects absent coordinates. A decoded zero value
// ((0,0) is open ocean) is treated as missing, matching the upstream
// clients which always send real coordinates.
func validLocation(l models.Location) bool {
	if l.Lat == 0 && l.Lng == 0 {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}
