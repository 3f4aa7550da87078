package models

import "time"

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a point with an optional human-readable address,
// used for ride pickup and destination.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type RideStatus string

const (
	StatusPending    RideStatus = "pending"
	StatusAccepted   RideStatus = "accepted"
	StatusInProgress RideStatus = "in-progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

// Terminal reports whether a ride in this status can never transition again.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Known reports whether s is one of the five lifecycle statuses.
func (s RideStatus) Known() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Ride is a single transport request. DriverID stays empty until a
// driver accepts; it is set if and only if the status is accepted,
// in-progress or completed.
type Ride struct {
	ID          string     `json:"id"`
	RiderID     string     `json:"rider_id"`
	DriverID    string     `json:"driver_id,omitempty"`
	Pickup      Location   `json:"pickup"`
	Destination Location   `json:"destination"`
	Price       float64    `json:"price"`
	Status      RideStatus `json:"status"`
	Route       []LatLng   `json:"route,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand rides across
// goroutine boundaries without aliasing registry-owned state.
func (r *Ride) Clone() *Ride {
	c := *r
	if r.Route != nil {
		c.Route = make([]LatLng, len(r.Route))
		copy(c.Route, r.Route)
	}
	return &c
}

// DriverPosition is the latest known position of one driver. One live
// entry per driver; older updates are discarded by the position index.
type DriverPosition struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event names on the realtime channel. Payload shapes mirror the REST
// entity shapes so subscribers can reconcile pushes against pulls.
const (
	EventDriverLocation    = "driverLocation"
	EventNewRide           = "newRide"
	EventRideAccepted      = "rideAccepted"
	EventRideStatusUpdated = "rideStatusUpdated"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func DriverLocationEvent(p DriverPosition) Event {
	return Event{Type: EventDriverLocation, Data: map[string]any{
		"driver_id": p.DriverID,
		"lat":       p.Lat,
		"lng":       p.Lng,
	}}
}

func NewRideEvent(r *Ride) Event {
	return Event{Type: EventNewRide, Data: map[string]any{"ride": r}}
}

func RideAcceptedEvent(r *Ride) Event {
	return Event{Type: EventRideAccepted, Data: map[string]any{"ride": r}}
}

func RideStatusUpdatedEvent(r *Ride) Event {
	return Event{Type: EventRideStatusUpdated, Data: map[string]any{"ride": r}}
}
