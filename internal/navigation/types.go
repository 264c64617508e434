package navigation

import (
	"context"
	"fmt"
	"time"

	"station-navigation/internal/gis"
)

type Coordinate struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

func (c Coordinate) Point() gis.Point {
	return gis.Point{Lat: c.Lat, Lon: c.Lon}
}

func (c Coordinate) Validate() error {
	return c.Point().Validate()
}

// Station is a point of interest supplied by the listing side. The navigation
// core never mutates it.
type Station struct {
	ID         string     `json:"id" validate:"required"`
	Name       string     `json:"name" validate:"required"`
	Address    string     `json:"address"`
	Coordinate Coordinate `json:"coordinate"`
	Phone      *string    `json:"phone,omitempty"`
	Rating     *float64   `json:"rating,omitempty" validate:"omitempty,gte=0,lte=5"`
}

type TravelMode string

const (
	ModeDriving TravelMode = "driving"
	ModeWalking TravelMode = "walking"
)

func (m TravelMode) IsValid() bool {
	switch m {
	case ModeDriving, ModeWalking:
		return true
	}
	return false
}

// RoutePlan is the answer of one routing request. A newer plan replaces it,
// it is never updated in place.
type RoutePlan struct {
	Geometry        []Coordinate `json:"geometry"`
	DistanceMeters  float64      `json:"distance_m"`
	DurationSeconds float64      `json:"duration_s"`
	Mode            TravelMode   `json:"mode"`
	Destination     Coordinate   `json:"destination"`
}

// Fix is a single reading of the device location sensor.
type Fix struct {
	Coordinate
	Accuracy  float64   `json:"accuracy" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp"`
}

type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

func (p PermissionState) IsValid() bool {
	switch p {
	case PermissionGranted, PermissionDenied, PermissionPrompt:
		return true
	}
	return false
}

type State string

const (
	StateIdle         State = "idle"
	StatePreviewing   State = "previewing"
	StateReadyToStart State = "ready_to_start"
	StateNavigating   State = "navigating"
	StateArrived      State = "arrived"
	StateStopped      State = "stopped"
)

// Terminal reports whether no further progress can happen without selecting
// a new station.
func (s State) Terminal() bool {
	return s == StateArrived || s == StateStopped
}

// Snapshot is the read-only view pushed to presenters after every change.
type Snapshot struct {
	SessionID         string       `json:"session_id"`
	State             State        `json:"state"`
	Mode              TravelMode   `json:"mode,omitempty"`
	Station           *Station     `json:"station,omitempty"`
	UserPosition      *Coordinate  `json:"user_position,omitempty"`
	Destination       *Coordinate  `json:"destination,omitempty"`
	RouteGeometry     []Coordinate `json:"route_geometry,omitempty"`
	RemainingDistance float64      `json:"remaining_distance_m"`
	RemainingDuration float64      `json:"remaining_duration_s"`
	Arrived           bool         `json:"arrived"`
	Error             string       `json:"error,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Subscription is a live position stream. Cancel stops delivery and can be
// called any number of times.
type Subscription interface {
	Cancel()
}

type PositionSource interface {
	RequestPermission(ctx context.Context) (PermissionState, error)
	CurrentPosition(ctx context.Context) (Fix, error)
	WatchPosition(onUpdate func(Fix), onError func(error)) (Subscription, error)
}

type RoutePlanner interface {
	PlanRoute(ctx context.Context, origin, destination Coordinate, mode TravelMode) (*RoutePlan, error)
}

// Presenter receives snapshots. It must not call back into the session.
type Presenter interface {
	Present(snapshot Snapshot)
}

type PresenterFunc func(Snapshot)

func (f PresenterFunc) Present(s Snapshot) { f(s) }

type SnapshotCache interface {
	SetSnapshot(ctx context.Context, clientID string, snapshot Snapshot) error
	GetSnapshot(ctx context.Context, clientID string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, clientID string) error
}

func (p RoutePlan) String() string {
	return fmt.Sprintf("%s %.0fm/%.0fs (%d points)", p.Mode, p.DistanceMeters, p.DurationSeconds, len(p.Geometry))
}
