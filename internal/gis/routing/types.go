package routing

import (
	"errors"
	"fmt"

	"station-navigation/internal/navigation"
)

type RouteRequest struct {
	Locations []LocationRequest `json:"locations"`
	Costing   Costing           `json:"costing"`
	Units     Units             `json:"units,omitempty"`
}

func (r RouteRequest) Validate() error {
	if len(r.Locations) != 2 {
		return errors.New("exactly 2 locations must be provided")
	}
	for i, l := range r.Locations {
		if err := (navigation.Coordinate{Lat: l.Lat, Lon: l.Lon}).Validate(); err != nil {
			return fmt.Errorf("location %d: %w", i, err)
		}
	}
	if !r.Costing.IsValid() {
		return fmt.Errorf("costing %q is invalid", r.Costing)
	}
	return nil
}

type LocationRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Costing string

const (
	CostingAuto       Costing = "auto"
	CostingPedestrian Costing = "pedestrian"
)

func (c Costing) IsValid() bool {
	switch c {
	case CostingAuto, CostingPedestrian:
		return true
	default:
		return false
	}
}

// CostingFor maps a travel mode to the routing engine costing model.
func CostingFor(mode navigation.TravelMode) (Costing, error) {
	switch mode {
	case navigation.ModeDriving:
		return CostingAuto, nil
	case navigation.ModeWalking:
		return CostingPedestrian, nil
	}
	return "", fmt.Errorf("%q: %w", mode, navigation.ErrInvalidMode)
}

type Units string

const UnitsKilometers Units = "kilometers"

// Response specific

type RouteResponse struct {
	Data    []Trip `json:"data"`
	Message string `json:"message"`
}

type Trip struct {
	Legs    []Leg   `json:"legs"`
	Summary Summary `json:"summary"`
}

// Summary carries the trip length in kilometers and time in seconds.
type Summary struct {
	Time   float64 `json:"time"`
	Length float64 `json:"length"`
}

type Leg struct {
	Summary Summary      `json:"summary"`
	Shape   []ShapePoint `json:"shape"`
}

type ShapePoint struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func (t Trip) toPlan(destination navigation.Coordinate, mode navigation.TravelMode) *navigation.RoutePlan {
	var geometry []navigation.Coordinate
	for _, leg := range t.Legs {
		for _, p := range leg.Shape {
			geometry = append(geometry, navigation.Coordinate{Lat: p.Lat, Lon: p.Lon})
		}
	}
	return &navigation.RoutePlan{
		Geometry:        geometry,
		DistanceMeters:  t.Summary.Length * 1000,
		DurationSeconds: t.Summary.Time,
		Mode:            mode,
		Destination:     destination,
	}
}
