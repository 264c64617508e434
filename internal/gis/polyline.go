package gis

import (
	"fmt"
	"math"
)

// EarthRadius in meters
const EarthRadius = 6378137

const degToRad = math.Pi / 180

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || math.IsNaN(p.Lat) {
		return fmt.Errorf("invalid latitude: %f", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 || math.IsNaN(p.Lon) {
		return fmt.Errorf("invalid longitude: %f", p.Lon)
	}
	return nil
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	dLat := (b.Lat - a.Lat) * degToRad
	dLon := (b.Lon - a.Lon) * degToRad

	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad

	sinDlat := math.Sin(dLat / 2)
	sinDlon := math.Sin(dLon / 2)

	aVal := sinDlat*sinDlat + sinDlon*sinDlon*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(aVal), math.Sqrt(1-aVal))
	return EarthRadius * c
}

// DistanceToPolyline returns the smallest distance in meters between point and
// any segment of polyline. It returns +Inf for an empty polyline.
func DistanceToPolyline(point Point, polyline []Point) float64 {
	switch len(polyline) {
	case 0:
		return math.Inf(1)
	case 1:
		return Haversine(point, polyline[0])
	}

	best := math.Inf(1)
	for i := 0; i < len(polyline)-1; i++ {
		if d := distanceToSegment(point, polyline[i], polyline[i+1]); d < best {
			best = d
		}
	}
	return best
}

// IsPointInPolyline returns true if given point is within tolerance distance (in metres) from the polyline.
func IsPointInPolyline(point Point, polyline []Point, tolerance float64) bool {
	return DistanceToPolyline(point, polyline) <= tolerance
}

// distanceToSegment calculates the minimum distance (in metres) from p to the segment [a, b].
// Points are projected on a local equirectangular plane around the segment,
// good enough for the short segments routing services return.
func distanceToSegment(p, a, b Point) float64 {
	latRef := (a.Lat + b.Lat) / 2 * degToRad
	cosLatRef := math.Cos(latRef)

	project := func(q Point) (float64, float64) {
		return q.Lon * degToRad * EarthRadius * cosLatRef, q.Lat * degToRad * EarthRadius
	}
	xA, yA := project(a)
	xB, yB := project(b)
	xP, yP := project(p)

	dx, dy := xB-xA, yB-yA
	if dx == 0 && dy == 0 {
		return math.Hypot(xP-xA, yP-yA)
	}

	t := ((xP-xA)*dx + (yP-yA)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))

	return math.Hypot(xP-(xA+t*dx), yP-(yA+t*dy))
}
