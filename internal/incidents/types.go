package incidents

import (
	"fmt"

	"station-navigation/internal/gis"
)

type Incident struct {
	ID     int     `json:"id"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	TypeID int     `json:"type_id"`
}

func (i *Incident) Validate() error {
	if i.ID <= 0 {
		return fmt.Errorf("invalid ID: %d", i.ID)
	}
	if i.TypeID <= 0 {
		return fmt.Errorf("invalid TypeID: %d", i.TypeID)
	}
	return i.Point().Validate()
}

func (i *Incident) Point() gis.Point {
	return gis.Point{Lat: i.Lat, Lon: i.Lon}
}

// IncidentPayload is sent to clients whose route passes by the incident.
type IncidentPayload struct {
	Incident *Incident `json:"incident"`
	Action   string    `json:"action"`
}
