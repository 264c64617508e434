package incidents

import (
	"context"
	"encoding/json"
	"log/slog"

	"station-navigation/internal/gis"
	"station-navigation/internal/navigation"
	"station-navigation/internal/ws"
)

// RouteTolerance is how close to a route geometry, in meters, an incident
// must be for the traveler to be warned.
const RouteTolerance = 30

type Multicaster struct {
	Manager *ws.Manager
	logger  *slog.Logger
}

func NewMulticaster(manager *ws.Manager, logger *slog.Logger) *Multicaster {
	return &Multicaster{
		Manager: manager,
		logger:  logger,
	}
}

// MulticastIncident warns every client with a route preview or an active
// navigation passing by the incident.
func (m *Multicaster) MulticastIncident(_ context.Context, incident *Incident, action string) {
	payload, err := json.Marshal(IncidentPayload{Incident: incident, Action: action})
	if err != nil {
		m.logger.Error("failed to marshal incident", "incidentID", incident.ID, "error", err)
		return
	}

	for _, client := range m.Manager.Clients() {
		snapshot := client.Session.Snapshot()
		if !Affects(snapshot, incident) {
			continue
		}
		m.logger.Debug("sending incident", "clientID", client.ID, "incidentID", incident.ID)
		client.Send(ws.Message{Type: "incident", Data: payload})
	}
}

// Affects reports whether incident lies on the route of snapshot.
func Affects(snapshot navigation.Snapshot, incident *Incident) bool {
	switch snapshot.State {
	case navigation.StateReadyToStart, navigation.StateNavigating:
	default:
		return false
	}
	return gis.IsPointInPolyline(incident.Point(), toGIS(snapshot.RouteGeometry), RouteTolerance)
}

func toGIS(points []navigation.Coordinate) []gis.Point {
	res := make([]gis.Point, len(points))
	for i, p := range points {
		res[i] = p.Point()
	}
	return res
}
