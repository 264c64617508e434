package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"station-navigation/internal/cache"
	"station-navigation/internal/navigation"
)

type stubPlanner struct{}

func (stubPlanner) PlanRoute(_ context.Context, origin, destination navigation.Coordinate, mode navigation.TravelMode) (*navigation.RoutePlan, error) {
	return &navigation.RoutePlan{
		Geometry:        []navigation.Coordinate{origin, destination},
		DistanceMeters:  950,
		DurationSeconds: 180,
		Mode:            mode,
		Destination:     destination,
	}, nil
}

// blockingPlanner never answers before its context is cancelled.
type blockingPlanner struct{}

func (blockingPlanner) PlanRoute(ctx context.Context, _, _ navigation.Coordinate, _ navigation.TravelMode) (*navigation.RoutePlan, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type recordingCache struct {
	mu      sync.Mutex
	sets    []navigation.Snapshot
	deletes []string
}

func (r *recordingCache) SetSnapshot(_ context.Context, _ string, snapshot navigation.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, snapshot)
	return nil
}

func (r *recordingCache) GetSnapshot(context.Context, string) (*navigation.Snapshot, error) {
	return nil, cache.ErrNotFound
}

func (r *recordingCache) DeleteSnapshot(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, clientID)
	return nil
}

func (r *recordingCache) stored() []navigation.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]navigation.Snapshot(nil), r.sets...)
}

func (r *recordingCache) deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deletes...)
}

func newTestManager(t *testing.T, planner navigation.RoutePlanner, snapshots navigation.SnapshotCache) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(ctx, logger, snapshots, planner, ManagerOptions{
		ArrivalThreshold:  50,
		PermissionTimeout: 50 * time.Millisecond,
		PositionTimeout:   time.Second,
	})
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return newClientWith(t, newTestManager(t, stubPlanner{}, nil))
}

// newClientWith builds a client without a connection. Only its command
// pump runs, queued messages stay in c.send.
func newClientWith(t *testing.T, m *Manager) *Client {
	t.Helper()
	c := NewClient("user-1", nil, m)
	go c.commandPump()
	t.Cleanup(func() {
		c.cancel()
		c.release()
	})
	return c
}

var testStation = navigation.Station{
	ID:         "st-1",
	Name:       "Total Gombe",
	Coordinate: navigation.Coordinate{Lat: -4.4350, Lon: 15.2700},
}

func grantAndLocate(t *testing.T, c *Client) {
	t.Helper()
	c.handleMessage(message(t, "permission", permissionData{State: navigation.PermissionGranted}))
	c.handleMessage(message(t, "position", navigation.Fix{
		Coordinate: navigation.Coordinate{Lat: -4.4419, Lon: 15.2663},
		Accuracy:   5,
		Timestamp:  time.Now(),
	}))
}

func message(t *testing.T, msgType string, data any) Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Message{Type: msgType, Data: raw}
}

func next(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return Message{}
	}
}

func nextOfType(t *testing.T, c *Client, msgType string) Message {
	t.Helper()
	for {
		if msg := next(t, c); msg.Type == msgType {
			return msg
		}
	}
}

func TestHandleMessageRejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"position out of range", Message{Type: "position", Data: json.RawMessage(`{"lat":95,"lon":15.27,"accuracy":5}`)}},
		{"negative accuracy", Message{Type: "position", Data: json.RawMessage(`{"lat":-4.44,"lon":15.27,"accuracy":-1}`)}},
		{"station without id", Message{Type: "select_station", Data: json.RawMessage(`{"name":"Total","coordinate":{"lat":-4.43,"lon":15.27}}`)}},
		{"station bad rating", Message{Type: "select_station", Data: json.RawMessage(`{"id":"s","name":"Total","rating":7,"coordinate":{"lat":-4.43,"lon":15.27}}`)}},
		{"unknown permission", Message{Type: "permission", Data: json.RawMessage(`{"state":"maybe"}`)}},
		{"position error without code", Message{Type: "position_error", Data: json.RawMessage(`{}`)}},
		{"malformed json", Message{Type: "select_mode", Data: json.RawMessage(`{`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			c.handleMessage(tt.msg)

			msg := next(t, c)
			assert.Equal(t, "error", msg.Type)
			var data errorData
			require.NoError(t, json.Unmarshal(msg.Data, &data))
			assert.Equal(t, "invalid_message", data.Code)
		})
	}
}

func TestHandleMessagePreviewFlow(t *testing.T) {
	c := newTestClient(t)

	grantAndLocate(t, c)
	c.handleMessage(message(t, "select_station", testStation))

	var snap navigation.Snapshot
	require.NoError(t, json.Unmarshal(nextOfType(t, c, "snapshot").Data, &snap))
	assert.Equal(t, navigation.StatePreviewing, snap.State)

	c.handleMessage(message(t, "select_mode", modeData{Mode: navigation.ModeWalking}))
	require.NoError(t, json.Unmarshal(nextOfType(t, c, "snapshot").Data, &snap))
	assert.Equal(t, navigation.ModeWalking, snap.Mode)

	c.handleMessage(Message{Type: "confirm_mode"})
	require.Eventually(t, func() bool {
		return c.Session.Plan() != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, navigation.StateReadyToStart, c.Session.State())

	c.handleMessage(Message{Type: "start"})
	require.Eventually(t, func() bool {
		return c.Session.State() == navigation.StateNavigating
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Feed.Watchers())

	c.handleMessage(Message{Type: "stop"})
	require.Eventually(t, func() bool {
		return c.Session.State() == navigation.StateStopped
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.Feed.Watchers())
}

func TestCommandsRunInArrivalOrder(t *testing.T) {
	for i := 0; i < 20; i++ {
		c := newTestClient(t)
		grantAndLocate(t, c)

		// Sent back to back, without waiting for any snapshot.
		c.handleMessage(message(t, "select_station", testStation))
		c.handleMessage(message(t, "select_mode", modeData{Mode: navigation.ModeWalking}))
		c.handleMessage(Message{Type: "confirm_mode"})

		require.Eventually(t, func() bool {
			return c.Session.Plan() != nil
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, navigation.ModeWalking, c.Session.Plan().Mode)
		assert.Equal(t, navigation.StateReadyToStart, c.Session.State())

		for len(c.send) > 0 {
			msg := <-c.send
			assert.NotEqual(t, "error", msg.Type, string(msg.Data))
		}
	}
}

func TestStopInterruptsPendingPlan(t *testing.T) {
	c := newClientWith(t, newTestManager(t, blockingPlanner{}, nil))
	grantAndLocate(t, c)

	c.handleMessage(message(t, "select_station", testStation))
	c.handleMessage(Message{Type: "confirm_mode"})
	require.Eventually(t, func() bool {
		return c.Session.PendingRequests() == 1
	}, time.Second, 5*time.Millisecond)

	c.handleMessage(Message{Type: "stop"})
	require.Eventually(t, func() bool {
		return c.Session.State() == navigation.StateStopped
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.Session.PendingRequests())
	assert.Empty(t, c.Session.Snapshot().Error)

	for len(c.send) > 0 {
		assert.NotEqual(t, "error", (<-c.send).Type)
	}
}

func TestSelectStationForgetsCachedSnapshot(t *testing.T) {
	snapshots := &recordingCache{}
	c := newClientWith(t, newTestManager(t, stubPlanner{}, snapshots))
	grantAndLocate(t, c)

	c.handleMessage(message(t, "select_station", testStation))

	require.Eventually(t, func() bool {
		return c.Session.State() == navigation.StatePreviewing
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"user-1"}, snapshots.deleted())
}

// acceptedConn returns the server side of a websocket and the dialing side.
func acceptedConn(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		accepted <- conn
		<-done
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(done) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	peer, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.CloseNow() })

	select {
	case conn := <-accepted:
		return conn, peer
	case <-time.After(time.Second):
		t.Fatal("connection never accepted")
		return nil, nil
	}
}

func TestSnapshotsPersistedInSendOrder(t *testing.T) {
	snapshots := &recordingCache{}
	conn, peer := acceptedConn(t)
	c := NewClient("user-1", conn, newTestManager(t, stubPlanner{}, snapshots))
	t.Cleanup(func() {
		c.cancel()
		_ = conn.CloseNow()
	})

	states := []navigation.State{navigation.StatePreviewing, navigation.StateReadyToStart, navigation.StateNavigating}
	for _, state := range states {
		c.Present(navigation.Snapshot{SessionID: "burst", State: state})
	}
	go c.writePump()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, state := range states {
		var msg Message
		require.NoError(t, wsjson.Read(ctx, peer, &msg))
		var snap navigation.Snapshot
		require.NoError(t, json.Unmarshal(msg.Data, &snap))
		assert.Equal(t, state, snap.State)
	}

	require.Eventually(t, func() bool {
		return len(snapshots.stored()) == len(states)
	}, time.Second, 5*time.Millisecond)
	for i, snap := range snapshots.stored() {
		assert.Equal(t, states[i], snap.State)
	}
}

func TestHandleMessageReportsTransitionErrors(t *testing.T) {
	c := newTestClient(t)

	c.handleMessage(Message{Type: "stop"})

	msg := next(t, c)
	require.Equal(t, "error", msg.Type)
	var data errorData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "invalid_transition", data.Code)
}

func TestSelectStationPromptsDevice(t *testing.T) {
	c := newTestClient(t)

	c.handleMessage(message(t, "select_station", testStation))

	assert.Equal(t, "permission_request", next(t, c).Type)

	// No answer within the permission timeout.
	msg := nextOfType(t, c, "error")
	var data errorData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "position_timeout", data.Code)
	assert.Equal(t, navigation.StateIdle, c.Session.State())
}
