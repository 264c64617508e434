package navigation

import (
	"context"
	"sync"
	"time"
)

type fakeSource struct {
	mu         sync.Mutex
	permission PermissionState
	permErr    error
	fix        Fix
	fixErr     error
	watchErr   error

	currentCalls int
	watchCalls   int
	cancelCalls  int
	onUpdate     func(Fix)
	onError      func(error)
}

func newFakeSource(at Coordinate) *fakeSource {
	return &fakeSource{
		permission: PermissionGranted,
		fix:        Fix{Coordinate: at, Accuracy: 5, Timestamp: time.Now()},
	}
}

func (f *fakeSource) RequestPermission(context.Context) (PermissionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission, f.permErr
}

func (f *fakeSource) CurrentPosition(context.Context) (Fix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentCalls++
	return f.fix, f.fixErr
}

func (f *fakeSource) WatchPosition(onUpdate func(Fix), onError func(error)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCalls++
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.onUpdate = onUpdate
	f.onError = onError
	return fakeSubscription{f}, nil
}

// emit delivers a fix the way a real stream would, even after cancellation,
// so late events can be tested.
func (f *fakeSource) emit(at Coordinate) {
	f.mu.Lock()
	onUpdate := f.onUpdate
	f.mu.Unlock()
	onUpdate(Fix{Coordinate: at, Accuracy: 5, Timestamp: time.Now()})
}

func (f *fakeSource) emitError(err error) {
	f.mu.Lock()
	onError := f.onError
	f.mu.Unlock()
	onError(err)
}

func (f *fakeSource) counts() (current, watch, cancel int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentCalls, f.watchCalls, f.cancelCalls
}

type fakeSubscription struct{ f *fakeSource }

// Cancel counts every call so tests can check the session cancels exactly
// once.
func (s fakeSubscription) Cancel() {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.cancelCalls++
}

type planFunc func(ctx context.Context, origin, destination Coordinate, mode TravelMode) (*RoutePlan, error)

type fakePlanner struct {
	mu    sync.Mutex
	fn    planFunc
	calls int
}

func (p *fakePlanner) PlanRoute(ctx context.Context, origin, destination Coordinate, mode TravelMode) (*RoutePlan, error) {
	p.mu.Lock()
	p.calls++
	fn := p.fn
	p.mu.Unlock()
	return fn(ctx, origin, destination, mode)
}

func (p *fakePlanner) set(fn planFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn = fn
}

func (p *fakePlanner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// distances returns a planner answering with the given distances in order,
// repeating the last one.
func distances(values ...float64) planFunc {
	var mu sync.Mutex
	i := 0
	return func(_ context.Context, origin, destination Coordinate, mode TravelMode) (*RoutePlan, error) {
		mu.Lock()
		defer mu.Unlock()
		d := values[i]
		if i < len(values)-1 {
			i++
		}
		return newPlan(origin, destination, mode, d), nil
	}
}

func newPlan(origin, destination Coordinate, mode TravelMode, distance float64) *RoutePlan {
	return &RoutePlan{
		Geometry:        []Coordinate{origin, destination},
		DistanceMeters:  distance,
		DurationSeconds: distance / 950 * 180,
		Mode:            mode,
		Destination:     destination,
	}
}

type recorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *recorder) Present(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snapshots...)
}
