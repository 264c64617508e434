package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SessionOptions struct {
	Logger           *slog.Logger
	Presenter        Presenter
	ArrivalThreshold float64
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Logger:           slog.Default(),
		Presenter:        PresenterFunc(func(Snapshot) {}),
		ArrivalThreshold: DefaultArrivalThreshold,
	}
}

// Session drives one navigation attempt toward a station. Every field is
// guarded by mu; network calls are always made with mu released and their
// results are applied only if no newer request was issued in between.
type Session struct {
	mu sync.Mutex

	source    PositionSource
	planner   RoutePlanner
	evaluator *ProgressEvaluator
	presenter Presenter
	logger    *slog.Logger

	id                string
	state             State
	station           *Station
	mode              TravelMode
	plan              *RoutePlan
	position          *Coordinate
	remainingDistance float64
	remainingDuration float64
	arrived           bool
	lastErr           error

	// seq is the number of the latest issued route request.
	seq      uint64
	inflight map[uint64]context.CancelFunc

	sub Subscription
	// watchGen identifies the current position stream so callbacks from a
	// released stream are dropped.
	watchGen uint64
}

func NewSession(source PositionSource, planner RoutePlanner, options ...SessionOptions) *Session {
	opts := DefaultSessionOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Presenter == nil {
		opts.Presenter = PresenterFunc(func(Snapshot) {})
	}

	return &Session{
		source:    source,
		planner:   planner,
		evaluator: NewProgressEvaluator(planner, opts.ArrivalThreshold),
		presenter: opts.Presenter,
		logger:    opts.Logger,
		state:     StateIdle,
		mode:      ModeDriving,
		inflight:  make(map[uint64]context.CancelFunc),
	}
}

// SelectStation starts a new attempt toward station. Location permission is
// requested first; the session does not leave its current state unless it is
// granted.
func (s *Session) SelectStation(ctx context.Context, station Station) error {
	if err := station.Coordinate.Validate(); err != nil {
		return fmt.Errorf("invalid station %q: %w", station.ID, err)
	}

	s.mu.Lock()
	if !s.canSelectStation() {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("select station from %s: %w", state, ErrInvalidTransition)
	}
	s.mu.Unlock()

	perm, err := s.source.RequestPermission(ctx)
	if errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		return s.fail(fmt.Errorf("requesting permission: %w", err))
	}
	if perm != PermissionGranted {
		return s.fail(fmt.Errorf("permission %s: %w", perm, ErrPermissionDenied))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canSelectStation() {
		return fmt.Errorf("select station from %s: %w", s.state, ErrInvalidTransition)
	}

	s.releaseWatch()
	s.invalidate()
	s.reset()
	s.id = uuid.NewString()
	s.station = &station
	s.state = StatePreviewing
	s.logger.Debug("station selected", "sessionID", s.id, "stationID", station.ID)
	s.present()
	return nil
}

// SelectMode changes the travel mode before navigation starts. Any plan,
// stored or in flight, is dropped since it was computed for the old mode.
func (s *Session) SelectMode(mode TravelMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%q: %w", mode, ErrInvalidMode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateNavigating:
		return ErrModeLocked
	case StatePreviewing, StateReadyToStart:
	default:
		return fmt.Errorf("select mode from %s: %w", s.state, ErrInvalidTransition)
	}

	s.invalidate()
	s.plan = nil
	s.remainingDistance, s.remainingDuration = 0, 0
	s.mode = mode
	s.state = StatePreviewing
	s.lastErr = nil
	s.present()
	return nil
}

// ConfirmMode plans the preview route from the current position. It blocks
// until the plan is applied, discarded or failed. A failed plan sends the
// session back to previewing. ErrSuperseded means a newer request or a stop
// overtook this one; the session was left untouched.
func (s *Session) ConfirmMode(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StatePreviewing {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("confirm mode from %s: %w", state, ErrInvalidTransition)
	}
	s.state = StateReadyToStart
	s.lastErr = nil
	mode := s.mode
	destination := s.station.Coordinate
	seq, reqCtx := s.beginRequest(ctx)
	s.present()
	s.mu.Unlock()
	defer s.endRequest(seq)

	fix, err := s.source.CurrentPosition(reqCtx)
	if err != nil {
		return s.planFailed(seq, fmt.Errorf("getting current position: %w", err))
	}

	plan, err := s.planner.PlanRoute(reqCtx, fix.Coordinate, destination, mode)
	if err != nil {
		return s.planFailed(seq, fmt.Errorf("planning route: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq || s.state != StateReadyToStart {
		s.logger.Debug("discarding stale route plan", "sessionID", s.id, "seq", seq, "latest", s.seq)
		return ErrSuperseded
	}

	position := fix.Coordinate
	s.position = &position
	s.plan = plan
	s.remainingDistance = plan.DistanceMeters
	s.remainingDuration = plan.DurationSeconds
	s.logger.Debug("route plan received", "sessionID", s.id, "plan", plan.String())
	s.present()
	return nil
}

func (s *Session) planFailed(seq uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq || s.state != StateReadyToStart {
		return ErrSuperseded
	}
	s.plan = nil
	s.state = StatePreviewing
	if errors.Is(err, context.Canceled) {
		s.logger.Debug("route planning abandoned", "sessionID", s.id)
	} else {
		s.lastErr = err
		s.logger.Info("route planning failed", "sessionID", s.id, "error", err)
	}
	s.present()
	return err
}

// StartNavigation opens the live position stream.
func (s *Session) StartNavigation() error {
	s.mu.Lock()
	if s.state != StateReadyToStart {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("start navigation from %s: %w", state, ErrInvalidTransition)
	}
	if s.plan == nil {
		// Still waiting for the preview plan.
		s.mu.Unlock()
		return ErrNoPlan
	}
	if !s.planValid() {
		s.invalidate()
		s.plan = nil
		s.state = StatePreviewing
		s.present()
		s.mu.Unlock()
		return ErrNoPlan
	}
	s.releaseWatch()
	s.state = StateNavigating
	gen := s.watchGen
	s.present()
	s.mu.Unlock()

	sub, err := s.source.WatchPosition(
		func(fix Fix) { s.handleFix(gen, fix) },
		func(err error) { s.handleFixError(gen, err) },
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if gen == s.watchGen && s.state == StateNavigating {
			s.state = StateReadyToStart
			s.lastErr = err
			s.present()
		}
		return fmt.Errorf("watching position: %w", err)
	}
	if gen != s.watchGen || s.state != StateNavigating {
		// Arrived or stopped while the stream was being opened.
		sub.Cancel()
		return nil
	}
	s.sub = sub
	s.logger.Debug("navigation started", "sessionID", s.id, "mode", s.mode)
	return nil
}

func (s *Session) handleFix(gen uint64, fix Fix) {
	s.mu.Lock()
	if gen != s.watchGen || s.state != StateNavigating {
		s.mu.Unlock()
		return
	}
	if err := fix.Validate(); err != nil {
		s.logger.Warn("ignoring invalid fix", "sessionID", s.id, "error", err)
		s.mu.Unlock()
		return
	}
	position := fix.Coordinate
	s.position = &position
	destination := s.station.Coordinate
	mode := s.mode
	seq, ctx := s.beginRequest(context.Background())
	s.mu.Unlock()
	defer s.endRequest(seq)

	progress, err := s.evaluator.Evaluate(ctx, fix.Coordinate, destination, mode)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq || s.state != StateNavigating {
		return
	}
	if err != nil {
		// Keep the last known progress, the next fix retries.
		s.logger.Warn("progress update failed", "sessionID", s.id, "error", err)
		s.present()
		return
	}

	s.plan = progress.Plan
	s.remainingDistance = progress.RemainingDistance
	s.remainingDuration = progress.RemainingDuration
	if progress.Arrived {
		s.arrived = true
		s.state = StateArrived
		s.releaseWatch()
		s.logger.Info("arrived at station", "sessionID", s.id, "stationID", s.station.ID)
	}
	s.present()
}

func (s *Session) handleFixError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.watchGen || s.state != StateNavigating {
		return
	}
	if errors.Is(err, ErrPermissionDenied) {
		s.logger.Info("permission revoked while navigating", "sessionID", s.id)
		s.releaseWatch()
		s.invalidate()
		s.plan = nil
		s.state = StateStopped
		s.lastErr = err
		s.present()
		return
	}
	s.logger.Warn("position stream error", "sessionID", s.id, "error", err)
}

// Stop abandons the attempt. The position stream and every pending route
// request are released before Stop returns.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StatePreviewing, StateReadyToStart, StateNavigating:
	default:
		return fmt.Errorf("stop from %s: %w", s.state, ErrInvalidTransition)
	}

	s.releaseWatch()
	s.invalidate()
	s.plan = nil
	s.state = StateStopped
	s.logger.Debug("navigation stopped", "sessionID", s.id)
	s.present()
	return nil
}

// Close releases every resource held by the session. It is safe to call in
// any state and more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseWatch()
	s.invalidate()
	switch s.state {
	case StatePreviewing, StateReadyToStart, StateNavigating:
		s.plan = nil
		s.state = StateStopped
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Plan() *RoutePlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// PendingRequests returns the number of route requests still in flight.
func (s *Session) PendingRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Tracking reports whether a position stream is open.
func (s *Session) Tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

func (s *Session) canSelectStation() bool {
	switch s.state {
	case StateIdle, StateStopped, StateArrived:
		return true
	}
	return false
}

func (s *Session) planValid() bool {
	return s.plan != nil &&
		s.station != nil &&
		s.plan.Destination == s.station.Coordinate &&
		s.plan.Mode == s.mode
}

func (s *Session) reset() {
	s.station = nil
	s.mode = ModeDriving
	s.plan = nil
	s.position = nil
	s.remainingDistance, s.remainingDuration = 0, 0
	s.arrived = false
	s.lastErr = nil
}

// beginRequest must be called with mu held.
func (s *Session) beginRequest(parent context.Context) (uint64, context.Context) {
	s.seq++
	ctx, cancel := context.WithCancel(parent)
	s.inflight[s.seq] = cancel
	return s.seq, ctx
}

func (s *Session) endRequest(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.inflight[seq]; ok {
		cancel()
		delete(s.inflight, seq)
	}
}

// invalidate cancels every in-flight request and makes their results stale.
// It must be called with mu held.
func (s *Session) invalidate() {
	for seq, cancel := range s.inflight {
		cancel()
		delete(s.inflight, seq)
	}
	s.seq++
}

// releaseWatch must be called with mu held.
func (s *Session) releaseWatch() {
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	s.watchGen++
}

// fail records err as user visible without changing state.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	s.present()
	return err
}

func (s *Session) present() {
	s.presenter.Present(s.snapshot())
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		SessionID:         s.id,
		State:             s.state,
		Mode:              s.mode,
		RemainingDistance: s.remainingDistance,
		RemainingDuration: s.remainingDuration,
		Arrived:           s.arrived,
		UpdatedAt:         time.Now(),
	}
	if s.station != nil {
		station := *s.station
		destination := station.Coordinate
		snap.Station = &station
		snap.Destination = &destination
	}
	if s.position != nil {
		position := *s.position
		snap.UserPosition = &position
	}
	if s.plan != nil {
		snap.RouteGeometry = s.plan.Geometry
	}
	if s.lastErr != nil {
		snap.Error = ErrorCode(s.lastErr)
	}
	return snap
}
