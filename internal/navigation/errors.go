package navigation

import "errors"

// Sensor failures.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrPositionTimeout     = errors.New("position timeout")
)

// Routing failures.
var (
	ErrNoRouteFound       = errors.New("no route found")
	ErrServiceUnavailable = errors.New("routing service unavailable")
	ErrRouteTimeout       = errors.New("routing timeout")
)

// Session failures.
var (
	// ErrSuperseded is returned to the caller of a plan request whose result
	// was discarded because a newer request had been issued. It is never
	// meant to reach the user.
	ErrSuperseded        = errors.New("route request superseded")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrModeLocked        = errors.New("travel mode cannot change while navigating")
	ErrInvalidMode       = errors.New("invalid travel mode")
	ErrNoPlan            = errors.New("no valid route plan")
)

// ErrorCode maps an error to the short code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrPositionUnavailable):
		return "position_unavailable"
	case errors.Is(err, ErrPositionTimeout):
		return "position_timeout"
	case errors.Is(err, ErrNoRouteFound):
		return "no_route_found"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrRouteTimeout):
		return "route_timeout"
	case errors.Is(err, ErrModeLocked):
		return "mode_locked"
	case errors.Is(err, ErrInvalidMode):
		return "invalid_mode"
	case errors.Is(err, ErrNoPlan):
		return "no_plan"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	}
	return "internal"
}
