package position

import (
	"fmt"

	"station-navigation/internal/navigation"
)

// ErrorFromCode maps the error codes reported by device geolocation APIs to
// sensor errors.
func ErrorFromCode(code string) error {
	switch code {
	case "permission_denied":
		return navigation.ErrPermissionDenied
	case "position_unavailable":
		return navigation.ErrPositionUnavailable
	case "timeout":
		return navigation.ErrPositionTimeout
	}
	return fmt.Errorf("unknown sensor error %q: %w", code, navigation.ErrPositionUnavailable)
}
