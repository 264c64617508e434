package navigation

import (
	"context"
	"fmt"
)

// DefaultArrivalThreshold is the remaining routed distance, in meters, under
// which the traveler is considered arrived.
const DefaultArrivalThreshold = 50.0

type Progress struct {
	RemainingDistance float64
	RemainingDuration float64
	Arrived           bool
	Plan              *RoutePlan
}

// ProgressEvaluator measures what is left of a trip by re-planning from the
// current position. Straight-line distance underestimates what is left to
// travel, so only routed distance is used.
type ProgressEvaluator struct {
	planner   RoutePlanner
	threshold float64
}

func NewProgressEvaluator(planner RoutePlanner, arrivalThreshold float64) *ProgressEvaluator {
	if arrivalThreshold <= 0 {
		arrivalThreshold = DefaultArrivalThreshold
	}
	return &ProgressEvaluator{planner: planner, threshold: arrivalThreshold}
}

func (e *ProgressEvaluator) Threshold() float64 {
	return e.threshold
}

func (e *ProgressEvaluator) Evaluate(ctx context.Context, current, destination Coordinate, mode TravelMode) (Progress, error) {
	plan, err := e.planner.PlanRoute(ctx, current, destination, mode)
	if err != nil {
		return Progress{}, fmt.Errorf("evaluating progress: %w", err)
	}
	return Progress{
		RemainingDistance: plan.DistanceMeters,
		RemainingDuration: plan.DurationSeconds,
		Arrived:           e.HasArrived(plan.DistanceMeters),
		Plan:              plan,
	}, nil
}

func (e *ProgressEvaluator) HasArrived(remainingDistance float64) bool {
	return remainingDistance < e.threshold
}
