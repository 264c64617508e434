package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"station-navigation/internal/navigation"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type ClientOptions struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout: 12 * time.Second,
		Logger:  slog.Default(),
	}
}

func NewClient(baseURL string, options ...ClientOptions) *Client {
	opts := DefaultClientOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     opts.Logger,
	}
}

// PlanRoute asks the routing service for a path from origin to destination.
// Failures are reported as navigation.ErrNoRouteFound,
// navigation.ErrServiceUnavailable or navigation.ErrRouteTimeout; a cancelled
// ctx is returned as is.
func (c *Client) PlanRoute(ctx context.Context, origin, destination navigation.Coordinate, mode navigation.TravelMode) (*navigation.RoutePlan, error) {
	costing, err := CostingFor(mode)
	if err != nil {
		return nil, err
	}

	routeRequest := RouteRequest{
		Locations: []LocationRequest{
			{Lat: origin.Lat, Lon: origin.Lon},
			{Lat: destination.Lat, Lon: destination.Lon},
		},
		Costing: costing,
		Units:   UnitsKilometers,
	}

	trip, err := c.CalculateRoute(ctx, routeRequest)
	if err != nil {
		return nil, err
	}
	return trip.toPlan(destination, mode), nil
}

func (c *Client) CalculateRoute(ctx context.Context, routeRequest RouteRequest) (*Trip, error) {
	if err := routeRequest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid route request: %w", err)
	}

	reqURL, err := url.JoinPath(c.baseURL, "route")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	body, err := json.Marshal(routeRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, navigation.ErrNoRouteFound
	case resp.StatusCode != http.StatusOK:
		c.logger.Debug("routing service error", "status", resp.StatusCode)
		return nil, fmt.Errorf("unexpected status code %d: %w", resp.StatusCode, navigation.ErrServiceUnavailable)
	}

	var routeResponse RouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&routeResponse); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, c.classify(ctx, err)
		}
		return nil, fmt.Errorf("failed to decode response: %v: %w", err, navigation.ErrServiceUnavailable)
	}

	if len(routeResponse.Data) == 0 {
		return nil, navigation.ErrNoRouteFound
	}

	return &routeResponse.Data[0], nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%v: %w", err, navigation.ErrRouteTimeout)
	}
	return fmt.Errorf("failed to execute request: %v: %w", err, navigation.ErrServiceUnavailable)
}
