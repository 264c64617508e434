package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"station-navigation/internal/incidents"
)

type IncidentHandler interface {
	MulticastIncident(ctx context.Context, incident *incidents.Incident, action string)
}

type Subscriber struct {
	logger  *slog.Logger
	client  *redis.Client
	topic   string
	handler IncidentHandler
}

func NewSubscriber(logger *slog.Logger, client *redis.Client, topic string, handler IncidentHandler) *Subscriber {
	return &Subscriber{
		logger:  logger,
		client:  client,
		topic:   topic,
		handler: handler,
	}
}

func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info("Redis subscriber is running", "topic", s.topic)
	pubsub := s.client.Subscribe(ctx, s.topic)
	defer func() {
		if err := pubsub.Close(); err != nil {
			s.logger.Warn("failed to close pubsub", "error", err)
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %q: %w", s.topic, err)
	}
	msgCh := pubsub.Channel()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				s.logger.Warn("pubsub channel closed by Redis")
				return nil
			}
			if err := s.handleMessage(ctx, msg.Payload); err != nil {
				s.logger.Error("error handling message", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("shutting down Redis subscriber")
			return nil
		}
	}
}

func (s *Subscriber) handleMessage(ctx context.Context, payload string) error {
	var msg IncidentMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("unmarshalling incident message: %w", err)
	}
	if !msg.Action.IsValid() {
		return fmt.Errorf("invalid action %q", msg.Action)
	}
	if err := msg.Data.Validate(); err != nil {
		return fmt.Errorf("invalid incident: %w", err)
	}

	s.logger.Debug("received incident", "incidentID", msg.Data.ID, "action", msg.Action)
	s.handler.MulticastIncident(ctx, &msg.Data, string(msg.Action))
	return nil
}
