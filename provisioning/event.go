package provisioning

import (
	"context"

	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/events"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
)

// EventStrategy publishes a registration event and returns immediately.
// The profile appears eventually; a failed publish is logged, never
// surfaced, so registration does not depend on the bus being up.
type EventStrategy struct {
	publisher  events.Publisher
	exchange   string
	routingKey string
	log        *zap.Logger
}

func NewEventStrategy(publisher events.Publisher, exchange, routingKey string, log *zap.Logger) *EventStrategy {
	return &EventStrategy{
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
		log:        logger.OrNop(log),
	}
}

func (s *EventStrategy) Name() string { return config.StrategyEvent }

func (s *EventStrategy) Provision(ctx context.Context, req ProfileRequest) error {
	env, err := events.NewEnvelope(s.routingKey, req.ID, events.UserPayload{
		UserID:   req.ID,
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		s.log.Error("Failed to build user registration event", zap.String("user_id", req.ID), zap.Error(err))
		return nil
	}

	if err := s.publisher.Publish(ctx, s.exchange, s.routingKey, env); err != nil {
		s.log.Error("Failed to publish user registration event",
			zap.String("user_id", req.ID),
			zap.String("event_id", env.ID),
			zap.Error(err),
		)
		return nil
	}

	s.log.Debug("User registration event published", zap.String("user_id", req.ID), zap.String("event_id", env.ID))
	return nil
}
