package profiles

import (
	"context"

	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/events"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

// HandleRegistered creates the profile announced by a registration event.
// Redelivery is expected: a profile that already exists counts as done.
// Payload errors are permanent and go straight to the dead-letter stream.
func (s *Service) HandleRegistered(ctx context.Context, env events.Envelope) error {
	var payload events.UserPayload
	if err := env.DecodePayload(&payload); err != nil {
		return apperrors.Wrap(err, apperrors.CodeBadRequest, "malformed registration event")
	}
	if payload.UserID == "" || payload.Email == "" {
		return apperrors.BadRequest("registration event without userId or email")
	}

	log := s.log.With(zap.String("user_id", payload.UserID), zap.String("event_id", env.ID))

	profile := &models.UserProfile{ID: payload.UserID, Email: payload.Email, FullName: payload.FullName}
	if err := s.store.Create(ctx, profile); err != nil {
		if apperrors.Is(err, apperrors.CodeConflict) {
			log.Info("Profile already exists, skipping duplicate event")
			return nil
		}
		// transient storage errors are retried by the consumer
		return err
	}

	log.Info("Profile created from registration event")
	return nil
}
