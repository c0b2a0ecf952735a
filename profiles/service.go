// Package profiles is the users-service application layer: profile CRUD
// on the sharded store and the consumer side of registration events.
package profiles

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/events"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

// Store is the sharded profile persistence
type Store interface {
	Create(ctx context.Context, p *models.UserProfile) error
	FindByID(ctx context.Context, id string) (*models.UserProfile, bool, error)
	Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.UserProfile, error)
	Delete(ctx context.Context, id string) error
	CountPerShard(ctx context.Context) (map[int]int, error)
}

// CreateInput is the body of POST /profiles
type CreateInput struct {
	ID       string  `json:"id" binding:"required"`
	Email    string  `json:"email" binding:"required,email"`
	FullName *string `json:"fullName"`
}

// Service owns profile reads and writes. Change notifications are
// published best-effort when a publisher is configured.
type Service struct {
	store      Store
	publisher  events.Publisher
	exchange   string
	updatedKey string
	deletedKey string
	log        *zap.Logger
}

func NewService(store Store, publisher events.Publisher, ec config.EventsConfig, log *zap.Logger) *Service {
	return &Service{
		store:      store,
		publisher:  publisher,
		exchange:   ec.Exchange,
		updatedKey: ec.UpdatedKey,
		deletedKey: ec.DeletedKey,
		log:        logger.OrNop(log),
	}
}

// Create stores a new profile; an existing id is a Conflict
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.UserProfile, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Email) == "" {
		return nil, apperrors.BadRequest("id and email are required")
	}

	profile := &models.UserProfile{ID: in.ID, Email: in.Email, FullName: in.FullName}
	if err := s.store.Create(ctx, profile); err != nil {
		if apperrors.Is(err, apperrors.CodeConflict) {
			return nil, apperrors.Conflict("Profile already exists")
		}
		return nil, apperrors.ServerError(err, "failed to create profile")
	}

	s.log.Info("Profile created", zap.String("user_id", profile.ID))
	return profile, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.UserProfile, error) {
	profile, ok, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to load profile")
	}
	if !ok {
		return nil, apperrors.NotFound("Profile not found")
	}
	return profile, nil
}

// Update applies patch. An empty patch returns the stored profile unchanged.
func (s *Service) Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.UserProfile, error) {
	if patch.IsEmpty() {
		return s.Get(ctx, id)
	}

	profile, err := s.store.Update(ctx, id, patch)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return nil, apperrors.NotFound("Profile not found")
		}
		return nil, apperrors.ServerError(err, "failed to update profile")
	}

	s.notify(ctx, s.updatedKey, profile)
	return profile, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	profile, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return apperrors.NotFound("Profile not found")
		}
		return apperrors.ServerError(err, "failed to delete profile")
	}

	s.log.Info("Profile deleted", zap.String("user_id", id))
	s.notify(ctx, s.deletedKey, profile)
	return nil
}

// ShardDistribution returns the profile count per shard id
func (s *Service) ShardDistribution(ctx context.Context) (map[int]int, error) {
	counts, err := s.store.CountPerShard(ctx)
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to count profiles")
	}
	return counts, nil
}

func (s *Service) notify(ctx context.Context, routingKey string, p *models.UserProfile) {
	if s.publisher == nil || routingKey == "" {
		return
	}
	env, err := events.NewEnvelope(routingKey, p.ID, events.UserPayload{
		UserID:   p.ID,
		Email:    p.Email,
		FullName: p.FullName,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, s.exchange, routingKey, env)
	}
	if err != nil {
		s.log.Warn("Failed to publish profile event",
			zap.String("routing_key", routingKey),
			zap.String("user_id", p.ID),
			zap.Error(err),
		)
	}
}
