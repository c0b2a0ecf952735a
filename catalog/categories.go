package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

// CategoryStore is the categories service persistence
type CategoryStore interface {
	Create(ctx context.Context, c *models.Category) error
	FindByID(ctx context.Context, id string) (*models.Category, bool, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Category, error)
	List(ctx context.Context, f models.ListFilter) (models.Page[models.Category], error)
	Update(ctx context.Context, id string, patch models.CategoryPatch) (*models.Category, error)
}

// CreateCategoryInput is the body of POST /categories
type CreateCategoryInput struct {
	Name        string  `json:"name" binding:"required,max=100"`
	Slug        string  `json:"slug" binding:"required,max=100"`
	Description *string `json:"description"`
	ParentID    *string `json:"parentId"`
}

type CategoryService struct {
	store CategoryStore
	log   *zap.Logger
}

func NewCategoryService(store CategoryStore, log *zap.Logger) *CategoryService {
	return &CategoryService{store: store, log: logger.OrNop(log)}
}

func (s *CategoryService) Create(ctx context.Context, in CreateCategoryInput) (*models.Category, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Slug) == "" {
		return nil, apperrors.Validation("name and slug are required")
	}
	if in.ParentID != nil {
		if _, ok, err := s.store.FindByID(ctx, *in.ParentID); err != nil {
			return nil, apperrors.ServerError(err, "failed to load parent category")
		} else if !ok {
			return nil, apperrors.BadRequest("Parent category not found")
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to generate category id")
	}
	c := &models.Category{
		ID:          id.String(),
		Name:        in.Name,
		Slug:        in.Slug,
		Description: in.Description,
		ParentID:    in.ParentID,
	}
	if err := s.store.Create(ctx, c); err != nil {
		if apperrors.Is(err, apperrors.CodeConflict) {
			return nil, apperrors.Conflict("Category slug already exists")
		}
		return nil, apperrors.ServerError(err, "failed to create category")
	}

	s.log.Info("Category created", zap.String("category_id", c.ID), zap.String("slug", c.Slug))
	return c, nil
}

func (s *CategoryService) FindByID(ctx context.Context, id string) (*models.Category, bool, error) {
	return s.store.FindByID(ctx, id)
}

func (s *CategoryService) FindByIDs(ctx context.Context, ids []string) ([]models.Category, error) {
	return s.store.FindByIDs(ctx, ids)
}

// Get is FindByID with a missing category reported as NotFound
func (s *CategoryService) Get(ctx context.Context, id string) (*models.Category, error) {
	c, ok, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to load category")
	}
	if !ok {
		return nil, apperrors.NotFound("Category not found")
	}
	return c, nil
}

func (s *CategoryService) List(ctx context.Context, f models.ListFilter) (models.Page[models.Category], error) {
	page, err := s.store.List(ctx, f)
	if err != nil {
		return models.Page[models.Category]{}, apperrors.ServerError(err, "failed to list categories")
	}
	return page, nil
}

func (s *CategoryService) Update(ctx context.Context, id string, patch models.CategoryPatch) (*models.Category, error) {
	c, err := s.store.Update(ctx, id, patch)
	if err != nil {
		switch {
		case apperrors.Is(err, apperrors.CodeNotFound):
			return nil, apperrors.NotFound("Category not found")
		case apperrors.Is(err, apperrors.CodeConflict):
			return nil, apperrors.Conflict("Category slug already exists")
		}
		return nil, apperrors.ServerError(err, "failed to update category")
	}
	return c, nil
}
