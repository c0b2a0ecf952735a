package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

// CategoryRepository persists categories with gorm
type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) Create(ctx context.Context, c *models.Category) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Wrap(err, apperrors.CodeConflict, "category slug already exists")
		}
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

func (r *CategoryRepository) FindByID(ctx context.Context, id string) (*models.Category, bool, error) {
	var c models.Category
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, true, nil
}

// FindByIDs returns the categories that exist among ids, in no particular order
func (r *CategoryRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Category, error) {
	if len(ids) == 0 {
		return []models.Category{}, nil
	}
	var categories []models.Category
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}
	return categories, nil
}

func (r *CategoryRepository) List(ctx context.Context, f models.ListFilter) (models.Page[models.Category], error) {
	f.Normalize()

	q := r.db.WithContext(ctx).Model(&models.Category{})
	if f.Name != "" {
		q = q.Where("name LIKE ?", "%"+f.Name+"%")
	}
	if f.Slug != "" {
		q = q.Where("slug = ?", f.Slug)
	}
	if f.ParentID != "" {
		q = q.Where("parent_id = ?", f.ParentID)
	}

	// shared filter, fresh statement per query
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return models.Page[models.Category]{}, fmt.Errorf("failed to count categories: %w", err)
	}

	var categories []models.Category
	if err := q.Order("created_at DESC").Offset(f.Offset()).Limit(f.Limit).Find(&categories).Error; err != nil {
		return models.Page[models.Category]{}, fmt.Errorf("failed to list categories: %w", err)
	}

	return models.NewPage(categories, total, f.Page, f.Limit), nil
}

func (r *CategoryRepository) Update(ctx context.Context, id string, patch models.CategoryPatch) (*models.Category, error) {
	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Slug != nil {
		updates["slug"] = *patch.Slug
	}

	if len(updates) > 0 {
		res := r.db.WithContext(ctx).Model(&models.Category{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return nil, apperrors.Wrap(res.Error, apperrors.CodeConflict, "category slug already exists")
			}
			return nil, fmt.Errorf("failed to update category: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, apperrors.NotFound(fmt.Sprintf("category not found: %s", id))
		}
	}

	c, ok, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound(fmt.Sprintf("category not found: %s", id))
	}
	return c, nil
}
