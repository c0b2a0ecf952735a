package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

// ProductStore is the products service persistence
type ProductStore interface {
	Create(ctx context.Context, p *models.Product) error
	FindByID(ctx context.Context, id string) (*models.Product, bool, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Product, error)
	List(ctx context.Context, f models.ListFilter) (models.Page[models.Product], error)
	Update(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error)
}

// CategoryResolver attaches categories to products; it never fails
type CategoryResolver interface {
	GetOne(ctx context.Context, id string) *models.Category
	GetBatch(ctx context.Context, ids []string) map[string]*models.Category
}

// CreateProductInput is the body of POST /products
type CreateProductInput struct {
	Name           string     `json:"name" binding:"required,max=255"`
	Description    string     `json:"description"`
	Price          float64    `json:"price" binding:"gte=0"`
	Inventory      int        `json:"inventory" binding:"gte=0"`
	IsFlashSale    bool       `json:"isFlashSale"`
	FlashSalePrice *float64   `json:"flashSalePrice" binding:"omitempty,gte=0"`
	FlashSaleStart *time.Time `json:"flashSaleStart"`
	FlashSaleEnd   *time.Time `json:"flashSaleEnd"`
	CategoryID     *string    `json:"categoryId"`
}

type ProductService struct {
	store      ProductStore
	categories CategoryResolver
	log        *zap.Logger
}

func NewProductService(store ProductStore, categories CategoryResolver, log *zap.Logger) *ProductService {
	return &ProductService{store: store, categories: categories, log: logger.OrNop(log)}
}

func (s *ProductService) Create(ctx context.Context, in CreateProductInput) (*models.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.Validation("name is required")
	}
	if in.IsFlashSale {
		if in.FlashSalePrice == nil {
			return nil, apperrors.Validation("flashSalePrice is required for a flash sale")
		}
		if in.FlashSaleStart != nil && in.FlashSaleEnd != nil && !in.FlashSaleEnd.After(*in.FlashSaleStart) {
			return nil, apperrors.Validation("flashSaleEnd must be after flashSaleStart")
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to generate product id")
	}
	p := &models.Product{
		ID:             id.String(),
		Name:           in.Name,
		Description:    in.Description,
		Price:          in.Price,
		Inventory:      in.Inventory,
		IsFlashSale:    in.IsFlashSale,
		FlashSalePrice: in.FlashSalePrice,
		FlashSaleStart: in.FlashSaleStart,
		FlashSaleEnd:   in.FlashSaleEnd,
		CategoryID:     in.CategoryID,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, apperrors.ServerError(err, "failed to create product")
	}

	s.log.Info("Product created", zap.String("product_id", p.ID))
	return p, nil
}

// FindByID returns the product with its category, nil if unresolvable
func (s *ProductService) FindByID(ctx context.Context, id string) (*models.ProductView, error) {
	p, ok, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to load product")
	}
	if !ok {
		return nil, apperrors.NotFound("Product not found")
	}

	view := &models.ProductView{Product: *p}
	if p.CategoryID != nil {
		view.Category = s.categories.GetOne(ctx, *p.CategoryID)
	}
	return view, nil
}

// FindByIDs returns the existing products among ids with their categories
func (s *ProductService) FindByIDs(ctx context.Context, ids []string) ([]models.ProductView, error) {
	products, err := s.store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to load products")
	}
	return s.attachCategories(ctx, products), nil
}

// List returns one page of products. Categories for the whole page are
// fetched in a single batch call.
func (s *ProductService) List(ctx context.Context, f models.ListFilter) (models.Page[models.ProductView], error) {
	page, err := s.store.List(ctx, f)
	if err != nil {
		return models.Page[models.ProductView]{}, apperrors.ServerError(err, "failed to list products")
	}
	return models.Page[models.ProductView]{
		Data:       s.attachCategories(ctx, page.Data),
		Total:      page.Total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: page.TotalPages,
	}, nil
}

func (s *ProductService) Update(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, apperrors.Validation("name must not be empty")
	}
	p, err := s.store.Update(ctx, id, patch)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return nil, apperrors.NotFound("Product not found")
		}
		return nil, apperrors.ServerError(err, "failed to update product")
	}
	return p, nil
}

func (s *ProductService) attachCategories(ctx context.Context, products []models.Product) []models.ProductView {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		if p.CategoryID != nil {
			ids = append(ids, *p.CategoryID)
		}
	}

	var byID map[string]*models.Category
	if len(ids) > 0 {
		byID = s.categories.GetBatch(ctx, ids)
	}

	views := make([]models.ProductView, len(products))
	for i, p := range products {
		views[i] = models.ProductView{Product: p}
		if p.CategoryID != nil {
			views[i].Category = byID[*p.CategoryID]
		}
	}
	return views
}
