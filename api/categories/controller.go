package categories

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/samandartukhtayev/ecommerce-sharding/api/products"
	"github.com/samandartukhtayev/ecommerce-sharding/api/response"
	"github.com/samandartukhtayev/ecommerce-sharding/catalog"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

type CategoryService interface {
	Create(ctx context.Context, in catalog.CreateCategoryInput) (*models.Category, error)
	Get(ctx context.Context, id string) (*models.Category, error)
	List(ctx context.Context, f models.ListFilter) (models.Page[models.Category], error)
	Update(ctx context.Context, id string, patch models.CategoryPatch) (*models.Category, error)
}

type Controller struct {
	categories CategoryService
}

func NewController(categories CategoryService) *Controller {
	return &Controller{categories: categories}
}

func (c *Controller) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/categories")
	{
		group.POST("", c.Create)
		group.GET("", c.List)
		group.GET("/:id", c.Get)
		group.PUT("/:id", c.Update)
	}
}

func (c *Controller) Create(ctx *gin.Context) {
	var req catalog.CreateCategoryInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.HandleBindError(ctx, err)
		return
	}

	category, err := c.categories.Create(ctx.Request.Context(), req)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleCreated(ctx, category, "Category created successfully")
}

func (c *Controller) Get(ctx *gin.Context) {
	category, err := c.categories.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleSuccess(ctx, category, "Category retrieved successfully")
}

func (c *Controller) List(ctx *gin.Context) {
	page, err := c.categories.List(ctx.Request.Context(), products.ListFilterFromQuery(ctx))
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleSuccess(ctx, page, "Categories retrieved successfully")
}

func (c *Controller) Update(ctx *gin.Context) {
	var patch models.CategoryPatch
	if err := ctx.ShouldBindJSON(&patch); err != nil {
		response.HandleBindError(ctx, err)
		return
	}

	category, err := c.categories.Update(ctx.Request.Context(), ctx.Param("id"), patch)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleSuccess(ctx, category, "Category updated successfully")
}
