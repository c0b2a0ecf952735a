package products

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/samandartukhtayev/ecommerce-sharding/api/response"
	"github.com/samandartukhtayev/ecommerce-sharding/catalog"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

type ProductService interface {
	Create(ctx context.Context, in catalog.CreateProductInput) (*models.Product, error)
	FindByID(ctx context.Context, id string) (*models.ProductView, error)
	List(ctx context.Context, f models.ListFilter) (models.Page[models.ProductView], error)
	Update(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error)
}

type Controller struct {
	products ProductService
}

func NewController(products ProductService) *Controller {
	return &Controller{products: products}
}

func (c *Controller) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/products")
	{
		group.POST("", c.Create)
		group.GET("", c.List)
		group.GET("/:id", c.Get)
		group.PUT("/:id", c.Update)
	}
}

func (c *Controller) Create(ctx *gin.Context) {
	var req catalog.CreateProductInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.HandleBindError(ctx, err)
		return
	}

	product, err := c.products.Create(ctx.Request.Context(), req)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleCreated(ctx, product, "Product created successfully")
}

func (c *Controller) Get(ctx *gin.Context) {
	product, err := c.products.FindByID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleSuccess(ctx, product, "Product retrieved successfully")
}

func (c *Controller) List(ctx *gin.Context) {
	page, err := c.products.List(ctx.Request.Context(), ListFilterFromQuery(ctx))
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleSuccess(ctx, page, "Products retrieved successfully")
}

func (c *Controller) Update(ctx *gin.Context) {
	var patch models.ProductPatch
	if err := ctx.ShouldBindJSON(&patch); err != nil {
		response.HandleBindError(ctx, err)
		return
	}

	product, err := c.products.Update(ctx.Request.Context(), ctx.Param("id"), patch)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleSuccess(ctx, product, "Product updated successfully")
}

// ListFilterFromQuery reads page, limit and the name/slug/parentId filters.
// Malformed numbers fall back to the filter defaults.
func ListFilterFromQuery(ctx *gin.Context) models.ListFilter {
	page, _ := strconv.Atoi(ctx.Query("page"))
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	return models.ListFilter{
		Name:     ctx.Query("name"),
		Slug:     ctx.Query("slug"),
		ParentID: ctx.Query("parentId"),
		Page:     page,
		Limit:    limit,
	}
}
