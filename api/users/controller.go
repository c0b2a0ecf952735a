package users

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/samandartukhtayev/ecommerce-sharding/api/middleware"
	"github.com/samandartukhtayev/ecommerce-sharding/api/response"
	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
	"github.com/samandartukhtayev/ecommerce-sharding/profiles"
)

type ProfileService interface {
	Create(ctx context.Context, in profiles.CreateInput) (*models.UserProfile, error)
	Get(ctx context.Context, id string) (*models.UserProfile, error)
	Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.UserProfile, error)
	Delete(ctx context.Context, id string) error
	ShardDistribution(ctx context.Context) (map[int]int, error)
}

type Controller struct {
	profiles ProfileService
	validator middleware.AccessValidator
}

func NewController(profiles ProfileService, validator middleware.AccessValidator) *Controller {
	return &Controller{profiles: profiles, validator: validator}
}

// RegisterRoutes mounts the profile API. POST /profiles is called by the
// auth service during registration and is the only route not behind bearer
// auth.
func (c *Controller) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/profiles", c.CreateProfile)

	authed := router.Group("", middleware.AuthMiddleware(c.validator))
	{
		authed.DELETE("/profiles/:id", c.DeleteProfile)
		authed.GET("/admin/shards", c.ShardDistribution)
	}

	me := router.Group("/users/me", middleware.AuthMiddleware(c.validator))
	{
		me.GET("", c.GetMe)
		me.PUT("", c.UpdateMe)
	}
}

func (c *Controller) CreateProfile(ctx *gin.Context) {
	var req profiles.CreateInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.HandleBindError(ctx, err)
		return
	}

	profile, err := c.profiles.Create(ctx.Request.Context(), req)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleCreated(ctx, profile, "Profile created successfully")
}

func (c *Controller) GetMe(ctx *gin.Context) {
	profile, err := c.profiles.Get(ctx.Request.Context(), middleware.CurrentUserID(ctx))
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleSuccess(ctx, profile, "Profile retrieved successfully")
}

func (c *Controller) UpdateMe(ctx *gin.Context) {
	var patch models.ProfilePatch
	if err := ctx.ShouldBindJSON(&patch); err != nil {
		response.HandleBindError(ctx, err)
		return
	}

	profile, err := c.profiles.Update(ctx.Request.Context(), middleware.CurrentUserID(ctx), patch)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleSuccess(ctx, profile, "Profile updated successfully")
}

// DeleteProfile removes the caller's own profile
func (c *Controller) DeleteProfile(ctx *gin.Context) {
	id := ctx.Param("id")
	if id != middleware.CurrentUserID(ctx) {
		response.HandleAppError(ctx, apperrors.Forbidden("Cannot delete another user's profile"))
		return
	}

	if err := c.profiles.Delete(ctx.Request.Context(), id); err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleNoContent(ctx)
}

type ShardCount struct {
	ShardID  int `json:"shardId"`
	Profiles int `json:"profiles"`
}

func (c *Controller) ShardDistribution(ctx *gin.Context) {
	counts, err := c.profiles.ShardDistribution(ctx.Request.Context())
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	out := make([]ShardCount, 0, len(counts))
	for id := 0; id < len(counts); id++ {
		out = append(out, ShardCount{ShardID: id, Profiles: counts[id]})
	}
	response.HandleSuccess(ctx, out, "Shard distribution retrieved successfully")
}
