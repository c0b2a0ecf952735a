package auth

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/samandartukhtayev/ecommerce-sharding/api/response"
	authapp "github.com/samandartukhtayev/ecommerce-sharding/auth"
)

type Registrar interface {
	Register(ctx context.Context, in authapp.RegisterInput) (*authapp.AuthResult, error)
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (*authapp.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*authapp.AuthResult, error)
}

type Controller struct {
	registrar     Registrar
	authenticator Authenticator
}

func NewController(registrar Registrar, authenticator Authenticator) *Controller {
	return &Controller{registrar: registrar, authenticator: authenticator}
}

func (c *Controller) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/auth")
	{
		group.POST("/register", c.Register)
		group.POST("/login", c.Login)
		group.POST("/refresh", c.Refresh)
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (c *Controller) Register(ctx *gin.Context) {
	var req authapp.RegisterInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.HandleBindError(ctx, err)
		return
	}

	result, err := c.registrar.Register(ctx.Request.Context(), req)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleCreated(ctx, result, "User registered successfully")
}

func (c *Controller) Login(ctx *gin.Context) {
	var req LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.HandleBindError(ctx, err)
		return
	}

	result, err := c.authenticator.Login(ctx.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleSuccess(ctx, result, "Login successful")
}

func (c *Controller) Refresh(ctx *gin.Context) {
	var req RefreshRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.HandleBindError(ctx, err)
		return
	}

	result, err := c.authenticator.Refresh(ctx.Request.Context(), req.RefreshToken)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}

	response.HandleSuccess(ctx, result, "Token refreshed successfully")
}
