package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

// AccountStore is the persistence the auth service needs
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, bool, error)
	FindByID(ctx context.Context, id string) (*models.Account, bool, error)
	Create(ctx context.Context, a *models.Account) error
	UpdateRefreshTokenHash(ctx context.Context, id string, hash *string) error
	Delete(ctx context.Context, id string) error
}

// AuthResult is returned by register, login and refresh
type AuthResult struct {
	User   *models.Account `json:"user"`
	Tokens TokenPair       `json:"tokens"`
}

// credentials issues a token pair and persists the refresh hash.
// Storing the new hash revokes any previous refresh token.
type credentials struct {
	accounts AccountStore
	hasher   *Hasher
	tokens   *TokenIssuer
}

func (c credentials) issue(ctx context.Context, a *models.Account) (*AuthResult, error) {
	pair, err := c.tokens.Issue(a.ID, a.Email)
	if err != nil {
		return nil, err
	}
	hash, err := c.hasher.HashToken(pair.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to hash refresh token: %w", err)
	}
	if err := c.accounts.UpdateRefreshTokenHash(ctx, a.ID, &hash); err != nil {
		return nil, err
	}
	a.RefreshTokenHash = &hash
	return &AuthResult{User: a, Tokens: pair}, nil
}

// Service handles login and token refresh
type Service struct {
	credentials
	log *zap.Logger
}

func NewService(accounts AccountStore, hasher *Hasher, tokens *TokenIssuer, log *zap.Logger) *Service {
	return &Service{
		credentials: credentials{accounts: accounts, hasher: hasher, tokens: tokens},
		log:         logger.OrNop(log),
	}
}

// Login checks email and password and issues a fresh pair
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	account, ok, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to look up account")
	}
	if !ok || !s.hasher.ComparePassword(account.PasswordHash, password) {
		return nil, apperrors.Unauthorized("Invalid credentials")
	}
	if !account.IsActive {
		return nil, apperrors.Unauthorized("Account is disabled")
	}

	result, err := s.issue(ctx, account)
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to issue tokens")
	}
	s.log.Info("User logged in", zap.String("user_id", account.ID))
	return result, nil
}

// Refresh exchanges a valid refresh token for a new pair. The token must
// match the hash stored at its last issuance; the stored hash is rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, apperrors.Unauthorized("Invalid refresh token")
	}

	account, ok, err := s.accounts.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to look up account")
	}
	if !ok || account.RefreshTokenHash == nil {
		return nil, apperrors.Unauthorized("Invalid refresh token")
	}
	if !s.hasher.CompareToken(*account.RefreshTokenHash, refreshToken) {
		s.log.Warn("Refresh token does not match stored hash", zap.String("user_id", account.ID))
		return nil, apperrors.Unauthorized("Invalid refresh token")
	}
	if !account.IsActive {
		return nil, apperrors.Unauthorized("Account is disabled")
	}

	result, err := s.issue(ctx, account)
	if err != nil {
		return nil, apperrors.ServerError(err, "failed to issue tokens")
	}
	return result, nil
}
