package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
	"github.com/samandartukhtayev/ecommerce-sharding/metrics"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
	"github.com/samandartukhtayev/ecommerce-sharding/provisioning"
)

const defaultCompensationTimeout = 5 * time.Second

var (
	// ErrRegistrationRolledBack means provisioning failed and the account was removed
	ErrRegistrationRolledBack = errors.New("registration rolled back")
	// ErrRollbackIncomplete means provisioning failed and the account could
	// not be removed either; an orphan account may remain.
	ErrRollbackIncomplete = errors.New("registration rollback incomplete")
)

// Client-facing messages for a failed registration. A rolled back attempt
// can simply be retried; an incomplete rollback leaves an account behind
// that blocks the email until it is cleaned up.
const (
	MsgRegistrationRolledBack = "Registration rolled back, please retry"
	MsgRollbackIncomplete     = "Registration failed, account cleanup pending"
)

// RegisterInput is a validated registration request
type RegisterInput struct {
	Email    string  `json:"email" binding:"required,email"`
	Password string  `json:"password" binding:"required,min=8,max=50"`
	FullName *string `json:"fullName"`
}

// RegistrationOrchestrator creates an account and its remote profile as
// one logical unit. With a synchronous strategy a failed provisioning
// deletes the account again; with an asynchronous one the profile
// follows eventually.
type RegistrationOrchestrator struct {
	credentials
	provisioner         provisioning.Strategy
	log                 *zap.Logger
	metrics             *metrics.Metrics
	compensationTimeout time.Duration
}

func NewRegistrationOrchestrator(
	accounts AccountStore,
	provisioner provisioning.Strategy,
	hasher *Hasher,
	tokens *TokenIssuer,
	log *zap.Logger,
	m *metrics.Metrics,
) *RegistrationOrchestrator {
	return &RegistrationOrchestrator{
		credentials:         credentials{accounts: accounts, hasher: hasher, tokens: tokens},
		provisioner:         provisioner,
		log:                 logger.OrNop(log),
		metrics:             m,
		compensationTimeout: defaultCompensationTimeout,
	}
}

// Register runs the registration saga. Errors are Conflict for a taken
// email or ServerError otherwise; no tokens exist unless it succeeds.
func (o *RegistrationOrchestrator) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	strategy := o.provisioner.Name()
	email := strings.TrimSpace(in.Email)
	saga := newRegistrationSaga()

	_, exists, err := o.accounts.FindByEmail(ctx, email)
	if err != nil {
		o.metrics.Registration(strategy, metrics.OutcomeFailure)
		return nil, apperrors.ServerError(err, "failed to check existing account")
	}
	if exists {
		o.metrics.Registration(strategy, metrics.OutcomeDuplicate)
		return nil, apperrors.Conflict("User already exists")
	}

	hash, err := o.hasher.HashPassword(in.Password)
	if err != nil {
		o.metrics.Registration(strategy, metrics.OutcomeFailure)
		return nil, apperrors.ServerError(err, "failed to hash password")
	}
	id, err := uuid.NewV7()
	if err != nil {
		o.metrics.Registration(strategy, metrics.OutcomeFailure)
		return nil, apperrors.ServerError(err, "failed to generate account id")
	}

	account := &models.Account{
		ID:           id.String(),
		Email:        email,
		PasswordHash: hash,
		FullName:     in.FullName,
		IsActive:     true,
	}
	if err := o.accounts.Create(ctx, account); err != nil {
		if apperrors.Is(err, apperrors.CodeConflict) {
			// lost a race with a concurrent registration of the same email
			o.metrics.Registration(strategy, metrics.OutcomeDuplicate)
			return nil, apperrors.Conflict("User already exists")
		}
		o.metrics.Registration(strategy, metrics.OutcomeFailure)
		return nil, apperrors.ServerError(err, "failed to create account")
	}
	if err := saga.advance(SagaAccountCreated); err != nil {
		return nil, apperrors.ServerError(err, "registration failed")
	}
	saga.onCompensate(SagaAccountCreated, func(ctx context.Context) error {
		return o.accounts.Delete(ctx, account.ID)
	})

	log := o.log.With(zap.String("user_id", account.ID), zap.String("strategy", strategy))

	err = o.provisioner.Provision(ctx, provisioning.ProfileRequest{
		ID:       account.ID,
		Email:    account.Email,
		FullName: account.FullName,
	})
	if err != nil {
		return nil, o.rollback(ctx, saga, log, err)
	}
	if err := saga.advance(SagaProfileProvisioned); err != nil {
		return nil, apperrors.ServerError(err, "registration failed")
	}

	// the profile exists remotely from here on, so a failure below is not
	// compensated; the user can still log in
	result, err := o.issue(ctx, account)
	if err != nil {
		o.metrics.Registration(strategy, metrics.OutcomeFailure)
		log.Error("Registered user but failed to issue tokens", zap.Error(err))
		return nil, apperrors.ServerError(err, "failed to issue tokens")
	}
	if err := saga.advance(SagaDone); err != nil {
		return nil, apperrors.ServerError(err, "registration failed")
	}

	o.metrics.Registration(strategy, metrics.OutcomeSuccess)
	log.Info("User registered")
	return result, nil
}

// rollback deletes the account after a failed provisioning. It runs on a
// context detached from the caller's cancellation, so a client hanging up
// mid-request still gets compensated.
func (o *RegistrationOrchestrator) rollback(ctx context.Context, saga *registrationSaga, log *zap.Logger, cause error) error {
	strategy := o.provisioner.Name()
	log.Warn("Profile provisioning failed, rolling back account", zap.Error(cause))

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.compensationTimeout)
	defer cancel()

	if err := saga.compensate(cctx); err != nil {
		o.metrics.Registration(strategy, metrics.OutcomeFailure)
		log.Error("Failed to roll back account, orphan account left behind",
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return apperrors.ServerError(
			fmt.Errorf("%w: %w", ErrRollbackIncomplete, errors.Join(cause, err)),
			MsgRollbackIncomplete,
		)
	}

	o.metrics.Registration(strategy, metrics.OutcomeRolledBack)
	log.Info("Registration rolled back", zap.Stringer("state", saga.State()))
	return apperrors.ServerError(
		fmt.Errorf("%w: %w", ErrRegistrationRolledBack, cause),
		MsgRegistrationRolledBack,
	)
}
