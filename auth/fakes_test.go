package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
	"github.com/samandartukhtayev/ecommerce-sharding/provisioning"
)

// memoryAccounts is an in-memory AccountStore. The func fields override
// individual operations when set.
type memoryAccounts struct {
	mu       sync.Mutex
	byID     map[string]*models.Account
	deleteFn func(ctx context.Context, id string) error

	refreshUpdates int
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{byID: make(map[string]*models.Account)}
}

func (m *memoryAccounts) FindByEmail(ctx context.Context, email string) (*models.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == email {
			cp := *a
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (m *memoryAccounts) FindByID(ctx context.Context, id string) (*models.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

func (m *memoryAccounts) Create(ctx context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == a.Email {
			return apperrors.Conflict("email already registered")
		}
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	m.byID[a.ID] = &cp
	return nil
}

func (m *memoryAccounts) UpdateRefreshTokenHash(ctx context.Context, id string, hash *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return apperrors.NotFound("account not found")
	}
	a.RefreshTokenHash = hash
	m.refreshUpdates++
	return nil
}

func (m *memoryAccounts) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apperrors.NotFound("account not found")
	}
	delete(m.byID, id)
	return nil
}

func (m *memoryAccounts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// stubStrategy is a provisioning.Strategy driven by a func field
type stubStrategy struct {
	name      string
	provision func(ctx context.Context, req provisioning.ProfileRequest) error
	calls     int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Provision(ctx context.Context, req provisioning.ProfileRequest) error {
	s.calls++
	if s.provision == nil {
		return nil
	}
	return s.provision(ctx, req)
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
		Issuer:        DefaultIssuer,
	}
}

func testIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	ti, err := NewTokenIssuer(testJWTConfig())
	require.NoError(t, err)
	return ti
}

func testHasher() *Hasher {
	return NewHasher(bcrypt.MinCost)
}
