package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samandartukhtayev/ecommerce-sharding/api/middleware"
	"github.com/samandartukhtayev/ecommerce-sharding/api/response"
	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/auth"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
	"github.com/samandartukhtayev/ecommerce-sharding/profiles"
)

type fakeProfiles struct {
	byID   map[string]*models.UserProfile
	shards map[int]int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{byID: map[string]*models.UserProfile{}}
}

func (f *fakeProfiles) Create(_ context.Context, in profiles.CreateInput) (*models.UserProfile, error) {
	if _, ok := f.byID[in.ID]; ok {
		return nil, apperrors.Conflict("Profile already exists")
	}
	p := &models.UserProfile{ID: in.ID, Email: in.Email, FullName: in.FullName}
	f.byID[in.ID] = p
	return p, nil
}

func (f *fakeProfiles) Get(_ context.Context, id string) (*models.UserProfile, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, apperrors.NotFound("Profile not found")
	}
	return p, nil
}

func (f *fakeProfiles) Update(_ context.Context, id string, patch models.ProfilePatch) (*models.UserProfile, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, apperrors.NotFound("Profile not found")
	}
	if patch.Bio != nil {
		p.Bio = patch.Bio
	}
	return p, nil
}

func (f *fakeProfiles) Delete(_ context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return apperrors.NotFound("Profile not found")
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeProfiles) ShardDistribution(context.Context) (map[int]int, error) {
	return f.shards, nil
}

// fixedValidator accepts exactly one token
type fixedValidator struct {
	token string
	sub   string
}

func (v fixedValidator) ValidateAccess(token string) (*auth.Claims, error) {
	if token != v.token {
		return nil, errors.New("bad token")
	}
	return &auth.Claims{Email: v.sub + "@x.com", RegisteredClaims: jwt.RegisteredClaims{Subject: v.sub}}, nil
}

func setupRouter(f *fakeProfiles) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(middleware.RequestIDMiddleware())
	NewController(f, fixedValidator{token: "good", sub: "u1"}).RegisterRoutes(engine.Group("/api/v1"))
	return engine
}

func do(t *testing.T, engine *gin.Engine, method, path, token string, body any) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var resp response.Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestCreateProfile(t *testing.T) {
	f := newFakeProfiles()
	engine := setupRouter(f)

	w, resp := do(t, engine, http.MethodPost, "/api/v1/profiles", "", gin.H{"id": "u1", "email": "u1@x.com", "fullName": "U One"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)
	require.Contains(t, f.byID, "u1")

	w, resp = do(t, engine, http.MethodPost, "/api/v1/profiles", "", gin.H{"id": "u1", "email": "u1@x.com"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", resp.Error)

	w, _ = do(t, engine, http.MethodPost, "/api/v1/profiles", "", gin.H{"email": "u2@x.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMe_RequiresBearer(t *testing.T) {
	engine := setupRouter(newFakeProfiles())

	w, _ := do(t, engine, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, engine, http.MethodGet, "/api/v1/users/me", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMe_GetAndUpdate(t *testing.T) {
	f := newFakeProfiles()
	f.byID["u1"] = &models.UserProfile{ID: "u1", Email: "u1@x.com"}
	f.byID["u2"] = &models.UserProfile{ID: "u2", Email: "u2@x.com"}
	engine := setupRouter(f)

	w, resp := do(t, engine, http.MethodGet, "/api/v1/users/me", "good", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", resp.Data.(map[string]interface{})["id"])

	w, resp = do(t, engine, http.MethodPut, "/api/v1/users/me", "good", gin.H{"bio": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", resp.Data.(map[string]interface{})["bio"])
	assert.Nil(t, f.byID["u2"].Bio, "only the caller's profile changes")
}

func TestMe_MissingProfile(t *testing.T) {
	engine := setupRouter(newFakeProfiles())

	w, resp := do(t, engine, http.MethodGet, "/api/v1/users/me", "good", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", resp.Error)
}

func TestDeleteProfile(t *testing.T) {
	f := newFakeProfiles()
	f.byID["u1"] = &models.UserProfile{ID: "u1"}
	engine := setupRouter(f)

	w, _ := do(t, engine, http.MethodDelete, "/api/v1/profiles/u1", "good", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, f.byID, "u1")

	w, _ = do(t, engine, http.MethodDelete, "/api/v1/profiles/u1", "good", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteProfile_RequiresOwnBearer(t *testing.T) {
	f := newFakeProfiles()
	f.byID["u1"] = &models.UserProfile{ID: "u1"}
	f.byID["u2"] = &models.UserProfile{ID: "u2"}
	engine := setupRouter(f)

	w, resp := do(t, engine, http.MethodDelete, "/api/v1/profiles/u1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", resp.Error)

	w, _ = do(t, engine, http.MethodDelete, "/api/v1/profiles/u1", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp = do(t, engine, http.MethodDelete, "/api/v1/profiles/u2", "good", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", resp.Error)

	assert.Contains(t, f.byID, "u1")
	assert.Contains(t, f.byID, "u2")
}

func TestShardDistribution_RequiresBearer(t *testing.T) {
	f := newFakeProfiles()
	f.shards = map[int]int{0: 1}
	engine := setupRouter(f)

	w, _ := do(t, engine, http.MethodGet, "/api/v1/admin/shards", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestShardDistribution(t *testing.T) {
	f := newFakeProfiles()
	f.shards = map[int]int{0: 3, 1: 0, 2: 7, 3: 1}
	engine := setupRouter(f)

	w, _ := do(t, engine, http.MethodGet, "/api/v1/admin/shards", "good", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []ShardCount `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []ShardCount{
		{ShardID: 0, Profiles: 3},
		{ShardID: 1, Profiles: 0},
		{ShardID: 2, Profiles: 7},
		{ShardID: 3, Profiles: 1},
	}, body.Data)
}
