package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGenerateAndValidateKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := m.GenerateKey(ctx, "acq_1", "backend")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, KeyPrefix))
	assert.Len(t, raw, len(KeyPrefix)+64)
	assert.True(t, strings.HasPrefix(key.ID, "ak_"))
	assert.NotContains(t, key.Hash, raw)

	got, err := m.ValidateKey(ctx, "Bearer "+raw)
	require.NoError(t, err)
	assert.Equal(t, "acq_1", got.AcquirerID)
	assert.Equal(t, "backend", got.Name)
}

func TestValidateKey_Rejections(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	_, err := m.ValidateKey(ctx, "")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = m.ValidateKey(ctx, "pk_abc")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = m.ValidateKey(ctx, KeyPrefix+"unknown")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestValidateKey_Expired(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	raw, key, err := m.GenerateKey(ctx, "acq_1", "short lived")
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	key.ExpiresAt = &past
	require.NoError(t, store.Create(ctx, key))

	_, err = m.ValidateKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestRevokeKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := m.GenerateKey(ctx, "acq_1", "backend")
	require.NoError(t, err)

	assert.ErrorIs(t, m.RevokeKey(ctx, "acq_2", key.ID), ErrKeyNotFound)
	require.NoError(t, m.RevokeKey(ctx, "acq_1", key.ID))

	_, err = m.ValidateKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestImportKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()
	raw := KeyPrefix + strings.Repeat("ab", 32)

	first, err := m.ImportKey(ctx, "acq_1", "env", raw)
	require.NoError(t, err)
	again, err := m.ImportKey(ctx, "acq_1", "env", raw)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	keys, err := m.ListKeys(ctx, "acq_1")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	_, err = m.ImportKey(ctx, "acq_1", "env", "sk_short")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func protectedRouter(m *Manager) *gin.Engine {
	r := gin.New()
	r.Use(Middleware(m))
	g := r.Group("/v1", RequireAuth())
	g.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, GetAuthenticatedAcquirer(c))
	})
	NewHandler(m).RegisterRoutes(g)
	return r
}

func TestMiddleware(t *testing.T) {
	m := NewManager(NewMemoryStore())
	raw, _, err := m.GenerateKey(context.Background(), "acq_1", "backend")
	require.NoError(t, err)
	r := protectedRouter(m)

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"bearer", "Authorization", "Bearer " + raw, http.StatusOK},
		{"x-api-key", "X-API-Key", raw, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"invalid", "Authorization", "Bearer sk_nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "acq_1", w.Body.String())
			}
		})
	}
}

func TestHandler_KeyLifecycle(t *testing.T) {
	m := NewManager(NewMemoryStore())
	raw, _, err := m.GenerateKey(context.Background(), "acq_1", "backend")
	require.NoError(t, err)
	r := protectedRouter(m)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+raw)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/v1/keys", `{"name":"ci"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"apiKey":"sk_`)
	assert.NotContains(t, w.Body.String(), "hash")

	w = do(http.MethodGet, "/v1/keys", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	w = do(http.MethodDelete, "/v1/keys/ak_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
