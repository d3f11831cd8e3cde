package merchant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/paybox/internal/auth"
	"github.com/mbd888/paybox/internal/paybox"
	"github.com/mbd888/paybox/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAcquirer(t *testing.T) *Acquirer {
	t.Helper()
	return &Acquirer{
		ID:          "acq_1",
		Name:        "Main shop",
		SiteID:      "1999888",
		RankID:      "32",
		MerchantID:  "107904482",
		Environment: paybox.EnvironmentTest,
		TestHMACKey: testutil.TestHMACKey,
		PublicKey:   testutil.PublicKeyPEMBase64(t, testutil.GatewayKey(t)),
	}
}

func TestAcquirer_Validate(t *testing.T) {
	require.NoError(t, validAcquirer(t).Validate())

	tests := []struct {
		name   string
		mutate func(a *Acquirer)
	}{
		{"missing site", func(a *Acquirer) { a.SiteID = "" }},
		{"missing public key", func(a *Acquirer) { a.PublicKey = "" }},
		{"bad public key", func(a *Acquirer) { a.PublicKey = "bm90IGEga2V5" }},
		{"missing test key", func(a *Acquirer) { a.TestHMACKey = "" }},
		{"prod without prod key", func(a *Acquirer) { a.Environment = paybox.EnvironmentProd }},
		{"unknown environment", func(a *Acquirer) { a.Environment = "staging" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAcquirer(t)
			tt.mutate(a)
			assert.ErrorIs(t, a.Validate(), ErrInvalidAcquirer)
		})
	}
}

func TestAcquirer_ValidateListsMissingFields(t *testing.T) {
	err := (&Acquirer{}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id, site id, rank id, paybox id, public key")
}

func TestService_RegisterAndMerchantConfig(t *testing.T) {
	svc := NewService(NewMemoryStore(), "https://shop.example.com")
	ctx := context.Background()

	a := validAcquirer(t)
	require.NoError(t, svc.Register(ctx, a))
	assert.Equal(t, paybox.DefaultActionURL, a.ActionURL)
	assert.Equal(t, paybox.DefaultTestActionURL, a.TestActionURL)
	assert.False(t, a.CreatedAt.IsZero())

	cfg, err := svc.MerchantConfig(ctx, "acq_1")
	require.NoError(t, err)
	assert.Equal(t, "1999888", cfg.SiteID)
	assert.Equal(t, paybox.DefaultTestActionURL, cfg.ActiveActionURL())
	assert.Equal(t, testutil.TestHMACKey, cfg.ActiveHMACKey())
	assert.Equal(t, "https://shop.example.com", cfg.BaseURL)

	_, err = svc.MerchantConfig(ctx, "acq_missing")
	assert.ErrorIs(t, err, ErrAcquirerNotFound)
}

func TestService_RegisterKeepsCreatedAt(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, "https://shop.example.com")
	ctx := context.Background()

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }
	require.NoError(t, svc.Register(ctx, validAcquirer(t)))

	svc.now = func() time.Time { return first.Add(time.Hour) }
	updated := validAcquirer(t)
	updated.Name = "Renamed"
	require.NoError(t, svc.Register(ctx, updated))

	got, err := svc.Get(ctx, "acq_1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, first.Equal(got.CreatedAt))
	assert.True(t, first.Add(time.Hour).Equal(got.UpdatedAt))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestService_RegisterRejectsInvalid(t *testing.T) {
	svc := NewService(NewMemoryStore(), "")
	a := validAcquirer(t)
	a.MerchantID = ""
	assert.ErrorIs(t, svc.Register(context.Background(), a), ErrInvalidAcquirer)

	all, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHandler_GetAcquirer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(NewMemoryStore(), "https://shop.example.com")
	require.NoError(t, svc.Register(context.Background(), validAcquirer(t)))

	route := func(acquirerID string) *httptest.ResponseRecorder {
		r := gin.New()
		g := r.Group("/v1")
		g.Use(func(c *gin.Context) {
			if acquirerID != "" {
				c.Set(auth.ContextKeyAcquirerID, acquirerID)
			}
		})
		NewHandler(svc).RegisterRoutes(g)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/acquirer", nil))
		return w
	}

	w := route("acq_1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), testutil.TestHMACKey)

	var resp struct {
		Acquirer Acquirer `json:"acquirer"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "1999888", resp.Acquirer.SiteID)

	assert.Equal(t, http.StatusUnauthorized, route("").Code)
	assert.Equal(t, http.StatusNotFound, route("acq_gone").Code)
}
