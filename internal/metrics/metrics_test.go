package metrics

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{409, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusClass(tt.code), tt.code)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/payments/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/payments/:id", "4xx"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/payments/tx_1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/payments/tx_2", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/payments/:id", "4xx"))

	assert.Equal(t, 2.0, after-before)

	before = testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx"))-before)
}

func TestRecordDBStats(t *testing.T) {
	recordDBStats(sql.DBStats{OpenConnections: 4, InUse: 3, WaitCount: 7, WaitDuration: 2 * time.Second})
	assert.Equal(t, 4.0, testutil.ToFloat64(dbOpenConnections))
	assert.Equal(t, 3.0, testutil.ToFloat64(dbInUseConnections))
	assert.Equal(t, 7.0, testutil.ToFloat64(dbWaitCount))
	assert.Equal(t, 2.0, testutil.ToFloat64(dbWaitDuration))
	assert.Positive(t, testutil.ToFloat64(goroutines))
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "paybox_active_websocket_clients")
	assert.Contains(t, w.Body.String(), "paybox_goroutines")
}
