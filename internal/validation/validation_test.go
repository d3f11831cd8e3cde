package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"12.50", true},
		{"12.5", true},
		{"12", true},
		{"0.01", true},
		{"", true},
		{"0", false},
		{"0.00", false},
		{"12.505", false},
		{"-1", false},
		{"1,50", false},
		{".5", false},
		{"5.", false},
		{"1e3", false},
	}
	for _, tt := range tests {
		err := ValidAmount("amount", tt.value)()
		assert.Equal(t, tt.valid, err == nil, "ValidAmount(%q)", tt.value)
	}
}

func TestValidCurrencyCode(t *testing.T) {
	assert.Nil(t, ValidCurrencyCode("currency", "978")())
	assert.Nil(t, ValidCurrencyCode("currency", "")())
	assert.NotNil(t, ValidCurrencyCode("currency", "EUR")())
	assert.NotNil(t, ValidCurrencyCode("currency", "97")())
}

func TestValidEmail(t *testing.T) {
	assert.Nil(t, ValidEmail("email", "payer@example.com")())
	assert.Nil(t, ValidEmail("email", "")())
	assert.NotNil(t, ValidEmail("email", "not-an-email")())
	assert.NotNil(t, ValidEmail("email", "Payer <payer@example.com>")())
}

func TestValidLocalPath(t *testing.T) {
	assert.Nil(t, ValidLocalPath("returnUrl", "/orders/42?x=1")())
	assert.Nil(t, ValidLocalPath("returnUrl", "")())
	assert.NotNil(t, ValidLocalPath("returnUrl", "https://evil.example")())
	assert.NotNil(t, ValidLocalPath("returnUrl", "//evil.example")())
	assert.NotNil(t, ValidLocalPath("returnUrl", "/\\evil.example")())
}

func TestNoSpaces(t *testing.T) {
	assert.Nil(t, NoSpaces("reference", "SO042/1")())
	assert.Nil(t, NoSpaces("reference", "")())
	assert.NotNil(t, NoSpaces("reference", "ORDER 42")())
	assert.NotNil(t, NoSpaces("reference", "ORDER\t42")())
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("reference", " "),
		MaxLength("reference", strings.Repeat("x", 5), 3),
		ValidAmount("amount", "1.00"),
	)
	require.Len(t, errs, 2)
	assert.Equal(t, "reference: is required", errs.Error())
	assert.Equal(t, "exceeds maximum length", errs[1].Message)
	assert.Equal(t, "validation failed", ValidationErrors{}.Error())
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 10))
	assert.Equal(t, "hel", SanitizeString("hello", 3))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 10))
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reference":"too long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
