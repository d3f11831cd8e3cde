// Package validation checks API input before it reaches the services.
package validation

import (
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

var (
	// Positive decimal with at most two fractional digits.
	amountRegex   = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`)
	currencyRegex = regexp.MustCompile(`^[0-9]{3}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims s, drops NUL bytes and truncates it to maxLen bytes.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validator checks one field. It returns nil when the field is valid.
type Validator func() *ValidationError

// Validate runs validators and collects their errors.
func Validate(validators ...Validator) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) Validator {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) Validator {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// NoSpaces rejects values containing whitespace.
func NoSpaces(field, value string) Validator {
	return func() *ValidationError {
		if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
			return &ValidationError{Field: field, Message: "must not contain spaces"}
		}
		return nil
	}
}

// ValidAmount checks for a positive decimal amount with at most two
// fractional digits. Empty values pass; use Required for those.
func ValidAmount(field, value string) Validator {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !amountRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "invalid amount format"}
		}
		if strings.Trim(value, "0.") == "" {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}

// ValidCurrencyCode checks for an ISO 4217 numeric code such as "978".
func ValidCurrencyCode(field, value string) Validator {
	return func() *ValidationError {
		if value != "" && !currencyRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "must be a 3-digit ISO 4217 code"}
		}
		return nil
	}
}

// ValidEmail checks a bare address such as "payer@example.com".
func ValidEmail(field, value string) Validator {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != value {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// ValidLocalPath checks for a same-site absolute path such as "/orders/42".
func ValidLocalPath(field, value string) Validator {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !strings.HasPrefix(value, "/") || strings.HasPrefix(value, "//") || strings.Contains(value, "\\") {
			return &ValidationError{Field: field, Message: "must be a path starting with /"}
		}
		return nil
	}
}
