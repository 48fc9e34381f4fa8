package metric

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports that a snapshot does not satisfy a pass's
// expectations about proxy usage. URLs lists the offending responses.
type ValidationError struct {
	Code        string
	Description string
	URLs        []string
	Cause       error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Description)
	if len(e.URLs) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.URLs, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a ValidationError. An empty description is
// taken from ErrorDescriptions.
func NewValidationError(code, description string, urls []string, cause error) *ValidationError {
	if description == "" {
		description = ErrorDescriptions[code]
	}
	return &ValidationError{
		Code:        code,
		Description: description,
		URLs:        urls,
		Cause:       cause,
	}
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validation Error Codes
const (
	// Header Validation Errors (E1000-E1999)
	ErrCodeMissingViaHeader = "E1001"

	// Bypass Errors (E2000-E2999)
	ErrCodeUnexpectedViaHeader = "E2001"
	ErrCodeProxyDisabled       = "E2002"
	ErrCodeBadProxiesMismatch  = "E2003"
	ErrCodeBadProxyRetryWindow = "E2004"
	ErrCodeProxyNotBypassed    = "E2005"

	// Safebrowsing Errors (E3000-E3999)
	ErrCodeNotSafebrowsing = "E3001"
)

// ErrorDescriptions maps error codes to human-readable descriptions.
var ErrorDescriptions = map[string]string{
	ErrCodeMissingViaHeader: "Response should have the proxy Via header",

	ErrCodeUnexpectedViaHeader: "Response should not have the proxy Via header",
	ErrCodeProxyDisabled:       "Proxy is not enabled",
	ErrCodeBadProxiesMismatch:  "Bad proxies do not match the effective proxies",
	ErrCodeBadProxyRetryWindow: "Bad proxy retry time is outside the expected window",
	ErrCodeProxyNotBypassed:    "Effective proxies are not all marked bad",

	ErrCodeNotSafebrowsing: "Response is not a safebrowsing response",
}
