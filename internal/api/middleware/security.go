package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// apiContentSecurityPolicy suits a JSON-only API: nothing may be embedded
// or executed from a response.
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// SecurityConfig holds the CORS and response header policy.
type SecurityConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool // ignored when AllowedOrigins contains "*"

	ContentSecurityPolicy string
	ReferrerPolicy        string
}

// DefaultSecurityConfig allows any origin without credentials, matching a
// public upload endpoint used from a browser frontend.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		AllowedOrigins:        []string{"*"},
		ContentSecurityPolicy: apiContentSecurityPolicy,
		ReferrerPolicy:        "no-referrer",
	}
}

// NewCORS admits cross-origin GET and multipart POST requests. Preflight
// requests are answered without reaching handlers.
func NewCORS(config SecurityConfig) echo.MiddlewareFunc {
	allowCredentials := config.AllowCredentials
	for _, o := range config.AllowedOrigins {
		if o == "*" {
			allowCredentials = false
			break
		}
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderXRequestID},
		ExposeHeaders:    []string{echo.HeaderXRequestID, echo.HeaderRetryAfter},
		AllowCredentials: allowCredentials,
		MaxAge:           600,
	})
}

// NewSecureHeaders sets response hardening headers. HSTS is left to the
// TLS-terminating proxy.
func NewSecureHeaders(config SecurityConfig) echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: config.ContentSecurityPolicy,
		ReferrerPolicy:        config.ReferrerPolicy,
	})
}

// NewBodyLimit rejects request bodies above limit (e.g. "20M") with 413.
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}
