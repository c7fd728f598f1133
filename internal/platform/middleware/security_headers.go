package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const hsts = "max-age=31536000; includeSubDomains"

// SecurityHeaders sets the response headers of the ledger API.
//
// Every response is no-store since stock levels and trace data change with
// each committed command. HSTS is only sent when the request reached us over
// TLS, directly or through a proxy setting X-Forwarded-Proto. Event stream
// upgrades are not documents and skip the framing and content policies.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			if c.Scheme() == "https" {
				h.Set("Strict-Transport-Security", hsts)
			}
			if isWebSocketUpgrade(c) {
				return next(c)
			}
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("X-Frame-Options", "DENY")
			return next(c)
		}
	}
}

func isWebSocketUpgrade(c echo.Context) bool {
	return strings.EqualFold(c.Request().Header.Get(echo.HeaderUpgrade), "websocket")
}
