package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass caller resolution.
var publicPaths = map[string]bool{
	"/health":       true,
	"/metrics":      true,
	"/api/v1/owner": true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication. Pass it as JWTConfig.Skipper.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path is served without a caller.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
