package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are route patterns reachable without credentials.
var publicPaths = map[string]bool{
	"/health":              true,
	"/health/db":           true,
	"/metrics":             true,
	"/api/v1/auth/login":   true,
	"/api/v1/auth/bypass":  true,
	"/api/v1/auth/session": true,
	"/api/v1/ws":           true,
}

// AuthSkipper reports whether the matched route is public.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
