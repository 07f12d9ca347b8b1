package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// publicRoutes are reachable without a bearer token.
var publicRoutes = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// AuthSkipper exempts the health and metrics routes and CORS preflight
// requests, which browsers send without credentials.
func AuthSkipper(c echo.Context) bool {
	if c.Request().Method == http.MethodOptions {
		return true
	}
	return publicRoutes[c.Path()]
}
