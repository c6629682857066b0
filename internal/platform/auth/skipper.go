package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication and lab resolution.
var publicPaths = map[string]bool{
	"/health": true,
	"/ready":  true,
}

// Skipper is used as JWTConfig.Skipper.
func Skipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
