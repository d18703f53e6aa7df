package http

import "github.com/labstack/echo/v4"

// Handler is a group of API routes mounted by NewServer. Each handler owns its
// path prefix and any route-level middleware such as rate limiting.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
