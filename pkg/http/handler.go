package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler mounts a route group on the server.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// RouteFunc lets a plain function act as a Handler.
type RouteFunc func(e *echo.Echo)

func (f RouteFunc) RegisterRoutes(e *echo.Echo) { f(e) }

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// ComponentHealth is the state of one named dependency.
type ComponentHealth struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewHealthHandler serves GET /healthz. The envelope status is 503 when any
// check fails; nil checks are skipped.
func NewHealthHandler(timeout time.Duration, checks map[string]HealthCheck) Handler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	names := make([]string, 0, len(checks))
	for name, check := range checks {
		if check != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return RouteFunc(func(e *echo.Echo) {
		e.GET("/healthz", func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			status := http.StatusOK
			out := make([]ComponentHealth, 0, len(names))
			for _, name := range names {
				h := ComponentHealth{Name: name, OK: true}
				if err := checks[name](ctx); err != nil {
					h.OK = false
					h.Error = err.Error()
					status = http.StatusServiceUnavailable
				}
				out = append(out, h)
			}
			return DataResponse(c, status, out)
		})
	})
}
