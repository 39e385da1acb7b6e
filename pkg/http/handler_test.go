package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthz(t *testing.T, h Handler) (APIResponse, []ComponentHealth) {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		APIResponse
		Data []ComponentHealth `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.APIResponse, body.Data
}

func TestHealthHandlerReportsEveryCheck(t *testing.T) {
	ok := func(context.Context) error { return nil }
	resp, parts := healthz(t, NewHealthHandler(time.Second, map[string]HealthCheck{
		"redis":    ok,
		"database": ok,
		"disabled": nil,
	}))

	assert.Equal(t, http.StatusOK, resp.Status)
	require.Len(t, parts, 2)
	assert.Equal(t, "database", parts[0].Name)
	assert.Equal(t, "redis", parts[1].Name)
	assert.True(t, parts[0].OK)
}

func TestHealthHandlerFailingCheck(t *testing.T) {
	resp, parts := healthz(t, NewHealthHandler(time.Second, map[string]HealthCheck{
		"database":   func(context.Context) error { return nil },
		"clickhouse": func(context.Context) error { return errors.New("connection refused") },
	}))

	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	require.Len(t, parts, 2)
	assert.Equal(t, "clickhouse", parts[0].Name)
	assert.False(t, parts[0].OK)
	assert.Equal(t, "connection refused", parts[0].Error)
	assert.True(t, parts[1].OK)
}

func TestRouteFuncRegisters(t *testing.T) {
	e := echo.New()
	var h Handler = RouteFunc(func(e *echo.Echo) {
		e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, "pong") })
	})
	h.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Contains(t, rec.Body.String(), "pong")
}
