package httpserver_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/httpserver"
)

func TestDefaultServerConfig(t *testing.T) {
	config := httpserver.DefaultServerConfig()

	assert.Equal(t, httpserver.DefaultHost, config.Host)
	assert.Equal(t, httpserver.DefaultPort, config.Port)
	assert.Equal(t, httpserver.DefaultReadTimeout, config.ReadTimeout)
	assert.Equal(t, httpserver.DefaultWriteTimeout, config.WriteTimeout)
	assert.Equal(t, httpserver.DefaultShutdownTimeout, config.ShutdownTimeout)
}

func TestServerEcho(t *testing.T) {
	server := httpserver.NewServer(httpserver.DefaultServerConfig(), nil)

	e := server.Echo()

	require.NotNil(t, e)
	assert.True(t, e.HideBanner)
	assert.True(t, e.HidePort)
	assert.Equal(t, httpserver.DefaultReadTimeout, e.Server.ReadTimeout)
}

func TestServerAddress(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"default", httpserver.DefaultHost, httpserver.DefaultPort, "0.0.0.0:9090"},
		{"localhost", "127.0.0.1", 3000, "127.0.0.1:3000"},
		{"ipv6", "::1", 8080, "[::1]:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := httpserver.DefaultServerConfig()
			config.Host = tt.host
			config.Port = tt.port

			assert.Equal(t, tt.expected, httpserver.NewServer(config, nil).Address())
		})
	}
}

func TestServerMetrics(t *testing.T) {
	// Arrange
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_commits_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Add(3)

	server := httpserver.NewServer(httpserver.DefaultServerConfig(), nil)
	server.RegisterMetrics(registry)

	// Act
	req := httptest.NewRequest(http.MethodGet, httpserver.MetricsPath, nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	// Assert
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_commits_total 3")
}

func TestServerRequestID(t *testing.T) {
	server := httpserver.NewServer(httpserver.DefaultServerConfig(), nil)

	var correlationID string
	server.Echo().GET("/probe", func(c echo.Context) error {
		correlationID, _ = appcore.GetCorrelationID(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	t.Run("propagates incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set(httpserver.RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()

		server.Echo().ServeHTTP(rec, req)

		assert.Equal(t, "req-42", rec.Header().Get(httpserver.RequestIDHeader))
		assert.Equal(t, "req-42", correlationID)
	})

	t.Run("generates missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		rec := httptest.NewRecorder()

		server.Echo().ServeHTTP(rec, req)

		assert.NotEmpty(t, rec.Header().Get(httpserver.RequestIDHeader))
		assert.Equal(t, rec.Header().Get(httpserver.RequestIDHeader), correlationID)
	})
}

func TestServerRecovery(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	server := httpserver.NewServer(httpserver.DefaultServerConfig(), logger)
	server.Echo().GET("/panic", func(echo.Context) error {
		panic("boom")
	})

	// Act
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	// Assert
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "boom")
}

func TestServerRequestLoggingLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	server := httpserver.NewServer(httpserver.DefaultServerConfig(), logger)

	// Act
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	// Assert
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "path=/missing")
}

func TestServerShutdown(t *testing.T) {
	config := httpserver.DefaultServerConfig()
	config.ShutdownTimeout = time.Second
	server := httpserver.NewServer(config, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Shutdown without Start should not error
	assert.NoError(t, server.Shutdown(ctx))
}
