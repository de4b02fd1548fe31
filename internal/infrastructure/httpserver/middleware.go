package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
)

// HTTP status code thresholds for log levels.
const (
	statusClientError = 400
	statusServerError = 500
)

// stackSize is the maximum size of a captured panic stack (4KB).
const stackSize = 4 << 10

// RequestIDHeader is the header name for request ID.
const RequestIDHeader = "X-Request-ID"

// RequestLogging logs every request except those on skipPaths and carries
// the request id into the request context as correlation id.
func RequestLogging(logger *slog.Logger, skipPaths ...string) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()

			// Get or generate request ID
			requestID := req.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			res.Header().Set(RequestIDHeader, requestID)
			c.SetRequest(req.WithContext(appcore.WithCorrelationID(req.Context(), requestID)))

			if _, ok := skip[req.URL.Path]; ok {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			latency := time.Since(start)

			status := res.Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", status),
				slog.Duration("latency", latency),
				slog.String("remote_ip", c.RealIP()),
			}

			level := slog.LevelDebug
			switch {
			case status >= statusServerError:
				level = slog.LevelError
			case status >= statusClientError:
				level = slog.LevelWarn
			}
			if err != nil && level > slog.LevelDebug {
				attrs = append(attrs, slog.String("error", err.Error()))
			}

			logger.LogAttrs(req.Context(), level, "HTTP request", attrs...)
			return err
		}
	}
}

// Recovery recovers from handler panics, logs them with the stack and
// answers 500.
func Recovery(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}

				stack := make([]byte, stackSize)
				stack = stack[:runtime.Stack(stack, false)]

				req := c.Request()
				logger.ErrorContext(req.Context(), "panic recovered",
					slog.String("error", err.Error()),
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
					slog.String("request_id", c.Response().Header().Get(RequestIDHeader)),
					slog.String("stack", string(stack)),
				)

				if !c.Response().Committed {
					_ = c.JSON(http.StatusInternalServerError, map[string]string{
						"status": StatusUnhealthy,
						"error":  "internal error",
					})
				}
			}()

			return next(c)
		}
	}
}
