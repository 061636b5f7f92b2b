package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds each request with a context deadline. Handlers that
// exceed it get a 504; the transition they were running observes the
// cancelled context at its next database call and rolls back.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err == nil || ctx.Err() != context.DeadlineExceeded {
				return err
			}
			if c.Response().Committed {
				return err
			}
			return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
		}
	}
}
