package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader is the header used to propagate request ids.
const RequestIDHeader = "X-Request-ID"

// RequestID returns middleware that reuses an inbound X-Request-ID or
// generates a fresh one, storing it on the context and echoing it back in
// the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.New().String()
			}

			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)

			return next(c)
		}
	}
}
