// Package middleware provides the cross-cutting Echo middleware used by the
// portal server: request ids, request logging, panic recovery, and rate
// limiting.
package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger emits one structured line per request. Severity follows the
// response: 5xx and handler errors log at error, 4xx at warn, everything
// else at info.
func Logger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			res := c.Response()

			var evt *zerolog.Event
			switch {
			case err != nil:
				evt = log.Error().Err(err)
			case res.Status >= 500:
				evt = log.Error()
			case res.Status >= 400:
				evt = log.Warn()
			default:
				evt = log.Info()
			}

			rid, _ := c.Get("request_id").(string)
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path)
			if q := req.URL.RawQuery; q != "" {
				evt.Str("query", q)
			}
			evt.
				Int("status", res.Status).
				Int64("bytes_out", res.Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
