package metrics

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const requestIDContextKeyName = "request_id"

// RequestMetrics tags every request with an X-Request-ID and counts it by method, route and status class.
func RequestMetrics(reg *Registry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, rid)
			c.Set(requestIDContextKeyName, rid)

			err := next(c)

			status := c.Response().Status
			if err != nil {
				// The error has not been rendered yet; use the status it will produce
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = 500
				}
			}

			labels := Labels{
				"method": req.Method,
				"path":   c.Path(),
				"status": statusClass(status),
			}
			reg.Inc(req.Context(), HTTPRequestsTotal, labels, 1)
			if status >= 500 {
				reg.Inc(req.Context(), HTTPRequestErrorsTotal, labels, 1)
			}
			return err
		}
	}
}

// RequestID returns the id assigned by RequestMetrics, or an empty string.
func RequestID(c echo.Context) string {
	rid, _ := c.Get(requestIDContextKeyName).(string)
	return rid
}

func statusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "0"
	}
}
