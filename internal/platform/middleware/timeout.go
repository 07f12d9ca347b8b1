package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ips/internal/platform/fhir"
)

// RequestTimeout puts a deadline on the request context so record reads and
// archive writes give up together. A handler that fails because the
// deadline passed is answered with 504 and a timeout OperationOutcome.
// A non-positive timeout disables the middleware.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				outcome := fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTimeout,
					fmt.Sprintf("request did not complete within %s", timeout))
				return echo.NewHTTPError(http.StatusGatewayTimeout, outcome)
			}
			return err
		}
	}
}
