package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"
)

// responseStatus returns the status the client will see. A handler that
// returns an *echo.HTTPError has not written anything yet; echo's central
// error handler writes that code after the middleware chain unwinds.
func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}
