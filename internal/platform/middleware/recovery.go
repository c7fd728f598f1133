package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medsafar/supplychain/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 with the ledger error body. The
// panic is logged with its stack and the caller account.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				stack := make([]byte, 4096)
				stack = stack[:runtime.Stack(stack, false)]
				rid, _ := c.Get("request_id").(string)

				logger.Error().
					Str("request_id", rid).
					Str("account", auth.AccountFromContext(c.Request().Context())).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, map[string]string{
					"error": "internal server error",
					"kind":  "Internal",
				})
			}()
			return next(c)
		}
	}
}
