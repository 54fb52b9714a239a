package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// feeAdminMiddleware admits admins holding one of roles. The IsAdmin claim alone
// is not enough: staff tokens carry it without granting access to the ledger.
func feeAdminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if !claims.IsAdmin || !contextHasAnyRole(ctx, roles) {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}
