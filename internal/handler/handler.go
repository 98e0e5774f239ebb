// Package handler holds the HTTP handlers. Permission evaluation happens at
// the top of every authenticated handler and the resulting scope drives all
// tenant-filtered queries.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"school-service/internal/authz"
	"school-service/internal/credential"
	"school-service/internal/lifecycle"
	"school-service/internal/notify"
)

var (
	schools      *lifecycle.SchoolLifecycle
	applications *lifecycle.ApplicationLifecycle
	creds        *credential.Provisioner
	notifier     notify.Dispatcher
)

// Init wires the handler package dependencies. Called once from main.
func Init(s *lifecycle.SchoolLifecycle, a *lifecycle.ApplicationLifecycle, c *credential.Provisioner, n notify.Dispatcher) {
	schools = s
	applications = a
	creds = c
	notifier = n
}

// respondError maps the error taxonomy onto HTTP statuses. Expected
// conditions never surface as 500; unexpected ones are logged and mapped to
// a generic internal error.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, authz.ErrUnauthenticated):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	case errors.Is(err, authz.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "permission denied"})
	case errors.Is(err, lifecycle.ErrNotFoundInScope):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrDuplicate):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	default:
		log.Error("Unexpected error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// outcome classifies an error for the transition metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return "conflict"
	case errors.Is(err, authz.ErrForbidden), errors.Is(err, authz.ErrUnauthenticated):
		return "denied"
	case errors.Is(err, lifecycle.ErrNotFoundInScope), errors.Is(err, lifecycle.ErrValidation), errors.Is(err, lifecycle.ErrDuplicate):
		return "rejected"
	default:
		return "error"
	}
}

// paramID parses the numeric :id path parameter.
func paramID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, lifecycle.ErrNotFoundInScope
	}
	return uint(id), nil
}
