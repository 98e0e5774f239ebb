package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"school-service/internal/authz"
	"school-service/internal/lifecycle"
	"school-service/internal/middleware"
	"school-service/internal/model"
	"school-service/pkg/database"
	"school-service/pkg/logger"
	"school-service/prometheus"
)

// RegisterSchool handles the public school registration, optionally creating
// the first admin account in the same transaction.
func RegisterSchool(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.SchoolRegistrationCounter.Inc()

	var req struct {
		Name          string `json:"name"`
		Email         string `json:"email"`
		Phone         string `json:"phone"`
		Address       string `json:"address"`
		Slug          string `json:"slug"`
		AdminEmail    string `json:"admin_email"`
		AdminPassword string `json:"admin_password"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse school registration", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	school, admin, err := schools.Register(c.Request().Context(), lifecycle.RegisterInput{
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		Address:       req.Address,
		Slug:          req.Slug,
		AdminEmail:    req.AdminEmail,
		AdminPassword: req.AdminPassword,
	})
	if err != nil {
		return respondError(c, log, err)
	}

	response := echo.Map{"school": school}
	if admin != nil {
		response["admin"] = echo.Map{"id": admin.ID, "email": admin.Email}
	}
	return c.JSON(http.StatusCreated, response)
}

// ListSchools lists tenants for the platform operator, optionally filtered
// by status.
func ListSchools(c echo.Context) error {
	log := logger.FromContext(c)

	_, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles: []model.Role{model.RoleSuperAdmin},
	})
	if err != nil {
		return respondError(c, log, err)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	query := database.GetDB().Order("created_at DESC")
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var list []model.School
	if err := query.Find(&list).Error; err != nil {
		log.Error("Failed to list schools", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"schools": list})
}

// GetSchool returns one school: any school for the platform operator, only
// their own for a school admin.
func GetSchool(c echo.Context) error {
	log := logger.FromContext(c)

	sess := middleware.SessionFromContext(c)
	_, err := authz.Evaluate(sess, authz.Requirement{
		Roles: []model.Role{model.RoleSuperAdmin, model.RoleSchoolAdmin},
	})
	if err != nil {
		return respondError(c, log, err)
	}

	id, err := paramID(c)
	if err != nil {
		return respondError(c, log, err)
	}
	if sess.Role == model.RoleSchoolAdmin && (sess.SchoolID == nil || *sess.SchoolID != id) {
		return respondError(c, log, lifecycle.ErrNotFoundInScope)
	}

	var school model.School
	err = database.GetDB().First(&school, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, log, lifecycle.ErrNotFoundInScope)
	}
	if err != nil {
		log.Error("Failed to load school", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"school": school})
}

// ApproveSchool moves a school pendente → aprovada.
func ApproveSchool(c echo.Context) error {
	return schoolTransition(c, "approve", func(id uint) (*model.School, error) {
		return schools.Approve(c.Request().Context(), id)
	})
}

// RejectSchool moves a school pendente/aprovada → rejeitada.
func RejectSchool(c echo.Context) error {
	log := logger.FromContext(c)

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse reject request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	return schoolTransition(c, "reject", func(id uint) (*model.School, error) {
		return schools.Reject(c.Request().Context(), id, req.Reason)
	})
}

// ActivateSchool moves a school aprovada → ativa, provisioning the admin
// account when none exists yet.
func ActivateSchool(c echo.Context) error {
	log := logger.FromContext(c)

	_, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles: []model.Role{model.RoleSuperAdmin},
	})
	if err != nil {
		prometheus.RecordTransition("school", "activate", outcome(err))
		return respondError(c, log, err)
	}

	id, err := paramID(c)
	if err != nil {
		return respondError(c, log, err)
	}

	res, err := schools.Activate(c.Request().Context(), id)
	prometheus.RecordTransition("school", "activate", outcome(err))
	if err != nil {
		return respondError(c, log, err)
	}

	response := echo.Map{
		"school":        res.School,
		"admin_created": res.AdminCreated,
		"admin_email":   res.AdminEmail,
	}
	if res.AdminCreated {
		// Plaintext shown exactly once; it exists nowhere else.
		response["temp_password"] = res.TempPassword
	}
	return c.JSON(http.StatusOK, response)
}

// SuspendSchool moves a school ativa → suspensa and deactivates its users.
func SuspendSchool(c echo.Context) error {
	return schoolTransition(c, "suspend", func(id uint) (*model.School, error) {
		return schools.Suspend(c.Request().Context(), id)
	})
}

// RevertSchool undoes one lifecycle step.
func RevertSchool(c echo.Context) error {
	return schoolTransition(c, "revert", func(id uint) (*model.School, error) {
		return schools.Revert(c.Request().Context(), id)
	})
}

// DeleteSchool removes the school and everything it owns.
func DeleteSchool(c echo.Context) error {
	log := logger.FromContext(c)

	_, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles: []model.Role{model.RoleSuperAdmin},
	})
	if err != nil {
		prometheus.RecordTransition("school", "delete", outcome(err))
		return respondError(c, log, err)
	}

	id, err := paramID(c)
	if err != nil {
		return respondError(c, log, err)
	}

	err = schools.Delete(c.Request().Context(), id)
	prometheus.RecordTransition("school", "delete", outcome(err))
	if err != nil {
		return respondError(c, log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "school deleted"})
}

// schoolTransition factors the shared evaluate/parse/record shape of the
// simple school transitions.
func schoolTransition(c echo.Context, action string, fn func(id uint) (*model.School, error)) error {
	log := logger.FromContext(c)

	_, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles: []model.Role{model.RoleSuperAdmin},
	})
	if err != nil {
		prometheus.RecordTransition("school", action, outcome(err))
		return respondError(c, log, err)
	}

	id, err := paramID(c)
	if err != nil {
		return respondError(c, log, err)
	}

	school, err := fn(id)
	prometheus.RecordTransition("school", action, outcome(err))
	if err != nil {
		return respondError(c, log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"school": school})
}
