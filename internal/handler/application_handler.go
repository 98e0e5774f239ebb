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

// SubmitApplication handles public and signed-in application submission. A
// signed-in submitter is recorded as the applicant, which later authorizes
// cancellation.
func SubmitApplication(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.ApplicationSubmissionCounter.Inc()

	var req struct {
		Name            string `json:"name"`
		Email           string `json:"email"`
		Phone           string `json:"phone"`
		Role            string `json:"role"`
		SchoolID        uint   `json:"school_id"`
		DocumentType    string `json:"document_type"`
		DocumentNumber  string `json:"document_number"`
		DateOfBirth     string `json:"date_of_birth"`
		DesiredGrade    string `json:"desired_grade"`
		DesiredCourseID *uint  `json:"desired_course_id"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse application", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	in := lifecycle.SubmitInput{
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		Role:            model.Role(req.Role),
		SchoolID:        req.SchoolID,
		DocumentType:    req.DocumentType,
		DocumentNumber:  req.DocumentNumber,
		DateOfBirth:     req.DateOfBirth,
		DesiredGrade:    req.DesiredGrade,
		DesiredCourseID: req.DesiredCourseID,
	}
	if sess := middleware.SessionFromContext(c); sess != nil {
		in.ApplicantUserID = &sess.UserID
	}

	app, err := applications.Submit(c.Request().Context(), in)
	if err != nil {
		return respondError(c, log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"tracking_token": app.TrackingToken,
		"status":         app.Status,
	})
}

// TrackApplication serves the unauthenticated status poll by tracking token.
func TrackApplication(c echo.Context) error {
	log := logger.FromContext(c)

	status, err := applications.Status(c.Request().Context(), c.QueryParam("token"))
	if err != nil {
		return respondError(c, log, err)
	}
	return c.JSON(http.StatusOK, status)
}

// ListApplications lists the caller's school's applications, optionally
// filtered by status and role.
func ListApplications(c echo.Context) error {
	log := logger.FromContext(c)

	scope, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles:              []model.Role{model.RoleSchoolAdmin},
		Capability:         authz.Cap(model.CapApplications),
		RequireTenantScope: true,
	})
	if err != nil {
		return respondError(c, log, err)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	query := database.GetDB().
		Where("school_id = ?", scope.SchoolID).
		Order("created_at DESC")
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if role := c.QueryParam("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	var list []model.Application
	if err := query.Find(&list).Error; err != nil {
		log.Error("Failed to list applications", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"applications": list})
}

// GetApplication returns one application inside the caller's tenant.
func GetApplication(c echo.Context) error {
	log := logger.FromContext(c)

	scope, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles:              []model.Role{model.RoleSchoolAdmin},
		Capability:         authz.Cap(model.CapApplications),
		RequireTenantScope: true,
	})
	if err != nil {
		return respondError(c, log, err)
	}

	id, err := paramID(c)
	if err != nil {
		return respondError(c, log, err)
	}

	var app model.Application
	err = database.GetDB().
		Where("id = ? AND school_id = ?", id, scope.SchoolID).
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, log, lifecycle.ErrNotFoundInScope)
	}
	if err != nil {
		log.Error("Failed to load application", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"application": app})
}

// ReviewApplication moves pendente → em_analise.
func ReviewApplication(c echo.Context) error {
	return applicationTransition(c, "review", func(scope *authz.Scope, id uint) (*model.Application, error) {
		return applications.Review(c.Request().Context(), scope, id)
	})
}

// ApproveApplication moves pendente/em_analise → aprovada.
func ApproveApplication(c echo.Context) error {
	return applicationTransition(c, "approve", func(scope *authz.Scope, id uint) (*model.Application, error) {
		return applications.Approve(c.Request().Context(), scope, id)
	})
}

// RejectApplication moves to rejeitada with a reason.
func RejectApplication(c echo.Context) error {
	log := logger.FromContext(c)

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse reject request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	return applicationTransition(c, "reject", func(scope *authz.Scope, id uint) (*model.Application, error) {
		return applications.Reject(c.Request().Context(), scope, id, req.Reason)
	})
}

// EnrollApplication moves aprovada → matriculada, provisioning the account
// and role entity.
func EnrollApplication(c echo.Context) error {
	log := logger.FromContext(c)

	scope, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles:              []model.Role{model.RoleSchoolAdmin},
		Capability:         authz.Cap(model.CapApplications),
		RequireTenantScope: true,
	})
	if err != nil {
		prometheus.RecordTransition("application", "enroll", outcome(err))
		return respondError(c, log, err)
	}

	id, err := paramID(c)
	if err != nil {
		return respondError(c, log, err)
	}

	res, err := applications.Enroll(c.Request().Context(), scope, id)
	prometheus.RecordTransition("application", "enroll", outcome(err))
	if err != nil {
		return respondError(c, log, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"application":  res.Application,
		"user_id":      res.UserID,
		"entity_id":    res.EntityID,
		"user_created": res.UserCreated,
	})
}

// CancelApplication lets the original applicant withdraw a pendente
// application.
func CancelApplication(c echo.Context) error {
	log := logger.FromContext(c)

	sess := middleware.SessionFromContext(c)
	if sess == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	id, err := paramID(c)
	if err != nil {
		return respondError(c, log, err)
	}

	err = applications.Cancel(c.Request().Context(), sess.UserID, id)
	prometheus.RecordTransition("application", "cancel", outcome(err))
	if err != nil {
		return respondError(c, log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "application cancelled"})
}

// applicationTransition factors the shared evaluate/parse/record shape of
// the admin application transitions.
func applicationTransition(c echo.Context, action string, fn func(scope *authz.Scope, id uint) (*model.Application, error)) error {
	log := logger.FromContext(c)

	scope, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles:              []model.Role{model.RoleSchoolAdmin},
		Capability:         authz.Cap(model.CapApplications),
		RequireTenantScope: true,
	})
	if err != nil {
		prometheus.RecordTransition("application", action, outcome(err))
		return respondError(c, log, err)
	}

	id, err := paramID(c)
	if err != nil {
		return respondError(c, log, err)
	}

	app, err := fn(scope, id)
	prometheus.RecordTransition("application", action, outcome(err))
	if err != nil {
		return respondError(c, log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"application": app})
}
