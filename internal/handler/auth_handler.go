package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"school-service/internal/middleware"
	"school-service/internal/model"
	"school-service/pkg/database"
	"school-service/pkg/jwtutil"
	"school-service/pkg/logger"
	"school-service/prometheus"
)

// Login authenticates with email and password. Sign-in is gated on the
// user's school status: regular users need an ativa school, the school's
// admin may also sign in while the school is under review.
func Login(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.LoginCounter.Inc()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	if err := database.GetDB().Where("email = ?", req.Email).First(&user).Error; err != nil {
		log.Warn("User not found", zap.String("email", req.Email))
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if !creds.Verify(user.Password, req.Password) {
		log.Warn("Invalid password", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_password")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if !user.IsActive {
		log.Warn("Inactive user login rejected", zap.Uint("user_id", user.ID))
		prometheus.RecordAuthError("inactive_user")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account is inactive"})
	}

	var school *model.School
	if user.SchoolID != nil {
		school = &model.School{}
		if err := database.GetDB().First(school, *user.SchoolID).Error; err != nil {
			log.Error("Failed to load user's school", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
		}

		adminDuringReview := user.Role == model.RoleSchoolAdmin && school.Status.UnderReview()
		if !school.Status.AllowsSignIn() && !adminDuringReview {
			log.Warn("Sign-in blocked by school status",
				zap.Uint("school_id", school.ID),
				zap.String("status", string(school.Status)))
			prometheus.RecordAuthError("school_not_active")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "school is not active"})
		}
	}

	token, err := jwtutil.GenerateToken(&user)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("User logged in",
		zap.String("email", user.Email),
		zap.String("role", string(user.Role)))

	response := echo.Map{
		"token": token,
		"user": echo.Map{
			"id":                   user.ID,
			"email":                user.Email,
			"role":                 user.Role,
			"must_change_password": user.MustChangePassword,
		},
	}
	if school != nil {
		response["school"] = echo.Map{
			"id":     school.ID,
			"name":   school.Name,
			"slug":   school.Slug,
			"status": school.Status,
		}
	}
	return c.JSON(http.StatusOK, response)
}

// ChangePassword verifies the current password and stores the new hash,
// clearing the must-change flag.
func ChangePassword(c echo.Context) error {
	log := logger.FromContext(c)

	sess := middleware.SessionFromContext(c)
	if sess == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse change-password request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if len(req.NewPassword) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "new password must have at least 8 characters"})
	}

	var user model.User
	if err := database.GetDB().First(&user, sess.UserID).Error; err != nil {
		log.Error("Failed to load user", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if !creds.Verify(user.Password, req.CurrentPassword) {
		prometheus.RecordAuthError("invalid_password")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "current password is incorrect"})
	}

	hash, err := creds.Hash(req.NewPassword)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = database.GetDB().Model(&user).Updates(map[string]interface{}{
		"password":             hash,
		"must_change_password": false,
	}).Error
	if err != nil {
		log.Error("Failed to update password", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	log.Info("Password changed", zap.Uint("user_id", user.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "password updated"})
}
