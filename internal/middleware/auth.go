package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"school-service/internal/authz"
	"school-service/internal/model"
	"school-service/pkg/database"
	"school-service/pkg/jwtutil"
	"school-service/pkg/logger"
	"school-service/prometheus"
)

const sessionKey = "session"

// AuthMiddleware validates the JWT from the Authorization header, loads the
// user row (so a deactivated account is rejected immediately, whatever its
// token says) and the admin permission record for school_admin users, and
// stores the resulting session in the context.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromContext(c)

		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			log.Warn("Missing Authorization header")
			prometheus.RecordAuthError("missing_token")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			log.Warn("Invalid Authorization header format")
			prometheus.RecordAuthError("invalid_auth_format")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
		}

		claims, err := jwtutil.ValidateToken(parts[1])
		if err != nil {
			log.Warn("Invalid JWT token", zap.Error(err))
			prometheus.RecordAuthError("invalid_token")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
		}

		var user model.User
		if err := database.GetDB().First(&user, claims.UserID).Error; err != nil {
			log.Warn("Session user not found", zap.Uint("user_id", claims.UserID))
			prometheus.RecordAuthError("user_not_found")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid session"})
		}
		if !user.IsActive {
			log.Warn("Inactive user rejected", zap.Uint("user_id", user.ID))
			prometheus.RecordAuthError("inactive_user")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "account is inactive"})
		}

		sess := &authz.Session{
			UserID:   user.ID,
			Email:    user.Email,
			Role:     user.Role,
			SchoolID: user.SchoolID,
			IsActive: user.IsActive,
		}

		if user.Role == model.RoleSchoolAdmin {
			var perm model.AdminPermission
			err := database.GetDB().Where("user_id = ?", user.ID).First(&perm).Error
			switch {
			case err == nil:
				sess.Admin = &perm
			case errors.Is(err, gorm.ErrRecordNotFound):
				// school_admin without a permission record holds nothing
			default:
				log.Error("Failed to load admin permission", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
		}

		c.Set(sessionKey, sess)
		return next(c)
	}
}

// SessionFromContext returns the session stored by AuthMiddleware, or nil on
// unauthenticated routes.
func SessionFromContext(c echo.Context) *authz.Session {
	sess, _ := c.Get(sessionKey).(*authz.Session)
	return sess
}
