package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"school-service/internal/authz"
	"school-service/internal/lifecycle"
	"school-service/internal/middleware"
	"school-service/internal/model"
	"school-service/internal/notify"
	"school-service/pkg/database"
	"school-service/pkg/logger"
	"school-service/prometheus"
)

// adminView is the list/detail projection of an admin account.
type adminView struct {
	ID           uint             `json:"id"`
	UserID       uint             `json:"user_id"`
	Email        string           `json:"email"`
	IsActive     bool             `json:"is_active"`
	Level        model.AdminLevel `json:"level"`
	Capabilities []string         `json:"capabilities"`
}

// ListAdmins lists the admin accounts of the caller's school.
func ListAdmins(c echo.Context) error {
	log := logger.FromContext(c)

	scope, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles:              []model.Role{model.RoleSchoolAdmin},
		Capability:         authz.Cap(model.CapAdmins),
		RequireTenantScope: true,
	})
	if err != nil {
		return respondError(c, log, err)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var perms []model.AdminPermission
	err = database.GetDB().
		Preload("User").
		Where("school_id = ?", scope.SchoolID).
		Order("id").
		Find(&perms).Error
	if err != nil {
		log.Error("Failed to list admins", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	views := make([]adminView, 0, len(perms))
	for _, p := range perms {
		caps := p.Capabilities.Names()
		if p.Level == model.AdminLevelPrimary {
			caps = model.AllCapabilities().Names()
		}
		views = append(views, adminView{
			ID:           p.ID,
			UserID:       p.UserID,
			Email:        p.User.Email,
			IsActive:     p.User.IsActive,
			Level:        p.Level,
			Capabilities: caps,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"admins": views})
}

// UpdateAdminCapabilities replaces a secondary admin's capability set. The
// primary admin's record is untouchable through this path.
func UpdateAdminCapabilities(c echo.Context) error {
	log := logger.FromContext(c)

	scope, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles:              []model.Role{model.RoleSchoolAdmin},
		Capability:         authz.Cap(model.CapAdmins),
		RequireTenantScope: true,
	})
	if err != nil {
		return respondError(c, log, err)
	}

	var req struct {
		Capabilities []string `json:"capabilities"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse capabilities request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	caps, err := model.CapabilitySetFromNames(req.Capabilities)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	perm, err := loadScopedAdmin(c, scope)
	if err != nil {
		return respondError(c, log, err)
	}
	if perm.Level == model.AdminLevelPrimary {
		return c.JSON(http.StatusConflict, echo.Map{"error": "primary admin cannot be modified"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := database.GetDB().Model(perm).Update("capabilities", caps).Error; err != nil {
		log.Error("Failed to update capabilities", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	log.Info("Admin capabilities updated",
		zap.Uint("admin_id", perm.ID),
		zap.Strings("capabilities", caps.Names()))
	return c.JSON(http.StatusOK, echo.Map{
		"admin_id":     perm.ID,
		"capabilities": caps.Names(),
	})
}

// DeleteAdmin deactivates a secondary admin's account. This is the soft,
// reversible removal; it never touches the primary admin.
func DeleteAdmin(c echo.Context) error {
	log := logger.FromContext(c)

	scope, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles:              []model.Role{model.RoleSchoolAdmin},
		Capability:         authz.Cap(model.CapAdmins),
		RequireTenantScope: true,
	})
	if err != nil {
		return respondError(c, log, err)
	}

	perm, err := loadScopedAdmin(c, scope)
	if err != nil {
		return respondError(c, log, err)
	}
	if perm.Level == model.AdminLevelPrimary {
		return c.JSON(http.StatusConflict, echo.Map{"error": "primary admin cannot be removed"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = database.GetDB().Model(&model.User{}).
		Where("id = ?", perm.UserID).
		Update("is_active", false).Error
	if err != nil {
		log.Error("Failed to deactivate admin", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	log.Info("Admin deactivated", zap.Uint("admin_id", perm.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "admin deactivated"})
}

// ResetAdminPassword provisions a fresh temporary credential for a secondary
// admin, invalidating the previous one.
func ResetAdminPassword(c echo.Context) error {
	log := logger.FromContext(c)

	scope, err := authz.Evaluate(middleware.SessionFromContext(c), authz.Requirement{
		Roles:              []model.Role{model.RoleSchoolAdmin},
		Capability:         authz.Cap(model.CapAdmins),
		RequireTenantScope: true,
	})
	if err != nil {
		return respondError(c, log, err)
	}

	perm, err := loadScopedAdmin(c, scope)
	if err != nil {
		return respondError(c, log, err)
	}
	if perm.Level == model.AdminLevelPrimary {
		return c.JSON(http.StatusConflict, echo.Map{"error": "primary admin cannot be modified"})
	}

	cred, err := creds.Provision()
	if err != nil {
		log.Error("Failed to provision credential", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = database.GetDB().Model(&model.User{}).
		Where("id = ?", perm.UserID).
		Updates(map[string]interface{}{
			"password":             cred.Hash,
			"must_change_password": true,
		}).Error
	if err != nil {
		log.Error("Failed to reset password", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	log.Info("Admin password reset", zap.Uint("admin_id", perm.ID))
	notifier.Dispatch(c.Request().Context(), notify.Message{
		To:      perm.User.Email,
		Subject: "Senha redefinida",
		Body: fmt.Sprintf("Sua senha foi redefinida.\n\nSenha temporária: %s\n"+
			"Você deverá trocá-la no próximo acesso.\n", cred.Plaintext),
	})

	return c.JSON(http.StatusOK, echo.Map{
		"email":         perm.User.Email,
		"temp_password": cred.Plaintext,
	})
}

// loadScopedAdmin fetches the target admin permission filtered by the
// caller's school. Cross-tenant ids surface as not found.
func loadScopedAdmin(c echo.Context, scope *authz.Scope) (*model.AdminPermission, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}

	var perm model.AdminPermission
	err = database.GetDB().
		Preload("User").
		Where("id = ? AND school_id = ?", id, scope.SchoolID).
		First(&perm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.ErrNotFoundInScope
		}
		return nil, err
	}
	return &perm, nil
}
