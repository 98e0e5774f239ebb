package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-service/internal/model"
)

func schoolID(id uint) *uint { return &id }

func TestEvaluateAuthentication(t *testing.T) {
	req := Requirement{Roles: []model.Role{model.RoleSchoolAdmin}}

	_, err := Evaluate(nil, req)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	inactive := &Session{UserID: 1, Role: model.RoleSchoolAdmin, IsActive: false}
	_, err = Evaluate(inactive, req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestEvaluateRoles(t *testing.T) {
	sess := &Session{UserID: 3, Role: model.RoleTeacher, IsActive: true, SchoolID: schoolID(10)}

	_, err := Evaluate(sess, Requirement{Roles: []model.Role{model.RoleSuperAdmin}})
	assert.ErrorIs(t, err, ErrForbidden)

	scope, err := Evaluate(sess, Requirement{
		Roles: []model.Role{model.RoleTeacher, model.RoleStudent},
	})
	require.NoError(t, err)
	assert.Equal(t, uint(3), scope.UserID)
	assert.Equal(t, model.RoleTeacher, scope.Role)
}

func TestEvaluateCapabilities(t *testing.T) {
	req := Requirement{
		Roles:              []model.Role{model.RoleSchoolAdmin},
		Capability:         Cap(model.CapApplications),
		RequireTenantScope: true,
	}

	primary := &Session{
		UserID: 1, Role: model.RoleSchoolAdmin, IsActive: true, SchoolID: schoolID(10),
		Admin: &model.AdminPermission{Level: model.AdminLevelPrimary},
	}
	scope, err := Evaluate(primary, req)
	require.NoError(t, err)
	assert.Equal(t, uint(10), scope.SchoolID)

	withCap := &Session{
		UserID: 2, Role: model.RoleSchoolAdmin, IsActive: true, SchoolID: schoolID(10),
		Admin: &model.AdminPermission{
			Level:        model.AdminLevelSecondary,
			Capabilities: model.NewCapabilitySet(model.CapApplications),
		},
	}
	_, err = Evaluate(withCap, req)
	assert.NoError(t, err)

	withoutCap := &Session{
		UserID: 3, Role: model.RoleSchoolAdmin, IsActive: true, SchoolID: schoolID(10),
		Admin: &model.AdminPermission{
			Level:        model.AdminLevelSecondary,
			Capabilities: model.NewCapabilitySet(model.CapTeachers),
		},
	}
	_, err = Evaluate(withoutCap, req)
	assert.ErrorIs(t, err, ErrForbidden)

	noPermRow := &Session{
		UserID: 4, Role: model.RoleSchoolAdmin, IsActive: true, SchoolID: schoolID(10),
	}
	_, err = Evaluate(noPermRow, req)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEvaluateCapabilityOnlyBindsSchoolAdmins(t *testing.T) {
	// Capability requirements are ignored for the platform operator.
	sess := &Session{UserID: 1, Role: model.RoleSuperAdmin, IsActive: true}
	_, err := Evaluate(sess, Requirement{
		Roles:      []model.Role{model.RoleSuperAdmin},
		Capability: Cap(model.CapAdmins),
	})
	assert.NoError(t, err)
}

func TestEvaluateTenantScope(t *testing.T) {
	req := Requirement{
		Roles:              []model.Role{model.RoleSchoolAdmin},
		RequireTenantScope: true,
	}

	scoped := &Session{
		UserID: 5, Role: model.RoleSchoolAdmin, IsActive: true, SchoolID: schoolID(77),
		Admin: &model.AdminPermission{Level: model.AdminLevelPrimary},
	}
	scope, err := Evaluate(scoped, req)
	require.NoError(t, err)
	assert.Equal(t, uint(77), scope.SchoolID)

	// A school_admin without a tenant cannot take tenant-scoped actions.
	unscoped := &Session{UserID: 6, Role: model.RoleSchoolAdmin, IsActive: true}
	_, err = Evaluate(unscoped, req)
	assert.ErrorIs(t, err, ErrForbidden)

	// Without RequireTenantScope the scope carries no tenant id.
	operator := &Session{UserID: 7, Role: model.RoleSuperAdmin, IsActive: true}
	scope, err = Evaluate(operator, Requirement{Roles: []model.Role{model.RoleSuperAdmin}})
	require.NoError(t, err)
	assert.Zero(t, scope.SchoolID)
}
