// Package authz decides whether a caller may perform an action and which
// tenant scope applies to its queries. The evaluator is a pure function over
// an already-loaded session; it never touches the database.
package authz

import (
	"errors"

	"school-service/internal/model"
)

var (
	// ErrUnauthenticated means there is no usable session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the session's role or capabilities do not cover
	// the requested action.
	ErrForbidden = errors.New("forbidden")
)

// Session is the per-request identity, built by the auth middleware from the
// JWT claims and the freshly loaded user row. Admin is loaded for
// school_admin users so capability checks need no further queries.
type Session struct {
	UserID   uint
	Email    string
	Role     model.Role
	SchoolID *uint
	IsActive bool
	Admin    *model.AdminPermission
}

// Requirement describes what an endpoint demands of the caller.
type Requirement struct {
	Roles              []model.Role
	Capability         *model.Capability
	RequireTenantScope bool
}

// Cap is a convenience for building a Requirement with a capability.
func Cap(c model.Capability) *model.Capability { return &c }

// Scope carries the allow decision together with the tenant id every
// downstream query must filter by. SchoolID is zero only for callers whose
// requirement did not ask for tenant scope (super_admin paths).
type Scope struct {
	UserID   uint
	Role     model.Role
	SchoolID uint
}

// Evaluate applies the permission algorithm: authentication, role check,
// capability check for secondary admins, then tenant scoping. The tenant id
// always comes from the session, never from request parameters.
func Evaluate(sess *Session, req Requirement) (*Scope, error) {
	if sess == nil || !sess.IsActive {
		return nil, ErrUnauthenticated
	}

	allowed := false
	for _, r := range req.Roles {
		if sess.Role == r {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrForbidden
	}

	if req.Capability != nil && sess.Role == model.RoleSchoolAdmin {
		if sess.Admin == nil || !sess.Admin.Allows(*req.Capability) {
			return nil, ErrForbidden
		}
	}

	scope := &Scope{UserID: sess.UserID, Role: sess.Role}
	if req.RequireTenantScope {
		if sess.SchoolID == nil {
			return nil, ErrForbidden
		}
		scope.SchoolID = *sess.SchoolID
	}
	return scope, nil
}
