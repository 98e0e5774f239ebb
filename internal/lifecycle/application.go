package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"school-service/internal/authz"
	"school-service/internal/credential"
	"school-service/internal/model"
	"school-service/internal/notify"
	"school-service/pkg/cache"
)

// ApplicationLifecycle governs enrollment applications from public
// submission to account creation or rejection.
type ApplicationLifecycle struct {
	db       *gorm.DB
	creds    *credential.Provisioner
	notifier notify.Dispatcher
	cache    *cache.Client
	log      *zap.Logger
}

// NewApplicationLifecycle wires the lifecycle. cacheClient may be nil; the
// public status read then always hits the database.
func NewApplicationLifecycle(db *gorm.DB, creds *credential.Provisioner, notifier notify.Dispatcher, cacheClient *cache.Client, log *zap.Logger) *ApplicationLifecycle {
	return &ApplicationLifecycle{db: db, creds: creds, notifier: notifier, cache: cacheClient, log: log}
}

// SubmitInput is the public application payload. The student fields are
// required only when Role is student.
type SubmitInput struct {
	Name            string
	Email           string
	Phone           string
	Role            model.Role
	SchoolID        uint
	ApplicantUserID *uint

	DocumentType    string
	DocumentNumber  string
	DateOfBirth     string // 2006-01-02
	DesiredGrade    string
	DesiredCourseID *uint
}

// Submit creates a pendente application with a fresh tracking token. The
// target school must exist and be accepting applications (ativa).
func (l *ApplicationLifecycle) Submit(ctx context.Context, in SubmitInput) (*model.Application, error) {
	if in.Name == "" || in.Email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrValidation)
	}
	if !model.ApplicationRoleValid(in.Role) {
		return nil, fmt.Errorf("%w: role %q cannot be applied for", ErrValidation, in.Role)
	}

	var dateOfBirth *time.Time
	if in.DateOfBirth != "" {
		parsed, err := time.Parse("2006-01-02", in.DateOfBirth)
		if err != nil {
			return nil, fmt.Errorf("%w: date_of_birth must be YYYY-MM-DD", ErrValidation)
		}
		dateOfBirth = &parsed
	}

	token, err := newTrackingToken()
	if err != nil {
		return nil, err
	}

	app := model.Application{
		Name:            in.Name,
		Email:           normalizeEmail(in.Email),
		Phone:           in.Phone,
		Role:            in.Role,
		SchoolID:        in.SchoolID,
		Status:          model.ApplicationStatusPendente,
		TrackingToken:   token,
		ApplicantUserID: in.ApplicantUserID,
		DateOfBirth:     dateOfBirth,
		DesiredCourseID: in.DesiredCourseID,
	}
	if in.Role == model.RoleStudent {
		app.DocumentType = optional(in.DocumentType)
		app.DocumentNumber = optional(in.DocumentNumber)
		app.DesiredGrade = optional(in.DesiredGrade)
	}

	var school model.School
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&school, in.SchoolID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFoundInScope
			}
			return err
		}
		if school.Status != model.SchoolStatusAtiva {
			return fmt.Errorf("%w: school is not accepting applications", ErrValidation)
		}
		return tx.Create(&app).Error
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("Application submitted",
		zap.Uint("application_id", app.ID),
		zap.Uint("school_id", app.SchoolID),
		zap.String("role", string(app.Role)))

	l.notifier.Dispatch(ctx, notify.Message{
		To:      app.Email,
		Subject: "Inscrição recebida",
		Body: fmt.Sprintf("Olá, %s!\n\nRecebemos a sua inscrição na escola %s.\n"+
			"Acompanhe o andamento com o código: %s\n", app.Name, school.Name, app.TrackingToken),
	})
	return &app, nil
}

// TrackingStatus is the redacted projection served without authentication.
type TrackingStatus struct {
	Name         string                  `json:"name"`
	Email        string                  `json:"email"`
	Role         model.Role              `json:"role"`
	Status       model.ApplicationStatus `json:"status"`
	RejectReason *string                 `json:"reject_reason,omitempty"`
	SchoolName   string                  `json:"school_name"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// Status resolves a tracking token to its redacted projection. Served
// through the redis cache when one is configured.
func (l *ApplicationLifecycle) Status(ctx context.Context, token string) (*TrackingStatus, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrValidation)
	}

	if l.cache != nil {
		var cached TrackingStatus
		if ok, _ := l.cache.GetJSON(ctx, cache.TrackingKey(token), &cached); ok {
			return &cached, nil
		}
	}

	var app model.Application
	err := l.db.WithContext(ctx).
		Preload("School").
		Where("tracking_token = ?", token).
		First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFoundInScope
		}
		return nil, err
	}

	status := &TrackingStatus{
		Name:         app.Name,
		Email:        app.Email,
		Role:         app.Role,
		Status:       app.Status,
		RejectReason: app.RejectReason,
		SchoolName:   app.School.Name,
		CreatedAt:    app.CreatedAt,
		UpdatedAt:    app.UpdatedAt,
	}
	if l.cache != nil {
		if err := l.cache.SetJSON(ctx, cache.TrackingKey(token), status, cache.TrackingTTL); err != nil {
			l.log.Warn("Failed to cache tracking status", zap.Error(err))
		}
	}
	return status, nil
}

// Review moves pendente → em_analise.
func (l *ApplicationLifecycle) Review(ctx context.Context, scope *authz.Scope, id uint) (*model.Application, error) {
	return l.transition(ctx, scope, id,
		[]model.ApplicationStatus{model.ApplicationStatusPendente},
		model.ApplicationStatusEmAnalise, nil)
}

// Approve moves pendente/em_analise → aprovada. No account is created yet.
func (l *ApplicationLifecycle) Approve(ctx context.Context, scope *authz.Scope, id uint) (*model.Application, error) {
	app, err := l.transition(ctx, scope, id,
		[]model.ApplicationStatus{model.ApplicationStatusPendente, model.ApplicationStatusEmAnalise},
		model.ApplicationStatusAprovada, nil)
	if err != nil {
		return nil, err
	}
	l.notifier.Dispatch(ctx, notify.Message{
		To:      app.Email,
		Subject: "Inscrição aprovada",
		Body: fmt.Sprintf("Olá, %s!\n\nSua inscrição foi aprovada. "+
			"A matrícula será concluída pela secretaria.\n", app.Name),
	})
	return app, nil
}

// Reject moves pendente/em_analise/aprovada → rejeitada with a reason.
func (l *ApplicationLifecycle) Reject(ctx context.Context, scope *authz.Scope, id uint, reason string) (*model.Application, error) {
	if len(reason) < minRejectReasonLength {
		return nil, fmt.Errorf("%w: reject reason must have at least %d characters", ErrValidation, minRejectReasonLength)
	}
	app, err := l.transition(ctx, scope, id,
		[]model.ApplicationStatus{
			model.ApplicationStatusPendente,
			model.ApplicationStatusEmAnalise,
			model.ApplicationStatusAprovada,
		},
		model.ApplicationStatusRejeitada,
		map[string]interface{}{"reject_reason": reason})
	if err != nil {
		return nil, err
	}
	l.notifier.Dispatch(ctx, notify.Message{
		To:      app.Email,
		Subject: "Inscrição não aprovada",
		Body:    fmt.Sprintf("Olá, %s.\n\nSua inscrição não foi aprovada.\nMotivo: %s\n", app.Name, reason),
	})
	return app, nil
}

// EnrollResult reports what Enroll did. TempPassword is set only when a new
// user account was provisioned.
type EnrollResult struct {
	Application  *model.Application
	UserID       uint
	EntityID     uint
	UserCreated  bool
	TempPassword string
}

// Enroll moves aprovada → matriculada, creating the role entity and, when no
// user exists for the email yet, the user account with a temporary
// credential. Everything happens in one transaction; the status CAS runs
// first so a concurrent enroll observes a conflict instead of creating a
// duplicate entity.
func (l *ApplicationLifecycle) Enroll(ctx context.Context, scope *authz.Scope, id uint) (*EnrollResult, error) {
	res := &EnrollResult{}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app, err := l.loadScoped(tx, scope, id)
		if err != nil {
			return err
		}

		// Compare-and-swap: only one enroll can win this update.
		cas := tx.Model(&model.Application{}).
			Where("id = ? AND status = ?", app.ID, model.ApplicationStatusAprovada).
			Update("status", model.ApplicationStatusMatriculada)
		if cas.Error != nil {
			return cas.Error
		}
		if cas.RowsAffected == 0 {
			return fmt.Errorf("%w: application %d is not aprovada", ErrInvalidTransition, app.ID)
		}

		// Idempotent account resolution: reuse the user if the email is
		// already registered in this tenant.
		var user model.User
		err = tx.Where("email = ?", app.Email).First(&user).Error
		switch {
		case err == nil:
			if user.SchoolID == nil || *user.SchoolID != app.SchoolID {
				return fmt.Errorf("%w: email %q already registered", ErrDuplicate, app.Email)
			}
			res.UserCreated = false
		case errors.Is(err, gorm.ErrRecordNotFound):
			cred, err := l.creds.Provision()
			if err != nil {
				return err
			}
			user = model.User{
				Email:              app.Email,
				Password:           cred.Hash,
				Role:               app.Role,
				SchoolID:           &app.SchoolID,
				IsActive:           true,
				MustChangePassword: true,
				Provider:           model.ProviderCredentials,
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			res.UserCreated = true
			res.TempPassword = cred.Plaintext
		default:
			return err
		}
		res.UserID = user.ID

		entityID, err := l.createRoleEntity(tx, app, user.ID)
		if err != nil {
			return err
		}
		res.EntityID = entityID

		updates := map[string]interface{}{"enrolled_user_id": user.ID}
		if entityID != 0 {
			updates["enrolled_entity_id"] = entityID
		}
		if err := tx.Model(&model.Application{}).Where("id = ?", app.ID).Updates(updates).Error; err != nil {
			return err
		}

		app.Status = model.ApplicationStatusMatriculada
		res.Application = app
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.invalidateTracking(ctx, res.Application.TrackingToken)
	l.log.Info("Application enrolled",
		zap.Uint("application_id", res.Application.ID),
		zap.Uint("user_id", res.UserID),
		zap.Bool("user_created", res.UserCreated))

	body := fmt.Sprintf("Olá, %s!\n\nSua matrícula foi concluída.\n", res.Application.Name)
	if res.UserCreated {
		body += fmt.Sprintf("\nAcesse com o email %s e a senha temporária: %s\n"+
			"Você deverá trocar a senha no primeiro acesso.\n",
			res.Application.Email, res.TempPassword)
	}
	l.notifier.Dispatch(ctx, notify.Message{
		To:      res.Application.Email,
		Subject: "Matrícula concluída",
		Body:    body,
	})
	return res, nil
}

// Cancel removes a pendente application. Only the original applicant may
// cancel, and only while the application is still pendente.
func (l *ApplicationLifecycle) Cancel(ctx context.Context, userID uint, id uint) error {
	var token string
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app model.Application
		if err := tx.First(&app, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFoundInScope
			}
			return err
		}
		if app.ApplicantUserID == nil || *app.ApplicantUserID != userID {
			return authz.ErrForbidden
		}
		token = app.TrackingToken

		res := tx.Where("id = ? AND status = ?", id, model.ApplicationStatusPendente).
			Delete(&model.Application{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: application %d is not pendente", ErrInvalidTransition, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.invalidateTracking(ctx, token)
	l.log.Info("Application cancelled",
		zap.Uint("application_id", id),
		zap.Uint("user_id", userID))
	return nil
}

// createRoleEntity builds the Teacher/Student/Parent record from the
// application payload. An entity already linked to the user is reused, so
// enrolling a returning applicant under the same role is idempotent.
// Applications for school_admin create a secondary admin permission with no
// capabilities instead of a role entity.
func (l *ApplicationLifecycle) createRoleEntity(tx *gorm.DB, app *model.Application, userID uint) (uint, error) {
	switch app.Role {
	case model.RoleTeacher:
		var teacher model.Teacher
		err := tx.Where("user_id = ?", userID).First(&teacher).Error
		if err == nil {
			return teacher.ID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
		teacher = model.Teacher{
			SchoolID: app.SchoolID,
			UserID:   &userID,
			Name:     app.Name,
			Email:    app.Email,
			Phone:    app.Phone,
		}
		if err := tx.Create(&teacher).Error; err != nil {
			return 0, err
		}
		return teacher.ID, nil
	case model.RoleStudent:
		var student model.Student
		err := tx.Where("user_id = ?", userID).First(&student).Error
		if err == nil {
			return student.ID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
		student = model.Student{
			SchoolID:    app.SchoolID,
			UserID:      &userID,
			Name:        app.Name,
			Email:       app.Email,
			Phone:       app.Phone,
			DateOfBirth: app.DateOfBirth,
			CourseID:    app.DesiredCourseID,
		}
		if app.DocumentType != nil {
			student.DocumentType = *app.DocumentType
		}
		if app.DocumentNumber != nil {
			student.DocumentNumber = *app.DocumentNumber
		}
		if app.DesiredGrade != nil {
			student.DesiredGrade = *app.DesiredGrade
		}
		if err := tx.Create(&student).Error; err != nil {
			return 0, err
		}
		return student.ID, nil
	case model.RoleParent:
		var parent model.Parent
		err := tx.Where("user_id = ?", userID).First(&parent).Error
		if err == nil {
			return parent.ID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
		parent = model.Parent{
			SchoolID: app.SchoolID,
			UserID:   &userID,
			Name:     app.Name,
			Email:    app.Email,
			Phone:    app.Phone,
		}
		if err := tx.Create(&parent).Error; err != nil {
			return 0, err
		}
		return parent.ID, nil
	case model.RoleSchoolAdmin:
		var count int64
		if err := tx.Model(&model.AdminPermission{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return 0, err
		}
		if count > 0 {
			return 0, nil
		}
		perm := model.AdminPermission{
			UserID:   userID,
			SchoolID: app.SchoolID,
			Level:    model.AdminLevelSecondary,
		}
		return 0, tx.Create(&perm).Error
	default:
		return 0, fmt.Errorf("%w: role %q cannot be enrolled", ErrValidation, app.Role)
	}
}

// transition runs one scoped CAS transition in its own transaction and
// invalidates the tracking cache.
func (l *ApplicationLifecycle) transition(ctx context.Context, scope *authz.Scope, id uint, from []model.ApplicationStatus, to model.ApplicationStatus, extra map[string]interface{}) (*model.Application, error) {
	var app *model.Application
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := l.loadScoped(tx, scope, id)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"status": to}
		for k, v := range extra {
			updates[k] = v
		}
		res := tx.Model(&model.Application{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: application %d is not in %v", ErrInvalidTransition, id, from)
		}

		app = loaded
		return tx.First(app, id).Error
	})
	if err != nil {
		return nil, err
	}

	l.invalidateTracking(ctx, app.TrackingToken)
	l.log.Info("Application transition",
		zap.Uint("application_id", id),
		zap.String("status", string(to)))
	return app, nil
}

// loadScoped fetches the application filtered by the caller's tenant id.
// Cross-tenant rows report ErrNotFoundInScope.
func (l *ApplicationLifecycle) loadScoped(tx *gorm.DB, scope *authz.Scope, id uint) (*model.Application, error) {
	var app model.Application
	err := tx.Where("id = ? AND school_id = ?", id, scope.SchoolID).First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFoundInScope
		}
		return nil, err
	}
	return &app, nil
}

func (l *ApplicationLifecycle) invalidateTracking(ctx context.Context, token string) {
	if l.cache == nil || token == "" {
		return
	}
	if err := l.cache.Delete(ctx, cache.TrackingKey(token)); err != nil {
		l.log.Warn("Failed to invalidate tracking cache", zap.Error(err))
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
