// Package lifecycle implements the school and application state machines.
// Every transition is a single database transaction guarded by a
// compare-and-swap on the row's current status, so concurrent administrators
// resolve to exactly one winner and the loser observes ErrInvalidTransition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"school-service/internal/credential"
	"school-service/internal/model"
	"school-service/internal/notify"
)

const minPasswordLength = 8

// SchoolLifecycle governs a tenant's progression from registration to
// active operation or termination.
type SchoolLifecycle struct {
	db       *gorm.DB
	creds    *credential.Provisioner
	notifier notify.Dispatcher
	log      *zap.Logger
}

func NewSchoolLifecycle(db *gorm.DB, creds *credential.Provisioner, notifier notify.Dispatcher, log *zap.Logger) *SchoolLifecycle {
	return &SchoolLifecycle{db: db, creds: creds, notifier: notifier, log: log}
}

// RegisterInput is the public school registration payload. Admin fields are
// optional: a school may register with its first admin account up front or
// have one provisioned at activation time.
type RegisterInput struct {
	Name          string
	Email         string
	Phone         string
	Address       string
	Slug          string
	AdminEmail    string
	AdminPassword string
}

// Register creates the tenant in pendente, optionally with its primary
// admin user in the same transaction.
func (l *SchoolLifecycle) Register(ctx context.Context, in RegisterInput) (*model.School, *model.User, error) {
	if in.Name == "" || in.Email == "" {
		return nil, nil, fmt.Errorf("%w: name and email are required", ErrValidation)
	}
	slug := normalizeSlug(in.Slug)
	if slug == "" {
		slug = normalizeSlug(in.Name)
	}
	if slug == "" {
		return nil, nil, fmt.Errorf("%w: slug could not be derived from name", ErrValidation)
	}
	adminEmail := normalizeEmail(in.AdminEmail)
	if adminEmail != "" && len(in.AdminPassword) < minPasswordLength {
		return nil, nil, fmt.Errorf("%w: admin password must have at least %d characters", ErrValidation, minPasswordLength)
	}

	var (
		school model.School
		admin  *model.User
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.School{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: slug %q already registered", ErrDuplicate, slug)
		}

		school = model.School{
			Name:    in.Name,
			Slug:    slug,
			Status:  model.SchoolStatusPendente,
			Email:   normalizeEmail(in.Email),
			Phone:   in.Phone,
			Address: in.Address,
		}
		if err := tx.Create(&school).Error; err != nil {
			return err
		}

		if adminEmail == "" {
			return nil
		}

		if err := tx.Model(&model.User{}).Where("email = ?", adminEmail).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: email %q already registered", ErrDuplicate, adminEmail)
		}

		hash, err := l.creds.Hash(in.AdminPassword)
		if err != nil {
			return err
		}
		admin = &model.User{
			Email:    adminEmail,
			Password: hash,
			Role:     model.RoleSchoolAdmin,
			SchoolID: &school.ID,
			IsActive: true,
			Provider: model.ProviderCredentials,
		}
		if err := tx.Create(admin).Error; err != nil {
			return err
		}
		perm := model.AdminPermission{
			UserID:   admin.ID,
			SchoolID: school.ID,
			Level:    model.AdminLevelPrimary,
		}
		return tx.Create(&perm).Error
	})
	if err != nil {
		return nil, nil, err
	}

	l.log.Info("School registered",
		zap.Uint("school_id", school.ID),
		zap.String("slug", school.Slug),
		zap.Bool("admin_created", admin != nil))

	l.notifier.Dispatch(ctx, notify.Message{
		To:      school.Email,
		Subject: "Cadastro recebido",
		Body: fmt.Sprintf("Olá, %s!\n\nRecebemos o cadastro da sua escola. "+
			"Ele será analisado pela nossa equipe e você será avisado por email.\n", school.Name),
	})
	return &school, admin, nil
}

// Approve moves pendente → aprovada.
func (l *SchoolLifecycle) Approve(ctx context.Context, id uint) (*model.School, error) {
	school, err := l.transition(ctx, id,
		[]model.SchoolStatus{model.SchoolStatusPendente},
		model.SchoolStatusAprovada, nil)
	if err != nil {
		return nil, err
	}
	l.notifier.Dispatch(ctx, notify.Message{
		To:      school.Email,
		Subject: "Escola aprovada",
		Body: fmt.Sprintf("A escola %s foi aprovada. "+
			"A ativação do acesso acontece em seguida.\n", school.Name),
	})
	return school, nil
}

// Reject moves pendente/aprovada → rejeitada, storing the reason.
func (l *SchoolLifecycle) Reject(ctx context.Context, id uint, reason string) (*model.School, error) {
	if len(reason) < minRejectReasonLength {
		return nil, fmt.Errorf("%w: reject reason must have at least %d characters", ErrValidation, minRejectReasonLength)
	}
	school, err := l.transition(ctx, id,
		[]model.SchoolStatus{model.SchoolStatusPendente, model.SchoolStatusAprovada},
		model.SchoolStatusRejeitada,
		map[string]interface{}{"reject_reason": reason})
	if err != nil {
		return nil, err
	}
	l.notifier.Dispatch(ctx, notify.Message{
		To:      school.Email,
		Subject: "Cadastro não aprovado",
		Body:    fmt.Sprintf("O cadastro da escola %s não foi aprovado.\n\nMotivo: %s\n", school.Name, reason),
	})
	return school, nil
}

// ActivationResult reports what Activate did. TempPassword is set only when
// a new admin account was provisioned and is never persisted in plaintext.
type ActivationResult struct {
	School       *model.School
	AdminCreated bool
	AdminEmail   string
	TempPassword string
}

// Activate moves aprovada → ativa. If the school has no admin user yet one
// is provisioned with a temporary credential; if one was registered at
// submission time it is reactivated instead.
func (l *SchoolLifecycle) Activate(ctx context.Context, id uint) (*ActivationResult, error) {
	res := &ActivationResult{}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		school, err := l.casUpdate(tx, id,
			[]model.SchoolStatus{model.SchoolStatusAprovada},
			model.SchoolStatusAtiva, nil)
		if err != nil {
			return err
		}
		res.School = school

		var admin model.User
		err = tx.Where("school_id = ? AND role = ?", id, model.RoleSchoolAdmin).
			Order("id").First(&admin).Error
		switch {
		case err == nil:
			// Existing-admin path: reactivate, leave credentials untouched.
			if err := tx.Model(&admin).Update("is_active", true).Error; err != nil {
				return err
			}
			res.AdminCreated = false
			res.AdminEmail = admin.Email
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			cred, err := l.creds.Provision()
			if err != nil {
				return err
			}
			user := model.User{
				Email:              school.Email,
				Password:           cred.Hash,
				Role:               model.RoleSchoolAdmin,
				SchoolID:           &school.ID,
				IsActive:           true,
				MustChangePassword: true,
				Provider:           model.ProviderCredentials,
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			perm := model.AdminPermission{
				UserID:   user.ID,
				SchoolID: school.ID,
				Level:    model.AdminLevelPrimary,
			}
			if err := tx.Create(&perm).Error; err != nil {
				return err
			}
			res.AdminCreated = true
			res.AdminEmail = user.Email
			res.TempPassword = cred.Plaintext
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("School activated",
		zap.Uint("school_id", id),
		zap.Bool("admin_created", res.AdminCreated))

	if res.AdminCreated {
		l.notifier.Dispatch(ctx, notify.Message{
			To:      res.AdminEmail,
			Subject: "Sua escola está ativa",
			Body: fmt.Sprintf("A escola %s está ativa.\n\n"+
				"Acesse com o email %s e a senha temporária: %s\n"+
				"Você deverá trocar a senha no primeiro acesso.\n",
				res.School.Name, res.AdminEmail, res.TempPassword),
		})
	} else {
		l.notifier.Dispatch(ctx, notify.Message{
			To:      res.AdminEmail,
			Subject: "Sua escola está ativa",
			Body: fmt.Sprintf("A escola %s está ativa. "+
				"Acesse com as credenciais cadastradas.\n", res.School.Name),
		})
	}
	return res, nil
}

// Suspend moves ativa → suspensa and deactivates every active user of the
// school in one bulk statement, so a half-suspended tenant is never
// observable. Deactivated accounts are flagged so Revert can tell them apart
// from accounts that were individually removed beforehand.
func (l *SchoolLifecycle) Suspend(ctx context.Context, id uint) (*model.School, error) {
	var school *model.School
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		school, err = l.casUpdate(tx, id,
			[]model.SchoolStatus{model.SchoolStatusAtiva},
			model.SchoolStatusSuspensa, nil)
		if err != nil {
			return err
		}
		return tx.Model(&model.User{}).
			Where("school_id = ? AND is_active = ?", id, true).
			Updates(map[string]interface{}{
				"is_active":             false,
				"suspended_with_school": true,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("School suspended", zap.Uint("school_id", id))
	return school, nil
}

// Revert undoes one lifecycle step: ativa → aprovada, aprovada → pendente,
// rejeitada → pendente (clearing the reject reason) and suspensa → ativa
// (reactivating the accounts the suspension deactivated).
func (l *SchoolLifecycle) Revert(ctx context.Context, id uint) (*model.School, error) {
	var school *model.School
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.School
		if err := tx.First(&current, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFoundInScope
			}
			return err
		}

		var err error
		switch current.Status {
		case model.SchoolStatusAtiva:
			school, err = l.casUpdate(tx, id,
				[]model.SchoolStatus{model.SchoolStatusAtiva},
				model.SchoolStatusAprovada, nil)
		case model.SchoolStatusAprovada:
			school, err = l.casUpdate(tx, id,
				[]model.SchoolStatus{model.SchoolStatusAprovada},
				model.SchoolStatusPendente, nil)
		case model.SchoolStatusRejeitada:
			school, err = l.casUpdate(tx, id,
				[]model.SchoolStatus{model.SchoolStatusRejeitada},
				model.SchoolStatusPendente,
				map[string]interface{}{"reject_reason": nil})
		case model.SchoolStatusSuspensa:
			school, err = l.casUpdate(tx, id,
				[]model.SchoolStatus{model.SchoolStatusSuspensa},
				model.SchoolStatusAtiva, nil)
			if err == nil {
				// Only accounts the suspension deactivated come back.
				err = tx.Model(&model.User{}).
					Where("school_id = ? AND suspended_with_school = ?", id, true).
					Updates(map[string]interface{}{
						"is_active":             true,
						"suspended_with_school": false,
					}).Error
			}
		default:
			return fmt.Errorf("%w: cannot revert from %s", ErrInvalidTransition, current.Status)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("School reverted",
		zap.Uint("school_id", id),
		zap.String("status", string(school.Status)))
	return school, nil
}

// Delete removes the school and everything it owns (applications, role
// entities, admin permissions and users) in one transaction. This is the
// irreversible counterpart of Suspend's soft deactivation.
func (l *SchoolLifecycle) Delete(ctx context.Context, id uint) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var school model.School
		if err := tx.First(&school, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFoundInScope
			}
			return err
		}

		for _, m := range []interface{}{
			&model.Application{},
			&model.AdminPermission{},
			&model.Teacher{},
			&model.Student{},
			&model.Parent{},
			&model.User{},
		} {
			if err := tx.Where("school_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&school).Error
	})
	if err != nil {
		return err
	}
	l.log.Info("School deleted", zap.Uint("school_id", id))
	return nil
}

// transition runs a single CAS transition in its own transaction.
func (l *SchoolLifecycle) transition(ctx context.Context, id uint, from []model.SchoolStatus, to model.SchoolStatus, extra map[string]interface{}) (*model.School, error) {
	var school *model.School
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		school, err = l.casUpdate(tx, id, from, to, extra)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("School transition",
		zap.Uint("school_id", id),
		zap.String("status", string(to)))
	return school, nil
}

// casUpdate performs the compare-and-swap status write: the update only
// succeeds if the row still holds one of the expected source states. A miss
// on an existing row is a conflict, never a silent no-op.
func (l *SchoolLifecycle) casUpdate(tx *gorm.DB, id uint, from []model.SchoolStatus, to model.SchoolStatus, extra map[string]interface{}) (*model.School, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.Model(&model.School{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&model.School{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, ErrNotFoundInScope
		}
		return nil, fmt.Errorf("%w: school %d is not in %v", ErrInvalidTransition, id, from)
	}

	var school model.School
	if err := tx.First(&school, id).Error; err != nil {
		return nil, err
	}
	return &school, nil
}
