package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-service/internal/model"
)

func TestRegisterSchool(t *testing.T) {
	lc, db, dispatcher := newSchoolLifecycle(t)
	ctx := context.Background()

	school, admin, err := lc.Register(ctx, RegisterInput{
		Name:  "Colegio Dom Pedro II",
		Email: "Contato@DomPedro.example",
	})
	require.NoError(t, err)
	assert.Equal(t, model.SchoolStatusPendente, school.Status)
	assert.Equal(t, "colegio-dom-pedro-ii", school.Slug)
	assert.Equal(t, "contato@dompedro.example", school.Email)
	assert.Nil(t, admin)

	messages := dispatcher.sent()
	require.Len(t, messages, 1)
	assert.Equal(t, "Cadastro recebido", messages[0].Subject)

	var count int64
	require.NoError(t, db.Model(&model.User{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRegisterSchoolWithAdmin(t *testing.T) {
	lc, db, _ := newSchoolLifecycle(t)
	ctx := context.Background()

	school, admin, err := lc.Register(ctx, RegisterInput{
		Name:          "Colégio Santa Clara",
		Email:         "contato@santaclara.example",
		AdminEmail:    "diretora@santaclara.example",
		AdminPassword: "senha-segura",
	})
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, model.RoleSchoolAdmin, admin.Role)
	require.NotNil(t, admin.SchoolID)
	assert.Equal(t, school.ID, *admin.SchoolID)
	assert.True(t, admin.IsActive)
	assert.False(t, admin.MustChangePassword)

	var perm model.AdminPermission
	require.NoError(t, db.Where("user_id = ?", admin.ID).First(&perm).Error)
	assert.Equal(t, model.AdminLevelPrimary, perm.Level)
	assert.Equal(t, school.ID, perm.SchoolID)
}

func TestRegisterSchoolValidation(t *testing.T) {
	lc, _, _ := newSchoolLifecycle(t)
	ctx := context.Background()

	_, _, err := lc.Register(ctx, RegisterInput{Email: "sem-nome@x.example"})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = lc.Register(ctx, RegisterInput{
		Name:          "Escola Curta",
		Email:         "contato@curta.example",
		AdminEmail:    "admin@curta.example",
		AdminPassword: "curta",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegisterSchoolDuplicateSlug(t *testing.T) {
	lc, _, _ := newSchoolLifecycle(t)
	ctx := context.Background()

	_, _, err := lc.Register(ctx, RegisterInput{Name: "Escola Nova", Email: "a@nova.example"})
	require.NoError(t, err)

	_, _, err = lc.Register(ctx, RegisterInput{Name: "Escola Nova", Email: "b@nova.example"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestApproveSchool(t *testing.T) {
	lc, db, _ := newSchoolLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusPendente)

	approved, err := lc.Approve(ctx, school.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SchoolStatusAprovada, approved.Status)

	// A second approve finds the row outside pendente.
	_, err = lc.Approve(ctx, school.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = lc.Approve(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFoundInScope)
}

func TestRejectSchool(t *testing.T) {
	lc, db, _ := newSchoolLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusPendente)

	_, err := lc.Reject(ctx, school.ID, "não")
	assert.ErrorIs(t, err, ErrValidation)

	rejected, err := lc.Reject(ctx, school.ID, "Documentação incompleta")
	require.NoError(t, err)
	assert.Equal(t, model.SchoolStatusRejeitada, rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "Documentação incompleta", *rejected.RejectReason)
}

func TestActivateProvisionsAdmin(t *testing.T) {
	lc, db, dispatcher := newSchoolLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAprovada)

	res, err := lc.Activate(ctx, school.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SchoolStatusAtiva, res.School.Status)
	assert.True(t, res.AdminCreated)
	assert.Equal(t, school.Email, res.AdminEmail)
	assert.Len(t, res.TempPassword, 12)

	var admin model.User
	require.NoError(t, db.Where("email = ?", school.Email).First(&admin).Error)
	assert.Equal(t, model.RoleSchoolAdmin, admin.Role)
	assert.True(t, admin.MustChangePassword)
	assert.NotEqual(t, res.TempPassword, admin.Password)

	var perm model.AdminPermission
	require.NoError(t, db.Where("user_id = ?", admin.ID).First(&perm).Error)
	assert.Equal(t, model.AdminLevelPrimary, perm.Level)

	messages := dispatcher.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Body, res.TempPassword)

	// Only one activation may win.
	_, err = lc.Activate(ctx, school.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestActivateReactivatesExistingAdmin(t *testing.T) {
	lc, db, _ := newSchoolLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAprovada)
	admin := model.User{
		Email:    "diretor@reativa.example",
		Role:     model.RoleSchoolAdmin,
		SchoolID: &school.ID,
		IsActive: false,
	}
	require.NoError(t, db.Create(&admin).Error)

	res, err := lc.Activate(ctx, school.ID)
	require.NoError(t, err)
	assert.False(t, res.AdminCreated)
	assert.Equal(t, admin.Email, res.AdminEmail)
	assert.Empty(t, res.TempPassword)

	var reloaded model.User
	require.NoError(t, db.First(&reloaded, admin.ID).Error)
	assert.True(t, reloaded.IsActive)
}

func TestSuspendDeactivatesUsers(t *testing.T) {
	lc, db, _ := newSchoolLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	for _, email := range []string{"a@susp.example", "b@susp.example"} {
		require.NoError(t, db.Create(&model.User{
			Email: email, Role: model.RoleTeacher, SchoolID: &school.ID, IsActive: true,
		}).Error)
	}

	suspended, err := lc.Suspend(ctx, school.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SchoolStatusSuspensa, suspended.Status)

	var active int64
	require.NoError(t, db.Model(&model.User{}).
		Where("school_id = ? AND is_active = ?", school.ID, true).
		Count(&active).Error)
	assert.Zero(t, active)

	_, err = lc.Suspend(ctx, school.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRevertSchool(t *testing.T) {
	lc, db, _ := newSchoolLifecycle(t)
	ctx := context.Background()

	t.Run("ativa to aprovada", func(t *testing.T) {
		school := createSchool(t, db, model.SchoolStatusAtiva)
		reverted, err := lc.Revert(ctx, school.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SchoolStatusAprovada, reverted.Status)
	})

	t.Run("rejeitada to pendente clears reason", func(t *testing.T) {
		school := createSchool(t, db, model.SchoolStatusPendente)
		_, err := lc.Reject(ctx, school.ID, "Dados inconsistentes")
		require.NoError(t, err)

		reverted, err := lc.Revert(ctx, school.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SchoolStatusPendente, reverted.Status)
		assert.Nil(t, reverted.RejectReason)
	})

	t.Run("suspensa to ativa reactivates suspended users", func(t *testing.T) {
		school := createSchool(t, db, model.SchoolStatusAtiva)
		require.NoError(t, db.Create(&model.User{
			Email: "volta@susp.example", Role: model.RoleStudent, SchoolID: &school.ID, IsActive: true,
		}).Error)
		_, err := lc.Suspend(ctx, school.ID)
		require.NoError(t, err)

		reverted, err := lc.Revert(ctx, school.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SchoolStatusAtiva, reverted.Status)

		var user model.User
		require.NoError(t, db.Where("email = ?", "volta@susp.example").First(&user).Error)
		assert.True(t, user.IsActive)
		assert.False(t, user.SuspendedWithSchool)
	})

	t.Run("pendente has nothing to revert", func(t *testing.T) {
		school := createSchool(t, db, model.SchoolStatusPendente)
		_, err := lc.Revert(ctx, school.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestRevertSuspensionKeepsRemovedAccountsInactive(t *testing.T) {
	lc, db, _ := newSchoolLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)

	active := model.User{
		Email: "ativa@volta.example", Role: model.RoleTeacher, SchoolID: &school.ID, IsActive: true,
	}
	removed := model.User{
		Email: "removida@volta.example", Role: model.RoleSchoolAdmin, SchoolID: &school.ID, IsActive: false,
	}
	require.NoError(t, db.Create(&active).Error)
	require.NoError(t, db.Create(&removed).Error)
	// GORM skips the zero-value bool on Create, so deactivate explicitly,
	// matching the real DeleteAdmin path.
	require.NoError(t, db.Model(&removed).Update("is_active", false).Error)

	_, err := lc.Suspend(ctx, school.ID)
	require.NoError(t, err)
	_, err = lc.Revert(ctx, school.ID)
	require.NoError(t, err)

	var reloadedActive model.User
	require.NoError(t, db.First(&reloadedActive, active.ID).Error)
	assert.True(t, reloadedActive.IsActive)

	// The admin removed before the suspension stays out.
	var reloadedRemoved model.User
	require.NoError(t, db.First(&reloadedRemoved, removed.ID).Error)
	assert.False(t, reloadedRemoved.IsActive)
}

func TestDeleteSchoolCascades(t *testing.T) {
	lc, db, _ := newSchoolLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusSuspensa)
	other := createSchool(t, db, model.SchoolStatusAtiva)

	user := model.User{Email: "del@casc.example", Role: model.RoleSchoolAdmin, SchoolID: &school.ID, IsActive: true}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&model.AdminPermission{
		UserID: user.ID, SchoolID: school.ID, Level: model.AdminLevelPrimary,
	}).Error)
	require.NoError(t, db.Create(&model.Application{
		Name: "Ana", Email: "ana@casc.example", Role: model.RoleStudent,
		SchoolID: school.ID, Status: model.ApplicationStatusPendente, TrackingToken: "tok-cascade",
	}).Error)
	keep := model.User{Email: "fica@casc.example", Role: model.RoleTeacher, SchoolID: &other.ID, IsActive: true}
	require.NoError(t, db.Create(&keep).Error)

	require.NoError(t, lc.Delete(ctx, school.ID))

	for _, m := range []interface{}{&model.User{}, &model.AdminPermission{}, &model.Application{}} {
		var count int64
		require.NoError(t, db.Model(m).Where("school_id = ?", school.ID).Count(&count).Error)
		assert.Zero(t, count)
	}

	var kept int64
	require.NoError(t, db.Model(&model.User{}).Where("school_id = ?", other.ID).Count(&kept).Error)
	assert.Equal(t, int64(1), kept)

	assert.ErrorIs(t, lc.Delete(ctx, school.ID), ErrNotFoundInScope)
}
