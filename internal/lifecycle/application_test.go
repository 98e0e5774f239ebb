package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-service/internal/authz"
	"school-service/internal/model"
)

func adminScope(school *model.School) *authz.Scope {
	return &authz.Scope{UserID: 1, Role: model.RoleSchoolAdmin, SchoolID: school.ID}
}

func submitStudent(t *testing.T, lc *ApplicationLifecycle, school *model.School, email string) *model.Application {
	t.Helper()
	app, err := lc.Submit(context.Background(), SubmitInput{
		Name:           "Maria Souza",
		Email:          email,
		Phone:          "11 98888-7777",
		Role:           model.RoleStudent,
		SchoolID:       school.ID,
		DocumentType:   "cpf",
		DocumentNumber: "123.456.789-00",
		DateOfBirth:    "2012-03-15",
		DesiredGrade:   "6º ano",
	})
	require.NoError(t, err)
	return app
}

func TestSubmitApplication(t *testing.T) {
	lc, db, dispatcher := newApplicationLifecycle(t)
	school := createSchool(t, db, model.SchoolStatusAtiva)

	app := submitStudent(t, lc, school, "Maria@Souza.example")
	assert.Equal(t, model.ApplicationStatusPendente, app.Status)
	assert.Equal(t, "maria@souza.example", app.Email)
	assert.Len(t, app.TrackingToken, 64)
	require.NotNil(t, app.DateOfBirth)

	messages := dispatcher.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Body, app.TrackingToken)
}

func TestSubmitApplicationValidation(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)

	_, err := lc.Submit(ctx, SubmitInput{Email: "sem-nome@x.example", Role: model.RoleStudent, SchoolID: school.ID})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = lc.Submit(ctx, SubmitInput{Name: "X", Email: "x@x.example", Role: model.RoleSuperAdmin, SchoolID: school.ID})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = lc.Submit(ctx, SubmitInput{
		Name: "X", Email: "x@x.example", Role: model.RoleStudent,
		SchoolID: school.ID, DateOfBirth: "15/03/2012",
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = lc.Submit(ctx, SubmitInput{Name: "X", Email: "x@x.example", Role: model.RoleStudent, SchoolID: 9999})
	assert.ErrorIs(t, err, ErrNotFoundInScope)
}

func TestSubmitApplicationSchoolNotActive(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	school := createSchool(t, db, model.SchoolStatusPendente)

	_, err := lc.Submit(context.Background(), SubmitInput{
		Name: "João", Email: "joao@x.example", Role: model.RoleTeacher, SchoolID: school.ID,
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTrackingStatus(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	app := submitStudent(t, lc, school, "track@souza.example")

	status, err := lc.Status(ctx, app.TrackingToken)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationStatusPendente, status.Status)
	assert.Equal(t, school.Name, status.SchoolName)
	assert.Nil(t, status.RejectReason)

	_, err = lc.Status(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = lc.Status(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFoundInScope)
}

func TestApplicationTransitions(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	scope := adminScope(school)
	app := submitStudent(t, lc, school, "fases@souza.example")

	reviewed, err := lc.Review(ctx, scope, app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationStatusEmAnalise, reviewed.Status)

	// Review is pendente-only.
	_, err = lc.Review(ctx, scope, app.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	approved, err := lc.Approve(ctx, scope, app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationStatusAprovada, approved.Status)

	rejected, err := lc.Reject(ctx, scope, app.ID, "Documentos incompletos")
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationStatusRejeitada, rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "Documentos incompletos", *rejected.RejectReason)

	// A rejected application can no longer be enrolled.
	_, err = lc.Enroll(ctx, scope, app.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectReasonTooShort(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	school := createSchool(t, db, model.SchoolStatusAtiva)
	app := submitStudent(t, lc, school, "curto@souza.example")

	_, err := lc.Reject(context.Background(), adminScope(school), app.ID, "ruim")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEnrollStudentCreatesUserAndEntity(t *testing.T) {
	lc, db, dispatcher := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	scope := adminScope(school)
	app := submitStudent(t, lc, school, "matricula@souza.example")

	_, err := lc.Approve(ctx, scope, app.ID)
	require.NoError(t, err)

	res, err := lc.Enroll(ctx, scope, app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationStatusMatriculada, res.Application.Status)
	assert.True(t, res.UserCreated)
	assert.Len(t, res.TempPassword, 12)

	var user model.User
	require.NoError(t, db.First(&user, res.UserID).Error)
	assert.Equal(t, model.RoleStudent, user.Role)
	assert.True(t, user.MustChangePassword)
	require.NotNil(t, user.SchoolID)
	assert.Equal(t, school.ID, *user.SchoolID)

	var student model.Student
	require.NoError(t, db.First(&student, res.EntityID).Error)
	assert.Equal(t, school.ID, student.SchoolID)
	require.NotNil(t, student.UserID)
	assert.Equal(t, user.ID, *student.UserID)
	assert.Equal(t, "123.456.789-00", student.DocumentNumber)

	var reloaded model.Application
	require.NoError(t, db.First(&reloaded, app.ID).Error)
	require.NotNil(t, reloaded.EnrolledUserID)
	assert.Equal(t, user.ID, *reloaded.EnrolledUserID)
	require.NotNil(t, reloaded.EnrolledEntityID)
	assert.Equal(t, student.ID, *reloaded.EnrolledEntityID)

	messages := dispatcher.sent()
	assert.Contains(t, messages[len(messages)-1].Body, res.TempPassword)
}

func TestEnrollTwiceIsConflict(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	scope := adminScope(school)
	app := submitStudent(t, lc, school, "duas-vezes@souza.example")

	_, err := lc.Approve(ctx, scope, app.ID)
	require.NoError(t, err)
	_, err = lc.Enroll(ctx, scope, app.ID)
	require.NoError(t, err)

	_, err = lc.Enroll(ctx, scope, app.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The losing enroll must not have created a second entity or user.
	var students, users int64
	require.NoError(t, db.Model(&model.Student{}).Where("school_id = ?", school.ID).Count(&students).Error)
	require.NoError(t, db.Model(&model.User{}).Where("school_id = ?", school.ID).Count(&users).Error)
	assert.Equal(t, int64(1), students)
	assert.Equal(t, int64(1), users)
}

func TestEnrollReusesExistingUser(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	scope := adminScope(school)

	existing := model.User{
		Email: "pai@souza.example", Role: model.RoleParent,
		SchoolID: &school.ID, IsActive: true,
	}
	require.NoError(t, db.Create(&existing).Error)

	app, err := lc.Submit(ctx, SubmitInput{
		Name: "Carlos Souza", Email: "pai@souza.example",
		Role: model.RoleParent, SchoolID: school.ID,
	})
	require.NoError(t, err)
	_, err = lc.Approve(ctx, scope, app.ID)
	require.NoError(t, err)

	res, err := lc.Enroll(ctx, scope, app.ID)
	require.NoError(t, err)
	assert.False(t, res.UserCreated)
	assert.Empty(t, res.TempPassword)
	assert.Equal(t, existing.ID, res.UserID)

	var parent model.Parent
	require.NoError(t, db.First(&parent, res.EntityID).Error)
	require.NotNil(t, parent.UserID)
	assert.Equal(t, existing.ID, *parent.UserID)
}

func TestEnrollSecondApplicationReusesEntity(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	scope := adminScope(school)

	submit := func() *model.Application {
		app, err := lc.Submit(ctx, SubmitInput{
			Name: "Carlos Souza", Email: "recorrente@souza.example",
			Role: model.RoleParent, SchoolID: school.ID,
		})
		require.NoError(t, err)
		return app
	}

	first := submit()
	_, err := lc.Approve(ctx, scope, first.ID)
	require.NoError(t, err)
	firstRes, err := lc.Enroll(ctx, scope, first.ID)
	require.NoError(t, err)

	// The same guardian applies again; enrolling must link the existing
	// account and entity instead of tripping the unique index.
	second := submit()
	_, err = lc.Approve(ctx, scope, second.ID)
	require.NoError(t, err)
	secondRes, err := lc.Enroll(ctx, scope, second.ID)
	require.NoError(t, err)

	assert.False(t, secondRes.UserCreated)
	assert.Equal(t, firstRes.UserID, secondRes.UserID)
	assert.Equal(t, firstRes.EntityID, secondRes.EntityID)

	var parents int64
	require.NoError(t, db.Model(&model.Parent{}).Where("school_id = ?", school.ID).Count(&parents).Error)
	assert.Equal(t, int64(1), parents)
}

func TestEnrollEmailRegisteredInOtherTenant(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	other := createSchool(t, db, model.SchoolStatusAtiva)
	scope := adminScope(school)

	require.NoError(t, db.Create(&model.User{
		Email: "alheio@souza.example", Role: model.RoleTeacher,
		SchoolID: &other.ID, IsActive: true,
	}).Error)

	app, err := lc.Submit(ctx, SubmitInput{
		Name: "Pedro", Email: "alheio@souza.example",
		Role: model.RoleTeacher, SchoolID: school.ID,
	})
	require.NoError(t, err)
	_, err = lc.Approve(ctx, scope, app.ID)
	require.NoError(t, err)

	_, err = lc.Enroll(ctx, scope, app.ID)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestEnrollSchoolAdminCreatesSecondaryPermission(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	scope := adminScope(school)

	app, err := lc.Submit(ctx, SubmitInput{
		Name: "Nova Secretária", Email: "secretaria@souza.example",
		Role: model.RoleSchoolAdmin, SchoolID: school.ID,
	})
	require.NoError(t, err)
	_, err = lc.Approve(ctx, scope, app.ID)
	require.NoError(t, err)

	res, err := lc.Enroll(ctx, scope, app.ID)
	require.NoError(t, err)
	assert.Zero(t, res.EntityID)

	var perm model.AdminPermission
	require.NoError(t, db.Where("user_id = ?", res.UserID).First(&perm).Error)
	assert.Equal(t, model.AdminLevelSecondary, perm.Level)
	assert.Empty(t, perm.Capabilities.Names())
}

func TestApplicationTenantIsolation(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	other := createSchool(t, db, model.SchoolStatusAtiva)
	app := submitStudent(t, lc, school, "isolada@souza.example")

	// An admin of another school sees nothing, not a forbidden error.
	_, err := lc.Review(ctx, adminScope(other), app.ID)
	assert.ErrorIs(t, err, ErrNotFoundInScope)

	_, err = lc.Enroll(ctx, adminScope(other), app.ID)
	assert.ErrorIs(t, err, ErrNotFoundInScope)
}

func TestCancelApplication(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	applicant := uint(42)

	app, err := lc.Submit(ctx, SubmitInput{
		Name: "Desistente", Email: "desiste@souza.example",
		Role: model.RoleStudent, SchoolID: school.ID,
		ApplicantUserID: &applicant,
	})
	require.NoError(t, err)

	// Only the applicant may cancel.
	err = lc.Cancel(ctx, 7, app.ID)
	assert.ErrorIs(t, err, authz.ErrForbidden)

	require.NoError(t, lc.Cancel(ctx, applicant, app.ID))

	var count int64
	require.NoError(t, db.Model(&model.Application{}).Where("id = ?", app.ID).Count(&count).Error)
	assert.Zero(t, count)

	assert.ErrorIs(t, lc.Cancel(ctx, applicant, app.ID), ErrNotFoundInScope)
}

func TestCancelApprovedApplication(t *testing.T) {
	lc, db, _ := newApplicationLifecycle(t)
	ctx := context.Background()
	school := createSchool(t, db, model.SchoolStatusAtiva)
	applicant := uint(9)

	app, err := lc.Submit(ctx, SubmitInput{
		Name: "Tarde Demais", Email: "tarde@souza.example",
		Role: model.RoleParent, SchoolID: school.ID,
		ApplicantUserID: &applicant,
	})
	require.NoError(t, err)
	_, err = lc.Approve(ctx, adminScope(school), app.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, lc.Cancel(ctx, applicant, app.ID), ErrInvalidTransition)
}
