package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type mockUsers struct{ mock.Mock }

func (m *mockUsers) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *mockUsers) CreateUser(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	if args.Error(0) == nil && u.ID == "" {
		u.ID = "id-" + u.Username
	}
	return args.Error(0)
}

func (m *mockUsers) CountUsers(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockRecords struct{ mock.Mock }

func (m *mockRecords) GetRecord(ctx context.Context, id string) (*domain.MedicalRecord, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*domain.MedicalRecord)
	return r, args.Error(1)
}

func (m *mockRecords) ListRecords(ctx context.Context, f domain.RecordFilter) ([]domain.MedicalRecord, error) {
	args := m.Called(ctx, f)
	r, _ := args.Get(0).([]domain.MedicalRecord)
	return r, args.Error(1)
}

func (m *mockRecords) CreateRecord(ctx context.Context, in domain.RecordInput) (*domain.MedicalRecord, error) {
	args := m.Called(ctx, in)
	r, _ := args.Get(0).(*domain.MedicalRecord)
	return r, args.Error(1)
}

func (m *mockRecords) UpdateRecord(ctx context.Context, id string, in domain.RecordInput) (*domain.MedicalRecord, error) {
	args := m.Called(ctx, id, in)
	r, _ := args.Get(0).(*domain.MedicalRecord)
	return r, args.Error(1)
}

func (m *mockRecords) DeleteRecord(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRecords) CountRecords(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// recordingSync запоминает, что ушло в очередь регистрации.
type recordingSync struct {
	identities []domain.Identity
	resources  []domain.ResourceRef
}

func (r *recordingSync) RegisterIdentity(id domain.Identity) bool {
	r.identities = append(r.identities, id)
	return true
}

func (r *recordingSync) RegisterResource(ref domain.ResourceRef) bool {
	r.resources = append(r.resources, ref)
	return true
}

// allowIf — проверка доступа по предикату.
type allowIf func(domain.Identity, domain.Action, domain.ResourceRef) bool

func (f allowIf) Check(_ context.Context, id domain.Identity, a domain.Action, ref domain.ResourceRef) bool {
	return f(id, a, ref)
}

var (
	admin   = domain.Identity{ID: "u-1", Name: "Admin User", Role: domain.RoleAdministrator}
	patient = domain.Identity{ID: "u-4", Name: "John Smith", Role: domain.RoleSubject}
	johns   = &domain.MedicalRecord{ID: "r-1", PatientName: "John Smith", DoctorName: "Dr. Sarah Johnson", Diagnosis: "Hypertension"}
)

func hashOf(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestLogin(t *testing.T) {
	users := &mockUsers{}
	users.On("GetUserByUsername", mock.Anything, "jsmith").Return(&domain.User{
		ID: "u-4", Username: "jsmith", PasswordHash: hashOf(t, DemoPassword), Name: "John Smith", Role: domain.RoleSubject,
	}, nil)
	users.On("GetUserByUsername", mock.Anything, "ghost").Return(nil, repository.ErrNotFound)
	svc := NewAuthService(users, &recordingSync{}, bcrypt.MinCost, zap.NewNop())

	u, err := svc.Login(context.Background(), "jsmith", DemoPassword)
	require.NoError(t, err)
	assert.Equal(t, patient.ID, u.Identity().ID)

	_, err = svc.Login(context.Background(), "jsmith", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "ghost", DemoPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsUnknownStoredRole(t *testing.T) {
	users := &mockUsers{}
	users.On("GetUserByUsername", mock.Anything, "odd").Return(&domain.User{
		ID: "u-9", PasswordHash: hashOf(t, "pw"), Role: domain.Role("nurse"),
	}, nil)
	svc := NewAuthService(users, &recordingSync{}, bcrypt.MinCost, zap.NewNop())

	_, err := svc.Login(context.Background(), "odd", "pw")
	assert.ErrorIs(t, err, domain.ErrUnknownRole)
}

func TestLoginStoreFailureIsNotInvalidCredentials(t *testing.T) {
	users := &mockUsers{}
	users.On("GetUserByUsername", mock.Anything, "admin").Return(nil, errors.New("connection refused"))
	svc := NewAuthService(users, &recordingSync{}, bcrypt.MinCost, zap.NewNop())

	_, err := svc.Login(context.Background(), "admin", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestProvisionHashesAndRegisters(t *testing.T) {
	users := &mockUsers{}
	users.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret")) == nil
	})).Return(nil)
	sync := &recordingSync{}
	svc := NewAuthService(users, sync, bcrypt.MinCost, zap.NewNop())

	u, err := svc.Provision(context.Background(), NewUser{Username: "drjohnson", Password: "secret", Name: "Dr. Sarah Johnson", Role: domain.RolePractitioner})
	require.NoError(t, err)
	require.Len(t, sync.identities, 1)
	assert.Equal(t, u.Identity(), sync.identities[0])
	users.AssertExpectations(t)
}

func TestProvisionConflictDoesNotRegister(t *testing.T) {
	users := &mockUsers{}
	users.On("CreateUser", mock.Anything, mock.Anything).Return(repository.ErrConflict)
	sync := &recordingSync{}
	svc := NewAuthService(users, sync, bcrypt.MinCost, zap.NewNop())

	_, err := svc.Provision(context.Background(), NewUser{Username: "admin", Password: "x", Role: domain.RoleAdministrator})
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Empty(t, sync.identities)
}

func TestProvisionRejectsUnknownRole(t *testing.T) {
	svc := NewAuthService(&mockUsers{}, &recordingSync{}, bcrypt.MinCost, zap.NewNop())
	_, err := svc.Provision(context.Background(), NewUser{Username: "x", Password: "x", Role: "nurse"})
	assert.ErrorIs(t, err, domain.ErrUnknownRole)
}

func TestSeedUsersOnlyWhenEmpty(t *testing.T) {
	users := &mockUsers{}
	users.On("CountUsers", mock.Anything).Return(0, nil).Once()
	users.On("CreateUser", mock.Anything, mock.Anything).Return(nil)
	sync := &recordingSync{}
	svc := NewAuthService(users, sync, bcrypt.MinCost, zap.NewNop())

	n, err := svc.SeedUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(demoUsers), n)
	assert.Len(t, sync.identities, len(demoUsers))

	users.On("CountUsers", mock.Anything).Return(5, nil)
	n, err = svc.SeedUsers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuthorizeOrdersNotFoundBeforeForbidden(t *testing.T) {
	records := &mockRecords{}
	records.On("GetRecord", mock.Anything, "missing").Return(nil, repository.ErrNotFound)
	records.On("GetRecord", mock.Anything, "r-1").Return(johns, nil)

	checked := 0
	deny := allowIf(func(domain.Identity, domain.Action, domain.ResourceRef) bool { checked++; return false })
	svc := NewRecordService(records, deny, &recordingSync{}, zap.NewNop())

	_, err := svc.Authorize(context.Background(), patient, domain.ActionDelete, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Zero(t, checked, "access check must not run for a missing record")

	_, err = svc.Authorize(context.Background(), patient, domain.ActionDelete, "r-1")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 1, checked)
}

func TestAuthorizePassesOwnershipAttributes(t *testing.T) {
	records := &mockRecords{}
	records.On("GetRecord", mock.Anything, "r-1").Return(johns, nil)

	var seen domain.ResourceRef
	spy := allowIf(func(_ domain.Identity, _ domain.Action, ref domain.ResourceRef) bool { seen = ref; return true })
	svc := NewRecordService(records, spy, &recordingSync{}, zap.NewNop())

	rec, err := svc.Authorize(context.Background(), patient, domain.ActionRead, "r-1")
	require.NoError(t, err)
	assert.Equal(t, johns, rec)
	assert.Equal(t, "John Smith", seen.Attributes[domain.AttrAssociatedSubject])
	assert.Equal(t, "Dr. Sarah Johnson", seen.Attributes[domain.AttrAssignedPractitioner])
}

func TestListScopesByRole(t *testing.T) {
	tests := []struct {
		name   string
		who    domain.Identity
		filter domain.RecordFilter
	}{
		{"administrator sees everything", admin, domain.RecordFilter{}},
		{"practitioner sees assigned", domain.Identity{Name: "Dr. Sarah Johnson", Role: domain.RolePractitioner}, domain.RecordFilter{DoctorName: "Dr. Sarah Johnson"}},
		{"subject sees own", patient, domain.RecordFilter{PatientName: "John Smith"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &mockRecords{}
			records.On("ListRecords", mock.Anything, tt.filter).Return([]domain.MedicalRecord{*johns}, nil).Once()
			svc := NewRecordService(records, allowIf(nil), &recordingSync{}, zap.NewNop())

			got, err := svc.List(context.Background(), tt.who)
			require.NoError(t, err)
			assert.Len(t, got, 1)
			records.AssertExpectations(t)
		})
	}
}

func TestListUnscopedCallerSeesNothing(t *testing.T) {
	records := &mockRecords{}
	svc := NewRecordService(records, allowIf(nil), &recordingSync{}, zap.NewNop())

	for _, who := range []domain.Identity{
		{Name: "Someone", Role: domain.Role("auditor")},
		{Role: domain.RolePractitioner},
		{Role: domain.RoleSubject},
	} {
		got, err := svc.List(context.Background(), who)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
	records.AssertNotCalled(t, "ListRecords", mock.Anything, mock.Anything)
}

func TestAuthorizeCreate(t *testing.T) {
	adminOnly := allowIf(func(id domain.Identity, a domain.Action, ref domain.ResourceRef) bool {
		return id.Role == domain.RoleAdministrator && a == domain.ActionCreate && ref.Type == domain.ResourceMedicalRecord
	})
	svc := NewRecordService(&mockRecords{}, adminOnly, &recordingSync{}, zap.NewNop())

	assert.NoError(t, svc.AuthorizeCreate(context.Background(), admin))
	assert.ErrorIs(t, svc.AuthorizeCreate(context.Background(), patient), ErrForbidden)
}

func TestCreateRegistersResource(t *testing.T) {
	in := domain.RecordInput{PatientName: "John Smith", DoctorName: "Dr. Sarah Johnson", Diagnosis: "Hypertension"}
	records := &mockRecords{}
	records.On("CreateRecord", mock.Anything, in).Return(johns, nil)
	sync := &recordingSync{}
	svc := NewRecordService(records, allowIf(nil), sync, zap.NewNop())

	rec, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "r-1", rec.ID)
	require.Len(t, sync.resources, 1)
	assert.Equal(t, johns.Ref(), sync.resources[0])
}

func TestCreateFailureDoesNotRegister(t *testing.T) {
	records := &mockRecords{}
	records.On("CreateRecord", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	sync := &recordingSync{}
	svc := NewRecordService(records, allowIf(nil), sync, zap.NewNop())

	_, err := svc.Create(context.Background(), domain.RecordInput{})
	assert.Error(t, err)
	assert.Empty(t, sync.resources)
}

func TestSeedRecords(t *testing.T) {
	records := &mockRecords{}
	records.On("CountRecords", mock.Anything).Return(0, nil)
	records.On("CreateRecord", mock.Anything, mock.Anything).Return(johns, nil)
	sync := &recordingSync{}
	svc := NewRecordService(records, allowIf(nil), sync, zap.NewNop())

	n, err := svc.SeedRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(demoRecords), n)
	assert.Len(t, sync.resources, len(demoRecords))
}
