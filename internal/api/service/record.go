package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"go.uber.org/zap"
)

var ErrForbidden = errors.New("permission denied")

type RecordStore interface {
	GetRecord(ctx context.Context, id string) (*domain.MedicalRecord, error)
	ListRecords(ctx context.Context, f domain.RecordFilter) ([]domain.MedicalRecord, error)
	CreateRecord(ctx context.Context, in domain.RecordInput) (*domain.MedicalRecord, error)
	UpdateRecord(ctx context.Context, id string, in domain.RecordInput) (*domain.MedicalRecord, error)
	DeleteRecord(ctx context.Context, id string) error
	CountRecords(ctx context.Context) (int, error)
}

// AccessChecker — policy.Controller.
type AccessChecker interface {
	Check(ctx context.Context, id domain.Identity, action domain.Action, ref domain.ResourceRef) bool
}

// ResourceSync — фоновая регистрация ресурсов в PDP (pdp.Syncer).
type ResourceSync interface {
	RegisterResource(ref domain.ResourceRef) bool
}

type RecordService struct {
	records RecordStore
	access  AccessChecker
	sync    ResourceSync
	logger  *zap.Logger
}

func NewRecordService(records RecordStore, access AccessChecker, sync ResourceSync, logger *zap.Logger) *RecordService {
	return &RecordService{records: records, access: access, sync: sync, logger: logger.Named("records")}
}

// AuthorizeCreate — проверка до разбора тела запроса: у создания еще нет атрибутов владения.
func (s *RecordService) AuthorizeCreate(ctx context.Context, who domain.Identity) error {
	if !s.access.Check(ctx, who, domain.ActionCreate, domain.ResourceRef{Type: domain.ResourceMedicalRecord}) {
		return ErrForbidden
	}
	return nil
}

// Authorize загружает запись и проверяет действие над ней.
// Порядок важен: сначала 404 (repository.ErrNotFound), потом 403 (ErrForbidden).
func (s *RecordService) Authorize(ctx context.Context, who domain.Identity, action domain.Action, id string) (*domain.MedicalRecord, error) {
	rec, err := s.records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.access.Check(ctx, who, action, rec.Ref()) {
		return nil, ErrForbidden
	}
	return rec, nil
}

// List отдает записи, видимые вызывающему: администратору все, практику назначенные ему,
// пациенту его собственные. Остальным ничего.
func (s *RecordService) List(ctx context.Context, who domain.Identity) ([]domain.MedicalRecord, error) {
	f, ok := visibleTo(who)
	if !ok {
		return []domain.MedicalRecord{}, nil
	}
	records, err := s.records.ListRecords(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// visibleTo переводит роль в фильтр выборки. Пустое имя не должно превратиться в "без фильтра".
func visibleTo(who domain.Identity) (domain.RecordFilter, bool) {
	switch who.Role {
	case domain.RoleAdministrator:
		return domain.RecordFilter{}, true
	case domain.RolePractitioner:
		return domain.RecordFilter{DoctorName: who.Name}, who.Name != ""
	case domain.RoleSubject:
		return domain.RecordFilter{PatientName: who.Name}, who.Name != ""
	}
	return domain.RecordFilter{}, false
}

// Create сохраняет запись и сообщает PDP ее атрибуты. Вызывать после AuthorizeCreate.
func (s *RecordService) Create(ctx context.Context, in domain.RecordInput) (*domain.MedicalRecord, error) {
	rec, err := s.records.CreateRecord(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	s.sync.RegisterResource(rec.Ref())
	return rec, nil
}

// Update перезаписывает запись. Вызывать после Authorize(ActionUpdate).
// Атрибуты владения могли измениться, поэтому ресурс перерегистрируется в PDP.
func (s *RecordService) Update(ctx context.Context, id string, in domain.RecordInput) (*domain.MedicalRecord, error) {
	rec, err := s.records.UpdateRecord(ctx, id, in)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	s.sync.RegisterResource(rec.Ref())
	return rec, nil
}

// Delete удаляет запись. Вызывать после Authorize(ActionDelete).
func (s *RecordService) Delete(ctx context.Context, id string) error {
	if err := s.records.DeleteRecord(ctx, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}
