package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/repository"
)

type RecordRepo struct {
	db *sql.DB
}

func NewRecordRepo(db *sql.DB) *RecordRepo {
	return &RecordRepo{db: db}
}

const recordColumns = `id, patient_name, doctor_name, diagnosis, notes, created_at, updated_at`

func (r *RecordRepo) GetRecord(ctx context.Context, id string) (*domain.MedicalRecord, error) {
	// Невалидный UUID Postgres отверг бы ошибкой типа; для клиента это просто 404
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}

	rec := &domain.MedicalRecord{}
	err := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM medical_records WHERE id = $1`, id).Scan(
		&rec.ID, &rec.PatientName, &rec.DoctorName, &rec.Diagnosis, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, mapError("get record", err)
	}
	return rec, nil
}

// ListRecords отдает записи по фильтру, новые сначала.
func (r *RecordRepo) ListRecords(ctx context.Context, f domain.RecordFilter) ([]domain.MedicalRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM medical_records`
	var (
		where []string
		args  []any
	)
	if f.DoctorName != "" {
		args = append(args, f.DoctorName)
		where = append(where, fmt.Sprintf("doctor_name = $%d", len(args)))
	}
	if f.PatientName != "" {
		args = append(args, f.PatientName)
		where = append(where, fmt.Sprintf("patient_name = $%d", len(args)))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list records", err)
	}
	defer rows.Close()

	records := make([]domain.MedicalRecord, 0)
	for rows.Next() {
		var rec domain.MedicalRecord
		if err := rows.Scan(&rec.ID, &rec.PatientName, &rec.DoctorName, &rec.Diagnosis, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, mapError("list records", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list records", err)
	}
	return records, nil
}

func (r *RecordRepo) CreateRecord(ctx context.Context, in domain.RecordInput) (*domain.MedicalRecord, error) {
	now := time.Now().UTC()
	rec := &domain.MedicalRecord{
		ID:          uuid.NewString(),
		PatientName: in.PatientName,
		DoctorName:  in.DoctorName,
		Diagnosis:   in.Diagnosis,
		Notes:       in.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `INSERT INTO medical_records (` + recordColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.PatientName, rec.DoctorName, rec.Diagnosis, rec.Notes, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, mapError("create record", err)
	}
	return rec, nil
}

// UpdateRecord перезаписывает поля записи и возвращает обновленную версию.
func (r *RecordRepo) UpdateRecord(ctx context.Context, id string, in domain.RecordInput) (*domain.MedicalRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}

	// RETURNING — без отдельного SELECT после обновления
	query := `
		UPDATE medical_records
		SET patient_name = $1, doctor_name = $2, diagnosis = $3, notes = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING ` + recordColumns

	rec := &domain.MedicalRecord{}
	err := r.db.QueryRowContext(ctx, query, in.PatientName, in.DoctorName, in.Diagnosis, in.Notes, id).Scan(
		&rec.ID, &rec.PatientName, &rec.DoctorName, &rec.Diagnosis, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, mapError("update record", err)
	}
	return rec, nil
}

func (r *RecordRepo) DeleteRecord(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return repository.ErrNotFound
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM medical_records WHERE id = $1`, id)
	if err != nil {
		return mapError("delete record", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return mapError("delete record", sql.ErrNoRows)
	}
	return nil
}

func (r *RecordRepo) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM medical_records`).Scan(&n); err != nil {
		return 0, mapError("count records", err)
	}
	return n, nil
}
