package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/medrecord-gateway/internal/infra"
	"github.com/xela07ax/medrecord-gateway/internal/repository"
)

// uniqueViolation — SQLSTATE нарушения уникального индекса.
const uniqueViolation = "23505"

// OpenDB открывает пул и проверяет соединение. Пул общий для всех репозиториев.
func OpenDB(ctx context.Context, cfg infra.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database.url is empty")
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Schema — минимальная схема шлюза. Применяется идемпотентно при старте.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL,
		role          TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS medical_records (
		id           UUID PRIMARY KEY,
		patient_name TEXT NOT NULL,
		doctor_name  TEXT NOT NULL,
		diagnosis    TEXT NOT NULL,
		notes        TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// Выборки списка по роли
	`CREATE INDEX IF NOT EXISTS medical_records_doctor_idx ON medical_records (doctor_name, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS medical_records_patient_idx ON medical_records (patient_name, created_at DESC)`,
}

func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// mapError переводит ошибки драйвера в ошибки слоя хранения.
func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, repository.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("postgres: %s: %w", op, repository.ErrConflict)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}
