package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores consent grants in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, appID uuid.UUID) (Record, bool, error) {
	var record Record
	err := r.db.QueryRow(ctx, `
		SELECT user_id, app_id, granted_at FROM user_app_consents
		WHERE user_id = $1 AND app_id = $2`, userID, appID).
		Scan(&record.UserID, &record.AppID, &record.GrantedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("failed to get consent: %w", err)
	}
	return record, true, nil
}

func (r *PostgresRepository) Put(ctx context.Context, record Record) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_app_consents (user_id, app_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, app_id) DO NOTHING`,
		record.UserID, record.AppID, record.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to store consent: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, appID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM user_app_consents WHERE user_id = $1 AND app_id = $2`, userID, appID)
	if err != nil {
		return fmt.Errorf("failed to delete consent: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, app_id, granted_at FROM user_app_consents
		WHERE user_id = $1 ORDER BY granted_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.UserID, &record.AppID, &record.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan consent: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
