package jwks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores the signing key set in PostgreSQL. Private keys
// are stored PEM encoded.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Add(ctx context.Context, key SigningKey) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO signing_keys (kid, alg, private_key_pem, status, created_at, deprecated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		key.Kid, key.Alg, EncodePrivateKeyPEM(key.PrivateKey), key.Status, key.CreatedAt, key.DeprecatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert signing key: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByKid(ctx context.Context, kid string) (SigningKey, error) {
	row := r.db.QueryRow(ctx, `
		SELECT kid, alg, private_key_pem, status, created_at, deprecated_at
		FROM signing_keys WHERE kid = $1`, kid)
	return scanKey(row)
}

func (r *PostgresRepository) GetCurrent(ctx context.Context) (SigningKey, error) {
	row := r.db.QueryRow(ctx, `
		SELECT kid, alg, private_key_pem, status, created_at, deprecated_at
		FROM signing_keys WHERE status = $1`, StatusCurrent)
	return scanKey(row)
}

func (r *PostgresRepository) List(ctx context.Context) ([]SigningKey, error) {
	rows, err := r.db.Query(ctx, `
		SELECT kid, alg, private_key_pem, status, created_at, deprecated_at
		FROM signing_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list signing keys: %w", err)
	}
	defer rows.Close()

	var keys []SigningKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *PostgresRepository) SetCurrent(ctx context.Context, kid string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE signing_keys SET status = $1, deprecated_at = $2 WHERE status = $3 AND kid <> $4`,
		StatusDeprecated, time.Now().UTC(), StatusCurrent, kid)
	if err != nil {
		return fmt.Errorf("failed to deprecate keys: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE signing_keys SET status = $1, deprecated_at = NULL WHERE kid = $2`,
		StatusCurrent, kid)
	if err != nil {
		return fmt.Errorf("failed to promote key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) DeleteDeprecatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		DELETE FROM signing_keys
		WHERE status = $1 AND deprecated_at < $2
		RETURNING kid`, StatusDeprecated, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete deprecated keys: %w", err)
	}
	defer rows.Close()

	var removed []string
	for rows.Next() {
		var kid string
		if err := rows.Scan(&kid); err != nil {
			return nil, fmt.Errorf("failed to scan kid: %w", err)
		}
		removed = append(removed, kid)
	}
	return removed, rows.Err()
}

func scanKey(row pgx.Row) (SigningKey, error) {
	var key SigningKey
	var pemData string
	err := row.Scan(&key.Kid, &key.Alg, &pemData, &key.Status, &key.CreatedAt, &key.DeprecatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SigningKey{}, ErrKeyNotFound
		}
		return SigningKey{}, fmt.Errorf("failed to scan signing key: %w", err)
	}

	key.PrivateKey, err = DecodePrivateKeyPEM(pemData)
	if err != nil {
		return SigningKey{}, fmt.Errorf("failed to decode key %s: %w", key.Kid, err)
	}
	key.PublicKey = &key.PrivateKey.PublicKey
	return key, nil
}
