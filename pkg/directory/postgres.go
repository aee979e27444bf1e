package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUserRepository implements UserRepository on PostgreSQL.
type PostgresUserRepository struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepository(db *pgxpool.Pool) (*PostgresUserRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &PostgresUserRepository{db: db}, nil
}

const userColumns = `id, email, password_hash, first_name, last_name, email_verified,
	mfa_types, otp_secret, otp_verified, sms_phone_number, sms_phone_number_verified,
	roles, locale, is_active, created_at, updated_at, deleted_at`

func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 AND deleted_at IS NULL`, userColumns)
	return r.scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL`, userColumns)
	return r.scanUser(r.db.QueryRow(ctx, query, email))
}

func (r *PostgresUserRepository) Create(ctx context.Context, user User) (User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL)`,
		user.Email).Scan(&exists)
	if err != nil {
		return User{}, fmt.Errorf("failed to check email uniqueness: %w", err)
	}
	if exists {
		return User{}, ErrDuplicateEmail
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, email_verified,
			mfa_types, otp_secret, otp_verified, sms_phone_number, sms_phone_number_verified,
			roles, locale, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.EmailVerified,
		user.MfaTypes, user.OtpSecret, user.OtpVerified, user.SmsPhoneNumber, user.SmsPhoneNumberVerified,
		user.Roles, user.Locale, user.IsActive, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) Update(ctx context.Context, user User) (User, error) {
	user.UpdatedAt = time.Now().UTC()
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET email = $2, password_hash = $3, first_name = $4, last_name = $5,
			email_verified = $6, mfa_types = $7, otp_secret = $8, otp_verified = $9,
			sms_phone_number = $10, sms_phone_number_verified = $11, roles = $12,
			locale = $13, is_active = $14, updated_at = $15
		WHERE id = $1 AND deleted_at IS NULL`,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.EmailVerified, user.MfaTypes, user.OtpSecret, user.OtpVerified,
		user.SmsPhoneNumber, user.SmsPhoneNumberVerified, user.Roles,
		user.Locale, user.IsActive, user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (r *PostgresUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepository) scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.EmailVerified, &user.MfaTypes, &user.OtpSecret, &user.OtpVerified,
		&user.SmsPhoneNumber, &user.SmsPhoneNumberVerified, &user.Roles, &user.Locale,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt, &user.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// PostgresAppRepository implements AppRepository on PostgreSQL.
type PostgresAppRepository struct {
	db *pgxpool.Pool
}

func NewPostgresAppRepository(db *pgxpool.Pool) (*PostgresAppRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &PostgresAppRepository{db: db}, nil
}

const appColumns = `id, client_id, name, type, secret, redirect_uris, scopes,
	is_active, created_at, updated_at, deleted_at`

func (r *PostgresAppRepository) GetByClientID(ctx context.Context, clientID string) (App, error) {
	query := fmt.Sprintf(`SELECT %s FROM apps WHERE client_id = $1 AND deleted_at IS NULL`, appColumns)
	return r.scanApp(r.db.QueryRow(ctx, query, clientID))
}

func (r *PostgresAppRepository) Create(ctx context.Context, app App) (App, error) {
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO apps (id, client_id, name, type, secret, redirect_uris, scopes,
			is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		app.ID, app.ClientID, app.Name, app.Type, app.Secret, app.RedirectURIs,
		app.Scopes, app.IsActive, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return App{}, fmt.Errorf("failed to create app: %w", err)
	}
	return app, nil
}

func (r *PostgresAppRepository) Update(ctx context.Context, app App) (App, error) {
	app.UpdatedAt = time.Now().UTC()
	tag, err := r.db.Exec(ctx, `
		UPDATE apps SET client_id = $2, name = $3, type = $4, secret = $5,
			redirect_uris = $6, scopes = $7, is_active = $8, updated_at = $9
		WHERE id = $1 AND deleted_at IS NULL`,
		app.ID, app.ClientID, app.Name, app.Type, app.Secret,
		app.RedirectURIs, app.Scopes, app.IsActive, app.UpdatedAt)
	if err != nil {
		return App{}, fmt.Errorf("failed to update app: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return App{}, ErrNotFound
	}
	return app, nil
}

func (r *PostgresAppRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE apps SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to delete app: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresAppRepository) scanApp(row pgx.Row) (App, error) {
	var app App
	err := row.Scan(&app.ID, &app.ClientID, &app.Name, &app.Type, &app.Secret,
		&app.RedirectURIs, &app.Scopes, &app.IsActive,
		&app.CreatedAt, &app.UpdatedAt, &app.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return App{}, ErrNotFound
		}
		return App{}, fmt.Errorf("failed to scan app: %w", err)
	}
	return app, nil
}
