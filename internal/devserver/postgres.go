package devserver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	mobile TEXT UNIQUE,
	fullname TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	language_preference TEXT NOT NULL DEFAULT '',
	date_of_birth TEXT NOT NULL DEFAULT '',
	gender TEXT NOT NULL DEFAULT '',
	is_guest BOOLEAN NOT NULL DEFAULT FALSE,
	device_id TEXT NOT NULL DEFAULT '',
	fcm_token TEXT NOT NULL DEFAULT '',
	registered BOOLEAN NOT NULL DEFAULT FALSE,
	token_version INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
)`

const selectUser = `SELECT id, COALESCE(mobile, ''), fullname, email, language_preference, date_of_birth,
	gender, is_guest, device_id, fcm_token, registered, token_version, created_at FROM users`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed user repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the users table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, mobile, fullname, email, language_preference, date_of_birth,
		gender, is_guest, device_id, fcm_token, registered, token_version, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		userID, user.Mobile, user.Fullname, user.Email, user.LanguagePreference, user.DateOfBirth,
		user.Gender, user.IsGuest, user.DeviceID, user.FCMToken, user.Registered, user.TokenVersion, user.CreatedAt.UTC())
	return mapWriteError(err)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return r.scanOne(r.db.QueryRow(ctx, selectUser+` WHERE id = $1`, userID))
}

func (r *PostgresRepository) FindByMobile(ctx context.Context, mobile string) (User, error) {
	return r.scanOne(r.db.QueryRow(ctx, selectUser+` WHERE mobile = $1`, mobile))
}

func (r *PostgresRepository) FindGuestByDevice(ctx context.Context, deviceID string) (User, error) {
	return r.scanOne(r.db.QueryRow(ctx, selectUser+` WHERE device_id = $1 AND is_guest ORDER BY created_at DESC LIMIT 1`, deviceID))
}

func (r *PostgresRepository) Update(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return ErrUserNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET mobile = NULLIF($2, ''), fullname = $3, email = $4,
		language_preference = $5, date_of_birth = $6, gender = $7, is_guest = $8, device_id = $9,
		fcm_token = $10, registered = $11, token_version = $12 WHERE id = $1`,
		userID, user.Mobile, user.Fullname, user.Email, user.LanguagePreference, user.DateOfBirth,
		user.Gender, user.IsGuest, user.DeviceID, user.FCMToken, user.Registered, user.TokenVersion)
	if err != nil {
		return mapWriteError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrUserNotFound
	}
	cmd, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(row pgx.Row) (User, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		user      User
	)
	err := row.Scan(&id, &user.Mobile, &user.Fullname, &user.Email, &user.LanguagePreference, &user.DateOfBirth,
		&user.Gender, &user.IsGuest, &user.DeviceID, &user.FCMToken, &user.Registered, &user.TokenVersion, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()
	return user, nil
}

// mapWriteError turns a unique violation on mobile into ErrMobileTaken.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrMobileTaken
	}
	return err
}
