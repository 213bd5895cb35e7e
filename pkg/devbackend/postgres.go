package devbackend

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// DBTX is the subset of a pgx pool or transaction the repository needs
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const createAccountsTable = `
CREATE TABLE IF NOT EXISTS onboard_accounts (
    id             uuid PRIMARY KEY,
    first_name     text NOT NULL,
    last_name      text NOT NULL,
    email          text NOT NULL UNIQUE,
    role           text NOT NULL,
    location       text NOT NULL DEFAULT '',
    phone          text NOT NULL DEFAULT '',
    password_hash  bytea NOT NULL,
    email_verified boolean NOT NULL DEFAULT false,
    created_at     timestamptz NOT NULL
)`

const insertAccount = `
INSERT INTO onboard_accounts (id, first_name, last_name, email, role, location, phone, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const selectAccount = `
SELECT id, first_name, last_name, email, role, location, phone, password_hash, email_verified, created_at
FROM onboard_accounts`

// PostgresAccountRepository stores accounts in PostgreSQL
type PostgresAccountRepository struct {
	db DBTX
}

func NewPostgresAccountRepository(db DBTX) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

// EnsureSchema creates the accounts table when missing
func (r *PostgresAccountRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createAccountsTable); err != nil {
		return fmt.Errorf("failed to create accounts table: %w", err)
	}
	return nil
}

func (r *PostgresAccountRepository) Create(ctx context.Context, a Account) error {
	_, err := r.db.Exec(ctx, insertAccount,
		a.ID, a.FirstName, a.LastName, a.Email, a.Role, a.Location, a.Phone, a.PasswordHash, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAccountExists
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (r *PostgresAccountRepository) scan(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.Role, &a.Location, &a.Phone,
		&a.PasswordHash, &a.EmailVerified, &a.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to read account: %w", err)
	}
	return a, nil
}

func (r *PostgresAccountRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return r.scan(r.db.QueryRow(ctx, selectAccount+" WHERE email = $1", email))
}

func (r *PostgresAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (Account, error) {
	return r.scan(r.db.QueryRow(ctx, selectAccount+" WHERE id = $1", id))
}

func (r *PostgresAccountRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "UPDATE onboard_accounts SET email_verified = true WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to mark account verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
