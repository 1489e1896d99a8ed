package user

import (
	"context"
	"database/sql"
	"errors"

	"chatroom/internal/db"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

type Repository struct {
	db *db.Database
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database}
}

// RegisterAddress returns the ip_registry id for address, creating it on first sight.
func (r *Repository) RegisterAddress(ctx context.Context, address string) (int64, error) {
	insert := r.db.Rebind("INSERT INTO ip_registry (address) VALUES (?) ON CONFLICT (address) DO NOTHING")
	if _, err := r.db.Conn.ExecContext(ctx, insert, address); err != nil {
		return 0, err
	}

	var id int64
	query := r.db.Rebind("SELECT id FROM ip_registry WHERE address = ?")
	if err := r.db.Conn.QueryRowContext(ctx, query, address).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateAccount inserts a, provided fewer than maxPerAddress accounts share its
// ip_reference. The count and the insert run in one transaction; on Postgres the
// address row is locked so concurrent signups from one address queue up.
func (r *Repository) CreateAccount(ctx context.Context, a *Account, maxPerAddress int) error {
	tx, err := r.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if r.db.Driver == db.DriverPostgres {
		lock := r.db.Rebind("SELECT id FROM ip_registry WHERE id = ? FOR UPDATE")
		if _, err := tx.ExecContext(ctx, lock, a.IPReference); err != nil {
			return err
		}
	}

	var registered int
	count := r.db.Rebind("SELECT COUNT(*) FROM account WHERE ip_reference = ?")
	if err := tx.QueryRowContext(ctx, count, a.IPReference).Scan(&registered); err != nil {
		return err
	}
	if registered >= maxPerAddress {
		return ErrTooManySignups
	}

	insert := r.db.Rebind(`
		INSERT INTO account (username, password_hash, salt, date_created, ip_reference)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := tx.ExecContext(ctx, insert, a.Username, a.PasswordHash, a.Salt, a.DateCreated, a.IPReference); err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return err
	}
	return tx.Commit()
}

// SQLSTATE unique_violation
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func (r *Repository) GetAccount(ctx context.Context, username string) (*Account, error) {
	a := &Account{}
	var ipRef sql.NullInt64
	query := r.db.Rebind("SELECT username, password_hash, salt, date_created, ip_reference FROM account WHERE username = ?")

	err := r.db.Conn.QueryRowContext(ctx, query, username).Scan(&a.Username, &a.PasswordHash, &a.Salt, &a.DateCreated, &ipRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	a.IPReference = ipRef.Int64
	return a, nil
}
