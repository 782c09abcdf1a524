package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/domain/lifecycle"
	"github.com/ehr/recordsvc/internal/platform/sqlitedb"
)

type repoSQLite struct {
	db *sql.DB
}

// NewRepoSQLite returns a Repository backed by an embedded SQLite database
// migrated with the sqlite migration set.
func NewRepoSQLite(db *sql.DB) Repository {
	return &repoSQLite{db: db}
}

func (r *repoSQLite) Create(ctx context.Context, a *Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account (id, name, email, password_hash, role, is_active, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Name, a.Email, a.PasswordHash, string(a.Role),
		sqlitedb.Bool(a.IsActive), sqlitedb.Bool(a.IsDeleted),
		sqlitedb.FormatTime(a.CreatedAt), sqlitedb.FormatTime(a.UpdatedAt),
	)
	if sqlitedb.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("account create: %w", err)
	}
	return nil
}

func (r *repoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.one(r.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM account WHERE id = ?`, id.String()))
}

func (r *repoSQLite) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.one(r.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM account WHERE email = ?`, email))
}

func (r *repoSQLite) List(ctx context.Context) ([]*Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountCols+` FROM account ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("account list: %w", err)
	}
	defer rows.Close()

	accounts := []*Account{}
	for rows.Next() {
		a, err := scanAccountSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("account list: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repoSQLite) Update(ctx context.Context, id uuid.UUID, ch Changes, at time.Time) (*Account, error) {
	set, args := ch.setClause(sqlitedb.Placeholder, sqlitedb.FormatTime(at))
	row := r.db.QueryRowContext(ctx,
		`UPDATE account SET `+set+` WHERE id = ?1 RETURNING `+accountCols,
		append([]any{id.String()}, args...)...,
	)
	a, err := r.one(row)
	if sqlitedb.IsUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	return a, err
}

func (r *repoSQLite) Transition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition, at time.Time) (*Account, error) {
	q := tr.ConditionalUpdate("account", accountCols, sqlitedb.Placeholder)
	row := r.db.QueryRowContext(ctx, q,
		id.String(), sqlitedb.Bool(tr.Guard().Value), sqlitedb.Bool(tr.Effect().Value), sqlitedb.FormatTime(at),
	)
	a, err := r.one(row)
	if !errors.Is(err, ErrNotFound) {
		return a, err
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM account WHERE id = ?)`, id.String()).Scan(&exists); err != nil {
		return nil, fmt.Errorf("account %s: %w", tr, err)
	}
	if exists {
		return nil, lifecycle.ErrGuardRejected
	}
	return nil, ErrNotFound
}

func (r *repoSQLite) one(row *sql.Row) (*Account, error) {
	a, err := scanAccountSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanAccountSQLite(row sqlScanner) (*Account, error) {
	var (
		a                  Account
		id, role           string
		deletedAt          sql.NullString
		createdAt, updated string
	)
	err := row.Scan(
		&id, &a.Name, &a.Email, &a.PasswordHash, &role,
		&a.IsActive, &a.IsDeleted, &deletedAt, &createdAt, &updated,
	)
	if err != nil {
		return nil, err
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("account id %q: %w", id, err)
	}
	a.Role = Role(role)
	if deletedAt.Valid {
		t, err := sqlitedb.ParseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		a.DeletedAt = &t
	}
	if a.CreatedAt, err = sqlitedb.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = sqlitedb.ParseTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}
