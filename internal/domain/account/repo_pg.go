package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/recordsvc/internal/domain/lifecycle"
	"github.com/ehr/recordsvc/internal/platform/db"
)

const emailConstraint = "account_email_key"

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a Repository backed by the account table of the tenant
// schema bound to the request, or the pool's default search_path.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const accountCols = `id, name, email, password_hash, role, is_active, is_deleted, deleted_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, a *Account) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO account (id, name, email, password_hash, role, is_active, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Name, a.Email, a.PasswordHash, string(a.Role), a.IsActive, a.IsDeleted, a.CreatedAt, a.UpdatedAt,
	)
	if db.IsUniqueViolation(err, emailConstraint) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("account create: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.one(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM account WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.one(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM account WHERE email = $1`, email))
}

func (r *repoPG) List(ctx context.Context) ([]*Account, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+accountCols+` FROM account ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("account list: %w", err)
	}
	defer rows.Close()

	accounts := []*Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("account list: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, id uuid.UUID, ch Changes, at time.Time) (*Account, error) {
	set, args := ch.setClause(db.Placeholder, at)
	row := r.conn(ctx).QueryRow(ctx,
		`UPDATE account SET `+set+` WHERE id = $1 RETURNING `+accountCols,
		append([]any{id}, args...)...,
	)
	a, err := r.one(row)
	if db.IsUniqueViolation(err, emailConstraint) {
		return nil, ErrEmailTaken
	}
	return a, err
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition, at time.Time) (*Account, error) {
	q := tr.ConditionalUpdate("account", accountCols, db.Placeholder)
	a, err := r.one(r.conn(ctx).QueryRow(ctx, q, id, tr.Guard().Value, tr.Effect().Value, at))
	if !errors.Is(err, ErrNotFound) {
		return a, err
	}

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM account WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("account %s: %w", tr, err)
	}
	if exists {
		return nil, lifecycle.ErrGuardRejected
	}
	return nil, ErrNotFound
}

func (r *repoPG) one(row pgx.Row) (*Account, error) {
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var role string
	err := row.Scan(
		&a.ID, &a.Name, &a.Email, &a.PasswordHash, &role,
		&a.IsActive, &a.IsDeleted, &a.DeletedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Role = Role(role)
	return &a, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
