package patient

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

const doctorConstraint = "patient_doctor_id_fkey"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, doctor_id, name, email, phone, birthday, city, is_active, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.DoctorID, p.Name, p.Email, p.Phone, p.Birthday, p.City,
		p.IsActive, p.IsDeleted, p.CreatedAt, p.UpdatedAt,
	)
	if db.IsForeignKeyViolation(err, doctorConstraint) {
		return ErrOwnerMissing
	}
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.one(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient WHERE doctor_id = $1 ORDER BY created_at DESC, id`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("patient list: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, id uuid.UUID, ch Changes, at time.Time) (*Patient, error) {
	set, args := ch.setClause(db.Placeholder, at, func(t *time.Time) any { return t })
	return r.one(r.conn(ctx).QueryRow(ctx,
		`UPDATE patient SET `+set+` WHERE id = $1 RETURNING `+patientCols,
		append([]any{id}, args...)...,
	))
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition, at time.Time) (*Patient, error) {
	q := tr.ConditionalUpdate("patient", patientCols, db.Placeholder)
	p, err := r.one(r.conn(ctx).QueryRow(ctx, q, id, tr.Guard().Value, tr.Effect().Value, at))
	if !errors.Is(err, ErrNotFound) {
		return p, err
	}

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("patient %s: %w", tr, err)
	}
	if exists {
		return nil, lifecycle.ErrGuardRejected
	}
	return nil, ErrNotFound
}

func (r *repoPG) one(row pgx.Row) (*Patient, error) {
	p, err := scanPatient(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.DoctorID, &p.Name, &p.Email, &p.Phone, &p.Birthday, &p.City,
		&p.IsActive, &p.IsDeleted, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
