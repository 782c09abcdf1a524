package patient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/domain/lifecycle"
	"github.com/ehr/recordsvc/internal/platform/sqlitedb"
	"github.com/ehr/recordsvc/internal/platform/validation"
)

type repoSQLite struct {
	db *sql.DB
}

func NewRepoSQLite(db *sql.DB) Repository {
	return &repoSQLite{db: db}
}

// sqliteDate stores a birthday as YYYY-MM-DD text.
func sqliteDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(validation.DateLayout)
}

func (r *repoSQLite) Create(ctx context.Context, p *Patient) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO patient (id, doctor_id, name, email, phone, birthday, city, is_active, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.DoctorID.String(), p.Name, p.Email, optional(p.Phone), sqliteDate(p.Birthday), optional(p.City),
		sqlitedb.Bool(p.IsActive), sqlitedb.Bool(p.IsDeleted),
		sqlitedb.FormatTime(p.CreatedAt), sqlitedb.FormatTime(p.UpdatedAt),
	)
	if sqlitedb.IsForeignKeyViolation(err) {
		return ErrOwnerMissing
	}
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *repoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.one(r.db.QueryRowContext(ctx, `SELECT `+patientCols+` FROM patient WHERE id = ?`, id.String()))
}

func (r *repoSQLite) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Patient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+patientCols+` FROM patient WHERE doctor_id = ? ORDER BY created_at DESC, id`, doctorID.String())
	if err != nil {
		return nil, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatientSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("patient list: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (r *repoSQLite) Update(ctx context.Context, id uuid.UUID, ch Changes, at time.Time) (*Patient, error) {
	set, args := ch.setClause(sqlitedb.Placeholder, sqlitedb.FormatTime(at), sqliteDate)
	return r.one(r.db.QueryRowContext(ctx,
		`UPDATE patient SET `+set+` WHERE id = ?1 RETURNING `+patientCols,
		append([]any{id.String()}, args...)...,
	))
}

func (r *repoSQLite) Transition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition, at time.Time) (*Patient, error) {
	q := tr.ConditionalUpdate("patient", patientCols, sqlitedb.Placeholder)
	row := r.db.QueryRowContext(ctx, q,
		id.String(), sqlitedb.Bool(tr.Guard().Value), sqlitedb.Bool(tr.Effect().Value), sqlitedb.FormatTime(at),
	)
	p, err := r.one(row)
	if !errors.Is(err, ErrNotFound) {
		return p, err
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM patient WHERE id = ?)`, id.String()).Scan(&exists); err != nil {
		return nil, fmt.Errorf("patient %s: %w", tr, err)
	}
	if exists {
		return nil, lifecycle.ErrGuardRejected
	}
	return nil, ErrNotFound
}

func (r *repoSQLite) one(row *sql.Row) (*Patient, error) {
	p, err := scanPatientSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanPatientSQLite(row sqlScanner) (*Patient, error) {
	var (
		p                     Patient
		id, doctorID          string
		phone, birthday, city sql.NullString
		deletedAt             sql.NullString
		createdAt, updatedAt  string
	)
	err := row.Scan(
		&id, &doctorID, &p.Name, &p.Email, &phone, &birthday, &city,
		&p.IsActive, &p.IsDeleted, &deletedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("patient id %q: %w", id, err)
	}
	if p.DoctorID, err = uuid.Parse(doctorID); err != nil {
		return nil, fmt.Errorf("patient doctor id %q: %w", doctorID, err)
	}
	if phone.Valid {
		p.Phone = &phone.String
	}
	if city.Valid {
		p.City = &city.String
	}
	if birthday.Valid {
		d, err := time.ParseInLocation(validation.DateLayout, birthday.String, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("patient birthday %q: %w", birthday.String, err)
		}
		p.Birthday = &d
	}
	if deletedAt.Valid {
		t, err := sqlitedb.ParseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		p.DeletedAt = &t
	}
	if p.CreatedAt, err = sqlitedb.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = sqlitedb.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
