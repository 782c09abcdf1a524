package patient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/domain/lifecycle"
	"github.com/ehr/recordsvc/internal/platform/validation"
)

var (
	// ErrNotFound is returned when no patient has the requested id.
	ErrNotFound = errors.New("patient not found")
	// ErrOwnerMissing is returned when an insert references an unknown doctor.
	ErrOwnerMissing = errors.New("patient owner does not exist")
)

// Changes is a partial update of the stored columns.
type Changes struct {
	Present  validation.FieldSet
	Name     string
	Email    string
	Phone    *string
	Birthday *time.Time
	City     *string
}

type Repository interface {
	// Create inserts p. It returns ErrOwnerMissing when p.DoctorID does not
	// reference an account.
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// ListByDoctor returns the patients of one doctor, newest created first.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Patient, error)
	Update(ctx context.Context, id uuid.UUID, ch Changes, at time.Time) (*Patient, error)
	Transition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition, at time.Time) (*Patient, error)
}

const patientCols = `id, doctor_id, name, email, phone, birthday, city, is_active, is_deleted, deleted_at, created_at, updated_at`

// setClause renders the SET list for the present columns followed by
// updated_at. date converts the birthday to its driver value.
func (ch Changes) setClause(ph func(int) string, at any, date func(*time.Time) any) (string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = "+ph(len(args)+1))
	}
	if ch.Present.Has(FieldName) {
		add("name", ch.Name)
	}
	if ch.Present.Has(FieldEmail) {
		add("email", ch.Email)
	}
	if ch.Present.Has(FieldPhone) {
		add("phone", optional(ch.Phone))
	}
	if ch.Present.Has(FieldBirthday) {
		add("birthday", date(ch.Birthday))
	}
	if ch.Present.Has(FieldCity) {
		add("city", optional(ch.City))
	}
	add(lifecycle.ColumnUpdatedAt, at)
	return strings.Join(sets, ", "), args
}

// optional unwraps a nullable column value into a plain driver argument.
func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
