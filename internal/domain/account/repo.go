package account

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
	// ErrNotFound is returned when no account has the requested key.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken is returned when a write hits the email unique index.
	ErrEmailTaken = errors.New("account email already taken")
)

// Changes is a partial update of the stored columns. Only fields whose bit is
// in Present are written.
type Changes struct {
	Present      validation.FieldSet
	Name         string
	Email        string
	PasswordHash string
	Role         Role
}

// Repository persists accounts. Implementations never delete rows.
type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	// List returns every account, newest created first.
	List(ctx context.Context) ([]*Account, error)
	Update(ctx context.Context, id uuid.UUID, ch Changes, at time.Time) (*Account, error)
	// Transition applies tr as one conditional write. It returns
	// lifecycle.ErrGuardRejected when the row exists but the guard failed.
	Transition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition, at time.Time) (*Account, error)
}

// setClause renders the SET list for the present columns followed by
// updated_at. The id binds first, so placeholders start at 2.
func (ch Changes) setClause(ph func(int) string, at any) (string, []any) {
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
	if ch.Present.Has(FieldPassword) {
		add("password_hash", ch.PasswordHash)
	}
	if ch.Present.Has(FieldRole) {
		add("role", string(ch.Role))
	}
	add(lifecycle.ColumnUpdatedAt, at)
	return strings.Join(sets, ", "), args
}
