// Package lifecycle is the state machine shared by accounts and patients.
//
// An entity carries two flags, active and deleted. Its state is Deleted once
// the deleted flag is set and Active or Inactive otherwise. Deleted is
// terminal: nothing clears the flag and deleted_at is written once.
//
// Activate and Deactivate look only at the active flag, so both remain
// legal on a deleted entity. SoftDelete looks only at the deleted flag.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/recordsvc/internal/platform/apperr"
)

// State is the derived lifecycle state.
type State string

const (
	Active   State = "active"
	Inactive State = "inactive"
	Deleted  State = "deleted"
)

// Status is the persisted flag pair of an entity.
type Status struct {
	IsActive  bool
	IsDeleted bool
	DeletedAt *time.Time
}

// Initial is the status every entity is created with.
func Initial() Status {
	return Status{IsActive: true}
}

// State derives the lifecycle state from the flags.
func (s Status) State() State {
	switch {
	case s.IsDeleted:
		return Deleted
	case s.IsActive:
		return Active
	default:
		return Inactive
	}
}

// Transition is a lifecycle operation.
type Transition int

const (
	Activate Transition = iota + 1
	Deactivate
	SoftDelete
)

func (t Transition) String() string {
	switch t {
	case Activate:
		return "activate"
	case Deactivate:
		return "deactivate"
	case SoftDelete:
		return "soft_delete"
	default:
		return fmt.Sprintf("transition(%d)", int(t))
	}
}

// Column names of the lifecycle flags, shared by every store.
const (
	ColumnIsActive  = "is_active"
	ColumnIsDeleted = "is_deleted"
	ColumnDeletedAt = "deleted_at"
)

// Guard is the precondition of a transition expressed as "column must equal
// value". Stores put it in the WHERE clause of a single conditional UPDATE so
// that check and write cannot interleave with a concurrent request.
type Guard struct {
	Column string
	Value  bool
}

// Effect is what a transition writes when its guard holds. When Stamp is
// set, the transition time is written to that column too.
type Effect struct {
	Column string
	Value  bool
	Stamp  string
}

// Guard returns the precondition of t.
func (t Transition) Guard() Guard {
	switch t {
	case Activate:
		return Guard{Column: ColumnIsActive, Value: false}
	case Deactivate:
		return Guard{Column: ColumnIsActive, Value: true}
	case SoftDelete:
		return Guard{Column: ColumnIsDeleted, Value: false}
	}
	panic(fmt.Sprintf("lifecycle: unknown transition %d", int(t)))
}

// Effect returns the write performed by t.
func (t Transition) Effect() Effect {
	switch t {
	case Activate:
		return Effect{Column: ColumnIsActive, Value: true}
	case Deactivate:
		return Effect{Column: ColumnIsActive, Value: false}
	case SoftDelete:
		return Effect{Column: ColumnIsDeleted, Value: true, Stamp: ColumnDeletedAt}
	}
	panic(fmt.Sprintf("lifecycle: unknown transition %d", int(t)))
}

// ColumnUpdatedAt is bumped by every write.
const ColumnUpdatedAt = "updated_at"

// ConditionalUpdate renders t as one statement against table:
//
//	UPDATE table SET <effect> = p3, updated_at = p4[, <stamp> = p4]
//	WHERE id = p1 AND <guard> = p2 RETURNING <returning>
//
// ph renders the n-th (1-based) bind placeholder. Callers bind the id, the
// guard value, the effect value and the transition time in that order.
func (t Transition) ConditionalUpdate(table, returning string, ph func(int) string) string {
	g, eff := t.Guard(), t.Effect()
	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET %s = %s, %s = %s", table, eff.Column, ph(3), ColumnUpdatedAt, ph(4))
	if eff.Stamp != "" {
		fmt.Fprintf(&b, ", %s = %s", eff.Stamp, ph(4))
	}
	fmt.Fprintf(&b, " WHERE id = %s AND %s = %s RETURNING %s", ph(1), g.Column, ph(2), returning)
	return b.String()
}

// ErrGuardRejected is returned by stores when a conditional update matched the
// row id but not the guard.
var ErrGuardRejected = errors.New("lifecycle guard rejected transition")

// Messages are the client-facing texts for illegal transitions of one entity.
type Messages struct {
	AlreadyActive   string
	AlreadyInactive string
	AlreadyDeleted  string
}

// Engine checks and applies transitions for one entity type.
type Engine struct {
	msgs Messages
}

// NewEngine returns an Engine reporting failures with msgs.
func NewEngine(msgs Messages) *Engine {
	return &Engine{msgs: msgs}
}

// Check returns nil when t is legal from s, an InvalidState error when the
// entity already has the target active flag, or an AlreadyGone error when a
// deleted entity is deleted again.
func (e *Engine) Check(s Status, t Transition) error {
	switch t {
	case Activate:
		if s.IsActive {
			return apperr.New(apperr.InvalidState, e.msgs.AlreadyActive)
		}
	case Deactivate:
		if !s.IsActive {
			return apperr.New(apperr.InvalidState, e.msgs.AlreadyInactive)
		}
	case SoftDelete:
		if s.IsDeleted {
			return apperr.New(apperr.AlreadyGone, e.msgs.AlreadyDeleted)
		}
	default:
		return fmt.Errorf("lifecycle: unknown transition %d", int(t))
	}
	return nil
}

// Apply returns the status after t, or the Check failure. A deletion stamps
// deleted_at with now.
//
// Apply is the in-memory form of a transition. Stores never call it: they run
// ConditionalUpdate instead, and the rows it produces must equal Apply's
// result, with a guard rejection exactly where Check fails. In-memory
// repositories use Apply directly.
func (e *Engine) Apply(s Status, t Transition, now time.Time) (Status, error) {
	if err := e.Check(s, t); err != nil {
		return s, err
	}
	eff := t.Effect()
	switch eff.Column {
	case ColumnIsActive:
		s.IsActive = eff.Value
	case ColumnIsDeleted:
		s.IsDeleted = eff.Value
	}
	if eff.Stamp == ColumnDeletedAt {
		at := now
		s.DeletedAt = &at
	}
	return s, nil
}

// Rejected explains why a store rejected t: it re-checks against the status
// read after the failed conditional update. If that status would now allow t
// the row changed twice under us, which is still reported as the transition's
// own failure kind.
func (e *Engine) Rejected(current Status, t Transition) error {
	if err := e.Check(current, t); err != nil {
		return err
	}
	switch t {
	case SoftDelete:
		return apperr.New(apperr.AlreadyGone, e.msgs.AlreadyDeleted)
	case Activate:
		return apperr.New(apperr.InvalidState, e.msgs.AlreadyActive)
	default:
		return apperr.New(apperr.InvalidState, e.msgs.AlreadyInactive)
	}
}
