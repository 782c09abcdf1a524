package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/platform/apperr"
)

// EmailChecker reports whether an email is already held by another account.
// The unique index on account.email still backs it up against races.
type EmailChecker struct {
	repo Repository
}

// NewEmailChecker returns an EmailChecker reading from repo.
func NewEmailChecker(repo Repository) *EmailChecker {
	return &EmailChecker{repo: repo}
}

// Check returns a Conflict error when email belongs to an account other than
// exclude. Pass uuid.Nil to exclude nothing.
func (c *EmailChecker) Check(ctx context.Context, email string, exclude uuid.UUID) error {
	a, err := c.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if exclude != uuid.Nil && a.ID == exclude {
		return nil
	}
	return apperr.New(apperr.Conflict, MsgEmailTaken)
}
