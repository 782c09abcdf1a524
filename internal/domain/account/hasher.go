package account

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher turns a password into its stored one-way form.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 12

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher at cost, or DefaultBcryptCost when cost is
// outside bcrypt's range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}
