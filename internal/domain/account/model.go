package account

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/domain/lifecycle"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleDoctor Role = "DOCTOR"
)

// ParseRole returns the Role named by s.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleDoctor:
		return Role(s), true
	}
	return "", false
}

// Profile is the public projection of an account. It never carries the
// password hash.
type Profile struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	IsActive  bool       `json:"isActive"`
	IsDeleted bool       `json:"isDeleted"`
	DeletedAt *time.Time `json:"deletedAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Account is the stored row.
type Account struct {
	Profile
	PasswordHash string `json:"-"`
}

// Status returns the lifecycle flags of the account.
func (p *Profile) Status() lifecycle.Status {
	return lifecycle.Status{IsActive: p.IsActive, IsDeleted: p.IsDeleted, DeletedAt: p.DeletedAt}
}

// Client-facing messages.
const (
	MsgNotFound        = "Usuário não encontrado"
	MsgEmailTaken      = "E-mail já cadastrado"
	MsgAlreadyActive   = "Usuário já está ativo"
	MsgAlreadyInactive = "Usuário já está desativado"
	MsgAlreadyDeleted  = "Usuário já está deletado"
)

var engine = lifecycle.NewEngine(lifecycle.Messages{
	AlreadyActive:   MsgAlreadyActive,
	AlreadyInactive: MsgAlreadyInactive,
	AlreadyDeleted:  MsgAlreadyDeleted,
})
