package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/domain/lifecycle"
)

// Patient is a clinical record owned by a doctor account. The owner is set at
// creation and never changes.
type Patient struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctorId"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     *string    `json:"phone"`
	Birthday  *time.Time `json:"birthday"`
	City      *string    `json:"city"`
	IsActive  bool       `json:"isActive"`
	IsDeleted bool       `json:"isDeleted"`
	DeletedAt *time.Time `json:"deletedAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (p *Patient) Status() lifecycle.Status {
	return lifecycle.Status{IsActive: p.IsActive, IsDeleted: p.IsDeleted, DeletedAt: p.DeletedAt}
}

const (
	MsgNotFound        = "Paciente não encontrado"
	MsgDoctorNotFound  = "doctor não encontrado"
	MsgInvalidDoctorID = "ID do doutor inválido"
	MsgAlreadyActive   = "Paciente já está ativo"
	MsgAlreadyInactive = "Paciente já está inativo"
	MsgAlreadyDeleted  = "Paciente já está deletado"
)

var engine = lifecycle.NewEngine(lifecycle.Messages{
	AlreadyActive:   MsgAlreadyActive,
	AlreadyInactive: MsgAlreadyInactive,
	AlreadyDeleted:  MsgAlreadyDeleted,
})
