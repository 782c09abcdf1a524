package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/domain/lifecycle"
	"github.com/ehr/recordsvc/internal/platform/apperr"
)

// OwnerLookup answers whether a doctor account exists. account.Service
// satisfies it.
type OwnerLookup interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Observer is told the outcome of every service operation.
type Observer interface {
	Observe(entity, operation string, err error)
}

type Service struct {
	repo     Repository
	owners   OwnerLookup
	observer Observer
	now      func() time.Time
}

func NewService(repo Repository, owners OwnerLookup) *Service {
	return &Service{repo: repo, owners: owners, now: time.Now}
}

func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

func (s *Service) observe(op string, err error) {
	if s.observer != nil {
		s.observer.Observe("patient", op, err)
	}
}

func (s *Service) Create(ctx context.Context, in *CreateInput) (p *Patient, err error) {
	defer func() { s.observe("create", err) }()

	ok, err := s.owners.Exists(ctx, in.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("lookup doctor: %w", err)
	}
	if !ok {
		return nil, apperr.New(apperr.NotFound, MsgDoctorNotFound)
	}

	now := s.now().UTC()
	st := lifecycle.Initial()
	p = &Patient{
		ID:        uuid.New(),
		DoctorID:  in.DoctorID,
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Birthday:  in.Birthday,
		City:      in.City,
		IsActive:  st.IsActive,
		IsDeleted: st.IsDeleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, s.storeErr(err)
	}
	return p, nil
}

// FindAllByDoctor lists the patients of doctorID, newest first. An unknown
// doctor yields an empty list.
func (s *Service) FindAllByDoctor(ctx context.Context, doctorID uuid.UUID) (ps []*Patient, err error) {
	defer func() { s.observe("find_all_by_doctor", err) }()

	ps, err = s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return ps, nil
}

func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (p *Patient, err error) {
	defer func() { s.observe("find_by_id", err) }()

	p, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in *UpdateInput) (p *Patient, err error) {
	defer func() { s.observe("update", err) }()

	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, s.storeErr(err)
	}
	ch := Changes{
		Present:  in.Present,
		Name:     in.Name,
		Email:    in.Email,
		Phone:    in.Phone,
		Birthday: in.Birthday,
		City:     in.City,
	}
	p, err = s.repo.Update(ctx, id, ch, s.now().UTC())
	if err != nil {
		return nil, s.storeErr(err)
	}
	return p, nil
}

func (s *Service) Activate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.transition(ctx, id, lifecycle.Activate)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.transition(ctx, id, lifecycle.Deactivate)
}

func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.transition(ctx, id, lifecycle.SoftDelete)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition) (p *Patient, err error) {
	defer func() { s.observe(tr.String(), err) }()

	p, err = s.repo.Transition(ctx, id, tr, s.now().UTC())
	if errors.Is(err, lifecycle.ErrGuardRejected) {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, s.storeErr(err)
		}
		return nil, engine.Rejected(current.Status(), tr)
	}
	if err != nil {
		return nil, s.storeErr(err)
	}
	return p, nil
}

func (s *Service) storeErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.New(apperr.NotFound, MsgNotFound)
	case errors.Is(err, ErrOwnerMissing):
		return apperr.Wrap(apperr.NotFound, MsgDoctorNotFound, err)
	default:
		return fmt.Errorf("patient store: %w", err)
	}
}
