package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/domain/lifecycle"
	"github.com/ehr/recordsvc/internal/platform/apperr"
)

// Observer is told the outcome of every service operation.
type Observer interface {
	Observe(entity, operation string, err error)
}

type Service struct {
	repo     Repository
	emails   *EmailChecker
	hasher   PasswordHasher
	observer Observer
	now      func() time.Time
}

func NewService(repo Repository, hasher PasswordHasher) *Service {
	return &Service{
		repo:   repo,
		emails: NewEmailChecker(repo),
		hasher: hasher,
		now:    time.Now,
	}
}

// SetObserver attaches an outcome observer, e.g. the metrics collector.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

func (s *Service) observe(op string, err error) {
	if s.observer != nil {
		s.observer.Observe("account", op, err)
	}
}

func (s *Service) Create(ctx context.Context, in *CreateInput) (p *Profile, err error) {
	defer func() { s.observe("create", err) }()

	if err := s.emails.Check(ctx, in.Email, uuid.Nil); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := &Account{
		Profile: Profile{
			ID:        uuid.New(),
			Name:      in.Name,
			Email:     in.Email,
			Role:      in.Role,
			CreatedAt: now,
			UpdatedAt: now,
		},
		PasswordHash: hash,
	}
	st := lifecycle.Initial()
	a.IsActive, a.IsDeleted = st.IsActive, st.IsDeleted

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, s.storeErr(err)
	}
	return &a.Profile, nil
}

func (s *Service) FindAll(ctx context.Context) (ps []*Profile, err error) {
	defer func() { s.observe("find_all", err) }()

	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	ps = make([]*Profile, 0, len(accounts))
	for _, a := range accounts {
		ps = append(ps, &a.Profile)
	}
	return ps, nil
}

func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (p *Profile, err error) {
	defer func() { s.observe("find_by_id", err) }()

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return &a.Profile, nil
}

// Exists reports whether an account with id exists, whatever its state.
func (s *Service) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in *UpdateInput) (p *Profile, err error) {
	defer func() { s.observe("update", err) }()

	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, s.storeErr(err)
	}

	ch := Changes{Present: in.Present, Name: in.Name, Email: in.Email, Role: in.Role}
	if in.Present.Has(FieldEmail) {
		if err := s.emails.Check(ctx, in.Email, id); err != nil {
			return nil, err
		}
	}
	if in.Present.Has(FieldPassword) {
		if ch.PasswordHash, err = s.hasher.Hash(in.Password); err != nil {
			return nil, err
		}
	}

	a, err := s.repo.Update(ctx, id, ch, s.now().UTC())
	if err != nil {
		return nil, s.storeErr(err)
	}
	return &a.Profile, nil
}

func (s *Service) Activate(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.transition(ctx, id, lifecycle.Activate)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.transition(ctx, id, lifecycle.Deactivate)
}

func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.transition(ctx, id, lifecycle.SoftDelete)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, tr lifecycle.Transition) (p *Profile, err error) {
	defer func() { s.observe(tr.String(), err) }()

	a, err := s.repo.Transition(ctx, id, tr, s.now().UTC())
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
	return &a.Profile, nil
}

// storeErr maps repository sentinels to failure kinds.
func (s *Service) storeErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.New(apperr.NotFound, MsgNotFound)
	case errors.Is(err, ErrEmailTaken):
		return apperr.Wrap(apperr.Conflict, MsgEmailTaken, err)
	default:
		return fmt.Errorf("account store: %w", err)
	}
}
