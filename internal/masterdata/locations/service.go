package locations

import (
	"context"
	"errors"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// RepositoryPort abstracts storage for the service.
type RepositoryPort interface {
	GetByID(ctx context.Context, id int64) (Location, error)
	GetByCode(ctx context.Context, code string) (Location, error)
	CountByKind(ctx context.Context, kind Kind) (int, error)
	List(ctx context.Context) ([]Location, error)
	Create(ctx context.Context, loc Location) (int64, error)
}

// Service exposes the engine-facing subset of location master data.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get fetches one location.
func (s *Service) Get(ctx context.Context, id int64) (Location, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all user-addressable locations.
func (s *Service) List(ctx context.Context) ([]Location, error) {
	return s.repo.List(ctx)
}

// Create registers a new depot or store. The transit buffer is seeded by
// migration, never through this path.
func (s *Service) Create(ctx context.Context, loc Location) (Location, error) {
	if err := s.validate(loc); err != nil {
		return Location{}, err
	}
	if loc.Kind == KindTransit {
		return Location{}, shared.NewConflictError("transit location is system managed")
	}
	loc.Code = NormalizeCode(loc.Code)
	loc.Active = true
	id, err := s.repo.Create(ctx, loc)
	if err != nil {
		return Location{}, err
	}
	loc.ID = id
	return loc, nil
}

// ResolveTransit resolves the single in-transit location at startup and
// verifies the system-wide singleton invariant.
func (s *Service) ResolveTransit(ctx context.Context, code string) (Location, error) {
	count, err := s.repo.CountByKind(ctx, KindTransit)
	if err != nil {
		return Location{}, err
	}
	if count != 1 {
		return Location{}, errors.New("locations: exactly one transit location must exist")
	}
	loc, err := s.repo.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return Location{}, err
	}
	if loc.Kind != KindTransit {
		return Location{}, errors.New("locations: configured transit code does not resolve to a transit location")
	}
	return loc, nil
}
