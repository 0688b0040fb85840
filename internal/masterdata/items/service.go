package items

import "context"

// RepositoryPort abstracts storage for the service.
type RepositoryPort interface {
	GetByID(ctx context.Context, id int64) (Item, error)
	ListActive(ctx context.Context, categoryID int64) ([]Item, error)
}

// Service exposes the engine-facing subset of item master data.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get fetches one item.
func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetByID(ctx, id)
}

// ListActive returns active items, optionally scoped to a category.
func (s *Service) ListActive(ctx context.Context, categoryID int64) ([]Item, error) {
	return s.repo.ListActive(ctx, categoryID)
}
