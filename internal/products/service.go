package products

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bodega-pos/bodega/internal/shared"
)

// ValidationError reports a rejected product payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Service holds product catalog business rules.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

const defaultPerPage = 20

// List returns a page of products for the management view.
func (s *Service) List(ctx context.Context, search string, page, perPage int) ([]Product, shared.Pagination, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = defaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	items, total, err := s.repo.List(ctx, ListFilters{Search: search, Page: page, PerPage: perPage})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, perPage, total), nil
}

// ListVisible returns only store-front visible products. Used by the
// customer-facing listing.
func (s *Service) ListVisible(ctx context.Context, search string, page, perPage int) ([]Product, shared.Pagination, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = defaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	items, total, err := s.repo.List(ctx, ListFilters{Search: search, VisibleOnly: true, Page: page, PerPage: perPage})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, perPage, total), nil
}

// Get fetches one product.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and inserts a new product.
func (s *Service) Create(ctx context.Context, p Product) (Product, error) {
	if err := normalize(&p); err != nil {
		return Product{}, err
	}
	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return Product{}, err
	}
	if s.logger != nil {
		s.logger.Info("product created", slog.Int64("id", created.ID), slog.String("sku", created.SKU))
	}
	return created, nil
}

// Update validates and rewrites an existing product.
func (s *Service) Update(ctx context.Context, p Product) (Product, error) {
	if p.ID <= 0 {
		return Product{}, validationf("id", "product id is required")
	}
	if err := normalize(&p); err != nil {
		return Product{}, err
	}
	return s.repo.Update(ctx, p)
}

// Delete removes a product from the catalog.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// ToggleVisible flips store-front visibility and returns the new state.
func (s *Service) ToggleVisible(ctx context.Context, id int64) (bool, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	next := !current.Visible
	if err := s.repo.SetVisible(ctx, id, next); err != nil {
		return false, err
	}
	return next, nil
}

func normalize(p *Product) error {
	p.SKU = strings.ToUpper(strings.TrimSpace(p.SKU))
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	if p.SKU == "" {
		return validationf("sku", "sku is required")
	}
	if p.Name == "" {
		return validationf("name", "name is required")
	}
	if p.Price < 0 {
		return validationf("price", "price cannot be negative")
	}
	if p.Stock < 0 {
		return validationf("stock", "stock cannot be negative")
	}
	return nil
}
