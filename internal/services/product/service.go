// Package product serves the public catalog and the admin writes behind it.
package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"malricpharma/internal/core"
	"malricpharma/internal/domain/product"
	"malricpharma/internal/metrics"
	"malricpharma/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

const (
	listDefault  = 10
	maxListLimit = 100
)

// ListRequest is a page of the catalog.
type ListRequest struct {
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

func (req *ListRequest) normalize() {
	if req.Limit <= 0 {
		req.Limit = listDefault
	}
	if req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}
	req.Page = core.ClampPage(req.Page, req.Limit)
}

// ListResponse is one catalog page.
type ListResponse struct {
	Products   []*product.Product `json:"products"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	TotalPages int                `json:"totalPages"`
}

// Service reads and edits the product catalog.
type Service struct {
	products repositories.ProductRepository
	now      func() time.Time
}

// NewService creates a catalog service over products.
func NewService(products repositories.ProductRepository) *Service {
	return &Service{products: products, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// List returns a page of products ordered by id.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	req.normalize()
	items, total, err := s.products.List(ctx, req.Limit, (req.Page-1)*req.Limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if items == nil {
		items = []*product.Product{}
	}
	return &ListResponse{
		Products:   items,
		Total:      total,
		Page:       req.Page,
		Limit:      req.Limit,
		TotalPages: (total + req.Limit - 1) / req.Limit,
	}, nil
}

// Get returns one product.
func (s *Service) Get(ctx context.Context, id int64) (*product.Product, error) {
	p, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	return p, nil
}

// Create validates p and adds it to the catalog.
func (s *Service) Create(ctx context.Context, p *product.Product) (*product.Product, error) {
	if err := p.Validate(); err != nil {
		metrics.RecordCatalogOperation("create", false)
		return nil, err
	}
	now := s.now().UTC()
	p.ID = 0
	p.CreatedAt, p.UpdatedAt = now, now
	if err := s.products.Create(ctx, p); err != nil {
		metrics.RecordCatalogOperation("create", false)
		return nil, fmt.Errorf("create product: %w", err)
	}
	metrics.RecordCatalogOperation("create", true)
	log.Info().Int64("product_id", p.ID).Str("name", p.Name).Str("price", p.Price.StringFixed(2)).Msg("product created")
	return p, nil
}

// Update applies patch to product id. Prices on existing orders are not touched.
func (s *Service) Update(ctx context.Context, id int64, patch product.Patch) (*product.Product, error) {
	p, err := s.products.FindByID(ctx, id)
	if err != nil {
		metrics.RecordCatalogOperation("update", false)
		return nil, lookupError(err)
	}
	if err := patch.Apply(p); err != nil {
		metrics.RecordCatalogOperation("update", false)
		return nil, err
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.products.Update(ctx, p); err != nil {
		metrics.RecordCatalogOperation("update", false)
		return nil, lookupError(err)
	}
	metrics.RecordCatalogOperation("update", true)
	log.Info().Int64("product_id", p.ID).Msg("product updated")
	return p, nil
}

// Delete removes product id. Carts still holding it fail checkout with ITEMS_UNAVAILABLE.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.products.Delete(ctx, id); err != nil {
		metrics.RecordCatalogOperation("delete", false)
		return lookupError(err)
	}
	metrics.RecordCatalogOperation("delete", true)
	log.Info().Int64("product_id", id).Msg("product deleted")
	return nil
}

func lookupError(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return core.NotFound(core.CodeProductNotFound, "product not found")
	}
	return fmt.Errorf("load product: %w", err)
}
