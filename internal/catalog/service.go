// Package catalog holds the product catalog: read paths served through the
// response cache and write paths that scrub it after every commit.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"catalog-admin-api/internal/cache"
	"catalog-admin-api/internal/models"
	"catalog-admin-api/internal/realtime"

	perrors "github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

// Publisher receives catalog events for connected admin clients.
type Publisher interface {
	Publish(eventType, actorID string, data any)
}

// ProductPage is one page of the product listing.
type ProductPage struct {
	Products []models.Product `json:"products"`
	Count    int              `json:"count"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	Sort     string           `json:"sort"`
}

// ProductInput is the writable part of a product.
type ProductInput struct {
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CategoryID  uint   `json:"categoryId"`
	PriceCents  int64  `json:"priceCents"`
	Stock       int    `json:"stock"`
	Active      *bool  `json:"active"`
}

// ProductPatch carries optional updates; nil fields are left unchanged.
type ProductPatch struct {
	SKU         *string `json:"sku"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	CategoryID  *uint   `json:"categoryId"`
	PriceCents  *int64  `json:"priceCents"`
	Stock       *int    `json:"stock"`
	Active      *bool   `json:"active"`
}

// Service combines the repository with the response cache.
type Service struct {
	repo   *Repository
	cache  *cache.Service
	events Publisher
	logger zerolog.Logger
}

// NewService wires the catalog. events may be nil.
func NewService(repo *Repository, c *cache.Service, events Publisher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, cache: c, events: events, logger: logger}
}

// ListProducts returns one page of active products.
func (s *Service) ListProducts(ctx context.Context, f ProductFilter) (ProductPage, error) {
	f = f.Normalize()
	opts := cache.SetOptions{Tags: ListTags(f)}
	return cache.LoadJSON(ctx, s.cache, ListKey(f), opts, func(ctx context.Context) (ProductPage, error) {
		products, err := s.repo.ListProducts(ctx, f)
		if err != nil {
			return ProductPage{}, err
		}
		total, err := s.CountProducts(ctx, f.CategoryID)
		if err != nil {
			return ProductPage{}, err
		}
		return ProductPage{
			Products: products,
			Count:    len(products),
			Total:    total,
			Page:     f.Page,
			Limit:    f.Limit,
			Sort:     f.Sort,
		}, nil
	})
}

// GetProduct returns an active product.
func (s *Service) GetProduct(ctx context.Context, id uint) (models.Product, error) {
	return cache.LoadJSONTagged(ctx, s.cache, ProductKey(id), func(ctx context.Context) (models.Product, cache.SetOptions, error) {
		p, err := s.repo.GetProduct(ctx, id)
		if err != nil {
			return models.Product{}, cache.SetOptions{}, err
		}
		return p, cache.SetOptions{Tags: ProductTags(p.ID, p.CategoryID)}, nil
	})
}

// CountProducts counts active products; categoryID 0 counts all.
func (s *Service) CountProducts(ctx context.Context, categoryID uint) (int64, error) {
	opts := cache.SetOptions{TTL: s.cache.Config().CountTTL, Tags: CountTags(categoryID)}
	return cache.LoadJSON(ctx, s.cache, CountKey(categoryID), opts, func(ctx context.Context) (int64, error) {
		return s.repo.CountProducts(ctx, categoryID)
	})
}

// ListCategories returns every category.
func (s *Service) ListCategories(ctx context.Context) ([]models.Category, error) {
	opts := cache.SetOptions{Tags: []string{TagCategories}}
	return cache.LoadJSON(ctx, s.cache, CategoriesKey, opts, s.repo.ListCategories)
}

// CreateProduct validates and stores a product, then scrubs the cache.
func (s *Service) CreateProduct(ctx context.Context, actorID string, in ProductInput) (models.Product, error) {
	p := models.Product{
		SKU:         strings.TrimSpace(in.SKU),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		CategoryID:  in.CategoryID,
		PriceCents:  in.PriceCents,
		Stock:       in.Stock,
		Active:      in.Active == nil || *in.Active,
	}
	if err := validateProduct(p); err != nil {
		return models.Product{}, err
	}
	if err := s.repo.CreateProduct(ctx, &p); err != nil {
		return models.Product{}, err
	}
	s.publish(realtime.EventProductCreated, actorID, p)
	return p, s.invalidate(ctx, ProductChanged(p.ID, p.CategoryID))
}

// UpdateProduct applies a patch, then scrubs entries of both the old and the new category.
func (s *Service) UpdateProduct(ctx context.Context, actorID string, id uint, patch ProductPatch) (models.Product, error) {
	p, err := s.repo.FindProduct(ctx, id)
	if err != nil {
		return models.Product{}, err
	}
	oldCategory := p.CategoryID

	if patch.SKU != nil {
		p.SKU = strings.TrimSpace(*patch.SKU)
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.CategoryID != nil {
		p.CategoryID = *patch.CategoryID
	}
	if patch.PriceCents != nil {
		p.PriceCents = *patch.PriceCents
	}
	if patch.Stock != nil {
		p.Stock = *patch.Stock
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	if err := validateProduct(p); err != nil {
		return models.Product{}, err
	}
	if err := s.repo.SaveProduct(ctx, &p); err != nil {
		return models.Product{}, err
	}
	s.publish(realtime.EventProductUpdated, actorID, p)
	return p, s.invalidate(ctx, ProductChanged(p.ID, oldCategory, p.CategoryID))
}

// DeleteProduct removes a product, then scrubs the cache.
func (s *Service) DeleteProduct(ctx context.Context, actorID string, id uint) (models.Product, error) {
	p, err := s.repo.DeleteProduct(ctx, id)
	if err != nil {
		return models.Product{}, err
	}
	s.publish(realtime.EventProductDeleted, actorID, map[string]any{"id": p.ID, "sku": p.SKU})
	return p, s.invalidate(ctx, ProductChanged(p.ID, p.CategoryID))
}

// SyncStock sets a product's stock level, then scrubs the cache.
func (s *Service) SyncStock(ctx context.Context, actorID string, id uint, stock int) (models.Product, error) {
	if stock < 0 {
		return models.Product{}, perrors.New(perrors.CodeInvalidInput, "stock must not be negative")
	}
	p, err := s.repo.SetStock(ctx, id, stock)
	if err != nil {
		return models.Product{}, err
	}
	s.publish(realtime.EventStockSynced, actorID, map[string]any{"id": p.ID, "stock": p.Stock})
	return p, s.invalidate(ctx, ProductChanged(p.ID, p.CategoryID))
}

// ImportProducts upserts a batch by SKU, then scrubs every product entry.
func (s *Service) ImportProducts(ctx context.Context, actorID string, items []ProductInput) (ImportResult, error) {
	if len(items) == 0 {
		return ImportResult{}, perrors.New(perrors.CodeInvalidInput, "import requires at least one product")
	}
	batch := make([]models.Product, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, in := range items {
		p := models.Product{
			SKU:         strings.TrimSpace(in.SKU),
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
			CategoryID:  in.CategoryID,
			PriceCents:  in.PriceCents,
			Stock:       in.Stock,
			Active:      in.Active == nil || *in.Active,
		}
		if err := validateProduct(p); err != nil {
			return ImportResult{}, perrors.WithContext(err, "index", i)
		}
		if _, dup := seen[p.SKU]; dup {
			return ImportResult{}, perrors.Newf(perrors.CodeInvalidInput, "duplicate SKU %q in import", p.SKU)
		}
		seen[p.SKU] = struct{}{}
		batch = append(batch, p)
	}

	res, err := s.repo.ImportProducts(ctx, batch)
	if err != nil {
		return ImportResult{}, err
	}
	s.publish(realtime.EventProductsImported, actorID, res)
	return res, s.invalidate(ctx, ProductsImported())
}

// CreateCategory stores a category, then scrubs the category listing.
func (s *Service) CreateCategory(ctx context.Context, actorID, name, slug string) (models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Category{}, perrors.New(perrors.CodeInvalidInput, "category name is required")
	}
	slug = strings.TrimSpace(slug)
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		return models.Category{}, perrors.New(perrors.CodeInvalidInput, "category slug is empty")
	}
	c := models.Category{Name: name, Slug: slug}
	if err := s.repo.CreateCategory(ctx, &c); err != nil {
		return models.Category{}, err
	}
	s.publish(realtime.EventCategoryCreated, actorID, c)
	return c, s.invalidate(ctx, CategoriesChanged())
}

// Slugify lowercases name and joins alphanumeric runs with dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// invalidate runs after the write has committed. A failure is returned so
// the caller can tell the client that stale data may be served.
func (s *Service) invalidate(ctx context.Context, patterns []string) error {
	if _, err := s.cache.Invalidate(ctx, patterns); err != nil {
		s.logger.Error().Err(err).Strs("patterns", patterns).Msg("write committed but cache not scrubbed")
		return fmt.Errorf("change saved but cache invalidation failed: %w", err)
	}
	return nil
}

func (s *Service) publish(eventType, actorID string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, actorID, data)
	}
}

func validateProduct(p models.Product) error {
	switch {
	case p.SKU == "":
		return perrors.New(perrors.CodeInvalidInput, "sku is required")
	case p.Name == "":
		return perrors.New(perrors.CodeInvalidInput, "name is required")
	case p.CategoryID == 0:
		return perrors.New(perrors.CodeInvalidInput, "categoryId is required")
	case p.PriceCents < 0:
		return perrors.New(perrors.CodeInvalidInput, "priceCents must not be negative")
	case p.Stock < 0:
		return perrors.New(perrors.CodeInvalidInput, "stock must not be negative")
	}
	return nil
}
