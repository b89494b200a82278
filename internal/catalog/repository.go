package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"catalog-admin-api/internal/database"
	"catalog-admin-api/internal/models"

	perrors "github.com/jmgilman/go/errors"
	"gorm.io/gorm"
)

var (
	ErrProductNotFound  = perrors.New(perrors.CodeNotFound, "product not found")
	ErrCategoryNotFound = perrors.New(perrors.CodeNotFound, "category not found")
	ErrDuplicateSKU     = perrors.New(perrors.CodeAlreadyExists, "a product with this SKU already exists")
	ErrDuplicateSlug    = perrors.New(perrors.CodeAlreadyExists, "a category with this name or slug already exists")
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ProductFilter selects one page of the public product listing.
type ProductFilter struct {
	CategoryID uint
	Page       int
	Limit      int
	Sort       string
}

var sortOrders = map[string]string{
	"desc":       "created_at DESC, id DESC",
	"asc":        "created_at ASC, id ASC",
	"name":       "name ASC, id ASC",
	"price_asc":  "price_cents ASC, id ASC",
	"price_desc": "price_cents DESC, id DESC",
}

// Normalize clamps paging and falls back to the default sort, so equal
// requests share one cache key.
func (f ProductFilter) Normalize() ProductFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	f.Sort = strings.ToLower(f.Sort)
	if _, ok := sortOrders[f.Sort]; !ok {
		f.Sort = "desc"
	}
	return f
}

// Repository reads through a database.Executor and writes through gorm.
type Repository struct {
	db   *gorm.DB
	exec database.Executor
}

// NewRepository builds a repository. exec may be nil to use db for reads too.
func NewRepository(db *gorm.DB, exec database.Executor) *Repository {
	if exec == nil {
		exec = database.NewGormExecutor(db)
	}
	return &Repository{db: db, exec: exec}
}

const productColumns = "id, sku, name, description, category_id, price_cents, stock, active, created_at, updated_at"

// ListProducts returns one page of active products.
func (r *Repository) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	f = f.Normalize()
	query := "SELECT " + productColumns + " FROM products WHERE active = ?"
	params := []any{true}
	if f.CategoryID != 0 {
		query += " AND category_id = ?"
		params = append(params, f.CategoryID)
	}
	query += " ORDER BY " + sortOrders[f.Sort] + " LIMIT ? OFFSET ?"
	params = append(params, f.Limit, (f.Page-1)*f.Limit)

	rows, err := r.exec.Execute(ctx, query, params...)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CodeDatabase, "failed to fetch products")
	}
	out := make([]models.Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, productFromRow(row))
	}
	return out, nil
}

// CountProducts counts active products, optionally within one category.
func (r *Repository) CountProducts(ctx context.Context, categoryID uint) (int64, error) {
	query := "SELECT COUNT(*) AS total FROM products WHERE active = ?"
	params := []any{true}
	if categoryID != 0 {
		query += " AND category_id = ?"
		params = append(params, categoryID)
	}
	rows, err := r.exec.Execute(ctx, query, params...)
	if err != nil {
		return 0, perrors.Wrap(err, perrors.CodeDatabase, "failed to count products")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt64(rows[0]["total"]), nil
}

// GetProduct returns an active product by id.
func (r *Repository) GetProduct(ctx context.Context, id uint) (models.Product, error) {
	rows, err := r.exec.Execute(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = ? AND active = ?", id, true)
	if err != nil {
		return models.Product{}, perrors.Wrap(err, perrors.CodeDatabase, "failed to fetch product")
	}
	if len(rows) == 0 {
		return models.Product{}, ErrProductNotFound
	}
	return productFromRow(rows[0]), nil
}

// ListCategories returns all categories ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := r.exec.Execute(ctx,
		"SELECT id, name, slug, created_at, updated_at FROM categories ORDER BY name ASC")
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CodeDatabase, "failed to fetch categories")
	}
	out := make([]models.Category, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.Category{
			ID:        uint(asInt64(row["id"])),
			Name:      asString(row["name"]),
			Slug:      asString(row["slug"]),
			CreatedAt: asTime(row["created_at"]),
			UpdatedAt: asTime(row["updated_at"]),
		})
	}
	return out, nil
}

// FindProduct loads a product for a write path, active or not.
func (r *Repository) FindProduct(ctx context.Context, id uint) (models.Product, error) {
	var p models.Product
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Product{}, ErrProductNotFound
		}
		return models.Product{}, perrors.Wrap(err, perrors.CodeDatabase, "failed to fetch product")
	}
	return p, nil
}

// CreateProduct inserts p.
func (r *Repository) CreateProduct(ctx context.Context, p *models.Product) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireCategory(tx, p.CategoryID); err != nil {
			return err
		}
		if err := tx.Create(p).Error; err != nil {
			return translateWriteError(err, ErrDuplicateSKU, "failed to create product")
		}
		return nil
	})
}

// SaveProduct writes every column of p.
func (r *Repository) SaveProduct(ctx context.Context, p *models.Product) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireCategory(tx, p.CategoryID); err != nil {
			return err
		}
		if err := tx.Save(p).Error; err != nil {
			return translateWriteError(err, ErrDuplicateSKU, "failed to update product")
		}
		return nil
	})
}

// DeleteProduct removes a product and returns what was deleted.
func (r *Repository) DeleteProduct(ctx context.Context, id uint) (models.Product, error) {
	p, err := r.FindProduct(ctx, id)
	if err != nil {
		return models.Product{}, err
	}
	if err := r.db.WithContext(ctx).Delete(&models.Product{}, id).Error; err != nil {
		return models.Product{}, perrors.Wrap(err, perrors.CodeDatabase, "failed to delete product")
	}
	return p, nil
}

// SetStock updates only the stock column.
func (r *Repository) SetStock(ctx context.Context, id uint, stock int) (models.Product, error) {
	p, err := r.FindProduct(ctx, id)
	if err != nil {
		return models.Product{}, err
	}
	// Explicitly update only the stock column to ensure persistence
	if err := r.db.WithContext(ctx).Model(&p).Update("stock", stock).Error; err != nil {
		return models.Product{}, perrors.Wrap(err, perrors.CodeDatabase, "failed to update stock")
	}
	p.Stock = stock
	return p, nil
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ImportProducts upserts products by SKU in one transaction. Any failure
// rolls the whole batch back.
func (r *Repository) ImportProducts(ctx context.Context, items []models.Product) (ImportResult, error) {
	var res ImportResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		checked := make(map[uint]struct{})
		for i := range items {
			item := items[i]
			if _, ok := checked[item.CategoryID]; !ok {
				if err := requireCategory(tx, item.CategoryID); err != nil {
					return perrors.WithContext(err, "sku", item.SKU)
				}
				checked[item.CategoryID] = struct{}{}
			}

			var existing models.Product
			err := tx.Where("sku = ?", item.SKU).First(&existing).Error
			switch {
			case err == nil:
				item.ID = existing.ID
				item.CreatedAt = existing.CreatedAt
				if err := tx.Save(&item).Error; err != nil {
					return perrors.Wrapf(err, perrors.CodeDatabase, "failed to update %s", item.SKU)
				}
				res.Updated++
			case errors.Is(err, gorm.ErrRecordNotFound):
				item.ID = 0
				if err := tx.Create(&item).Error; err != nil {
					return perrors.Wrapf(err, perrors.CodeDatabase, "failed to create %s", item.SKU)
				}
				res.Created++
			default:
				return perrors.Wrap(err, perrors.CodeDatabase, "failed to look up SKU")
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

// CreateCategory inserts c.
func (r *Repository) CreateCategory(ctx context.Context, c *models.Category) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return translateWriteError(err, ErrDuplicateSlug, "failed to create category")
	}
	return nil
}

func requireCategory(tx *gorm.DB, id uint) error {
	var n int64
	if err := tx.Model(&models.Category{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return perrors.Wrap(err, perrors.CodeDatabase, "failed to validate category")
	}
	if n == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

func translateWriteError(err error, duplicate error, msg string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
		return duplicate
	}
	return perrors.Wrap(err, perrors.CodeDatabase, msg)
}

func productFromRow(row database.Row) models.Product {
	return models.Product{
		ID:          uint(asInt64(row["id"])),
		SKU:         asString(row["sku"]),
		Name:        asString(row["name"]),
		Description: asString(row["description"]),
		CategoryID:  uint(asInt64(row["category_id"])),
		PriceCents:  asInt64(row["price_cents"]),
		Stock:       int(asInt64(row["stock"])),
		Active:      asBool(row["active"]),
		CreatedAt:   asTime(row["created_at"]),
		UpdatedAt:   asTime(row["updated_at"]),
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "1" || strings.EqualFold(b, "true")
	default:
		return asInt64(v) != 0
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
