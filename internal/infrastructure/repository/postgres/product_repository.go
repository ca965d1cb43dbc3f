package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

const productColumns = `id, slug, name, category, specs, stale, created_at, updated_at`

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrProductNotFound, "get product", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return product, nil
}

func (r *ProductRepository) GetBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrProductNotFound, "get product by slug", fmt.Errorf("slug=%s", slug))
		}
		return nil, err
	}
	return product, nil
}

func (r *ProductRepository) ListFlaggedStale(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id
FROM products
WHERE stale
ORDER BY updated_at ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale products: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale product id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

func (r *ProductRepository) SetStale(ctx context.Context, id string, stale bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE products SET stale = $2 WHERE id = $1`, id, stale)
	if err != nil {
		return fmt.Errorf("set product stale: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set product stale rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrProductNotFound, "set product stale", fmt.Errorf("id=%s", id))
	}
	return nil
}

// Upsert inserts or updates a product by slug and writes back the stored id.
func (r *ProductRepository) Upsert(ctx context.Context, product *domain.Product) error {
	specsJSON, err := json.Marshal(product.Specs)
	if err != nil {
		return fmt.Errorf("marshal specs: %w", err)
	}
	now := time.Now().UTC()

	row := r.db.QueryRowContext(ctx, `
INSERT INTO products (id, slug, name, category, specs, stale, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::jsonb, FALSE, $6, $6)
ON CONFLICT (slug) DO UPDATE SET
	name = EXCLUDED.name,
	category = EXCLUDED.category,
	specs = EXCLUDED.specs,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at, updated_at
`, product.ID, product.Slug, product.Name, product.Category, string(specsJSON), now)
	if err := row.Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		product  domain.Product
		specsRaw []byte
	)
	err := row.Scan(&product.ID, &product.Slug, &product.Name, &product.Category, &specsRaw, &product.Stale, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	if len(specsRaw) > 0 {
		if err := json.Unmarshal(specsRaw, &product.Specs); err != nil {
			return nil, fmt.Errorf("unmarshal specs: %w", err)
		}
	}
	return &product, nil
}
