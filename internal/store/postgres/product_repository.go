package postgres

import (
	"context"

	"malricpharma/internal/domain/product"
	"malricpharma/internal/store/repositories"

	"github.com/jackc/pgx/v5"
)

const productColumns = `id, name, description, category, image_url, price, created_at, updated_at`

type productRepository struct {
	db querier
}

func scanProduct(row pgx.Row) (*product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.ImageURL, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func collectProducts(rows pgx.Rows) ([]*product.Product, error) {
	defer rows.Close()
	var out []*product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindByIDs returns the products that still exist; missing ids are simply absent.
func (r *productRepository) FindByIDs(ctx context.Context, ids []int64) ([]*product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (r *productRepository) FindByID(ctx context.Context, id int64) (*product.Product, error) {
	return scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *productRepository) List(ctx context.Context, limit, offset int) ([]*product.Product, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM products`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectProducts(rows)
	return out, total, err
}

func (r *productRepository) Create(ctx context.Context, p *product.Product) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO products (name, description, category, image_url, price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		p.Name, p.Description, p.Category, p.ImageURL, p.Price, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	return mapErr(err)
}

func (r *productRepository) Update(ctx context.Context, p *product.Product) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET name = $1, description = $2, category = $3, image_url = $4, price = $5, updated_at = $6
		WHERE id = $7`,
		p.Name, p.Description, p.Category, p.ImageURL, p.Price, p.UpdatedAt, p.ID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *productRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}
