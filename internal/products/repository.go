package products

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bodega-pos/bodega/internal/shared"
)

// ErrDuplicateSKU indicates the SKU is already taken.
var ErrDuplicateSKU = errors.New("duplicate sku")

// Repository defines persistence operations for the product catalog.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id int64) (Product, error)
	Create(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, p Product) (Product, error)
	Delete(ctx context.Context, id int64) error
	SetVisible(ctx context.Context, id int64, visible bool) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const productColumns = `id, sku, name, description, price, stock, visible, created_at, updated_at`

// List returns a page of catalog products, newest first, plus the total
// matching count.
func (r *PGRepository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filters.VisibleOnly {
		clauses = append(clauses, "visible = TRUE")
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		args = append(args, "%"+s+"%")
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR sku ILIKE $%d)", len(args), len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("products: count: %w", err)
	}

	query := `SELECT ` + productColumns + ` FROM products` + where + " ORDER BY created_at DESC, id DESC"
	if filters.PerPage > 0 {
		page := filters.Page
		if page < 1 {
			page = 1
		}
		args = append(args, filters.PerPage)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, (page-1)*filters.PerPage)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("products: list: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Visible, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Get fetches one product by ID.
func (r *PGRepository) Get(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Visible, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// Create inserts a new product.
func (r *PGRepository) Create(ctx context.Context, p Product) (Product, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO products (sku, name, description, price, stock, visible, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+productColumns,
		p.SKU, p.Name, p.Description, p.Price, p.Stock, p.Visible)
	var out Product
	err := row.Scan(&out.ID, &out.SKU, &out.Name, &out.Description, &out.Price, &out.Stock, &out.Visible, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return Product{}, mapUnique(err)
	}
	return out, nil
}

// Update rewrites a product's attributes.
func (r *PGRepository) Update(ctx context.Context, p Product) (Product, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE products
		SET sku = $2, name = $3, description = $4, price = $5, stock = $6, visible = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		p.ID, p.SKU, p.Name, p.Description, p.Price, p.Stock, p.Visible)
	var out Product
	err := row.Scan(&out.ID, &out.SKU, &out.Name, &out.Description, &out.Price, &out.Stock, &out.Visible, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, mapUnique(err)
	}
	return out, nil
}

// Delete removes a product.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("products: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetVisible flips the store-front visibility flag.
func (r *PGRepository) SetVisible(ctx context.Context, id int64, visible bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET visible = $2, updated_at = now() WHERE id = $1`, id, visible)
	if err != nil {
		return fmt.Errorf("products: set visible: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateSKU
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
