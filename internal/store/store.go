// Package store persists products in SQLite.
package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"product-gateway/internal/product"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Repository stores and lists products.
type Repository struct {
	db *sqlx.DB
}

// dbProduct is a product row. Timestamps are Unix nanoseconds so that
// ordering is done on integers.
type dbProduct struct {
	ID        string  `db:"id"`
	Name      string  `db:"name"`
	Price     float64 `db:"price"`
	CreatedAt int64   `db:"created_at"`
	UpdatedAt int64   `db:"updated_at"`
}

func fromDomain(p *product.Product) dbProduct {
	return dbProduct{
		ID:        p.ID.String(),
		Name:      p.Name,
		Price:     p.Price,
		CreatedAt: p.CreatedAt.UnixNano(),
		UpdatedAt: p.UpdatedAt.UnixNano(),
	}
}

func (r dbProduct) toDomain() (product.Product, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return product.Product{}, fmt.Errorf("parse product id %q: %w", r.ID, err)
	}
	return product.Product{
		ID:        id,
		Name:      r.Name,
		Price:     r.Price,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
	}, nil
}

// Open connects to the SQLite database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// NewRepository creates a Repository on an open database.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Close releases the database connection.
func (r *Repository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("closing db: %w", err)
	}
	return nil
}

// Create inserts p.
func (r *Repository) Create(ctx context.Context, p *product.Product) error {
	const query = `INSERT INTO products (id, name, price, created_at, updated_at)
	               VALUES (:id, :name, :price, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, fromDomain(p)); err != nil {
		return fmt.Errorf("inserting product %s: %w", p.ID, err)
	}
	return nil
}

// List returns all products, newest first.
func (r *Repository) List(ctx context.Context) ([]product.Product, error) {
	const query = `SELECT id, name, price, created_at, updated_at
	               FROM products
	               ORDER BY created_at DESC, id DESC`

	var rows []dbProduct
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	products := make([]product.Product, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}
