package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("product not found")

func Create(ctx context.Context, db sqlx.ExtContext, prd Product) error {
	const q = `
	INSERT INTO products
		(product_id, seller_id, name, description, price, stock, active, created_at, updated_at)
	VALUES
		(:product_id, :seller_id, :name, :description, :price, :stock, :active, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, prd); err != nil {
		return fmt.Errorf("inserting product: %w", err)
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Product, error) {
	const q = `SELECT * FROM products WHERE product_id = $1`

	var prd Product
	if err := sqlx.GetContext(ctx, db, &prd, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("selecting product[%s]: %w", id, err)
	}
	return prd, nil
}

// FetchForUpdate locks the product row for the enclosing transaction so
// stock checks and decrements see a consistent quantity.
func FetchForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (Product, error) {
	const q = `SELECT * FROM products WHERE product_id = $1 FOR UPDATE`

	var prd Product
	if err := sqlx.GetContext(ctx, tx, &prd, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("locking product[%s]: %w", id, err)
	}
	return prd, nil
}

// DecrementStock takes quantity units off the shelf. It refuses to go
// below zero: zero rows affected means the stock moved under us.
func DecrementStock(ctx context.Context, tx sqlx.ExtContext, id string, quantity int) error {
	const q = `
	UPDATE products SET
		stock = stock - $2,
		updated_at = now()
	WHERE product_id = $1 AND stock >= $2`

	res, err := tx.ExecContext(ctx, q, id, quantity)
	if err != nil {
		return fmt.Errorf("decrementing stock of product[%s]: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("product[%s]: stock changed concurrently", id)
	}
	return nil
}

func List(ctx context.Context, db sqlx.ExtContext) ([]Product, error) {
	const q = `SELECT * FROM products WHERE active ORDER BY created_at DESC`

	prds := []Product{}
	if err := sqlx.SelectContext(ctx, db, &prds, q); err != nil {
		return nil, fmt.Errorf("selecting products: %w", err)
	}
	return prds, nil
}
