package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

func Create(ctx context.Context, db sqlx.ExtContext, ord Order) error {
	const q = `
	INSERT INTO orders
		(order_id, buyer_id, status, total, order_date, updated_at)
	VALUES
		(:order_id, :buyer_id, :status, :total, :order_date, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, ord); err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

func CreateItem(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	INSERT INTO order_items
		(order_id, product_id, quantity, unit_price)
	VALUES
		(:order_id, :product_id, :quantity, :unit_price)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("inserting order item: %w", err)
	}
	return nil
}

func CreatePayment(ctx context.Context, db sqlx.ExtContext, pay Payment) error {
	const q = `
	INSERT INTO payments
		(payment_id, order_id, amount, currency, method, provider,
		 provider_payment_id, status, payment_date, created_at, updated_at)
	VALUES
		(:payment_id, :order_id, :amount, :currency, :method, :provider,
		 :provider_payment_id, :status, :payment_date, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, pay); err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Order, error) {
	const q = `SELECT * FROM orders WHERE order_id = $1`

	var ord Order
	if err := sqlx.GetContext(ctx, db, &ord, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("selecting order[%s]: %w", id, err)
	}
	return ord, nil
}

func FetchItems(ctx context.Context, db sqlx.ExtContext, orderID string) ([]Item, error) {
	const q = `SELECT * FROM order_items WHERE order_id = $1 ORDER BY product_id`

	items := []Item{}
	if err := sqlx.SelectContext(ctx, db, &items, q, orderID); err != nil {
		return nil, fmt.Errorf("selecting items of order[%s]: %w", orderID, err)
	}
	return items, nil
}

func FetchPayment(ctx context.Context, db sqlx.ExtContext, orderID string) (Payment, error) {
	const q = `SELECT * FROM payments WHERE order_id = $1`

	var pay Payment
	if err := sqlx.GetContext(ctx, db, &pay, q, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("selecting payment of order[%s]: %w", orderID, err)
	}
	return pay, nil
}

// FetchPaymentByProviderID resolves the local payment bound to an external
// correlation key. The reconciler keys every gateway event through here.
func FetchPaymentByProviderID(ctx context.Context, db sqlx.ExtContext, providerID string) (Payment, error) {
	const q = `SELECT * FROM payments WHERE provider_payment_id = $1`

	var pay Payment
	if err := sqlx.GetContext(ctx, db, &pay, q, providerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("selecting payment bound to [%s]: %w", providerID, err)
	}
	return pay, nil
}

// FetchPaymentByProviderIDForUpdate locks the payment row so the status
// check and the mutation that follows happen against the same snapshot.
func FetchPaymentByProviderIDForUpdate(ctx context.Context, tx sqlx.ExtContext, providerID string) (Payment, error) {
	const q = `SELECT * FROM payments WHERE provider_payment_id = $1 FOR UPDATE`

	var pay Payment
	if err := sqlx.GetContext(ctx, tx, &pay, q, providerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("locking payment bound to [%s]: %w", providerID, err)
	}
	return pay, nil
}

func SetPaymentProviderID(ctx context.Context, db sqlx.ExtContext, paymentID string, providerID string) error {
	const q = `
	UPDATE payments SET
		provider_payment_id = $2,
		updated_at = $3
	WHERE payment_id = $1`

	if _, err := db.ExecContext(ctx, q, paymentID, providerID, time.Now().UTC()); err != nil {
		return fmt.Errorf("binding payment[%s] to [%s]: %w", paymentID, providerID, err)
	}
	return nil
}

func UpdatePaymentStatus(ctx context.Context, db sqlx.ExtContext, paymentID string, status PaymentStatus, paidAt *time.Time) error {
	const q = `
	UPDATE payments SET
		status = $2,
		payment_date = COALESCE($3, payment_date),
		updated_at = $4
	WHERE payment_id = $1`

	if _, err := db.ExecContext(ctx, q, paymentID, status, paidAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("updating payment[%s] status: %w", paymentID, err)
	}
	return nil
}

func UpdateStatus(ctx context.Context, db sqlx.ExtContext, up StatusUp) error {
	const q = `
	UPDATE orders SET
		status = :status,
		updated_at = :updated_at
	WHERE order_id = :order_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, up); err != nil {
		return fmt.Errorf("updating order[%s] status: %w", up.ID, err)
	}
	return nil
}

// UpdateStatusFrom transitions the order only when it still holds the
// expected status. Zero rows affected means another writer got there
// first; callers treat that as an absorbed duplicate.
func UpdateStatusFrom(ctx context.Context, db sqlx.ExtContext, id string, from, to Status) (bool, error) {
	const q = `
	UPDATE orders SET
		status = $3,
		updated_at = $4
	WHERE order_id = $1 AND status = $2`

	res, err := db.ExecContext(ctx, q, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("transitioning order[%s] %s->%s: %w", id, from, to, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n == 1, nil
}
