package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("assignment not found")

func Create(ctx context.Context, db sqlx.ExtContext, asg Assignment) error {
	const q = `
	INSERT INTO courier_assignments
		(assignment_id, order_id, courier_id, status, assigned_at, picked_up_at, delivered_at, updated_at)
	VALUES
		(:assignment_id, :order_id, :courier_id, :status, :assigned_at, :picked_up_at, :delivered_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, asg); err != nil {
		return fmt.Errorf("inserting assignment: %w", err)
	}
	return nil
}

func FetchByOrder(ctx context.Context, db sqlx.ExtContext, orderID string) (Assignment, error) {
	const q = `SELECT * FROM courier_assignments WHERE order_id = $1`

	var asg Assignment
	if err := sqlx.GetContext(ctx, db, &asg, q, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, fmt.Errorf("selecting assignment of order[%s]: %w", orderID, err)
	}
	return asg, nil
}

// FetchByOrderForUpdate locks the assignment row so the transition check
// and the write land on the same snapshot.
func FetchByOrderForUpdate(ctx context.Context, tx sqlx.ExtContext, orderID string) (Assignment, error) {
	const q = `SELECT * FROM courier_assignments WHERE order_id = $1 FOR UPDATE`

	var asg Assignment
	if err := sqlx.GetContext(ctx, tx, &asg, q, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, fmt.Errorf("locking assignment of order[%s]: %w", orderID, err)
	}
	return asg, nil
}

func Update(ctx context.Context, db sqlx.ExtContext, asg Assignment) error {
	const q = `
	UPDATE courier_assignments SET
		status = :status,
		picked_up_at = :picked_up_at,
		delivered_at = :delivered_at,
		updated_at = :updated_at
	WHERE assignment_id = :assignment_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, asg); err != nil {
		return fmt.Errorf("updating assignment[%s]: %w", asg.ID, err)
	}
	return nil
}
