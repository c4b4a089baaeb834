package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/marketplace-api/core/claims"
	"github.com/irsalhamdi/marketplace-api/core/order"
	"github.com/irsalhamdi/marketplace-api/core/user"
	"github.com/irsalhamdi/marketplace-api/database"
	"github.com/irsalhamdi/marketplace-api/random"
	"github.com/irsalhamdi/marketplace-api/validate"
	"github.com/jmoiron/sqlx"
)

var (
	ErrAlreadyAssigned = errors.New("order already has a courier assigned")
	ErrNoCouriers      = errors.New("no active couriers available")
	ErrNotAssignee     = errors.New("courier is not bound to this assignment")
	ErrBadTransition   = errors.New("transition not permitted")
)

// AssignRandomCourier picks uniformly among active courier accounts and
// creates the assignment. The unique order_id constraint backstops the
// existence check against concurrent double-assignment.
func AssignRandomCourier(ctx context.Context, db *sqlx.DB, orderID string) (Assignment, error) {
	var asg Assignment
	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		if _, err := order.Fetch(ctx, tx, orderID); err != nil {
			return err
		}

		_, err := FetchByOrder(ctx, tx, orderID)
		if err == nil {
			return ErrAlreadyAssigned
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		couriers, err := user.FetchActiveByRole(ctx, tx, claims.RoleCourier)
		if err != nil {
			return err
		}
		if len(couriers) == 0 {
			return ErrNoCouriers
		}

		now := time.Now().UTC()
		asg = Assignment{
			ID:         validate.GenerateID(),
			OrderID:    orderID,
			CourierID:  couriers[random.Intn(len(couriers))].ID,
			Status:     Assigned,
			AssignedAt: now,
			UpdatedAt:  now,
		}
		return Create(ctx, tx, asg)
	})

	if err != nil {
		return Assignment{}, fmt.Errorf("assigning courier to order[%s]: %w", orderID, err)
	}
	return asg, nil
}

// orderStatusFor maps a delivery transition to the order status it drives.
func orderStatusFor(s Status) order.Status {
	switch s {
	case PickedUp:
		return order.Shipped
	case Delivered:
		return order.Delivered
	case Canceled:
		return order.Canceled
	}
	return ""
}

// UpdateDeliveryStatus advances the assignment and the owning order in one
// transaction. Only the bound courier may transition its assignment.
func UpdateDeliveryStatus(ctx context.Context, db *sqlx.DB, orderID string, newStatus Status, courierID string) (Assignment, error) {
	var asg Assignment
	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		var err error
		asg, err = FetchByOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if asg.CourierID != courierID {
			return ErrNotAssignee
		}
		if !CanTransition(asg.Status, newStatus) {
			return fmt.Errorf("%s -> %s: %w", asg.Status, newStatus, ErrBadTransition)
		}

		now := time.Now().UTC()
		asg.Status = newStatus
		asg.UpdatedAt = now
		switch newStatus {
		case PickedUp:
			asg.PickedUpAt = &now
		case Delivered:
			asg.DeliveredAt = &now
		}

		if err := Update(ctx, tx, asg); err != nil {
			return err
		}

		up := order.StatusUp{
			ID:        orderID,
			Status:    orderStatusFor(newStatus),
			UpdatedAt: now,
		}
		return order.UpdateStatus(ctx, tx, up)
	})

	if err != nil {
		return Assignment{}, fmt.Errorf("updating delivery of order[%s]: %w", orderID, err)
	}
	return asg, nil
}
