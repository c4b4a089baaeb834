package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/marketplace-api/api/background"
	"github.com/irsalhamdi/marketplace-api/core/fulfillment"
	"github.com/irsalhamdi/marketplace-api/core/order"
	"github.com/irsalhamdi/marketplace-api/database"
	"github.com/irsalhamdi/marketplace-api/notify"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Settle marks the payment bound to providerID as succeeded and flips the
// order Pending -> Paid. The status check and both writes share one
// transaction, so at-least-once redelivery and the client-triggered
// defensive reconciliation collapse into a single transition: a payment
// already succeeded is a no-op.
func Settle(ctx context.Context, db *sqlx.DB, providerID string) (orderID string, settled bool, err error) {
	err = database.Transaction(db, func(tx sqlx.ExtContext) error {
		pay, err := order.FetchPaymentByProviderIDForUpdate(ctx, tx, providerID)
		if err != nil {
			return err
		}
		orderID = pay.OrderID

		if pay.Status == order.PaymentSucceeded {
			return nil
		}

		now := time.Now().UTC()
		if err := order.UpdatePaymentStatus(ctx, tx, pay.ID, order.PaymentSucceeded, &now); err != nil {
			return err
		}

		// Guarded transition: a racing writer that already moved the
		// order out of Pending wins and this update is a no-op.
		if _, err := order.UpdateStatusFrom(ctx, tx, pay.OrderID, order.Pending, order.Paid); err != nil {
			return err
		}

		settled = true
		return nil
	})

	if err != nil {
		return "", false, fmt.Errorf("settling payment[%s]: %w", providerID, err)
	}
	return orderID, settled, nil
}

// SettleAndFulfill settles the payment and, on a fresh transition, kicks
// off courier auto-assignment and the paid notification. Assignment
// failures are logged, not surfaced: the money already moved and a manual
// assignment can follow.
func SettleAndFulfill(ctx context.Context, db *sqlx.DB, log logrus.FieldLogger, pub notify.Publisher, bg *background.Background, providerID string) error {
	orderID, settled, err := Settle(ctx, db, providerID)
	if err != nil {
		return err
	}
	if !settled {
		return nil
	}

	ord, err := order.Fetch(ctx, db, orderID)
	if err != nil {
		return err
	}

	if _, err := fulfillment.FetchByOrder(ctx, db, orderID); errors.Is(err, fulfillment.ErrNotFound) {
		if _, err := fulfillment.AssignRandomCourier(ctx, db, orderID); err != nil {
			switch {
			case errors.Is(err, fulfillment.ErrAlreadyAssigned):
				// Lost the race to another settle path; fine.
			case errors.Is(err, fulfillment.ErrNoCouriers):
				log.Warnf("order[%s] paid but no couriers available", orderID)
			default:
				return err
			}
		}
	} else if err != nil {
		return err
	}

	bg.Run(func() error {
		return pub.Publish(context.Background(), notify.Event{
			Kind:    notify.OrderPaid,
			OrderID: orderID,
			UserID:  ord.BuyerID,
		})
	})
	return nil
}
