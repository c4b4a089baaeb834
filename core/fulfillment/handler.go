package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/irsalhamdi/marketplace-api/api/background"
	"github.com/irsalhamdi/marketplace-api/api/web"
	"github.com/irsalhamdi/marketplace-api/api/weberr"
	"github.com/irsalhamdi/marketplace-api/core/claims"
	"github.com/irsalhamdi/marketplace-api/core/order"
	"github.com/irsalhamdi/marketplace-api/notify"
	"github.com/irsalhamdi/marketplace-api/validate"
	"github.com/jmoiron/sqlx"
)

func HandleTake(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		orderID := web.Param(r, "order_id")
		if err := validate.CheckID(orderID); err != nil {
			return weberr.BadRequest(err)
		}

		asg, err := AssignRandomCourier(ctx, db, orderID)
		if err != nil {
			switch {
			case errors.Is(err, order.ErrNotFound):
				return weberr.NotFound(err)
			case errors.Is(err, ErrAlreadyAssigned):
				return weberr.Conflict(err, "order already assigned")
			case errors.Is(err, ErrNoCouriers):
				return weberr.Conflict(err, "no couriers available")
			}
			return err
		}

		return web.Respond(ctx, w, asg, http.StatusOK)
	}
}

func HandleUpdateStatus(db *sqlx.DB, pub notify.Publisher, bg *background.Background) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		orderID := web.Param(r, "order_id")
		if err := validate.CheckID(orderID); err != nil {
			return weberr.BadRequest(err)
		}

		var up StatusUpdate
		if err := web.Decode(w, r, &up); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(up); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		asg, err := UpdateDeliveryStatus(ctx, db, orderID, up.Status, clm.UserID)
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound):
				return weberr.NotFound(err)
			case errors.Is(err, ErrNotAssignee):
				return weberr.Forbidden(err)
			case errors.Is(err, ErrBadTransition):
				return weberr.Conflict(err, "delivery status transition not permitted")
			}
			return err
		}

		if asg.Status == Delivered {
			bg.Run(func() error {
				return pub.Publish(context.Background(), notify.Event{
					Kind:    notify.OrderDelivered,
					OrderID: orderID,
					UserID:  asg.CourierID,
				})
			})
		}

		return web.Respond(ctx, w, asg, http.StatusOK)
	}
}
