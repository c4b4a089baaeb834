package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/irsalhamdi/marketplace-api/api/web"
	"github.com/irsalhamdi/marketplace-api/api/weberr"
	"github.com/irsalhamdi/marketplace-api/core/claims"
	"github.com/irsalhamdi/marketplace-api/core/product"
	"github.com/irsalhamdi/marketplace-api/validate"
	"github.com/jmoiron/sqlx"
)

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var on OrderNew
		if err := web.Decode(w, r, &on); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(on); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		sum, err := CreateOrder(ctx, db, clm.UserID, on)
		if err != nil {
			var stock *InsufficientStockError
			switch {
			case errors.Is(err, ErrEmptyCart):
				return weberr.NewError(err, "no items to order", http.StatusUnprocessableEntity)
			case errors.Is(err, ErrSelfPurchase):
				return weberr.NewError(err, "cannot purchase your own listing", http.StatusUnprocessableEntity)
			case errors.Is(err, ErrProductInactive):
				return weberr.NewError(err, "a product in the order is not available", http.StatusUnprocessableEntity)
			case errors.Is(err, product.ErrNotFound):
				return weberr.NotFound(err)
			case errors.As(err, &stock):
				return weberr.NewError(err, stock.Error(), http.StatusUnprocessableEntity)
			}
			return err
		}

		return web.Respond(ctx, w, sum, http.StatusOK)
	}
}

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		ord, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if ord.BuyerID != clm.UserID && !claims.IsAdmin(ctx) {
			return weberr.Forbidden(errors.New("order belongs to another buyer"))
		}

		items, err := FetchItems(ctx, db, id)
		if err != nil {
			return err
		}

		out := struct {
			Order
			Items []Item `json:"items"`
		}{ord, items}
		return web.Respond(ctx, w, out, http.StatusOK)
	}
}
