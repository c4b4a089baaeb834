package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/marketplace-api/core/product"
	"github.com/irsalhamdi/marketplace-api/database"
	"github.com/irsalhamdi/marketplace-api/validate"
	"github.com/jmoiron/sqlx"
)

var (
	ErrEmptyCart       = errors.New("order has no items")
	ErrSelfPurchase    = errors.New("cannot purchase an own listing")
	ErrProductInactive = errors.New("product is not available")
)

// InsufficientStockError reports the quantity that is still available so
// the buyer can retry with less.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("product[%s]: requested %d but only %d in stock",
		e.ProductID, e.Requested, e.Available)
}

// CreateOrder snapshots current unit prices, reserves stock and persists
// order + items + the pending payment row as one transaction. Nothing is
// observable unless all of it is.
func CreateOrder(ctx context.Context, db *sqlx.DB, buyerID string, on OrderNew) (Summary, error) {
	if len(on.Items) == 0 {
		return Summary{}, ErrEmptyCart
	}

	provider := "stripe"
	if on.PaymentMethod == MethodPaypal {
		provider = "paypal"
	}

	var sum Summary
	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		now := time.Now().UTC()

		var total int64
		items := make([]Item, 0, len(on.Items))
		for _, in := range on.Items {
			if in.Quantity <= 0 {
				return fmt.Errorf("product[%s]: quantity must be positive", in.ProductID)
			}

			prd, err := product.FetchForUpdate(ctx, tx, in.ProductID)
			if err != nil {
				return err
			}

			if !prd.Active {
				return fmt.Errorf("product[%s]: %w", prd.ID, ErrProductInactive)
			}
			if prd.SellerID == buyerID {
				return fmt.Errorf("product[%s]: %w", prd.ID, ErrSelfPurchase)
			}
			if prd.Stock < in.Quantity {
				return &InsufficientStockError{
					ProductID: prd.ID,
					Requested: in.Quantity,
					Available: prd.Stock,
				}
			}

			if err := product.DecrementStock(ctx, tx, prd.ID, in.Quantity); err != nil {
				return err
			}

			// Price is snapshotted here and never re-read from
			// the catalog afterward.
			items = append(items, Item{
				ProductID: prd.ID,
				Quantity:  in.Quantity,
				UnitPrice: prd.Price,
			})
			total += prd.Price * int64(in.Quantity)
		}

		ord := Order{
			ID:        validate.GenerateID(),
			BuyerID:   buyerID,
			Status:    Pending,
			Total:     total,
			OrderDate: now,
			UpdatedAt: now,
		}
		if err := Create(ctx, tx, ord); err != nil {
			return err
		}

		for i := range items {
			items[i].OrderID = ord.ID
			if err := CreateItem(ctx, tx, items[i]); err != nil {
				return err
			}
		}

		pay := Payment{
			ID:        validate.GenerateID(),
			OrderID:   ord.ID,
			Amount:    total,
			Currency:  "usd",
			Method:    on.PaymentMethod,
			Provider:  provider,
			Status:    PaymentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := CreatePayment(ctx, tx, pay); err != nil {
			return err
		}

		sum = Summary{
			ID:            ord.ID,
			Total:         total,
			Items:         items,
			PaymentMethod: on.PaymentMethod,
		}
		return nil
	})

	if err != nil {
		return Summary{}, fmt.Errorf("creating order for buyer[%s]: %w", buyerID, err)
	}
	return sum, nil
}
