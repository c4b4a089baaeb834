package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/irsalhamdi/marketplace-api/api/background"
	"github.com/irsalhamdi/marketplace-api/api/web"
	"github.com/irsalhamdi/marketplace-api/api/weberr"
	"github.com/irsalhamdi/marketplace-api/config"
	"github.com/irsalhamdi/marketplace-api/core/claims"
	"github.com/irsalhamdi/marketplace-api/core/order"
	"github.com/irsalhamdi/marketplace-api/core/payment"
	"github.com/irsalhamdi/marketplace-api/notify"
	"github.com/irsalhamdi/marketplace-api/validate"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

var errAlreadyPaid = errors.New("order already paid")

// HandleCheckout brokers a payment session for an order. Repeated calls
// before payment return the same URL; a session the gateway already
// considers paid triggers local reconciliation instead of a new session.
func HandleCheckout(db *sqlx.DB, log logrus.FieldLogger, strp *stripecl.API, pp *paypal.Client, pub notify.Publisher, bg *background.Background, cfg config.Stripe) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		orderID := web.Param(r, "id")
		if err := validate.CheckID(orderID); err != nil {
			return weberr.BadRequest(err)
		}

		ord, err := order.Fetch(ctx, db, orderID)
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if ord.BuyerID != clm.UserID {
			return weberr.Forbidden(errors.New("order belongs to another buyer"))
		}

		pay, err := order.FetchPayment(ctx, db, orderID)
		if err != nil {
			if errors.Is(err, order.ErrPaymentNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if ord.Status == order.Paid || pay.Status == order.PaymentSucceeded {
			return weberr.Conflict(errAlreadyPaid, "order already paid")
		}

		if pay.Method == order.MethodPaypal {
			return paypalCheckout(ctx, w, db, pp, ord, pay)
		}

		// A stored session id means a session was already brokered:
		// re-query its live status rather than creating a duplicate.
		if pay.ProviderPaymentID != nil {
			s, err := strp.CheckoutSessions.Get(*pay.ProviderPaymentID, nil)
			if err != nil {
				return fmt.Errorf("querying session[%s]: %w", *pay.ProviderPaymentID, err)
			}

			if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
				// Defensive path, independent of the webhook.
				if err := payment.SettleAndFulfill(ctx, db, log, pub, bg, s.ID); err != nil {
					return err
				}
				return weberr.Conflict(errAlreadyPaid, "order already paid")
			}

			if s.Status == stripe.CheckoutSessionStatusOpen {
				return web.Respond(ctx, w, checkoutURL{s.URL}, http.StatusOK)
			}
			// Expired session: fall through and broker a fresh one.
		}

		if ord.Status != order.Pending {
			return weberr.Conflict(errors.New("order is not pending"), "order is not payable")
		}
		if ord.Total <= 0 {
			return weberr.BadRequest(errors.New("order total must be positive"))
		}
		if pay.Method != order.MethodCard {
			return weberr.BadRequest(fmt.Errorf("method %q cannot use card checkout", pay.Method))
		}

		items, err := order.FetchItems(ctx, db, orderID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return weberr.BadRequest(errors.New("order has no items"))
		}

		li := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
		for _, it := range items {
			li = append(li, &stripe.CheckoutSessionLineItemParams{
				Quantity: stripe.Int64(int64(it.Quantity)),

				// Snapshot prices from the ledger, never the catalog.
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(pay.Currency),
					UnitAmount: stripe.Int64(it.UnitPrice),

					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("product " + it.ProductID),
					},
				},
			})
		}

		params := &stripe.CheckoutSessionParams{
			SuccessURL:        stripe.String(cfg.SuccessURL),
			CancelURL:         stripe.String(cfg.CancelURL),
			Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
			ClientReferenceID: stripe.String(ord.ID),
			LineItems:         li,
		}

		s, err := strp.CheckoutSessions.New(params)
		if err != nil {
			return fmt.Errorf("creating checkout session: %w", err)
		}

		if err := order.SetPaymentProviderID(ctx, db, pay.ID, s.ID); err != nil {
			return err
		}

		return web.Respond(ctx, w, checkoutURL{s.URL}, http.StatusOK)
	}
}

type checkoutURL struct {
	URL string `json:"url"`
}

func paypalCheckout(ctx context.Context, w http.ResponseWriter, db *sqlx.DB, pp *paypal.Client, ord order.Order, pay order.Payment) error {
	// Idempotent re-entry for the wallet method: the stored order id is
	// returned for the client to re-approve.
	if pay.ProviderPaymentID != nil {
		return web.Respond(ctx, w, checkoutURL{*pay.ProviderPaymentID}, http.StatusOK)
	}

	items, err := order.FetchItems(ctx, db, ord.ID)
	if err != nil {
		return err
	}

	ppItems := make([]paypal.Item, 0, len(items))
	for _, it := range items {
		ppItems = append(ppItems, paypal.Item{
			Quantity: strconv.Itoa(it.Quantity),
			Name:     "product " + it.ProductID,

			UnitAmount: &paypal.Money{
				Currency: "USD",
				Value:    centsValue(it.UnitPrice),
			},
		})
	}

	units := []paypal.PurchaseUnitRequest{{
		Items: ppItems,

		Amount: &paypal.PurchaseUnitAmount{
			Currency: "USD",
			Value:    centsValue(ord.Total),

			Breakdown: &paypal.PurchaseUnitAmountBreakdown{ItemTotal: &paypal.Money{
				Currency: "USD",
				Value:    centsValue(ord.Total),
			}},
		},
	}}

	ppOrd, err := pp.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, &paypal.ApplicationContext{})
	if err != nil {
		return fmt.Errorf("creating paypal order: %w", err)
	}

	if err := order.SetPaymentProviderID(ctx, db, pay.ID, ppOrd.ID); err != nil {
		return err
	}

	return web.Respond(ctx, w, checkoutURL{ppOrd.ID}, http.StatusOK)
}

// HandlePaypalCapture captures an approved paypal order and reconciles it
// through the same guarded mark-paid path the webhook uses. Only the buyer
// who owns the order (or an admin) may trigger the capture.
func HandlePaypalCapture(db *sqlx.DB, log logrus.FieldLogger, pp *paypal.Client, pub notify.Publisher, bg *background.Background) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		providerID := web.Param(r, "id")

		pay, err := order.FetchPaymentByProviderID(ctx, db, providerID)
		if err != nil {
			if errors.Is(err, order.ErrPaymentNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		ord, err := order.Fetch(ctx, db, pay.OrderID)
		if err != nil {
			return err
		}
		if !claims.IsUser(ctx, ord.BuyerID) && !claims.IsAdmin(ctx) {
			return weberr.Forbidden(errors.New("order belongs to another buyer"))
		}

		resp, err := pp.CaptureOrder(ctx, providerID, paypal.CaptureOrderRequest{})
		if err != nil {
			return fmt.Errorf("capturing paypal order[%s]: %w", providerID, err)
		}

		if resp.Status != "COMPLETED" {
			return weberr.Conflict(
				fmt.Errorf("captured order[%s] with status[%s]", providerID, resp.Status),
				"payment capture incomplete",
			)
		}

		if err := payment.SettleAndFulfill(ctx, db, log, pub, bg, providerID); err != nil {
			if errors.Is(err, order.ErrPaymentNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("the order was payed but its fulfillment failed: %w", err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

// centsValue renders minor units the way the wallet API wants them.
func centsValue(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
