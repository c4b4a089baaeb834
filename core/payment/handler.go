package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/irsalhamdi/marketplace-api/api/background"
	"github.com/irsalhamdi/marketplace-api/api/web"
	"github.com/irsalhamdi/marketplace-api/api/weberr"
	"github.com/irsalhamdi/marketplace-api/config"
	"github.com/irsalhamdi/marketplace-api/core/order"
	"github.com/irsalhamdi/marketplace-api/core/subscription"
	"github.com/irsalhamdi/marketplace-api/core/user"
	"github.com/irsalhamdi/marketplace-api/notify"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

// HandleWebhook is the single entry point for asynchronous gateway events.
// Only a signature failure withholds acknowledgement with a 4xx. After
// verification, permanently-unprocessable events are logged and absorbed
// so the gateway does not retry-storm them; store failures propagate as a
// 500 so delivery is re-attempted.
func HandleWebhook(db *sqlx.DB, log logrus.FieldLogger, pub notify.Publisher, bg *background.Background, cfg config.Stripe) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot read the request body: %w", err))
		}

		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			return weberr.BadRequest(errors.New("received gateway event is not signed"))
		}

		evt, err := webhook.ConstructEvent(b, sig, cfg.WebhookSecret)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot verify gateway event: %w", err))
		}

		norm, err := Normalize(evt)
		if err != nil {
			log.Warnf("webhook[%s]: malformed payload absorbed: %v", evt.Type, err)
			return web.Respond(ctx, w, nil, http.StatusOK)
		}

		if err := dispatch(ctx, db, log, pub, bg, norm); err != nil {
			if absorbable(err) {
				log.Warnf("webhook[%s]: absorbed: %v", evt.Type, err)
				return web.Respond(ctx, w, nil, http.StatusOK)
			}
			return err
		}

		return web.Respond(ctx, w, nil, http.StatusOK)
	}
}

// absorbable classifies post-verification failures that retrying can never
// fix: the referenced local state simply does not exist.
func absorbable(err error) bool {
	return errors.Is(err, order.ErrPaymentNotFound) ||
		errors.Is(err, subscription.ErrNotFound) ||
		errors.Is(err, user.ErrNotFound) ||
		errors.Is(err, errNoUserMapping)
}

var errNoUserMapping = errors.New("event maps to no local user")

func dispatch(ctx context.Context, db *sqlx.DB, log logrus.FieldLogger, pub notify.Publisher, bg *background.Background, evt Event) error {
	switch evt.Kind {
	case KindSessionCompleted:
		if evt.Mode == string(stripe.CheckoutSessionModeSubscription) {
			return activate(ctx, db, pub, bg, evt)
		}
		return SettleAndFulfill(ctx, db, log, pub, bg, evt.ProviderPaymentID)

	case KindPaymentSucceeded:
		// Defensive alias of the session-completed path. An intent we
		// cannot correlate belongs to somebody else's ledger.
		return SettleAndFulfill(ctx, db, log, pub, bg, evt.ProviderPaymentID)

	case KindInvoicePaid:
		return activate(ctx, db, pub, bg, evt)

	case KindSubscriptionChanged:
		switch evt.SubscriptionState {
		case "active", "trialing":
			return activate(ctx, db, pub, bg, evt)
		case "canceled", "unpaid":
			return revoke(ctx, db, pub, bg, evt, subscription.Canceled)
		case "incomplete_expired", "past_due":
			return revoke(ctx, db, pub, bg, evt, subscription.Expired)
		}
		return nil
	}

	// Unknown-but-harmless kinds are acknowledged and ignored.
	return nil
}

func activate(ctx context.Context, db *sqlx.DB, pub notify.Publisher, bg *background.Background, evt Event) error {
	userID, err := resolveUser(ctx, db, evt)
	if err != nil {
		return err
	}

	if err := subscription.OnActivated(ctx, db, subscription.Activation{
		UserID:                 userID,
		PlanCode:               evt.PlanCode,
		Provider:               "stripe",
		ExternalCustomerID:     evt.CustomerID,
		ExternalSubscriptionID: evt.SubscriptionID,
		PeriodStart:            evt.PeriodStart,
		PeriodEnd:              evt.PeriodEnd,
		AutoRenew:              true,
	}); err != nil {
		return err
	}

	bg.Run(func() error {
		return pub.Publish(context.Background(), notify.Event{
			Kind:   notify.SubscriptionActivated,
			UserID: userID,
		})
	})
	return nil
}

func revoke(ctx context.Context, db *sqlx.DB, pub notify.Publisher, bg *background.Background, evt Event, to subscription.Status) error {
	userID, err := resolveUser(ctx, db, evt)
	if err != nil {
		return err
	}

	if err := subscription.OnRevoked(ctx, db, userID, to); err != nil {
		return err
	}

	bg.Run(func() error {
		return pub.Publish(context.Background(), notify.Event{
			Kind:   notify.SubscriptionRevoked,
			UserID: userID,
		})
	})
	return nil
}

// resolveUser maps a subscription event to a local user: metadata first,
// then the row bound to the external subscription id, then the external
// customer id.
func resolveUser(ctx context.Context, db *sqlx.DB, evt Event) (string, error) {
	if evt.UserID != "" {
		return evt.UserID, nil
	}

	if evt.SubscriptionID != "" {
		sub, err := subscription.FetchByExternalID(ctx, db, evt.SubscriptionID)
		if err == nil {
			return sub.UserID, nil
		}
		if !errors.Is(err, subscription.ErrNotFound) {
			return "", err
		}
	}

	if evt.CustomerID != "" {
		sub, err := subscription.FetchByExternalCustomer(ctx, db, evt.CustomerID)
		if err == nil {
			return sub.UserID, nil
		}
		if !errors.Is(err, subscription.ErrNotFound) {
			return "", err
		}
	}

	return "", errNoUserMapping
}
