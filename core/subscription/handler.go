package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/marketplace-api/api/web"
	"github.com/irsalhamdi/marketplace-api/api/weberr"
	"github.com/irsalhamdi/marketplace-api/config"
	"github.com/irsalhamdi/marketplace-api/core/claims"
	"github.com/irsalhamdi/marketplace-api/validate"
	"github.com/jmoiron/sqlx"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

// HandleStart opens a subscription checkout session for the caller. An
// already-entitled user gets a conflict rather than a second subscription.
func HandleStart(db *sqlx.DB, strp *stripecl.API, cfg config.Stripe) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var req StartRequest
		if err := web.Decode(w, r, &req); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(req); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		priceID, ok := cfg.PlanPrice(req.PlanCode)
		if !ok {
			return weberr.BadRequest(fmt.Errorf("unknown plan code %q", req.PlanCode))
		}

		entitled, err := IsEntitled(ctx, db, clm.UserID, time.Now().UTC())
		if err != nil {
			return err
		}
		if entitled {
			return weberr.Conflict(errors.New("subscription already active"), "subscription already active")
		}

		successURL := req.SuccessURL
		if successURL == "" {
			successURL = cfg.SuccessURL
		}
		cancelURL := req.CancelURL
		if cancelURL == "" {
			cancelURL = cfg.CancelURL
		}

		params := &stripe.CheckoutSessionParams{
			SuccessURL:        stripe.String(successURL),
			CancelURL:         stripe.String(cancelURL),
			Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			ClientReferenceID: stripe.String(clm.UserID),
			LineItems: []*stripe.CheckoutSessionLineItemParams{{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			}},
			SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
				Metadata: map[string]string{
					"user_id":   clm.UserID,
					"plan_code": req.PlanCode,
				},
			},
		}

		s, err := strp.CheckoutSessions.New(params)
		if err != nil {
			return fmt.Errorf("creating subscription session: %w", err)
		}

		now := time.Now().UTC()
		sub := Subscription{
			ID:        validate.GenerateID(),
			UserID:    clm.UserID,
			PlanCode:  req.PlanCode,
			Provider:  "stripe",
			Status:    Pending,
			AutoRenew: true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := Create(ctx, db, sub); err != nil {
			return fmt.Errorf("recording pending subscription: %w", err)
		}

		out := struct {
			CheckoutURL string `json:"checkoutUrl"`
		}{s.URL}
		return web.Respond(ctx, w, out, http.StatusOK)
	}
}

func HandleShowCurrent(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		now := time.Now().UTC()
		entitled, err := IsEntitled(ctx, db, clm.UserID, now)
		if err != nil {
			return err
		}

		sub, err := FetchLatest(ctx, db, clm.UserID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		out := struct {
			Subscription *Subscription `json:"subscription"`
			Entitled     bool          `json:"entitled"`
		}{Entitled: entitled}
		if err == nil {
			out.Subscription = &sub
		}
		return web.Respond(ctx, w, out, http.StatusOK)
	}
}
