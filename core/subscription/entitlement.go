package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/marketplace-api/core/claims"
	"github.com/irsalhamdi/marketplace-api/core/user"
	"github.com/irsalhamdi/marketplace-api/database"
	"github.com/irsalhamdi/marketplace-api/validate"
	"github.com/jmoiron/sqlx"
)

// Activation carries what the payment reconciler extracted from a
// subscription-lifecycle event.
type Activation struct {
	UserID                 string
	PlanCode               string
	Provider               string
	ExternalCustomerID     string
	ExternalSubscriptionID string
	PeriodStart            time.Time
	PeriodEnd              time.Time
	AutoRenew              bool
}

// OnActivated records the subscription as active and idempotently grants
// the elevated seller role. Re-delivered activations are harmless: the
// row converges on the same state and the role grant is skipped when the
// role is already held.
func OnActivated(ctx context.Context, db *sqlx.DB, act Activation) error {
	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		now := time.Now().UTC()

		sub, err := findRow(ctx, tx, act)
		switch {
		case errors.Is(err, ErrNotFound):
			sub = Subscription{
				ID:        validate.GenerateID(),
				UserID:    act.UserID,
				Provider:  act.Provider,
				CreatedAt: now,
			}
			sub.applyActivation(act, now)
			if err := Create(ctx, tx, sub); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			sub.applyActivation(act, now)
			if err := Update(ctx, tx, sub); err != nil {
				return err
			}
		}

		usr, err := user.Fetch(ctx, tx, sub.UserID)
		if err != nil {
			return err
		}

		if !usr.HasRole(claims.RoleSellerPro) {
			roles := append([]string{}, usr.Roles...)
			roles = append(roles, claims.RoleSellerPro)
			if err := user.UpdateRoles(ctx, tx, usr.ID, roles, claims.PermissionsFor(roles)); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("activating subscription[%s] of user[%s]: %w",
			act.ExternalSubscriptionID, act.UserID, err)
	}
	return nil
}

func (s *Subscription) applyActivation(act Activation, now time.Time) {
	s.Status = Active
	s.AutoRenew = act.AutoRenew
	s.UpdatedAt = now
	if act.PlanCode != "" {
		s.PlanCode = act.PlanCode
	}
	if act.ExternalCustomerID != "" {
		s.ExternalCustomerID = act.ExternalCustomerID
	}
	if act.ExternalSubscriptionID != "" {
		s.ExternalSubscriptionID = act.ExternalSubscriptionID
	}
	if !act.PeriodStart.IsZero() {
		start := act.PeriodStart
		s.CurrentPeriodStart = &start
	}
	if !act.PeriodEnd.IsZero() {
		end := act.PeriodEnd
		s.CurrentPeriodEnd = &end
	}
}

// findRow resolves the local row a gateway event refers to: by external
// subscription id first, then by external customer id, then the user's
// newest pending row (first activation after checkout).
func findRow(ctx context.Context, tx sqlx.ExtContext, act Activation) (Subscription, error) {
	if act.ExternalSubscriptionID != "" {
		sub, err := FetchByExternalID(ctx, tx, act.ExternalSubscriptionID)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return sub, err
		}
	}
	if act.ExternalCustomerID != "" {
		sub, err := FetchByExternalCustomer(ctx, tx, act.ExternalCustomerID)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return sub, err
		}
	}
	if act.UserID != "" {
		return FetchLatestPending(ctx, tx, act.UserID)
	}
	return Subscription{}, ErrNotFound
}

// OnRevoked handles both expiry and cancellation: the elevated role is
// revoked, the base seller role is ensured, and the cached permission set
// is recomputed wholesale from the catalogue so roles and claims cannot
// drift apart.
func OnRevoked(ctx context.Context, db *sqlx.DB, userID string, to Status) error {
	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		now := time.Now().UTC()

		sub, err := FetchLatest(ctx, tx, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil && sub.Status != to {
			sub.Status = to
			sub.AutoRenew = false
			sub.UpdatedAt = now
			if err := Update(ctx, tx, sub); err != nil {
				return err
			}
		}

		usr, err := user.Fetch(ctx, tx, userID)
		if err != nil {
			return err
		}

		roles := make([]string, 0, len(usr.Roles))
		for _, r := range usr.Roles {
			if r != claims.RoleSellerPro {
				roles = append(roles, r)
			}
		}
		hasBase := false
		for _, r := range roles {
			if r == claims.RoleSeller {
				hasBase = true
			}
		}
		if !hasBase {
			roles = append(roles, claims.RoleSeller)
		}

		return user.UpdateRoles(ctx, tx, userID, roles, claims.PermissionsFor(roles))
	})

	if err != nil {
		return fmt.Errorf("revoking entitlement of user[%s]: %w", userID, err)
	}
	return nil
}

// IsEntitled reports whether the user currently holds the elevated seller
// capability. The latest subscription row inside the skewed period window
// counts, and so does direct role membership. The precedence between the
// two sources when they disagree is an open product question; the OR is
// kept on purpose.
func IsEntitled(ctx context.Context, db sqlx.ExtContext, userID string, now time.Time) (bool, error) {
	sub, err := FetchLatest(ctx, db, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if err == nil && WithinPeriod(sub, now) {
		return true, nil
	}

	usr, err := user.Fetch(ctx, db, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return usr.HasRole(claims.RoleSellerPro), nil
}
