package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("subscription not found")

func Create(ctx context.Context, db sqlx.ExtContext, sub Subscription) error {
	const q = `
	INSERT INTO subscriptions
		(subscription_id, user_id, plan_code, provider, external_customer_id,
		 external_subscription_id, status, current_period_start,
		 current_period_end, auto_renew, created_at, updated_at)
	VALUES
		(:subscription_id, :user_id, :plan_code, :provider, :external_customer_id,
		 :external_subscription_id, :status, :current_period_start,
		 :current_period_end, :auto_renew, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, sub); err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, sub Subscription) error {
	const q = `
	UPDATE subscriptions SET
		plan_code = :plan_code,
		external_customer_id = :external_customer_id,
		external_subscription_id = :external_subscription_id,
		status = :status,
		current_period_start = :current_period_start,
		current_period_end = :current_period_end,
		auto_renew = :auto_renew,
		updated_at = :updated_at
	WHERE subscription_id = :subscription_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, sub); err != nil {
		return fmt.Errorf("updating subscription[%s]: %w", sub.ID, err)
	}
	return nil
}

// FetchLatest returns the authoritative row for a user: the most recently
// updated one.
func FetchLatest(ctx context.Context, db sqlx.ExtContext, userID string) (Subscription, error) {
	const q = `
	SELECT * FROM subscriptions
	WHERE user_id = $1
	ORDER BY updated_at DESC
	LIMIT 1`

	var sub Subscription
	if err := sqlx.GetContext(ctx, db, &sub, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("selecting latest subscription of user[%s]: %w", userID, err)
	}
	return sub, nil
}

func FetchByExternalID(ctx context.Context, db sqlx.ExtContext, externalID string) (Subscription, error) {
	const q = `
	SELECT * FROM subscriptions
	WHERE external_subscription_id = $1
	ORDER BY updated_at DESC
	LIMIT 1`

	var sub Subscription
	if err := sqlx.GetContext(ctx, db, &sub, q, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("selecting subscription bound to [%s]: %w", externalID, err)
	}
	return sub, nil
}

func FetchByExternalCustomer(ctx context.Context, db sqlx.ExtContext, customerID string) (Subscription, error) {
	const q = `
	SELECT * FROM subscriptions
	WHERE external_customer_id = $1
	ORDER BY updated_at DESC
	LIMIT 1`

	var sub Subscription
	if err := sqlx.GetContext(ctx, db, &sub, q, customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("selecting subscription of customer[%s]: %w", customerID, err)
	}
	return sub, nil
}

// FetchLatestPending returns the newest pending row for a user, used to
// bind external ids once the gateway reports the session completed.
func FetchLatestPending(ctx context.Context, db sqlx.ExtContext, userID string) (Subscription, error) {
	const q = `
	SELECT * FROM subscriptions
	WHERE user_id = $1 AND status = 'pending'
	ORDER BY updated_at DESC
	LIMIT 1`

	var sub Subscription
	if err := sqlx.GetContext(ctx, db, &sub, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("selecting pending subscription of user[%s]: %w", userID, err)
	}
	return sub, nil
}
