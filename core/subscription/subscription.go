package subscription

import "time"

type Status string

const (
	Pending  Status = "pending"
	Active   Status = "active"
	Canceled Status = "canceled"
	Expired  Status = "expired"
)

// Subscription mirrors the gateway's view of one billing relationship.
// Multiple historical rows may exist per user; the most recently updated
// row is authoritative.
type Subscription struct {
	ID                     string     `json:"id" db:"subscription_id"`
	UserID                 string     `json:"userId" db:"user_id"`
	PlanCode               string     `json:"planCode" db:"plan_code"`
	Provider               string     `json:"provider" db:"provider"`
	ExternalCustomerID     string     `json:"externalCustomerId" db:"external_customer_id"`
	ExternalSubscriptionID string     `json:"externalSubscriptionId" db:"external_subscription_id"`
	Status                 Status     `json:"status" db:"status"`
	CurrentPeriodStart     *time.Time `json:"currentPeriodStart" db:"current_period_start"`
	CurrentPeriodEnd       *time.Time `json:"currentPeriodEnd" db:"current_period_end"`
	AutoRenew              bool       `json:"autoRenew" db:"auto_renew"`
	CreatedAt              time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt              time.Time  `json:"updatedAt" db:"updated_at"`
}

type StartRequest struct {
	PlanCode   string `json:"planCode" validate:"required"`
	SuccessURL string `json:"successUrl" validate:"omitempty,url"`
	CancelURL  string `json:"cancelUrl" validate:"omitempty,url"`
}

// EntitlementSkew absorbs clock drift and reconciliation latency between
// the gateway and this service when checking period expiry.
const EntitlementSkew = 5 * time.Minute

// WithinPeriod reports whether the subscription's billing window, widened
// by the skew tolerance, still covers now.
func WithinPeriod(sub Subscription, now time.Time) bool {
	if sub.Status != Active {
		return false
	}
	if sub.CurrentPeriodEnd == nil {
		return false
	}
	return now.Before(sub.CurrentPeriodEnd.Add(EntitlementSkew))
}
