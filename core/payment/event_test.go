package payment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v74"
)

func mkEvent(t *testing.T, kind string, payload string) stripe.Event {
	t.Helper()
	return stripe.Event{
		Type: kind,
		Data: &stripe.EventData{Raw: json.RawMessage(payload)},
	}
}

func TestNormalizeSessionCompleted(t *testing.T) {
	evt := mkEvent(t, "checkout.session.completed", `{
		"id": "cs_123",
		"mode": "payment",
		"customer": "cus_9",
		"payment_status": "paid",
		"client_reference_id": "order-1"
	}`)

	got, err := Normalize(evt)
	if err != nil {
		t.Fatal(err)
	}

	if got.Kind != KindSessionCompleted {
		t.Fatalf("kind = %v", got.Kind)
	}
	if got.ProviderPaymentID != "cs_123" {
		t.Fatalf("provider payment id = %q", got.ProviderPaymentID)
	}
	if got.Mode != "payment" {
		t.Fatalf("mode = %q", got.Mode)
	}
	if got.CustomerID != "cus_9" {
		t.Fatalf("customer = %q", got.CustomerID)
	}
}

func TestNormalizeCustomerAsObject(t *testing.T) {
	// Some payload versions expand the customer inline.
	evt := mkEvent(t, "checkout.session.completed", `{
		"id": "cs_obj",
		"mode": "subscription",
		"customer": {"id": "cus_77", "email": "x@y.z"},
		"subscription": {"id": "sub_77"},
		"metadata": {"user_id": "u-1", "plan_code": "seller-pro"}
	}`)

	got, err := Normalize(evt)
	if err != nil {
		t.Fatal(err)
	}

	if got.CustomerID != "cus_77" {
		t.Fatalf("customer = %q", got.CustomerID)
	}
	if got.SubscriptionID != "sub_77" {
		t.Fatalf("subscription = %q", got.SubscriptionID)
	}
	if got.UserID != "u-1" || got.PlanCode != "seller-pro" {
		t.Fatalf("metadata extraction: user=%q plan=%q", got.UserID, got.PlanCode)
	}
}

func TestNormalizeInvoicePaidTopLevel(t *testing.T) {
	evt := mkEvent(t, "invoice.paid", `{
		"customer": "cus_1",
		"subscription": "sub_1",
		"period_start": 1700000000,
		"period_end": 1702592000
	}`)

	got, err := Normalize(evt)
	if err != nil {
		t.Fatal(err)
	}

	if got.Kind != KindInvoicePaid {
		t.Fatalf("kind = %v", got.Kind)
	}
	if got.SubscriptionID != "sub_1" {
		t.Fatalf("subscription = %q", got.SubscriptionID)
	}
	if !got.PeriodEnd.Equal(time.Unix(1702592000, 0).UTC()) {
		t.Fatalf("period end = %v", got.PeriodEnd)
	}
}

func TestNormalizeInvoicePaidLineFallback(t *testing.T) {
	// The subscription id and the billing window live only on the first
	// line item in this payload shape.
	evt := mkEvent(t, "invoice.paid", `{
		"customer": "cus_2",
		"lines": {"data": [{
			"subscription": "sub_2",
			"period": {"start": 1700000000, "end": 1702592000},
			"metadata": {"user_id": "u-2"}
		}]}
	}`)

	got, err := Normalize(evt)
	if err != nil {
		t.Fatal(err)
	}

	if got.SubscriptionID != "sub_2" {
		t.Fatalf("subscription fallback = %q", got.SubscriptionID)
	}
	if got.UserID != "u-2" {
		t.Fatalf("user fallback = %q", got.UserID)
	}
	if got.PeriodEnd.IsZero() || got.PeriodStart.IsZero() {
		t.Fatalf("line period not extracted: %v - %v", got.PeriodStart, got.PeriodEnd)
	}
}

func TestNormalizeSubscriptionUpdated(t *testing.T) {
	evt := mkEvent(t, "customer.subscription.updated", `{
		"id": "sub_3",
		"customer": "cus_3",
		"status": "active",
		"current_period_start": 1700000000,
		"current_period_end": 1702592000,
		"metadata": null,
		"items": {"data": [{"price": {"id": "price_1", "lookup_key": "seller-pro"}}]}
	}`)

	got, err := Normalize(evt)
	if err != nil {
		t.Fatal(err)
	}

	if got.Kind != KindSubscriptionChanged {
		t.Fatalf("kind = %v", got.Kind)
	}
	if got.SubscriptionState != "active" {
		t.Fatalf("state = %q", got.SubscriptionState)
	}
	if got.PlanCode != "seller-pro" {
		t.Fatalf("plan fallback via lookup key = %q", got.PlanCode)
	}
}

func TestNormalizeSubscriptionDeleted(t *testing.T) {
	evt := mkEvent(t, "customer.subscription.deleted", `{
		"id": "sub_4",
		"customer": "cus_4",
		"status": "active",
		"plan": {"id": "price_legacy"}
	}`)

	got, err := Normalize(evt)
	if err != nil {
		t.Fatal(err)
	}

	if got.SubscriptionState != "canceled" {
		t.Fatalf("deleted event must normalize to canceled, got %q", got.SubscriptionState)
	}
	if got.PlanCode != "price_legacy" {
		t.Fatalf("plan fallback via legacy plan = %q", got.PlanCode)
	}
}

func TestNormalizeUnknownKind(t *testing.T) {
	evt := mkEvent(t, "charge.refunded", `{"id": "ch_1"}`)

	got, err := Normalize(evt)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != KindUnknown {
		t.Fatalf("unknown event classified as %v", got.Kind)
	}
}

func TestNormalizePaymentIntentMetadataFallback(t *testing.T) {
	evt := mkEvent(t, "payment_intent.succeeded", `{
		"id": "pi_1",
		"metadata": {"checkout_session": "cs_meta"}
	}`)

	got, err := Normalize(evt)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProviderPaymentID != "cs_meta" {
		t.Fatalf("metadata session id not preferred: %q", got.ProviderPaymentID)
	}
}
