package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"testing"
	"time"

	"github.com/irsalhamdi/marketplace-api/core/claims"
	"github.com/irsalhamdi/marketplace-api/core/subscription"
	"github.com/lib/pq"
	"github.com/stripe/stripe-go/v74"
)

type subscriptionTest struct {
	*TestEnv
}

func TestSubscription(t *testing.T) {
	env, err := NewTestEnv(t, "subscription_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}
	st := &subscriptionTest{env}

	st.Login(t, st.Seller.Email)

	url := st.startOK(t, "seller-pro")
	session := path.Base(url)
	st.Stripe.MarkPaid(session)

	// An unknown plan is rejected before touching the gateway.
	st.startStatus(t, "no-such-plan", http.StatusBadRequest)

	if code := st.PostWebhook(t, "checkout.session.completed", map[string]any{
		"id":           session,
		"mode":         stripe.CheckoutSessionModeSubscription,
		"customer":     "cus_100",
		"subscription": "sub_100",
		"metadata": map[string]any{
			"user_id":   st.Seller.ID,
			"plan_code": "seller-pro",
		},
	}); code != http.StatusOK {
		t.Fatalf("activation webhook: status code %d", code)
	}

	cur := st.currentOK(t)
	if !cur.Entitled {
		t.Fatal("seller not entitled after activation")
	}
	if cur.Subscription == nil || cur.Subscription.Status != subscription.Active {
		t.Fatalf("subscription after activation: %+v", cur.Subscription)
	}
	st.wantRole(t, st.Seller.ID, claims.RoleSellerPro, true)

	// A second start while entitled is refused.
	st.startStatus(t, "seller-pro", http.StatusConflict)

	// Renewal extends the billing window.
	now := time.Now().UTC()
	if code := st.PostWebhook(t, "customer.subscription.updated", map[string]any{
		"id":                   "sub_100",
		"customer":             "cus_100",
		"status":               "active",
		"current_period_start": now.Unix(),
		"current_period_end":   now.Add(30 * 24 * time.Hour).Unix(),
	}); code != http.StatusOK {
		t.Fatalf("renewal webhook: status code %d", code)
	}

	cur = st.currentOK(t)
	if cur.Subscription.CurrentPeriodEnd == nil || !cur.Subscription.CurrentPeriodEnd.After(now) {
		t.Fatalf("billing window not extended: %+v", cur.Subscription)
	}

	// Cancellation revokes the elevated role.
	if code := st.PostWebhook(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_100",
		"customer": "cus_100",
		"status":   "active",
	}); code != http.StatusOK {
		t.Fatalf("cancellation webhook: status code %d", code)
	}

	cur = st.currentOK(t)
	if cur.Entitled {
		t.Fatal("seller still entitled after cancellation")
	}
	if cur.Subscription.Status != subscription.Canceled {
		t.Fatalf("subscription status after cancellation = %s", cur.Subscription.Status)
	}
	st.wantRole(t, st.Seller.ID, claims.RoleSellerPro, false)
	st.wantRole(t, st.Seller.ID, claims.RoleSeller, true)

	// Events about nobody we know are absorbed, not bounced for retry.
	if code := st.PostWebhook(t, "customer.subscription.updated", map[string]any{
		"id":       "sub_ghost",
		"customer": "cus_ghost",
		"status":   "active",
	}); code != http.StatusOK {
		t.Fatalf("unmapped webhook: status code %d", code)
	}

	// Unsigned deliveries are rejected outright.
	w, err := st.Client().Post(st.URL+"/webhooks/payment", "application/json", jsonBody(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	w.Body.Close()
	if w.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsigned webhook: status code %s", w.Status)
	}

	st.Logout(t)
}

type currentResponse struct {
	Subscription *subscription.Subscription `json:"subscription"`
	Entitled     bool                       `json:"entitled"`
}

func (st *subscriptionTest) start(t *testing.T, planCode string) *http.Response {
	t.Helper()

	body := fmt.Sprintf(`{"planCode":%q}`, planCode)
	w, err := st.Client().Post(st.URL+"/subscriptions/start", "application/json", jsonBody(body))
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func (st *subscriptionTest) startOK(t *testing.T, planCode string) string {
	t.Helper()

	w := st.start(t, planCode)
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("can't start subscription: status code %s", w.Status)
	}

	var out struct {
		CheckoutURL string `json:"checkoutUrl"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("cannot unmarshal start response: %v", err)
	}
	return out.CheckoutURL
}

func (st *subscriptionTest) startStatus(t *testing.T, planCode string, want int) {
	t.Helper()

	w := st.start(t, planCode)
	defer w.Body.Close()

	if w.StatusCode != want {
		t.Fatalf("starting subscription: status code %s, want %d", w.Status, want)
	}
}

func (st *subscriptionTest) currentOK(t *testing.T) currentResponse {
	t.Helper()

	w, err := st.Client().Get(st.URL + "/subscriptions/current")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("can't fetch current subscription: status code %s", w.Status)
	}

	var out currentResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("cannot unmarshal current subscription: %v", err)
	}
	return out
}

func (st *subscriptionTest) wantRole(t *testing.T, userID string, role string, want bool) {
	t.Helper()

	var roles pq.StringArray
	if err := st.DB.Get(&roles, "SELECT roles FROM users WHERE user_id = $1", userID); err != nil {
		t.Fatalf("querying roles: %v", err)
	}

	got := false
	for _, r := range roles {
		if r == role {
			got = true
		}
	}
	if got != want {
		t.Fatalf("user has role %s = %v, want %v (roles: %v)", role, got, want, roles)
	}
}
