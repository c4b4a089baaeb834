package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"testing"

	"github.com/irsalhamdi/marketplace-api/core/claims"
	"github.com/irsalhamdi/marketplace-api/core/fulfillment"
	"github.com/irsalhamdi/marketplace-api/core/order"
	"github.com/irsalhamdi/marketplace-api/core/product"
	"github.com/irsalhamdi/marketplace-api/validate"
	"github.com/stripe/stripe-go/v74"
)

type orderTest struct {
	*TestEnv
}

func TestOrder(t *testing.T) {
	env, err := NewTestEnv(t, "order_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}
	ot := &orderTest{env}

	ot.Login(t, ot.Seller.Email)
	mug := ot.createProductOK(t, "gopher mug", 1000, 5)
	tee := ot.createProductOK(t, "gopher tee", 500, 10)

	// A seller cannot buy from themselves.
	ot.createOrderStatus(t, order.OrderNew{
		Items:         []order.ItemNew{{ProductID: mug.ID, Quantity: 1}},
		PaymentMethod: order.MethodCard,
	}, http.StatusUnprocessableEntity)
	ot.Logout(t)

	ot.Login(t, ot.Buyer.Email)

	sum := ot.createOrderOK(t, order.OrderNew{
		Items: []order.ItemNew{
			{ProductID: mug.ID, Quantity: 1},
			{ProductID: tee.ID, Quantity: 2},
		},
		PaymentMethod: order.MethodCard,
	})
	if sum.Total != 2000 {
		t.Fatalf("order total = %d, want 2000", sum.Total)
	}

	// Stock is reserved when the order is created, before any payment.
	if got := ot.stock(t, mug.ID); got != 4 {
		t.Fatalf("mug stock after order = %d, want 4", got)
	}
	if got := ot.stock(t, tee.ID); got != 8 {
		t.Fatalf("tee stock after order = %d, want 8", got)
	}

	// Over-ordering fails atomically and leaves stock untouched.
	ot.createOrderStatus(t, order.OrderNew{
		Items:         []order.ItemNew{{ProductID: mug.ID, Quantity: 99}},
		PaymentMethod: order.MethodCard,
	}, http.StatusUnprocessableEntity)
	if got := ot.stock(t, mug.ID); got != 4 {
		t.Fatalf("mug stock after rejected order = %d, want 4", got)
	}

	// Re-entering checkout before paying yields the same session.
	url := ot.checkoutOK(t, sum.ID)
	if again := ot.checkoutOK(t, sum.ID); again != url {
		t.Fatalf("checkout re-entry brokered a new session: %q then %q", url, again)
	}

	session := path.Base(url)

	// The gateway was asked for exactly the ledger total.
	if got := ot.Stripe.SessionAmount(session); got != 2000 {
		t.Fatalf("session amount = %d, want 2000", got)
	}

	ot.Stripe.MarkPaid(session)

	sessionCompleted := map[string]any{
		"id":                  session,
		"mode":                stripe.CheckoutSessionModePayment,
		"payment_status":      "paid",
		"client_reference_id": sum.ID,
	}

	if code := ot.PostWebhook(t, "checkout.session.completed", sessionCompleted); code != http.StatusOK {
		t.Fatalf("webhook delivery: status code %d", code)
	}
	ot.wantOrderStatus(t, sum.ID, order.Paid)
	ot.wantAssignments(t, sum.ID, 1)

	// Redelivering the same event must not double-settle or re-assign.
	if code := ot.PostWebhook(t, "checkout.session.completed", sessionCompleted); code != http.StatusOK {
		t.Fatalf("webhook redelivery: status code %d", code)
	}
	ot.wantOrderStatus(t, sum.ID, order.Paid)
	ot.wantAssignments(t, sum.ID, 1)

	// A settled order is not payable again.
	ot.checkoutStatus(t, sum.ID, http.StatusConflict)
	ot.Logout(t)

	ot.Login(t, ot.Courier.Email)
	ot.updateDelivery(t, sum.ID, fulfillment.PickedUp, http.StatusOK)
	ot.wantOrderStatus(t, sum.ID, order.Shipped)

	// Repeating a state is not a legal transition.
	ot.updateDelivery(t, sum.ID, fulfillment.PickedUp, http.StatusConflict)

	ot.updateDelivery(t, sum.ID, fulfillment.Delivered, http.StatusOK)
	ot.wantOrderStatus(t, sum.ID, order.Delivered)

	// Delivered is terminal.
	ot.updateDelivery(t, sum.ID, fulfillment.Canceled, http.StatusConflict)
	ot.Logout(t)

	// Only the buyer and an admin may read the order.
	ot.Login(t, ot.Buyer.Email)
	ot.showOrderStatus(t, sum.ID, http.StatusOK)
	ot.Logout(t)

	ot.Login(t, ot.Seller.Email)
	ot.showOrderStatus(t, sum.ID, http.StatusForbidden)
	ot.Logout(t)

	ot.Login(t, ot.Admin.Email)
	ot.showOrderStatus(t, sum.ID, http.StatusOK)
	ot.Logout(t)
}

func TestCourierTake(t *testing.T) {
	env, err := NewTestEnv(t, "courier_take_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}
	ot := &orderTest{env}

	ot.Login(t, ot.Seller.Email)
	mug := ot.createProductOK(t, "gopher mug", 1000, 5)
	ot.Logout(t)

	ot.Login(t, ot.Buyer.Email)
	sum := ot.createOrderOK(t, order.OrderNew{
		Items:         []order.ItemNew{{ProductID: mug.ID, Quantity: 1}},
		PaymentMethod: order.MethodCard,
	})
	ot.Logout(t)

	ot.Login(t, ot.Courier.Email)

	// An order that does not exist cannot be taken.
	ot.takeStatus(t, validate.GenerateID(), http.StatusNotFound)

	// With no active courier accounts the order cannot be assigned.
	ot.setUserActive(t, ot.Courier.ID, false)
	ot.takeStatus(t, sum.ID, http.StatusConflict)

	ot.setUserActive(t, ot.Courier.ID, true)
	asg := ot.takeOK(t, sum.ID)
	if asg.CourierID != ot.Courier.ID {
		t.Fatalf("assignment courier = %s, want %s", asg.CourierID, ot.Courier.ID)
	}

	// The assignment is exclusive for the order's whole lifecycle.
	ot.takeStatus(t, sum.ID, http.StatusConflict)
	ot.wantAssignments(t, sum.ID, 1)
	ot.Logout(t)

	// A courier who is not the assignee may not drive the delivery.
	other, err := ot.seedUser("courier2@test.io", claims.RoleCourier)
	if err != nil {
		t.Fatal(err)
	}
	ot.Login(t, other.Email)
	ot.updateDelivery(t, sum.ID, fulfillment.PickedUp, http.StatusForbidden)
	ot.Logout(t)

	ot.Login(t, ot.Courier.Email)
	ot.updateDelivery(t, sum.ID, fulfillment.PickedUp, http.StatusOK)
	ot.Logout(t)
}

func TestOrderPaypal(t *testing.T) {
	env, err := NewTestEnv(t, "order_paypal_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}
	ot := &orderTest{env}

	ot.Login(t, ot.Seller.Email)
	mug := ot.createProductOK(t, "gopher mug", 1500, 3)
	ot.Logout(t)

	ot.Login(t, ot.Buyer.Email)
	sum := ot.createOrderOK(t, order.OrderNew{
		Items:         []order.ItemNew{{ProductID: mug.ID, Quantity: 2}},
		PaymentMethod: order.MethodPaypal,
	})

	ppID := ot.checkoutOK(t, sum.ID)

	// Re-entry returns the stored wallet order, never a fresh one.
	if again := ot.checkoutOK(t, sum.ID); again != ppID {
		t.Fatalf("paypal checkout re-entry created a new order: %q then %q", ppID, again)
	}

	// A wallet order nobody brokered cannot be captured.
	ot.capturePaypalStatus(t, "paypal-unknown", http.StatusNotFound)
	ot.Logout(t)

	// Capture is owner-gated like the card path.
	ot.Login(t, ot.Seller.Email)
	ot.capturePaypalStatus(t, ppID, http.StatusForbidden)
	ot.Logout(t)

	ot.Login(t, ot.Buyer.Email)
	ot.capturePaypalOK(t, ppID)
	ot.wantOrderStatus(t, sum.ID, order.Paid)
	ot.wantAssignments(t, sum.ID, 1)

	// A replayed capture settles nothing new.
	ot.capturePaypalOK(t, ppID)
	ot.wantAssignments(t, sum.ID, 1)
	ot.Logout(t)
}

func (ot *orderTest) createProductOK(t *testing.T, name string, price int64, stock int) product.Product {
	t.Helper()

	body := fmt.Sprintf(`{"name":%q,"price":%d,"stock":%d}`, name, price, stock)
	w, err := ot.Client().Post(ot.URL+"/products", "application/json", jsonBody(body))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusCreated {
		t.Fatalf("can't create product: status code %s", w.Status)
	}

	var prd product.Product
	if err := json.NewDecoder(w.Body).Decode(&prd); err != nil {
		t.Fatalf("cannot unmarshal created product: %v", err)
	}
	return prd
}

func (ot *orderTest) createOrder(t *testing.T, on order.OrderNew) *http.Response {
	t.Helper()

	b, err := json.Marshal(on)
	if err != nil {
		t.Fatal(err)
	}

	w, err := ot.Client().Post(ot.URL+"/orders", "application/json", bytes.NewBuffer(b))
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func (ot *orderTest) createOrderOK(t *testing.T, on order.OrderNew) order.Summary {
	t.Helper()

	w := ot.createOrder(t, on)
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("can't create order: status code %s", w.Status)
	}

	var sum order.Summary
	if err := json.NewDecoder(w.Body).Decode(&sum); err != nil {
		t.Fatalf("cannot unmarshal order summary: %v", err)
	}
	return sum
}

func (ot *orderTest) createOrderStatus(t *testing.T, on order.OrderNew, want int) {
	t.Helper()

	w := ot.createOrder(t, on)
	defer w.Body.Close()

	if w.StatusCode != want {
		t.Fatalf("creating order: status code %s, want %d", w.Status, want)
	}
}

func (ot *orderTest) checkout(t *testing.T, orderID string) *http.Response {
	t.Helper()

	w, err := ot.Client().Post(ot.URL+"/orders/"+orderID+"/checkout", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func (ot *orderTest) checkoutOK(t *testing.T, orderID string) string {
	t.Helper()

	w := ot.checkout(t, orderID)
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("can't checkout order: status code %s", w.Status)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("cannot unmarshal checkout response: %v", err)
	}
	return out.URL
}

func (ot *orderTest) checkoutStatus(t *testing.T, orderID string, want int) {
	t.Helper()

	w := ot.checkout(t, orderID)
	defer w.Body.Close()

	if w.StatusCode != want {
		t.Fatalf("checkout: status code %s, want %d", w.Status, want)
	}
}

func (ot *orderTest) capturePaypal(t *testing.T, providerID string) *http.Response {
	t.Helper()

	w, err := ot.Client().Post(ot.URL+"/orders/paypal/"+providerID+"/capture", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func (ot *orderTest) capturePaypalOK(t *testing.T, providerID string) {
	t.Helper()

	w := ot.capturePaypal(t, providerID)
	defer w.Body.Close()

	if w.StatusCode != http.StatusNoContent {
		t.Fatalf("can't capture paypal order: status code %s", w.Status)
	}
}

func (ot *orderTest) capturePaypalStatus(t *testing.T, providerID string, want int) {
	t.Helper()

	w := ot.capturePaypal(t, providerID)
	defer w.Body.Close()

	if w.StatusCode != want {
		t.Fatalf("paypal capture: status code %s, want %d", w.Status, want)
	}
}

func (ot *orderTest) take(t *testing.T, orderID string) *http.Response {
	t.Helper()

	w, err := ot.Client().Post(ot.URL+"/couriers/take/"+orderID, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func (ot *orderTest) takeOK(t *testing.T, orderID string) fulfillment.Assignment {
	t.Helper()

	w := ot.take(t, orderID)
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("can't take order: status code %s", w.Status)
	}

	var asg fulfillment.Assignment
	if err := json.NewDecoder(w.Body).Decode(&asg); err != nil {
		t.Fatalf("cannot unmarshal assignment: %v", err)
	}
	return asg
}

func (ot *orderTest) takeStatus(t *testing.T, orderID string, want int) {
	t.Helper()

	w := ot.take(t, orderID)
	defer w.Body.Close()

	if w.StatusCode != want {
		t.Fatalf("taking order: status code %s, want %d", w.Status, want)
	}
}

func (ot *orderTest) showOrderStatus(t *testing.T, orderID string, want int) {
	t.Helper()

	w, err := ot.Client().Get(ot.URL + "/orders/" + orderID)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != want {
		t.Fatalf("showing order: status code %s, want %d", w.Status, want)
	}
}

func (ot *orderTest) setUserActive(t *testing.T, userID string, active bool) {
	t.Helper()

	if _, err := ot.DB.Exec("UPDATE users SET active = $2 WHERE user_id = $1", userID, active); err != nil {
		t.Fatalf("toggling user active: %v", err)
	}
}

func (ot *orderTest) updateDelivery(t *testing.T, orderID string, to fulfillment.Status, want int) {
	t.Helper()

	body := fmt.Sprintf(`{"status":%q}`, to)
	r, err := http.NewRequest(http.MethodPatch, ot.URL+"/couriers/"+orderID+"/status", jsonBody(body))
	if err != nil {
		t.Fatal(err)
	}
	r.Header.Set("Content-Type", "application/json")

	w, err := ot.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != want {
		t.Fatalf("delivery update to %s: status code %s, want %d", to, w.Status, want)
	}
}

func (ot *orderTest) stock(t *testing.T, productID string) int {
	t.Helper()

	var stock int
	if err := ot.DB.Get(&stock, "SELECT stock FROM products WHERE product_id = $1", productID); err != nil {
		t.Fatalf("querying stock: %v", err)
	}
	return stock
}

func (ot *orderTest) wantOrderStatus(t *testing.T, orderID string, want order.Status) {
	t.Helper()

	var got order.Status
	if err := ot.DB.Get(&got, "SELECT status FROM orders WHERE order_id = $1", orderID); err != nil {
		t.Fatalf("querying order status: %v", err)
	}
	if got != want {
		t.Fatalf("order status = %s, want %s", got, want)
	}
}

func (ot *orderTest) wantAssignments(t *testing.T, orderID string, want int) {
	t.Helper()

	var n int
	if err := ot.DB.Get(&n, "SELECT COUNT(*) FROM courier_assignments WHERE order_id = $1", orderID); err != nil {
		t.Fatalf("counting assignments: %v", err)
	}
	if n != want {
		t.Fatalf("order has %d courier assignments, want %d", n, want)
	}

	if want == 1 {
		var courierID string
		if err := ot.DB.Get(&courierID, "SELECT courier_id FROM courier_assignments WHERE order_id = $1", orderID); err != nil {
			t.Fatalf("querying assignment: %v", err)
		}
		if courierID != ot.Courier.ID {
			t.Fatalf("assigned courier = %s, want %s", courierID, ot.Courier.ID)
		}
	}
}
