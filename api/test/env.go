package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/irsalhamdi/marketplace-api/api"
	"github.com/irsalhamdi/marketplace-api/api/background"
	"github.com/irsalhamdi/marketplace-api/api/web"
	"github.com/irsalhamdi/marketplace-api/config"
	"github.com/irsalhamdi/marketplace-api/core/claims"
	"github.com/irsalhamdi/marketplace-api/core/user"
	"github.com/irsalhamdi/marketplace-api/database"
	"github.com/irsalhamdi/marketplace-api/notify"
	"github.com/irsalhamdi/marketplace-api/rate"
	"github.com/irsalhamdi/marketplace-api/validate"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
	mock "github.com/stripe/stripe-mock/param"
	"golang.org/x/crypto/bcrypt"
)

const (
	TestPass      = "gophers-rule-8"
	WebhookSecret = "whsec_test_secret"
)

type TestEnv struct {
	T      *testing.T
	DB     *sqlx.DB
	Server *httptest.Server
	URL    string

	Stripe *MockStripe
	Paypal *MockPaypal

	Buyer   user.User
	Seller  user.User
	Courier user.User
	Admin   user.User

	WebhookSecret string

	client *http.Client
}

// NewTestEnv spins a throwaway postgres container, migrates the schema,
// seeds one user per role and serves the full API against mock gateways.
func NewTestEnv(t *testing.T, name string) (*TestEnv, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("connecting to docker: %w", err)
	}

	res, err := pool.Run("postgres", "15-alpine", []string{
		"POSTGRES_USER=postgres",
		"POSTGRES_PASSWORD=postgres",
		"POSTGRES_DB=" + name,
	})
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}
	t.Cleanup(func() { pool.Purge(res) })

	cfg := config.DB{
		User:       "postgres",
		Password:   "postgres",
		Host:       "localhost:" + res.GetPort("5432/tcp"),
		Name:       name,
		DisableTLS: true,
	}

	var db *sqlx.DB
	if err := pool.Retry(func() error {
		db, err = database.Open(cfg)
		if err != nil {
			return err
		}
		return db.Ping()
	}); err != nil {
		return nil, fmt.Errorf("waiting for postgres: %w", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger := logrus.New()

	mockStripe := NewMockStripe()
	stripeSrv := httptest.NewServer(mockStripe.Handle())
	t.Cleanup(stripeSrv.Close)

	mockPaypal := &MockPaypal{}
	paypalSrv := httptest.NewServer(mockPaypal.Handle())
	t.Cleanup(paypalSrv.Close)

	strp := &stripecl.API{}
	strp.Init("sk_test_123", &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL: stripe.String(stripeSrv.URL),
		}),
	})

	pp, err := paypal.NewClient("client", "secret", paypalSrv.URL)
	if err != nil {
		return nil, fmt.Errorf("building paypal client: %w", err)
	}
	if _, err := pp.GetAccessToken(context.Background()); err != nil {
		return nil, fmt.Errorf("getting paypal token: %w", err)
	}

	session := scs.New()
	session.Lifetime = time.Hour

	stripeCfg := config.Stripe{
		WebhookSecret: WebhookSecret,
		SuccessURL:    "http://localhost/success",
		CancelURL:     "http://localhost/cancel",
		Plans:         "seller-pro:price_seller_pro_test",
	}

	env := &TestEnv{
		T:             t,
		DB:            db,
		Stripe:        mockStripe,
		Paypal:        mockPaypal,
		WebhookSecret: WebhookSecret,
	}

	env.Buyer, err = env.seedUser("buyer@test.io", claims.RoleUser)
	if err != nil {
		return nil, err
	}
	env.Seller, err = env.seedUser("seller@test.io", claims.RoleSeller)
	if err != nil {
		return nil, err
	}
	env.Courier, err = env.seedUser("courier@test.io", claims.RoleCourier)
	if err != nil {
		return nil, err
	}
	env.Admin, err = env.seedUser("admin@test.io", claims.RoleAdmin)
	if err != nil {
		return nil, err
	}

	mux := api.APIMux(api.APIConfig{
		Log:            logger,
		DB:             db,
		Session:        session,
		Background:     background.New(logger),
		Paypal:         pp,
		Stripe:         strp,
		StripeCfg:      stripeCfg,
		Publisher:      notify.LogPublisher{Log: logger},
		LoginLimiter:   rate.NewLimiter(1000, 100, 1000),
		WebhookLimiter: rate.NewLimiter(1000, 100, 1000),
	})

	env.Server = httptest.NewServer(mux)
	t.Cleanup(env.Server.Close)
	env.URL = env.Server.URL

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("building cookie jar: %w", err)
	}
	env.client = &http.Client{Jar: jar}

	return env, nil
}

func (e *TestEnv) seedUser(email string, role string) (user.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(TestPass), bcrypt.MinCost)
	if err != nil {
		return user.User{}, err
	}

	roles := []string{claims.RoleUser}
	if role != claims.RoleUser {
		roles = append(roles, role)
	}

	now := time.Now().UTC()
	usr := user.User{
		ID:           validate.GenerateID(),
		Name:         email,
		Email:        email,
		PasswordHash: string(hash),
		Roles:        roles,
		Permissions:  claims.PermissionsFor(roles),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Create(context.Background(), e.DB, usr); err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (e *TestEnv) Client() *http.Client { return e.client }

func jsonBody(s string) io.Reader { return strings.NewReader(s) }

// PostWebhook signs an event exactly as the gateway would and delivers it
// to the reconciler endpoint, returning the response status code.
func (e *TestEnv) PostWebhook(t *testing.T, eventType string, obj map[string]any) int {
	t.Helper()

	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatal(err)
	}

	evt := stripe.Event{
		APIVersion: "2022-11-15",
		Type:       eventType,
		Data: &stripe.EventData{
			Raw: json.RawMessage(raw),
		},
	}

	b, err := json.Marshal(evt)
	if err != nil {
		t.Fatal(err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   b,
		Secret:    e.WebhookSecret,
		Timestamp: time.Now(),
	})

	r, err := http.NewRequest(http.MethodPost, e.URL+"/webhooks/payment", bytes.NewBuffer(b))
	if err != nil {
		t.Fatal(err)
	}
	r.Header.Set("Stripe-Signature", signed.Header)

	w, err := e.client.Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	return w.StatusCode
}

func (e *TestEnv) Login(t *testing.T, email string) {
	t.Helper()

	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, TestPass)
	w, err := e.client.Post(e.URL+"/auth/login", "application/json", jsonBody(body))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("login as %s: status code %s", email, w.Status)
	}
}

func (e *TestEnv) Logout(t *testing.T) {
	t.Helper()

	w, err := e.client.Post(e.URL+"/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Body.Close()
}

// MockStripe is a stateful stand-in for the gateway: sessions it creates
// can be flipped to paid to simulate a completed payment.
type MockStripe struct {
	mu       sync.Mutex
	counter  int
	sessions map[string]*MockSession
}

type MockSession struct {
	ID     string
	URL    string
	Mode   string
	Amount int64 // line item total as presented to the gateway
	Paid   bool
}

func NewMockStripe() *MockStripe {
	return &MockStripe{sessions: map[string]*MockSession{}}
}

// MarkPaid flips a session to paid, as the real gateway would after the
// buyer completes the hosted checkout.
func (m *MockStripe) MarkPaid(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Paid = true
	}
}

// SessionAmount reports the line item total a session was created with.
func (m *MockStripe) SessionAmount(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Amount
	}
	return -1
}

func (m *MockStripe) Handle() http.Handler {
	create := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := mock.ParseParams(r)
		if err != nil {
			web.Respond(context.Background(), w, nil, http.StatusBadRequest)
			return
		}

		mode, _ := params["mode"].(string)

		// Subscription sessions reference a price id, payment sessions
		// carry inline price data; only the latter has an amount here.
		var amount int64
		if lines, ok := params["line_items"].(map[string]any); ok {
			for _, li := range lines {
				it, ok := li.(map[string]any)
				if !ok {
					continue
				}

				qty := int64(1)
				if qs, ok := it["quantity"].(string); ok {
					if v, err := strconv.ParseInt(qs, 10, 64); err == nil {
						qty = v
					}
				}

				pd, ok := it["price_data"].(map[string]any)
				if !ok {
					continue
				}
				if us, ok := pd["unit_amount"].(string); ok {
					v, err := strconv.ParseInt(us, 10, 64)
					if err != nil {
						web.Respond(context.Background(), w, nil, http.StatusBadRequest)
						return
					}
					amount += v * qty
				}
			}
		}

		m.mu.Lock()
		m.counter++
		s := &MockSession{
			ID:     fmt.Sprintf("cs_test_%d", m.counter),
			Mode:   mode,
			Amount: amount,
		}
		s.URL = "https://pay.example/" + s.ID
		m.sessions[s.ID] = s
		m.mu.Unlock()

		m.respondSession(w, s)
	})

	get := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		s, ok := m.sessions[web.Param(r, "id")]
		m.mu.Unlock()

		if !ok {
			web.Respond(context.Background(), w, nil, http.StatusNotFound)
			return
		}
		m.respondSession(w, s)
	})

	r := mux.NewRouter()
	r.Handle("/v1/checkout/sessions", create).Methods("POST")
	r.Handle("/v1/checkout/sessions/{id}", get).Methods("GET")
	return r
}

func (m *MockStripe) respondSession(w http.ResponseWriter, s *MockSession) {
	status := "open"
	paymentStatus := "unpaid"
	if s.Paid {
		status = "complete"
		paymentStatus = "paid"
	}

	out := map[string]any{
		"id":             s.ID,
		"url":            s.URL,
		"mode":           s.Mode,
		"status":         status,
		"payment_status": paymentStatus,
	}
	web.Respond(context.Background(), w, out, http.StatusOK)
}

// MockPaypal mimics the token, create-order and capture endpoints.
type MockPaypal struct {
	mu      sync.Mutex
	counter int
}

func (m *MockPaypal) Handle() http.Handler {
	token := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{"access_token": "test-token", "expires_in": 3600}
		web.Respond(context.Background(), w, out, http.StatusOK)
	})

	create := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var pu struct {
			Units []paypal.PurchaseUnitRequest `json:"purchase_units"`
		}
		if err := json.NewDecoder(r.Body).Decode(&pu); err != nil || len(pu.Units) != 1 {
			web.Respond(context.Background(), w, nil, http.StatusBadRequest)
			return
		}

		m.mu.Lock()
		m.counter++
		id := fmt.Sprintf("paypal-%d", m.counter)
		m.mu.Unlock()

		web.Respond(context.Background(), w, paypal.Order{ID: id}, http.StatusOK)
	})

	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ord := paypal.Order{Status: "COMPLETED"}
		web.Respond(context.Background(), w, ord, http.StatusOK)
	})

	r := mux.NewRouter()
	r.Handle("/v1/oauth2/token", token).Methods("POST")
	r.Handle("/v2/checkout/orders", create).Methods("POST")
	r.Handle("/v2/checkout/orders/{id}/capture", capture).Methods("POST")
	return r
}
