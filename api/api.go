package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/irsalhamdi/marketplace-api/api/background"
	"github.com/irsalhamdi/marketplace-api/api/middleware"
	"github.com/irsalhamdi/marketplace-api/api/web"
	"github.com/irsalhamdi/marketplace-api/config"
	"github.com/irsalhamdi/marketplace-api/core/auth"
	"github.com/irsalhamdi/marketplace-api/core/checkout"
	"github.com/irsalhamdi/marketplace-api/core/fulfillment"
	"github.com/irsalhamdi/marketplace-api/core/order"
	"github.com/irsalhamdi/marketplace-api/core/payment"
	"github.com/irsalhamdi/marketplace-api/core/product"
	"github.com/irsalhamdi/marketplace-api/core/subscription"
	"github.com/irsalhamdi/marketplace-api/core/user"
	"github.com/irsalhamdi/marketplace-api/database"
	"github.com/irsalhamdi/marketplace-api/notify"
	"github.com/irsalhamdi/marketplace-api/rate"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

type APIConfig struct {
	CorsOrigin       string
	Log              logrus.FieldLogger
	DB               *sqlx.DB
	Session          *scs.SessionManager
	Background       *background.Background
	Paypal           *paypal.Client
	Stripe           *stripecl.API
	StripeCfg        config.Stripe
	Publisher        notify.Publisher
	Providers        map[string]auth.Provider
	LoginRedirectURL string
	LoginLimiter     *rate.Limiter
	WebhookLimiter   *rate.Limiter
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, auth.LoadAndSave(cfg.Session))
	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	authen := auth.Authenticate(cfg.Session)
	admin := auth.Admin(cfg.Session)
	courier := auth.Courier(cfg.Session)
	seller := auth.Seller(cfg.Session)

	a.Handle(http.MethodPost, "/auth/signup", auth.HandleSignup(cfg.DB, cfg.Session), middleware.RateLimit(cfg.LoginLimiter))
	a.Handle(http.MethodPost, "/auth/login", auth.HandleLogin(cfg.DB, cfg.Session), middleware.RateLimit(cfg.LoginLimiter))
	a.Handle(http.MethodPost, "/auth/logout", auth.HandleLogout(cfg.Session))
	a.Handle(http.MethodGet, "/auth/oauth-login/{provider}", auth.HandleOauthLogin(cfg.Session, cfg.Providers))
	a.Handle(http.MethodGet, "/auth/oauth-callback/{provider}", auth.HandleOauthCallback(cfg.DB, cfg.Session, cfg.Providers, cfg.LoginRedirectURL))

	a.Handle(http.MethodGet, "/users", user.HandleList(cfg.DB), authen, admin)
	a.Handle(http.MethodGet, "/users/current", user.HandleShowCurrent(cfg.DB), authen)

	a.Handle(http.MethodGet, "/products", product.HandleList(cfg.DB))
	a.Handle(http.MethodGet, "/products/{id}", product.HandleShow(cfg.DB))
	a.Handle(http.MethodPost, "/products", product.HandleCreate(cfg.DB), authen, seller)

	a.Handle(http.MethodPost, "/orders", order.HandleCreate(cfg.DB), authen)
	a.Handle(http.MethodGet, "/orders/{id}", order.HandleShow(cfg.DB), authen)
	a.Handle(http.MethodPost, "/orders/{id}/checkout",
		checkout.HandleCheckout(cfg.DB, cfg.Log, cfg.Stripe, cfg.Paypal, cfg.Publisher, cfg.Background, cfg.StripeCfg), authen)
	a.Handle(http.MethodPost, "/orders/paypal/{id}/capture",
		checkout.HandlePaypalCapture(cfg.DB, cfg.Log, cfg.Paypal, cfg.Publisher, cfg.Background), authen)

	a.Handle(http.MethodPost, "/webhooks/payment",
		payment.HandleWebhook(cfg.DB, cfg.Log, cfg.Publisher, cfg.Background, cfg.StripeCfg),
		middleware.RateLimit(cfg.WebhookLimiter))

	a.Handle(http.MethodPost, "/couriers/take/{order_id}", fulfillment.HandleTake(cfg.DB), authen, courier)
	a.Handle(http.MethodPatch, "/couriers/{order_id}/status",
		fulfillment.HandleUpdateStatus(cfg.DB, cfg.Publisher, cfg.Background), authen, courier)

	a.Handle(http.MethodPost, "/subscriptions/start",
		subscription.HandleStart(cfg.DB, cfg.Stripe, cfg.StripeCfg), authen)
	a.Handle(http.MethodGet, "/subscriptions/current", subscription.HandleShowCurrent(cfg.DB), authen)

	a.Handle(http.MethodGet, "/health", handleHealth(cfg.DB))
	a.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return a.Router
}

func handleHealth(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		if err := database.StatusCheck(ctx, db); err != nil {
			return web.Respond(ctx, w, map[string]string{"status": "db unreachable"}, http.StatusServiceUnavailable)
		}
		return web.Respond(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
	}
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware([]web.Middleware{middleware.Metrics(path)}, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
