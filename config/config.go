package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Web    Web
	DB     DB
	Cors   Cors
	Oauth  Oauth
	Stripe Stripe
	Paypal Paypal
	AMQP   AMQP
	Rate   Rate
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type DB struct {
	User       string `conf:"default:postgres"`
	Password   string `conf:"default:postgres,mask"`
	Host       string `conf:"default:localhost"`
	Name       string `conf:"default:marketplace"`
	DisableTLS bool   `conf:"default:true"`
}

type Cors struct {
	Origin string `conf:"default:"`
}

type Oauth struct {
	DiscoveryTimeout time.Duration `conf:"default:30s"`
	LoginRedirectURL string        `conf:"default:http://localhost:3000"`
	Google           OauthProvider
}

type OauthProvider struct {
	Client      string `conf:"default:"`
	Secret      string `conf:"default:,mask"`
	URL         string `conf:"default:https://accounts.google.com"`
	RedirectURL string `conf:"default:http://localhost:8000/auth/oauth-callback/google"`
}

type Stripe struct {
	APISecret     string        `conf:"default:,mask"`
	WebhookSecret string        `conf:"default:,mask"`
	SuccessURL    string        `conf:"default:http://localhost:3000/checkout/success"`
	CancelURL     string        `conf:"default:http://localhost:3000/checkout/cancel"`
	Timeout       time.Duration `conf:"default:10s"`

	// Plans maps a plan code to the gateway price id, encoded as
	// "code:price_id" pairs separated by commas.
	Plans string `conf:"default:seller-pro:price_seller_pro_monthly"`
}

// PlanPrice resolves a plan code to its gateway price id.
func (s Stripe) PlanPrice(code string) (string, bool) {
	for _, pair := range strings.Split(s.Plans, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && k == code {
			return v, true
		}
	}
	return "", false
}

type Paypal struct {
	ClientID string `conf:"default:"`
	Secret   string `conf:"default:,mask"`
	URL      string `conf:"default:https://api.sandbox.paypal.com"`
}

type AMQP struct {
	URL string `conf:"default:"`
}

type Rate struct {
	LoginRPS     float64 `conf:"default:1"`
	LoginBurst   int     `conf:"default:5"`
	WebhookRPS   float64 `conf:"default:50"`
	WebhookBurst int     `conf:"default:100"`
	Expiry       int     `conf:"default:30"`
}

// URI builds the postgres connection string.
func (db DB) URI() string {
	sslmode := "require"
	if db.DisableTLS {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s&timezone=utc",
		db.User, db.Password, db.Host, db.Name, sslmode)
}
