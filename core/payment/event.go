package payment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v74"
)

// Kind classifies the gateway events this service reacts to. Everything
// else is acknowledged and dropped so the gateway never enters a retry
// storm over events we do not care about.
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionCompleted
	KindPaymentSucceeded
	KindInvoicePaid
	KindSubscriptionChanged
)

// Event is the one internal DTO every gateway payload is normalized into
// before dispatch. Gateway payloads vary by sub-kind and version, so each
// field is extracted through an explicit fallback chain rather than ad-hoc
// probing at the dispatch sites.
type Event struct {
	Kind              Kind
	Mode              string // checkout session mode: payment | subscription
	ProviderPaymentID string // checkout session id
	ClientReference   string
	CustomerID        string
	SubscriptionID    string
	PlanCode          string
	SubscriptionState string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	UserID            string // from metadata when present
}

// idOrObject accepts both the compact form ("cus_123") and the expanded
// form ({"id": "cus_123"}) the gateway uses interchangeably.
type idOrObject string

func (v *idOrObject) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = idOrObject(s)
		return nil
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("value is neither id string nor object: %w", err)
	}
	*v = idOrObject(obj.ID)
	return nil
}

type sessionPayload struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          idOrObject        `json:"customer"`
	Subscription      idOrObject        `json:"subscription"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type invoicePayload struct {
	Customer     idOrObject `json:"customer"`
	CustomerID   string     `json:"customer_id"`
	Subscription idOrObject `json:"subscription"`
	PeriodStart  int64      `json:"period_start"`
	PeriodEnd    int64      `json:"period_end"`
	Lines        struct {
		Data []struct {
			Subscription idOrObject `json:"subscription"`
			Period       struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	} `json:"lines"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

type subscriptionPayload struct {
	ID                 string     `json:"id"`
	Customer           idOrObject `json:"customer"`
	Status             string     `json:"status"`
	CurrentPeriodStart int64      `json:"current_period_start"`
	CurrentPeriodEnd   int64      `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	Metadata           map[string]string
	Items              struct {
		Data []struct {
			Price struct {
				ID        string `json:"id"`
				LookupKey string `json:"lookup_key"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Plan struct {
		ID string `json:"id"`
	} `json:"plan"`
}

func unix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Normalize classifies a verified gateway event and extracts the fields
// dispatch needs, falling back through the known payload aliases.
func Normalize(evt stripe.Event) (Event, error) {
	switch evt.Type {
	case "checkout.session.completed":
		var p sessionPayload
		if err := json.Unmarshal(evt.Data.Raw, &p); err != nil {
			return Event{}, fmt.Errorf("decoding session payload: %w", err)
		}
		return Event{
			Kind:              KindSessionCompleted,
			Mode:              p.Mode,
			ProviderPaymentID: p.ID,
			ClientReference:   p.ClientReferenceID,
			CustomerID:        string(p.Customer),
			SubscriptionID:    string(p.Subscription),
			UserID:            firstNonEmpty(p.Metadata["user_id"], p.ClientReferenceID),
			PlanCode:          p.Metadata["plan_code"],
		}, nil

	case "payment_intent.succeeded":
		var p struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(evt.Data.Raw, &p); err != nil {
			return Event{}, fmt.Errorf("decoding payment intent payload: %w", err)
		}
		// The session id is the stored correlation key; the intent
		// only carries it via metadata when we put it there.
		return Event{
			Kind:              KindPaymentSucceeded,
			ProviderPaymentID: firstNonEmpty(p.Metadata["checkout_session"], p.ID),
		}, nil

	case "invoice.paid":
		var p invoicePayload
		if err := json.Unmarshal(evt.Data.Raw, &p); err != nil {
			return Event{}, fmt.Errorf("decoding invoice payload: %w", err)
		}

		out := Event{
			Kind:              KindInvoicePaid,
			CustomerID:        firstNonEmpty(string(p.Customer), p.CustomerID),
			SubscriptionID:    string(p.Subscription),
			SubscriptionState: "active",
			PeriodStart:       unix(p.PeriodStart),
			PeriodEnd:         unix(p.PeriodEnd),
			UserID:            p.SubscriptionDetails.Metadata["user_id"],
			PlanCode:          p.SubscriptionDetails.Metadata["plan_code"],
		}
		if len(p.Lines.Data) > 0 {
			line := p.Lines.Data[0]
			out.SubscriptionID = firstNonEmpty(out.SubscriptionID, string(line.Subscription))
			if !unix(line.Period.End).IsZero() {
				out.PeriodStart = unix(line.Period.Start)
				out.PeriodEnd = unix(line.Period.End)
			}
			out.UserID = firstNonEmpty(out.UserID, line.Metadata["user_id"])
			out.PlanCode = firstNonEmpty(out.PlanCode, line.Metadata["plan_code"])
		}
		return out, nil

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var p subscriptionPayload
		if err := json.Unmarshal(evt.Data.Raw, &p); err != nil {
			return Event{}, fmt.Errorf("decoding subscription payload: %w", err)
		}

		planCode := p.Metadata["plan_code"]
		if planCode == "" && len(p.Items.Data) > 0 {
			planCode = firstNonEmpty(p.Items.Data[0].Price.LookupKey, p.Items.Data[0].Price.ID)
		}
		if planCode == "" {
			planCode = p.Plan.ID
		}

		state := p.Status
		if evt.Type == "customer.subscription.deleted" {
			state = "canceled"
		}

		return Event{
			Kind:              KindSubscriptionChanged,
			SubscriptionID:    p.ID,
			CustomerID:        string(p.Customer),
			SubscriptionState: state,
			PlanCode:          planCode,
			PeriodStart:       unix(p.CurrentPeriodStart),
			PeriodEnd:         unix(p.CurrentPeriodEnd),
			UserID:            p.Metadata["user_id"],
		}, nil
	}

	return Event{Kind: KindUnknown}, nil
}

// UnmarshalJSON for subscriptionPayload tolerates metadata arriving as
// either an object or null.
func (p *subscriptionPayload) UnmarshalJSON(b []byte) error {
	type alias subscriptionPayload
	var a struct {
		alias
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = subscriptionPayload(a.alias)

	p.Metadata = map[string]string{}
	if len(a.Metadata) > 0 && string(a.Metadata) != "null" {
		if err := json.Unmarshal(a.Metadata, &p.Metadata); err != nil {
			return fmt.Errorf("decoding subscription metadata: %w", err)
		}
	}
	return nil
}
