package order

import "time"

type Status string

const (
	Pending   Status = "pending"
	Paid      Status = "paid"
	Shipped   Status = "shipped"
	Delivered Status = "delivered"
	Canceled  Status = "canceled"
)

type PaymentStatus string

const (
	PaymentPending        PaymentStatus = "pending"
	PaymentRequiresAction PaymentStatus = "requires_action"
	PaymentSucceeded      PaymentStatus = "succeeded"
	PaymentCanceled       PaymentStatus = "canceled"
	PaymentFailed         PaymentStatus = "failed"
)

type Method string

const (
	MethodCard   Method = "card"
	MethodPaypal Method = "paypal"
)

// Order is created pending by a buyer; every later status transition is
// owned by the payment reconciler or the fulfillment state machine.
// Total is an immutable snapshot: sum(item.UnitPrice * item.Quantity).
type Order struct {
	ID        string    `json:"id" db:"order_id"`
	BuyerID   string    `json:"buyerId" db:"buyer_id"`
	Status    Status    `json:"status" db:"status"`
	Total     int64     `json:"total" db:"total"`
	OrderDate time.Time `json:"orderDate" db:"order_date"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type Item struct {
	OrderID   string `json:"orderId" db:"order_id"`
	ProductID string `json:"productId" db:"product_id"`
	Quantity  int    `json:"quantity" db:"quantity"`
	UnitPrice int64  `json:"unitPrice" db:"unit_price"`
}

// Payment is the 1:1 money-side record of an order. ProviderPaymentID is
// the external correlation key (the checkout session id) used to collapse
// duplicate gateway events.
type Payment struct {
	ID                string        `json:"id" db:"payment_id"`
	OrderID           string        `json:"orderId" db:"order_id"`
	Amount            int64         `json:"amount" db:"amount"`
	Currency          string        `json:"currency" db:"currency"`
	Method            Method        `json:"method" db:"method"`
	Provider          string        `json:"provider" db:"provider"`
	ProviderPaymentID *string       `json:"providerPaymentId" db:"provider_payment_id"`
	Status            PaymentStatus `json:"status" db:"status"`
	PaymentDate       *time.Time    `json:"paymentDate" db:"payment_date"`
	CreatedAt         time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time     `json:"updatedAt" db:"updated_at"`
}

type ItemNew struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type OrderNew struct {
	Items         []ItemNew `json:"items" validate:"required,min=1,dive"`
	PaymentMethod Method    `json:"paymentMethod" validate:"required,oneof=card paypal"`
}

// Summary is what order creation returns to the buyer.
type Summary struct {
	ID            string `json:"id"`
	Total         int64  `json:"total"`
	Items         []Item `json:"items"`
	PaymentMethod Method `json:"paymentMethod"`
}

type StatusUp struct {
	ID        string    `db:"order_id"`
	Status    Status    `db:"status"`
	UpdatedAt time.Time `db:"updated_at"`
}
