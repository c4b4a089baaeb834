package product

import "time"

// Product is the catalog collaborator seen by the order ledger: price and
// stock feed order creation, everything else is presentation.
type Product struct {
	ID          string    `json:"id" db:"product_id"`
	SellerID    string    `json:"sellerId" db:"seller_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Price       int64     `json:"price" db:"price"`
	Stock       int       `json:"stock" db:"stock"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

type ProductNew struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Price       int64  `json:"price" validate:"required,gte=0"`
	Stock       int    `json:"stock" validate:"gte=0"`
}
