package domain

import (
	"time"

	"github.com/google/uuid"
)

// CartStatus enumerates lifecycle states of a checkout session.
type CartStatus string

const (
	CartStatusInCheckout CartStatus = "in_checkout"
	CartStatusAbandoned  CartStatus = "abandoned"
	CartStatusPurchased  CartStatus = "purchased"
	CartStatusExpired    CartStatus = "expired"
)

// LineItem is one product line inside a cart.
type LineItem struct {
	Title    string
	Quantity int
	Price    float64
}

// Cart models one checkout session. It is owned by the checkout ingestion
// path; the recovery pipeline only reads it and flips its status.
type Cart struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	CheckoutID       string
	Status           CartStatus
	StatusReason     string
	TotalAmount      float64
	Currency         string
	CustomerID       *string
	CustomerName     string
	Phone            string
	Email            string
	ShippingCountry  string
	ShippingProvince string
	DiscountCodes    []string
	LineItems        []LineItem
	LastActivityAt   time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsReturningCustomer reports whether the cart belongs to a known customer.
// A cart with an external customer id is treated as returning.
func (c *Cart) IsReturningCustomer() bool {
	return c.CustomerID != nil && *c.CustomerID != ""
}
