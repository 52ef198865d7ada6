package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultItemImage = "/images/sample.jpg"

// Product holds the inventory-relevant counters of a catalog row.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
	Stock    int    `json:"stock"`
	Reserved int    `json:"reserved"`
}

func (p Product) Available() int { return p.Stock - p.Reserved }

// CartLine is one line of a user's cart; UnitPrice was captured when the
// product was added.
type CartLine struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// LineItem is the snapshot stored with the order. It is never refreshed from
// the product row.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Image     string          `json:"image"`
}

type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type PaymentResult struct {
	ExternalID     string `json:"id"`
	ExternalStatus string `json:"status"`
	UpdateTime     string `json:"update_time"`
	PayerEmail     string `json:"email_address"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Items           []LineItem      `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	Status          Status          `json:"status"`
	PaymentResult   *PaymentResult  `json:"paymentResult,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
}

// Expired reports whether a pending order is eligible for cancellation at now.
func (o Order) Expired(now time.Time) bool {
	return o.Status == StatusPending && !o.ExpiresAt.After(now)
}

// Page is one page of a user's order history.
type Page struct {
	Orders     []Order `json:"orders"`
	Page       int     `json:"page"`
	TotalPages int     `json:"totalPages"`
}
