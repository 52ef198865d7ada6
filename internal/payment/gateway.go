package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

const StatusApproved = "approved"

var (
	// ErrGatewayUnavailable covers transport failures and 5xx answers; a
	// later retry may succeed.
	ErrGatewayUnavailable = fmt.Errorf("%w: gateway unavailable", orders.ErrExternalService)
	// ErrGatewayResponse covers answers that retrying will not change.
	ErrGatewayResponse = fmt.Errorf("%w: unexpected gateway response", orders.ErrExternalService)
)

// Gateway is the subset of the payment provider API the order lifecycle
// needs. Payment lookups are the only source of truth for payment status.
type Gateway interface {
	GetPayment(ctx context.Context, id string) (Payment, error)
	GetMerchantOrder(ctx context.Context, id string) (MerchantOrder, error)
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
}

type Payment struct {
	ID                FlexID     `json:"id"`
	Status            string     `json:"status"`
	ExternalReference string     `json:"external_reference"`
	DateApproved      *time.Time `json:"date_approved"`
	DateLastUpdated   string     `json:"date_last_updated"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
}

type MerchantOrder struct {
	ID       FlexID                 `json:"id"`
	Payments []MerchantOrderPayment `json:"payments"`
}

type MerchantOrderPayment struct {
	ID     FlexID `json:"id"`
	Status string `json:"status"`
}

type PreferenceItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	PictureURL  string  `json:"picture_url,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	Payer             *PreferencePayer `json:"payer,omitempty"`
	BackURLs          BackURLs         `json:"back_urls"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url"`
}

type PreferencePayer struct {
	Email string `json:"email"`
}

type Preference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// FlexID accepts an identifier sent either as a JSON string or a number.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id %s: %w", n, err)
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }
