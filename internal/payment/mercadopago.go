package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/merchantorder"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	mppayment "github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/mercadopago/sdk-go/pkg/requester"
)

const DefaultBaseURL = "https://api.mercadopago.com"

// MercadoPago is a Gateway over the official SDK. Requests go through a plain
// http.Client so a failed lookup surfaces at once; the provider redelivers
// the webhook instead.
type MercadoPago struct {
	payments       mppayment.Client
	merchantOrders merchantorder.Client
	preferences    preference.Client
}

// NewMercadoPago builds the SDK clients. A baseURL other than the public API
// (a sandbox proxy, a test server) is swapped into every request.
func NewMercadoPago(baseURL, token string) (*MercadoPago, error) {
	var rq requester.Requester = &http.Client{Timeout: 10 * time.Second}
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" && baseURL != DefaultBaseURL {
		u, err := url.Parse(baseURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("mercadopago base url %q: invalid", baseURL)
		}
		rq = rebased{base: u, next: rq}
	}
	cfg, err := config.New(token, config.WithHTTPClient(rq))
	if err != nil {
		return nil, fmt.Errorf("mercadopago config: %w", err)
	}
	return &MercadoPago{
		payments:       mppayment.NewClient(cfg),
		merchantOrders: merchantorder.NewClient(cfg),
		preferences:    preference.NewClient(cfg),
	}, nil
}

func (m *MercadoPago) GetPayment(ctx context.Context, id string) (Payment, error) {
	n, err := numericID(id)
	if err != nil {
		return Payment{}, fmt.Errorf("get payment: %w", err)
	}
	r, err := m.payments.Get(ctx, n)
	if err != nil {
		return Payment{}, classify("get payment "+id, err)
	}
	p := Payment{
		ID:                FlexID(strconv.Itoa(r.ID)),
		Status:            r.Status,
		ExternalReference: r.ExternalReference,
	}
	if !r.DateApproved.IsZero() {
		at := r.DateApproved
		p.DateApproved = &at
	}
	if !r.DateLastUpdated.IsZero() {
		p.DateLastUpdated = r.DateLastUpdated.Format(time.RFC3339)
	}
	p.Payer.Email = r.Payer.Email
	return p, nil
}

func (m *MercadoPago) GetMerchantOrder(ctx context.Context, id string) (MerchantOrder, error) {
	n, err := numericID(id)
	if err != nil {
		return MerchantOrder{}, fmt.Errorf("get merchant order: %w", err)
	}
	r, err := m.merchantOrders.Get(ctx, n)
	if err != nil {
		return MerchantOrder{}, classify("get merchant order "+id, err)
	}
	mo := MerchantOrder{ID: FlexID(strconv.Itoa(r.ID))}
	for _, p := range r.Payments {
		mo.Payments = append(mo.Payments, MerchantOrderPayment{ID: FlexID(strconv.Itoa(p.ID)), Status: p.Status})
	}
	return mo, nil
}

func (m *MercadoPago) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	body := preference.Request{
		BackURLs: &preference.BackURLsRequest{
			Success: req.BackURLs.Success,
			Failure: req.BackURLs.Failure,
			Pending: req.BackURLs.Pending,
		},
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
	}
	for _, it := range req.Items {
		body.Items = append(body.Items, preference.ItemRequest{
			ID:          it.ID,
			Title:       it.Title,
			Description: it.Description,
			PictureURL:  it.PictureURL,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			CurrencyID:  it.CurrencyID,
		})
	}
	if req.Payer != nil {
		body.Payer = &preference.PayerRequest{Email: req.Payer.Email}
	}

	r, err := m.preferences.Create(ctx, body)
	if err != nil {
		return Preference{}, classify("create preference", err)
	}
	return Preference{ID: r.ID, InitPoint: r.InitPoint}, nil
}

// classify sorts SDK failures into unavailable (redelivery may help) and
// unusable responses.
func classify(op string, err error) error {
	var re *mperror.ResponseError
	var ue *url.Error
	switch {
	case errors.As(err, &re):
		switch {
		case re.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, orders.ErrNotFound)
		case re.StatusCode >= 500 || re.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: status %d", op, ErrGatewayUnavailable, re.StatusCode)
		}
		return fmt.Errorf("%s: %w: status %d: %s", op, ErrGatewayResponse, re.StatusCode, truncate(re.Message))
	case errors.As(err, &ue), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, ErrGatewayUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrGatewayResponse, err)
}

// The SDK addresses payments and merchant orders by integer id.
func numericID(id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: id %q is not numeric", ErrGatewayResponse, id)
	}
	return n, nil
}

// rebased points SDK requests, built against the public API host, at base.
type rebased struct {
	base *url.URL
	next requester.Requester
}

func (r rebased) Do(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = r.base.Scheme
	req.URL.Host = r.base.Host
	req.URL.Path = r.base.Path + req.URL.Path
	req.Host = ""
	return r.next.Do(req)
}

func truncate(s string) string {
	const n = 256
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
