package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-order-lifecycle/internal/expiry"
	"github.com/ariefcatur/go-order-lifecycle/internal/inventory"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/ariefcatur/go-order-lifecycle/internal/payment"
	"github.com/ariefcatur/go-order-lifecycle/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxWebhookBody  = 1 << 20

	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderCronSecret     = "x-cron-secret"
	HeaderSignature      = "x-signature"
	HeaderRequestID      = "x-request-id"
)

type OrdersHandler struct {
	Coordinator *inventory.Coordinator
	Store       orders.Store
	Confirmer   *payment.Confirmer
	Checkout    *payment.Checkout
	Webhooks    *payment.Handler
	Sweeper     *expiry.Sweeper

	// Idempotency is optional; without it Idempotency-Key is ignored.
	Idempotency *redisx.Idempotency
	// Notifications, when set, receives webhook events instead of handling
	// them inline.
	Notifications orders.Publisher

	CronSecret    string
	WebhookSecret string
	Service       string
	Log           *zap.Logger
}

type CreateOrderReq struct {
	ShippingAddress orders.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
}

type PreferenceResp struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type SweepResp struct {
	Msg       string `json:"msg"`
	Cancelled int    `json:"cancelled"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/webhook/mercadopago", h.webhook)
		r.Get("/trigger-cron", h.triggerCron)
		r.Post("/trigger-cron", h.triggerCron)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)
			r.Post("/", h.createOrder)
			r.Get("/myorders", h.myOrders)
			r.Get("/{id}", h.getOrder)
			r.Put("/{id}/pay", h.payOrder)
			r.Post("/{id}/create-payment-preference", h.createPreference)
		})
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.PaymentMethod == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing paymentMethod"})
		return
	}
	caller := callerFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	idemKey := r.Header.Get(HeaderIdempotencyKey)
	if h.Idempotency != nil && idemKey != "" {
		orderID, claimed, err := h.Idempotency.Claim(ctx, caller.UserID, idemKey)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "request with this Idempotency-Key is in progress"})
			return
		case err != nil:
			// redis is an accelerator here, the order path does not depend on it
			h.log().Warn("idempotency claim", zap.Error(err))
			idemKey = ""
		case !claimed:
			o, err := h.Store.GetOrder(ctx, orderID)
			if err != nil {
				writeError(w, h.log(), err)
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusOK, o)
			return
		}
	} else {
		idemKey = ""
	}

	o, err := h.Coordinator.CreateOrder(ctx, inventory.CreateOrderInput{
		UserID:          caller.UserID,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if idemKey != "" {
		// the request context may already be done; settle the key regardless
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err != nil {
			_ = h.Idempotency.Abandon(sctx, caller.UserID, idemKey)
		} else if ierr := h.Idempotency.Complete(sctx, caller.UserID, idemKey, o.ID); ierr != nil {
			h.log().Warn("idempotency complete", zap.String("order_id", o.ID), zap.Error(ierr))
		}
		scancel()
	}
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := atoiDefault(q.Get("pageNumber"), 1)
	if v := q.Get("page"); v != "" {
		page = atoiDefault(v, 1)
	}
	if page < 1 {
		page = 1
	}
	size := atoiDefault(q.Get("pageSize"), defaultPageSize)
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	// past this page the row offset overflows; every such page is empty anyway
	page = min(page, math.MaxInt/size)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, total, err := h.Store.ListOrdersByUser(ctx, callerFrom(ctx).UserID, page, size)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, orders.Page{
		Orders:     list,
		Page:       page,
		TotalPages: (total + size - 1) / size,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	if c := callerFrom(ctx); o.UserID != c.UserID && !c.IsAdmin() {
		writeError(w, h.log(), fmt.Errorf("order %s: %w", o.ID, orders.ErrUnauthorized))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) payOrder(w http.ResponseWriter, r *http.Request) {
	var in payment.ManualPayment
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, _, err := h.Confirmer.PayManually(ctx, callerFrom(ctx).UserID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) createPreference(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p, err := h.Checkout.CreatePreference(ctx, callerFrom(ctx).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, PreferenceResp{ID: p.ID, InitPoint: p.InitPoint})
}

// webhook acknowledges with 200 unless retrying the same delivery could help.
func (h *OrdersHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	q := r.URL.Query()
	n, ok := payment.ParseNotification(body, q)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"msg": "event ignored"})
		return
	}

	if h.WebhookSecret != "" {
		dataID := q.Get("data.id")
		if dataID == "" {
			dataID = n.ResourceID
		}
		err := payment.VerifySignature(h.WebhookSecret, r.Header.Get(HeaderSignature), r.Header.Get(HeaderRequestID), dataID)
		if err != nil {
			h.log().Warn("webhook signature rejected", zap.String("resource_id", n.ResourceID), zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if h.Notifications != nil {
		if err := payment.Enqueue(ctx, h.Notifications, h.Service, n); err != nil {
			h.log().Error("enqueue notification", zap.String("resource_id", n.ResourceID), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "notification not queued"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"msg": "queued"})
		return
	}

	outcome, err := h.Webhooks.Handle(ctx, n)
	if orders.Retryable(err) {
		// a lost race is transient; only a 5xx makes the gateway redeliver
		h.log().Warn("webhook conflict", zap.String("resource_id", n.ResourceID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "conflict, retry later"})
		return
	}
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": outcome.String()})
}

func (h *OrdersHandler) triggerCron(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(HeaderCronSecret)
	if h.CronSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.CronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	n, err := h.Sweeper.SweepOnce(r.Context())
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResp{Msg: "expired orders cancelled", Cancelled: n})
}

func (h *OrdersHandler) log() *zap.Logger {
	if h.Log != nil {
		return h.Log
	}
	return zap.NewNop()
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
