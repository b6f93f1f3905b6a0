package payments

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"erp/ecommerce/storepro/internal/auth"
	"erp/ecommerce/storepro/internal/orders"
	"erp/ecommerce/storepro/internal/platform/httpx"
)

// maxWebhookBytes bounds a Stripe event payload.
const maxWebhookBytes = 65536

type Handler struct {
	svc   *Service
	guard *auth.Guard
	rp    httpx.Responder
}

func NewHandler(svc *Service, guard *auth.Guard, rp httpx.Responder) *Handler {
	return &Handler{svc: svc, guard: guard, rp: rp}
}

// Routes mounts /payments. The webhook is authenticated by its signature.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhook", h.webhook)
	r.With(h.guard.Authenticate).Post("/create-checkout", h.createCheckout)
}

func (h *Handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req orders.PlaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	actor, _ := auth.UserFrom(r.Context())
	res, err := h.svc.CreateCheckout(r.Context(), actor, req)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to create checkout session")
		return
	}
	h.rp.OK(w, http.StatusOK, "", res)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.rp.Fail(w, r, httpx.Wrap("payments.Webhook", httpx.ErrValidation, "unreadable payload", err), "")
		return
	}
	if err := h.svc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.rp.Fail(w, r, err, "webhook processing failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
