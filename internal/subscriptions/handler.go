package subscriptions

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"erp/ecommerce/storepro/internal/auth"
	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
)

const maxWebhookBytes = 65536

type Handler struct {
	svc   *Service
	guard *auth.Guard
	rp    httpx.Responder
}

func NewHandler(svc *Service, guard *auth.Guard, rp httpx.Responder) *Handler {
	return &Handler{svc: svc, guard: guard, rp: rp}
}

// Routes mounts /subscriptions.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhook", h.webhook)
	r.Get("/plans", h.plans)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Authenticate, h.guard.RequireRole(domain.RoleStoreOwner), h.guard.RequireStore)
		r.Post("/create-checkout", h.createCheckout)
		r.Get("/current", h.current)
		r.Post("/cancel", h.cancel)
		r.Post("/resume", h.resume)
	})
}

func (h *Handler) plans(w http.ResponseWriter, r *http.Request) {
	h.rp.OK(w, http.StatusOK, "", h.svc.Plans())
}

func (h *Handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	actor, _ := auth.UserFrom(r.Context())
	sess, err := h.svc.CreateCheckout(r.Context(), actor, req.Plan)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to create subscription checkout")
		return
	}
	h.rp.OK(w, http.StatusOK, "", sess)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFrom(r.Context())
	cur, err := h.svc.Current(r.Context(), actor)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to load subscription")
		return
	}
	h.rp.OK(w, http.StatusOK, "", cur)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFrom(r.Context())
	if err := h.svc.SetCancelAtPeriodEnd(r.Context(), actor, true); err != nil {
		h.rp.Fail(w, r, err, "failed to cancel subscription")
		return
	}
	h.rp.OK(w, http.StatusOK, "subscription will end at the close of the current period", nil)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFrom(r.Context())
	if err := h.svc.SetCancelAtPeriodEnd(r.Context(), actor, false); err != nil {
		h.rp.Fail(w, r, err, "failed to resume subscription")
		return
	}
	h.rp.OK(w, http.StatusOK, "subscription resumed", nil)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.rp.Fail(w, r, httpx.Wrap("subscriptions.Webhook", httpx.ErrValidation, "unreadable payload", err), "")
		return
	}
	if err := h.svc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.rp.Fail(w, r, err, "webhook processing failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
