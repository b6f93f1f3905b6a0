package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
)

// Handler serves /auth.
type Handler struct {
	svc     *Service
	guard   *Guard
	limiter *RateLimiter
	rp      httpx.Responder
}

func NewHandler(svc *Service, guard *Guard, limiter *RateLimiter, rp httpx.Responder) *Handler {
	return &Handler{svc: svc, guard: guard, limiter: limiter, rp: rp}
}

// Routes mounts the account endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.limiter.Middleware)
		r.Post("/register", h.register)
		r.Post("/register-customer", h.registerCustomer)
		r.Post("/register-store", h.registerStore)
		r.Post("/login", h.login)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Authenticate)
		r.Get("/me", h.me)
		r.Put("/profile", h.updateProfile)
		r.With(h.guard.RequireRole(domain.RoleStoreOwner, domain.RolePlatformAdmin)).Get("/store", h.getStore)
		r.With(h.guard.RequireRole(domain.RoleStoreOwner)).Put("/store", h.updateStore)
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	sess, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.rp.Fail(w, r, err, "registration failed")
		return
	}
	h.rp.OK(w, http.StatusCreated, "account created", sess)
}

func (h *Handler) registerCustomer(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	sess, err := h.svc.RegisterCustomer(r.Context(), req)
	if err != nil {
		h.rp.Fail(w, r, err, "registration failed")
		return
	}
	h.rp.OK(w, http.StatusCreated, "account created", sess)
}

func (h *Handler) registerStore(w http.ResponseWriter, r *http.Request) {
	var req RegisterStoreRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	sess, err := h.svc.RegisterStore(r.Context(), req)
	if err != nil {
		h.rp.Fail(w, r, err, "store registration failed")
		return
	}
	h.rp.OK(w, http.StatusCreated, "store created", sess)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	sess, err := h.svc.Login(r.Context(), req)
	if err != nil {
		h.rp.Fail(w, r, err, "login failed")
		return
	}
	h.rp.OK(w, http.StatusOK, "", sess)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, _ := UserFrom(r.Context())
	u, store, err := h.svc.Me(r.Context(), actor)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to load account")
		return
	}
	h.rp.OK(w, http.StatusOK, "", map[string]any{"user": u, "store": store})
}

func (h *Handler) getStore(w http.ResponseWriter, r *http.Request) {
	actor, _ := UserFrom(r.Context())
	store, err := h.svc.GetStore(r.Context(), actor)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to load store")
		return
	}
	h.rp.OK(w, http.StatusOK, "", store)
}

func (h *Handler) updateStore(w http.ResponseWriter, r *http.Request) {
	var req UpdateStoreRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	actor, _ := UserFrom(r.Context())
	store, err := h.svc.UpdateStore(r.Context(), actor, req)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to update store")
		return
	}
	h.rp.OK(w, http.StatusOK, "store updated", store)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	actor, _ := UserFrom(r.Context())
	u, err := h.svc.UpdateProfile(r.Context(), actor, req)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to update profile")
		return
	}
	h.rp.OK(w, http.StatusOK, "profile updated", u)
}
