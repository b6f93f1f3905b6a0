package orders

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"erp/ecommerce/storepro/internal/auth"
	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/storage"
)

type Handler struct {
	svc   *Service
	guard *auth.Guard
	rp    httpx.Responder
}

func NewHandler(svc *Service, guard *auth.Guard, rp httpx.Responder) *Handler {
	return &Handler{svc: svc, guard: guard, rp: rp}
}

// Routes mounts /orders.
func (h *Handler) Routes(r chi.Router) {
	owner := h.guard.RequireRole(domain.RoleStoreOwner)
	r.Use(h.guard.Authenticate)
	r.Post("/", h.place)
	r.Get("/my-orders", h.mine)
	r.With(owner, h.guard.RequireStore).Get("/", h.listStore)
	r.With(owner, h.guard.RequireStore).Get("/stats", h.stats)
	r.With(owner, h.guard.RequireStore).Get("/customers", h.customers)
	r.Get("/{id}", h.get)
	r.With(h.guard.RequireRole(domain.RoleStoreOwner, domain.RolePlatformAdmin)).Put("/{id}/status", h.updateStatus)
}

func filterFrom(r *http.Request) (storage.OrderFilter, error) {
	f := storage.OrderFilter{
		Cursor: httpx.Query(r, "cursor"),
		Limit:  httpx.IntParam(r, "limit", 10, 1, 100),
	}
	if raw := httpx.Query(r, "status"); raw != "" && raw != "all" {
		if f.Status = domain.ParseOrderStatus(raw); f.Status == "" {
			return f, httpx.Invalid("orders.List", "unknown status filter")
		}
	}
	return f, nil
}

func (h *Handler) place(w http.ResponseWriter, r *http.Request) {
	var req PlaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	actor, _ := auth.UserFrom(r.Context())
	o, err := h.svc.Place(r.Context(), actor, req)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to create order")
		return
	}
	h.rp.OK(w, http.StatusCreated, "order created", o)
}

func (h *Handler) listStore(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	actor, _ := auth.UserFrom(r.Context())
	items, next, err := h.svc.ListStore(r.Context(), actor, f)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to list orders")
		return
	}
	h.rp.Page(w, items, httpx.Pagination{Limit: f.Limit, NextCursor: next})
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	actor, _ := auth.UserFrom(r.Context())
	items, next, err := h.svc.ListMine(r.Context(), actor, f)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to list orders")
		return
	}
	h.rp.Page(w, items, httpx.Pagination{Limit: f.Limit, NextCursor: next})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFrom(r.Context())
	o, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.rp.Fail(w, r, err, "failed to load order")
		return
	}
	h.rp.OK(w, http.StatusOK, "", o)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	actor, _ := auth.UserFrom(r.Context())
	o, err := h.svc.UpdateStatus(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to update order status")
		return
	}
	h.rp.OK(w, http.StatusOK, "order status updated", o)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFrom(r.Context())
	counts, err := h.svc.Stats(r.Context(), actor)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to load order statistics")
		return
	}
	h.rp.OK(w, http.StatusOK, "", counts)
}

func (h *Handler) customers(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFrom(r.Context())
	list, err := h.svc.Customers(r.Context(), actor)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to load customers")
		return
	}
	h.rp.OK(w, http.StatusOK, "", list)
}
