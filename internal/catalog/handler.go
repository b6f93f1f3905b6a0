package catalog

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

// Routes mounts /products. Every route is for store owners only.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.guard.Authenticate, h.guard.RequireRole(domain.RoleStoreOwner), h.guard.RequireStore)
	r.Get("/stats", h.stats)
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFrom(r.Context())
	f := storage.ProductFilter{
		Category: httpx.Query(r, "category"),
		Search:   httpx.Query(r, "search"),
		Cursor:   httpx.Query(r, "cursor"),
		Limit:    httpx.IntParam(r, "limit", 20, 1, 100),
	}
	if raw := httpx.Query(r, "status"); raw != "" {
		if f.Status = domain.ParseProductStatus(raw); f.Status == "" {
			h.rp.Fail(w, r, httpx.Invalid("catalog.List", "unknown status filter"), "")
			return
		}
	}
	items, next, err := h.svc.List(r.Context(), actor, f)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to list products")
		return
	}
	h.rp.Page(w, items, httpx.Pagination{Limit: f.Limit, NextCursor: next})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	actor, _ := auth.UserFrom(r.Context())
	p, err := h.svc.Create(r.Context(), actor, req)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to create product")
		return
	}
	h.rp.OK(w, http.StatusCreated, "product created", p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFrom(r.Context())
	p, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.rp.Fail(w, r, err, "failed to load product")
		return
	}
	h.rp.OK(w, http.StatusOK, "", p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	actor, _ := auth.UserFrom(r.Context())
	p, err := h.svc.Update(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to update product")
		return
	}
	h.rp.OK(w, http.StatusOK, "product updated", p)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), actor, id); err != nil {
		h.rp.Fail(w, r, err, "failed to delete product")
		return
	}
	h.rp.OK(w, http.StatusOK, "product deleted", map[string]string{"id": id})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserFrom(r.Context())
	st, err := h.svc.Stats(r.Context(), actor.StoreID)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to load statistics")
		return
	}
	h.rp.OK(w, http.StatusOK, "", st)
}
