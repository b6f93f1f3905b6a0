package storefront

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
)

type Handler struct {
	svc *Service
	rp  httpx.Responder
}

func NewHandler(svc *Service, rp httpx.Responder) *Handler {
	return &Handler{svc: svc, rp: rp}
}

// Routes mounts /public.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/stores", h.stores)
	r.Get("/stores/{id}", h.store)
	r.Get("/stores/{id}/products", h.products)
	r.Get("/products/{id}", h.product)
}

func (h *Handler) stores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.svc.Stores(r.Context())
	if err != nil {
		h.rp.Fail(w, r, err, "failed to list stores")
		return
	}
	h.rp.OK(w, http.StatusOK, "", stores)
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Store(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.rp.Fail(w, r, err, "failed to load store")
		return
	}
	h.rp.OK(w, http.StatusOK, "", st)
}

type listingResponse struct {
	Success    bool             `json:"success"`
	Data       []domain.Product `json:"data"`
	Categories []string         `json:"categories"`
	Pagination httpx.Pagination `json:"pagination"`
}

func (h *Handler) products(w http.ResponseWriter, r *http.Request) {
	q := Query{
		Category: httpx.Query(r, "category"),
		Search:   httpx.Query(r, "search"),
		Cursor:   httpx.Query(r, "cursor"),
		Limit:    httpx.IntParam(r, "limit", 12, 1, 100),
	}
	var err error
	if q.MinPrice, err = httpx.DecimalParam(r, "minPrice"); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	if q.MaxPrice, err = httpx.DecimalParam(r, "maxPrice"); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	out, err := h.svc.Products(r.Context(), chi.URLParam(r, "id"), q)
	if err != nil {
		h.rp.Fail(w, r, err, "failed to list products")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listingResponse{
		Success:    true,
		Data:       out.Products,
		Categories: out.Categories,
		Pagination: httpx.Pagination{Limit: q.Limit, NextCursor: out.NextCursor, Cached: out.Cached},
	})
}

func (h *Handler) product(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.rp.Fail(w, r, err, "failed to load product")
		return
	}
	h.rp.OK(w, http.StatusOK, "", p)
}
