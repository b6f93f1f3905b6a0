package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"erp/ecommerce/storepro/internal/auth"
	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
)

const (
	// MaxImages is the cap on one multi-image upload.
	MaxImages = 5
	// formMemory is how much of a multipart body is held in memory before
	// spilling to temp files.
	formMemory = 8 << 20
)

type Handler struct {
	up    Uploader
	guard *auth.Guard
	rp    httpx.Responder
	log   *slog.Logger
}

func NewHandler(up Uploader, guard *auth.Guard, rp httpx.Responder, log *slog.Logger) *Handler {
	return &Handler{up: up, guard: guard, rp: rp, log: log}
}

// Routes mounts /upload. Every route is limited to store owners.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.guard.Authenticate, h.guard.RequireRole(domain.RoleStoreOwner))
	r.Post("/product", h.single("image", ProductImages, "image uploaded"))
	r.Post("/products", h.many)
	r.Post("/logo", h.single("logo", Logos, "logo uploaded"))
	r.Delete("/*", h.destroy)
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		return httpx.Wrap("media.Parse", httpx.ErrValidation, "invalid or oversized multipart body", err)
	}
	return nil
}

func (h *Handler) single(field string, t Target, done string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.parse(w, r, t.MaxBytes); err != nil {
			h.rp.Fail(w, r, err, "")
			return
		}
		defer r.MultipartForm.RemoveAll()
		files := r.MultipartForm.File[field]
		if len(files) == 0 {
			h.rp.Fail(w, r, httpx.Invalid("media.Upload", "no image was uploaded"), "")
			return
		}
		asset, err := h.store(r, files[0], t)
		if err != nil {
			h.rp.Fail(w, r, err, "failed to upload image")
			return
		}
		h.rp.OK(w, http.StatusOK, done, asset)
	}
}

func (h *Handler) many(w http.ResponseWriter, r *http.Request) {
	if err := h.parse(w, r, MaxImages*ProductImages.MaxBytes); err != nil {
		h.rp.Fail(w, r, err, "")
		return
	}
	defer r.MultipartForm.RemoveAll()
	files := r.MultipartForm.File["images"]
	switch {
	case len(files) == 0:
		h.rp.Fail(w, r, httpx.Invalid("media.Upload", "no images were uploaded"), "")
		return
	case len(files) > MaxImages:
		h.rp.Fail(w, r, httpx.Invalid("media.Upload", fmt.Sprintf("at most %d images per upload", MaxImages)), "")
		return
	}
	// Validate everything before anything is sent to the host.
	for _, fh := range files {
		f, err := check(fh, ProductImages)
		if err != nil {
			h.rp.Fail(w, r, err, "")
			return
		}
		f.Close()
	}
	assets := make([]Asset, 0, len(files))
	for _, fh := range files {
		asset, err := h.store(r, fh, ProductImages)
		if err != nil {
			h.rollback(r.Context(), assets)
			h.rp.Fail(w, r, err, "failed to upload images")
			return
		}
		assets = append(assets, asset)
	}
	h.rp.OK(w, http.StatusOK, fmt.Sprintf("%d images uploaded", len(assets)), assets)
}

// rollback removes the assets of a batch that failed part way.
func (h *Handler) rollback(ctx context.Context, assets []Asset) {
	ctx = context.WithoutCancel(ctx)
	for _, a := range assets {
		if err := h.up.Destroy(ctx, a.PublicID); err != nil {
			h.log.Warn("orphaned image after failed batch", "public_id", a.PublicID, "error", err)
		}
	}
}

// check enforces size and sniffs the content type of fh, leaving the returned
// file rewound.
func check(fh *multipart.FileHeader, t Target) (multipart.File, error) {
	const op = "media.Check"
	if fh.Size > t.MaxBytes {
		return nil, httpx.Invalid(op, fmt.Sprintf("%s is larger than %d MB", fh.Filename, t.MaxBytes>>20))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, httpx.Wrap(op, httpx.ErrValidation, "unreadable upload", err)
	}
	mt, err := mimetype.DetectReader(f)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		return nil, httpx.Wrap(op, httpx.ErrValidation, "unreadable upload", err)
	}
	if !strings.HasPrefix(mt.String(), "image/") || !t.Allows(mt.Extension()) {
		f.Close()
		return nil, httpx.Invalid(op, fmt.Sprintf("unsupported file type %s, please upload an image (%s)",
			mt.String(), strings.Join(t.Formats, ", ")))
	}
	return f, nil
}

func (h *Handler) store(r *http.Request, fh *multipart.FileHeader, t Target) (Asset, error) {
	f, err := check(fh, t)
	if err != nil {
		return Asset{}, err
	}
	defer f.Close()
	asset, err := h.up.Upload(r.Context(), f, t)
	if err != nil {
		return Asset{}, err
	}
	actor, _ := auth.UserFrom(r.Context())
	h.log.Info("image uploaded", "folder", t.Folder, "public_id", asset.PublicID, "user_id", actor.ID)
	return asset, nil
}

func (h *Handler) destroy(w http.ResponseWriter, r *http.Request) {
	const op = "media.Destroy"
	publicID, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || strings.TrimSpace(publicID) == "" {
		h.rp.Fail(w, r, httpx.Invalid(op, "image id is required"), "")
		return
	}
	if !strings.HasPrefix(publicID, RootFolder) || strings.Contains(publicID, "..") {
		h.rp.Fail(w, r, httpx.Forbidden(op, "image does not belong to this service"), "")
		return
	}
	if err := h.up.Destroy(r.Context(), publicID); err != nil {
		h.rp.Fail(w, r, err, "failed to delete image")
		return
	}
	h.rp.OK(w, http.StatusOK, "image deleted", nil)
}
