// Package httpx holds the JSON request/response plumbing shared by every handler
// package: envelope writing, body decoding, query parsing, keyset cursors and the
// error-to-status mapping.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// Pagination describes a keyset-paginated page.
type Pagination struct {
	Limit      int    `json:"limit"`
	NextCursor string `json:"nextCursor,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
}

type envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Code       string      `json:"code,omitempty"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Responder writes JSON envelopes and maps errors to status codes.
type Responder struct {
	Log *slog.Logger
	// Expose reveals internal error causes to clients. Enable in development only.
	Expose bool
}

// OK writes a success envelope.
func (rp Responder) OK(w http.ResponseWriter, code int, message string, data any) {
	WriteJSON(w, code, envelope{Success: true, Message: message, Data: data})
}

// Page writes a success envelope carrying pagination metadata.
func (rp Responder) Page(w http.ResponseWriter, data any, page Pagination) {
	WriteJSON(w, http.StatusOK, envelope{Success: true, Data: data, Pagination: &page})
}

// Fail maps err to a status code and writes a failure envelope. Internal errors are
// logged with the request path.
func (rp Responder) Fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, code := StatusOf(err)
	if status >= http.StatusInternalServerError && rp.Log != nil {
		rp.Log.Error(fallback, "error", err, "method", r.Method, "path", r.URL.Path)
	}
	WriteJSON(w, status, envelope{
		Success: false,
		Code:    code,
		Message: MessageOf(err, fallback, rp.Expose),
	})
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads at most MaxBodyBytes and unmarshals into v.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return Wrap("httpx.DecodeJSON", ErrValidation, "unreadable request body", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return Invalid("httpx.DecodeJSON", "empty request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return Wrap("httpx.DecodeJSON", ErrValidation, "invalid JSON payload", err)
	}
	return nil
}

// IntParam reads an integer query parameter clamped to [min, max].
func IntParam(r *http.Request, key string, def, min, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// DecimalParam reads an optional decimal query parameter.
func DecimalParam(r *http.Request, key string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, Invalid("httpx.DecimalParam", fmt.Sprintf("%s must be a number", key))
	}
	return &d, nil
}

// Query returns a trimmed query parameter.
func Query(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// WithServerDefaults sets the security headers every response carries.
func WithServerDefaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// ParseCursor decodes a "unixnano:id" keyset cursor.
func ParseCursor(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid cursor format")
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", errors.New("invalid cursor timestamp")
	}
	if parts[1] == "" {
		return time.Time{}, "", errors.New("invalid cursor id")
	}
	return time.Unix(0, n).UTC(), parts[1], nil
}

// EncodeCursor encodes the sort key of the last row of a page.
func EncodeCursor(ts time.Time, id string) string {
	return fmt.Sprintf("%d:%s", ts.UTC().UnixNano(), id)
}
