package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp/ecommerce/storepro/internal/auth"
	"erp/ecommerce/storepro/internal/billing"
	"erp/ecommerce/storepro/internal/config"
	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/media"
	"erp/ecommerce/storepro/internal/notify"
	"erp/ecommerce/storepro/internal/platform/cache"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/storage"
)

type outbox struct {
	mu    sync.Mutex
	kinds []string
}

func (o *outbox) Enqueue(msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, msg.Kind)
	return nil
}

func newTestApp(t *testing.T) (http.Handler, *outbox) {
	t.Helper()
	cfg := config.Default()
	cfg.Env = "test"
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.LoginPerMinute = 600
	cfg.Auth.LoginBurst = 100
	cfg.Plans = domain.DefaultPlans("price_basic", "price_pro")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	box := &outbox{}
	notifier, err := notify.NewNotifier(box, log, cfg.FrontendURL)
	require.NoError(t, err)
	uploader, err := media.NewCloudinary("", "", "", 0)
	require.NoError(t, err)

	a := &app{
		cfg:      cfg,
		log:      log,
		repo:     storage.NewMemory(),
		cache:    cache.NewMemory(time.Minute),
		mail:     notifier,
		gateway:  billing.NewStripe("", 0),
		uploader: uploader,
		limiter:  auth.NewRateLimiter(cfg.Auth.LoginPerMinute, cfg.Auth.LoginBurst, httpx.Responder{Log: log}),
	}
	return a.routes(), box
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec.Code, env
}

func TestHealthz(t *testing.T) {
	h, _ := newTestApp(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"storepro-api","mode":"memory","env":"test"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestUnknownRouteIsJSON(t *testing.T) {
	h, _ := newTestApp(t)
	code, env := call(t, h, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
	assert.Equal(t, "not_found", env.Code)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestApp(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnconfiguredIntegrationsAnswer503(t *testing.T) {
	h, _ := newTestApp(t)
	code, _ := call(t, h, http.MethodPost, "/api/payments/webhook", "", map[string]string{"id": "evt_1"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestShopFlow(t *testing.T) {
	h, box := newTestApp(t)

	code, env := call(t, h, http.MethodPost, "/api/auth/register-store", "", map[string]string{
		"name": "Layla", "email": "layla@example.com", "password": "secret1", "storeName": "Dates House",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var owner struct {
		Token string `json:"token"`
		Store struct {
			ID string `json:"id"`
		} `json:"store"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &owner))
	require.NotEmpty(t, owner.Token)

	code, env = call(t, h, http.MethodPost, "/api/products", owner.Token, map[string]any{
		"name": "Ajwa Dates", "price": "45.50", "stock": 3, "category": "dates",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var product struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &product))

	code, env = call(t, h, http.MethodGet, "/api/public/stores/"+owner.Store.ID+"/products", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), product.ID)

	code, env = call(t, h, http.MethodPost, "/api/auth/register-customer", "", map[string]string{
		"name": "Sara", "email": "sara@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var customer struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &customer))

	code, env = call(t, h, http.MethodPost, "/api/orders", customer.Token, map[string]any{
		"storeId": owner.Store.ID,
		"items":   []map[string]any{{"productId": product.ID, "quantity": 2}},
		"shippingAddress": map[string]string{
			"fullName": "Sara", "phone": "0500000000", "address": "King Fahd Rd", "city": "Riyadh", "country": "SA",
		},
		"paymentMethod": "cash",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = call(t, h, http.MethodGet, "/api/orders/stats", owner.Token, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Contains(t, string(env.Data), `"totalOrders":1`)

	code, _ = call(t, h, http.MethodGet, "/api/orders/stats", customer.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = call(t, h, http.MethodPost, "/api/payments/create-checkout", customer.Token, map[string]any{
		"storeId": owner.Store.ID,
		"items":   []map[string]any{{"productId": product.ID, "quantity": 1}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, code)

	assert.Equal(t, []string{notify.KindStoreWelcome, notify.KindWelcome, notify.KindOrderConfirmation}, box.kinds)
}
