package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp/ecommerce/storepro/internal/auth"
	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/cache"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/storage"
)

type recordedMail struct {
	mu       sync.Mutex
	confirms []string
	statuses []domain.OrderStatus
}

func (m *recordedMail) OrderConfirmation(o domain.Order, _ domain.User, _ domain.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirms = append(m.confirms, o.ID)
}

func (m *recordedMail) StatusUpdate(o domain.Order, _ domain.User, _ domain.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, o.Status)
}

type env struct {
	repo   *storage.Memory
	svc    *Service
	mail   *recordedMail
	tokens *auth.Tokens
	router http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rp := httpx.Responder{Log: log}
	repo := storage.NewMemory()
	mail := &recordedMail{}
	tokens := auth.NewTokens("test-secret", time.Hour)
	svc := NewService(repo, mail, cache.Nop{}, log)
	r := chi.NewRouter()
	r.Route("/orders", NewHandler(svc, auth.NewGuard(tokens, repo, rp), rp).Routes)
	return &env{repo: repo, svc: svc, mail: mail, tokens: tokens, router: r}
}

func (e *env) owner(t *testing.T, name string) (domain.User, domain.Store) {
	t.Helper()
	now := time.Now().UTC()
	u := domain.User{ID: domain.NewID("usr"), Name: name, Email: name + "@example.com",
		Role: domain.RoleStoreOwner, IsActive: true, CreatedAt: now, UpdatedAt: now}
	s := domain.Store{ID: domain.NewID("st"), Name: name + " store", Slug: name, OwnerID: u.ID,
		Settings: domain.DefaultStoreSettings(), Limits: domain.Limits{MaxProducts: 10, MaxOrders: 100},
		IsActive: true, CreatedAt: now, UpdatedAt: now}
	u.StoreID = s.ID
	require.NoError(t, e.repo.CreateUserWithStore(context.Background(), u, s))
	return u, s
}

func (e *env) customer(t *testing.T, name string) domain.User {
	t.Helper()
	u := domain.User{ID: domain.NewID("usr"), Name: name, Email: name + "@example.com",
		Role: domain.RoleCustomer, IsActive: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, e.repo.CreateUser(context.Background(), u))
	return u
}

func (e *env) product(t *testing.T, storeID, price string, stock int) domain.Product {
	t.Helper()
	now := time.Now().UTC()
	p := domain.Product{ID: domain.NewID("prd"), StoreID: storeID, Name: "Mug", Slug: "mug",
		Price: decimal.RequireFromString(price), Stock: stock, Status: domain.ProductActive, IsVisible: true,
		Images: []domain.ProductImage{{URL: "https://img/side.png"}, {URL: "https://img/front.png", IsPrimary: true}},
		CreatedAt: now, UpdatedAt: now}
	require.NoError(t, e.repo.CreateProduct(context.Background(), p))
	return p
}

func (e *env) do(t *testing.T, u domain.User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	token, err := e.tokens.Issue(u)
	require.NoError(t, err)
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) domain.Order {
	t.Helper()
	var body struct {
		Data domain.Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func TestPlaceOrderUpdatesStockAndStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, s := e.owner(t, "layla")
	p := e.product(t, s.ID, "10", 5)
	c := e.customer(t, "sara")

	rec := e.do(t, c, http.MethodPost, "/orders", PlaceRequest{
		StoreID: s.ID,
		Items:   []LineRequest{{ProductID: p.ID, Quantity: 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decodeOrder(t, rec)

	assert.True(t, o.Subtotal.Equal(decimal.NewFromInt(20)))
	assert.True(t, o.Total.Equal(decimal.NewFromInt(20)))
	assert.True(t, o.TotalsConsistent())
	assert.Equal(t, domain.PaymentCash, o.PaymentMethod)
	assert.Equal(t, domain.OrderPending, o.Status)
	assert.Regexp(t, `^ORD-\d{8}-\d{6}$`, o.OrderNumber)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "https://img/front.png", o.Items[0].Image)

	got, _ := e.repo.GetProduct(ctx, p.ID)
	assert.Equal(t, 3, got.Stock)
	assert.Equal(t, 2, got.Stats.Sales)

	store, _ := e.repo.GetStore(ctx, s.ID)
	assert.Equal(t, 1, store.Stats.TotalOrders)
	assert.True(t, store.Stats.TotalRevenue.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 1, store.Stats.TotalCustomers)
	assert.Equal(t, []string{o.ID}, e.mail.confirms)
}

func TestPlaceOrderSnapshotsPrice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, s := e.owner(t, "layla")
	p := e.product(t, s.ID, "12.50", 5)
	c := e.customer(t, "sara")

	o, err := e.svc.Place(ctx, c, PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}})
	require.NoError(t, err)

	p.Price = decimal.NewFromInt(99)
	_, err = e.repo.UpdateProduct(ctx, p, false)
	require.NoError(t, err)

	stored, err := e.repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.5", stored.Items[0].Price.String())
	assert.Equal(t, "12.5", stored.Total.String())
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, s := e.owner(t, "layla")
	p := e.product(t, s.ID, "10", 1)
	c := e.customer(t, "sara")

	rec := e.do(t, c, http.MethodPost, "/orders", PlaceRequest{
		StoreID: s.ID,
		Items:   []LineRequest{{ProductID: p.ID, Quantity: 2}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_stock")

	got, _ := e.repo.GetProduct(ctx, p.ID)
	assert.Equal(t, 1, got.Stock)
	orders, _, err := e.repo.ListOrders(ctx, storage.OrderFilter{StoreID: s.ID, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, e.mail.confirms)
}

func TestPlaceOrderRepeatedLinesCountTogether(t *testing.T) {
	e := newEnv(t)
	_, s := e.owner(t, "layla")
	p := e.product(t, s.ID, "10", 3)
	c := e.customer(t, "sara")

	_, err := e.svc.Place(context.Background(), c, PlaceRequest{StoreID: s.ID, Items: []LineRequest{
		{ProductID: p.ID, Quantity: 2}, {ProductID: p.ID, Quantity: 2},
	}})
	assert.ErrorIs(t, err, httpx.ErrInsufficientStock)
}

func TestPlaceOrderRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, s := e.owner(t, "layla")
	_, other := e.owner(t, "omar")
	p := e.product(t, s.ID, "10", 5)
	foreign := e.product(t, other.ID, "10", 5)
	c := e.customer(t, "sara")

	cases := []struct {
		name string
		req  PlaceRequest
		kind error
	}{
		{"no items", PlaceRequest{StoreID: s.ID}, httpx.ErrValidation},
		{"no store", PlaceRequest{Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}}, httpx.ErrValidation},
		{"zero quantity", PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: p.ID, Quantity: 0}}}, httpx.ErrValidation},
		{"card", PlaceRequest{StoreID: s.ID, PaymentMethod: "card", Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}}, httpx.ErrValidation},
		{"unknown method", PlaceRequest{StoreID: s.ID, PaymentMethod: "barter", Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}}, httpx.ErrValidation},
		{"unknown store", PlaceRequest{StoreID: "st_nope", Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}}, httpx.ErrNotFound},
		{"missing product", PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: "prd_nope", Quantity: 1}}}, httpx.ErrNotFound},
		{"foreign product", PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: foreign.ID, Quantity: 1}}}, httpx.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.Place(ctx, c, tc.req)
			assert.ErrorIs(t, err, tc.kind)
		})
	}

	got, _ := e.repo.GetProduct(ctx, foreign.ID)
	assert.Equal(t, 5, got.Stock)
}

func TestPlaceOrderAtPlanLimit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, s := e.owner(t, "layla")
	p := e.product(t, s.ID, "1", 50)
	c := e.customer(t, "sara")
	_, err := e.repo.ApplySubscriptionChange(ctx, storage.SubscriptionChange{
		Event:   storage.ProcessedEvent{ID: "evt_downgrade", Source: storage.SourceSubscriptions},
		StoreID: s.ID,
		Apply:   func(st *domain.Store) { st.Limits.MaxOrders = 1 },
	})
	require.NoError(t, err)

	_, err = e.svc.Place(ctx, c, PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}})
	require.NoError(t, err)
	_, err = e.svc.Place(ctx, c, PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}})
	assert.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestUpdateStatusForeignStoreIsForbidden(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, s := e.owner(t, "layla")
	intruder, _ := e.owner(t, "omar")
	p := e.product(t, s.ID, "10", 5)
	c := e.customer(t, "sara")
	o, err := e.svc.Place(ctx, c, PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}})
	require.NoError(t, err)

	rec := e.do(t, intruder, http.MethodPut, "/orders/"+o.ID+"/status", StatusRequest{Status: "shipped"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	stored, _ := e.repo.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderPending, stored.Status)
	assert.Nil(t, stored.ShippedAt)
	assert.Empty(t, e.mail.statuses)
}

func TestUpdateStatusRequiresManagerRole(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, s := e.owner(t, "layla")
	p := e.product(t, s.ID, "10", 5)
	c := e.customer(t, "sara")
	o, err := e.svc.Place(ctx, c, PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}})
	require.NoError(t, err)

	rec := e.do(t, c, http.MethodPut, "/orders/"+o.ID+"/status", StatusRequest{Status: "cancelled"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	stored, _ := e.repo.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderPending, stored.Status)
}

func TestUpdateStatusFollowsStateMachine(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner, s := e.owner(t, "layla")
	p := e.product(t, s.ID, "10", 5)
	c := e.customer(t, "sara")
	o, err := e.svc.Place(ctx, c, PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}})
	require.NoError(t, err)

	_, err = e.svc.UpdateStatus(ctx, owner, o.ID, StatusRequest{Status: "delivered"})
	assert.ErrorIs(t, err, httpx.ErrValidation)
	_, err = e.svc.UpdateStatus(ctx, owner, o.ID, StatusRequest{Status: "teleported"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	same, err := e.svc.UpdateStatus(ctx, owner, o.ID, StatusRequest{Status: "pending"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, same.Status)
	assert.Empty(t, e.mail.statuses)

	_, err = e.svc.UpdateStatus(ctx, owner, o.ID, StatusRequest{Status: "processing"})
	require.NoError(t, err)
	shipped, err := e.svc.UpdateStatus(ctx, owner, o.ID, StatusRequest{Status: "shipped"})
	require.NoError(t, err)
	assert.NotNil(t, shipped.ShippedAt)
	assert.Nil(t, shipped.DeliveredAt)
	assert.Nil(t, shipped.CancelledAt)

	stored, _ := e.repo.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderShipped, stored.Status)
	assert.NotNil(t, stored.ShippedAt)
	assert.Nil(t, stored.DeliveredAt)

	_, err = e.svc.UpdateStatus(ctx, owner, o.ID, StatusRequest{Status: "cancelled"})
	assert.ErrorIs(t, err, httpx.ErrValidation)
	assert.Equal(t, []domain.OrderStatus{domain.OrderProcessing, domain.OrderShipped}, e.mail.statuses)

	rec := e.do(t, owner, http.MethodPut, "/orders/ord_missing/status", StatusRequest{Status: "shipped"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOrderVisibility(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner, s := e.owner(t, "layla")
	intruder, _ := e.owner(t, "omar")
	p := e.product(t, s.ID, "10", 5)
	c := e.customer(t, "sara")
	stranger := e.customer(t, "ali")
	o, err := e.svc.Place(ctx, c, PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, e.do(t, c, http.MethodGet, "/orders/"+o.ID, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, owner, http.MethodGet, "/orders/"+o.ID, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, intruder, http.MethodGet, "/orders/"+o.ID, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, stranger, http.MethodGet, "/orders/"+o.ID, nil).Code)
}

func TestListsStatsAndCustomers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner, s := e.owner(t, "layla")
	p := e.product(t, s.ID, "10", 50)
	sara := e.customer(t, "sara")
	ali := e.customer(t, "ali")
	for _, c := range []domain.User{sara, sara, ali} {
		_, err := e.svc.Place(ctx, c, PlaceRequest{StoreID: s.ID, Items: []LineRequest{{ProductID: p.ID, Quantity: 1}}})
		require.NoError(t, err)
	}

	rec := e.do(t, sara, http.MethodGet, "/orders/my-orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine struct {
		Data []domain.Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	assert.Len(t, mine.Data, 2)

	assert.Equal(t, http.StatusForbidden, e.do(t, sara, http.MethodGet, "/orders", nil).Code)
	rec = e.do(t, owner, http.MethodGet, "/orders?status=all&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"nextCursor"`)

	counts, err := e.svc.Stats(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 3, counts.Pending)

	customers, err := e.svc.Customers(ctx, owner)
	require.NoError(t, err)
	require.Len(t, customers, 2)
	bySpend := map[string]string{}
	for _, cs := range customers {
		bySpend[cs.Name] = cs.TotalSpent.String()
	}
	assert.Equal(t, map[string]string{"sara": "20", "ali": "10"}, bySpend)

	store, _ := e.repo.GetStore(ctx, s.ID)
	assert.Equal(t, 2, store.Stats.TotalCustomers)
}
