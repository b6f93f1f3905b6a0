package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func seedStore(t *testing.T, m *Memory, limits domain.Limits) domain.Store {
	t.Helper()
	owner := domain.User{ID: domain.NewID("usr"), Name: "Owner", Email: domain.NewID("o") + "@example.com",
		Role: domain.RoleStoreOwner, IsActive: true, CreatedAt: t0, UpdatedAt: t0}
	s := domain.Store{ID: domain.NewID("st"), Name: "Shop " + owner.ID, Slug: domain.Slugify("Shop " + owner.ID), OwnerID: owner.ID,
		Settings: domain.DefaultStoreSettings(), Limits: limits, IsActive: true, CreatedAt: t0, UpdatedAt: t0,
		Subscription: domain.Subscription{Plan: domain.PlanFree, Status: "active"}}
	owner.StoreID = s.ID
	require.NoError(t, m.CreateUserWithStore(context.Background(), owner, s))
	return s
}

func seedCustomer(t *testing.T, m *Memory, name string) domain.User {
	t.Helper()
	u := domain.User{ID: domain.NewID("usr"), Name: name, Email: name + "@example.com",
		Role: domain.RoleCustomer, IsActive: true, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, m.CreateUser(context.Background(), u))
	return u
}

func seedProduct(t *testing.T, m *Memory, storeID string, price string, stock int) domain.Product {
	t.Helper()
	p := domain.Product{ID: domain.NewID("prd"), StoreID: storeID, Name: "Item", Slug: "item",
		Price: decimal.RequireFromString(price), Stock: stock, Status: domain.ProductActive,
		IsVisible: true, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, m.CreateProduct(context.Background(), p))
	return p
}

func newOrder(storeID, customerID string, at time.Time, items ...domain.OrderItem) domain.Order {
	o := domain.Order{ID: domain.NewID("ord"), StoreID: storeID, CustomerID: customerID, Items: items,
		Status: domain.OrderPending, PaymentMethod: domain.PaymentCash, PaymentStatus: domain.PaymentPending,
		CreatedAt: at, UpdatedAt: at}
	o.ApplyTotals()
	return o
}

func line(p domain.Product, qty int) domain.OrderItem {
	return domain.OrderItem{ProductID: p.ID, Name: p.Name, Price: p.Price, Quantity: qty}
}

func TestPlaceOrderInsufficientStockLeavesEverythingUnchanged(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	c := seedCustomer(t, m, "sara")
	a := seedProduct(t, m, s.ID, "10", 5)
	b := seedProduct(t, m, s.ID, "20", 1)

	_, err := m.PlaceOrder(ctx, newOrder(s.ID, c.ID, t0, line(a, 2), line(b, 2)))

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, b.ID, stockErr.ProductID)
	assert.True(t, errors.Is(err, httpx.ErrInsufficientStock))

	gotA, _ := m.GetProduct(ctx, a.ID)
	gotB, _ := m.GetProduct(ctx, b.ID)
	assert.Equal(t, 5, gotA.Stock)
	assert.Equal(t, 1, gotB.Stock)
	assert.Zero(t, gotA.Stats.Sales)

	store, _ := m.GetStore(ctx, s.ID)
	assert.Zero(t, store.Stats.TotalOrders)
	assert.True(t, store.Stats.TotalRevenue.IsZero())

	orders, _, err := m.ListOrders(ctx, OrderFilter{StoreID: s.ID, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPlaceOrderMergesRepeatedLines(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	c := seedCustomer(t, m, "omar")
	p := seedProduct(t, m, s.ID, "5", 3)

	_, err := m.PlaceOrder(ctx, newOrder(s.ID, c.ID, t0, line(p, 2), line(p, 2)))
	require.Error(t, err)

	got, _ := m.GetProduct(ctx, p.ID)
	assert.Equal(t, 3, got.Stock)
}

func TestPlaceOrderUpdatesStockAndStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	c := seedCustomer(t, m, "lina")
	p := seedProduct(t, m, s.ID, "25.50", 10)

	placed, err := m.PlaceOrder(ctx, newOrder(s.ID, c.ID, t0, line(p, 2)))
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260314-000001", placed.OrderNumber)
	assert.True(t, placed.Total.Equal(decimal.RequireFromString("51")))
	assert.True(t, placed.TotalsConsistent())

	_, err = m.PlaceOrder(ctx, newOrder(s.ID, c.ID, t0.Add(time.Minute), line(p, 1)))
	require.NoError(t, err)

	got, _ := m.GetProduct(ctx, p.ID)
	assert.Equal(t, 7, got.Stock)
	assert.Equal(t, 3, got.Stats.Sales)

	store, _ := m.GetStore(ctx, s.ID)
	assert.Equal(t, 2, store.Stats.TotalOrders)
	assert.Equal(t, 1, store.Stats.TotalCustomers)
	assert.True(t, store.Stats.TotalRevenue.Equal(decimal.RequireFromString("76.5")))
}

func TestPlaceOrderRejections(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 1})
	other := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	c := seedCustomer(t, m, "noor")
	p := seedProduct(t, m, s.ID, "1", 10)
	foreign := seedProduct(t, m, other.ID, "1", 10)

	_, err := m.PlaceOrder(ctx, newOrder(s.ID, c.ID, t0, line(foreign, 1)))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.PlaceOrder(ctx, newOrder(s.ID, c.ID, t0, line(p, 1)))
	require.NoError(t, err)
	_, err = m.PlaceOrder(ctx, newOrder(s.ID, c.ID, t0, line(p, 1)))
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	require.NoError(t, m.mutateStore(other.ID, func(st *domain.Store) { st.IsActive = false }))
	_, err = m.PlaceOrder(ctx, newOrder(other.ID, c.ID, t0, line(foreign, 1)))
	assert.ErrorIs(t, err, ErrStoreInactive)
}

func TestCreatePendingOrderEnforcesOrderLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 1})
	c := seedCustomer(t, m, "reem")
	p := seedProduct(t, m, s.ID, "1", 10)

	_, err := m.PlaceOrder(ctx, newOrder(s.ID, c.ID, t0, line(p, 1)))
	require.NoError(t, err)
	o := newOrder(s.ID, c.ID, t0, line(p, 1))
	o.PaymentMethod = domain.PaymentCard
	_, err = m.CreatePendingOrder(ctx, o)
	assert.ErrorIs(t, err, ErrLimitReached)
	_, err = m.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.mutateStore(s.ID, func(st *domain.Store) { st.IsActive = false }))
	_, err = m.CreatePendingOrder(ctx, o)
	assert.ErrorIs(t, err, ErrStoreInactive)
}

func TestCreateProductEnforcesLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 2, MaxOrders: 100})
	p := seedProduct(t, m, s.ID, "1", 1)
	seedProduct(t, m, s.ID, "1", 1)

	err := m.CreateProduct(ctx, domain.Product{ID: domain.NewID("prd"), StoreID: s.ID, Name: "third"})
	assert.ErrorIs(t, err, ErrLimitReached)

	require.NoError(t, m.DeleteProduct(ctx, s.ID, p.ID))
	store, _ := m.GetStore(ctx, s.ID)
	assert.Equal(t, 1, store.Stats.TotalProducts)
	require.NoError(t, m.CreateProduct(ctx, domain.Product{ID: domain.NewID("prd"), StoreID: s.ID, Name: "third"}))
}

func pendingCardOrder(t *testing.T, m *Memory, s domain.Store, c domain.User, items ...domain.OrderItem) domain.Order {
	t.Helper()
	o := newOrder(s.ID, c.ID, t0, items...)
	o.PaymentMethod = domain.PaymentCard
	created, err := m.CreatePendingOrder(context.Background(), o)
	require.NoError(t, err)
	return created
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	c := seedCustomer(t, m, "huda")
	p := seedProduct(t, m, s.ID, "40", 5)
	o := pendingCardOrder(t, m, s, c, line(p, 2))

	pc := PaymentConfirmation{
		Event:           ProcessedEvent{ID: "evt_1", Source: SourcePayments, Type: "checkout.session.completed", ProcessedAt: t0},
		OrderID:         o.ID,
		PaymentIntentID: "pi_1",
		PaidAt:          t0.Add(time.Minute),
	}
	res, err := m.ConfirmPayment(ctx, pc)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.PaymentPaid, res.Order.PaymentStatus)
	assert.Equal(t, domain.OrderConfirmed, res.Order.Status)
	assert.Equal(t, "pi_1", res.Order.StripePaymentIntentID)

	res, err = m.ConfirmPayment(ctx, pc)
	require.NoError(t, err)
	assert.False(t, res.Applied)

	pc.Event.ID = "evt_2"
	res, err = m.ConfirmPayment(ctx, pc)
	require.NoError(t, err)
	assert.False(t, res.Applied, "already paid order is not applied twice")

	got, _ := m.GetProduct(ctx, p.ID)
	assert.Equal(t, 3, got.Stock)
	assert.Equal(t, 2, got.Stats.Sales)
	store, _ := m.GetStore(ctx, s.ID)
	assert.Equal(t, 1, store.Stats.TotalOrders)
	assert.True(t, store.Stats.TotalRevenue.Equal(decimal.NewFromInt(80)))
}

func TestConfirmPaymentClampsStock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	c := seedCustomer(t, m, "ali")
	p := seedProduct(t, m, s.ID, "10", 1)
	o := pendingCardOrder(t, m, s, c, line(p, 3))

	res, err := m.ConfirmPayment(ctx, PaymentConfirmation{
		Event: ProcessedEvent{ID: "evt_c"}, OrderID: o.ID, PaidAt: t0,
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.False(t, res.RefundDue)
	assert.Equal(t, []string{p.ID}, res.Oversold)
	assert.Equal(t, domain.OrderConfirmed, res.Order.Status)

	got, _ := m.GetProduct(ctx, p.ID)
	assert.Zero(t, got.Stock)
	assert.Equal(t, 3, got.Stats.Sales)
}

func TestConfirmPaymentForCancelledOrderTakesNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	c := seedCustomer(t, m, "ali")
	p := seedProduct(t, m, s.ID, "10", 5)
	o := pendingCardOrder(t, m, s, c, line(p, 3))

	cancelled := o
	cancelled.StampTransition(domain.OrderCancelled, t0)
	require.NoError(t, m.UpdateOrderStatus(ctx, cancelled, domain.OrderPending))

	res, err := m.ConfirmPayment(ctx, PaymentConfirmation{
		Event: ProcessedEvent{ID: "evt_late"}, OrderID: o.ID, PaidAt: t0,
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.RefundDue)
	assert.Equal(t, domain.OrderCancelled, res.Order.Status)
	assert.Equal(t, domain.PaymentPaid, res.Order.PaymentStatus)

	got, _ := m.GetProduct(ctx, p.ID)
	assert.Equal(t, 5, got.Stock)
	assert.Zero(t, got.Stats.Sales)
	st, _ := m.GetStore(ctx, s.ID)
	assert.Zero(t, st.Stats.TotalOrders)
	assert.True(t, st.Stats.TotalRevenue.IsZero())
}

func TestMarkPaymentFailedNeverDowngradesPaid(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	c := seedCustomer(t, m, "reem")
	p := seedProduct(t, m, s.ID, "10", 5)
	unpaid := pendingCardOrder(t, m, s, c, line(p, 1))
	paid := pendingCardOrder(t, m, s, c, line(p, 1))

	_, err := m.ConfirmPayment(ctx, PaymentConfirmation{Event: ProcessedEvent{ID: "evt_ok"}, OrderID: paid.ID, PaymentIntentID: "pi_paid", PaidAt: t0})
	require.NoError(t, err)

	applied, err := m.MarkPaymentFailed(ctx, PaymentFailure{Event: ProcessedEvent{ID: "evt_f1"}, PaymentIntentID: "pi_paid"})
	require.NoError(t, err)
	assert.False(t, applied)
	got, _ := m.GetOrder(ctx, paid.ID)
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)

	applied, err = m.MarkPaymentFailed(ctx, PaymentFailure{Event: ProcessedEvent{ID: "evt_f2"}, OrderID: unpaid.ID, PaymentIntentID: "pi_x"})
	require.NoError(t, err)
	assert.True(t, applied)
	got, _ = m.GetOrder(ctx, unpaid.ID)
	assert.Equal(t, domain.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, "pi_x", got.StripePaymentIntentID)

	_, err = m.MarkPaymentFailed(ctx, PaymentFailure{Event: ProcessedEvent{ID: "evt_f3"}, PaymentIntentID: "pi_unknown"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateOrderStatusCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	c := seedCustomer(t, m, "yara")
	p := seedProduct(t, m, s.ID, "10", 5)
	o, err := m.PlaceOrder(ctx, newOrder(s.ID, c.ID, t0, line(p, 1)))
	require.NoError(t, err)

	next := o
	next.StampTransition(domain.OrderProcessing, t0.Add(time.Hour))
	require.NoError(t, m.UpdateOrderStatus(ctx, next, domain.OrderPending))

	stale := o
	stale.StampTransition(domain.OrderCancelled, t0.Add(2*time.Hour))
	err = m.UpdateOrderStatus(ctx, stale, domain.OrderPending)
	assert.ErrorIs(t, err, ErrStaleWrite)
	assert.ErrorIs(t, err, httpx.ErrConflict)

	got, _ := m.GetOrder(ctx, o.ID)
	assert.Equal(t, domain.OrderProcessing, got.Status)
	assert.Nil(t, got.CancelledAt)

	missing := next
	missing.ID = "ord_missing"
	assert.ErrorIs(t, m.UpdateOrderStatus(ctx, missing, domain.OrderProcessing), ErrNotFound)
}

func TestListProductsPublicCursorPagination(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: domain.Unlimited, MaxOrders: 100})

	for i := 0; i < 5; i++ {
		p := domain.Product{ID: fmt.Sprintf("prd_%d", i), StoreID: s.ID, Name: fmt.Sprintf("item %d", i),
			Price: decimal.NewFromInt(1), Status: domain.ProductActive, IsVisible: true,
			IsFeatured: i == 1, CreatedAt: t0.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, m.CreateProduct(ctx, p))
	}
	require.NoError(t, m.CreateProduct(ctx, domain.Product{ID: "prd_hidden", StoreID: s.ID, Status: domain.ProductActive, CreatedAt: t0}))
	want := []string{"prd_1", "prd_4", "prd_3", "prd_2", "prd_0"}

	var got []string
	cursor := ""
	for {
		page, next, err := m.ListProducts(ctx, ProductFilter{StoreID: s.ID, Public: true, Cursor: cursor, Limit: 2})
		require.NoError(t, err)
		for _, p := range page {
			got = append(got, p.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, want, got)

	_, _, err := m.ListProducts(ctx, ProductFilter{StoreID: s.ID, Public: true, Cursor: "garbage", Limit: 2})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestListProductsFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: domain.Unlimited, MaxOrders: 100})
	mk := func(id, name, category, price string, status domain.ProductStatus) {
		require.NoError(t, m.CreateProduct(ctx, domain.Product{ID: id, StoreID: s.ID, Name: name, Category: category,
			Price: decimal.RequireFromString(price), Status: status, IsVisible: true, CreatedAt: t0}))
	}
	mk("p1", "Red Shirt", "shirts", "50", domain.ProductActive)
	mk("p2", "Blue Shirt", "shirts", "150", domain.ProductActive)
	mk("p3", "Red Hat", "hats", "20", domain.ProductDraft)

	floor := decimal.NewFromInt(100)
	page, _, err := m.ListProducts(ctx, ProductFilter{StoreID: s.ID, MinPrice: &floor, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "p2", page[0].ID)

	page, _, err = m.ListProducts(ctx, ProductFilter{StoreID: s.ID, Search: "red", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, _, err = m.ListProducts(ctx, ProductFilter{StoreID: s.ID, Search: "red", Public: true, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	cats, err := m.PublicCategories(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"shirts"}, cats)

	counts, err := m.CountProducts(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, ProductCounts{Active: 2, LowStock: 2}, counts)
}

func TestStoreCustomersAggregatesOrders(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	a := seedCustomer(t, m, "amal")
	b := seedCustomer(t, m, "badr")
	p := seedProduct(t, m, s.ID, "10", 100)

	_, err := m.PlaceOrder(ctx, newOrder(s.ID, a.ID, t0, line(p, 1)))
	require.NoError(t, err)
	_, err = m.PlaceOrder(ctx, newOrder(s.ID, a.ID, t0.Add(time.Hour), line(p, 2)))
	require.NoError(t, err)
	_, err = m.PlaceOrder(ctx, newOrder(s.ID, b.ID, t0.Add(30*time.Minute), line(p, 1)))
	require.NoError(t, err)

	got, err := m.StoreCustomers(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, 2, got[0].TotalOrders)
	assert.True(t, got[0].TotalSpent.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, t0.Add(time.Hour), got[0].LastOrderDate)

	counts, err := m.CountOrders(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 3, counts.Pending)

	store, _ := m.GetStore(ctx, s.ID)
	assert.Equal(t, 2, store.Stats.TotalCustomers)
}

func TestApplySubscriptionChangeDedupes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{MaxProducts: 10, MaxOrders: 100})
	calls := 0
	ch := SubscriptionChange{
		Event:   ProcessedEvent{ID: "evt_sub", Source: SourceSubscriptions},
		StoreID: s.ID,
		Apply: func(st *domain.Store) {
			calls++
			st.Subscription.Plan = domain.PlanPro
			st.Limits = domain.Limits{MaxProducts: domain.Unlimited, MaxOrders: domain.Unlimited}
		},
	}
	ok, err := m.ApplySubscriptionChange(ctx, ch)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.ApplySubscriptionChange(ctx, ch)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)

	got, _ := m.GetStore(ctx, s.ID)
	assert.Equal(t, domain.PlanPro, got.Subscription.Plan)
	assert.Equal(t, domain.Unlimited, got.Limits.MaxOrders)
}

func TestDuplicateEmailAndStoreName(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := seedStore(t, m, domain.Limits{})
	c := seedCustomer(t, m, "dup")

	err := m.CreateUser(ctx, domain.User{ID: "usr_x", Email: c.Email})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.ErrorIs(t, err, httpx.ErrValidation)

	err = m.CreateUserWithStore(ctx, domain.User{ID: "usr_y", Email: "new@example.com"},
		domain.Store{ID: "st_y", Name: "SHOP " + s.OwnerID})
	assert.ErrorIs(t, err, ErrDuplicateStore)
	_, err = m.GetUser(ctx, "usr_y")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.CreateUserWithStore(ctx, domain.User{ID: "usr_a", Email: "a@example.com"},
		domain.Store{ID: "st_a", Name: "Shop A", Slug: domain.Slugify("Shop A")}))
	err = m.CreateUserWithStore(ctx, domain.User{ID: "usr_b", Email: "b@example.com"},
		domain.Store{ID: "st_b", Name: "Shop-A", Slug: domain.Slugify("Shop-A")})
	assert.ErrorIs(t, err, ErrDuplicateStore)
	_, err = m.GetStore(ctx, "st_b")
	assert.ErrorIs(t, err, ErrNotFound)
}
