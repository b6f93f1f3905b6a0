package storage

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"erp/ecommerce/storepro/internal/domain"
)

// Memory keeps every record in process. One lock guards all maps so each
// operation is atomic the way a database transaction would be.
type Memory struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	stores    map[string]domain.Store
	products  map[string]domain.Product
	orders    map[string]domain.Order
	events    map[string]ProcessedEvent
	customers map[string]map[string]bool // store id -> customer ids with a counted order
	orderSeq  int64
	now       func() time.Time
}

// NewMemory returns an empty in-process repository.
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]domain.User),
		stores:    make(map[string]domain.Store),
		products:  make(map[string]domain.Product),
		orders:    make(map[string]domain.Order),
		events:    make(map[string]ProcessedEvent),
		customers: make(map[string]map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Mode() string { return "memory" }
func (m *Memory) Close() error { return nil }

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (m *Memory) emailTakenLocked(email, exceptID string) bool {
	for _, u := range m.users {
		if u.Email == email && u.ID != exceptID {
			return true
		}
	}
	return false
}

func (m *Memory) storeNameTakenLocked(name, exceptID string) bool {
	for _, s := range m.stores {
		if strings.EqualFold(s.Name, name) && s.ID != exceptID {
			return true
		}
	}
	return false
}

func (m *Memory) slugTakenLocked(slug string) bool {
	for _, s := range m.stores {
		if s.Slug == slug {
			return true
		}
	}
	return false
}

func (m *Memory) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTakenLocked(u.Email, "") {
		return ErrDuplicateEmail
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) CreateUserWithStore(_ context.Context, u domain.User, s domain.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTakenLocked(u.Email, "") {
		return ErrDuplicateEmail
	}
	if m.storeNameTakenLocked(s.Name, "") || m.slugTakenLocked(s.Slug) {
		return ErrDuplicateStore
	}
	m.users[u.ID] = u
	m.stores[s.ID] = s
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, ErrNotFound
}

func (m *Memory) UpdateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	if m.emailTakenLocked(u.Email, u.ID) {
		return ErrDuplicateEmail
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) TouchLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = &at
	m.users[id] = u
	return nil
}

// ---------------------------------------------------------------------------
// Stores
// ---------------------------------------------------------------------------

func (m *Memory) GetStore(_ context.Context, id string) (domain.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[id]
	if !ok {
		return domain.Store{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) StoreNameTaken(_ context.Context, name, exceptID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.storeNameTakenLocked(name, exceptID), nil
}

func (m *Memory) UpdateStoreProfile(_ context.Context, s domain.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.stores[s.ID]
	if !ok {
		return ErrNotFound
	}
	if m.storeNameTakenLocked(s.Name, s.ID) {
		return ErrDuplicateStore
	}
	cur.Name = s.Name
	cur.Description = s.Description
	cur.Logo = s.Logo
	cur.Banner = s.Banner
	cur.Email = s.Email
	cur.Phone = s.Phone
	cur.Address = s.Address
	cur.Settings = s.Settings
	cur.UpdatedAt = s.UpdatedAt
	m.stores[s.ID] = cur
	return nil
}

func (m *Memory) ListActiveStores(_ context.Context) ([]domain.Store, error) {
	m.mu.RLock()
	out := lo.Filter(lo.Values(m.stores), func(s domain.Store, _ int) bool { return s.IsActive })
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) findStore(match func(domain.Store) bool) (domain.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.stores {
		if match(s) {
			return s, nil
		}
	}
	return domain.Store{}, ErrNotFound
}

func (m *Memory) FindStoreBySubscription(_ context.Context, subscriptionID string) (domain.Store, error) {
	if subscriptionID == "" {
		return domain.Store{}, ErrNotFound
	}
	return m.findStore(func(s domain.Store) bool { return s.Subscription.StripeSubscriptionID == subscriptionID })
}

func (m *Memory) FindStoreByCustomer(_ context.Context, customerID string) (domain.Store, error) {
	if customerID == "" {
		return domain.Store{}, ErrNotFound
	}
	return m.findStore(func(s domain.Store) bool { return s.Subscription.StripeCustomerID == customerID })
}

func (m *Memory) mutateStore(id string, fn func(s *domain.Store)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[id]
	if !ok {
		return ErrNotFound
	}
	fn(&s)
	s.UpdatedAt = m.now()
	m.stores[id] = s
	return nil
}

func (m *Memory) SetStripeCustomer(_ context.Context, storeID, customerID string) error {
	return m.mutateStore(storeID, func(s *domain.Store) { s.Subscription.StripeCustomerID = customerID })
}

func (m *Memory) SetCancelAtPeriodEnd(_ context.Context, storeID string, cancel bool) error {
	return m.mutateStore(storeID, func(s *domain.Store) { s.Subscription.CancelAtPeriodEnd = cancel })
}

func (m *Memory) ApplySubscriptionChange(_ context.Context, ch SubscriptionChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.events[ch.Event.ID]; seen {
		return false, nil
	}
	s, ok := m.stores[ch.StoreID]
	if !ok {
		return false, ErrNotFound
	}
	ch.Apply(&s)
	s.UpdatedAt = m.now()
	m.stores[s.ID] = s
	m.events[ch.Event.ID] = ch.Event
	return true, nil
}

func (m *Memory) RecordEvent(_ context.Context, ev ProcessedEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.events[ev.ID]; seen {
		return false, nil
	}
	m.events[ev.ID] = ev
	return true, nil
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

func cloneProduct(p domain.Product) domain.Product {
	p.Images = slices.Clone(p.Images)
	p.Tags = slices.Clone(p.Tags)
	return p
}

func (m *Memory) CreateProduct(_ context.Context, p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[p.StoreID]
	if !ok {
		return ErrNotFound
	}
	if !domain.Allows(s.Limits.MaxProducts, s.Stats.TotalProducts) {
		return ErrLimitReached
	}
	s.Stats.TotalProducts++
	m.stores[s.ID] = s
	m.products[p.ID] = cloneProduct(p)
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id string) (domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, ErrNotFound
	}
	return cloneProduct(p), nil
}

func (m *Memory) UpdateProduct(_ context.Context, p domain.Product, setStock bool) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.products[p.ID]
	if !ok || cur.StoreID != p.StoreID {
		return domain.Product{}, ErrNotFound
	}
	p.Stats = cur.Stats
	if !setStock {
		p.Stock = cur.Stock
	}
	m.products[p.ID] = cloneProduct(p)
	return cloneProduct(p), nil
}

func (m *Memory) DeleteProduct(_ context.Context, storeID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok || p.StoreID != storeID {
		return ErrNotFound
	}
	delete(m.products, id)
	if s, ok := m.stores[storeID]; ok && s.Stats.TotalProducts > 0 {
		s.Stats.TotalProducts--
		m.stores[storeID] = s
	}
	return nil
}

func matchesProduct(p domain.Product, f ProductFilter) bool {
	if p.StoreID != f.StoreID {
		return false
	}
	if f.Public && (p.Status != domain.ProductActive || !p.IsVisible) {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Description), q) {
			return false
		}
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}

func productKey(p domain.Product) pageKey {
	return pageKey{Featured: p.IsFeatured, At: p.CreatedAt, ID: p.ID}
}

func (m *Memory) ListProducts(_ context.Context, f ProductFilter) ([]domain.Product, string, error) {
	cur, hasCursor, err := decodePageKey(f.Cursor, f.Public)
	if err != nil {
		return nil, "", err
	}
	m.mu.RLock()
	items := make([]domain.Product, 0)
	for _, p := range m.products {
		if matchesProduct(p, f) {
			items = append(items, cloneProduct(p))
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return productKey(items[i]).less(productKey(items[j]), f.Public) })
	if hasCursor {
		items = lo.Filter(items, func(p domain.Product, _ int) bool { return productKey(p).after(cur, f.Public) })
	}
	if len(items) <= f.Limit {
		return items, "", nil
	}
	last := items[f.Limit-1]
	return items[:f.Limit], productKey(last).encode(f.Public), nil
}

func (m *Memory) CountProducts(_ context.Context, storeID string) (ProductCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c ProductCounts
	for _, p := range m.products {
		if p.StoreID != storeID || p.Status != domain.ProductActive {
			continue
		}
		c.Active++
		if p.Stock < LowStockThreshold {
			c.LowStock++
		}
	}
	return c, nil
}

func (m *Memory) PublicCategories(_ context.Context, storeID string) ([]string, error) {
	m.mu.RLock()
	cats := make([]string, 0)
	for _, p := range m.products {
		if p.StoreID == storeID && p.Status == domain.ProductActive && p.Category != "" {
			cats = append(cats, p.Category)
		}
	}
	m.mu.RUnlock()
	cats = lo.Uniq(cats)
	sort.Strings(cats)
	return cats, nil
}

func (m *Memory) IncrementProductViews(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return ErrNotFound
	}
	p.Stats.Views++
	m.products[id] = p
	return nil
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

func (m *Memory) nextOrderNumberLocked(at time.Time) string {
	m.orderSeq++
	return domain.FormatOrderNumber(at, m.orderSeq)
}

// countOrderLocked adds a paid-for or placed order to the store counters.
func (m *Memory) countOrderLocked(s *domain.Store, o domain.Order) {
	s.Stats.TotalOrders++
	s.Stats.TotalRevenue = s.Stats.TotalRevenue.Add(o.Total)
	seen := m.customers[s.ID]
	if seen == nil {
		seen = make(map[string]bool)
		m.customers[s.ID] = seen
	}
	if !seen[o.CustomerID] {
		seen[o.CustomerID] = true
		s.Stats.TotalCustomers++
	}
}

func (m *Memory) PlaceOrder(_ context.Context, o domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stores[o.StoreID]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	if !s.IsActive {
		return domain.Order{}, ErrStoreInactive
	}
	if !domain.Allows(s.Limits.MaxOrders, s.Stats.TotalOrders) {
		return domain.Order{}, ErrLimitReached
	}

	ids, qty := mergeItems(o.Items)
	for _, id := range ids {
		p, ok := m.products[id]
		if !ok || p.StoreID != o.StoreID {
			return domain.Order{}, ErrNotFound
		}
		if p.Stock < qty[id] {
			return domain.Order{}, &StockError{ProductID: id, Name: p.Name, Available: p.Stock, Requested: qty[id]}
		}
	}
	for _, id := range ids {
		p := m.products[id]
		p.Stock -= qty[id]
		p.Stats.Sales += qty[id]
		p.UpdatedAt = o.CreatedAt
		m.products[id] = p
	}

	o.OrderNumber = m.nextOrderNumberLocked(o.CreatedAt)
	m.orders[o.ID] = cloneOrder(o)
	m.countOrderLocked(&s, o)
	m.stores[s.ID] = s
	return o, nil
}

func (m *Memory) CreatePendingOrder(_ context.Context, o domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[o.StoreID]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	if !s.IsActive {
		return domain.Order{}, ErrStoreInactive
	}
	if !domain.Allows(s.Limits.MaxOrders, s.Stats.TotalOrders) {
		return domain.Order{}, ErrLimitReached
	}
	o.OrderNumber = m.nextOrderNumberLocked(o.CreatedAt)
	m.orders[o.ID] = cloneOrder(o)
	return o, nil
}

func (m *Memory) SetOrderSession(_ context.Context, orderID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.StripeSessionID = sessionID
	o.UpdatedAt = m.now()
	m.orders[orderID] = o
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

func orderKey(o domain.Order) pageKey { return pageKey{At: o.CreatedAt, ID: o.ID} }

func (m *Memory) ListOrders(_ context.Context, f OrderFilter) ([]domain.Order, string, error) {
	cur, hasCursor, err := decodePageKey(f.Cursor, false)
	if err != nil {
		return nil, "", err
	}
	m.mu.RLock()
	items := make([]domain.Order, 0)
	for _, o := range m.orders {
		if f.StoreID != "" && o.StoreID != f.StoreID {
			continue
		}
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if hasCursor && !orderKey(o).after(cur, false) {
			continue
		}
		items = append(items, cloneOrder(o))
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return orderKey(items[i]).less(orderKey(items[j]), false) })
	if len(items) <= f.Limit {
		return items, "", nil
	}
	last := items[f.Limit-1]
	return items[:f.Limit], orderKey(last).encode(false), nil
}

func (m *Memory) UpdateOrderStatus(_ context.Context, o domain.Order, from domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != from {
		return ErrStaleWrite
	}
	cur.Status = o.Status
	cur.ShippedAt = o.ShippedAt
	cur.DeliveredAt = o.DeliveredAt
	cur.CancelledAt = o.CancelledAt
	cur.AdminNotes = o.AdminNotes
	cur.UpdatedAt = o.UpdatedAt
	m.orders[o.ID] = cur
	return nil
}

func (m *Memory) ConfirmPayment(_ context.Context, pc PaymentConfirmation) (ConfirmResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[pc.OrderID]
	if !ok {
		return ConfirmResult{}, ErrNotFound
	}
	if _, seen := m.events[pc.Event.ID]; seen {
		return ConfirmResult{Order: cloneOrder(o)}, nil
	}
	m.events[pc.Event.ID] = pc.Event
	if o.PaymentStatus == domain.PaymentPaid {
		return ConfirmResult{Order: cloneOrder(o)}, nil
	}

	paidAt := pc.PaidAt
	o.PaymentStatus = domain.PaymentPaid
	if o.Status == domain.OrderPending {
		o.Status = domain.OrderConfirmed
	}
	o.PaidAt = &paidAt
	if pc.PaymentIntentID != "" {
		o.StripePaymentIntentID = pc.PaymentIntentID
	}
	o.UpdatedAt = paidAt
	if o.Status == domain.OrderCancelled {
		m.orders[o.ID] = o
		return ConfirmResult{Order: cloneOrder(o), Applied: true, RefundDue: true}, nil
	}

	var oversold []string
	ids, qty := mergeItems(o.Items)
	for _, id := range ids {
		p, ok := m.products[id]
		if !ok {
			continue
		}
		if p.Stock < qty[id] {
			oversold = append(oversold, id)
			p.Stock = 0
		} else {
			p.Stock -= qty[id]
		}
		p.Stats.Sales += qty[id]
		p.UpdatedAt = paidAt
		m.products[id] = p
	}

	if s, ok := m.stores[o.StoreID]; ok {
		m.countOrderLocked(&s, o)
		m.stores[s.ID] = s
	}
	m.orders[o.ID] = o
	return ConfirmResult{Order: cloneOrder(o), Applied: true, Oversold: oversold}, nil
}

func (m *Memory) MarkPaymentFailed(_ context.Context, pf PaymentFailure) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target *domain.Order
	if o, ok := m.orders[pf.OrderID]; ok {
		target = &o
	} else if pf.PaymentIntentID != "" {
		for _, o := range m.orders {
			if o.StripePaymentIntentID == pf.PaymentIntentID {
				target = &o
				break
			}
		}
	}
	if target == nil {
		return false, ErrNotFound
	}
	if _, seen := m.events[pf.Event.ID]; seen {
		return false, nil
	}
	m.events[pf.Event.ID] = pf.Event
	if target.PaymentStatus == domain.PaymentPaid {
		return false, nil
	}
	target.PaymentStatus = domain.PaymentFailed
	if pf.PaymentIntentID != "" {
		target.StripePaymentIntentID = pf.PaymentIntentID
	}
	target.UpdatedAt = m.now()
	m.orders[target.ID] = *target
	return true, nil
}

func (m *Memory) CountOrders(_ context.Context, storeID string) (OrderCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c OrderCounts
	for _, o := range m.orders {
		if o.StoreID == storeID {
			c.add(o.Status, 1)
		}
	}
	return c, nil
}

func (m *Memory) StoreCustomers(_ context.Context, storeID string) ([]CustomerSummary, error) {
	m.mu.RLock()
	byCustomer := lo.GroupBy(
		lo.Filter(lo.Values(m.orders), func(o domain.Order, _ int) bool { return o.StoreID == storeID }),
		func(o domain.Order) string { return o.CustomerID },
	)
	out := make([]CustomerSummary, 0, len(byCustomer))
	for customerID, orders := range byCustomer {
		u, ok := m.users[customerID]
		if !ok {
			continue
		}
		sum := CustomerSummary{
			ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone, JoinedAt: u.CreatedAt,
			TotalOrders: len(orders), TotalSpent: decimal.Zero,
		}
		for _, o := range orders {
			sum.TotalSpent = sum.TotalSpent.Add(o.Total)
			if o.CreatedAt.After(sum.LastOrderDate) {
				sum.LastOrderDate = o.CreatedAt
			}
		}
		out = append(out, sum)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastOrderDate.After(out[j].LastOrderDate) })
	return out, nil
}

var _ Repository = (*Memory)(nil)
