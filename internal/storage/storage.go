// Package storage persists users, stores, products and orders.
//
// Two implementations share the Repository contract: Postgres (through the pgx
// stdlib driver) and an in-process memory store used when no database is
// configured and by tests. Every multi-record write named here runs atomically
// in both.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
)

var (
	ErrNotFound       = fmt.Errorf("storage: record not found: %w", httpx.ErrNotFound)
	ErrDuplicate      = fmt.Errorf("storage: duplicate record: %w", httpx.ErrValidation)
	ErrStaleWrite     = fmt.Errorf("storage: record changed concurrently: %w", httpx.ErrConflict)
	ErrLimitReached   = fmt.Errorf("storage: plan limit reached: %w", httpx.ErrForbidden)
	ErrStoreInactive  = fmt.Errorf("storage: store is not active: %w", httpx.ErrNotFound)
	ErrDuplicateEmail = fmt.Errorf("email already registered: %w", ErrDuplicate)
	ErrDuplicateStore = fmt.Errorf("store name already taken: %w", ErrDuplicate)
)

// StockError reports a product whose stock cannot cover the requested quantity.
type StockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested", e.Name, e.Available, e.Requested)
}

func (e *StockError) Unwrap() error { return httpx.ErrInsufficientStock }

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Event sources for the processed webhook ledger.
const (
	SourcePayments      = "payments"
	SourceSubscriptions = "subscriptions"
)

// ProcessedEvent is one webhook delivery that has been applied.
type ProcessedEvent struct {
	ID          string    `json:"eventId"`
	Source      string    `json:"source"`
	Type        string    `json:"type"`
	ProcessedAt time.Time `json:"processedAt"`
}

type ProductFilter struct {
	StoreID  string
	Status   domain.ProductStatus
	Category string
	Search   string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	// Public restricts to active, visible products ordered featured first.
	Public bool
	Cursor string
	Limit  int
}

type ProductCounts struct {
	Active   int `json:"activeProducts"`
	LowStock int `json:"lowStockProducts"`
}

// LowStockThreshold is the stock level below which an active product counts as low.
const LowStockThreshold = 10

type OrderFilter struct {
	StoreID    string
	CustomerID string
	Status     domain.OrderStatus
	Cursor     string
	Limit      int
}

// OrderCounts is the per-status breakdown of a store's orders.
type OrderCounts struct {
	Total      int `json:"totalOrders"`
	Pending    int `json:"pendingOrders"`
	Confirmed  int `json:"confirmedOrders"`
	Processing int `json:"processingOrders"`
	Shipped    int `json:"shippedOrders"`
	Delivered  int `json:"deliveredOrders"`
	Cancelled  int `json:"cancelledOrders"`
}

func (c *OrderCounts) add(status domain.OrderStatus, n int) {
	c.Total += n
	switch status {
	case domain.OrderPending:
		c.Pending += n
	case domain.OrderConfirmed:
		c.Confirmed += n
	case domain.OrderProcessing:
		c.Processing += n
	case domain.OrderShipped:
		c.Shipped += n
	case domain.OrderDelivered:
		c.Delivered += n
	case domain.OrderCancelled:
		c.Cancelled += n
	}
}

// CustomerSummary aggregates one customer's orders at a store.
type CustomerSummary struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	Phone         string          `json:"phone,omitempty"`
	JoinedAt      time.Time       `json:"joinedAt"`
	TotalOrders   int             `json:"totalOrders"`
	TotalSpent    decimal.Decimal `json:"totalSpent"`
	LastOrderDate time.Time       `json:"lastOrderDate"`
}

// PaymentConfirmation marks a card order paid after checkout completes.
type PaymentConfirmation struct {
	Event           ProcessedEvent
	OrderID         string
	PaymentIntentID string
	PaidAt          time.Time
}

// ConfirmResult describes what ConfirmPayment did.
type ConfirmResult struct {
	Order domain.Order
	// Applied is false when the event was a replay or the order was already paid.
	Applied bool
	// Oversold lists products whose stock was clamped at zero.
	Oversold []string
	// RefundDue is set when the order was cancelled before the payment arrived.
	// The order is marked paid but no stock is taken and nothing is counted.
	RefundDue bool
}

// PaymentFailure marks an order's payment failed.
type PaymentFailure struct {
	Event           ProcessedEvent
	OrderID         string
	PaymentIntentID string
}

// SubscriptionChange is applied to a store when a subscription webhook arrives.
type SubscriptionChange struct {
	Event   ProcessedEvent
	StoreID string
	Apply   func(s *domain.Store)
}

// Repository is the persistence contract shared by every component.
type Repository interface {
	Mode() string
	Close() error

	CreateUser(ctx context.Context, u domain.User) error
	// CreateUserWithStore inserts a store owner and their store atomically.
	CreateUserWithStore(ctx context.Context, u domain.User, s domain.Store) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateUser(ctx context.Context, u domain.User) error
	TouchLogin(ctx context.Context, id string, at time.Time) error

	GetStore(ctx context.Context, id string) (domain.Store, error)
	StoreNameTaken(ctx context.Context, name, exceptID string) (bool, error)
	// UpdateStoreProfile writes the owner-editable store fields.
	UpdateStoreProfile(ctx context.Context, s domain.Store) error
	ListActiveStores(ctx context.Context) ([]domain.Store, error)
	FindStoreBySubscription(ctx context.Context, subscriptionID string) (domain.Store, error)
	FindStoreByCustomer(ctx context.Context, customerID string) (domain.Store, error)
	SetStripeCustomer(ctx context.Context, storeID, customerID string) error
	SetCancelAtPeriodEnd(ctx context.Context, storeID string, cancel bool) error
	// ApplySubscriptionChange records the event and mutates the store in one
	// transaction. It returns false when the event was already processed.
	ApplySubscriptionChange(ctx context.Context, ch SubscriptionChange) (bool, error)
	// RecordEvent adds an event to the ledger, returning false on replay.
	RecordEvent(ctx context.Context, ev ProcessedEvent) (bool, error)

	// CreateProduct inserts p and bumps the store's product counter, failing with
	// ErrLimitReached when the store is at its product limit.
	CreateProduct(ctx context.Context, p domain.Product) error
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	// UpdateProduct writes the editable fields of p and returns the stored row.
	// Stock is written only when setStock is true so concurrent orders keep
	// their decrement.
	UpdateProduct(ctx context.Context, p domain.Product, setStock bool) (domain.Product, error)
	DeleteProduct(ctx context.Context, storeID, id string) error
	ListProducts(ctx context.Context, f ProductFilter) ([]domain.Product, string, error)
	CountProducts(ctx context.Context, storeID string) (ProductCounts, error)
	PublicCategories(ctx context.Context, storeID string) ([]string, error)
	IncrementProductViews(ctx context.Context, id string) error

	// PlaceOrder reserves stock, assigns the order number, inserts the order and
	// updates store statistics in one transaction.
	PlaceOrder(ctx context.Context, o domain.Order) (domain.Order, error)
	// CreatePendingOrder inserts an unpaid card order without touching stock. It
	// applies the same store and order-limit checks as PlaceOrder.
	CreatePendingOrder(ctx context.Context, o domain.Order) (domain.Order, error)
	SetOrderSession(ctx context.Context, orderID, sessionID string) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]domain.Order, string, error)
	// UpdateOrderStatus persists o if the stored status still equals from.
	UpdateOrderStatus(ctx context.Context, o domain.Order, from domain.OrderStatus) error
	ConfirmPayment(ctx context.Context, pc PaymentConfirmation) (ConfirmResult, error)
	MarkPaymentFailed(ctx context.Context, pf PaymentFailure) (bool, error)
	CountOrders(ctx context.Context, storeID string) (OrderCounts, error)
	StoreCustomers(ctx context.Context, storeID string) ([]CustomerSummary, error)
}

// mergeItems folds repeated product lines into one quantity per product, keeping
// first-seen order.
func mergeItems(items []domain.OrderItem) ([]string, map[string]int) {
	order := make([]string, 0, len(items))
	qty := make(map[string]int, len(items))
	for _, it := range items {
		if _, seen := qty[it.ProductID]; !seen {
			order = append(order, it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}
	return order, qty
}
