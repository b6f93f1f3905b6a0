// Package orders places cash orders, moves them through fulfillment and reports
// per-store order figures. Card checkout reuses Prepare from the payments package.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"erp/ecommerce/storepro/internal/auth"
	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/cache"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/platform/telemetry"
	"erp/ecommerce/storepro/internal/storage"
)

// Mailer sends the order e-mails. Calls must not block.
type Mailer interface {
	OrderConfirmation(o domain.Order, customer domain.User, s domain.Store)
	StatusUpdate(o domain.Order, customer domain.User, s domain.Store)
}

type LineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type PlaceRequest struct {
	StoreID         string                 `json:"storeId"`
	Items           []LineRequest          `json:"items"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	CustomerNotes   string                 `json:"customerNotes"`
}

type StatusRequest struct {
	Status     string  `json:"status"`
	AdminNotes *string `json:"adminNotes"`
}

type Service struct {
	repo  storage.Repository
	mail  Mailer
	cache cache.Cache
	log   *slog.Logger
	now   func() time.Time
}

func NewService(repo storage.Repository, mail Mailer, c cache.Cache, log *slog.Logger) *Service {
	return &Service{repo: repo, mail: mail, cache: c, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Prepare validates req against the store and its products and returns an
// unsaved pending order with snapshotted prices and computed totals. Stock is
// checked here and again atomically when the order is written.
func (s *Service) Prepare(ctx context.Context, actor domain.User, req PlaceRequest, method domain.PaymentMethod) (domain.Order, domain.Store, error) {
	const op = "orders.Prepare"
	if len(req.Items) == 0 {
		return domain.Order{}, domain.Store{}, httpx.Invalid(op, "order must contain at least one item")
	}
	storeID := strings.TrimSpace(req.StoreID)
	if storeID == "" {
		return domain.Order{}, domain.Store{}, httpx.Invalid(op, "storeId is required")
	}
	store, err := s.repo.GetStore(ctx, storeID)
	if storage.IsNotFound(err) || (err == nil && !store.IsActive) {
		return domain.Order{}, domain.Store{}, httpx.NotFound(op, "store not found")
	}
	if err != nil {
		return domain.Order{}, domain.Store{}, err
	}

	requested := make(map[string]int, len(req.Items))
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return domain.Order{}, domain.Store{}, httpx.Invalid(op, "quantity must be at least 1")
		}
		p, err := s.repo.GetProduct(ctx, line.ProductID)
		if storage.IsNotFound(err) || (err == nil && p.StoreID != store.ID) {
			return domain.Order{}, domain.Store{}, httpx.NotFound(op, fmt.Sprintf("product %s not found", line.ProductID))
		}
		if err != nil {
			return domain.Order{}, domain.Store{}, err
		}
		requested[p.ID] += line.Quantity
		if p.Stock < requested[p.ID] {
			return domain.Order{}, domain.Store{}, httpx.E(op, httpx.ErrInsufficientStock, "insufficient stock for "+p.Name)
		}
		items = append(items, domain.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  line.Quantity,
			Image:     p.PrimaryImage(),
		})
	}

	now := s.now()
	o := domain.Order{
		ID:              domain.NewID("ord"),
		CustomerID:      actor.ID,
		StoreID:         store.ID,
		Items:           items,
		ShippingCost:    decimal.Zero,
		Tax:             decimal.Zero,
		Discount:        decimal.Zero,
		ShippingAddress: req.ShippingAddress,
		Status:          domain.OrderPending,
		PaymentMethod:   method,
		PaymentStatus:   domain.PaymentPending,
		CustomerNotes:   strings.TrimSpace(req.CustomerNotes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.ApplyTotals()
	return o, store, nil
}

// Place creates a cash or bank-transfer order, reserving stock and updating the
// store counters in one write.
func (s *Service) Place(ctx context.Context, actor domain.User, req PlaceRequest) (domain.Order, error) {
	const op = "orders.Place"
	ctx, span := telemetry.StartSpan(ctx, "orders.Place", "store.id", req.StoreID)
	defer span.End()

	method := domain.ParsePaymentMethod(req.PaymentMethod)
	switch method {
	case "":
		return domain.Order{}, httpx.Invalid(op, "unknown payment method")
	case domain.PaymentCard:
		return domain.Order{}, httpx.Invalid(op, "card payments must use /payments/create-checkout")
	}
	o, store, err := s.Prepare(ctx, actor, req, method)
	if err != nil {
		return domain.Order{}, err
	}

	placed, err := s.repo.PlaceOrder(ctx, o)
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, WriteError(op, err)
	}
	s.cache.Invalidate(ctx, cache.StoreScope(store.ID))
	s.log.Info("order placed", "order_id", placed.ID, "order_number", placed.OrderNumber,
		"store_id", store.ID, "total", placed.Total.StringFixed(2))
	s.mail.OrderConfirmation(placed, actor, store)
	return placed, nil
}

// WriteError maps the storage errors of an order write to client errors.
func WriteError(op string, err error) error {
	var stock *storage.StockError
	switch {
	case errors.As(err, &stock):
		return httpx.Wrap(op, httpx.ErrInsufficientStock, "insufficient stock for "+stock.Name, err)
	case errors.Is(err, storage.ErrLimitReached):
		return httpx.Wrap(op, httpx.ErrForbidden, "this store has reached its order limit", err)
	case errors.Is(err, storage.ErrStoreInactive):
		return httpx.Wrap(op, httpx.ErrNotFound, "store not found", err)
	case storage.IsNotFound(err):
		return httpx.Wrap(op, httpx.ErrNotFound, "product or store not found", err)
	}
	return err
}

// Get returns an order visible to actor: its customer, a manager of its store or
// a platform admin.
func (s *Service) Get(ctx context.Context, actor domain.User, id string) (domain.Order, error) {
	const op = "orders.Get"
	o, err := s.repo.GetOrder(ctx, id)
	if storage.IsNotFound(err) {
		return domain.Order{}, httpx.NotFound(op, "order not found")
	}
	if err != nil {
		return domain.Order{}, err
	}
	if o.CustomerID != actor.ID && !auth.CanManageStore(actor, o.StoreID) {
		return domain.Order{}, httpx.Forbidden(op, "not authorized to view this order")
	}
	return o, nil
}

// ListStore returns orders of the actor's store.
func (s *Service) ListStore(ctx context.Context, actor domain.User, f storage.OrderFilter) ([]domain.Order, string, error) {
	if actor.StoreID == "" {
		return nil, "", httpx.Forbidden("orders.ListStore", "you must own a store")
	}
	f.StoreID = actor.StoreID
	f.CustomerID = ""
	return s.repo.ListOrders(ctx, f)
}

// ListMine returns the actor's own orders across stores.
func (s *Service) ListMine(ctx context.Context, actor domain.User, f storage.OrderFilter) ([]domain.Order, string, error) {
	f.StoreID = ""
	f.CustomerID = actor.ID
	return s.repo.ListOrders(ctx, f)
}

// UpdateStatus moves an order along the fulfillment state machine. Setting the
// current status again is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.User, id string, req StatusRequest) (domain.Order, error) {
	const op = "orders.UpdateStatus"
	to := domain.ParseOrderStatus(req.Status)
	if to == "" {
		return domain.Order{}, httpx.Invalid(op, "unknown order status")
	}
	o, err := s.repo.GetOrder(ctx, id)
	if storage.IsNotFound(err) {
		return domain.Order{}, httpx.NotFound(op, "order not found")
	}
	if err != nil {
		return domain.Order{}, err
	}
	if !auth.CanManageStore(actor, o.StoreID) {
		return domain.Order{}, httpx.Forbidden(op, "not authorized to update this order")
	}
	if o.Status == to {
		return o, nil
	}
	if !domain.CanTransition(o.Status, to) {
		return domain.Order{}, httpx.Invalid(op, fmt.Sprintf("cannot move order from %s to %s", o.Status, to))
	}

	from := o.Status
	o.StampTransition(to, s.now())
	if req.AdminNotes != nil {
		o.AdminNotes = strings.TrimSpace(*req.AdminNotes)
	}
	err = s.repo.UpdateOrderStatus(ctx, o, from)
	if errors.Is(err, storage.ErrStaleWrite) {
		return domain.Order{}, httpx.Wrap(op, httpx.ErrConflict, "order was updated by another request, reload and retry", err)
	}
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order status changed", "order_id", o.ID, "from", from, "to", to)
	s.notifyStatus(ctx, o)
	return o, nil
}

func (s *Service) notifyStatus(ctx context.Context, o domain.Order) {
	customer, err := s.repo.GetUser(ctx, o.CustomerID)
	if err != nil {
		s.log.Warn("status e-mail skipped, customer not loaded", "order_id", o.ID, "error", err)
		return
	}
	store, err := s.repo.GetStore(ctx, o.StoreID)
	if err != nil {
		s.log.Warn("status e-mail skipped, store not loaded", "order_id", o.ID, "error", err)
		return
	}
	s.mail.StatusUpdate(o, customer, store)
}

// Stats returns the per-status order counts of the actor's store.
func (s *Service) Stats(ctx context.Context, actor domain.User) (storage.OrderCounts, error) {
	if actor.StoreID == "" {
		return storage.OrderCounts{}, httpx.Forbidden("orders.Stats", "you must own a store")
	}
	return s.repo.CountOrders(ctx, actor.StoreID)
}

// Customers aggregates the customers who ordered from the actor's store.
func (s *Service) Customers(ctx context.Context, actor domain.User) ([]storage.CustomerSummary, error) {
	if actor.StoreID == "" {
		return nil, httpx.Forbidden("orders.Customers", "you must own a store")
	}
	return s.repo.StoreCustomers(ctx, actor.StoreID)
}
