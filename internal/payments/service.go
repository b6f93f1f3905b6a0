// Package payments runs card checkouts for orders and applies the payment
// webhooks Stripe sends back.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"

	"erp/ecommerce/storepro/internal/billing"
	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/orders"
	"erp/ecommerce/storepro/internal/platform/cache"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/platform/telemetry"
	"erp/ecommerce/storepro/internal/storage"
)

// Preparer validates an order request and snapshots its lines.
type Preparer interface {
	Prepare(ctx context.Context, actor domain.User, req orders.PlaceRequest, method domain.PaymentMethod) (domain.Order, domain.Store, error)
}

// CheckoutResult is returned to the client, which redirects to URL.
type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	OrderID   string `json:"orderId"`
}

type Service struct {
	repo          storage.Repository
	orders        Preparer
	gateway       billing.Gateway
	mail          orders.Mailer
	cache         cache.Cache
	log           *slog.Logger
	frontendURL   string
	webhookSecret string
	now           func() time.Time
}

type Options struct {
	FrontendURL   string
	WebhookSecret string
}

func NewService(repo storage.Repository, prep Preparer, gateway billing.Gateway, mail orders.Mailer, c cache.Cache, log *slog.Logger, opts Options) *Service {
	return &Service{
		repo:          repo,
		orders:        prep,
		gateway:       gateway,
		mail:          mail,
		cache:         c,
		log:           log,
		frontendURL:   strings.TrimRight(opts.FrontendURL, "/"),
		webhookSecret: opts.WebhookSecret,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateCheckout stores a pending card order and opens a Stripe Checkout session
// for it. Stock is only taken when the payment completes.
func (s *Service) CreateCheckout(ctx context.Context, actor domain.User, req orders.PlaceRequest) (CheckoutResult, error) {
	const op = "payments.CreateCheckout"
	ctx, span := telemetry.StartSpan(ctx, "payments.CreateCheckout", "store.id", req.StoreID)
	defer span.End()

	o, store, err := s.orders.Prepare(ctx, actor, req, domain.PaymentCard)
	if err != nil {
		return CheckoutResult{}, err
	}
	o, err = s.repo.CreatePendingOrder(ctx, o)
	if err != nil {
		return CheckoutResult{}, orders.WriteError(op, err)
	}

	lines := make([]billing.CheckoutLine, 0, len(o.Items))
	products := make(map[string]domain.Product, len(o.Items))
	for _, it := range o.Items {
		p, ok := products[it.ProductID]
		if !ok {
			if p, err = s.repo.GetProduct(ctx, it.ProductID); err != nil && !storage.IsNotFound(err) {
				return CheckoutResult{}, err
			}
			products[it.ProductID] = p
		}
		lines = append(lines, billing.CheckoutLine{
			Name:        it.Name,
			Description: p.Description,
			Image:       it.Image,
			UnitAmount:  domain.MinorUnits(it.Price),
			Quantity:    int64(it.Quantity),
		})
	}

	sess, err := s.gateway.CreatePaymentCheckout(ctx, billing.PaymentCheckout{
		Currency:      strings.ToLower(store.Settings.Currency),
		Lines:         lines,
		SuccessURL:    fmt.Sprintf("%s/store/%s/orders/%s?payment=success", s.frontendURL, store.ID, o.ID),
		CancelURL:     fmt.Sprintf("%s/store/%s/checkout?payment=cancelled", s.frontendURL, store.ID),
		CustomerEmail: actor.Email,
		Metadata: map[string]string{
			"orderId":    o.ID,
			"storeId":    store.ID,
			"customerId": actor.ID,
		},
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, httpx.ErrUnavailable) {
			return CheckoutResult{}, httpx.Wrap(op, httpx.ErrUnavailable, "card payments are not available", err)
		}
		return CheckoutResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.SetOrderSession(ctx, o.ID, sess.ID); err != nil {
		return CheckoutResult{}, err
	}
	s.log.Info("checkout session created", "order_id", o.ID, "session_id", sess.ID, "store_id", store.ID)
	return CheckoutResult{SessionID: sess.ID, URL: sess.URL, OrderID: o.ID}, nil
}

// HandleWebhook verifies and applies one Stripe delivery. A returned error that
// is not a validation error makes Stripe retry.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := billing.ParseEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return err
	}
	ctx, span := telemetry.StartSpan(ctx, "payments.Webhook", "stripe.event", string(ev.Type), "stripe.event_id", ev.ID)
	defer span.End()

	processed := storage.ProcessedEvent{ID: ev.ID, Source: storage.SourcePayments, Type: string(ev.Type), ProcessedAt: s.now()}
	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := billing.DecodeObject(ev, &sess); err != nil {
			return err
		}
		err = s.completed(ctx, processed, sess)
	case stripe.EventTypePaymentIntentSucceeded:
		var fresh bool
		if fresh, err = s.repo.RecordEvent(ctx, processed); err == nil && fresh {
			s.log.Info("payment intent succeeded", "event_id", ev.ID)
		}
	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := billing.DecodeObject(ev, &pi); err != nil {
			return err
		}
		err = s.failed(ctx, processed, pi)
	default:
		s.log.Info("unhandled stripe event", "type", ev.Type, "event_id", ev.ID)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *Service) completed(ctx context.Context, ev storage.ProcessedEvent, sess stripe.CheckoutSession) error {
	orderID := sess.Metadata["orderId"]
	if orderID == "" {
		s.log.Info("checkout session without order, ignored", "session_id", sess.ID, "mode", sess.Mode)
		return nil
	}
	var intentID string
	if sess.PaymentIntent != nil {
		intentID = sess.PaymentIntent.ID
	}
	res, err := s.repo.ConfirmPayment(ctx, storage.PaymentConfirmation{
		Event:           ev,
		OrderID:         orderID,
		PaymentIntentID: intentID,
		PaidAt:          s.now(),
	})
	if storage.IsNotFound(err) {
		s.log.Warn("payment for unknown order", "order_id", orderID, "session_id", sess.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("confirm payment for %s: %w", orderID, err)
	}
	if !res.Applied {
		s.log.Info("payment already applied", "order_id", orderID, "event_id", ev.ID)
		return nil
	}
	if res.RefundDue {
		s.log.Warn("payment received for cancelled order, refund required", "order_id", orderID,
			"payment_intent", intentID, "total", res.Order.Total.StringFixed(2))
		return nil
	}
	if len(res.Oversold) > 0 {
		s.log.Warn("paid order oversold stock", "order_id", orderID, "products", res.Oversold)
	}
	s.cache.Invalidate(ctx, cache.StoreScope(res.Order.StoreID))
	s.log.Info("order paid", "order_id", orderID, "order_number", res.Order.OrderNumber)

	customer, err := s.repo.GetUser(ctx, res.Order.CustomerID)
	if err != nil {
		s.log.Warn("confirmation e-mail skipped", "order_id", orderID, "error", err)
		return nil
	}
	store, err := s.repo.GetStore(ctx, res.Order.StoreID)
	if err != nil {
		s.log.Warn("confirmation e-mail skipped", "order_id", orderID, "error", err)
		return nil
	}
	s.mail.OrderConfirmation(res.Order, customer, store)
	return nil
}

func (s *Service) failed(ctx context.Context, ev storage.ProcessedEvent, pi stripe.PaymentIntent) error {
	orderID := pi.Metadata["orderId"]
	changed, err := s.repo.MarkPaymentFailed(ctx, storage.PaymentFailure{
		Event:           ev,
		OrderID:         orderID,
		PaymentIntentID: pi.ID,
	})
	if storage.IsNotFound(err) {
		s.log.Warn("failed payment for unknown order", "order_id", orderID, "payment_intent", pi.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	if changed {
		var reason string
		if pi.LastPaymentError != nil {
			reason = pi.LastPaymentError.Msg
		}
		s.log.Info("order payment failed", "order_id", orderID, "payment_intent", pi.ID, "reason", reason)
	}
	return nil
}
