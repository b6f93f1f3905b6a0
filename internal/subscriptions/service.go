// Package subscriptions sells the paid store plans through Stripe subscriptions
// and keeps each store's plan, status and limits in step with Stripe's webhooks.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v80"

	"erp/ecommerce/storepro/internal/billing"
	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/platform/telemetry"
	"erp/ecommerce/storepro/internal/storage"
)

const (
	statusActive    = "active"
	statusCancelled = "cancelled"
	statusPastDue   = "past_due"
)

// Current is the plan summary shown on the owner dashboard.
type Current struct {
	Plan              string        `json:"plan"`
	Status            string        `json:"status"`
	Features          domain.Limits `json:"features"`
	CurrentPeriodEnd  *time.Time    `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool          `json:"cancelAtPeriodEnd"`
}

type Options struct {
	FrontendURL   string
	WebhookSecret string
}

type Service struct {
	repo          storage.Repository
	gateway       billing.Gateway
	plans         domain.Plans
	log           *slog.Logger
	frontendURL   string
	webhookSecret string
	now           func() time.Time
}

func NewService(repo storage.Repository, gateway billing.Gateway, plans domain.Plans, log *slog.Logger, opts Options) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		plans:         plans,
		log:           log,
		frontendURL:   strings.TrimRight(opts.FrontendURL, "/"),
		webhookSecret: opts.WebhookSecret,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Plans lists the plan table, free first.
func (s *Service) Plans() []domain.Plan {
	return lo.FilterMap([]string{domain.PlanFree, domain.PlanBasic, domain.PlanPro}, func(key string, _ int) (domain.Plan, bool) {
		p, ok := s.plans[key]
		return p, ok
	})
}

func (s *Service) ownStore(ctx context.Context, op string, actor domain.User) (domain.Store, error) {
	if actor.StoreID == "" {
		return domain.Store{}, httpx.Forbidden(op, "you must own a store")
	}
	store, err := s.repo.GetStore(ctx, actor.StoreID)
	if storage.IsNotFound(err) {
		return domain.Store{}, httpx.NotFound(op, "store not found")
	}
	return store, err
}

// CreateCheckout opens a subscription checkout for plan. The store's Stripe
// customer is created on first use.
func (s *Service) CreateCheckout(ctx context.Context, actor domain.User, plan string) (billing.Session, error) {
	const op = "subscriptions.CreateCheckout"
	plan = strings.ToLower(strings.TrimSpace(plan))
	if !s.plans.Paid(plan) {
		return billing.Session{}, httpx.Invalid(op, "plan must be basic or pro")
	}
	selected, ok := s.plans[plan]
	if !ok || selected.StripePriceID == "" {
		return billing.Session{}, httpx.Invalid(op, "no price is configured for this plan")
	}
	store, err := s.ownStore(ctx, op, actor)
	if err != nil {
		return billing.Session{}, err
	}

	customerID := store.Subscription.StripeCustomerID
	if customerID == "" {
		customerID, err = s.gateway.CreateCustomer(ctx, actor.Email, actor.Name, map[string]string{
			"storeId": store.ID,
			"userId":  actor.ID,
		})
		if err != nil {
			return billing.Session{}, gatewayError(op, err)
		}
		if err := s.repo.SetStripeCustomer(ctx, store.ID, customerID); err != nil {
			return billing.Session{}, err
		}
	}

	sess, err := s.gateway.CreateSubscriptionCheckout(ctx, billing.SubscriptionCheckout{
		CustomerID: customerID,
		PriceID:    selected.StripePriceID,
		SuccessURL: s.frontendURL + "/dashboard/subscription/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.frontendURL + "/dashboard/subscription/cancel",
		Metadata:   map[string]string{"storeId": store.ID, "plan": plan},
	})
	if err != nil {
		return billing.Session{}, gatewayError(op, err)
	}
	s.log.Info("subscription checkout created", "store_id", store.ID, "plan", plan, "session_id", sess.ID)
	return sess, nil
}

func gatewayError(op string, err error) error {
	if errors.Is(err, httpx.ErrUnavailable) {
		return httpx.Wrap(op, httpx.ErrUnavailable, "subscriptions are not available", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Current returns the plan the actor's store is on.
func (s *Service) Current(ctx context.Context, actor domain.User) (Current, error) {
	store, err := s.ownStore(ctx, "subscriptions.Current", actor)
	if err != nil {
		return Current{}, err
	}
	sub := store.Subscription
	plan := lo.Ternary(sub.Plan == "", domain.PlanFree, sub.Plan)
	return Current{
		Plan:              plan,
		Status:            lo.Ternary(sub.Status == "", statusActive, sub.Status),
		Features:          s.plans.Get(plan).Limits,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}, nil
}

// SetCancelAtPeriodEnd schedules (cancel=true) or withdraws the end of the
// store's subscription at the current period end.
func (s *Service) SetCancelAtPeriodEnd(ctx context.Context, actor domain.User, cancel bool) error {
	const op = "subscriptions.SetCancelAtPeriodEnd"
	store, err := s.ownStore(ctx, op, actor)
	if err != nil {
		return err
	}
	subID := store.Subscription.StripeSubscriptionID
	if subID == "" {
		return httpx.Invalid(op, "no active subscription")
	}
	if _, err := s.gateway.SetCancelAtPeriodEnd(ctx, subID, cancel); err != nil {
		return gatewayError(op, err)
	}
	if err := s.repo.SetCancelAtPeriodEnd(ctx, store.ID, cancel); err != nil {
		return err
	}
	s.log.Info("subscription cancel-at-period-end changed", "store_id", store.ID, "cancel", cancel)
	return nil
}

// HandleWebhook verifies and applies one subscription event.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := billing.ParseEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return err
	}
	ctx, span := telemetry.StartSpan(ctx, "subscriptions.Webhook", "stripe.event", string(ev.Type), "stripe.event_id", ev.ID)
	defer span.End()

	processed := storage.ProcessedEvent{ID: ev.ID, Source: storage.SourceSubscriptions, Type: string(ev.Type), ProcessedAt: s.now()}
	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err = billing.DecodeObject(ev, &sess); err == nil {
			err = s.checkoutCompleted(ctx, processed, sess)
		}
	case stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err = billing.DecodeObject(ev, &sub); err == nil {
			info := billing.SubscriptionFromStripe(&sub)
			err = s.applyToSubscriber(ctx, processed, info.ID, func(st *domain.Store) {
				st.Subscription.Status = info.Status
				setPeriod(&st.Subscription, info)
				st.Subscription.CancelAtPeriodEnd = info.CancelAtPeriodEnd
			})
		}
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err = billing.DecodeObject(ev, &sub); err == nil {
			free := s.plans.Get(domain.PlanFree)
			err = s.applyToSubscriber(ctx, processed, sub.ID, func(st *domain.Store) {
				st.Subscription.Plan = domain.PlanFree
				st.Subscription.Status = statusCancelled
				st.Limits = free.Limits
			})
		}
	case stripe.EventTypeInvoicePaymentSucceeded:
		var fresh bool
		if fresh, err = s.repo.RecordEvent(ctx, processed); err == nil && fresh {
			s.log.Info("subscription invoice paid", "event_id", ev.ID)
		}
	case stripe.EventTypeInvoicePaymentFailed:
		var inv stripe.Invoice
		if err = billing.DecodeObject(ev, &inv); err == nil {
			err = s.invoiceFailed(ctx, processed, inv)
		}
	default:
		s.log.Info("unhandled subscription event", "type", ev.Type, "event_id", ev.ID)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func setPeriod(sub *domain.Subscription, info billing.SubscriptionInfo) {
	if !info.CurrentPeriodStart.IsZero() {
		start := info.CurrentPeriodStart
		sub.CurrentPeriodStart = &start
	}
	if !info.CurrentPeriodEnd.IsZero() {
		end := info.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
}

func (s *Service) checkoutCompleted(ctx context.Context, ev storage.ProcessedEvent, sess stripe.CheckoutSession) error {
	if sess.Mode != stripe.CheckoutSessionModeSubscription || sess.Subscription == nil {
		s.log.Info("non-subscription checkout ignored", "session_id", sess.ID)
		return nil
	}
	storeID, plan := sess.Metadata["storeId"], sess.Metadata["plan"]
	if storeID == "" || !s.plans.Paid(plan) {
		s.log.Warn("subscription checkout without store or plan", "session_id", sess.ID, "plan", plan)
		return nil
	}
	info, err := s.gateway.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return fmt.Errorf("load subscription %s: %w", sess.Subscription.ID, err)
	}
	customerID := info.CustomerID
	if sess.Customer != nil && sess.Customer.ID != "" {
		customerID = sess.Customer.ID
	}
	limits := s.plans.Get(plan).Limits

	applied, err := s.repo.ApplySubscriptionChange(ctx, storage.SubscriptionChange{
		Event:   ev,
		StoreID: storeID,
		Apply: func(st *domain.Store) {
			st.Subscription.Plan = plan
			st.Subscription.Status = statusActive
			st.Subscription.StripeCustomerID = customerID
			st.Subscription.StripeSubscriptionID = info.ID
			st.Subscription.StripePriceID = info.PriceID
			setPeriod(&st.Subscription, info)
			st.Subscription.CancelAtPeriodEnd = false
			st.Limits = limits
		},
	})
	if storage.IsNotFound(err) {
		s.log.Warn("subscription for unknown store", "store_id", storeID, "session_id", sess.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("store plan activated", "store_id", storeID, "plan", plan)
	}
	return nil
}

func (s *Service) applyToSubscriber(ctx context.Context, ev storage.ProcessedEvent, subscriptionID string, apply func(*domain.Store)) error {
	store, err := s.repo.FindStoreBySubscription(ctx, subscriptionID)
	if storage.IsNotFound(err) {
		s.log.Warn("event for unknown subscription", "subscription_id", subscriptionID, "type", ev.Type)
		return nil
	}
	if err != nil {
		return err
	}
	applied, err := s.repo.ApplySubscriptionChange(ctx, storage.SubscriptionChange{Event: ev, StoreID: store.ID, Apply: apply})
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("store subscription updated", "store_id", store.ID, "type", ev.Type)
	}
	return nil
}

func (s *Service) invoiceFailed(ctx context.Context, ev storage.ProcessedEvent, inv stripe.Invoice) error {
	if inv.Customer == nil || inv.Customer.ID == "" {
		return nil
	}
	store, err := s.repo.FindStoreByCustomer(ctx, inv.Customer.ID)
	if storage.IsNotFound(err) {
		s.log.Warn("failed invoice for unknown customer", "customer_id", inv.Customer.ID)
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.repo.ApplySubscriptionChange(ctx, storage.SubscriptionChange{
		Event:   ev,
		StoreID: store.ID,
		Apply:   func(st *domain.Store) { st.Subscription.Status = statusPastDue },
	})
	if err == nil {
		s.log.Warn("subscription payment failed", "store_id", store.ID, "invoice_id", inv.ID)
	}
	return err
}
