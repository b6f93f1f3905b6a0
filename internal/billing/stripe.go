// Package billing wraps the Stripe API calls the storefront makes: one-off card
// checkouts for orders, subscription checkouts for store plans, and webhook
// verification.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"

	"erp/ecommerce/storepro/internal/platform/httpx"
)

// ErrNotConfigured is returned by every call when no Stripe key is set.
var ErrNotConfigured = fmt.Errorf("billing: stripe is not configured: %w", httpx.ErrUnavailable)

// ErrBadSignature means a webhook payload failed verification.
var ErrBadSignature = fmt.Errorf("billing: webhook signature verification failed: %w", httpx.ErrValidation)

// maxDescription is Stripe's practical limit for a line-item description.
const maxDescription = 100

type CheckoutLine struct {
	Name        string
	Description string
	Image       string
	// UnitAmount is in the currency's minor unit.
	UnitAmount int64
	Quantity   int64
}

type PaymentCheckout struct {
	Currency      string
	Lines         []CheckoutLine
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      map[string]string
}

type SubscriptionCheckout struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type Session struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// SubscriptionInfo is the subset of a Stripe subscription the store keeps.
type SubscriptionInfo struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// Gateway is the billing surface used by the payment and subscription handlers.
type Gateway interface {
	CreatePaymentCheckout(ctx context.Context, in PaymentCheckout) (Session, error)
	CreateSubscriptionCheckout(ctx context.Context, in SubscriptionCheckout) (Session, error)
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	GetSubscription(ctx context.Context, id string) (SubscriptionInfo, error)
	SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (SubscriptionInfo, error)
}

// Stripe implements Gateway with stripe-go.
type Stripe struct {
	api     *client.API
	timeout time.Duration
}

// NewStripe returns a Gateway for secretKey. An empty key yields a gateway whose
// calls fail with ErrNotConfigured.
func NewStripe(secretKey string, timeout time.Duration) Gateway {
	if secretKey == "" {
		return disabled{}
	}
	return newStripe(secretKey, timeout, "")
}

// newStripe points the client at baseURL when set, else at api.stripe.com.
func newStripe(secretKey string, timeout time.Duration, baseURL string) *Stripe {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		MaxNetworkRetries: stripe.Int64(1),
	}
	if baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &Stripe{api: api, timeout: timeout}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (s *Stripe) CreatePaymentCheckout(ctx context.Context, in PaymentCheckout) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: in.Metadata,
		},
	}
	params.Context = ctx
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	for _, l := range in.Lines {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(l.Name),
		}
		if l.Description != "" {
			product.Description = stripe.String(truncate(l.Description, maxDescription))
		}
		if l.Image != "" {
			product.Images = []*string{stripe.String(l.Image)}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(in.Currency),
				UnitAmount:  stripe.Int64(l.UnitAmount),
				ProductData: product,
			},
			Quantity: stripe.Int64(l.Quantity),
		})
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("create payment checkout: %w", err)
	}
	return Session{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) CreateSubscriptionCheckout(ctx context.Context, in SubscriptionCheckout) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(in.CustomerID),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: in.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("create subscription checkout: %w", err)
	}
	return Session{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return c.ID, nil
}

func (s *Stripe) GetSubscription(ctx context.Context, id string) (SubscriptionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Get(id, params)
	if err != nil {
		return SubscriptionInfo{}, fmt.Errorf("get subscription: %w", err)
	}
	return SubscriptionFromStripe(sub), nil
}

func (s *Stripe) SetCancelAtPeriodEnd(ctx context.Context, id string, cancelAtEnd bool) (SubscriptionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancelAtEnd)}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Update(id, params)
	if err != nil {
		return SubscriptionInfo{}, fmt.Errorf("update subscription: %w", err)
	}
	return SubscriptionFromStripe(sub), nil
}

// SubscriptionFromStripe flattens a Stripe subscription.
func SubscriptionFromStripe(sub *stripe.Subscription) SubscriptionInfo {
	info := SubscriptionInfo{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		info.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		info.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		info.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		info.PriceID = sub.Items.Data[0].Price.ID
	}
	return info
}

type disabled struct{}

func (disabled) CreatePaymentCheckout(context.Context, PaymentCheckout) (Session, error) {
	return Session{}, ErrNotConfigured
}

func (disabled) CreateSubscriptionCheckout(context.Context, SubscriptionCheckout) (Session, error) {
	return Session{}, ErrNotConfigured
}

func (disabled) CreateCustomer(context.Context, string, string, map[string]string) (string, error) {
	return "", ErrNotConfigured
}

func (disabled) GetSubscription(context.Context, string) (SubscriptionInfo, error) {
	return SubscriptionInfo{}, ErrNotConfigured
}

func (disabled) SetCancelAtPeriodEnd(context.Context, string, bool) (SubscriptionInfo, error) {
	return SubscriptionInfo{}, ErrNotConfigured
}

// ParseEvent verifies a webhook delivery against secret and decodes it.
func ParseEvent(payload []byte, signature, secret string) (stripe.Event, error) {
	if secret == "" {
		return stripe.Event{}, ErrNotConfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ev, nil
}

// DecodeObject unmarshals the event's data object into v.
func DecodeObject(ev stripe.Event, v any) error {
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return errors.New("billing: event has no data object")
	}
	if err := json.Unmarshal(ev.Data.Raw, v); err != nil {
		return fmt.Errorf("billing: decode %s object: %w", ev.Type, err)
	}
	return nil
}
