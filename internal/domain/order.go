package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfillment state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderConfirmed, OrderProcessing, OrderCancelled},
	OrderConfirmed:  {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered},
	OrderDelivered:  nil,
	OrderCancelled:  nil,
}

// ParseOrderStatus normalizes s, returning "" for unknown values.
func ParseOrderStatus(s string) OrderStatus {
	v := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := orderTransitions[v]; ok {
		return v
	}
	return ""
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
)

// ParsePaymentMethod normalizes s. Empty input defaults to cash; unknown values
// return "".
func ParsePaymentMethod(s string) PaymentMethod {
	switch v := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return PaymentCash
	case PaymentCash, PaymentCard, PaymentBankTransfer:
		return v
	}
	return ""
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

// LineTotal is price × quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ShippingAddress struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city"`
	State    string `json:"state,omitempty"`
	Country  string `json:"country"`
	ZipCode  string `json:"zipCode,omitempty"`
}

type Order struct {
	ID                    string          `json:"id"`
	OrderNumber           string          `json:"orderNumber"`
	CustomerID            string          `json:"customerId"`
	StoreID               string          `json:"storeId"`
	Items                 []OrderItem     `json:"items"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	ShippingCost          decimal.Decimal `json:"shippingCost"`
	Tax                   decimal.Decimal `json:"tax"`
	Discount              decimal.Decimal `json:"discount"`
	Total                 decimal.Decimal `json:"total"`
	ShippingAddress       ShippingAddress `json:"shippingAddress"`
	Status                OrderStatus     `json:"status"`
	PaymentMethod         PaymentMethod   `json:"paymentMethod"`
	PaymentStatus         PaymentStatus   `json:"paymentStatus"`
	StripeSessionID       string          `json:"stripeSessionId,omitempty"`
	StripePaymentIntentID string          `json:"stripePaymentIntentId,omitempty"`
	CustomerNotes         string          `json:"customerNotes,omitempty"`
	AdminNotes            string          `json:"adminNotes,omitempty"`
	PaidAt                *time.Time      `json:"paidAt,omitempty"`
	ShippedAt             *time.Time      `json:"shippedAt,omitempty"`
	DeliveredAt           *time.Time      `json:"deliveredAt,omitempty"`
	CancelledAt           *time.Time      `json:"cancelledAt,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// ApplyTotals computes subtotal from the items and total from the components.
func (o *Order) ApplyTotals() {
	subtotal := decimal.Zero
	for _, it := range o.Items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	o.Subtotal = subtotal
	o.Total = subtotal.Add(o.ShippingCost).Add(o.Tax).Sub(o.Discount)
}

// TotalsConsistent reports whether total = subtotal + shipping + tax − discount.
func (o Order) TotalsConsistent() bool {
	return o.Total.Equal(o.Subtotal.Add(o.ShippingCost).Add(o.Tax).Sub(o.Discount))
}

// StampTransition sets the timestamp that belongs to the target status. Other
// timestamps are left alone.
func (o *Order) StampTransition(to OrderStatus, at time.Time) {
	switch to {
	case OrderShipped:
		o.ShippedAt = &at
	case OrderDelivered:
		o.DeliveredAt = &at
	case OrderCancelled:
		o.CancelledAt = &at
	}
	o.Status = to
	o.UpdatedAt = at
}

// FormatOrderNumber renders ORD-YYYYMMDD-NNNNNN. Sequences past six digits
// widen the suffix instead of wrapping.
func FormatOrderNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%06d", at.UTC().Format("20060102"), seq)
}

// MinorUnits converts an amount to the smallest currency unit (cents, halalas).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
