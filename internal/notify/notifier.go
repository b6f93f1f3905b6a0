package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"erp/ecommerce/storepro/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	KindWelcome           = "welcome"
	KindStoreWelcome      = "store_welcome"
	KindOrderConfirmation = "order_confirmation"
	KindStatusUpdate      = "status_update"
)

type statusStyle struct {
	Title string
	Color string
}

var statusStyles = map[domain.OrderStatus]statusStyle{
	domain.OrderConfirmed:  {"✅ تم تأكيد طلبك", "#3b82f6"},
	domain.OrderProcessing: {"📦 جاري تجهيز طلبك", "#8b5cf6"},
	domain.OrderShipped:    {"🚚 تم شحن طلبك", "#f59e0b"},
	domain.OrderDelivered:  {"🎉 تم توصيل طلبك", "#10b981"},
	domain.OrderCancelled:  {"❌ تم إلغاء طلبك", "#ef4444"},
}

// view is the data every template renders.
type view struct {
	Title    string
	Color    string
	Name     string
	Link     string
	LinkText string
	Year     int
	Currency string
	Store    domain.Store
	Order    domain.Order
}

// Queue is the part of Dispatcher the Notifier needs.
type Queue interface {
	Enqueue(msg Message) error
}

// Notifier renders the transactional e-mails and queues them for delivery.
type Notifier struct {
	queue       Queue
	log         *slog.Logger
	frontendURL string
	templates   map[string]*template.Template
	now         func() time.Time
}

func NewNotifier(queue Queue, log *slog.Logger, frontendURL string) (*Notifier, error) {
	funcs := template.FuncMap{
		"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	}
	tpls := make(map[string]*template.Template)
	for _, kind := range []string{KindWelcome, KindStoreWelcome, KindOrderConfirmation, KindStatusUpdate} {
		t, err := template.New(kind).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+kind+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		tpls[kind] = t
	}
	return &Notifier{
		queue:       queue,
		log:         log,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		templates:   tpls,
		now:         time.Now,
	}, nil
}

func (n *Notifier) send(kind, to, subject string, v view) {
	if to == "" {
		return
	}
	v.Year = n.now().Year()
	var buf bytes.Buffer
	if err := n.templates[kind].ExecuteTemplate(&buf, "layout", v); err != nil {
		n.log.Error("render email", "kind", kind, "error", err)
		return
	}
	msg := Message{To: to, Subject: subject, HTML: buf.String(), Kind: kind}
	if err := n.queue.Enqueue(msg); err != nil {
		n.log.Warn("email not queued", "kind", kind, "to", to, "error", err)
	}
}

func (n *Notifier) orderLink(o domain.Order) string {
	return fmt.Sprintf("%s/store/%s/orders/%s", n.frontendURL, o.StoreID, o.ID)
}

// Welcome greets a newly registered customer.
func (n *Notifier) Welcome(u domain.User) {
	n.send(KindWelcome, u.Email, "🎉 مرحباً بك في StorePro", view{
		Title: "🎉 مرحباً بك في StorePro", Color: "#10b981", Name: u.Name,
		Link: n.frontendURL + "/shop", LinkText: "ابدأ التسوق الآن",
	})
}

// StoreWelcome greets a new store owner.
func (n *Notifier) StoreWelcome(u domain.User, s domain.Store) {
	n.send(KindStoreWelcome, u.Email, fmt.Sprintf("🎉 مبروك! متجر %s جاهز الآن", s.Name), view{
		Title: "🎉 مبروك! متجرك جاهز", Color: "#10b981", Name: u.Name, Store: s,
		Link: n.frontendURL + "/dashboard", LinkText: "اذهب إلى لوحة التحكم",
	})
}

// OrderConfirmation tells the customer the order was received.
func (n *Notifier) OrderConfirmation(o domain.Order, customer domain.User, s domain.Store) {
	n.send(KindOrderConfirmation, customer.Email, fmt.Sprintf("✅ تأكيد الطلب #%s", o.OrderNumber), view{
		Title: "✅ تم تأكيد طلبك", Color: "#3b82f6", Name: customer.Name, Store: s, Order: o,
		Currency: s.Settings.Currency, Link: n.orderLink(o), LinkText: "تتبع طلبك",
	})
}

// StatusUpdate tells the customer the order moved to a new status.
func (n *Notifier) StatusUpdate(o domain.Order, customer domain.User, s domain.Store) {
	style, ok := statusStyles[o.Status]
	if !ok {
		style = statusStyle{"تحديث الطلب", "#3b82f6"}
	}
	n.send(KindStatusUpdate, customer.Email, fmt.Sprintf("%s - #%s", style.Title, o.OrderNumber), view{
		Title: style.Title, Color: style.Color, Name: customer.Name, Store: s, Order: o,
		Currency: s.Settings.Currency, Link: n.orderLink(o), LinkText: "تتبع طلبك",
	})
}
