// Package domain defines the storefront entities, their enumerations and the pure
// rules that govern them (order totals, status transitions, plan limits).
package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is a user's platform role.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleStoreOwner    Role = "store_owner"
	RoleCustomer      Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePlatformAdmin, RoleStoreOwner, RoleCustomer:
		return true
	}
	return false
}

type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Phone        string     `json:"phone,omitempty"`
	Role         Role       `json:"role"`
	StoreID      string     `json:"storeId,omitempty"`
	IsActive     bool       `json:"isActive"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
}

type StoreSettings struct {
	Currency string `json:"currency"`
	Language string `json:"language"`
	Timezone string `json:"timezone"`
	IsRTL    bool   `json:"isRTL"`
}

// DefaultStoreSettings matches a store opened without explicit settings.
func DefaultStoreSettings() StoreSettings {
	return StoreSettings{Currency: "SAR", Language: "ar", Timezone: "Asia/Riyadh", IsRTL: true}
}

// ValidLanguage reports whether lang is a supported storefront language.
func ValidLanguage(lang string) bool {
	switch lang {
	case "en", "ar", "fr":
		return true
	}
	return false
}

type Subscription struct {
	Plan                 string     `json:"plan"`
	Status               string     `json:"status"`
	StripeCustomerID     string     `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string     `json:"stripeSubscriptionId,omitempty"`
	StripePriceID        string     `json:"stripePriceId,omitempty"`
	CurrentPeriodStart   *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancelAtPeriodEnd"`
}

type StoreStats struct {
	TotalProducts  int             `json:"totalProducts"`
	TotalOrders    int             `json:"totalOrders"`
	TotalRevenue   decimal.Decimal `json:"totalRevenue"`
	TotalCustomers int             `json:"totalCustomers"`
}

type Store struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Slug         string        `json:"slug"`
	Description  string        `json:"description,omitempty"`
	Logo         string        `json:"logo,omitempty"`
	Banner       string        `json:"banner,omitempty"`
	Email        string        `json:"email,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	Address      Address       `json:"address"`
	OwnerID      string        `json:"ownerId"`
	Settings     StoreSettings `json:"settings"`
	Subscription Subscription  `json:"subscription"`
	Limits       Limits        `json:"limits"`
	Stats        StoreStats    `json:"stats"`
	IsActive     bool          `json:"isActive"`
	IsVerified   bool          `json:"isVerified"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ProductStatus is the catalog lifecycle of a product.
type ProductStatus string

const (
	ProductDraft    ProductStatus = "draft"
	ProductActive   ProductStatus = "active"
	ProductArchived ProductStatus = "archived"
)

// ParseProductStatus normalizes s, returning "" for unknown values.
func ParseProductStatus(s string) ProductStatus {
	switch v := ProductStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case ProductDraft, ProductActive, ProductArchived:
		return v
	}
	return ""
}

type ProductImage struct {
	URL       string `json:"url"`
	Alt       string `json:"alt,omitempty"`
	IsPrimary bool   `json:"isPrimary"`
}

type ProductStats struct {
	Views        int     `json:"views"`
	Sales        int     `json:"sales"`
	Rating       float64 `json:"rating"`
	ReviewsCount int     `json:"reviewsCount"`
}

type Product struct {
	ID             string           `json:"id"`
	StoreID        string           `json:"storeId"`
	Name           string           `json:"name"`
	Slug           string           `json:"slug"`
	Description    string           `json:"description,omitempty"`
	Price          decimal.Decimal  `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compareAtPrice,omitempty"`
	Cost           decimal.Decimal  `json:"cost"`
	Stock          int              `json:"stock"`
	TrackInventory bool             `json:"trackInventory"`
	Images         []ProductImage   `json:"images"`
	Category       string           `json:"category,omitempty"`
	Tags           []string         `json:"tags"`
	Status         ProductStatus    `json:"status"`
	IsVisible      bool             `json:"isVisible"`
	IsFeatured     bool             `json:"isFeatured"`
	Stats          ProductStats     `json:"stats"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// PrimaryImage returns the URL of the primary image, else the first one.
func (p Product) PrimaryImage() string {
	for _, img := range p.Images {
		if img.IsPrimary {
			return img.URL
		}
	}
	if len(p.Images) > 0 {
		return p.Images[0].URL
	}
	return ""
}

// NewID returns prefix + "_" + a random UUID without dashes.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Slugify lower-cases name, turns whitespace runs into single dashes and keeps
// letters (any script), digits and dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			b.WriteRune(r)
			dash = false
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
