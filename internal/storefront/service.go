// Package storefront serves the public, unauthenticated view of stores and their
// catalogs. First pages of product listings are cached per store.
package storefront

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/cache"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/platform/telemetry"
	"erp/ecommerce/storepro/internal/storage"
)

// StoreCard is a store as listed in the directory.
type StoreCard struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Logo        string `json:"logo,omitempty"`
}

// StorePage is the public profile of one store.
type StorePage struct {
	StoreCard
	Banner   string               `json:"banner,omitempty"`
	Email    string               `json:"email,omitempty"`
	Phone    string               `json:"phone,omitempty"`
	Settings domain.StoreSettings `json:"settings"`
	IsActive bool                 `json:"isActive"`
}

// Seller is the store summary attached to a public product.
type Seller struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type ProductView struct {
	domain.Product
	Store *Seller `json:"store,omitempty"`
}

// Query narrows a public product listing.
type Query struct {
	Category string
	Search   string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Cursor   string
	Limit    int
}

// key identifies a first-page listing inside the store's cache scope.
func (q Query) key() string {
	price := func(d *decimal.Decimal) string {
		if d == nil {
			return ""
		}
		return d.String()
	}
	return fmt.Sprintf("products|c=%s|q=%s|min=%s|max=%s|n=%d", q.Category, q.Search, price(q.MinPrice), price(q.MaxPrice), q.Limit)
}

type Listing struct {
	Products   []domain.Product `json:"products"`
	Categories []string         `json:"categories"`
	NextCursor string           `json:"nextCursor,omitempty"`
	Cached     bool             `json:"-"`
}

type Service struct {
	repo  storage.Repository
	cache cache.Cache
	log   *slog.Logger
}

func NewService(repo storage.Repository, c cache.Cache, log *slog.Logger) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{repo: repo, cache: c, log: log}
}

func (s *Service) Stores(ctx context.Context) ([]StoreCard, error) {
	stores, err := s.repo.ListActiveStores(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(stores, func(st domain.Store, _ int) StoreCard { return card(st) }), nil
}

func card(st domain.Store) StoreCard {
	return StoreCard{ID: st.ID, Name: st.Name, Slug: st.Slug, Description: st.Description, Logo: st.Logo}
}

func (s *Service) activeStore(ctx context.Context, op, id string) (domain.Store, error) {
	st, err := s.repo.GetStore(ctx, id)
	if storage.IsNotFound(err) || (err == nil && !st.IsActive) {
		return domain.Store{}, httpx.NotFound(op, "store not found")
	}
	return st, err
}

func (s *Service) Store(ctx context.Context, id string) (StorePage, error) {
	st, err := s.activeStore(ctx, "storefront.Store", id)
	if err != nil {
		return StorePage{}, err
	}
	return StorePage{
		StoreCard: card(st),
		Banner:    st.Banner,
		Email:     st.Email,
		Phone:     st.Phone,
		Settings:  st.Settings,
		IsActive:  st.IsActive,
	}, nil
}

// Products lists a store's active, visible products, featured first. Only the
// first page is served from cache.
func (s *Service) Products(ctx context.Context, storeID string, q Query) (Listing, error) {
	const op = "storefront.Products"
	ctx, span := telemetry.StartSpan(ctx, op, "store.id", storeID)
	defer span.End()

	if q.MinPrice != nil && q.MaxPrice != nil && q.MinPrice.GreaterThan(*q.MaxPrice) {
		return Listing{}, httpx.Invalid(op, "minPrice cannot exceed maxPrice")
	}
	if _, err := s.activeStore(ctx, op, storeID); err != nil {
		return Listing{}, err
	}

	scope := cache.StoreScope(storeID)
	if q.Cursor == "" {
		var hit Listing
		if s.cache.Get(ctx, scope, q.key(), &hit) {
			hit.Cached = true
			return hit, nil
		}
	}

	items, next, err := s.repo.ListProducts(ctx, storage.ProductFilter{
		StoreID:  storeID,
		Category: q.Category,
		Search:   q.Search,
		MinPrice: q.MinPrice,
		MaxPrice: q.MaxPrice,
		Public:   true,
		Cursor:   q.Cursor,
		Limit:    q.Limit,
	})
	if err != nil {
		span.RecordError(err)
		return Listing{}, err
	}
	categories, err := s.repo.PublicCategories(ctx, storeID)
	if err != nil {
		return Listing{}, err
	}
	out := Listing{Products: items, Categories: categories, NextCursor: next}
	if q.Cursor == "" {
		s.cache.Set(ctx, scope, q.key(), out)
	}
	return out, nil
}

// Product returns an active product with its seller and counts the view.
func (s *Service) Product(ctx context.Context, id string) (ProductView, error) {
	const op = "storefront.Product"
	p, err := s.repo.GetProduct(ctx, id)
	if storage.IsNotFound(err) || (err == nil && p.Status != domain.ProductActive) {
		return ProductView{}, httpx.NotFound(op, "product not found")
	}
	if err != nil {
		return ProductView{}, err
	}
	if err := s.repo.IncrementProductViews(ctx, id); err != nil {
		s.log.Warn("product view not counted", "product_id", id, "error", err)
	} else {
		p.Stats.Views++
	}

	view := ProductView{Product: p}
	if st, err := s.repo.GetStore(ctx, p.StoreID); err == nil {
		view.Store = &Seller{ID: st.ID, Name: st.Name, Slug: st.Slug, Email: st.Email, Phone: st.Phone}
	}
	return view, nil
}
