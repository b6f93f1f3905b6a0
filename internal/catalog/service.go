// Package catalog manages a store owner's products and the dashboard statistics.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"erp/ecommerce/storepro/internal/auth"
	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/cache"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/storage"
)

type CreateProductRequest struct {
	Name           string                `json:"name"`
	Description    string                `json:"description"`
	Price          *decimal.Decimal      `json:"price"`
	CompareAtPrice *decimal.Decimal      `json:"compareAtPrice"`
	Cost           *decimal.Decimal      `json:"cost"`
	Stock          *int                  `json:"stock"`
	TrackInventory *bool                 `json:"trackInventory"`
	Images         []domain.ProductImage `json:"images"`
	Category       string                `json:"category"`
	Tags           []string              `json:"tags"`
	Status         string                `json:"status"`
	IsVisible      *bool                 `json:"isVisible"`
	IsFeatured     bool                  `json:"isFeatured"`
}

type UpdateProductRequest struct {
	Name           *string                `json:"name"`
	Description    *string                `json:"description"`
	Price          *decimal.Decimal       `json:"price"`
	CompareAtPrice *decimal.Decimal       `json:"compareAtPrice"`
	Cost           *decimal.Decimal       `json:"cost"`
	Stock          *int                   `json:"stock"`
	TrackInventory *bool                  `json:"trackInventory"`
	Images         *[]domain.ProductImage `json:"images"`
	Category       *string                `json:"category"`
	Tags           *[]string              `json:"tags"`
	Status         *string                `json:"status"`
	IsVisible      *bool                  `json:"isVisible"`
	IsFeatured     *bool                  `json:"isFeatured"`
}

// Stats is the dashboard summary of a store.
type Stats struct {
	TotalProducts    int             `json:"totalProducts"`
	TotalOrders      int             `json:"totalOrders"`
	TotalRevenue     decimal.Decimal `json:"totalRevenue"`
	TotalCustomers   int             `json:"totalCustomers"`
	ActiveProducts   int             `json:"activeProducts"`
	LowStockProducts int             `json:"lowStockProducts"`
	PendingOrders    int             `json:"pendingOrders"`
}

type Service struct {
	repo  storage.Repository
	cache cache.Cache
	log   *slog.Logger
	now   func() time.Time
}

func NewService(repo storage.Repository, c cache.Cache, log *slog.Logger) *Service {
	return &Service{repo: repo, cache: c, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func cleanTags(tags []string) []string {
	out := lo.Uniq(lo.FilterMap(tags, func(t string, _ int) (string, bool) {
		t = strings.TrimSpace(t)
		return t, t != ""
	}))
	if out == nil {
		return []string{}
	}
	return out
}

func checkImages(op string, images []domain.ProductImage) ([]domain.ProductImage, error) {
	if images == nil {
		return []domain.ProductImage{}, nil
	}
	for _, img := range images {
		if strings.TrimSpace(img.URL) == "" {
			return nil, httpx.Invalid(op, "image url is required")
		}
	}
	return images, nil
}

func checkMoney(op, field string, v *decimal.Decimal) error {
	if v != nil && v.IsNegative() {
		return httpx.Invalid(op, field+" cannot be negative")
	}
	return nil
}

// buildProduct validates req and returns a new product for storeID.
func buildProduct(storeID string, req CreateProductRequest, now time.Time) (domain.Product, error) {
	const op = "catalog.Create"
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, httpx.Invalid(op, "product name is required")
	}
	if req.Price == nil {
		return domain.Product{}, httpx.Invalid(op, "product price is required")
	}
	if req.Stock == nil {
		return domain.Product{}, httpx.Invalid(op, "product stock is required")
	}
	if *req.Stock < 0 {
		return domain.Product{}, httpx.Invalid(op, "stock cannot be negative")
	}
	for field, v := range map[string]*decimal.Decimal{"price": req.Price, "compareAtPrice": req.CompareAtPrice, "cost": req.Cost} {
		if err := checkMoney(op, field, v); err != nil {
			return domain.Product{}, err
		}
	}
	status := domain.ProductActive
	if req.Status != "" {
		if status = domain.ParseProductStatus(req.Status); status == "" {
			return domain.Product{}, httpx.Invalid(op, "status must be draft, active or archived")
		}
	}
	images, err := checkImages(op, req.Images)
	if err != nil {
		return domain.Product{}, err
	}
	id := domain.NewID("prd")
	slug := domain.Slugify(name)
	if slug == "" {
		slug = id
	}
	return domain.Product{
		ID:             id,
		StoreID:        storeID,
		Name:           name,
		Slug:           slug,
		Description:    strings.TrimSpace(req.Description),
		Price:          *req.Price,
		CompareAtPrice: req.CompareAtPrice,
		Cost:           lo.FromPtrOr(req.Cost, decimal.Zero),
		Stock:          *req.Stock,
		TrackInventory: lo.FromPtrOr(req.TrackInventory, true),
		Images:         images,
		Category:       strings.TrimSpace(req.Category),
		Tags:           cleanTags(req.Tags),
		Status:         status,
		IsVisible:      lo.FromPtrOr(req.IsVisible, true),
		IsFeatured:     req.IsFeatured,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// applyUpdate writes the non-nil fields of req onto p. The slug is kept.
func applyUpdate(p *domain.Product, req UpdateProductRequest) error {
	const op = "catalog.Update"
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return httpx.Invalid(op, "product name cannot be empty")
		}
		p.Name = name
	}
	if req.Description != nil {
		p.Description = strings.TrimSpace(*req.Description)
	}
	for field, v := range map[string]*decimal.Decimal{"price": req.Price, "compareAtPrice": req.CompareAtPrice, "cost": req.Cost} {
		if err := checkMoney(op, field, v); err != nil {
			return err
		}
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.CompareAtPrice != nil {
		v := *req.CompareAtPrice
		p.CompareAtPrice = &v
	}
	if req.Cost != nil {
		p.Cost = *req.Cost
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return httpx.Invalid(op, "stock cannot be negative")
		}
		p.Stock = *req.Stock
	}
	if req.TrackInventory != nil {
		p.TrackInventory = *req.TrackInventory
	}
	if req.Images != nil {
		images, err := checkImages(op, *req.Images)
		if err != nil {
			return err
		}
		p.Images = images
	}
	if req.Category != nil {
		p.Category = strings.TrimSpace(*req.Category)
	}
	if req.Tags != nil {
		p.Tags = cleanTags(*req.Tags)
	}
	if req.Status != nil {
		status := domain.ParseProductStatus(*req.Status)
		if status == "" {
			return httpx.Invalid(op, "status must be draft, active or archived")
		}
		p.Status = status
	}
	if req.IsVisible != nil {
		p.IsVisible = *req.IsVisible
	}
	if req.IsFeatured != nil {
		p.IsFeatured = *req.IsFeatured
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, storeID string) {
	s.cache.Invalidate(ctx, cache.StoreScope(storeID))
}

// owned loads a product and checks the actor may manage its store.
func (s *Service) owned(ctx context.Context, op string, actor domain.User, id string) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if storage.IsNotFound(err) {
		return domain.Product{}, httpx.NotFound(op, "product not found")
	}
	if err != nil {
		return domain.Product{}, err
	}
	if !auth.CanManageStore(actor, p.StoreID) {
		return domain.Product{}, httpx.Forbidden(op, "not authorized to access this product")
	}
	return p, nil
}

func (s *Service) Create(ctx context.Context, actor domain.User, req CreateProductRequest) (domain.Product, error) {
	const op = "catalog.Create"
	if actor.StoreID == "" {
		return domain.Product{}, httpx.Forbidden(op, "you must own a store to add products")
	}
	p, err := buildProduct(actor.StoreID, req, s.now())
	if err != nil {
		return domain.Product{}, err
	}
	err = s.repo.CreateProduct(ctx, p)
	if errors.Is(err, storage.ErrLimitReached) {
		return domain.Product{}, httpx.Wrap(op, httpx.ErrForbidden, "product limit reached for your plan, upgrade to add more", err)
	}
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, p.StoreID)
	s.log.Info("product created", "store_id", p.StoreID, "product_id", p.ID)
	return p, nil
}

func (s *Service) Get(ctx context.Context, actor domain.User, id string) (domain.Product, error) {
	return s.owned(ctx, "catalog.Get", actor, id)
}

func (s *Service) Update(ctx context.Context, actor domain.User, id string, req UpdateProductRequest) (domain.Product, error) {
	p, err := s.owned(ctx, "catalog.Update", actor, id)
	if err != nil {
		return domain.Product{}, err
	}
	if err := applyUpdate(&p, req); err != nil {
		return domain.Product{}, err
	}
	p.UpdatedAt = s.now()
	p, err = s.repo.UpdateProduct(ctx, p, req.Stock != nil)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, p.StoreID)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, actor domain.User, id string) error {
	p, err := s.owned(ctx, "catalog.Delete", actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, p.StoreID, p.ID); err != nil {
		return err
	}
	s.invalidate(ctx, p.StoreID)
	s.log.Info("product deleted", "store_id", p.StoreID, "product_id", p.ID)
	return nil
}

// List returns the actor's own products.
func (s *Service) List(ctx context.Context, actor domain.User, f storage.ProductFilter) ([]domain.Product, string, error) {
	const op = "catalog.List"
	if actor.StoreID == "" {
		return nil, "", httpx.Forbidden(op, "you must own a store")
	}
	f.StoreID = actor.StoreID
	f.Public = false
	items, next, err := s.repo.ListProducts(ctx, f)
	if err != nil {
		return nil, "", err
	}
	return items, next, nil
}

// Stats combines the store counters with live product and order counts. The
// three reads run concurrently.
func (s *Service) Stats(ctx context.Context, storeID string) (Stats, error) {
	const op = "catalog.Stats"
	var (
		wg       sync.WaitGroup
		store    domain.Store
		products storage.ProductCounts
		orders   storage.OrderCounts
		errs     [3]error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		store, errs[0] = s.repo.GetStore(ctx, storeID)
	}()
	go func() {
		defer wg.Done()
		products, errs[1] = s.repo.CountProducts(ctx, storeID)
	}()
	go func() {
		defer wg.Done()
		orders, errs[2] = s.repo.CountOrders(ctx, storeID)
	}()
	wg.Wait()
	if storage.IsNotFound(errs[0]) {
		return Stats{}, httpx.NotFound(op, "store not found")
	}
	if err := errors.Join(errs[:]...); err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalProducts:    store.Stats.TotalProducts,
		TotalOrders:      store.Stats.TotalOrders,
		TotalRevenue:     store.Stats.TotalRevenue,
		TotalCustomers:   store.Stats.TotalCustomers,
		ActiveProducts:   products.Active,
		LowStockProducts: products.LowStock,
		PendingOrders:    orders.Pending,
	}, nil
}
