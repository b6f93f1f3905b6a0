package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/dbx"
)

const productColumns = `id, store_id, name, slug, description, price, compare_at_price, cost, stock, track_inventory,
	images, category, tags, status, is_visible, is_featured, views, sales, rating, reviews_count, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var desc, category sql.NullString
	var compareAt decimal.NullDecimal
	var images, tags []byte
	if err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.Slug, &desc, &p.Price, &compareAt, &p.Cost, &p.Stock, &p.TrackInventory,
		&images, &category, &tags, &p.Status, &p.IsVisible, &p.IsFeatured,
		&p.Stats.Views, &p.Stats.Sales, &p.Stats.Rating, &p.Stats.ReviewsCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, notFound(err)
	}
	p.Description = desc.String
	p.Category = category.String
	if compareAt.Valid {
		v := compareAt.Decimal
		p.CompareAtPrice = &v
	}
	if err := json.Unmarshal(images, &p.Images); err != nil {
		return domain.Product{}, fmt.Errorf("decode product images: %w", err)
	}
	if err := json.Unmarshal(tags, &p.Tags); err != nil {
		return domain.Product{}, fmt.Errorf("decode product tags: %w", err)
	}
	return p, nil
}

func productJSON(p domain.Product) (images, tags string, err error) {
	if p.Images == nil {
		p.Images = []domain.ProductImage{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if images, err = toJSON(p.Images); err != nil {
		return "", "", err
	}
	tags, err = toJSON(p.Tags)
	return images, tags, err
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

func (p *Postgres) CreateProduct(ctx context.Context, pr domain.Product) error {
	images, tags, err := productJSON(pr)
	if err != nil {
		return err
	}
	return dbx.InTx(ctx, p.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE stores SET total_products = total_products + 1, updated_at = now()
			WHERE id=$1 AND (max_products < 0 OR total_products < max_products)`, pr.StoreID)
		if err != nil {
			return err
		}
		if err := dbx.RowsAffected(res); err != nil {
			var exists bool
			if qerr := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stores WHERE id=$1)`, pr.StoreID).Scan(&exists); qerr != nil {
				return qerr
			}
			if !exists {
				return ErrNotFound
			}
			return ErrLimitReached
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO products (`+productColumns+`) VALUES
			($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
			pr.ID, pr.StoreID, pr.Name, pr.Slug, dbx.NullString(pr.Description), pr.Price, nullDecimal(pr.CompareAtPrice),
			pr.Cost, pr.Stock, pr.TrackInventory, images, dbx.NullString(pr.Category), tags, string(pr.Status),
			pr.IsVisible, pr.IsFeatured, pr.Stats.Views, pr.Stats.Sales, pr.Stats.Rating, pr.Stats.ReviewsCount,
			pr.CreatedAt, pr.UpdatedAt)
		return err
	})
}

func (p *Postgres) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return scanProduct(p.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

func (p *Postgres) UpdateProduct(ctx context.Context, pr domain.Product, setStock bool) (domain.Product, error) {
	images, tags, err := productJSON(pr)
	if err != nil {
		return domain.Product{}, err
	}
	return scanProduct(p.db.QueryRowContext(ctx, `UPDATE products SET name=$3, description=$4, price=$5, compare_at_price=$6,
		cost=$7, stock=CASE WHEN $17::boolean THEN $8 ELSE stock END, track_inventory=$9, images=$10, category=$11,
		tags=$12, status=$13, is_visible=$14, is_featured=$15, updated_at=$16
		WHERE id=$1 AND store_id=$2 RETURNING `+productColumns,
		pr.ID, pr.StoreID, pr.Name, dbx.NullString(pr.Description), pr.Price, nullDecimal(pr.CompareAtPrice), pr.Cost,
		pr.Stock, pr.TrackInventory, images, dbx.NullString(pr.Category), tags, string(pr.Status), pr.IsVisible,
		pr.IsFeatured, pr.UpdatedAt, setStock))
}

func (p *Postgres) DeleteProduct(ctx context.Context, storeID, id string) error {
	return dbx.InTx(ctx, p.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id=$1 AND store_id=$2`, id, storeID)
		if err != nil {
			return err
		}
		if err := dbx.RowsAffected(res); err != nil {
			return notFound(err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE stores SET total_products = GREATEST(total_products - 1, 0), updated_at = now() WHERE id=$1`, storeID)
		return err
	})
}

// likePattern escapes LIKE metacharacters and wraps s for a substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

type whereBuilder struct {
	clauses []string
	args    []any
}

// add appends clause, numbering each "?" placeholder after the existing args.
func (w *whereBuilder) add(clause string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) next() string { return fmt.Sprintf("$%d", len(w.args)+1) }

func (w *whereBuilder) sql() string { return strings.Join(w.clauses, " AND ") }

func (p *Postgres) ListProducts(ctx context.Context, f ProductFilter) ([]domain.Product, string, error) {
	cur, hasCursor, err := decodePageKey(f.Cursor, f.Public)
	if err != nil {
		return nil, "", err
	}
	w := &whereBuilder{}
	w.add("store_id = ?", f.StoreID)
	if f.Public {
		w.add("status = 'active' AND is_visible")
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Category != "" {
		w.add("category = ?", f.Category)
	}
	if f.Search != "" {
		w.add("(name ILIKE ? OR description ILIKE ?)", likePattern(f.Search), likePattern(f.Search))
	}
	if f.MinPrice != nil {
		w.add("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		w.add("price <= ?", *f.MaxPrice)
	}
	order := "created_at DESC, id DESC"
	if hasCursor {
		if f.Public {
			w.add("(is_featured, created_at, id) < (?, ?, ?)", cur.Featured, cur.At, cur.ID)
		} else {
			w.add("(created_at, id) < (?, ?)", cur.At, cur.ID)
		}
	}
	if f.Public {
		order = "is_featured DESC, " + order
	}
	limitArg := w.next()
	args := append(w.args, f.Limit+1)

	q := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY %s LIMIT %s`, productColumns, w.sql(), order, limitArg)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	items := make([]domain.Product, 0, f.Limit)
	for rows.Next() {
		pr, err := scanProduct(rows)
		if err != nil {
			return nil, "", err
		}
		items = append(items, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(items) <= f.Limit {
		return items, "", nil
	}
	last := items[f.Limit-1]
	return items[:f.Limit], productKey(last).encode(f.Public), nil
}

func (p *Postgres) CountProducts(ctx context.Context, storeID string) (ProductCounts, error) {
	var c ProductCounts
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE stock < $2)
		FROM products WHERE store_id=$1 AND status='active'`, storeID, LowStockThreshold).Scan(&c.Active, &c.LowStock)
	return c, err
}

func (p *Postgres) PublicCategories(ctx context.Context, storeID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT category FROM products
		WHERE store_id=$1 AND status='active' AND category IS NOT NULL AND category <> '' ORDER BY category`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) IncrementProductViews(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE products SET views = views + 1 WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return notFound(dbx.RowsAffected(res))
}
