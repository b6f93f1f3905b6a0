package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/dbx"
)

const orderColumns = `id, order_number, customer_id, store_id, items, subtotal, shipping_cost, tax, discount, total,
	shipping_address, status, payment_method, payment_status, stripe_session_id, stripe_payment_intent_id,
	customer_notes, admin_notes, paid_at, shipped_at, delivered_at, cancelled_at, created_at, updated_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var items, address []byte
	var sessionID, intentID, customerNotes, adminNotes sql.NullString
	var paidAt, shippedAt, deliveredAt, cancelledAt sql.NullTime
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.StoreID, &items,
		&o.Subtotal, &o.ShippingCost, &o.Tax, &o.Discount, &o.Total,
		&address, &o.Status, &o.PaymentMethod, &o.PaymentStatus, &sessionID, &intentID,
		&customerNotes, &adminNotes, &paidAt, &shippedAt, &deliveredAt, &cancelledAt,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, notFound(err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	o.StripeSessionID = sessionID.String
	o.StripePaymentIntentID = intentID.String
	o.CustomerNotes = customerNotes.String
	o.AdminNotes = adminNotes.String
	o.PaidAt = timePtr(paidAt)
	o.ShippedAt = timePtr(shippedAt)
	o.DeliveredAt = timePtr(deliveredAt)
	o.CancelledAt = timePtr(cancelledAt)
	return o, nil
}

// insertOrder assigns the next order number and inserts o.
func insertOrder(ctx context.Context, tx *sql.Tx, o domain.Order) (domain.Order, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
		return domain.Order{}, err
	}
	o.OrderNumber = domain.FormatOrderNumber(o.CreatedAt, seq)

	items, err := toJSON(o.Items)
	if err != nil {
		return domain.Order{}, err
	}
	address, err := toJSON(o.ShippingAddress)
	if err != nil {
		return domain.Order{}, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES
		($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		o.ID, o.OrderNumber, o.CustomerID, o.StoreID, items, o.Subtotal, o.ShippingCost, o.Tax, o.Discount, o.Total,
		address, string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus),
		dbx.NullString(o.StripeSessionID), dbx.NullString(o.StripePaymentIntentID),
		dbx.NullString(o.CustomerNotes), dbx.NullString(o.AdminNotes),
		nullTime(o.PaidAt), nullTime(o.ShippedAt), nullTime(o.DeliveredAt), nullTime(o.CancelledAt),
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return domain.Order{}, mapUnique(err)
	}
	return o, nil
}

func (p *Postgres) PlaceOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	var placed domain.Order
	err := dbx.InTx(ctx, p.db, func(tx *sql.Tx) error {
		var active bool
		var maxOrders, totalOrders int
		err := tx.QueryRowContext(ctx, `SELECT is_active, max_orders, total_orders FROM stores WHERE id=$1 FOR UPDATE`, o.StoreID).
			Scan(&active, &maxOrders, &totalOrders)
		if err != nil {
			return notFound(err)
		}
		if !active {
			return ErrStoreInactive
		}
		if !domain.Allows(maxOrders, totalOrders) {
			return ErrLimitReached
		}

		ids, qty := mergeItems(o.Items)
		// Lock rows in a stable order so concurrent orders cannot deadlock.
		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		for _, id := range sorted {
			res, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock - $1, sales = sales + $1, updated_at = $4
				WHERE id=$2 AND store_id=$3 AND stock >= $1`, qty[id], id, o.StoreID, o.CreatedAt)
			if err != nil {
				return err
			}
			if err := dbx.RowsAffected(res); err == nil {
				continue
			}
			var name string
			var stock int
			err = tx.QueryRowContext(ctx, `SELECT name, stock FROM products WHERE id=$1 AND store_id=$2`, id, o.StoreID).Scan(&name, &stock)
			if err != nil {
				return notFound(err)
			}
			return &StockError{ProductID: id, Name: name, Available: stock, Requested: qty[id]}
		}

		placed, err = insertOrder(ctx, tx, o)
		if err != nil {
			return err
		}
		return countOrder(ctx, tx, placed)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return placed, nil
}

func (p *Postgres) CreatePendingOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	var created domain.Order
	err := dbx.InTx(ctx, p.db, func(tx *sql.Tx) error {
		var active bool
		var maxOrders, totalOrders int
		err := tx.QueryRowContext(ctx, `SELECT is_active, max_orders, total_orders FROM stores WHERE id=$1 FOR SHARE`, o.StoreID).
			Scan(&active, &maxOrders, &totalOrders)
		if err != nil {
			return notFound(err)
		}
		if !active {
			return ErrStoreInactive
		}
		if !domain.Allows(maxOrders, totalOrders) {
			return ErrLimitReached
		}
		created, err = insertOrder(ctx, tx, o)
		return err
	})
	return created, err
}

func (p *Postgres) SetOrderSession(ctx context.Context, orderID, sessionID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET stripe_session_id=$2, updated_at=now() WHERE id=$1`, orderID, sessionID)
	if err != nil {
		return err
	}
	return notFound(dbx.RowsAffected(res))
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (p *Postgres) ListOrders(ctx context.Context, f OrderFilter) ([]domain.Order, string, error) {
	cur, hasCursor, err := decodePageKey(f.Cursor, false)
	if err != nil {
		return nil, "", err
	}
	w := &whereBuilder{}
	if f.StoreID != "" {
		w.add("store_id = ?", f.StoreID)
	}
	if f.CustomerID != "" {
		w.add("customer_id = ?", f.CustomerID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if hasCursor {
		w.add("(created_at, id) < (?, ?)", cur.At, cur.ID)
	}
	where := "TRUE"
	if len(w.clauses) > 0 {
		where = w.sql()
	}
	limitArg := w.next()
	args := append(w.args, f.Limit+1)
	q := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY created_at DESC, id DESC LIMIT %s`, orderColumns, where, limitArg)

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	items := make([]domain.Order, 0, f.Limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, "", err
		}
		items = append(items, o)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(items) <= f.Limit {
		return items, "", nil
	}
	last := items[f.Limit-1]
	return items[:f.Limit], orderKey(last).encode(false), nil
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, o domain.Order, from domain.OrderStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET status=$3, shipped_at=$4, delivered_at=$5, cancelled_at=$6,
		admin_notes=$7, updated_at=$8 WHERE id=$1 AND status=$2`,
		o.ID, string(from), string(o.Status), nullTime(o.ShippedAt), nullTime(o.DeliveredAt), nullTime(o.CancelledAt),
		dbx.NullString(o.AdminNotes), o.UpdatedAt)
	if err != nil {
		return err
	}
	if err := dbx.RowsAffected(res); err != nil {
		if _, gerr := p.GetOrder(ctx, o.ID); gerr != nil {
			return gerr
		}
		return ErrStaleWrite
	}
	return nil
}

func (p *Postgres) ConfirmPayment(ctx context.Context, pc PaymentConfirmation) (ConfirmResult, error) {
	var result ConfirmResult
	err := dbx.InTx(ctx, p.db, func(tx *sql.Tx) error {
		o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, pc.OrderID))
		if err != nil {
			return err
		}
		result.Order = o
		fresh, err := recordEvent(ctx, tx, pc.Event)
		if err != nil || !fresh {
			return err
		}
		if o.PaymentStatus == domain.PaymentPaid {
			return nil
		}

		paidAt := pc.PaidAt
		o.PaymentStatus = domain.PaymentPaid
		if o.Status == domain.OrderPending {
			o.Status = domain.OrderConfirmed
		}
		o.PaidAt = &paidAt
		if pc.PaymentIntentID != "" {
			o.StripePaymentIntentID = pc.PaymentIntentID
		}
		o.UpdatedAt = paidAt
		_, err = tx.ExecContext(ctx, `UPDATE orders SET payment_status=$2, status=$3, paid_at=$4,
			stripe_payment_intent_id=$5, updated_at=$6 WHERE id=$1`,
			o.ID, string(o.PaymentStatus), string(o.Status), paidAt, dbx.NullString(o.StripePaymentIntentID), paidAt)
		if err != nil {
			return err
		}
		if o.Status == domain.OrderCancelled {
			result.Order = o
			result.Applied = true
			result.RefundDue = true
			return nil
		}

		ids, qty := mergeItems(o.Items)
		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		for _, id := range sorted {
			var stock int
			err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, id).Scan(&stock)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return err
			}
			if stock < qty[id] {
				result.Oversold = append(result.Oversold, id)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = GREATEST(stock - $2, 0), sales = sales + $2,
				updated_at = $3 WHERE id=$1`, id, qty[id], paidAt); err != nil {
				return err
			}
		}

		if err := countOrder(ctx, tx, o); err != nil {
			return err
		}
		result.Order = o
		result.Applied = true
		return nil
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return result, nil
}

func (p *Postgres) MarkPaymentFailed(ctx context.Context, pf PaymentFailure) (bool, error) {
	applied := false
	err := dbx.InTx(ctx, p.db, func(tx *sql.Tx) error {
		var id string
		var status domain.PaymentStatus
		err := tx.QueryRowContext(ctx, `SELECT id, payment_status FROM orders
			WHERE id=$1 OR ($2 <> '' AND stripe_payment_intent_id=$2) ORDER BY (id=$1) DESC LIMIT 1 FOR UPDATE`,
			pf.OrderID, pf.PaymentIntentID).Scan(&id, &status)
		if err != nil {
			return notFound(err)
		}
		fresh, err := recordEvent(ctx, tx, pf.Event)
		if err != nil || !fresh {
			return err
		}
		if status == domain.PaymentPaid {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE orders SET payment_status='failed',
			stripe_payment_intent_id=COALESCE(NULLIF($2, ''), stripe_payment_intent_id), updated_at=now() WHERE id=$1`,
			id, pf.PaymentIntentID)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (p *Postgres) CountOrders(ctx context.Context, storeID string) (OrderCounts, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders WHERE store_id=$1 GROUP BY status`, storeID)
	if err != nil {
		return OrderCounts{}, err
	}
	defer rows.Close()
	var c OrderCounts
	for rows.Next() {
		var status domain.OrderStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return OrderCounts{}, err
		}
		c.add(status, n)
	}
	return c, rows.Err()
}

func (p *Postgres) StoreCustomers(ctx context.Context, storeID string) ([]CustomerSummary, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT u.id, u.name, u.email, COALESCE(u.phone, ''), u.created_at,
			COUNT(o.id), COALESCE(SUM(o.total), 0), MAX(o.created_at)
		FROM orders o JOIN users u ON u.id = o.customer_id
		WHERE o.store_id = $1
		GROUP BY u.id, u.name, u.email, u.phone, u.created_at
		ORDER BY MAX(o.created_at) DESC`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]CustomerSummary, 0)
	for rows.Next() {
		var c CustomerSummary
		var spent decimal.Decimal
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.JoinedAt, &c.TotalOrders, &spent, &c.LastOrderDate); err != nil {
			return nil, err
		}
		c.TotalSpent = spent
		out = append(out, c)
	}
	return out, rows.Err()
}
