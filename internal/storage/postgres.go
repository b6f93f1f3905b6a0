package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"erp/ecommerce/storepro/internal/domain"
	"erp/ecommerce/storepro/internal/platform/dbx"
)

// Postgres implements Repository on database/sql with the pgx driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres applies the schema and returns a ready repository.
func NewPostgres(ctx context.Context, db *sql.DB) (*Postgres, error) {
	if err := dbx.Migrate(ctx, db, schema); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Mode() string { return "postgres" }
func (p *Postgres) Close() error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func mapUnique(err error) error {
	name, ok := dbx.UniqueViolation(err)
	if !ok {
		return err
	}
	switch name {
	case "ux_users_email":
		return ErrDuplicateEmail
	case "ux_stores_name", "ux_stores_slug":
		return ErrDuplicateStore
	}
	return fmt.Errorf("%w: %s", ErrDuplicate, name)
}

func toJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = `id, name, email, password_hash, phone, role, store_id, is_active, last_login, created_at, updated_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var phone, storeID sql.NullString
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &phone, &u.Role, &storeID,
		&u.IsActive, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return domain.User{}, notFound(err)
	}
	u.Phone = phone.String
	u.StoreID = storeID.String
	u.LastLogin = timePtr(lastLogin)
	return u, nil
}

func insertUser(ctx context.Context, q queryer, u domain.User) error {
	_, err := q.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.Name, u.Email, u.PasswordHash, dbx.NullString(u.Phone), string(u.Role), dbx.NullString(u.StoreID),
		u.IsActive, nullTime(u.LastLogin), u.CreatedAt, u.UpdatedAt)
	return mapUnique(err)
}

func (p *Postgres) CreateUser(ctx context.Context, u domain.User) error {
	return insertUser(ctx, p.db, u)
}

func (p *Postgres) CreateUserWithStore(ctx context.Context, u domain.User, s domain.Store) error {
	return dbx.InTx(ctx, p.db, func(tx *sql.Tx) error {
		if err := insertUser(ctx, tx, u); err != nil {
			return err
		}
		return insertStore(ctx, tx, s)
	})
}

func (p *Postgres) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

func (p *Postgres) UpdateUser(ctx context.Context, u domain.User) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET name=$2, email=$3, password_hash=$4, phone=$5, is_active=$6, updated_at=$7 WHERE id=$1`,
		u.ID, u.Name, u.Email, u.PasswordHash, dbx.NullString(u.Phone), u.IsActive, u.UpdatedAt)
	if err != nil {
		return mapUnique(err)
	}
	return notFound(dbx.RowsAffected(res))
}

func (p *Postgres) TouchLogin(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET last_login=$2 WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	return notFound(dbx.RowsAffected(res))
}

// ---------------------------------------------------------------------------
// Stores
// ---------------------------------------------------------------------------

const storeColumns = `id, name, slug, description, logo, banner, email, phone, address, owner_id,
	currency, language, timezone, is_rtl,
	plan, subscription_status, stripe_customer_id, stripe_subscription_id, stripe_price_id,
	current_period_start, current_period_end, cancel_at_period_end,
	max_products, max_orders, total_products, total_orders, total_revenue, total_customers,
	is_active, is_verified, created_at, updated_at`

func scanStore(row rowScanner) (domain.Store, error) {
	var s domain.Store
	var desc, logo, banner, email, phone, custID, subID, priceID sql.NullString
	var address []byte
	var periodStart, periodEnd sql.NullTime
	if err := row.Scan(&s.ID, &s.Name, &s.Slug, &desc, &logo, &banner, &email, &phone, &address, &s.OwnerID,
		&s.Settings.Currency, &s.Settings.Language, &s.Settings.Timezone, &s.Settings.IsRTL,
		&s.Subscription.Plan, &s.Subscription.Status, &custID, &subID, &priceID,
		&periodStart, &periodEnd, &s.Subscription.CancelAtPeriodEnd,
		&s.Limits.MaxProducts, &s.Limits.MaxOrders,
		&s.Stats.TotalProducts, &s.Stats.TotalOrders, &s.Stats.TotalRevenue, &s.Stats.TotalCustomers,
		&s.IsActive, &s.IsVerified, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.Store{}, notFound(err)
	}
	s.Description = desc.String
	s.Logo = logo.String
	s.Banner = banner.String
	s.Email = email.String
	s.Phone = phone.String
	s.Subscription.StripeCustomerID = custID.String
	s.Subscription.StripeSubscriptionID = subID.String
	s.Subscription.StripePriceID = priceID.String
	s.Subscription.CurrentPeriodStart = timePtr(periodStart)
	s.Subscription.CurrentPeriodEnd = timePtr(periodEnd)
	if len(address) > 0 {
		if err := json.Unmarshal(address, &s.Address); err != nil {
			return domain.Store{}, fmt.Errorf("decode store address: %w", err)
		}
	}
	return s, nil
}

func insertStore(ctx context.Context, q queryer, s domain.Store) error {
	address, err := toJSON(s.Address)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO stores (`+storeColumns+`) VALUES
		($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32)`,
		s.ID, s.Name, s.Slug, dbx.NullString(s.Description), dbx.NullString(s.Logo), dbx.NullString(s.Banner),
		dbx.NullString(s.Email), dbx.NullString(s.Phone), address, s.OwnerID,
		s.Settings.Currency, s.Settings.Language, s.Settings.Timezone, s.Settings.IsRTL,
		s.Subscription.Plan, s.Subscription.Status, dbx.NullString(s.Subscription.StripeCustomerID),
		dbx.NullString(s.Subscription.StripeSubscriptionID), dbx.NullString(s.Subscription.StripePriceID),
		nullTime(s.Subscription.CurrentPeriodStart), nullTime(s.Subscription.CurrentPeriodEnd), s.Subscription.CancelAtPeriodEnd,
		s.Limits.MaxProducts, s.Limits.MaxOrders,
		s.Stats.TotalProducts, s.Stats.TotalOrders, s.Stats.TotalRevenue, s.Stats.TotalCustomers,
		s.IsActive, s.IsVerified, s.CreatedAt, s.UpdatedAt)
	return mapUnique(err)
}

func (p *Postgres) GetStore(ctx context.Context, id string) (domain.Store, error) {
	return scanStore(p.db.QueryRowContext(ctx, `SELECT `+storeColumns+` FROM stores WHERE id=$1`, id))
}

func (p *Postgres) StoreNameTaken(ctx context.Context, name, exceptID string) (bool, error) {
	var taken bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stores WHERE lower(name)=lower($1) AND id<>$2)`, name, exceptID).Scan(&taken)
	return taken, err
}

func (p *Postgres) UpdateStoreProfile(ctx context.Context, s domain.Store) error {
	address, err := toJSON(s.Address)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE stores SET name=$2, description=$3, logo=$4, banner=$5, email=$6, phone=$7,
		address=$8, currency=$9, language=$10, timezone=$11, is_rtl=$12, updated_at=$13 WHERE id=$1`,
		s.ID, s.Name, dbx.NullString(s.Description), dbx.NullString(s.Logo), dbx.NullString(s.Banner),
		dbx.NullString(s.Email), dbx.NullString(s.Phone), address,
		s.Settings.Currency, s.Settings.Language, s.Settings.Timezone, s.Settings.IsRTL, s.UpdatedAt)
	if err != nil {
		return mapUnique(err)
	}
	return notFound(dbx.RowsAffected(res))
}

func (p *Postgres) ListActiveStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+storeColumns+` FROM stores WHERE is_active ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Store, 0)
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) FindStoreBySubscription(ctx context.Context, subscriptionID string) (domain.Store, error) {
	if subscriptionID == "" {
		return domain.Store{}, ErrNotFound
	}
	return scanStore(p.db.QueryRowContext(ctx, `SELECT `+storeColumns+` FROM stores WHERE stripe_subscription_id=$1`, subscriptionID))
}

func (p *Postgres) FindStoreByCustomer(ctx context.Context, customerID string) (domain.Store, error) {
	if customerID == "" {
		return domain.Store{}, ErrNotFound
	}
	return scanStore(p.db.QueryRowContext(ctx, `SELECT `+storeColumns+` FROM stores WHERE stripe_customer_id=$1`, customerID))
}

func (p *Postgres) SetStripeCustomer(ctx context.Context, storeID, customerID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE stores SET stripe_customer_id=$2, updated_at=now() WHERE id=$1`, storeID, customerID)
	if err != nil {
		return err
	}
	return notFound(dbx.RowsAffected(res))
}

func (p *Postgres) SetCancelAtPeriodEnd(ctx context.Context, storeID string, cancel bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE stores SET cancel_at_period_end=$2, updated_at=now() WHERE id=$1`, storeID, cancel)
	if err != nil {
		return err
	}
	return notFound(dbx.RowsAffected(res))
}

// recordEvent inserts ev into the ledger and reports whether it was new.
func recordEvent(ctx context.Context, q queryer, ev ProcessedEvent) (bool, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO processed_webhook_events (event_id, source, type, processed_at)
		VALUES ($1,$2,$3,$4) ON CONFLICT (event_id) DO NOTHING`, ev.ID, ev.Source, ev.Type, ev.ProcessedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *Postgres) RecordEvent(ctx context.Context, ev ProcessedEvent) (bool, error) {
	return recordEvent(ctx, p.db, ev)
}

func (p *Postgres) ApplySubscriptionChange(ctx context.Context, ch SubscriptionChange) (bool, error) {
	applied := false
	err := dbx.InTx(ctx, p.db, func(tx *sql.Tx) error {
		fresh, err := recordEvent(ctx, tx, ch.Event)
		if err != nil || !fresh {
			return err
		}
		s, err := scanStore(tx.QueryRowContext(ctx, `SELECT `+storeColumns+` FROM stores WHERE id=$1 FOR UPDATE`, ch.StoreID))
		if err != nil {
			return err
		}
		ch.Apply(&s)
		sub := s.Subscription
		_, err = tx.ExecContext(ctx, `UPDATE stores SET plan=$2, subscription_status=$3, stripe_customer_id=$4,
			stripe_subscription_id=$5, stripe_price_id=$6, current_period_start=$7, current_period_end=$8,
			cancel_at_period_end=$9, max_products=$10, max_orders=$11, updated_at=now() WHERE id=$1`,
			s.ID, sub.Plan, sub.Status, dbx.NullString(sub.StripeCustomerID), dbx.NullString(sub.StripeSubscriptionID),
			dbx.NullString(sub.StripePriceID), nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd),
			sub.CancelAtPeriodEnd, s.Limits.MaxProducts, s.Limits.MaxOrders)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// ---------------------------------------------------------------------------
// Store statistics
// ---------------------------------------------------------------------------

// countOrder adds o to the store counters, counting the customer once per store.
func countOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO store_customers (store_id, customer_id, first_order_at)
		VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`, o.StoreID, o.CustomerID, o.CreatedAt)
	if err != nil {
		return err
	}
	newCustomer, err := res.RowsAffected()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE stores SET total_orders = total_orders + 1,
		total_revenue = total_revenue + $2, total_customers = total_customers + $3, updated_at = now() WHERE id=$1`,
		o.StoreID, o.Total, newCustomer)
	return err
}

var _ Repository = (*Postgres)(nil)
