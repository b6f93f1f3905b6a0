package storage

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		phone TEXT,
		role TEXT NOT NULL CHECK (role IN ('platform_admin','store_owner','customer')),
		store_id TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_users_email ON users (email)`,

	`CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		description TEXT,
		logo TEXT,
		banner TEXT,
		email TEXT,
		phone TEXT,
		address JSONB NOT NULL DEFAULT '{}',
		owner_id TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'SAR',
		language TEXT NOT NULL DEFAULT 'ar' CHECK (language IN ('en','ar','fr')),
		timezone TEXT NOT NULL DEFAULT 'Asia/Riyadh',
		is_rtl BOOLEAN NOT NULL DEFAULT TRUE,
		plan TEXT NOT NULL DEFAULT 'free',
		subscription_status TEXT NOT NULL DEFAULT 'active',
		stripe_customer_id TEXT,
		stripe_subscription_id TEXT,
		stripe_price_id TEXT,
		current_period_start TIMESTAMPTZ,
		current_period_end TIMESTAMPTZ,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
		max_products INT NOT NULL DEFAULT 10,
		max_orders INT NOT NULL DEFAULT 100,
		total_products INT NOT NULL DEFAULT 0,
		total_orders INT NOT NULL DEFAULT 0,
		total_revenue NUMERIC(18,2) NOT NULL DEFAULT 0,
		total_customers INT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_stores_name ON stores (lower(name))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_stores_slug ON stores (slug)`,
	`CREATE INDEX IF NOT EXISTS idx_stores_owner ON stores (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_stores_subscription ON stores (stripe_subscription_id)`,
	`CREATE INDEX IF NOT EXISTS idx_stores_customer ON stores (stripe_customer_id)`,

	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL REFERENCES stores(id),
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		description TEXT,
		price NUMERIC(18,2) NOT NULL CHECK (price >= 0),
		compare_at_price NUMERIC(18,2),
		cost NUMERIC(18,2) NOT NULL DEFAULT 0,
		stock INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
		track_inventory BOOLEAN NOT NULL DEFAULT TRUE,
		images JSONB NOT NULL DEFAULT '[]',
		category TEXT,
		tags JSONB NOT NULL DEFAULT '[]',
		status TEXT NOT NULL CHECK (status IN ('draft','active','archived')) DEFAULT 'active',
		is_visible BOOLEAN NOT NULL DEFAULT TRUE,
		is_featured BOOLEAN NOT NULL DEFAULT FALSE,
		views INT NOT NULL DEFAULT 0,
		sales INT NOT NULL DEFAULT 0,
		rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		reviews_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_store_created ON products (store_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_products_store_status ON products (store_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_products_store_public ON products (store_id, is_featured DESC, created_at DESC, id DESC) WHERE status = 'active' AND is_visible`,

	`CREATE SEQUENCE IF NOT EXISTS order_number_seq`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_number TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		store_id TEXT NOT NULL REFERENCES stores(id),
		items JSONB NOT NULL,
		subtotal NUMERIC(18,2) NOT NULL,
		shipping_cost NUMERIC(18,2) NOT NULL DEFAULT 0,
		tax NUMERIC(18,2) NOT NULL DEFAULT 0,
		discount NUMERIC(18,2) NOT NULL DEFAULT 0,
		total NUMERIC(18,2) NOT NULL,
		shipping_address JSONB NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending','confirmed','processing','shipped','delivered','cancelled')),
		payment_method TEXT NOT NULL CHECK (payment_method IN ('cash','card','bank_transfer')),
		payment_status TEXT NOT NULL CHECK (payment_status IN ('pending','paid','failed','refunded')),
		stripe_session_id TEXT,
		stripe_payment_intent_id TEXT,
		customer_notes TEXT,
		admin_notes TEXT,
		paid_at TIMESTAMPTZ,
		shipped_at TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_number ON orders (order_number)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_store_created ON orders (store_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_customer_created ON orders (customer_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_store_status ON orders (store_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_payment_intent ON orders (stripe_payment_intent_id)`,

	`CREATE TABLE IF NOT EXISTS store_customers (
		store_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		first_order_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (store_id, customer_id)
	)`,

	`CREATE TABLE IF NOT EXISTS processed_webhook_events (
		event_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		type TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL
	)`,
}
