package store

// Statements run one at a time: pgx's extended protocol does not accept
// multi-statement strings.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT PRIMARY KEY,
		category_id BIGINT NOT NULL,
		category_name TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		short_description TEXT NOT NULL DEFAULT '',
		url_key TEXT NOT NULL DEFAULT '',
		seller_id BIGINT,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_category ON products (category_id)`,
	`CREATE TABLE IF NOT EXISTS sellers (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		total_follower BIGINT,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products (id),
		crawl_timestamp TIMESTAMPTZ NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		UNIQUE (product_id, crawl_timestamp)
	)`,
	`CREATE TABLE IF NOT EXISTS sales_history (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products (id),
		crawl_timestamp TIMESTAMPTZ NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		UNIQUE (product_id, crawl_timestamp)
	)`,
	`CREATE TABLE IF NOT EXISTS rating_history (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products (id),
		crawl_timestamp TIMESTAMPTZ NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		UNIQUE (product_id, crawl_timestamp)
	)`,
	`CREATE TABLE IF NOT EXISTS crawl_logs (
		id BIGSERIAL PRIMARY KEY,
		snapshot_ts TIMESTAMPTZ NOT NULL UNIQUE,
		categories INT NOT NULL,
		products INT NOT NULL,
		sellers INT NOT NULL,
		errors INT NOT NULL,
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
