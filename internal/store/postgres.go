package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"marketwatch/internal/db"
)

// Postgres is the warehouse backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func OpenPostgres(ctx context.Context, url string, log zerolog.Logger) (*Postgres, error) {
	pool, err := db.OpenPool(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return &WriteError{Op: "ensure schema", Err: err}
		}
	}
	p.log.Debug().Msg("warehouse schema ensured")
	return nil
}

func (p *Postgres) UpsertProduct(ctx context.Context, prod Product) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO products
			(id, category_id, category_name, name, short_description, url_key, seller_id, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			category_id = EXCLUDED.category_id,
			category_name = EXCLUDED.category_name,
			name = EXCLUDED.name,
			short_description = EXCLUDED.short_description,
			url_key = EXCLUDED.url_key,
			seller_id = EXCLUDED.seller_id,
			last_seen = EXCLUDED.last_seen
	`, prod.ID, prod.CategoryID, prod.CategoryName, prod.Name, prod.ShortDescription, prod.URLKey, prod.SellerID, prod.SeenAt)
	if err != nil {
		return &WriteError{Op: "upsert product", Err: err}
	}
	return nil
}

func (p *Postgres) UpsertSeller(ctx context.Context, s Seller) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sellers (id, name, url, total_follower, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			total_follower = COALESCE(EXCLUDED.total_follower, sellers.total_follower),
			last_seen = EXCLUDED.last_seen
	`, s.ID, s.Name, s.URL, s.TotalFollower, s.SeenAt)
	if err != nil {
		return &WriteError{Op: "upsert seller", Err: err}
	}
	return nil
}

func (p *Postgres) AppendHistory(ctx context.Context, dim Dimension, productID int64, at time.Time, value float64) (bool, error) {
	table, err := historyTable(dim)
	if err != nil {
		return false, err
	}
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (product_id, crawl_timestamp, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, crawl_timestamp) DO NOTHING
	`, table), productID, at, value)
	if err != nil {
		return false, &WriteError{Op: "append " + string(dim), Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

// AppendHistoryIfChanged folds the latest-earlier-point check and the
// insert into one statement. Replays of the same snapshot land on the
// conflict target; appends for distinct timestamps are not serialized
// against each other and rely on snapshots being ingested by a single
// build process in order.
func (p *Postgres) AppendHistoryIfChanged(ctx context.Context, dim Dimension, productID int64, at time.Time, value float64) (bool, error) {
	table, err := historyTable(dim)
	if err != nil {
		return false, err
	}
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (product_id, crawl_timestamp, value)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (
			SELECT 1 FROM (
				SELECT value FROM %s
				WHERE product_id = $1 AND crawl_timestamp < $2
				ORDER BY crawl_timestamp DESC
				LIMIT 1
			) latest
			WHERE latest.value = $3
		)
		ON CONFLICT (product_id, crawl_timestamp) DO NOTHING
	`, table, table), productID, at, value)
	if err != nil {
		return false, &WriteError{Op: "append " + string(dim), Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) HasCrawlLog(ctx context.Context, snapshotAt time.Time) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM crawl_logs WHERE snapshot_ts = $1)`, snapshotAt,
	).Scan(&exists)
	if err != nil {
		return false, &WriteError{Op: "check crawl log", Err: err}
	}
	return exists, nil
}

func (p *Postgres) InsertCrawlLog(ctx context.Context, lg CrawlLog) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO crawl_logs (snapshot_ts, categories, products, sellers, errors, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, lg.SnapshotAt, lg.Categories, lg.Products, lg.Sellers, lg.Errors, lg.Duration.Milliseconds())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrDuplicateCrawlLog
		}
		return &WriteError{Op: "insert crawl log", Err: err}
	}
	return nil
}

func historyTable(d Dimension) (string, error) {
	switch d {
	case DimPrice:
		return "price_history", nil
	case DimSales:
		return "sales_history", nil
	case DimRating:
		return "rating_history", nil
	}
	return "", fmt.Errorf("unknown history dimension %q", d)
}
