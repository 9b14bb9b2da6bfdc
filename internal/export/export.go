// Package export dumps warehouse tables as CSV files for the analysis
// stages that consume the schema outside this system.
package export

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Exporter reads the warehouse through database/sql and writes one CSV
// file per table into a target directory.
type Exporter struct {
	db  *sql.DB
	dir string
	log zerolog.Logger
}

func New(db *sql.DB, dir string, log zerolog.Logger) *Exporter {
	return &Exporter{db: db, dir: dir, log: log}
}

type table struct {
	name   string
	header []string
	query  string
	scan   func(rows *sql.Rows) ([]string, error)
}

// Tables lists the exportable table names in export order.
func Tables() []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.name
	}
	return names
}

// Export writes the named table, or every table for "all", and returns
// the paths written. Existing files are replaced: exports are derived
// artifacts, unlike snapshots.
func (e *Exporter) Export(name string) ([]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	selected := tables
	if name != "all" {
		t, ok := tableByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown table %q (have: all, %s)", name, strings.Join(Tables(), ", "))
		}
		selected = []table{t}
	}

	paths := make([]string, 0, len(selected))
	for _, t := range selected {
		path, err := e.writeTable(t)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (e *Exporter) writeTable(t table) (string, error) {
	rows, err := e.db.Query(t.query)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", t.name, err)
	}
	defer rows.Close()

	path := filepath.Join(e.dir, t.name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.header); err != nil {
		return "", fmt.Errorf("write %s header: %w", t.name, err)
	}

	count := 0
	for rows.Next() {
		record, err := t.scan(rows)
		if err != nil {
			return "", fmt.Errorf("scan %s: %w", t.name, err)
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write %s row: %w", t.name, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", t.name, err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush %s: %w", t.name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	e.log.Info().
		Str("table", t.name).
		Int("rows", count).
		Str("path", path).
		Msg("table exported")
	return path, nil
}

func tableByName(name string) (table, bool) {
	for _, t := range tables {
		if t.name == name {
			return t, true
		}
	}
	return table{}, false
}

var tables = []table{
	{
		name:   "products",
		header: []string{"id", "category_id", "category_name", "name", "short_description", "url_key", "seller_id", "first_seen", "last_seen"},
		query: `
			SELECT id, category_id, category_name, name, short_description, url_key, seller_id, first_seen, last_seen
			FROM products
			ORDER BY id
		`,
		scan: scanProduct,
	},
	{
		name:   "sellers",
		header: []string{"id", "name", "url", "total_follower", "first_seen", "last_seen"},
		query: `
			SELECT id, name, url, total_follower, first_seen, last_seen
			FROM sellers
			ORDER BY id
		`,
		scan: scanSeller,
	},
	{
		name:   "price_history",
		header: historyHeader,
		query:  historyQuery("price_history"),
		scan:   scanHistory,
	},
	{
		name:   "sales_history",
		header: historyHeader,
		query:  historyQuery("sales_history"),
		scan:   scanHistory,
	},
	{
		name:   "rating_history",
		header: historyHeader,
		query:  historyQuery("rating_history"),
		scan:   scanHistory,
	},
	{
		name:   "crawl_logs",
		header: []string{"snapshot_ts", "categories", "products", "sellers", "errors", "duration_ms", "created_at"},
		query: `
			SELECT snapshot_ts, categories, products, sellers, errors, duration_ms, created_at
			FROM crawl_logs
			ORDER BY snapshot_ts
		`,
		scan: scanCrawlLog,
	},
	{
		name:   "latest_snapshot",
		header: []string{"product_id", "name", "category_name", "price", "sales", "rating", "last_seen"},
		query: `
			SELECT p.id, p.name, p.category_name, price.value, sales.value, rating.value, p.last_seen
			FROM products p
			LEFT JOIN LATERAL (
				SELECT value FROM price_history
				WHERE product_id = p.id ORDER BY crawl_timestamp DESC LIMIT 1
			) price ON true
			LEFT JOIN LATERAL (
				SELECT value FROM sales_history
				WHERE product_id = p.id ORDER BY crawl_timestamp DESC LIMIT 1
			) sales ON true
			LEFT JOIN LATERAL (
				SELECT value FROM rating_history
				WHERE product_id = p.id ORDER BY crawl_timestamp DESC LIMIT 1
			) rating ON true
			ORDER BY p.id
		`,
		scan: scanLatest,
	},
}

var historyHeader = []string{"product_id", "product_name", "crawl_timestamp", "value"}

func historyQuery(table string) string {
	return fmt.Sprintf(`
		SELECT h.product_id, p.name, h.crawl_timestamp, h.value
		FROM %s h
		JOIN products p ON p.id = h.product_id
		ORDER BY h.crawl_timestamp, h.product_id
	`, table)
}

func scanProduct(rows *sql.Rows) ([]string, error) {
	var (
		id, categoryID                        int64
		categoryName, name, shortDesc, urlKey string
		sellerID                              sql.NullInt64
		firstSeen, lastSeen                   time.Time
	)
	if err := rows.Scan(&id, &categoryID, &categoryName, &name, &shortDesc, &urlKey, &sellerID, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}
	return []string{
		formatInt(id), formatInt(categoryID), categoryName, name, shortDesc, urlKey,
		formatNullInt(sellerID), formatTime(firstSeen), formatTime(lastSeen),
	}, nil
}

func scanSeller(rows *sql.Rows) ([]string, error) {
	var (
		id                  int64
		name, url           string
		totalFollower       sql.NullInt64
		firstSeen, lastSeen time.Time
	)
	if err := rows.Scan(&id, &name, &url, &totalFollower, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}
	return []string{
		formatInt(id), name, url, formatNullInt(totalFollower),
		formatTime(firstSeen), formatTime(lastSeen),
	}, nil
}

func scanHistory(rows *sql.Rows) ([]string, error) {
	var (
		productID int64
		name      string
		at        time.Time
		value     float64
	)
	if err := rows.Scan(&productID, &name, &at, &value); err != nil {
		return nil, err
	}
	return []string{formatInt(productID), name, formatTime(at), formatFloat(value)}, nil
}

func scanCrawlLog(rows *sql.Rows) ([]string, error) {
	var (
		snapshotAt, createdAt                   time.Time
		categories, products, sellers, errCount int64
		durationMs                              int64
	)
	if err := rows.Scan(&snapshotAt, &categories, &products, &sellers, &errCount, &durationMs, &createdAt); err != nil {
		return nil, err
	}
	return []string{
		formatTime(snapshotAt), formatInt(categories), formatInt(products),
		formatInt(sellers), formatInt(errCount), formatInt(durationMs), formatTime(createdAt),
	}, nil
}

func scanLatest(rows *sql.Rows) ([]string, error) {
	var (
		id                  int64
		name, categoryName  string
		price, sales, score sql.NullFloat64
		lastSeen            time.Time
	)
	if err := rows.Scan(&id, &name, &categoryName, &price, &sales, &score, &lastSeen); err != nil {
		return nil, err
	}
	return []string{
		formatInt(id), name, categoryName,
		formatNullFloat(price), formatNullFloat(sales), formatNullFloat(score),
		formatTime(lastSeen),
	}, nil
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatNullInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return formatInt(v.Int64)
}

func formatNullFloat(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float64)
}
