package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the binaries need. Values come from the
// environment (a .env file is honored when present); the commands layer
// flag overrides on top before calling Validate.
type Config struct {
	DatabaseURL string

	SnapshotDir    string
	CategoriesFile string
	ExportDir      string

	MaxWorkers             int
	RateLimitPerSecond     float64
	MaxProductsPerCategory int
	ProductsPerPage        int

	MaxRetries      int
	RequestTimeout  time.Duration
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	ListingAPI string
	ProductAPI string
	SellerAPI  string

	MetricsAddr string

	RedisAddr   string
	RedisDB     int
	RedisStream string
}

func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		SnapshotDir:    getEnv("SNAPSHOT_DIR", "data/snapshots"),
		CategoriesFile: getEnv("CATEGORIES_FILE", "config/categories.json"),
		ExportDir:      getEnv("EXPORT_DIR", "data/exports"),

		MaxWorkers:             getEnvInt("MAX_WORKERS", 10),
		RateLimitPerSecond:     getEnvFloat("RATE_LIMIT_PER_SECOND", 5),
		MaxProductsPerCategory: getEnvInt("MAX_PRODUCTS_PER_CATEGORY", 250),
		ProductsPerPage:        getEnvInt("PRODUCTS_PER_PAGE", 48),

		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		RetryBackoff:    getEnvDuration("RETRY_BACKOFF", time.Second),
		RetryBackoffMax: getEnvDuration("RETRY_BACKOFF_MAX", 30*time.Second),

		ListingAPI: getEnv("LISTING_API", "https://tiki.vn/api/v2/products"),
		ProductAPI: getEnv("PRODUCT_API", "https://tiki.vn/api/v2/products/%d"),
		SellerAPI:  getEnv("SELLER_API", "https://api.tiki.vn/social/openapi/interaction/following?tiki_seller_id=%d"),

		MetricsAddr: os.Getenv("METRICS_ADDR"),

		RedisAddr:   os.Getenv("REDIS_ADDR"),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		RedisStream: getEnv("REDIS_STREAM", "marketwatch:crawls"),
	}
}

// Validate checks the crawl-side knobs. Store-side settings (DATABASE_URL)
// are checked by the commands that need them.
func (c *Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive, got %d", c.MaxWorkers)
	}
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("rate limit must be positive, got %g", c.RateLimitPerSecond)
	}
	if c.MaxProductsPerCategory <= 0 {
		return fmt.Errorf("max products per category must be positive, got %d", c.MaxProductsPerCategory)
	}
	if c.ProductsPerPage <= 0 {
		return fmt.Errorf("products per page must be positive, got %d", c.ProductsPerPage)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.CategoriesFile == "" {
		return fmt.Errorf("categories file must be set")
	}
	return nil
}

func getEnv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getEnvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getEnvFloat(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return d
}

func getEnvDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}
