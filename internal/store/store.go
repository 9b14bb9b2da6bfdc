// Package store is the history warehouse: current product and seller
// rows plus append-only history tables keyed by (product, crawl time).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Dimension names one history table.
type Dimension string

const (
	DimPrice  Dimension = "price"
	DimSales  Dimension = "sales"
	DimRating Dimension = "rating"
)

// Product is the current state of one product. SeenAt is the capture
// time of the snapshot being ingested; it becomes first_seen on insert
// and last_seen on every write.
type Product struct {
	ID               int64
	CategoryID       int64
	CategoryName     string
	Name             string
	ShortDescription string
	URLKey           string
	SellerID         *int64
	SeenAt           time.Time
}

// Seller is the current state of one seller. A nil TotalFollower never
// overwrites a known count.
type Seller struct {
	ID            int64
	Name          string
	URL           string
	TotalFollower *int64
	SeenAt        time.Time
}

// HistoryPoint is one observation in a history table.
type HistoryPoint struct {
	ProductID int64
	At        time.Time
	Value     float64
}

// CrawlLog records one ingested snapshot. SnapshotAt is unique: a
// snapshot is ingested at most once.
type CrawlLog struct {
	SnapshotAt time.Time
	Categories int
	Products   int
	Sellers    int
	Errors     int
	Duration   time.Duration
}

// ErrDuplicateCrawlLog reports an InsertCrawlLog for a snapshot time
// that already has a log row.
var ErrDuplicateCrawlLog = errors.New("crawl log already recorded")

// WriteError wraps a failed warehouse write with the operation that
// produced it.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store is the warehouse interface the merge engine writes through.
//
// Both append methods report whether a row was written. AppendHistory
// skips only exact (product, crawl time) duplicates;
// AppendHistoryIfChanged additionally skips values equal to the latest
// point recorded before the given time.
type Store interface {
	EnsureSchema(ctx context.Context) error
	UpsertProduct(ctx context.Context, p Product) error
	UpsertSeller(ctx context.Context, s Seller) error
	AppendHistory(ctx context.Context, dim Dimension, productID int64, at time.Time, value float64) (bool, error)
	AppendHistoryIfChanged(ctx context.Context, dim Dimension, productID int64, at time.Time, value float64) (bool, error)
	HasCrawlLog(ctx context.Context, snapshotAt time.Time) (bool, error)
	InsertCrawlLog(ctx context.Context, lg CrawlLog) error
	Close()
}
