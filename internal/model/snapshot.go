package model

import "time"

// SellerInfo is the seller block attached to a crawled product record.
// TotalFollower is nil when the social endpoint was unreachable for the
// seller during the run.
type SellerInfo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url,omitempty"`
	TotalFollower *int64 `json:"total_follower"`
}

// ProductSnapshotRecord is one product observation inside a crawl run.
// Pointer fields are nil when the catalog returned null or something
// unparseable; the merge engine skips the matching history dimension for
// such records instead of failing them.
type ProductSnapshotRecord struct {
	ProductID        int64       `json:"product_id"`
	CategoryID       int64       `json:"category_id"`
	CategoryName     string      `json:"category_name,omitempty"`
	Name             string      `json:"name"`
	ShortDescription string      `json:"short_description,omitempty"`
	URLKey           string      `json:"url_key,omitempty"`
	Price            *float64    `json:"price"`
	Rating           *float64    `json:"rating"`
	QuantitySold     *int64      `json:"quantity_sold"`
	Seller           *SellerInfo `json:"seller,omitempty"`
	CapturedAt       time.Time   `json:"captured_at"`
}

// CrawlSnapshot is one complete crawl run. CapturedAt identifies the
// snapshot everywhere downstream: the file name, the crawl log row and
// every history entry ingested from it. Immutable once persisted.
type CrawlSnapshot struct {
	CapturedAt        time.Time               `json:"captured_at"`
	FinishedAt        time.Time               `json:"finished_at"`
	CategoriesCrawled int                     `json:"categories_crawled"`
	Products          []ProductSnapshotRecord `json:"products"`
	Errors            int                     `json:"errors"`
}

// Duration is the wall-clock span of the crawl run.
func (s *CrawlSnapshot) Duration() time.Duration {
	return s.FinishedAt.Sub(s.CapturedAt)
}
