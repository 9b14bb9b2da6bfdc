package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/internal/fetch"
	"marketwatch/internal/model"
	"marketwatch/internal/pool"
)

// mapFetcher serves canned bodies by exact URL; unknown URLs get a 404.
type mapFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	calls     map[string]int
}

var _ fetch.Fetcher = (*mapFetcher)(nil)

func newMapFetcher() *mapFetcher {
	return &mapFetcher{
		responses: make(map[string][]byte),
		calls:     make(map[string]int),
	}
}

func (f *mapFetcher) set(url string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = body
}

func (f *mapFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *mapFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	body, ok := f.responses[url]
	if !ok {
		return nil, &fetch.StatusError{Code: 404}
	}
	return body, nil
}

func smallClient() *Client {
	return NewClient(
		"https://cat.example/api/v2/products",
		"https://cat.example/api/v2/products/%d",
		"https://cat.example/social/following?seller_id=%d",
		2,
	)
}

func newTestOrchestrator(f fetch.Fetcher, c *Client, maxPerCategory int) *Orchestrator {
	p := pool.New(pool.Config{
		Workers:      4,
		QueueSize:    256,
		RetryBackoff: time.Millisecond,
		Fetcher:      f,
		Logger:       zerolog.Nop(),
	})
	return NewOrchestrator(c, p, Options{
		MaxProductsPerCategory: maxPerCategory,
		Logger:                 zerolog.Nop(),
	})
}

func listingBody(t *testing.T, current, last int, rows ...ListingRow) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"data":   rows,
		"paging": map[string]int{"current_page": current, "last_page": last},
	})
	require.NoError(t, err)
	return b
}

func detailBody(id int64, price float64, sellerID int64) []byte {
	if sellerID > 0 {
		return []byte(fmt.Sprintf(
			`{"id":%d,"name":"P%d","url_key":"p-%d","price":%g,"rating_average":4.2,"all_time_quantity_sold":5,"current_seller":{"id":%d,"name":"S%d","link":"https://x/s%d"}}`,
			id, id, id, price, sellerID, sellerID, sellerID))
	}
	return []byte(fmt.Sprintf(`{"id":%d,"name":"P%d","url_key":"p-%d","price":%g}`, id, id, id, price))
}

func sellerBody(followers int64) []byte {
	return []byte(fmt.Sprintf(`{"data":{"following":{"total_follower":%d}}}`, followers))
}

func TestRunCrawlsCategoryAcrossPages(t *testing.T) {
	c := smallClient()
	f := newMapFetcher()
	cat := model.Category{ID: 1789, Name: "Phones", URL: "https://cat.example/phones"}

	f.set(c.ListingPageURL(1789, 1), listingBody(t, 1, 2,
		ListingRow{ID: 101, Name: "A"}, ListingRow{ID: 102, Name: "B"}))
	f.set(c.ListingPageURL(1789, 2), listingBody(t, 2, 2,
		ListingRow{ID: 103, Name: "C"}))
	for _, id := range []int64{101, 102, 103} {
		f.set(c.ProductDetailURL(id), detailBody(id, float64(id)*10, 500))
	}
	f.set(c.SellerFollowURL(500), sellerBody(1234))

	snap := newTestOrchestrator(f, c, 0).Run(context.Background(), []model.Category{cat})

	assert.Equal(t, 1, snap.CategoriesCrawled)
	assert.Equal(t, 0, snap.Errors)
	require.Len(t, snap.Products, 3)
	assert.False(t, snap.FinishedAt.Before(snap.CapturedAt))

	seen := make(map[int64]bool)
	for _, rec := range snap.Products {
		seen[rec.ProductID] = true
		assert.Equal(t, int64(1789), rec.CategoryID)
		assert.Equal(t, "Phones", rec.CategoryName)
		assert.True(t, rec.CapturedAt.Equal(snap.CapturedAt), "records share the run capture time")
		require.NotNil(t, rec.Seller)
		require.NotNil(t, rec.Seller.TotalFollower, "seller followers resolved for every record")
		assert.Equal(t, int64(1234), *rec.Seller.TotalFollower)
	}
	assert.Equal(t, map[int64]bool{101: true, 102: true, 103: true}, seen)

	assert.Equal(t, 1, f.count(c.SellerFollowURL(500)), "one follower fetch per distinct seller")
}

func TestRunRespectsProductCap(t *testing.T) {
	c := smallClient()
	f := newMapFetcher()
	cat := model.Category{ID: 1, Name: "Caps"}

	f.set(c.ListingPageURL(1, 1), listingBody(t, 1, 3,
		ListingRow{ID: 101, Name: "A"}, ListingRow{ID: 102, Name: "B"}))
	f.set(c.ListingPageURL(1, 2), listingBody(t, 2, 3,
		ListingRow{ID: 103, Name: "C"}, ListingRow{ID: 104, Name: "D"}))
	f.set(c.ListingPageURL(1, 3), listingBody(t, 3, 3,
		ListingRow{ID: 105, Name: "E"}))
	for _, id := range []int64{101, 102, 103, 104, 105} {
		f.set(c.ProductDetailURL(id), detailBody(id, 9.5, 0))
	}

	snap := newTestOrchestrator(f, c, 3).Run(context.Background(), []model.Category{cat})

	assert.Len(t, snap.Products, 3)
	assert.Equal(t, 0, snap.Errors)
	assert.Equal(t, 0, f.count(c.ListingPageURL(1, 3)), "pagination stops once the cap is hit")
	assert.Equal(t, 0, f.count(c.ProductDetailURL(104)), "rows beyond the cap are not fetched")
}

func TestRunEmptyPageEndsCategory(t *testing.T) {
	c := smallClient()
	f := newMapFetcher()
	cat := model.Category{ID: 2, Name: "Empty"}

	f.set(c.ListingPageURL(2, 1), listingBody(t, 1, 5))

	snap := newTestOrchestrator(f, c, 0).Run(context.Background(), []model.Category{cat})

	assert.Empty(t, snap.Products)
	assert.Equal(t, 0, snap.Errors, "an empty page is end-of-catalog, not an error")
	assert.Equal(t, 0, f.count(c.ListingPageURL(2, 2)))
}

func TestRunDetailFailureDropsRecordOnly(t *testing.T) {
	c := smallClient()
	f := newMapFetcher()
	cat := model.Category{ID: 3, Name: "Flaky"}

	f.set(c.ListingPageURL(3, 1), listingBody(t, 1, 1,
		ListingRow{ID: 301, Name: "OK"}, ListingRow{ID: 302, Name: "Gone"}))
	f.set(c.ProductDetailURL(301), detailBody(301, 12, 0))
	// 302's detail is not registered and 404s.

	snap := newTestOrchestrator(f, c, 0).Run(context.Background(), []model.Category{cat})

	require.Len(t, snap.Products, 1)
	assert.Equal(t, int64(301), snap.Products[0].ProductID)
	assert.Equal(t, 1, snap.Errors)
}

func TestRunListingFailureStopsOneCategory(t *testing.T) {
	c := smallClient()
	f := newMapFetcher()
	broken := model.Category{ID: 4, Name: "Broken"}
	healthy := model.Category{ID: 5, Name: "Healthy"}

	// Category 4's listing 404s; category 5 crawls normally.
	f.set(c.ListingPageURL(5, 1), listingBody(t, 1, 1, ListingRow{ID: 501, Name: "Only"}))
	f.set(c.ProductDetailURL(501), detailBody(501, 42, 0))

	snap := newTestOrchestrator(f, c, 0).Run(context.Background(), []model.Category{broken, healthy})

	assert.Equal(t, 2, snap.CategoriesCrawled)
	assert.Equal(t, 1, snap.Errors)
	require.Len(t, snap.Products, 1)
	assert.Equal(t, int64(501), snap.Products[0].ProductID)
}

func TestRunSellerFailureLeavesFollowerNull(t *testing.T) {
	c := smallClient()
	f := newMapFetcher()
	cat := model.Category{ID: 6, Name: "Sellers"}

	f.set(c.ListingPageURL(6, 1), listingBody(t, 1, 1, ListingRow{ID: 601, Name: "A"}))
	f.set(c.ProductDetailURL(601), detailBody(601, 7, 600))
	// Seller 600's follower endpoint is not registered and 404s.

	snap := newTestOrchestrator(f, c, 0).Run(context.Background(), []model.Category{cat})

	require.Len(t, snap.Products, 1)
	rec := snap.Products[0]
	require.NotNil(t, rec.Seller)
	assert.Nil(t, rec.Seller.TotalFollower)
	assert.Equal(t, 0, snap.Errors, "follower enrichment is best effort")
}

func TestRunMissingPagingMeansSinglePage(t *testing.T) {
	c := smallClient()
	f := newMapFetcher()
	cat := model.Category{ID: 7, Name: "NoPaging"}

	f.set(c.ListingPageURL(7, 1), []byte(`{"data":[{"id":701,"name":"Solo"}]}`))
	f.set(c.ProductDetailURL(701), []byte(`{"id":701,"price":3}`))

	snap := newTestOrchestrator(f, c, 0).Run(context.Background(), []model.Category{cat})

	require.Len(t, snap.Products, 1)
	assert.Equal(t, "Solo", snap.Products[0].Name, "listing name backfills a nameless detail")
	assert.Equal(t, 0, snap.Errors, "page 2 was never requested")
}

func TestRunCancelledBeforeStart(t *testing.T) {
	c := smallClient()
	f := newMapFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := newTestOrchestrator(f, c, 0).Run(ctx, []model.Category{{ID: 8, Name: "Late"}})

	require.NotNil(t, snap, "a snapshot is produced even when cancelled")
	assert.Empty(t, snap.Products)
	assert.Equal(t, 0, snap.Errors)
	assert.Equal(t, 1, snap.CategoriesCrawled)
}

// cancelFetcher cancels the run context while serving the trigger URL,
// leaving tasks queued behind it to be swept out.
type cancelFetcher struct {
	*mapFetcher
	trigger string
	cancel  context.CancelFunc
}

var _ fetch.Fetcher = (*cancelFetcher)(nil)

func (f *cancelFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == f.trigger {
		f.cancel()
	}
	return f.mapFetcher.Fetch(ctx, url)
}

func TestRunCancelledMidRunKeepsCompletedRecords(t *testing.T) {
	c := smallClient()
	cat := model.Category{ID: 9, Name: "Cut"}

	inner := newMapFetcher()
	inner.set(c.ListingPageURL(9, 1), listingBody(t, 1, 1,
		ListingRow{ID: 901, Name: "Done"}, ListingRow{ID: 902, Name: "Queued"}))
	inner.set(c.ProductDetailURL(901), detailBody(901, 15, 0))
	inner.set(c.ProductDetailURL(902), detailBody(902, 16, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &cancelFetcher{mapFetcher: inner, trigger: c.ProductDetailURL(901), cancel: cancel}

	// One worker, so 902's detail is still queued when 901's fetch
	// cancels the run.
	p := pool.New(pool.Config{
		Workers:      1,
		QueueSize:    256,
		RetryBackoff: time.Millisecond,
		Fetcher:      f,
		Logger:       zerolog.Nop(),
	})
	snap := NewOrchestrator(c, p, Options{Logger: zerolog.Nop()}).Run(ctx, []model.Category{cat})

	require.Len(t, snap.Products, 1, "records completed before the cancel survive")
	assert.Equal(t, int64(901), snap.Products[0].ProductID)
	assert.Equal(t, 0, snap.Errors, "swept tasks are not fetch failures")
	assert.Equal(t, 0, f.count(c.ProductDetailURL(902)), "queued work is not fetched after the cancel")
}
