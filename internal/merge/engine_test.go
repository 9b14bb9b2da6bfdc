package merge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/internal/model"
	"marketwatch/internal/store"
)

var (
	t1 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	t3 = time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
)

func snapWith(at time.Time, recs ...model.ProductSnapshotRecord) *model.CrawlSnapshot {
	for i := range recs {
		recs[i].CapturedAt = at
	}
	return &model.CrawlSnapshot{
		CapturedAt:        at,
		FinishedAt:        at.Add(time.Minute),
		CategoriesCrawled: 1,
		Products:          recs,
	}
}

func prec(id int64, price float64) model.ProductSnapshotRecord {
	p := price
	return model.ProductSnapshotRecord{
		ProductID:    id,
		CategoryID:   1,
		CategoryName: "Cat",
		Name:         fmt.Sprintf("Product %d", id),
		Price:        &p,
	}
}

func newEngine(st store.Store) *Engine {
	return New(st, HistoryChanged, zerolog.Nop())
}

func TestParseHistoryMode(t *testing.T) {
	mode, err := ParseHistoryMode("always")
	require.NoError(t, err)
	assert.Equal(t, HistoryAlways, mode)

	mode, err = ParseHistoryMode("")
	require.NoError(t, err)
	assert.Equal(t, HistoryChanged, mode)

	_, err = ParseHistoryMode("sometimes")
	assert.Error(t, err)
}

// The worked example: A at T1 has P1 price=100; B at T2 has P1 price=100
// and a new P2 price=50. After ingesting both, the product table has P1
// and P2 and price history has exactly two rows.
func TestIngestChangeTriggeredHistory(t *testing.T) {
	m := store.NewMemory()
	e := newEngine(m)
	ctx := context.Background()

	a := snapWith(t1, prec(1, 100))
	b := snapWith(t2, prec(1, 100), prec(2, 50))

	repA, err := e.Ingest(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, model.MergeIngested, repA.Status)
	assert.Equal(t, 1, repA.Products)
	assert.Equal(t, 1, repA.PriceAppends)

	repB, err := e.Ingest(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 2, repB.Products)
	assert.Equal(t, 1, repB.PriceAppends, "unchanged P1 price must not append")

	_, _, ok := m.Product(1)
	require.True(t, ok)
	_, _, ok = m.Product(2)
	require.True(t, ok)

	points := m.History(store.DimPrice)
	require.Len(t, points, 2)
	assert.Equal(t, store.HistoryPoint{ProductID: 1, At: t1, Value: 100}, points[0])
	assert.Equal(t, store.HistoryPoint{ProductID: 2, At: t2, Value: 50}, points[1])
}

func TestIngestAppendsOnPriceChange(t *testing.T) {
	m := store.NewMemory()
	e := newEngine(m)
	ctx := context.Background()

	_, err := e.Ingest(ctx, snapWith(t1, prec(1, 100)))
	require.NoError(t, err)
	rep, err := e.Ingest(ctx, snapWith(t2, prec(1, 120)))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.PriceAppends)

	points := m.History(store.DimPrice)
	require.Len(t, points, 2)
	assert.Equal(t, 100.0, points[0].Value)
	assert.Equal(t, 120.0, points[1].Value)
}

func TestIngestIdempotent(t *testing.T) {
	m := store.NewMemory()
	e := newEngine(m)
	ctx := context.Background()

	a := snapWith(t1, prec(1, 100))
	_, err := e.Ingest(ctx, a)
	require.NoError(t, err)

	rep, err := e.Ingest(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, model.MergeSkipped, rep.Status)
	assert.Equal(t, 0, rep.Products, "a skipped snapshot touches nothing")

	assert.Len(t, m.History(store.DimPrice), 1)
	assert.Len(t, m.Logs(), 1)
}

func TestIngestAllSortsAscending(t *testing.T) {
	sequential := store.NewMemory()
	eSeq := newEngine(sequential)
	ctx := context.Background()

	a := snapWith(t1, prec(1, 100))
	b := snapWith(t2, prec(1, 120))
	_, err := eSeq.Ingest(ctx, a)
	require.NoError(t, err)
	_, err = eSeq.Ingest(ctx, b)
	require.NoError(t, err)

	shuffled := store.NewMemory()
	reports := newEngine(shuffled).IngestAll(ctx, []*model.CrawlSnapshot{b, a})

	require.Len(t, reports, 2)
	assert.True(t, reports[0].SnapshotAt.Equal(t1), "batch is processed oldest first")
	assert.True(t, reports[1].SnapshotAt.Equal(t2))

	assert.Equal(t, sequential.History(store.DimPrice), shuffled.History(store.DimPrice),
		"out-of-order input converges to the same history")
	assert.Len(t, shuffled.Logs(), 2)
}

func TestIngestAlwaysMode(t *testing.T) {
	m := store.NewMemory()
	e := New(m, HistoryAlways, zerolog.Nop())
	ctx := context.Background()

	_, err := e.Ingest(ctx, snapWith(t1, prec(1, 100)))
	require.NoError(t, err)
	rep, err := e.Ingest(ctx, snapWith(t2, prec(1, 100)))
	require.NoError(t, err)

	assert.Equal(t, 1, rep.PriceAppends, "always mode appends unchanged values")
	assert.Len(t, m.History(store.DimPrice), 2)
}

func TestIngestNilValueIsSoftSkip(t *testing.T) {
	m := store.NewMemory()
	e := newEngine(m)
	ctx := context.Background()

	rec := prec(1, 0)
	rec.Price = nil

	rep, err := e.Ingest(ctx, snapWith(t1, rec))
	require.NoError(t, err)
	assert.Equal(t, model.MergeIngested, rep.Status)
	assert.Equal(t, 1, rep.Products, "the record still lands in the product table")
	assert.Equal(t, 0, rep.PriceAppends)
	assert.Equal(t, 3, rep.SkippedValues, "price, sales and rating were all missing")

	_, _, ok := m.Product(1)
	assert.True(t, ok)
	assert.Empty(t, m.History(store.DimPrice))
}

func TestIngestSellerHandling(t *testing.T) {
	m := store.NewMemory()
	e := newEngine(m)
	ctx := context.Background()

	followers := int64(4000)
	r1 := prec(1, 10)
	r1.Seller = &model.SellerInfo{ID: 7, Name: "TechStore", URL: "https://x/s7", TotalFollower: &followers}
	r2 := prec(2, 20)
	r2.Seller = &model.SellerInfo{ID: 7, Name: "TechStore", URL: "https://x/s7", TotalFollower: &followers}

	rep, err := e.Ingest(ctx, snapWith(t1, r1, r2))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Products)
	assert.Equal(t, 1, rep.Sellers, "a shared seller is upserted once per snapshot")

	s, ok := m.Seller(7)
	require.True(t, ok)
	require.NotNil(t, s.TotalFollower)
	assert.Equal(t, int64(4000), *s.TotalFollower)

	p, _, ok := m.Product(1)
	require.True(t, ok)
	require.NotNil(t, p.SellerID)
	assert.Equal(t, int64(7), *p.SellerID)
}

func TestIngestFailureLeavesNoCrawlLog(t *testing.T) {
	m := store.NewMemory()
	e := newEngine(m)
	ctx := context.Background()
	boom := errors.New("connection lost")

	m.FailWith(boom)
	rep, err := e.Ingest(ctx, snapWith(t1, prec(1, 100)))
	require.Error(t, err)
	assert.Equal(t, model.MergeFailed, rep.Status)
	assert.ErrorIs(t, rep.Err, boom)

	m.FailWith(nil)
	has, err := m.HasCrawlLog(ctx, t1)
	require.NoError(t, err)
	assert.False(t, has, "a failed ingestion must stay retryable")

	rep, err = e.Ingest(ctx, snapWith(t1, prec(1, 100)))
	require.NoError(t, err)
	assert.Equal(t, model.MergeIngested, rep.Status)
}

// raceStore simulates a concurrent ingester that wins the crawl-log
// insert between our idempotency check and our own insert.
type raceStore struct {
	*store.Memory
}

var _ store.Store = (*raceStore)(nil)

func (r *raceStore) HasCrawlLog(ctx context.Context, at time.Time) (bool, error) {
	return false, nil
}

func TestIngestConcurrentDuplicateIsSkip(t *testing.T) {
	rs := &raceStore{Memory: store.NewMemory()}
	ctx := context.Background()
	require.NoError(t, rs.Memory.InsertCrawlLog(ctx, store.CrawlLog{SnapshotAt: t1}))

	rep, err := newEngine(rs).Ingest(ctx, snapWith(t1, prec(1, 100)))
	require.NoError(t, err, "losing the crawl-log race is not a failure")
	assert.Equal(t, model.MergeSkipped, rep.Status)
}

// failAtStore fails product writes for one capture time only.
type failAtStore struct {
	*store.Memory
	failAt time.Time
}

var _ store.Store = (*failAtStore)(nil)

func (f *failAtStore) UpsertProduct(ctx context.Context, p store.Product) error {
	if p.SeenAt.Equal(f.failAt) {
		return &store.WriteError{Op: "upsert product", Err: errors.New("injected")}
	}
	return f.Memory.UpsertProduct(ctx, p)
}

func TestIngestAllContinuesPastFailures(t *testing.T) {
	fs := &failAtStore{Memory: store.NewMemory(), failAt: t2}
	ctx := context.Background()

	reports := newEngine(fs).IngestAll(ctx, []*model.CrawlSnapshot{
		snapWith(t1, prec(1, 100)),
		snapWith(t2, prec(1, 110)),
		snapWith(t3, prec(1, 120)),
	})

	require.Len(t, reports, 3)
	assert.Equal(t, model.MergeIngested, reports[0].Status)
	assert.Equal(t, model.MergeFailed, reports[1].Status)
	assert.Equal(t, model.MergeIngested, reports[2].Status, "a bad snapshot does not stop the batch")

	logs := fs.Memory.Logs()
	require.Len(t, logs, 2)
	assert.True(t, logs[0].SnapshotAt.Equal(t1))
	assert.True(t, logs[1].SnapshotAt.Equal(t3))
}
