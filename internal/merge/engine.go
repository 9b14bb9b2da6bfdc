// Package merge turns crawl snapshots into warehouse state: current
// product and seller rows plus append-only history, ingested at most
// once per snapshot.
package merge

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"marketwatch/internal/model"
	"marketwatch/internal/store"
)

// HistoryMode selects how history points are appended.
type HistoryMode string

const (
	// HistoryChanged appends a point only when the value differs from the
	// latest earlier point, bounding table growth across unchanged crawls.
	HistoryChanged HistoryMode = "changed"
	// HistoryAlways appends one point per ingested snapshot.
	HistoryAlways HistoryMode = "always"
)

// ParseHistoryMode validates a mode string from configuration.
func ParseHistoryMode(s string) (HistoryMode, error) {
	switch HistoryMode(s) {
	case HistoryChanged, HistoryAlways:
		return HistoryMode(s), nil
	case "":
		return HistoryChanged, nil
	}
	return "", errors.New(`history mode must be "changed" or "always"`)
}

// Engine merges snapshots into a Store.
type Engine struct {
	store store.Store
	mode  HistoryMode
	log   zerolog.Logger
}

func New(st store.Store, mode HistoryMode, log zerolog.Logger) *Engine {
	if mode == "" {
		mode = HistoryChanged
	}
	return &Engine{store: st, mode: mode, log: log}
}

// Ingest merges one snapshot. The crawl log is written only after every
// record landed, so a failed ingestion leaves no log row and the same
// snapshot can be retried: upserts are idempotent and history appends
// are deduplicated by (product, crawl time).
func (e *Engine) Ingest(ctx context.Context, snap *model.CrawlSnapshot) (*model.MergeReport, error) {
	rep := &model.MergeReport{SnapshotAt: snap.CapturedAt, Status: model.MergeIngested}
	log := e.log.With().Time("snapshot", snap.CapturedAt).Logger()

	seen, err := e.store.HasCrawlLog(ctx, snap.CapturedAt)
	if err != nil {
		return e.fail(rep, err)
	}
	if seen {
		rep.Status = model.MergeSkipped
		log.Info().Msg("snapshot already ingested, skipping")
		return rep, nil
	}

	sellers := make(map[int64]bool)
	for i := range snap.Products {
		if err := e.ingestRecord(ctx, &snap.Products[i], sellers, rep, log); err != nil {
			return e.fail(rep, err)
		}
	}

	err = e.store.InsertCrawlLog(ctx, store.CrawlLog{
		SnapshotAt: snap.CapturedAt,
		Categories: snap.CategoriesCrawled,
		Products:   rep.Products,
		Sellers:    rep.Sellers,
		Errors:     snap.Errors,
		Duration:   snap.Duration(),
	})
	if err != nil {
		// Another ingester finished the same snapshot first; their rows
		// and ours are identical, so this is a skip, not a failure.
		if errors.Is(err, store.ErrDuplicateCrawlLog) {
			rep.Status = model.MergeSkipped
			log.Warn().Msg("crawl log already written by a concurrent ingestion")
			return rep, nil
		}
		return e.fail(rep, err)
	}

	log.Info().
		Int("products", rep.Products).
		Int("sellers", rep.Sellers).
		Int("price_appends", rep.PriceAppends).
		Int("sales_appends", rep.SalesAppends).
		Int("rating_appends", rep.RatingAppends).
		Int("skipped_values", rep.SkippedValues).
		Msg("snapshot ingested")
	return rep, nil
}

// IngestAll merges a batch in ascending capture order regardless of the
// input order, continuing past per-snapshot failures.
func (e *Engine) IngestAll(ctx context.Context, snaps []*model.CrawlSnapshot) []model.MergeReport {
	sorted := make([]*model.CrawlSnapshot, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CapturedAt.Before(sorted[j].CapturedAt)
	})

	reports := make([]model.MergeReport, 0, len(sorted))
	for _, snap := range sorted {
		if ctx.Err() != nil {
			break
		}
		rep, _ := e.Ingest(ctx, snap)
		reports = append(reports, *rep)
	}
	return reports
}

func (e *Engine) ingestRecord(ctx context.Context, rec *model.ProductSnapshotRecord, sellers map[int64]bool, rep *model.MergeReport, log zerolog.Logger) error {
	var sellerID *int64
	if rec.Seller != nil {
		if !sellers[rec.Seller.ID] {
			err := e.store.UpsertSeller(ctx, store.Seller{
				ID:            rec.Seller.ID,
				Name:          rec.Seller.Name,
				URL:           rec.Seller.URL,
				TotalFollower: rec.Seller.TotalFollower,
				SeenAt:        rec.CapturedAt,
			})
			if err != nil {
				return err
			}
			sellers[rec.Seller.ID] = true
			rep.Sellers++
		}
		id := rec.Seller.ID
		sellerID = &id
	}

	err := e.store.UpsertProduct(ctx, store.Product{
		ID:               rec.ProductID,
		CategoryID:       rec.CategoryID,
		CategoryName:     rec.CategoryName,
		Name:             rec.Name,
		ShortDescription: rec.ShortDescription,
		URLKey:           rec.URLKey,
		SellerID:         sellerID,
		SeenAt:           rec.CapturedAt,
	})
	if err != nil {
		return err
	}
	rep.Products++

	// History rows reference products, so the product upsert comes first.
	if err := e.appendValue(ctx, store.DimPrice, rec, rec.Price, &rep.PriceAppends, rep, log); err != nil {
		return err
	}
	var sales *float64
	if rec.QuantitySold != nil {
		v := float64(*rec.QuantitySold)
		sales = &v
	}
	if err := e.appendValue(ctx, store.DimSales, rec, sales, &rep.SalesAppends, rep, log); err != nil {
		return err
	}
	return e.appendValue(ctx, store.DimRating, rec, rec.Rating, &rep.RatingAppends, rep, log)
}

// appendValue writes one history dimension. A nil value skips the
// dimension with a soft warning; the record itself still counts.
func (e *Engine) appendValue(ctx context.Context, dim store.Dimension, rec *model.ProductSnapshotRecord, value *float64, appended *int, rep *model.MergeReport, log zerolog.Logger) error {
	if value == nil {
		rep.SkippedValues++
		log.Debug().
			Int64("product", rec.ProductID).
			Str("dimension", string(dim)).
			Msg("missing value, dimension skipped")
		return nil
	}

	var (
		wrote bool
		err   error
	)
	if e.mode == HistoryAlways {
		wrote, err = e.store.AppendHistory(ctx, dim, rec.ProductID, rec.CapturedAt, *value)
	} else {
		wrote, err = e.store.AppendHistoryIfChanged(ctx, dim, rec.ProductID, rec.CapturedAt, *value)
	}
	if err != nil {
		return err
	}
	if wrote {
		*appended++
	}
	return nil
}

func (e *Engine) fail(rep *model.MergeReport, err error) (*model.MergeReport, error) {
	rep.Status = model.MergeFailed
	rep.Err = err
	e.log.Error().Err(err).Time("snapshot", rep.SnapshotAt).Msg("snapshot ingestion failed")
	return rep, err
}
