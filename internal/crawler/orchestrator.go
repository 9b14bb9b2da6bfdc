package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"marketwatch/internal/model"
	"marketwatch/internal/observability"
	"marketwatch/internal/pool"
)

const (
	kindListing = "listing"
	kindDetail  = "detail"
	kindSeller  = "seller"
)

type listingMeta struct {
	catIdx int
	page   int
}

type detailMeta struct {
	catIdx int
	row    ListingRow
}

type sellerMeta struct {
	sellerID int64
}

// categoryState tracks pagination for one category. At most one listing
// page per category is in flight: page N+1 is submitted only after page N
// has been parsed, so the collected count is accurate when the cap check
// runs.
type categoryState struct {
	category  model.Category
	collected int
	done      bool
	records   []*model.ProductSnapshotRecord
}

// Options tune a crawl run. RunID correlates logs and downstream events
// for one run; when empty a fresh id is generated.
type Options struct {
	RunID                  string
	MaxProductsPerCategory int
	SellerCacheSize        int
	Logger                 zerolog.Logger
	Metrics                *observability.Metrics
}

// Orchestrator drives a crawl. It owns category pagination, record
// assembly and seller deduplication; the pool owns scheduling, rate
// limiting and retries.
type Orchestrator struct {
	client  *Client
	pool    *pool.Pool
	opts    Options
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewOrchestrator(client *Client, p *pool.Pool, opts Options) *Orchestrator {
	if opts.MaxProductsPerCategory <= 0 {
		opts.MaxProductsPerCategory = 250
	}
	if opts.SellerCacheSize <= 0 {
		opts.SellerCacheSize = 4096
	}
	return &Orchestrator{
		client:  client,
		pool:    p,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
}

// Run crawls the given categories and always returns a snapshot. Failed
// tasks become error counts rather than run failures, and a cancelled
// context stops new work while keeping every record already collected.
func (o *Orchestrator) Run(ctx context.Context, categories []model.Category) *model.CrawlSnapshot {
	capturedAt := time.Now().UTC().Truncate(time.Second)
	runID := o.opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	runLog := o.log.With().Str("run_id", runID).Logger()

	runLog.Info().
		Int("categories", len(categories)).
		Time("captured_at", capturedAt).
		Msg("starting crawl")

	sellerCache, _ := lru.New[int64, *int64](o.opts.SellerCacheSize)

	run := &crawlRun{
		o:              o,
		ctx:            ctx,
		log:            runLog,
		capturedAt:     capturedAt,
		states:         make([]*categoryState, len(categories)),
		sellerCache:    sellerCache,
		pendingSellers: make(map[int64][]*model.SellerInfo),
	}
	for i, cat := range categories {
		run.states[i] = &categoryState{category: cat}
	}

	o.pool.Start(ctx)
	for i := range run.states {
		run.submitListing(i, 1)
	}

	results := o.pool.Results()
	for run.outstanding > 0 {
		res := <-results
		run.outstanding--
		switch meta := res.Task.Meta.(type) {
		case listingMeta:
			run.handleListing(meta, res)
		case detailMeta:
			run.handleDetail(meta, res)
		case sellerMeta:
			run.handleSeller(meta, res)
		}
	}
	o.pool.Close()

	products := make([]model.ProductSnapshotRecord, 0, run.recordCount())
	for _, st := range run.states {
		for _, rec := range st.records {
			products = append(products, *rec)
		}
	}

	snap := &model.CrawlSnapshot{
		CapturedAt:        capturedAt,
		FinishedAt:        time.Now().UTC(),
		CategoriesCrawled: len(categories),
		Products:          products,
		Errors:            run.errors,
	}

	runLog.Info().
		Int("products", len(snap.Products)).
		Int("errors", snap.Errors).
		Dur("duration", snap.Duration()).
		Msg("crawl finished")
	return snap
}

// crawlRun holds the mutable state of one Run invocation. It is touched
// only from the event loop goroutine, so no locking is needed.
type crawlRun struct {
	o           *Orchestrator
	ctx         context.Context
	log         zerolog.Logger
	capturedAt  time.Time
	states      []*categoryState
	outstanding int
	errors      int

	sellerCache    *lru.Cache[int64, *int64]
	pendingSellers map[int64][]*model.SellerInfo
}

func (r *crawlRun) recordCount() int {
	n := 0
	for _, st := range r.states {
		n += len(st.records)
	}
	return n
}

// submit hands a task to the pool unless the run context is already
// dead. It reports whether a result should be expected.
func (r *crawlRun) submit(t pool.Task) bool {
	if r.ctx.Err() != nil {
		return false
	}
	if err := r.o.pool.Submit(t); err != nil {
		return false
	}
	r.outstanding++
	return true
}

// countTaskError records a run error for genuine fetch failures. Tasks
// swept out by run cancellation carry a bare context error and are not
// counted.
func (r *crawlRun) countTaskError(err error) {
	var fe *pool.FetchError
	if errors.As(err, &fe) {
		r.errors++
	}
}

func (r *crawlRun) submitListing(catIdx, page int) {
	st := r.states[catIdx]
	u := r.o.client.ListingPageURL(st.category.ID, page)
	if !r.submit(pool.Task{URL: u, Kind: kindListing, Meta: listingMeta{catIdx: catIdx, page: page}}) {
		st.done = true
	}
}

func (r *crawlRun) submitDetail(catIdx int, row ListingRow) {
	u := r.o.client.ProductDetailURL(row.ID)
	r.submit(pool.Task{URL: u, Kind: kindDetail, Meta: detailMeta{catIdx: catIdx, row: row}})
}

func (r *crawlRun) handleListing(meta listingMeta, res pool.Result) {
	st := r.states[meta.catIdx]
	log := r.log.With().Int64("category", st.category.ID).Int("page", meta.page).Logger()

	if res.Err != nil {
		r.countTaskError(res.Err)
		st.done = true
		log.Warn().Err(res.Err).Msg("listing page failed, stopping category")
		return
	}

	page, err := r.o.client.ParseListing(res.Task.URL, res.Body)
	if err != nil {
		r.errors++
		st.done = true
		log.Warn().Err(err).Msg("listing page unparseable, stopping category")
		return
	}
	if len(page.Rows) == 0 {
		st.done = true
		log.Debug().Msg("empty listing page, category complete")
		return
	}

	for _, row := range page.Rows {
		if st.collected >= r.o.opts.MaxProductsPerCategory {
			st.done = true
			break
		}
		st.collected++
		r.submitDetail(meta.catIdx, row)
	}
	if st.done {
		return
	}

	// A missing paging block means this is the only page.
	current, last := page.CurrentPage, page.LastPage
	if current == 0 {
		current = meta.page
	}
	if last == 0 {
		last = meta.page
	}
	if current >= last {
		st.done = true
		return
	}
	r.submitListing(meta.catIdx, meta.page+1)
}

func (r *crawlRun) handleDetail(meta detailMeta, res pool.Result) {
	st := r.states[meta.catIdx]
	log := r.log.With().Int64("product", meta.row.ID).Logger()

	if res.Err != nil {
		r.countTaskError(res.Err)
		log.Debug().Err(res.Err).Msg("product detail failed")
		return
	}

	detail, err := r.o.client.ParseDetail(res.Task.URL, res.Body)
	if err != nil {
		r.errors++
		log.Warn().Err(err).Msg("product detail unparseable")
		return
	}
	if detail.Name == "" {
		detail.Name = meta.row.Name
	}

	rec := Record(detail, st.category, r.capturedAt)
	st.records = append(st.records, &rec)
	r.o.metrics.IncProducts()

	if rec.Seller != nil {
		r.resolveSellerFollowers(rec.Seller)
	}
}

// resolveSellerFollowers fills in the follower count for a seller,
// fetching each distinct seller at most once per run. Records sharing a
// seller wait on the same request through the pending map.
func (r *crawlRun) resolveSellerFollowers(s *model.SellerInfo) {
	if cached, ok := r.sellerCache.Get(s.ID); ok {
		if cached != nil {
			v := *cached
			s.TotalFollower = &v
		}
		return
	}
	if pending, ok := r.pendingSellers[s.ID]; ok {
		r.pendingSellers[s.ID] = append(pending, s)
		return
	}
	r.pendingSellers[s.ID] = []*model.SellerInfo{s}
	u := r.o.client.SellerFollowURL(s.ID)
	r.submit(pool.Task{URL: u, Kind: kindSeller, Meta: sellerMeta{sellerID: s.ID}})
}

func (r *crawlRun) handleSeller(meta sellerMeta, res pool.Result) {
	pending := r.pendingSellers[meta.sellerID]
	delete(r.pendingSellers, meta.sellerID)
	log := r.log.With().Int64("seller", meta.sellerID).Logger()

	// Follower enrichment is best effort: on failure the records keep a
	// null follower count and no run error is recorded.
	if res.Err != nil {
		r.sellerCache.Add(meta.sellerID, nil)
		log.Debug().Err(res.Err).Msg("seller followers unavailable")
		return
	}
	followers, err := r.o.client.ParseSellerFollowers(res.Task.URL, res.Body)
	if err != nil {
		r.sellerCache.Add(meta.sellerID, nil)
		log.Debug().Err(err).Msg("seller followers unparseable")
		return
	}

	r.sellerCache.Add(meta.sellerID, &followers)
	for _, s := range pending {
		v := followers
		s.TotalFollower = &v
	}
}
