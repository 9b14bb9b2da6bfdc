package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store with the same write semantics as the
// Postgres implementation. It backs the merge engine tests and offline
// runs without a database.
type Memory struct {
	mu        sync.Mutex
	products  map[int64]Product
	firstSeen map[int64]time.Time
	sellers   map[int64]Seller
	history   map[Dimension][]HistoryPoint
	logs      map[int64]CrawlLog

	failWith error
}

func NewMemory() *Memory {
	return &Memory{
		products:  make(map[int64]Product),
		firstSeen: make(map[int64]time.Time),
		sellers:   make(map[int64]Seller),
		history:   make(map[Dimension][]HistoryPoint),
		logs:      make(map[int64]CrawlLog),
	}
}

// FailWith makes every subsequent write fail with err. Passing nil
// restores normal operation.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Memory) EnsureSchema(ctx context.Context) error { return nil }

func (m *Memory) Close() {}

func (m *Memory) UpsertProduct(ctx context.Context, p Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return &WriteError{Op: "upsert product", Err: m.failWith}
	}
	if _, ok := m.firstSeen[p.ID]; !ok {
		m.firstSeen[p.ID] = p.SeenAt
	}
	m.products[p.ID] = p
	return nil
}

func (m *Memory) UpsertSeller(ctx context.Context, s Seller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return &WriteError{Op: "upsert seller", Err: m.failWith}
	}
	if prev, ok := m.sellers[s.ID]; ok && s.TotalFollower == nil {
		s.TotalFollower = prev.TotalFollower
	}
	m.sellers[s.ID] = s
	return nil
}

func (m *Memory) AppendHistory(ctx context.Context, dim Dimension, productID int64, at time.Time, value float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, &WriteError{Op: "append " + string(dim), Err: m.failWith}
	}
	if m.hasPoint(dim, productID, at) {
		return false, nil
	}
	m.history[dim] = append(m.history[dim], HistoryPoint{ProductID: productID, At: at, Value: value})
	return true, nil
}

func (m *Memory) AppendHistoryIfChanged(ctx context.Context, dim Dimension, productID int64, at time.Time, value float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, &WriteError{Op: "append " + string(dim), Err: m.failWith}
	}
	if m.hasPoint(dim, productID, at) {
		return false, nil
	}
	if prev, ok := m.latestBefore(dim, productID, at); ok && prev.Value == value {
		return false, nil
	}
	m.history[dim] = append(m.history[dim], HistoryPoint{ProductID: productID, At: at, Value: value})
	return true, nil
}

func (m *Memory) HasCrawlLog(ctx context.Context, snapshotAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.logs[snapshotAt.UTC().UnixNano()]
	return ok, nil
}

func (m *Memory) InsertCrawlLog(ctx context.Context, lg CrawlLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return &WriteError{Op: "insert crawl log", Err: m.failWith}
	}
	key := lg.SnapshotAt.UTC().UnixNano()
	if _, ok := m.logs[key]; ok {
		return ErrDuplicateCrawlLog
	}
	m.logs[key] = lg
	return nil
}

func (m *Memory) hasPoint(dim Dimension, productID int64, at time.Time) bool {
	for _, p := range m.history[dim] {
		if p.ProductID == productID && p.At.Equal(at) {
			return true
		}
	}
	return false
}

func (m *Memory) latestBefore(dim Dimension, productID int64, at time.Time) (HistoryPoint, bool) {
	var best HistoryPoint
	found := false
	for _, p := range m.history[dim] {
		if p.ProductID != productID || !p.At.Before(at) {
			continue
		}
		if !found || p.At.After(best.At) {
			best = p
			found = true
		}
	}
	return best, found
}

// Product returns the stored row for id along with its first-seen time.
func (m *Memory) Product(id int64) (Product, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	return p, m.firstSeen[id], ok
}

func (m *Memory) Seller(id int64) (Seller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sellers[id]
	return s, ok
}

// History returns the points of one dimension ordered by time then
// product id.
func (m *Memory) History(dim Dimension) []HistoryPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	points := make([]HistoryPoint, len(m.history[dim]))
	copy(points, m.history[dim])
	sort.Slice(points, func(i, j int) bool {
		if !points[i].At.Equal(points[j].At) {
			return points[i].At.Before(points[j].At)
		}
		return points[i].ProductID < points[j].ProductID
	})
	return points
}

func (m *Memory) Logs() []CrawlLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs := make([]CrawlLog, 0, len(m.logs))
	for _, lg := range m.logs {
		logs = append(logs, lg)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].SnapshotAt.Before(logs[j].SnapshotAt) })
	return logs
}
