package learning

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/facturaIA/invoice-insight/internal/models"
)

type memoryRow struct {
	mu     sync.Mutex
	m      models.VendorMapping
	exists bool
}

// MemoryRepository keeps mappings in process memory. Each row has its own
// lock so concurrent updates of one (vendor, category) pair serialize.
type MemoryRepository struct {
	mu     sync.RWMutex
	rows   map[string]*memoryRow
	nextID atomic.Int64
}

// NewMemoryRepository creates an empty in-process mapping store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*memoryRow)}
}

func rowKey(normalizedVendor, category string) string {
	return normalizedVendor + "\x00" + category
}

// row returns the slot for key, creating an empty placeholder if needed
func (r *MemoryRepository) row(key string) *memoryRow {
	r.mu.RLock()
	row, ok := r.rows[key]
	r.mu.RUnlock()
	if ok {
		return row
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok = r.rows[key]; !ok {
		row = &memoryRow{}
		r.rows[key] = row
	}
	return row
}

func (r *MemoryRepository) FindByVendor(ctx context.Context, normalizedVendor string, limit int) ([]models.VendorMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	rows := make([]*memoryRow, 0)
	for _, row := range r.rows {
		rows = append(rows, row)
	}
	r.mu.RUnlock()

	out := []models.VendorMapping{}
	for _, row := range rows {
		row.mu.Lock()
		if row.exists && row.m.NormalizedVendor == normalizedVendor {
			out = append(out, row.m)
		}
		row.mu.Unlock()
	}
	sortMappings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, obs Observation) (models.VendorMapping, error) {
	if err := ctx.Err(); err != nil {
		return models.VendorMapping{}, err
	}

	row := r.row(rowKey(obs.NormalizedVendor, obs.Category))
	row.mu.Lock()
	defer row.mu.Unlock()

	if !row.exists {
		row.m = ApplyObservation(nil, obs)
		row.m.ID = r.nextID.Add(1)
		row.exists = true
		return row.m, nil
	}
	row.m = ApplyObservation(&row.m, obs)
	return row.m, nil
}

func (r *MemoryRepository) DecaySiblings(ctx context.Context, normalizedVendor, winningCategory string, factor float64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	rows := make([]*memoryRow, 0)
	for _, row := range r.rows {
		rows = append(rows, row)
	}
	r.mu.RUnlock()

	n := 0
	for _, row := range rows {
		row.mu.Lock()
		if row.exists && row.m.NormalizedVendor == normalizedVendor && row.m.Category != winningCategory {
			row.m.Confidence *= factor
			n++
		}
		row.mu.Unlock()
	}
	return n, nil
}

// sortMappings orders by confidence desc, count desc, category asc
func sortMappings(ms []models.VendorMapping) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Confidence != ms[j].Confidence {
			return ms[i].Confidence > ms[j].Confidence
		}
		if ms[i].Count != ms[j].Count {
			return ms[i].Count > ms[j].Count
		}
		return ms[i].Category < ms[j].Category
	})
}
