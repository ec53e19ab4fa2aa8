package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/facturaIA/invoice-insight/internal/services"
	"github.com/google/uuid"
)

// MemoryInvoiceStore is the InvoiceStore used when no database is configured
type MemoryInvoiceStore struct {
	mu       sync.RWMutex
	invoices map[string]map[uuid.UUID]models.StoredInvoice
	now      func() time.Time
}

func NewMemoryInvoiceStore() *MemoryInvoiceStore {
	return &MemoryInvoiceStore{
		invoices: make(map[string]map[uuid.UUID]models.StoredInvoice),
		now:      time.Now,
	}
}

func (s *MemoryInvoiceStore) SaveInvoice(ctx context.Context, tenant string, inv *models.StoredInvoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.Tenant = tenant
	inv.CreatedAt = s.now()

	byID, ok := s.invoices[tenant]
	if !ok {
		byID = make(map[uuid.UUID]models.StoredInvoice)
		s.invoices[tenant] = byID
	}
	byID[inv.ID] = *inv
	return nil
}

func (s *MemoryInvoiceStore) GetInvoice(ctx context.Context, tenant string, id uuid.UUID) (*models.StoredInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[tenant][id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return &inv, nil
}

func (s *MemoryInvoiceStore) ListInvoices(ctx context.Context, tenant string, limit int) ([]models.StoredInvoice, error) {
	s.mu.RLock()
	out := make([]models.StoredInvoice, 0, len(s.invoices[tenant]))
	for _, inv := range s.invoices[tenant] {
		out = append(out, inv)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryInvoiceStore) UpdateCategory(ctx context.Context, tenant string, id uuid.UUID, category string) (*models.StoredInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[tenant][id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	now := s.now()
	inv.Category = category
	inv.UpdatedAt = &now
	s.invoices[tenant][id] = inv
	return &inv, nil
}

func (s *MemoryInvoiceStore) DeleteInvoice(ctx context.Context, tenant string, id uuid.UUID) (*models.StoredInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[tenant][id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	delete(s.invoices[tenant], id)
	return &inv, nil
}

func (s *MemoryInvoiceStore) FindDuplicateCandidates(ctx context.Context, tenant string, fp models.InvoiceFingerprint, w services.Window) ([]models.StoredInvoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.StoredInvoice{}
	for _, inv := range s.invoices[tenant] {
		if w.Contains(fp, inv.Fingerprint()) {
			out = append(out, inv)
		}
	}
	return out, nil
}
