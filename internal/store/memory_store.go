package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xelth-com/eckposgo/internal/models"
)

// MemoryStore keeps everything in process memory. It backs tests and the
// ephemeral mode used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint
	invoices map[uint]*models.QueuedInvoice
	byOffID  map[string]uint
	items    map[string]models.CachedCatalogItem
	offers   map[string][]models.Offer
	payments map[string][]byte
	history  map[string]models.InvoiceHistoryEntry
	unpaid   map[string][]models.UnpaidInvoice
	settings map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[uint]*models.QueuedInvoice),
		byOffID:  make(map[string]uint),
		items:    make(map[string]models.CachedCatalogItem),
		offers:   make(map[string][]models.Offer),
		payments: make(map[string][]byte),
		history:  make(map[string]models.InvoiceHistoryEntry),
		unpaid:   make(map[string][]models.UnpaidInvoice),
		settings: make(map[string][]byte),
	}
}

// EnqueueInvoice assigns the next queue position and stores a copy.
func (s *MemoryStore) EnqueueInvoice(ctx context.Context, inv *models.QueuedInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byOffID[inv.OfflineID]; exists {
		return fmt.Errorf("invoice %s already queued", inv.OfflineID)
	}
	s.nextID++
	inv.ID = s.nextID
	cp := *inv
	s.invoices[cp.ID] = &cp
	s.byOffID[cp.OfflineID] = cp.ID
	return nil
}

func (s *MemoryStore) sortedInvoices(pendingOnly bool) []models.QueuedInvoice {
	out := make([]models.QueuedInvoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		if pendingOnly && (inv.Synced || inv.Failed) {
			continue
		}
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListPendingInvoices returns unsynced, not permanently failed records in enqueue order.
func (s *MemoryStore) ListPendingInvoices(ctx context.Context) []models.QueuedInvoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedInvoices(true)
}

// ListInvoices returns every queued record in enqueue order.
func (s *MemoryStore) ListInvoices(ctx context.Context) []models.QueuedInvoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedInvoices(false)
}

func (s *MemoryStore) GetInvoice(ctx context.Context, id uint) (*models.QueuedInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *MemoryStore) CountPendingInvoices(ctx context.Context) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, inv := range s.invoices {
		if !inv.Synced && !inv.Failed {
			n++
		}
	}
	return n
}

func (s *MemoryStore) MarkInvoiceSynced(ctx context.Context, id uint, serverRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	ref := serverRef
	inv.Synced = true
	inv.ServerReference = &ref
	inv.SyncedAt = &at
	inv.Failed = false
	inv.LastError = ""
	return nil
}

func (s *MemoryStore) UpdateInvoiceFailure(ctx context.Context, id uint, retryCount int, failed bool, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.RetryCount = retryCount
	inv.Failed = failed
	inv.LastError = lastError
	return nil
}

func (s *MemoryStore) DeleteInvoice(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byOffID, inv.OfflineID)
	delete(s.invoices, id)
	return nil
}

// DeleteSyncedBefore removes synced records whose sync happened before cutoff.
func (s *MemoryStore) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, inv := range s.invoices {
		if inv.Synced && inv.SyncedAt != nil && inv.SyncedAt.Before(cutoff) {
			delete(s.byOffID, inv.OfflineID)
			delete(s.invoices, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpsertItems(ctx context.Context, items []models.CachedCatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if it.ItemCode == "" {
			continue
		}
		s.items[it.ItemCode] = it
	}
	return nil
}

func (s *MemoryStore) GetItem(ctx context.Context, code string) (*models.CachedCatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

// QueryItems returns matching items ordered by item code.
func (s *MemoryStore) QueryItems(ctx context.Context, q ItemQuery) []models.CachedCatalogItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := toSet(q.Groups)
	all := make([]models.CachedCatalogItem, 0)
	for _, it := range s.items {
		if itemMatches(&it, q, groups) {
			all = append(all, it)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ItemCode < all[j].ItemCode })
	return page(all, q.Offset, q.Limit)
}

func (s *MemoryStore) CountItems(ctx context.Context, groups []string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := toSet(groups)
	if set == nil {
		return int64(len(s.items))
	}
	var n int64
	for _, it := range s.items {
		if _, ok := set[it.ItemGroup]; ok {
			n++
		}
	}
	return n
}

func (s *MemoryStore) DeleteItemsByGroups(ctx context.Context, groups []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := toSet(groups)
	var n int64
	for code, it := range s.items {
		if _, ok := set[it.ItemGroup]; ok {
			delete(s.items, code)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ClearItems(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]models.CachedCatalogItem)
	return nil
}

// ApplyStockDelta adjusts cached stock; unknown items are ignored.
func (s *MemoryStore) ApplyStockDelta(ctx context.Context, code string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[code]
	if !ok {
		return nil
	}
	it.StockQty += delta
	s.items[code] = it
	return nil
}

func (s *MemoryStore) SaveOffers(ctx context.Context, profile string, offers []models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[profile] = append([]models.Offer(nil), offers...)
	return nil
}

func (s *MemoryStore) GetOffers(ctx context.Context, profile string) []models.Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Offer(nil), s.offers[profile]...)
}

func (s *MemoryStore) SavePaymentMethods(ctx context.Context, profile string, methods []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[profile] = append([]byte(nil), methods...)
	return nil
}

func (s *MemoryStore) GetPaymentMethods(ctx context.Context, profile string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.payments[profile]
}

func (s *MemoryStore) SaveInvoiceHistory(ctx context.Context, entries []models.InvoiceHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.history[e.Name] = e
	}
	return nil
}

func (s *MemoryStore) QueryInvoiceHistory(ctx context.Context, f models.HistoryFilter) []models.InvoiceHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.InvoiceHistoryEntry, 0)
	for _, e := range s.history {
		if historyMatches(e, f) {
			out = append(out, e)
		}
	}
	sortHistory(out)
	return page(out, 0, historyLimit(f))
}

// ReplaceUnpaidInvoices swaps the whole unpaid set of a profile.
func (s *MemoryStore) ReplaceUnpaidInvoices(ctx context.Context, profile string, invoices []models.UnpaidInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]models.UnpaidInvoice(nil), invoices...)
	for i := range cp {
		cp[i].Profile = profile
	}
	s.unpaid[profile] = cp
	return nil
}

func (s *MemoryStore) GetUnpaidInvoices(ctx context.Context, profile string) []models.UnpaidInvoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.UnpaidInvoice{}, s.unpaid[profile]...)
	sortUnpaid(out)
	return out
}

func (s *MemoryStore) SetSetting(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) GetSetting(ctx context.Context, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok
}

func (s *MemoryStore) DeleteSetting(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, key)
	return nil
}
