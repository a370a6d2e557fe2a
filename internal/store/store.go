// Package store is the terminal's local persistent store: the offline invoice
// queue, the catalog mirror and the auxiliary caches used while offline.
//
// Read failures are logged and reported as empty results. Callers treat
// "nothing cached" as a normal offline state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/xelth-com/eckposgo/internal/models"
)

// ErrNotFound is returned by point lookups that have no record.
var ErrNotFound = errors.New("store: record not found")

// DefaultHistoryLimit caps invoice history queries without an explicit limit.
const DefaultHistoryLimit = 100

// ItemQuery selects a slice of the catalog mirror.
type ItemQuery struct {
	Groups []string // empty = all groups
	Search string   // matched against code, name and barcode
	Offset int
	Limit  int // 0 = no limit
}

// InvoiceQueue is the durable queue of sales awaiting the server.
type InvoiceQueue interface {
	EnqueueInvoice(ctx context.Context, inv *models.QueuedInvoice) error
	ListPendingInvoices(ctx context.Context) []models.QueuedInvoice
	ListInvoices(ctx context.Context) []models.QueuedInvoice
	GetInvoice(ctx context.Context, id uint) (*models.QueuedInvoice, error)
	CountPendingInvoices(ctx context.Context) int64
	MarkInvoiceSynced(ctx context.Context, id uint, serverRef string, at time.Time) error
	UpdateInvoiceFailure(ctx context.Context, id uint, retryCount int, failed bool, lastError string) error
	DeleteInvoice(ctx context.Context, id uint) error
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CatalogMirror is the local copy of the item catalog.
type CatalogMirror interface {
	UpsertItems(ctx context.Context, items []models.CachedCatalogItem) error
	GetItem(ctx context.Context, code string) (*models.CachedCatalogItem, error)
	QueryItems(ctx context.Context, q ItemQuery) []models.CachedCatalogItem
	CountItems(ctx context.Context, groups []string) int64
	DeleteItemsByGroups(ctx context.Context, groups []string) (int64, error)
	ClearItems(ctx context.Context) error
	ApplyStockDelta(ctx context.Context, code string, delta float64) error
}

// AuxCache holds reference data and settings blobs.
type AuxCache interface {
	SaveOffers(ctx context.Context, profile string, offers []models.Offer) error
	GetOffers(ctx context.Context, profile string) []models.Offer
	SavePaymentMethods(ctx context.Context, profile string, methods []byte) error
	GetPaymentMethods(ctx context.Context, profile string) []byte
	SaveInvoiceHistory(ctx context.Context, entries []models.InvoiceHistoryEntry) error
	QueryInvoiceHistory(ctx context.Context, f models.HistoryFilter) []models.InvoiceHistoryEntry
	ReplaceUnpaidInvoices(ctx context.Context, profile string, invoices []models.UnpaidInvoice) error
	GetUnpaidInvoices(ctx context.Context, profile string) []models.UnpaidInvoice
	SetSetting(ctx context.Context, key string, value []byte) error
	GetSetting(ctx context.Context, key string) ([]byte, bool)
	DeleteSetting(ctx context.Context, key string) error
}

// Store is the full local persistent store.
type Store interface {
	InvoiceQueue
	CatalogMirror
	AuxCache
}
