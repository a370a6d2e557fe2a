package sync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/posapi"
	"github.com/xelth-com/eckposgo/internal/store"
)

var (
	// ErrOffline is returned when a drain is requested while the server is unreachable.
	ErrOffline = errors.New("sync: server is offline")
	// ErrEmptyInvoice rejects invoices without items.
	ErrEmptyInvoice = errors.New("sync: cannot save empty invoice")
)

// InvoiceRemote is the part of the server API the engine needs.
type InvoiceRemote interface {
	CheckOfflineInvoiceSynced(ctx context.Context, offlineID string) (*posapi.SyncedStatus, error)
	SubmitInvoice(ctx context.Context, invoice *models.Invoice) (string, error)
}

// ReferenceRemote serves the reference data cached for offline use.
type ReferenceRemote interface {
	GetPaymentMethods(ctx context.Context, profile string) (json.RawMessage, error)
	GetInvoices(ctx context.Context, profile string, limit int) ([]posapi.HistoryInvoice, error)
	GetUnpaidInvoices(ctx context.Context, profile string, limit int) ([]posapi.HistoryInvoice, error)
}

// OfflineChecker reports the connectivity state.
type OfflineChecker interface {
	IsOffline() bool
}

// QueueStore is the slice of the local store the engine writes.
type QueueStore interface {
	store.InvoiceQueue
	ApplyStockDelta(ctx context.Context, code string, delta float64) error
}

// SyncResult summarizes one drain of the queue.
type SyncResult struct {
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    []SyncError   `json:"errors"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// SyncError describes an invoice that could not be submitted.
type SyncError struct {
	InvoiceID uint   `json:"invoice_id"`
	OfflineID string `json:"offline_id"`
	Customer  string `json:"customer"`
	Error     string `json:"error"`
}

// SavedInvoice is returned when an invoice enters the queue.
type SavedInvoice struct {
	ID        uint   `json:"id"`
	OfflineID string `json:"offline_id"`
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeUnreachable
)
