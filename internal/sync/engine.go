// Package sync drains the offline invoice queue to the server of record and
// keeps the reference data needed for offline selling.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/posapi"
	"github.com/xelth-com/eckposgo/internal/store"
	"golang.org/x/sync/singleflight"
)

const drainKey = "drain"

// Connectivity is what the engine needs from the connectivity monitor.
type Connectivity interface {
	OfflineChecker
	OnOnline(fn func()) func()
}

// Engine owns the offline invoice queue. Records are submitted strictly one
// at a time; concurrent SyncPending calls share a single drain.
type Engine struct {
	mu sync.RWMutex

	queue  QueueStore
	remote InvoiceRemote
	conn   Connectivity
	cfg    config.SyncConfig

	group      singleflight.Group
	lastResult *SyncResult

	subs   map[int]func(int)
	nextID int

	baseCtx     context.Context
	cancel      context.CancelFunc
	isRunning   bool
	stopChan    chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup

	now func() time.Time
}

// NewEngine creates a sync engine. conn may be nil, in which case the server
// is assumed reachable.
func NewEngine(queue QueueStore, remote InvoiceRemote, conn Connectivity, cfg config.SyncConfig) *Engine {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		queue:   queue,
		remote:  remote,
		conn:    conn,
		cfg:     cfg,
		subs:    make(map[int]func(int)),
		baseCtx: ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// Start enables automatic draining on reconnect and, when configured, on an interval.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("sync engine already running")
	}
	if e.baseCtx.Err() != nil {
		return fmt.Errorf("sync engine was stopped")
	}
	e.isRunning = true
	e.stopChan = make(chan struct{})
	log.Println("🔄 Sync Engine starting...")

	if e.conn != nil {
		e.unsubscribe = e.conn.OnOnline(func() {
			log.Println("📡 Back online, draining offline invoices")
			e.triggerAsync()
		})
	}
	if e.cfg.AutoSyncInterval > 0 {
		e.wg.Add(1)
		go e.intervalLoop(e.cfg.AutoSyncInterval, e.stopChan)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.Cleanup(e.baseCtx); err != nil {
			log.Printf("⚠️ Initial queue cleanup failed: %v", err)
		}
	}()
	return nil
}

// Stop cancels any drain in progress and waits for background work.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = false
	close(e.stopChan)
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	log.Println("🛑 Sync Engine stopped")
}

func (e *Engine) intervalLoop(interval time.Duration, stop chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.PendingCount(e.baseCtx) > 0 {
				e.runLogged()
			}
		case <-stop:
			return
		}
	}
}

// Trigger starts a background drain unless the server is unreachable. It is
// a no-op while the engine is stopped.
func (e *Engine) Trigger() {
	if e.conn != nil && e.conn.IsOffline() {
		return
	}
	e.triggerAsync()
}

func (e *Engine) triggerAsync() {
	e.mu.RLock()
	running := e.isRunning
	e.mu.RUnlock()
	if !running {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runLogged()
	}()
}

func (e *Engine) runLogged() {
	res, err := e.SyncPending(e.baseCtx)
	switch {
	case errors.Is(err, ErrOffline), errors.Is(err, context.Canceled):
	case err != nil:
		log.Printf("❌ Automatic sync failed: %v", err)
	case res.Failed > 0:
		log.Printf("⚠️ Invoice sync finished with %d failure(s), %d invoice(s) pending", res.Failed, e.PendingCount(e.baseCtx))
	}
}

// SyncPending drains the queue. A caller arriving while a drain is running
// receives that drain's result instead of starting another one.
func (e *Engine) SyncPending(ctx context.Context) (*SyncResult, error) {
	if e.conn != nil && e.conn.IsOffline() {
		return nil, ErrOffline
	}

	ch := e.group.DoChan(drainKey, func() (interface{}, error) {
		return e.drain(e.baseCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SyncResult), nil
	}
}

// LastResult returns the outcome of the most recent drain.
func (e *Engine) LastResult() *SyncResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastResult
}

func (e *Engine) drain(ctx context.Context) (*SyncResult, error) {
	start := e.now()
	result := &SyncResult{Errors: []SyncError{}, Timestamp: start}

	pending := e.queue.ListPendingInvoices(ctx)
	if len(pending) > 0 {
		log.Printf("🔄 Starting sync of %d invoice(s)", len(pending))
	}

drainLoop:
	for i := range pending {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rec := &pending[i]

		switch out, err := e.syncOne(ctx, rec); out {
		case outcomeSuccess:
			result.Success++
		case outcomeSkipped:
			result.Skipped++
		case outcomeUnreachable:
			log.Printf("📡 Server unreachable, %d invoice(s) left for the next sync", len(pending)-i)
			break drainLoop
		case outcomeFailed:
			customer := rec.Customer
			if customer == "" {
				customer = models.DefaultCustomer
			}
			result.Failed++
			result.Errors = append(result.Errors, SyncError{
				InvoiceID: rec.ID,
				OfflineID: rec.OfflineID,
				Customer:  customer,
				Error:     err.Error(),
			})
		}
	}

	if _, err := e.Cleanup(ctx); err != nil {
		log.Printf("⚠️ Failed to clean up synced invoices: %v", err)
	}

	result.Duration = time.Since(start)
	if len(pending) > 0 {
		log.Printf("✅ Sync completed: %d synced, %d skipped, %d failed", result.Success, result.Skipped, result.Failed)
	}

	e.mu.Lock()
	e.lastResult = result
	e.mu.Unlock()
	e.notifyPending(ctx)
	return result, nil
}

// syncOne runs the dedup check, the submit and the in-progress retries for one record.
func (e *Engine) syncOne(ctx context.Context, rec *models.QueuedInvoice) (outcome, error) {
	inv, err := rec.Invoice()
	if err != nil {
		err = fmt.Errorf("corrupt invoice payload: %w", err)
		e.fail(ctx, rec, err, true)
		return outcomeFailed, err
	}

	if ref, ok := e.alreadySynced(ctx, rec.OfflineID); ok {
		e.markSynced(ctx, rec, ref)
		log.Printf("✅ Invoice %s already on server as %s, skipping", rec.OfflineID, ref)
		return outcomeSkipped, nil
	}

	payload := NormalizeInvoice(inv, rec.OfflineID)
	for attempt := 0; ; attempt++ {
		ref, err := e.remote.SubmitInvoice(ctx, payload)
		if err == nil {
			e.markSynced(ctx, rec, ref)
			log.Printf("✅ Invoice %s synced as %s", rec.OfflineID, ref)
			return outcomeSuccess, nil
		}
		if ctx.Err() != nil {
			return outcomeUnreachable, ctx.Err()
		}
		if posapi.IsNetworkError(err) {
			return outcomeUnreachable, err
		}

		var se *posapi.ServerError
		if errors.As(err, &se) {
			switch se.Class {
			case posapi.ClassDuplicate:
				ref := se.ServerReference()
				if ref == "" {
					ref, _ = e.alreadySynced(ctx, rec.OfflineID)
				}
				if ref == "" {
					ref = rec.OfflineID
				}
				e.markSynced(ctx, rec, ref)
				log.Printf("✅ Invoice %s is a duplicate of %s, marked as synced", rec.OfflineID, ref)
				return outcomeSkipped, nil

			case posapi.ClassInProgress:
				if attempt < e.cfg.InProgressRetries {
					log.Printf("⏳ Invoice %s is being processed by another request, waiting (%d/%d)",
						rec.OfflineID, attempt+1, e.cfg.InProgressRetries)
					if err := sleepCtx(ctx, e.cfg.InProgressDelay); err != nil {
						return outcomeUnreachable, err
					}
					continue
				}
			}
		}

		log.Printf("❌ Failed to sync invoice %s: %v", rec.OfflineID, err)
		e.fail(ctx, rec, err, false)
		return outcomeFailed, err
	}
}

// alreadySynced asks the server whether offlineID was submitted before.
// A failed check counts as "not synced".
func (e *Engine) alreadySynced(ctx context.Context, offlineID string) (string, bool) {
	if offlineID == "" {
		return "", false
	}
	status, err := e.remote.CheckOfflineInvoiceSynced(ctx, offlineID)
	if err != nil {
		if !posapi.IsNetworkError(err) {
			log.Printf("⚠️ Failed to check sync status of %s: %v", offlineID, err)
		}
		return "", false
	}
	if status == nil || !status.Synced {
		return "", false
	}
	ref := status.SalesInvoice
	if ref == "" {
		ref = offlineID
	}
	return ref, true
}

func (e *Engine) markSynced(ctx context.Context, rec *models.QueuedInvoice, ref string) {
	if err := e.queue.MarkInvoiceSynced(ctx, rec.ID, ref, e.now()); err != nil {
		log.Printf("❌ Failed to mark invoice %s synced: %v", rec.OfflineID, err)
	}
}

func (e *Engine) fail(ctx context.Context, rec *models.QueuedInvoice, cause error, permanent bool) {
	retries := rec.RetryCount + 1
	failed := permanent || retries >= e.cfg.MaxRetries
	if err := e.queue.UpdateInvoiceFailure(ctx, rec.ID, retries, failed, cause.Error()); err != nil {
		log.Printf("❌ Failed to record sync failure of %s: %v", rec.OfflineID, err)
	}
}

// Cleanup deletes synced records older than the retention window.
func (e *Engine) Cleanup(ctx context.Context) (int64, error) {
	cutoff := e.now().Add(-time.Duration(e.cfg.RetentionDays) * 24 * time.Hour)
	n, err := e.queue.DeleteSyncedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("🧹 Removed %d synced invoice(s) older than %d days", n, e.cfg.RetentionDays)
	}
	return n, nil
}

// SaveOfflineInvoice queues a sale and decrements the cached stock of its items.
func (e *Engine) SaveOfflineInvoice(ctx context.Context, inv *models.Invoice) (*SavedInvoice, error) {
	if inv == nil || len(inv.Items) == 0 {
		return nil, ErrEmptyInvoice
	}

	data := *inv
	if data.OfflineID == "" {
		data.OfflineID = uuid.NewString()
	}
	payload, err := json.Marshal(&data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoice: %w", err)
	}

	rec := &models.QueuedInvoice{
		OfflineID:   data.OfflineID,
		ProfileName: data.POSProfile,
		Customer:    data.Customer,
		Payload:     payload,
		EnqueuedAt:  e.now(),
	}
	if err := e.queue.EnqueueInvoice(ctx, rec); err != nil {
		return nil, err
	}

	for _, item := range data.Items {
		if item.ItemCode == "" {
			continue
		}
		qty := item.Quantity
		if qty == 0 {
			qty = item.Qty
		}
		if qty == 0 {
			continue
		}
		if err := e.queue.ApplyStockDelta(ctx, item.ItemCode, -qty); err != nil {
			log.Printf("❌ Failed to update local stock of %s: %v", item.ItemCode, err)
		}
	}

	log.Printf("📦 Invoice saved to offline queue (offline_id %s)", data.OfflineID)
	e.notifyPending(ctx)
	return &SavedInvoice{ID: rec.ID, OfflineID: rec.OfflineID}, nil
}

// GetPending lists every unsynced record, permanently failed ones included.
func (e *Engine) GetPending(ctx context.Context) []models.QueuedInvoice {
	all := e.queue.ListInvoices(ctx)
	out := make([]models.QueuedInvoice, 0, len(all))
	for _, inv := range all {
		if !inv.Synced {
			out = append(out, inv)
		}
	}
	return out
}

// PendingCount is the number of unsynced records.
func (e *Engine) PendingCount(ctx context.Context) int {
	return len(e.GetPending(ctx))
}

// DeletePending removes a queued record, typically one the operator gave up on.
func (e *Engine) DeletePending(ctx context.Context, id uint) error {
	if err := e.queue.DeleteInvoice(ctx, id); err != nil {
		return err
	}
	log.Printf("🧹 Deleted queued invoice %d", id)
	e.notifyPending(ctx)
	return nil
}

// RetryFailed puts a permanently failed record back into the drain.
func (e *Engine) RetryFailed(ctx context.Context, id uint) error {
	rec, err := e.queue.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	if rec.Synced {
		return fmt.Errorf("invoice %d is already synced", id)
	}
	if err := e.queue.UpdateInvoiceFailure(ctx, id, 0, false, ""); err != nil {
		return err
	}
	e.notifyPending(ctx)
	return nil
}

// SubscribePending registers fn for pending count changes.
func (e *Engine) SubscribePending(fn func(count int)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) notifyPending(ctx context.Context) {
	e.mu.RLock()
	if len(e.subs) == 0 {
		e.mu.RUnlock()
		return
	}
	subs := make([]func(int), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()

	count := e.PendingCount(ctx)
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("⚠️ Pending count subscriber panicked: %v", r)
				}
			}()
			fn(count)
		}()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ QueueStore = (store.Store)(nil)
