package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/xelth-com/eckposgo/internal/middleware"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/store"
	possync "github.com/xelth-com/eckposgo/internal/sync"
)

func pendingID(req *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
	return uint(id), err
}

// listPending returns the invoices still waiting for the server
func (r *Router) listPending(w http.ResponseWriter, req *http.Request) {
	pending := r.Sync.GetPending(req.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(pending),
		"invoices":    pending,
		"last_result": r.Sync.LastResult(),
	})
}

// runSync drains the queue now and waits for the result
func (r *Router) runSync(w http.ResponseWriter, req *http.Request) {
	res, err := r.Sync.SyncPending(req.Context())
	switch {
	case errors.Is(err, possync.ErrOffline):
		respondError(w, http.StatusServiceUnavailable, "Server is offline, invoices stay queued")
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (r *Router) deletePending(w http.ResponseWriter, req *http.Request) {
	id, err := pendingID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid id")
		return
	}
	if err := r.Sync.DeletePending(req.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) retryPending(w http.ResponseWriter, req *http.Request) {
	id, err := pendingID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid id")
		return
	}
	if err := r.Sync.RetryFailed(req.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	r.Sync.Trigger()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// saveInvoice queues a sale. A repeated Idempotency-Key is answered without
// queueing the invoice again.
func (r *Router) saveInvoice(w http.ResponseWriter, req *http.Request) {
	var inv models.Invoice
	if err := json.NewDecoder(req.Body).Decode(&inv); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if inv.POSProfile == "" {
		if claims, ok := middleware.ShiftFromContext(req.Context()); ok {
			inv.POSProfile = claims.Profile
		}
	}

	key := req.Header.Get("Idempotency-Key")
	if r.dedup.IsDuplicate(key) {
		respondError(w, http.StatusConflict, "Invoice already received")
		return
	}

	// The sale must be queued even if the terminal hangs up.
	ctx, cancel := detached(req, 10*time.Second)
	defer cancel()
	saved, err := r.Sync.SaveOfflineInvoice(ctx, &inv)
	if err != nil {
		r.dedup.Forget(key)
		if errors.Is(err, possync.ErrEmptyInvoice) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.Sync.Trigger()
	respondJSON(w, http.StatusCreated, saved)
}

// invoiceHistory serves the cached invoice history
func (r *Router) invoiceHistory(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	f := models.HistoryFilter{Customer: q.Get("customer")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		f.Limit = n
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				respondError(w, http.StatusBadRequest, "Invalid "+name+" date")
				return
			}
			*dst = t
		}
	}
	respondJSON(w, http.StatusOK, r.Store.QueryInvoiceHistory(req.Context(), f))
}

func (r *Router) unpaidInvoices(w http.ResponseWriter, req *http.Request) {
	claims, _ := middleware.ShiftFromContext(req.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"invoices": r.Store.GetUnpaidInvoices(req.Context(), claims.Profile),
		"summary":  possync.UnpaidSummary(req.Context(), r.Store, claims.Profile),
	})
}

// preload refreshes the reference data used while offline
func (r *Router) preload(w http.ResponseWriter, req *http.Request) {
	if r.Preloader == nil {
		respondError(w, http.StatusServiceUnavailable, "Preloader not configured")
		return
	}
	claims, _ := middleware.ShiftFromContext(req.Context())
	res, err := r.Preloader.PreloadForOffline(req.Context(), claims.Profile)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}
