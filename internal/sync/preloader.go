package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/posapi"
	"github.com/xelth-com/eckposgo/internal/store"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
)

const (
	historyPreloadLimit = 100
	unpaidPreloadLimit  = 500
)

// PreloadResult reports what was cached by one preload run.
type PreloadResult struct {
	PaymentMethods bool                 `json:"payment_methods"`
	History        int                  `json:"history"`
	Unpaid         int                  `json:"unpaid"`
	UnpaidSummary  models.UnpaidSummary `json:"unpaid_summary"`
}

// Preloader copies reference data into the local store while online so the
// terminal can keep selling and answering lookups once the link drops.
type Preloader struct {
	remote ReferenceRemote
	cache  store.AuxCache
	conn   OfflineChecker
	group  singleflight.Group
}

// NewPreloader creates a preloader. conn may be nil.
func NewPreloader(remote ReferenceRemote, cache store.AuxCache, conn OfflineChecker) *Preloader {
	return &Preloader{remote: remote, cache: cache, conn: conn}
}

// PreloadForOffline refreshes payment methods, invoice history and unpaid
// invoices of profile. Concurrent calls for the same profile share one run.
func (p *Preloader) PreloadForOffline(ctx context.Context, profile string) (*PreloadResult, error) {
	if profile == "" {
		return nil, fmt.Errorf("preload: profile is required")
	}
	if p.conn != nil && p.conn.IsOffline() {
		return nil, ErrOffline
	}

	v, err, _ := p.group.Do(profile, func() (interface{}, error) {
		return p.preload(ctx, profile)
	})
	if v == nil {
		return nil, err
	}
	return v.(*PreloadResult), err
}

func (p *Preloader) preload(ctx context.Context, profile string) (*PreloadResult, error) {
	log.Printf("📥 Preloading offline data for profile %s", profile)
	res := &PreloadResult{}
	var errs []error

	if methods, err := p.remote.GetPaymentMethods(ctx, profile); err != nil {
		errs = append(errs, fmt.Errorf("payment methods: %w", err))
	} else if err := p.cache.SavePaymentMethods(ctx, profile, methods); err != nil {
		errs = append(errs, fmt.Errorf("cache payment methods: %w", err))
	} else {
		res.PaymentMethods = true
	}

	if rows, err := p.remote.GetInvoices(ctx, profile, historyPreloadLimit); err != nil {
		errs = append(errs, fmt.Errorf("invoice history: %w", err))
	} else {
		entries := make([]models.InvoiceHistoryEntry, 0, len(rows))
		for _, r := range rows {
			entries = append(entries, historyEntry(profile, r))
		}
		if err := p.cache.SaveInvoiceHistory(ctx, entries); err != nil {
			errs = append(errs, fmt.Errorf("cache invoice history: %w", err))
		} else {
			res.History = len(entries)
		}
	}

	if rows, err := p.remote.GetUnpaidInvoices(ctx, profile, unpaidPreloadLimit); err != nil {
		errs = append(errs, fmt.Errorf("unpaid invoices: %w", err))
	} else {
		unpaid := make([]models.UnpaidInvoice, 0, len(rows))
		for _, r := range rows {
			unpaid = append(unpaid, unpaidInvoice(profile, r))
		}
		if err := p.cache.ReplaceUnpaidInvoices(ctx, profile, unpaid); err != nil {
			errs = append(errs, fmt.Errorf("cache unpaid invoices: %w", err))
		} else {
			res.Unpaid = len(unpaid)
			res.UnpaidSummary = store.SummarizeUnpaid(unpaid)
			if blob, err := json.Marshal(res.UnpaidSummary); err == nil {
				if err := p.cache.SetSetting(ctx, models.UnpaidSummaryKey(profile), blob); err != nil {
					errs = append(errs, fmt.Errorf("cache unpaid summary: %w", err))
				}
			}
		}
	}

	if len(errs) > 0 {
		log.Printf("⚠️ Offline preload for %s incomplete: %v", profile, errors.Join(errs...))
		return res, errors.Join(errs...)
	}
	log.Printf("✅ Offline data cached for %s: %d invoices, %d unpaid", profile, res.History, res.Unpaid)
	return res, nil
}

// UnpaidSummary returns the cached summary, or zeros when nothing was cached.
func UnpaidSummary(ctx context.Context, cache store.AuxCache, profile string) models.UnpaidSummary {
	var summary models.UnpaidSummary
	blob, ok := cache.GetSetting(ctx, models.UnpaidSummaryKey(profile))
	if !ok {
		return summary
	}
	if err := json.Unmarshal(blob, &summary); err != nil {
		log.Printf("⚠️ Corrupt unpaid summary for %s: %v", profile, err)
		return models.UnpaidSummary{}
	}
	return summary
}

func parsePostingDate(s string) time.Time {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func rawOrEmpty(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

func historyEntry(profile string, r posapi.HistoryInvoice) models.InvoiceHistoryEntry {
	return models.InvoiceHistoryEntry{
		Name:        r.Name,
		Profile:     profile,
		Customer:    r.Customer,
		PostingDate: parsePostingDate(r.PostingDate),
		GrandTotal:  r.GrandTotal,
		Status:      r.Status,
		Data:        rawOrEmpty(r.Raw),
	}
}

func unpaidInvoice(profile string, r posapi.HistoryInvoice) models.UnpaidInvoice {
	return models.UnpaidInvoice{
		Name:              r.Name,
		Profile:           profile,
		Customer:          r.Customer,
		PostingDate:       parsePostingDate(r.PostingDate),
		GrandTotal:        r.GrandTotal,
		OutstandingAmount: r.OutstandingAmount,
		Data:              rawOrEmpty(r.Raw),
	}
}
