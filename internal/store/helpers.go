package store

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/xelth-com/eckposgo/internal/models"
)

func historyMatches(e models.InvoiceHistoryEntry, f models.HistoryFilter) bool {
	if f.Customer != "" && !strings.Contains(strings.ToLower(e.Customer), strings.ToLower(f.Customer)) {
		return false
	}
	if !f.From.IsZero() && e.PostingDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.PostingDate.After(f.To) {
		return false
	}
	return true
}

func historyLimit(f models.HistoryFilter) int {
	if f.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return f.Limit
}

// sortHistory orders newest first.
func sortHistory(entries []models.InvoiceHistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].PostingDate.After(entries[j].PostingDate)
	})
}

// sortUnpaid orders by outstanding amount, largest first.
func sortUnpaid(invoices []models.UnpaidInvoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].OutstandingAmount > invoices[j].OutstandingAmount
	})
}

func itemMatches(it *models.CachedCatalogItem, q ItemQuery, groups map[string]struct{}) bool {
	if len(groups) > 0 {
		if _, ok := groups[it.ItemGroup]; !ok {
			return false
		}
	}
	if q.Search == "" {
		return true
	}
	term := strings.ToLower(q.Search)
	return strings.Contains(strings.ToLower(it.ItemCode), term) ||
		strings.Contains(strings.ToLower(it.ItemName), term) ||
		strings.Contains(strings.ToLower(it.Barcode), term)
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	if offset < 0 {
		offset = 0
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

func encodeOffers(offers []models.Offer) ([]byte, error) {
	if offers == nil {
		offers = []models.Offer{}
	}
	return json.Marshal(offers)
}

func decodeOffers(data []byte) ([]models.Offer, error) {
	var offers []models.Offer
	if err := json.Unmarshal(data, &offers); err != nil {
		return nil, err
	}
	return offers, nil
}

// SummarizeUnpaid aggregates invoices into the summary stored per profile.
func SummarizeUnpaid(invoices []models.UnpaidInvoice) models.UnpaidSummary {
	var s models.UnpaidSummary
	for _, inv := range invoices {
		s.Count++
		s.TotalOutstanding += inv.OutstandingAmount
		s.TotalPaid += inv.GrandTotal - inv.OutstandingAmount
	}
	return s
}
