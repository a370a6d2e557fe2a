package sync

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/xelth-com/eckposgo/internal/models"
)

// NormalizeInvoice prepares a stored payload for submission: the offline id
// is pinned, every line gets a quantity and pricing rules become a comma
// separated string.
func NormalizeInvoice(inv *models.Invoice, offlineID string) *models.Invoice {
	out := *inv
	if offlineID != "" {
		out.OfflineID = offlineID
	}
	if inv.Items != nil {
		out.Items = make([]models.InvoiceItem, len(inv.Items))
		for i, item := range inv.Items {
			switch {
			case item.Qty != 0:
			case item.Quantity != 0:
				item.Qty = item.Quantity
			default:
				item.Qty = 1
			}
			rules, _ := json.Marshal(FlattenPricingRules(item.PricingRules))
			item.PricingRules = rules
			out.Items[i] = item
		}
	}
	return &out
}

// FlattenPricingRules accepts an array, a JSON-encoded array string or a plain
// string and returns the canonical comma separated form. Malformed values
// become "".
func FlattenPricingRules(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		return joinRules(list)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	stripped := strings.TrimSpace(s)
	if !strings.HasPrefix(stripped, "[") {
		return stripped
	}
	if err := json.Unmarshal([]byte(stripped), &list); err != nil {
		preview := stripped
		if len(preview) > 100 {
			preview = preview[:100]
		}
		log.Printf("⚠️ Invalid pricing_rules JSON, clearing value: %s", preview)
		return ""
	}
	return joinRules(list)
}

func joinRules(list []any) string {
	parts := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}
