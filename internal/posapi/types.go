package posapi

import (
	"encoding/json"

	"github.com/xelth-com/eckposgo/internal/models"
)

// Remote method names.
const (
	methodCheckSynced    = "pos_next.api.invoices.check_offline_invoice_synced"
	methodSubmitInvoice  = "pos_next.api.invoices.submit_invoice"
	methodGetInvoices    = "pos_next.api.invoices.get_invoices"
	methodApplyOffers    = "pos_next.api.invoices.apply_offers"
	methodGetItems       = "pos_next.api.items.get_items"
	methodGetItemsBulk   = "pos_next.api.items.get_items_bulk"
	methodGetItemsCount  = "pos_next.api.items.get_items_count"
	methodGetOffers      = "pos_next.api.offers.get_offers"
	methodPaymentMethods = "pos_next.api.pos_profile.get_payment_methods"
	methodProfileData    = "pos_next.api.pos_profile.get_pos_profile_data"
	methodCreditInvoices = "pos_next.api.credit_sales.get_credit_invoices"
)

// SyncedStatus answers "has this offline id reached the server already?".
type SyncedStatus struct {
	Synced       bool   `json:"synced"`
	SalesInvoice string `json:"sales_invoice"`
}

// ItemsRequest are the parameters of get_items.
type ItemsRequest struct {
	POSProfile      string `json:"pos_profile"`
	SearchTerm      string `json:"search_term,omitempty"`
	ItemGroup       string `json:"item_group,omitempty"`
	Start           int    `json:"start"`
	Limit           int    `json:"limit"`
	IncludeVariants int    `json:"include_variants"`
}

// BulkItemsRequest are the parameters of get_items_bulk.
type BulkItemsRequest struct {
	POSProfile      string   `json:"pos_profile"`
	ItemGroups      []string `json:"item_groups"`
	Start           int      `json:"start"`
	Limit           int      `json:"limit"`
	IncludeVariants int      `json:"include_variants"`
}

// OfferEvaluation is the invoice payload sent to apply_offers.
type OfferEvaluation struct {
	Doctype          string               `json:"doctype"`
	POSProfile       string               `json:"pos_profile"`
	Customer         string               `json:"customer,omitempty"`
	Company          string               `json:"company,omitempty"`
	SellingPriceList string               `json:"selling_price_list,omitempty"`
	Currency         string               `json:"currency,omitempty"`
	DiscountAmount   float64              `json:"discount_amount"`
	CouponCode       string               `json:"coupon_code"`
	Items            []models.InvoiceItem `json:"items"`
}

// PricedItem is one line of the apply_offers answer, in request order.
type PricedItem struct {
	ItemCode           string          `json:"item_code"`
	Rate               float64         `json:"rate"`
	PriceListRate      float64         `json:"price_list_rate"`
	DiscountPercentage float64         `json:"discount_percentage"`
	DiscountAmount     float64         `json:"discount_amount"`
	PricingRules       json.RawMessage `json:"pricing_rules"`
}

// FreeItem is a free quantity granted by a product discount rule.
type FreeItem struct {
	ItemCode string  `json:"item_code"`
	Qty      float64 `json:"qty"`
	UOM      string  `json:"uom"`
	StockUOM string  `json:"stock_uom"`
}

// EffectiveUOM falls back to the stock unit.
func (f FreeItem) EffectiveUOM() string {
	if f.UOM != "" {
		return f.UOM
	}
	return f.StockUOM
}

// ApplyOffersResponse is the authoritative pricing result. An empty
// AppliedPricingRules means no offer was applied, whatever was requested.
type ApplyOffersResponse struct {
	Items               []PricedItem `json:"items"`
	FreeItems           []FreeItem   `json:"free_items"`
	AppliedPricingRules []string     `json:"applied_pricing_rules"`
}

// HistoryInvoice is a server invoice row from get_invoices / get_credit_invoices.
type HistoryInvoice struct {
	Name              string          `json:"name"`
	Customer          string          `json:"customer"`
	PostingDate       string          `json:"posting_date"`
	GrandTotal        float64         `json:"grand_total"`
	OutstandingAmount float64         `json:"outstanding_amount"`
	Status            string          `json:"status"`
	Raw               json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the whole row in Raw.
func (h *HistoryInvoice) UnmarshalJSON(data []byte) error {
	type alias HistoryInvoice
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*h = HistoryInvoice(a)
	h.Raw = append(json.RawMessage(nil), data...)
	return nil
}
