package models

import "math"

// CartLine is one line of the active cart. The offer pipeline only touches the
// discount, free quantity and pricing rule fields.
type CartLine struct {
	ItemCode           string   `json:"item_code"`
	ItemName           string   `json:"item_name"`
	ItemGroup          string   `json:"item_group,omitempty"`
	Brand              string   `json:"brand,omitempty"`
	UOM                string   `json:"uom"`
	StockUOM           string   `json:"stock_uom,omitempty"`
	ConversionFactor   float64  `json:"conversion_factor"`
	Quantity           float64  `json:"quantity"`
	Rate               float64  `json:"rate"`
	PriceListRate      float64  `json:"price_list_rate"`
	DiscountPercentage float64  `json:"discount_percentage"`
	DiscountAmount     float64  `json:"discount_amount"`
	FreeQty            float64  `json:"free_qty"`
	PricingRules       []string `json:"pricing_rules,omitempty"`
	Warehouse          string   `json:"warehouse,omitempty"`
	Amount             float64  `json:"amount"`
}

// EffectiveUOM falls back to the stock unit.
func (l *CartLine) EffectiveUOM() string {
	if l.UOM != "" {
		return l.UOM
	}
	return l.StockUOM
}

// GrossAmount is quantity times rate before line discounts.
func (l *CartLine) GrossAmount() float64 {
	return l.Quantity * l.Rate
}

// Recalculate refreshes Amount from rate, quantity and line discounts.
// DiscountAmount is per unit, as the server reports it.
func (l *CartLine) Recalculate() {
	if l.ConversionFactor == 0 {
		l.ConversionFactor = 1
	}
	if l.PriceListRate == 0 {
		l.PriceListRate = l.Rate
	}
	net := l.Rate*(1-l.DiscountPercentage/100) - l.DiscountAmount
	if net < 0 {
		net = 0
	}
	l.Amount = math.Round(net*l.Quantity*100) / 100
}

// HasPricingRules reports whether any rule is attached to the line.
func (l *CartLine) HasPricingRules() bool {
	return len(l.PricingRules) > 0
}

// ClearDiscounts removes every offer-driven adjustment from the line.
func (l *CartLine) ClearDiscounts() {
	l.DiscountPercentage = 0
	l.DiscountAmount = 0
	l.PricingRules = nil
	if l.PriceListRate > 0 {
		l.Rate = l.PriceListRate
	}
	l.Recalculate()
}

// ToInvoiceItem converts the line for the offer evaluation and submit payloads.
func (l *CartLine) ToInvoiceItem() InvoiceItem {
	plr := l.PriceListRate
	if plr == 0 {
		plr = l.Rate
	}
	cf := l.ConversionFactor
	if cf == 0 {
		cf = 1
	}
	return InvoiceItem{
		ItemCode:           l.ItemCode,
		ItemName:           l.ItemName,
		Qty:                l.Quantity,
		Rate:               l.Rate,
		PriceListRate:      plr,
		UOM:                l.UOM,
		ConversionFactor:   cf,
		DiscountPercentage: l.DiscountPercentage,
		DiscountAmount:     l.DiscountAmount,
		FreeQty:            l.FreeQty,
		Warehouse:          l.Warehouse,
	}
}
