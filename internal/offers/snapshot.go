// Package offers evaluates promotional offers against the cart.
//
// Everything except Catalog is a pure function of its arguments, so the same
// code serves the bulk "which offers apply" scan, single offer re-validation
// and the offline evaluator.
package offers

import "github.com/xelth-com/eckposgo/internal/models"

// CartSnapshot is the aggregate view of the cart used for eligibility checks.
type CartSnapshot struct {
	Subtotal   float64            `json:"subtotal"`
	TotalQty   float64            `json:"total_qty"`
	ItemCodes  []string           `json:"item_codes"`
	ItemGroups []string           `json:"item_groups"`
	Brands     []string           `json:"brands"`
	ItemQty    map[string]float64 `json:"item_quantities"`
	GroupQty   map[string]float64 `json:"item_group_quantities"`
	BrandQty   map[string]float64 `json:"brand_quantities"`
}

// Empty reports whether the cart holds no quantity.
func (s CartSnapshot) Empty() bool {
	return s.TotalQty == 0
}

// BuildSnapshot aggregates lines in one pass. The subtotal is quantity times
// rate, before line discounts.
func BuildSnapshot(lines []models.CartLine) CartSnapshot {
	snap := CartSnapshot{
		ItemCodes:  []string{},
		ItemGroups: []string{},
		Brands:     []string{},
		ItemQty:    make(map[string]float64),
		GroupQty:   make(map[string]float64),
		BrandQty:   make(map[string]float64),
	}
	for i := range lines {
		l := &lines[i]
		snap.Subtotal += l.GrossAmount()
		snap.TotalQty += l.Quantity

		if l.ItemCode != "" {
			if _, ok := snap.ItemQty[l.ItemCode]; !ok {
				snap.ItemCodes = append(snap.ItemCodes, l.ItemCode)
			}
			snap.ItemQty[l.ItemCode] += l.Quantity
		}
		if l.ItemGroup != "" {
			if _, ok := snap.GroupQty[l.ItemGroup]; !ok {
				snap.ItemGroups = append(snap.ItemGroups, l.ItemGroup)
			}
			snap.GroupQty[l.ItemGroup] += l.Quantity
		}
		if l.Brand != "" {
			if _, ok := snap.BrandQty[l.Brand]; !ok {
				snap.Brands = append(snap.Brands, l.Brand)
			}
			snap.BrandQty[l.Brand] += l.Quantity
		}
	}
	return snap
}
