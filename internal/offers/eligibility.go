package offers

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/xelth-com/eckposgo/internal/models"
)

// Ineligibility reasons.
const (
	ReasonEmptyCart = "Cart is empty"
	ReasonNoItems   = "Cart does not contain eligible items for this offer"
	ReasonNoGroups  = "Cart does not contain items from eligible groups"
	ReasonNoBrands  = "Cart does not contain items from eligible brands"
	ReasonMinAmount = "Minimum amount not met"
	ReasonMaxAmount = "Maximum amount exceeded"
	reasonMinQtyFmt = "Minimum quantity not met (%s/%s)"
	reasonMaxQtyFmt = "Maximum quantity exceeded (%s/%s)"
)

// Eligibility is the verdict of CheckEligibility.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// scope returns the keys and the per-key quantities the offer counts, or nil
// when the offer applies to the whole transaction.
func scope(o models.Offer, snap CartSnapshot) ([]string, map[string]float64, string) {
	switch o.ApplyOn {
	case models.ApplyOnItemCode:
		if len(o.EligibleItems) > 0 {
			return o.EligibleItems, snap.ItemQty, ReasonNoItems
		}
	case models.ApplyOnItemGroup:
		if len(o.EligibleItemGroups) > 0 {
			return o.EligibleItemGroups, snap.GroupQty, ReasonNoGroups
		}
	case models.ApplyOnBrand:
		if len(o.EligibleBrands) > 0 {
			return o.EligibleBrands, snap.BrandQty, ReasonNoBrands
		}
	}
	return nil, nil, ""
}

// EligibleQuantity is the cart quantity that counts toward the thresholds of o.
// Transaction offers and offers without scope lists count the whole cart.
func EligibleQuantity(o models.Offer, snap CartSnapshot) float64 {
	keys, qty, _ := scope(o, snap)
	if keys == nil {
		return snap.TotalQty
	}
	var sum float64
	for _, k := range keys {
		sum += qty[k]
	}
	return sum
}

// CheckEligibility evaluates o against snap. Quantity thresholds use the
// eligible quantity; amount thresholds use the cart subtotal.
func CheckEligibility(o models.Offer, snap CartSnapshot) Eligibility {
	if snap.Empty() {
		return Eligibility{Reason: ReasonEmptyCart}
	}

	eligibleQty := snap.TotalQty
	if keys, qty, reason := scope(o, snap); keys != nil {
		present := false
		for _, k := range keys {
			if _, ok := qty[k]; ok {
				present = true
				break
			}
		}
		if !present {
			return Eligibility{Reason: reason}
		}
		eligibleQty = EligibleQuantity(o, snap)
	}

	if o.MinQty > 0 && eligibleQty < o.MinQty {
		return Eligibility{Reason: fmt.Sprintf(reasonMinQtyFmt, formatQty(eligibleQty), formatQty(o.MinQty))}
	}
	if o.MaxQty > 0 && eligibleQty > o.MaxQty {
		return Eligibility{Reason: fmt.Sprintf(reasonMaxQtyFmt, formatQty(eligibleQty), formatQty(o.MaxQty))}
	}
	if o.MinAmt > 0 && snap.Subtotal < o.MinAmt {
		return Eligibility{Reason: ReasonMinAmount}
	}
	if o.MaxAmt > 0 && snap.Subtotal > o.MaxAmt {
		return Eligibility{Reason: ReasonMaxAmount}
	}
	return Eligibility{Eligible: true}
}

// AllEligible returns the eligible offers that do not need a coupon.
func AllEligible(all []models.Offer, snap CartSnapshot) []models.Offer {
	out := make([]models.Offer, 0)
	for _, o := range all {
		if o.CouponBased {
			continue
		}
		if CheckEligibility(o, snap).Eligible {
			out = append(out, o)
		}
	}
	return out
}

// AutoEligible returns the eligible offers flagged for automatic application.
func AutoEligible(all []models.Offer, snap CartSnapshot) []models.Offer {
	out := make([]models.Offer, 0)
	for _, o := range all {
		if !o.Auto || o.CouponBased {
			continue
		}
		if CheckEligibility(o, snap).Eligible {
			out = append(out, o)
		}
	}
	return out
}

func sortValue(o models.Offer) float64 {
	if o.DiscountPercentage != 0 {
		return o.DiscountPercentage
	}
	return o.DiscountAmount
}

// SortByValue returns a copy ordered by discount percentage, or amount when no
// percentage is set, largest first.
func SortByValue(all []models.Offer) []models.Offer {
	out := append([]models.Offer(nil), all...)
	sort.SliceStable(out, func(i, j int) bool {
		return sortValue(out[i]) > sortValue(out[j])
	})
	return out
}

// UnlockAmount is what the cart still lacks to reach the minimum amount of o.
func UnlockAmount(o models.Offer, snap CartSnapshot) float64 {
	if o.MinAmt > 0 && snap.Subtotal < o.MinAmt {
		return o.MinAmt - snap.Subtotal
	}
	return 0
}
