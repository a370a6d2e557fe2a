package offers

import (
	"math"

	"github.com/xelth-com/eckposgo/internal/models"
)

// ApplyOffline applies the automatic offers of all that are eligible for snap
// and not yet in applied, mutating lines in place. It returns the offers it
// applied; the caller records them. It never talks to the network.
func ApplyOffline(lines []models.CartLine, snap CartSnapshot, all []models.Offer, applied []models.AppliedOffer) []models.AppliedOffer {
	if len(lines) == 0 {
		return nil
	}
	have := make(map[string]bool, len(applied))
	for _, a := range applied {
		have[a.Code] = true
	}

	var added []models.AppliedOffer
	for _, o := range AutoEligible(all, snap) {
		if have[o.Name] {
			continue
		}
		if ApplyOfferOffline(lines, o) {
			added = append(added, models.NewAppliedOffer(o, models.SourceOffline, []string{o.Name}))
			have[o.Name] = true
		}
	}
	return added
}

// ApplyOfferOffline applies a single offer to the lines it covers and reports
// whether any line changed. Eligibility is the caller's concern.
func ApplyOfferOffline(lines []models.CartLine, o models.Offer) bool {
	idx := eligibleLines(lines, o)
	if len(idx) == 0 {
		return false
	}
	if o.Offer == models.OfferGiveProduct {
		return applyFreeItem(lines, idx, o)
	}
	return applyPriceDiscount(lines, idx, o)
}

func eligibleLines(lines []models.CartLine, o models.Offer) []int {
	var set map[string]bool
	var key func(l *models.CartLine) string
	switch o.ApplyOn {
	case models.ApplyOnItemCode:
		set, key = toSet(o.EligibleItems), func(l *models.CartLine) string { return l.ItemCode }
	case models.ApplyOnItemGroup:
		set, key = toSet(o.EligibleItemGroups), func(l *models.CartLine) string { return l.ItemGroup }
	case models.ApplyOnBrand:
		set, key = toSet(o.EligibleBrands), func(l *models.CartLine) string { return l.Brand }
	case models.ApplyOnTransaction:
	default:
		return nil
	}

	var idx []int
	for i := range lines {
		if key == nil || set[key(&lines[i])] {
			idx = append(idx, i)
		}
	}
	return idx
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func addRule(l *models.CartLine, rule string) {
	for _, r := range l.PricingRules {
		if r == rule {
			return
		}
	}
	l.PricingRules = append(l.PricingRules, rule)
}

// applyPriceDiscount skips lines that already carry a pricing rule.
func applyPriceDiscount(lines []models.CartLine, idx []int, o models.Offer) bool {
	applied := false
	for _, i := range idx {
		l := &lines[i]
		if l.HasPricingRules() {
			continue
		}
		switch {
		case o.PriceDiscountType() == models.DiscountPercentage && o.DiscountPercentage > 0:
			l.DiscountPercentage = o.DiscountPercentage
		case o.PriceDiscountType() == models.DiscountAmount && o.DiscountAmount > 0:
			l.DiscountAmount = o.DiscountAmount
		case o.PriceDiscountType() == models.DiscountRate && o.Rate > 0:
			if l.PriceListRate == 0 {
				l.PriceListRate = l.Rate
			}
			l.Rate = o.Rate
		default:
			continue
		}
		l.PricingRules = []string{o.Name}
		l.Recalculate()
		applied = true
	}
	return applied
}

// recursive reports whether the offer grants per recurse_for units. A rule
// with recurse_for set counts as recursive unless is_recursive is sent as 0.
func recursive(o models.Offer) bool {
	if o.IsRecursive != nil && !bool(*o.IsRecursive) {
		return false
	}
	return o.RecurseFor > 0
}

// FreeQuantity is the free quantity granted for eligibleQty units:
// floor((qty - apply_recursion_over) / recurse_for) * free_qty when recursive,
// free_qty once the minimum quantity is met otherwise.
func FreeQuantity(o models.Offer, eligibleQty float64) float64 {
	if o.FreeQty <= 0 {
		return 0
	}
	if recursive(o) {
		effective := math.Max(0, eligibleQty-o.ApplyRecursionOver)
		return math.Floor(effective/o.RecurseFor) * o.FreeQty
	}
	if o.MinQty > 0 && eligibleQty < o.MinQty {
		return 0
	}
	return o.FreeQty
}

// applyFreeItem grants free quantity on the purchased line itself, or on the
// named free item when it is already in the cart. Lines that already hold a
// free quantity are left alone; new lines are never added offline.
func applyFreeItem(lines []models.CartLine, idx []int, o models.Offer) bool {
	if o.FreeQty <= 0 {
		return false
	}

	if o.SameItem {
		applied := false
		for _, i := range idx {
			l := &lines[i]
			free := FreeQuantity(o, l.Quantity)
			if free > 0 && l.FreeQty == 0 {
				l.FreeQty = free
				addRule(l, o.Name)
				applied = true
			}
		}
		return applied
	}

	if o.FreeItem == "" {
		return false
	}
	target := -1
	for i := range lines {
		if lines[i].ItemCode == o.FreeItem {
			target = i
			break
		}
	}
	if target < 0 {
		return false
	}

	var eligibleQty float64
	for _, i := range idx {
		eligibleQty += lines[i].Quantity
	}
	free := o.FreeQty
	if recursive(o) {
		free = FreeQuantity(o, eligibleQty)
	}
	l := &lines[target]
	if free <= 0 || l.FreeQty != 0 {
		return false
	}
	l.FreeQty = free
	addRule(l, o.Name)
	return true
}
