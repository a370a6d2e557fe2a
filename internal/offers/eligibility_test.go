package offers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/eckposgo/internal/models"
)

func line(code, group, brand string, qty, rate float64) models.CartLine {
	return models.CartLine{ItemCode: code, ItemGroup: group, Brand: brand, UOM: "Nos", Quantity: qty, Rate: rate, PriceListRate: rate}
}

func sampleCart() []models.CartLine {
	return []models.CartLine{
		line("A", "G1", "Acme", 3, 10),
		line("B", "G2", "Bolt", 2, 5),
	}
}

func TestBuildSnapshot(t *testing.T) {
	lines := append(sampleCart(), line("A", "G1", "Acme", 1, 10))
	snap := BuildSnapshot(lines)

	assert.Equal(t, 50.0, snap.Subtotal)
	assert.Equal(t, 6.0, snap.TotalQty)
	assert.Equal(t, []string{"A", "B"}, snap.ItemCodes)
	assert.Equal(t, []string{"G1", "G2"}, snap.ItemGroups)
	assert.Equal(t, []string{"Acme", "Bolt"}, snap.Brands)
	assert.Equal(t, 4.0, snap.ItemQty["A"])
	assert.Equal(t, 4.0, snap.GroupQty["G1"])
	assert.Equal(t, 2.0, snap.BrandQty["Bolt"])

	empty := BuildSnapshot(nil)
	assert.True(t, empty.Empty())
	assert.NotNil(t, empty.ItemQty)
}

func TestEligibilityUsesScopedQuantity(t *testing.T) {
	snap := BuildSnapshot(sampleCart())
	offer := models.Offer{Name: "G1-2", ApplyOn: models.ApplyOnItemGroup, EligibleItemGroups: []string{"G1"}, MinQty: 2}

	assert.Equal(t, 3.0, EligibleQuantity(offer, snap))
	assert.Equal(t, Eligibility{Eligible: true}, CheckEligibility(offer, snap))

	offer.MinQty = 4
	got := CheckEligibility(offer, snap)
	assert.False(t, got.Eligible)
	assert.Equal(t, "Minimum quantity not met (3/4)", got.Reason)
}

func TestEligibilityReasons(t *testing.T) {
	snap := BuildSnapshot(sampleCart())

	tests := []struct {
		name   string
		offer  models.Offer
		snap   CartSnapshot
		reason string
	}{
		{"empty cart", models.Offer{ApplyOn: models.ApplyOnTransaction}, BuildSnapshot(nil), ReasonEmptyCart},
		{"item scope", models.Offer{ApplyOn: models.ApplyOnItemCode, EligibleItems: []string{"Z"}}, snap, ReasonNoItems},
		{"group scope", models.Offer{ApplyOn: models.ApplyOnItemGroup, EligibleItemGroups: []string{"G9"}}, snap, ReasonNoGroups},
		{"brand scope", models.Offer{ApplyOn: models.ApplyOnBrand, EligibleBrands: []string{"Nope"}}, snap, ReasonNoBrands},
		{"max qty", models.Offer{ApplyOn: models.ApplyOnItemCode, EligibleItems: []string{"A"}, MaxQty: 2}, snap, "Maximum quantity exceeded (3/2)"},
		{"min amount", models.Offer{ApplyOn: models.ApplyOnTransaction, MinAmt: 100}, snap, ReasonMinAmount},
		{"max amount", models.Offer{ApplyOn: models.ApplyOnTransaction, MaxAmt: 20}, snap, ReasonMaxAmount},
		{"transaction qty", models.Offer{ApplyOn: models.ApplyOnTransaction, MinQty: 6}, snap, "Minimum quantity not met (5/6)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckEligibility(tt.offer, tt.snap)
			assert.False(t, got.Eligible)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestEligibilityWithoutScopeListCountsWholeCart(t *testing.T) {
	snap := BuildSnapshot(sampleCart())
	offer := models.Offer{ApplyOn: models.ApplyOnItemGroup, MinQty: 5}
	assert.Equal(t, 5.0, EligibleQuantity(offer, snap))
	assert.True(t, CheckEligibility(offer, snap).Eligible)
}

func TestEligibleListsAndSorting(t *testing.T) {
	snap := BuildSnapshot(sampleCart())
	all := []models.Offer{
		{Name: "small", ApplyOn: models.ApplyOnTransaction, DiscountAmount: 2},
		{Name: "coupon", ApplyOn: models.ApplyOnTransaction, CouponBased: true, Auto: true},
		{Name: "auto", ApplyOn: models.ApplyOnTransaction, Auto: true, DiscountPercentage: 5},
		{Name: "big", ApplyOn: models.ApplyOnTransaction, DiscountPercentage: 20},
		{Name: "unreachable", ApplyOn: models.ApplyOnTransaction, MinAmt: 1000, Auto: true},
	}

	names := func(list []models.Offer) []string {
		out := []string{}
		for _, o := range list {
			out = append(out, o.Name)
		}
		return out
	}
	assert.Equal(t, []string{"small", "auto", "big"}, names(AllEligible(all, snap)))
	assert.Equal(t, []string{"auto"}, names(AutoEligible(all, snap)))
	assert.Equal(t, []string{"big", "auto", "small"}, names(SortByValue(AllEligible(all, snap))))
	assert.Equal(t, "small", all[0].Name, "sorting must not reorder the input")
}

func TestUnlockAmount(t *testing.T) {
	snap := BuildSnapshot(sampleCart())
	assert.Equal(t, 60.0, UnlockAmount(models.Offer{MinAmt: 100}, snap))
	assert.Zero(t, UnlockAmount(models.Offer{MinAmt: 10}, snap))
	assert.Zero(t, UnlockAmount(models.Offer{}, snap))
}

func TestApplyOfflinePriceDiscounts(t *testing.T) {
	lines := sampleCart()
	snap := BuildSnapshot(lines)
	all := []models.Offer{
		{Name: "PCT", Auto: true, ApplyOn: models.ApplyOnItemCode, EligibleItems: []string{"A"}, DiscountType: models.DiscountPercentage, DiscountPercentage: 10},
		{Name: "AMT", Auto: true, ApplyOn: models.ApplyOnItemGroup, EligibleItemGroups: []string{"G2"}, RateOrDiscount: models.DiscountAmount, DiscountAmount: 1},
		{Name: "MANUAL", ApplyOn: models.ApplyOnTransaction, DiscountType: models.DiscountPercentage, DiscountPercentage: 50},
	}

	added := ApplyOffline(lines, snap, all, nil)
	require.Len(t, added, 2)
	assert.Equal(t, models.SourceOffline, added[0].Source)
	assert.Equal(t, []string{"PCT"}, added[0].RuleIDs)

	assert.Equal(t, 10.0, lines[0].DiscountPercentage)
	assert.Equal(t, []string{"PCT"}, lines[0].PricingRules)
	assert.Equal(t, 27.0, lines[0].Amount)
	assert.Equal(t, 1.0, lines[1].DiscountAmount)
	assert.Equal(t, 8.0, lines[1].Amount)

	// Already applied offers are not applied twice.
	assert.Empty(t, ApplyOffline(lines, snap, all, added))
}

func TestApplyOfflineRateOverride(t *testing.T) {
	lines := []models.CartLine{{ItemCode: "A", Quantity: 2, Rate: 10}}
	o := models.Offer{Name: "RATE", ApplyOn: models.ApplyOnTransaction, DiscountType: models.DiscountRate, Rate: 7}

	require.True(t, ApplyOfferOffline(lines, o))
	assert.Equal(t, 7.0, lines[0].Rate)
	assert.Equal(t, 10.0, lines[0].PriceListRate)
	assert.Equal(t, 14.0, lines[0].Amount)

	lines[0].ClearDiscounts()
	assert.Equal(t, 10.0, lines[0].Rate)
}

func TestApplyOfflineSkipsLinesWithRules(t *testing.T) {
	lines := []models.CartLine{{ItemCode: "A", Quantity: 1, Rate: 10, PricingRules: []string{"SERVER"}}}
	o := models.Offer{Name: "PCT", ApplyOn: models.ApplyOnTransaction, DiscountType: models.DiscountPercentage, DiscountPercentage: 10}
	assert.False(t, ApplyOfferOffline(lines, o))
	assert.Zero(t, lines[0].DiscountPercentage)
}

func TestFreeItemRecursion(t *testing.T) {
	o := models.Offer{Name: "B2G1", Offer: models.OfferGiveProduct, ApplyOn: models.ApplyOnItemCode,
		EligibleItems: []string{"A"}, SameItem: true, RecurseFor: 2, FreeQty: 1}

	lines := []models.CartLine{line("A", "G1", "", 7, 10)}
	require.True(t, ApplyOfferOffline(lines, o))
	assert.Equal(t, 3.0, lines[0].FreeQty)
	assert.Equal(t, []string{"B2G1"}, lines[0].PricingRules)

	o.ApplyRecursionOver = 3
	assert.Equal(t, 2.0, FreeQuantity(o, 7))
	assert.Zero(t, FreeQuantity(o, 2))
}

func TestFreeItemSingleGrant(t *testing.T) {
	o := models.Offer{Name: "ONCE", Offer: models.OfferGiveProduct, ApplyOn: models.ApplyOnItemCode,
		EligibleItems: []string{"A"}, SameItem: true, FreeQty: 1, MinQty: 2}

	assert.Equal(t, 1.0, FreeQuantity(o, 6))
	assert.Zero(t, FreeQuantity(o, 1))

	lines := []models.CartLine{line("A", "G1", "", 1, 10)}
	assert.False(t, ApplyOfferOffline(lines, o))
}

func flag(v bool) *models.Flag {
	f := models.Flag(v)
	return &f
}

func TestFreeItemExplicitlyNotRecursive(t *testing.T) {
	var o models.Offer
	require.NoError(t, json.Unmarshal([]byte(`{"name":"B3G1","offer":"Give Product","apply_on":"Item Code",
		"eligible_items":["A"],"same_item":1,"free_qty":1,"min_qty":3,"is_recursive":0,"recurse_for":3}`), &o))
	require.NotNil(t, o.IsRecursive)
	assert.Equal(t, 1.0, FreeQuantity(o, 9), "single grant")

	o.IsRecursive = nil
	assert.Equal(t, 3.0, FreeQuantity(o, 9), "recurse_for alone still recurses")

	o.IsRecursive = flag(true)
	assert.Equal(t, 3.0, FreeQuantity(o, 9))
}

func TestFreeItemOtherProduct(t *testing.T) {
	o := models.Offer{Name: "GIFT", Offer: models.OfferGiveProduct, ApplyOn: models.ApplyOnItemGroup,
		EligibleItemGroups: []string{"G1"}, FreeItem: "GIFT-1", FreeQty: 1, IsRecursive: flag(true), RecurseFor: 3}

	lines := []models.CartLine{line("A", "G1", "", 4, 10), line("C", "G1", "", 2, 10)}
	assert.False(t, ApplyOfferOffline(lines, o), "free item not in cart")

	lines = append(lines, line("GIFT-1", "Gifts", "", 1, 0))
	require.True(t, ApplyOfferOffline(lines, o))
	assert.Equal(t, 2.0, lines[2].FreeQty)
	assert.Zero(t, lines[0].FreeQty)

	// A line that already holds free quantity is left alone.
	assert.False(t, ApplyOfferOffline(lines, o))
}
