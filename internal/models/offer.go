package models

import (
	"time"

	"gorm.io/datatypes"
)

// Applicability scopes of an offer.
const (
	ApplyOnItemCode    = "Item Code"
	ApplyOnItemGroup   = "Item Group"
	ApplyOnBrand       = "Brand"
	ApplyOnTransaction = "Transaction"
)

// Offer kinds and price discount types.
const (
	OfferGiveProduct = "Give Product"
	OfferItemPrice   = "Item Price"

	DiscountPercentage = "Discount Percentage"
	DiscountAmount     = "Discount Amount"
	DiscountRate       = "Rate"
)

// Offer is a promotional rule published by the server for a POS profile.
type Offer struct {
	Name               string   `json:"name"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Offer              string   `json:"offer"`
	ApplyOn            string   `json:"apply_on"`
	EligibleItems      []string `json:"eligible_items,omitempty"`
	EligibleItemGroups []string `json:"eligible_item_groups,omitempty"`
	EligibleBrands     []string `json:"eligible_brands,omitempty"`

	MinQty float64 `json:"min_qty"`
	MaxQty float64 `json:"max_qty"`
	MinAmt float64 `json:"min_amt"`
	MaxAmt float64 `json:"max_amt"`

	Auto        Flag `json:"auto"`
	CouponBased Flag `json:"coupon_based"`

	DiscountType       string  `json:"discount_type,omitempty"`
	RateOrDiscount     string  `json:"rate_or_discount,omitempty"`
	DiscountPercentage float64 `json:"discount_percentage"`
	DiscountAmount     float64 `json:"discount_amount"`
	Rate               float64 `json:"rate"`

	FreeItem           string  `json:"free_item,omitempty"`
	FreeQty            float64 `json:"free_qty"`
	SameItem           Flag    `json:"same_item"`
	IsRecursive        *Flag   `json:"is_recursive,omitempty"`
	RecurseFor         float64 `json:"recurse_for"`
	ApplyRecursionOver float64 `json:"apply_recursion_over"`

	ValidFrom string `json:"valid_from,omitempty"`
	ValidUpto string `json:"valid_upto,omitempty"`
}

// DisplayName prefers the title.
func (o Offer) DisplayName() string {
	if o.Title != "" {
		return o.Title
	}
	return o.Name
}

// PriceDiscountType resolves which of the two server fields carries the discount type.
func (o Offer) PriceDiscountType() string {
	if o.DiscountType != "" {
		return o.DiscountType
	}
	return o.RateOrDiscount
}

// CachedOffer stores the offers of one profile for offline use.
type CachedOffer struct {
	Profile  string         `gorm:"primaryKey;type:varchar(140)" json:"profile"`
	Name     string         `gorm:"primaryKey;type:varchar(140)" json:"name"`
	Data     datatypes.JSON `gorm:"type:jsonb;not null" json:"data"`
	CachedAt time.Time      `json:"cached_at"`
}

// TableName specifies the table name
func (CachedOffer) TableName() string {
	return "cached_offers"
}

// Offer sources recorded on an AppliedOffer.
const (
	SourceManual  = "manual"
	SourceAuto    = "auto"
	SourceOffline = "offline"
)

// AppliedOffer records an offer currently confirmed on the cart.
type AppliedOffer struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Source  string   `json:"source"`
	RuleIDs []string `json:"rules"`
	MinQty  float64  `json:"min_qty"`
	MaxQty  float64  `json:"max_qty"`
	MinAmt  float64  `json:"min_amt"`
	MaxAmt  float64  `json:"max_amt"`
	Offer   Offer    `json:"offer"`
}

// NewAppliedOffer snapshots the thresholds of o.
func NewAppliedOffer(o Offer, source string, rules []string) AppliedOffer {
	return AppliedOffer{
		Code:    o.Name,
		Name:    o.DisplayName(),
		Source:  source,
		RuleIDs: rules,
		MinQty:  o.MinQty,
		MaxQty:  o.MaxQty,
		MinAmt:  o.MinAmt,
		MaxAmt:  o.MaxAmt,
		Offer:   o,
	}
}
