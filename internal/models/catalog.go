package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// CachedCatalogItem is the local mirror of one sellable item.
// Upserts always replace the whole record.
type CachedCatalogItem struct {
	ItemCode      string         `gorm:"primaryKey;type:varchar(140)" json:"item_code"`
	ItemName      string         `gorm:"type:varchar(255)" json:"item_name"`
	ItemGroup     string         `gorm:"type:varchar(140);index" json:"item_group"`
	Brand         string         `gorm:"type:varchar(140);index" json:"brand"`
	StockUOM      string         `gorm:"type:varchar(64)" json:"stock_uom"`
	Barcode       string         `gorm:"type:varchar(140);index" json:"barcode"`
	Rate          float64        `json:"rate"`
	PriceListRate float64        `json:"price_list_rate"`
	StockQty      float64        `json:"actual_qty"`
	HasVariants   bool           `json:"has_variants"`
	HasBatchNo    bool           `json:"has_batch_no"`
	HasSerialNo   bool           `json:"has_serial_no"`
	Attributes    datatypes.JSON `gorm:"type:jsonb" json:"attributes"`
	CachedAt      time.Time      `gorm:"index" json:"cached_at"`
}

// TableName specifies the table name
func (CachedCatalogItem) TableName() string {
	return "catalog_items"
}

// Item is a catalog record as returned by the remote item endpoints.
// Flag fields arrive as 0/1 integers.
type Item struct {
	ItemCode      string  `json:"item_code"`
	ItemName      string  `json:"item_name"`
	ItemGroup     string  `json:"item_group"`
	Brand         string  `json:"brand"`
	StockUOM      string  `json:"stock_uom"`
	Barcode       string  `json:"barcode"`
	Rate          float64 `json:"rate"`
	PriceListRate float64 `json:"price_list_rate"`
	ActualQty     float64 `json:"actual_qty"`
	HasVariants   Flag    `json:"has_variants"`
	HasBatchNo    Flag    `json:"has_batch_no"`
	HasSerialNo   Flag    `json:"has_serial_no"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full server record in Raw.
func (it *Item) UnmarshalJSON(data []byte) error {
	type alias Item
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*it = Item(a)
	it.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ToCached converts a server item into its cache record.
func (it Item) ToCached(now time.Time) CachedCatalogItem {
	attrs := datatypes.JSON(it.Raw)
	if len(attrs) == 0 {
		attrs = datatypes.JSON("{}")
	}
	return CachedCatalogItem{
		ItemCode:      it.ItemCode,
		ItemName:      it.ItemName,
		ItemGroup:     it.ItemGroup,
		Brand:         it.Brand,
		StockUOM:      it.StockUOM,
		Barcode:       it.Barcode,
		Rate:          it.Rate,
		PriceListRate: it.PriceListRate,
		StockQty:      it.ActualQty,
		HasVariants:   bool(it.HasVariants),
		HasBatchNo:    bool(it.HasBatchNo),
		HasSerialNo:   bool(it.HasSerialNo),
		Attributes:    attrs,
		CachedAt:      now,
	}
}
