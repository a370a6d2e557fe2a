package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// DefaultCustomer is used in error reports when an invoice carries no customer.
const DefaultCustomer = "Walk-in Customer"

// QueuedInvoice is a sale captured locally and waiting to reach the server of record.
// A record is either pending (Synced=false, ServerReference=nil) or synced-terminal.
type QueuedInvoice struct {
	ID              uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	OfflineID       string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"offline_id"`
	ProfileName     string         `gorm:"type:varchar(140);index" json:"pos_profile"`
	Customer        string         `gorm:"type:varchar(255)" json:"customer"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	EnqueuedAt      time.Time      `gorm:"not null;index" json:"enqueued_at"`
	Synced          bool           `gorm:"not null;default:false;index" json:"synced"`
	ServerReference *string        `gorm:"type:varchar(140)" json:"server_reference,omitempty"`
	SyncedAt        *time.Time     `json:"synced_at,omitempty"`
	RetryCount      int            `gorm:"not null;default:0" json:"retry_count"`
	Failed          bool           `gorm:"not null;default:false" json:"failed"`
	LastError       string         `gorm:"type:text" json:"last_error,omitempty"`
}

// TableName specifies the table name
func (QueuedInvoice) TableName() string {
	return "offline_invoices"
}

// Invoice decodes the stored payload.
func (q *QueuedInvoice) Invoice() (*Invoice, error) {
	var inv Invoice
	if err := json.Unmarshal(q.Payload, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Invoice is the normalized sales payload handed to the remote server.
// Unknown fields survive a round trip through Extra.
type Invoice struct {
	OfflineID      string         `json:"offline_id"`
	POSProfile     string         `json:"pos_profile"`
	Customer       string         `json:"customer"`
	PostingDate    string         `json:"posting_date,omitempty"`
	Items          []InvoiceItem  `json:"items"`
	Payments       []Payment      `json:"payments,omitempty"`
	DiscountAmount float64        `json:"discount_amount,omitempty"`
	GrandTotal     float64        `json:"grand_total,omitempty"`
	IsReturn       bool           `json:"is_return,omitempty"`
	Extra          map[string]any `json:"-"`
}

// InvoiceItem is one sold line. PricingRules is left raw because clients send
// it as an array, a JSON-encoded array string or a comma separated string.
type InvoiceItem struct {
	ItemCode           string          `json:"item_code"`
	ItemName           string          `json:"item_name,omitempty"`
	Qty                float64         `json:"qty,omitempty"`
	Quantity           float64         `json:"quantity,omitempty"`
	Rate               float64         `json:"rate"`
	PriceListRate      float64         `json:"price_list_rate,omitempty"`
	UOM                string          `json:"uom,omitempty"`
	ConversionFactor   float64         `json:"conversion_factor,omitempty"`
	DiscountPercentage float64         `json:"discount_percentage,omitempty"`
	DiscountAmount     float64         `json:"discount_amount,omitempty"`
	FreeQty            float64         `json:"free_qty,omitempty"`
	Warehouse          string          `json:"warehouse,omitempty"`
	PricingRules       json.RawMessage `json:"pricing_rules,omitempty"`
	SerialNo           string          `json:"serial_no,omitempty"`
	BatchNo            string          `json:"batch_no,omitempty"`
}

// Payment is one tender line of an invoice.
type Payment struct {
	ModeOfPayment string  `json:"mode_of_payment"`
	Amount        float64 `json:"amount"`
}

type invoiceAlias Invoice

var invoiceKnownKeys = []string{
	"offline_id", "pos_profile", "customer", "posting_date", "items",
	"payments", "discount_amount", "grand_total", "is_return",
}

// UnmarshalJSON keeps unknown keys in Extra.
func (inv *Invoice) UnmarshalJSON(data []byte) error {
	var alias invoiceAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range invoiceKnownKeys {
		delete(raw, k)
	}
	*inv = Invoice(alias)
	if len(raw) > 0 {
		inv.Extra = raw
	}
	return nil
}

// MarshalJSON writes Extra keys alongside the known fields.
func (inv Invoice) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(invoiceAlias(inv))
	if err != nil {
		return nil, err
	}
	if len(inv.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]any, len(inv.Extra)+len(invoiceKnownKeys))
	for k, v := range inv.Extra {
		merged[k] = v
	}
	var knownMap map[string]any
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// CustomerOrDefault returns the customer name used in operator-facing reports.
func (inv *Invoice) CustomerOrDefault() string {
	if inv == nil || inv.Customer == "" {
		return DefaultCustomer
	}
	return inv.Customer
}
