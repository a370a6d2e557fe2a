package models

import (
	"time"

	"gorm.io/datatypes"
)

// CachedPaymentMethods holds the payment modes of a profile.
type CachedPaymentMethods struct {
	Profile  string         `gorm:"primaryKey;type:varchar(140)" json:"profile"`
	Methods  datatypes.JSON `gorm:"type:jsonb;not null" json:"methods"`
	CachedAt time.Time      `json:"cached_at"`
}

// TableName specifies the table name
func (CachedPaymentMethods) TableName() string {
	return "cached_payment_methods"
}

// InvoiceHistoryEntry is a server invoice cached for offline lookup.
type InvoiceHistoryEntry struct {
	Name        string         `gorm:"primaryKey;type:varchar(140)" json:"name"`
	Profile     string         `gorm:"type:varchar(140);index" json:"pos_profile"`
	Customer    string         `gorm:"type:varchar(255);index" json:"customer"`
	PostingDate time.Time      `gorm:"index" json:"posting_date"`
	GrandTotal  float64        `json:"grand_total"`
	Status      string         `gorm:"type:varchar(64)" json:"status"`
	Data        datatypes.JSON `gorm:"type:jsonb" json:"data"`
}

// TableName specifies the table name
func (InvoiceHistoryEntry) TableName() string {
	return "invoice_history"
}

// HistoryFilter narrows an invoice history query.
type HistoryFilter struct {
	Customer string
	From     time.Time
	To       time.Time
	Limit    int
}

// UnpaidInvoice is an outstanding invoice cached per profile.
type UnpaidInvoice struct {
	Name              string         `gorm:"primaryKey;type:varchar(140)" json:"name"`
	Profile           string         `gorm:"type:varchar(140);index" json:"pos_profile"`
	Customer          string         `gorm:"type:varchar(255)" json:"customer"`
	PostingDate       time.Time      `json:"posting_date"`
	GrandTotal        float64        `json:"grand_total"`
	OutstandingAmount float64        `gorm:"index" json:"outstanding_amount"`
	Data              datatypes.JSON `gorm:"type:jsonb" json:"data"`
}

// TableName specifies the table name
func (UnpaidInvoice) TableName() string {
	return "unpaid_invoices"
}

// UnpaidSummary aggregates the unpaid invoices of a profile.
type UnpaidSummary struct {
	Count            int     `json:"count"`
	TotalOutstanding float64 `json:"total_outstanding"`
	TotalPaid        float64 `json:"total_paid"`
}

// UnpaidSummaryKey is the setting key of a profile's unpaid summary.
func UnpaidSummaryKey(profile string) string {
	return "unpaid_summary_" + profile
}

// ProfileGroupsKey is the setting key holding a profile's item group filter.
func ProfileGroupsKey(profile string) string {
	return "profile_groups_" + profile
}

// Setting is an arbitrary JSON blob keyed by string.
type Setting struct {
	Key       string         `gorm:"primaryKey;type:varchar(255)" json:"key"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null" json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName specifies the table name
func (Setting) TableName() string {
	return "settings"
}

// AllModels lists every table the local store migrates.
func AllModels() []interface{} {
	return []interface{}{
		&QueuedInvoice{},
		&CachedCatalogItem{},
		&CachedOffer{},
		&CachedPaymentMethods{},
		&InvoiceHistoryEntry{},
		&UnpaidInvoice{},
		&Setting{},
	}
}
