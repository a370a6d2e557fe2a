package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xelth-com/eckposgo/internal/database"
	"github.com/xelth-com/eckposgo/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertChunk bounds the number of rows per INSERT statement.
const upsertChunk = 200

// GormStore persists everything in the terminal's PostgreSQL database.
type GormStore struct {
	db *database.DB
}

// NewGormStore migrates the schema and returns the store.
func NewGormStore(db *database.DB) (*GormStore, error) {
	log.Println("🚀 Synchronizing local store schema...")
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate local store: %w", err)
	}
	log.Println("✅ Local store schema synchronized")
	return &GormStore{db: db}, nil
}

func (s *GormStore) tx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *GormStore) EnqueueInvoice(ctx context.Context, inv *models.QueuedInvoice) error {
	if err := s.tx(ctx).Create(inv).Error; err != nil {
		return fmt.Errorf("failed to enqueue invoice %s: %w", inv.OfflineID, err)
	}
	return nil
}

func (s *GormStore) ListPendingInvoices(ctx context.Context) []models.QueuedInvoice {
	var out []models.QueuedInvoice
	err := s.tx(ctx).
		Where("synced = ? AND failed = ?", false, false).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		log.Printf("❌ Store: failed to list pending invoices: %v", err)
		return nil
	}
	return out
}

func (s *GormStore) ListInvoices(ctx context.Context) []models.QueuedInvoice {
	var out []models.QueuedInvoice
	if err := s.tx(ctx).Order("id ASC").Find(&out).Error; err != nil {
		log.Printf("❌ Store: failed to list invoices: %v", err)
		return nil
	}
	return out
}

func (s *GormStore) GetInvoice(ctx context.Context, id uint) (*models.QueuedInvoice, error) {
	var inv models.QueuedInvoice
	err := s.tx(ctx).First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *GormStore) CountPendingInvoices(ctx context.Context) int64 {
	var n int64
	err := s.tx(ctx).Model(&models.QueuedInvoice{}).
		Where("synced = ? AND failed = ?", false, false).
		Count(&n).Error
	if err != nil {
		log.Printf("❌ Store: failed to count pending invoices: %v", err)
		return 0
	}
	return n
}

func (s *GormStore) MarkInvoiceSynced(ctx context.Context, id uint, serverRef string, at time.Time) error {
	res := s.tx(ctx).Model(&models.QueuedInvoice{}).Where("id = ?", id).Updates(map[string]interface{}{
		"synced":           true,
		"server_reference": serverRef,
		"synced_at":        at,
		"failed":           false,
		"last_error":       "",
	})
	if res.Error != nil {
		return fmt.Errorf("failed to mark invoice %d synced: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) UpdateInvoiceFailure(ctx context.Context, id uint, retryCount int, failed bool, lastError string) error {
	res := s.tx(ctx).Model(&models.QueuedInvoice{}).Where("id = ?", id).Updates(map[string]interface{}{
		"retry_count": retryCount,
		"failed":      failed,
		"last_error":  lastError,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update invoice %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteInvoice(ctx context.Context, id uint) error {
	res := s.tx(ctx).Delete(&models.QueuedInvoice{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete invoice %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.tx(ctx).
		Where("synced = ? AND synced_at < ?", true, cutoff).
		Delete(&models.QueuedInvoice{})
	return res.RowsAffected, res.Error
}

// UpsertItems replaces whole records in a single transaction.
func (s *GormStore) UpsertItems(ctx context.Context, items []models.CachedCatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.tx(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_code"}},
			UpdateAll: true,
		}).CreateInBatches(items, upsertChunk).Error
	})
}

func (s *GormStore) GetItem(ctx context.Context, code string) (*models.CachedCatalogItem, error) {
	var it models.CachedCatalogItem
	err := s.tx(ctx).Where("item_code = ?", code).First(&it).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *GormStore) itemScope(ctx context.Context, groups []string, search string) *gorm.DB {
	q := s.tx(ctx).Model(&models.CachedCatalogItem{})
	if len(groups) > 0 {
		q = q.Where("item_group IN ?", groups)
	}
	if search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("LOWER(item_code) LIKE ? OR LOWER(item_name) LIKE ? OR LOWER(barcode) LIKE ?", like, like, like)
	}
	return q
}

func (s *GormStore) QueryItems(ctx context.Context, q ItemQuery) []models.CachedCatalogItem {
	var out []models.CachedCatalogItem
	db := s.itemScope(ctx, q.Groups, q.Search).Order("item_code ASC").Offset(q.Offset)
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if err := db.Find(&out).Error; err != nil {
		log.Printf("❌ Store: failed to query items: %v", err)
		return nil
	}
	return out
}

func (s *GormStore) CountItems(ctx context.Context, groups []string) int64 {
	var n int64
	if err := s.itemScope(ctx, groups, "").Count(&n).Error; err != nil {
		log.Printf("❌ Store: failed to count items: %v", err)
		return 0
	}
	return n
}

func (s *GormStore) DeleteItemsByGroups(ctx context.Context, groups []string) (int64, error) {
	if len(groups) == 0 {
		return 0, nil
	}
	res := s.tx(ctx).Where("item_group IN ?", groups).Delete(&models.CachedCatalogItem{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) ClearItems(ctx context.Context) error {
	return s.tx(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CachedCatalogItem{}).Error
}

func (s *GormStore) ApplyStockDelta(ctx context.Context, code string, delta float64) error {
	return s.tx(ctx).Model(&models.CachedCatalogItem{}).
		Where("item_code = ?", code).
		Update("stock_qty", gorm.Expr("stock_qty + ?", delta)).Error
}

// SaveOffers replaces the cached offer set of a profile.
func (s *GormStore) SaveOffers(ctx context.Context, profile string, offers []models.Offer) error {
	now := time.Now().UTC()
	rows := make([]models.CachedOffer, 0, len(offers))
	for _, o := range offers {
		data, err := encodeOffers([]models.Offer{o})
		if err != nil {
			return err
		}
		rows = append(rows, models.CachedOffer{Profile: profile, Name: o.Name, Data: datatypes.JSON(data), CachedAt: now})
	}
	return s.tx(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("profile = ?", profile).Delete(&models.CachedOffer{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

func (s *GormStore) GetOffers(ctx context.Context, profile string) []models.Offer {
	var rows []models.CachedOffer
	if err := s.tx(ctx).Where("profile = ?", profile).Order("name ASC").Find(&rows).Error; err != nil {
		log.Printf("❌ Store: failed to read cached offers: %v", err)
		return nil
	}
	out := make([]models.Offer, 0, len(rows))
	for _, r := range rows {
		decoded, err := decodeOffers(r.Data)
		if err != nil {
			log.Printf("⚠️ Store: skipping corrupt cached offer %s: %v", r.Name, err)
			continue
		}
		out = append(out, decoded...)
	}
	return out
}

func (s *GormStore) SavePaymentMethods(ctx context.Context, profile string, methods []byte) error {
	row := models.CachedPaymentMethods{Profile: profile, Methods: datatypes.JSON(methods), CachedAt: time.Now().UTC()}
	return s.tx(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *GormStore) GetPaymentMethods(ctx context.Context, profile string) []byte {
	var row models.CachedPaymentMethods
	if err := s.tx(ctx).Where("profile = ?", profile).First(&row).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("❌ Store: failed to read payment methods: %v", err)
		}
		return nil
	}
	return row.Methods
}

func (s *GormStore) SaveInvoiceHistory(ctx context.Context, entries []models.InvoiceHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.tx(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).CreateInBatches(entries, upsertChunk).Error
}

func (s *GormStore) QueryInvoiceHistory(ctx context.Context, f models.HistoryFilter) []models.InvoiceHistoryEntry {
	q := s.tx(ctx).Model(&models.InvoiceHistoryEntry{})
	if f.Customer != "" {
		q = q.Where("LOWER(customer) LIKE ?", "%"+strings.ToLower(f.Customer)+"%")
	}
	if !f.From.IsZero() {
		q = q.Where("posting_date >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("posting_date <= ?", f.To)
	}
	var out []models.InvoiceHistoryEntry
	if err := q.Order("posting_date DESC").Limit(historyLimit(f)).Find(&out).Error; err != nil {
		log.Printf("❌ Store: failed to query invoice history: %v", err)
		return nil
	}
	return out
}

func (s *GormStore) ReplaceUnpaidInvoices(ctx context.Context, profile string, invoices []models.UnpaidInvoice) error {
	rows := append([]models.UnpaidInvoice(nil), invoices...)
	for i := range rows {
		rows[i].Profile = profile
	}
	return s.tx(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("profile = ?", profile).Delete(&models.UnpaidInvoice{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).Create(&rows).Error
	})
}

func (s *GormStore) GetUnpaidInvoices(ctx context.Context, profile string) []models.UnpaidInvoice {
	var out []models.UnpaidInvoice
	err := s.tx(ctx).Where("profile = ?", profile).Order("outstanding_amount DESC").Find(&out).Error
	if err != nil {
		log.Printf("❌ Store: failed to read unpaid invoices: %v", err)
		return nil
	}
	return out
}

func (s *GormStore) SetSetting(ctx context.Context, key string, value []byte) error {
	row := models.Setting{Key: key, Value: datatypes.JSON(value), UpdatedAt: time.Now().UTC()}
	return s.tx(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *GormStore) GetSetting(ctx context.Context, key string) ([]byte, bool) {
	var row models.Setting
	if err := s.tx(ctx).Where("key = ?", key).First(&row).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("❌ Store: failed to read setting %s: %v", key, err)
		}
		return nil, false
	}
	return row.Value, true
}

func (s *GormStore) DeleteSetting(ctx context.Context, key string) error {
	return s.tx(ctx).Where("key = ?", key).Delete(&models.Setting{}).Error
}
