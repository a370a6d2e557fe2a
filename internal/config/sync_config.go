package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// SyncConfig holds invoice queue synchronization configuration
type SyncConfig struct {
	Enabled           bool          `yaml:"enabled"`
	MaxRetries        int           `yaml:"max_retries"`
	RetentionDays     int           `yaml:"retention_days"`
	InProgressRetries int           `yaml:"in_progress_retries"`
	InProgressDelay   time.Duration `yaml:"in_progress_delay"`
	AutoSyncInterval  time.Duration `yaml:"auto_sync_interval"` // 0 = only on reconnect
}

// ConnectivityConfig tunes the reachability probe.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	Debounce      time.Duration `yaml:"debounce"`
}

// CatalogConfig tunes the item cache synchronizer.
type CatalogConfig struct {
	BatchSize             int           `yaml:"batch_size"`
	BatchDelay            time.Duration `yaml:"batch_delay"`
	MaxConsecutiveErrors  int           `yaml:"max_consecutive_errors"`
	PageSize              int           `yaml:"page_size"`
	SmallCatalogThreshold int           `yaml:"small_catalog_threshold"`
	StatsTimeout          time.Duration `yaml:"stats_timeout"`
	IncludeVariants       bool          `yaml:"include_variants"`
	ItemGroups            []string      `yaml:"item_groups"`
}

// OffersConfig tunes the offer pipeline.
type OffersConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	DebounceSmall  time.Duration `yaml:"debounce_small"`
	DebounceMedium time.Duration `yaml:"debounce_medium"`
	DebounceLarge  time.Duration `yaml:"debounce_large"`
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		Enabled:           true,
		MaxRetries:        3,
		RetentionDays:     7,
		InProgressRetries: 3,
		InProgressDelay:   2 * time.Second,
	}
}

func defaultConnectivityConfig() ConnectivityConfig {
	return ConnectivityConfig{
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  3 * time.Second,
		Debounce:      time.Second,
	}
}

func defaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		BatchSize:             500,
		BatchDelay:            500 * time.Millisecond,
		MaxConsecutiveErrors:  5,
		PageSize:              20,
		SmallCatalogThreshold: 1000,
		StatsTimeout:          3 * time.Second,
	}
}

func defaultOffersConfig() OffersConfig {
	return OffersConfig{
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
		DebounceSmall:  100 * time.Millisecond,
		DebounceMedium: 200 * time.Millisecond,
		DebounceLarge:  300 * time.Millisecond,
	}
}

func applySyncEnv(c *SyncConfig) {
	c.Enabled = getBoolEnv("SYNC_ENABLED", c.Enabled)
	c.MaxRetries = getIntEnv("SYNC_MAX_RETRIES", c.MaxRetries)
	c.RetentionDays = getIntEnv("SYNC_RETENTION_DAYS", c.RetentionDays)
	c.InProgressRetries = getIntEnv("SYNC_IN_PROGRESS_RETRIES", c.InProgressRetries)
	c.InProgressDelay = getDurationEnv("SYNC_IN_PROGRESS_DELAY", c.InProgressDelay)
	c.AutoSyncInterval = getDurationEnv("SYNC_AUTO_INTERVAL", c.AutoSyncInterval)
}

func applyConnectivityEnv(c *ConnectivityConfig) {
	c.ProbeInterval = getDurationEnv("PROBE_INTERVAL", c.ProbeInterval)
	c.ProbeTimeout = getDurationEnv("PROBE_TIMEOUT", c.ProbeTimeout)
	c.Debounce = getDurationEnv("PROBE_DEBOUNCE", c.Debounce)
}

func applyCatalogEnv(c *CatalogConfig) {
	c.BatchSize = getIntEnv("CATALOG_BATCH_SIZE", c.BatchSize)
	c.BatchDelay = getDurationEnv("CATALOG_BATCH_DELAY", c.BatchDelay)
	c.MaxConsecutiveErrors = getIntEnv("CATALOG_MAX_ERRORS", c.MaxConsecutiveErrors)
	c.PageSize = getIntEnv("CATALOG_PAGE_SIZE", c.PageSize)
	c.SmallCatalogThreshold = getIntEnv("CATALOG_SMALL_THRESHOLD", c.SmallCatalogThreshold)
	c.StatsTimeout = getDurationEnv("CATALOG_STATS_TIMEOUT", c.StatsTimeout)
	c.IncludeVariants = getBoolEnv("CATALOG_INCLUDE_VARIANTS", c.IncludeVariants)
	if groups := os.Getenv("CATALOG_ITEM_GROUPS"); groups != "" {
		c.ItemGroups = splitList(groups)
	}
}

func applyOffersEnv(c *OffersConfig) {
	c.MaxRetries = getIntEnv("OFFERS_MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = getDurationEnv("OFFERS_RETRY_DELAY", c.RetryBaseDelay)
	c.DebounceSmall = getDurationEnv("OFFERS_DEBOUNCE_SMALL", c.DebounceSmall)
	c.DebounceMedium = getDurationEnv("OFFERS_DEBOUNCE_MEDIUM", c.DebounceMedium)
	c.DebounceLarge = getDurationEnv("OFFERS_DEBOUNCE_LARGE", c.DebounceLarge)
}

// Helper functions for environment variables

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("500ms") or bare milliseconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	var ms int
	if _, err := fmt.Sscanf(value, "%d", &ms); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
