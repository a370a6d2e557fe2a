package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	NodeEnv         string             `yaml:"node_env"`
	Port            string             `yaml:"port"`
	JWTSecret       string             `yaml:"jwt_secret"`
	OperatorPINHash string             `yaml:"operator_pin_hash"`
	Profile         string             `yaml:"profile"`
	Database        DatabaseConfig     `yaml:"database"`
	Redis           RedisConfig        `yaml:"redis"`
	Remote          RemoteConfig       `yaml:"remote"`
	Sync            SyncConfig         `yaml:"sync"`
	Connectivity    ConnectivityConfig `yaml:"connectivity"`
	Catalog         CatalogConfig      `yaml:"catalog"`
	Offers          OffersConfig       `yaml:"offers"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	DataPath string `yaml:"data_path"`
	Quiet    bool   `yaml:"quiet"`
}

// RedisConfig configures the optional shared cache for reference data.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RemoteConfig points at the order-of-record server.
type RemoteConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	APISecret       string        `yaml:"api_secret"`
	Timeout         time.Duration `yaml:"timeout"`
	PingPath        string        `yaml:"ping_path"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// Load reads .env, an optional YAML file named by POS_CONFIG_FILE, then
// environment variables. Environment always wins.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("POS_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		log.Printf("📄 Loaded configuration file %s", path)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		NodeEnv: "development",
		Port:    "3310",
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			Username: "postgres",
			Database: "eckpos",
			DataPath: "./db_data",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "eckpos:",
		},
		Remote: RemoteConfig{
			Timeout:         30 * time.Second,
			PingPath:        "/api/method/frappe.ping",
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Sync:         defaultSyncConfig(),
		Connectivity: defaultConnectivityConfig(),
		Catalog:      defaultCatalogConfig(),
		Offers:       defaultOffersConfig(),
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	cfg.NodeEnv = getEnv("NODE_ENV", cfg.NodeEnv)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.OperatorPINHash = getEnv("POS_OPERATOR_PIN_HASH", cfg.OperatorPINHash)
	cfg.Profile = getEnv("POS_PROFILE", cfg.Profile)

	cfg.Database.Host = getEnv("PG_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("PG_PORT", cfg.Database.Port)
	cfg.Database.Username = getEnv("PG_USERNAME", cfg.Database.Username)
	cfg.Database.Password = getEnv("PG_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("PG_DATABASE", cfg.Database.Database)
	cfg.Database.DataPath = getEnv("PG_EMBEDDED_PATH", cfg.Database.DataPath)
	cfg.Database.Quiet = getBoolEnv("DB_QUIET", cfg.Database.Quiet)

	cfg.Redis.Enabled = getBoolEnv("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getIntEnv("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.KeyPrefix = getEnv("REDIS_PREFIX", cfg.Redis.KeyPrefix)

	cfg.Remote.BaseURL = getEnv("POS_SERVER_URL", cfg.Remote.BaseURL)
	cfg.Remote.APIKey = getEnv("POS_API_KEY", cfg.Remote.APIKey)
	cfg.Remote.APISecret = getEnv("POS_API_SECRET", cfg.Remote.APISecret)
	cfg.Remote.Timeout = getDurationEnv("POS_SERVER_TIMEOUT", cfg.Remote.Timeout)
	cfg.Remote.PingPath = getEnv("POS_PING_PATH", cfg.Remote.PingPath)
	cfg.Remote.BreakerFailures = getIntEnv("POS_BREAKER_FAILURES", cfg.Remote.BreakerFailures)
	cfg.Remote.BreakerCooldown = getDurationEnv("POS_BREAKER_COOLDOWN", cfg.Remote.BreakerCooldown)

	applySyncEnv(&cfg.Sync)
	applyConnectivityEnv(&cfg.Connectivity)
	applyCatalogEnv(&cfg.Catalog)
	applyOffersEnv(&cfg.Offers)
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.NodeEnv == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.Catalog.BatchSize <= 0 {
		return fmt.Errorf("catalog batch size must be positive, got %d", c.Catalog.BatchSize)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync max retries must be at least 1, got %d", c.Sync.MaxRetries)
	}
	if c.Offers.MaxRetries < 1 {
		return fmt.Errorf("offer max retries must be at least 1, got %d", c.Offers.MaxRetries)
	}
	return nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
