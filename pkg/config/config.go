package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DirectoryConfig holds identity directory (admin API + token endpoint) configuration
type DirectoryConfig struct {
	BaseURL       string
	MasterRealm   string
	AdminClientID string
	AdminUser     string
	AdminPassword string
	Timeout       time.Duration
}

// ObjectStoreConfig holds S3-compatible object store configuration
type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// CacheConfig holds key-value cache configuration
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProvisioningConfig holds tenant provisioning and deletion policy
type ProvisioningConfig struct {
	DeletionGracePeriod time.Duration
	ReapInterval        time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// Config holds all configuration
type Config struct {
	ServiceName  string
	DB           DBConfig
	Server       ServerConfig
	Directory    DirectoryConfig
	ObjectStore  ObjectStoreConfig
	Cache        CacheConfig
	Provisioning ProvisioningConfig
	Log          LogConfig
	Metrics      MetricsConfig
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: serviceName,
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", serviceName),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Info),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		Directory: DirectoryConfig{
			BaseURL:       getEnv("DIRECTORY_BASE_URL", "http://localhost:8081"),
			MasterRealm:   getEnv("DIRECTORY_MASTER_REALM", "master"),
			AdminClientID: getEnv("DIRECTORY_ADMIN_CLIENT_ID", "admin-cli"),
			AdminUser:     getEnv("DIRECTORY_ADMIN_USER", "admin"),
			AdminPassword: getEnv("DIRECTORY_ADMIN_PASSWORD", "admin"),
			Timeout:       getEnvAsDuration("DIRECTORY_TIMEOUT", 5*time.Second),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        getEnv("OBJECT_STORE_ENDPOINT", "http://localhost:9000"),
			Region:          getEnv("OBJECT_STORE_REGION", "us-east-1"),
			AccessKeyID:     getEnv("OBJECT_STORE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("OBJECT_STORE_SECRET_ACCESS_KEY", ""),
			ForcePathStyle:  getEnvAsBool("OBJECT_STORE_FORCE_PATH_STYLE", true),
		},
		Cache: CacheConfig{
			Addr:     getEnv("CACHE_ADDR", "localhost:6379"),
			Password: getEnv("CACHE_PASSWORD", ""),
			DB:       getEnvAsInt("CACHE_DB", 0),
		},
		Provisioning: ProvisioningConfig{
			DeletionGracePeriod: getEnvAsDuration("TENANT_DELETION_GRACE_PERIOD", 720*time.Hour),
			ReapInterval:        getEnvAsDuration("TENANT_REAP_INTERVAL", 1*time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", serviceName),
		},
	}

	return config, nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_name", c.DB.DBName),
		zap.String("directory_base_url", c.Directory.BaseURL),
		zap.String("object_store_endpoint", c.ObjectStore.Endpoint),
		zap.String("cache_addr", c.Cache.Addr),
		zap.String("server_port", c.Server.Port),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as booleans
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
