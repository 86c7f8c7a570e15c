package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Redis       RedisConfig       `mapstructure:"redis"`
	AI          AIConfig          `mapstructure:"ai"`
	BlobCleanup BlobCleanupConfig `mapstructure:"blob_cleanup"`
	Tables      TablesConfig      `mapstructure:"tables"`
	Admin       AdminConfig       `mapstructure:"admin"`
	JWTSecret   string            `mapstructure:"jwt_secret"`
}

type ServerConfig struct {
	Port      int `mapstructure:"port"`
	BodyLimit int `mapstructure:"body_limit"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	LocalPath   string `mapstructure:"local_path"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres | sqlite | memory
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for the SQLite database file
}

// RedisConfig points at the role/status cache. An empty URL selects the
// in-process cache.
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type AIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type BlobCleanupConfig struct {
	Schedule    string `mapstructure:"schedule"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type TablesConfig struct {
	Dir string `mapstructure:"dir"`
}

type AdminConfig struct {
	Name     string `mapstructure:"name"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.body_limit", 20*1024*1024)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "resumes")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_path", "./uploads")
	v.SetDefault("storage.max_file_size", 10485760)
	v.SetDefault("redis.key_prefix", "resume-backend:")
	v.SetDefault("redis.ttl_seconds", 300)
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout_seconds", 60)
	v.SetDefault("blob_cleanup.schedule", "@every 5m")
	v.SetDefault("blob_cleanup.max_attempts", 5)
	v.SetDefault("admin.name", "Administrator")
	v.SetDefault("admin.email", "admin@example.com")
	v.SetDefault("admin.password", "changeme")
	v.SetDefault("jwt_secret", "changeme-secret")
}

// Load reads app.yaml (if present) with environment overrides. A .env file
// in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARN: failed to load .env: %v", err)
	}

	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Printf("WARN: app.yaml not found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
