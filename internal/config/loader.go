package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rpattn/folio/internal/db"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type ImportConfig struct {
	Concurrency    int
	MaxUploadBytes int64
	LoaderWait     time.Duration
}

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig
	Storage  string
	Database db.Config
	Import   ImportConfig
}

// Load reads config.yaml from configPath when present and applies FOLIO_*
// environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("FOLIO") // FOLIO_DATABASE_HOST, FOLIO_IMPORT_CONCURRENCY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		log.Printf("[config] no config.yaml found, using defaults and env vars")
	} else {
		log.Printf("[config] loaded %s", v.ConfigFileUsed())
	}

	cfg := Config{
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
		},
		Storage: strings.ToLower(strings.TrimSpace(v.GetString("storage.driver"))),
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Import: ImportConfig{
			Concurrency:    v.GetInt("import.concurrency"),
			MaxUploadBytes: v.GetInt64("import.max_upload_bytes"),
			LoaderWait:     v.GetDuration("import.loader_wait"),
		},
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDBConfig keeps the database-only entry point used by tooling.
func LoadDBConfig(configPath string) (db.Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return db.Config{}, err
	}
	return cfg.Database, nil
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("storage.driver", StoragePostgres)

	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)

	v.SetDefault("import.concurrency", 8)
	v.SetDefault("import.max_upload_bytes", 32<<20)
	v.SetDefault("import.loader_wait", 2*time.Millisecond)
}

func (c Config) validate() error {
	switch c.Storage {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage)
	}
	if c.Import.Concurrency <= 0 {
		return fmt.Errorf("import.concurrency must be positive, got %d", c.Import.Concurrency)
	}
	if c.Import.MaxUploadBytes <= 0 {
		return fmt.Errorf("import.max_upload_bytes must be positive, got %d", c.Import.MaxUploadBytes)
	}
	return nil
}
