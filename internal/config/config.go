package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is everything the server needs, read from the environment with an
// optional .env file in the working directory.
type Config struct {
	ServerAddress   string
	StorageBackend  string // memory | postgres | mongo
	PostgresDSN     string
	MongoURI        string
	MongoDatabase   string
	KafkaBrokers    []string
	AuditTopic      string
	RedisAddr       string
	JWTSecret       string
	TokenTTL        time.Duration
	DefaultCurrency string
	LogLevel        string
}

// Load reads the configuration. JWT_SECRET is the only required variable;
// everything else has a development default.
func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("STORAGE_BACKEND", "memory")
	v.SetDefault("POSTGRES_DSN", "postgres://localhost:5432/smartbank?sslmode=disable")
	v.SetDefault("MONGODB_URI", "mongodb://localhost:27017")
	v.SetDefault("DB_NAME", "smartbank")
	v.SetDefault("AUDIT_TOPIC", "audit_events")
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24)
	v.SetDefault("DEFAULT_CURRENCY", "INR")
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		ServerAddress:   v.GetString("SERVER_ADDRESS"),
		StorageBackend:  v.GetString("STORAGE_BACKEND"),
		PostgresDSN:     v.GetString("POSTGRES_DSN"),
		MongoURI:        v.GetString("MONGODB_URI"),
		MongoDatabase:   v.GetString("DB_NAME"),
		AuditTopic:      v.GetString("AUDIT_TOPIC"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		TokenTTL:        time.Duration(v.GetInt("ACCESS_TOKEN_EXPIRE_MINUTES")) * time.Minute,
		DefaultCurrency: v.GetString("DEFAULT_CURRENCY"),
		LogLevel:        v.GetString("LOG_LEVEL"),
	}

	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	switch cfg.StorageBackend {
	case "memory", "postgres", "mongo":
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	return cfg, nil
}
